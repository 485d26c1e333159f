package bot

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/angelmondragon/starbuy/internal/payments"
	"github.com/angelmondragon/starbuy/pkg/db/models"
	pkgerrors "github.com/angelmondragon/starbuy/pkg/errors"
)

// sendInvoice issues a Stars invoice whose payload is the intent id.
func (b *Bot) sendInvoice(ctx context.Context, chatID int64, intent *models.PaymentIntent, title, description string) error {
	invoice := tgbotapi.NewInvoice(
		chatID,
		title,
		description,
		intent.ID.String(),
		"",
		"",
		payments.Currency,
		[]tgbotapi.LabeledPrice{{Label: title, Amount: int(intent.Amount)}},
	)
	invoice.SuggestedTipAmounts = []int{}
	if _, err := b.api.Send(invoice); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeRemoteFailure, err, "send invoice")
	}
	b.logg.Info(b.logg.WithFields(ctx, map[string]any{
		"intent_id": intent.ID.String(),
		"amount":    intent.Amount,
	}), "invoice sent")
	return nil
}

func (b *Bot) handlePreCheckout(ctx context.Context, q *tgbotapi.PreCheckoutQuery) {
	if q.From == nil {
		return
	}
	ctx = b.logg.WithUserID(ctx, q.From.ID)
	answer := tgbotapi.PreCheckoutConfig{PreCheckoutQueryID: q.ID, OK: true}
	if q.Currency != payments.Currency {
		answer.OK = false
		answer.ErrorMessage = "Only Stars are accepted."
	} else if err := b.payments.ValidatePreCheckout(ctx, q.InvoicePayload, q.From.ID, int64(q.TotalAmount)); err != nil {
		b.logg.Warn(b.logg.WithField(ctx, "error", err.Error()), "pre-checkout rejected")
		answer.OK = false
		answer.ErrorMessage = "This invoice is no longer valid."
	}
	if _, err := b.api.Request(answer); err != nil {
		b.logg.Error(ctx, "answer pre-checkout failed", err)
	}
}

func (b *Bot) handleSuccessfulPayment(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	sp := msg.SuccessfulPayment
	ctx = b.logg.WithFields(b.logg.WithUserID(ctx, msg.From.ID), map[string]any{
		"charge_ref": sp.TelegramPaymentChargeID,
		"amount":     sp.TotalAmount,
	})

	outcome, err := b.payments.HandleSuccessfulPayment(ctx, payments.SuccessfulPayment{
		PayerID:  msg.From.ID,
		Username: msg.From.UserName,
		Payload:  sp.InvoicePayload,
		Currency: sp.Currency,
		Amount:   int64(sp.TotalAmount),
		ChargeID: sp.TelegramPaymentChargeID,
	})
	if outcome == nil && pkgerrors.HasCode(err, pkgerrors.CodeIdempotency) {
		b.logg.Warn(ctx, "payment confirmation already in flight")
		return
	}
	if outcome == nil {
		// The payment was taken but nothing was credited; an operator has to
		// settle it from the charge id.
		b.logg.Critical(ctx, "successful payment not credited", err)
		b.reply(ctx, msg.Chat.ID, fmt.Sprintf("Payment received but could not be applied. Reference: %s", sp.TelegramPaymentChargeID))
		return
	}
	if outcome.Duplicate {
		return
	}

	text := fmt.Sprintf("Received %d ⭐. Balance: %d ⭐", sp.TotalAmount, outcome.Credit.Balance)
	if p := outcome.Purchase; p != nil {
		text = fmt.Sprintf("Received %d ⭐. Bought %d of %d. Balance: %d ⭐",
			sp.TotalAmount, p.Purchased, outcome.Intent.Quantity, p.Balance)
	}
	if err != nil {
		b.logg.Error(ctx, "purchase after payment failed", err)
		text += "\nStopped: " + userMessage(err)
	}
	b.reply(ctx, msg.Chat.ID, text)
}
