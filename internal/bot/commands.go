package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/angelmondragon/starbuy/internal/payments"
	"github.com/angelmondragon/starbuy/pkg/db/models"
	"github.com/angelmondragon/starbuy/pkg/enums"
	pkgerrors "github.com/angelmondragon/starbuy/pkg/errors"
)

const (
	historyLimit = 10
	maxQuantity  = 100
)

const helpText = `Commands:
/balance - show your balance
/history - last operations
/deposit <amount> - top up with Stars
/buy <gift_id> [recipient_id] [quantity] - buy a gift
/autobuy - show auto-buy settings
/autobuy on|off
/autobuy price <min> <max>
/autobuy supply <n|off>
/autobuy cycles <n>`

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	userID := msg.From.ID
	ctx = b.logg.WithFields(b.logg.WithUserID(ctx, userID), map[string]any{"command": msg.Command()})
	args := strings.Fields(msg.CommandArguments())

	var text string
	var err error
	switch msg.Command() {
	case "start", "help":
		_, err = b.ledger.EnsureAccount(ctx, userID, msg.From.UserName)
		text = helpText
	case "balance":
		text, err = b.balance(ctx, userID)
	case "history":
		text, err = b.history(ctx, userID)
	case "deposit":
		text, err = b.deposit(ctx, msg.Chat.ID, userID, args)
	case "buy":
		text, err = b.buy(ctx, msg.Chat.ID, userID, args)
	case "autobuy":
		text, err = b.autobuy(ctx, userID, args)
	case "refund":
		text, err = b.refund(ctx, userID, args)
	default:
		text = "Unknown command. Use /help."
	}
	if err != nil {
		b.logg.Warn(b.logg.WithField(ctx, "error", err.Error()), "command failed")
		text = userMessage(err)
	}
	if text != "" {
		b.reply(ctx, msg.Chat.ID, text)
	}
}

func (b *Bot) balance(ctx context.Context, userID int64) (string, error) {
	balance, err := b.ledger.Balance(ctx, userID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Balance: %d ⭐", balance), nil
}

func (b *Bot) history(ctx context.Context, userID int64) (string, error) {
	entries, err := b.ledger.History(ctx, userID, historyLimit)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "No operations yet.", nil
	}
	var sb strings.Builder
	sb.WriteString("Last operations:\n")
	for _, e := range entries {
		fmt.Fprintf(&sb, "%s  %+d  %s", e.CreatedAt.UTC().Format("2006-01-02 15:04"), e.Amount, describeEntry(e))
		if e.Status == enums.LedgerEntryStatusRefunded {
			sb.WriteString(" (refunded)")
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func describeEntry(e models.LedgerEntry) string {
	switch e.ChargeReference {
	case models.ChargeRefAutobuy:
		return "auto-buy"
	case models.ChargeRefManual:
		return "purchase"
	default:
		return "deposit"
	}
}

func (b *Bot) deposit(ctx context.Context, chatID, userID int64, args []string) (string, error) {
	if len(args) != 1 {
		return "Usage: /deposit <amount>", nil
	}
	amount, err := parsePositive(args[0], "amount")
	if err != nil {
		return "", err
	}
	intent, err := b.payments.CreateDepositIntent(ctx, userID, amount)
	if err != nil {
		return "", err
	}
	if err := b.sendInvoice(ctx, chatID, intent, "Balance top-up", fmt.Sprintf("Top up %d ⭐", amount)); err != nil {
		return "", err
	}
	return "", nil
}

func (b *Bot) buy(ctx context.Context, chatID, userID int64, args []string) (string, error) {
	if len(args) < 1 || len(args) > 3 {
		return "Usage: /buy <gift_id> [recipient_id] [quantity]", nil
	}
	input := payments.BuyInput{PayerID: userID, RecipientID: userID, ItemID: args[0], Quantity: 1}
	if len(args) >= 2 {
		recipient, err := parsePositive(args[1], "recipient_id")
		if err != nil {
			return "", err
		}
		input.RecipientID = recipient
	}
	if len(args) == 3 {
		qty, err := parsePositive(args[2], "quantity")
		if err != nil {
			return "", err
		}
		if qty > maxQuantity {
			return "", pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("quantity must be at most %d", maxQuantity))
		}
		input.Quantity = int(qty)
	}

	result, err := b.payments.Buy(ctx, input)
	if result == nil {
		return "", err
	}
	if result.Invoice != nil {
		desc := fmt.Sprintf("%d × %s (missing %d ⭐)", input.Quantity, input.ItemID, result.Invoice.Amount)
		if err := b.sendInvoice(ctx, chatID, result.Invoice, "Gift purchase", desc); err != nil {
			return "", err
		}
		return fmt.Sprintf("Not enough balance: %d ⭐ needed, %d ⭐ available. Pay the invoice to complete the purchase.", result.Total, result.Balance), nil
	}
	text := fmt.Sprintf("Bought %d of %d. Balance: %d ⭐", result.Purchased, input.Quantity, result.Balance)
	if err != nil {
		text += "\nStopped: " + userMessage(err)
	} else if result.Purchased < input.Quantity {
		text += "\nStopped: insufficient balance"
	}
	return text, nil
}

func (b *Bot) autobuy(ctx context.Context, userID int64, args []string) (string, error) {
	var (
		policy models.Policy
		err    error
	)
	if len(args) == 0 {
		policy, err = b.policies.Get(ctx, userID)
		if err != nil {
			return "", err
		}
		return formatPolicy(policy), nil
	}

	switch args[0] {
	case "on":
		policy, err = b.policies.Enable(ctx, userID)
	case "off":
		policy, err = b.policies.Disable(ctx, userID)
	case "price":
		if len(args) != 3 {
			return "Usage: /autobuy price <min> <max>", nil
		}
		min, perr := parseNonNegative(args[1], "min")
		if perr != nil {
			return "", perr
		}
		max, perr := parseNonNegative(args[2], "max")
		if perr != nil {
			return "", perr
		}
		policy, err = b.policies.SetPriceRange(ctx, userID, min, max)
	case "supply":
		if len(args) != 2 {
			return "Usage: /autobuy supply <n|off>", nil
		}
		var ceiling *int64
		if args[1] != "off" {
			n, perr := parseNonNegative(args[1], "supply")
			if perr != nil {
				return "", perr
			}
			ceiling = &n
		}
		policy, err = b.policies.SetSupplyCeiling(ctx, userID, ceiling)
	case "cycles":
		if len(args) != 2 {
			return "Usage: /autobuy cycles <n>", nil
		}
		n, perr := parsePositive(args[1], "cycles")
		if perr != nil {
			return "", perr
		}
		policy, err = b.policies.SetCycles(ctx, userID, int(n))
	default:
		return helpText, nil
	}
	if err != nil {
		return "", err
	}
	return "Saved.\n" + formatPolicy(policy), nil
}

func formatPolicy(p models.Policy) string {
	state := "off"
	if p.Enabled {
		state = "on"
	}
	supply := "any"
	if p.SupplyCeiling != nil {
		supply = fmt.Sprintf("≤ %d", *p.SupplyCeiling)
	}
	return fmt.Sprintf("Auto-buy: %s\nPrice: %d..%d ⭐\nSupply: %s\nCycles: %d",
		state, p.PriceMin, p.PriceMax, supply, p.Cycles)
}

func (b *Bot) refund(ctx context.Context, userID int64, args []string) (string, error) {
	if !b.isAdmin(userID) {
		return "Unknown command. Use /help.", nil
	}
	if len(args) != 1 {
		return "Usage: /refund <charge_id>", nil
	}
	entry, err := b.ledger.Refund(ctx, args[0])
	if err != nil {
		return "", err
	}
	b.logg.Info(b.logg.WithField(ctx, "charge_ref", args[0]), "deposit refunded by admin")
	return fmt.Sprintf("Refunded %d ⭐ to user %d.", entry.Amount, entry.UserID), nil
}

func parsePositive(raw, field string) (int64, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, field+" must be a positive number")
	}
	return n, nil
}

func parseNonNegative(raw, field string) (int64, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, field+" must be zero or more")
	}
	return n, nil
}

// userMessage renders an error for chat. Internal failures keep their detail
// out of the reply.
func userMessage(err error) string {
	typed := pkgerrors.As(err)
	if typed == nil {
		return "Something went wrong, try again later."
	}
	switch typed.Code() {
	case pkgerrors.CodeValidation, pkgerrors.CodeNotFound, pkgerrors.CodeConflict,
		pkgerrors.CodePolicyInvalid, pkgerrors.CodeInsufficientFunds:
		if m := typed.Message(); m != "" {
			return m
		}
	}
	return pkgerrors.MetadataFor(typed.Code()).PublicMessage
}
