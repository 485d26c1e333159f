// Package bot is the Telegram command surface: balance, deposits, manual
// purchases, auto-buy settings and payment confirmations. Every purchase goes
// through the same executor the auto-buy loop uses.
package bot

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/angelmondragon/starbuy/internal/ledger"
	"github.com/angelmondragon/starbuy/internal/payments"
	"github.com/angelmondragon/starbuy/internal/policies"
	"github.com/angelmondragon/starbuy/pkg/logger"
)

const updateTimeout = 60

// API is the part of *tgbotapi.BotAPI the handlers use.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// UpdateSource delivers updates by long polling.
type UpdateSource interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Params configure the bot.
type Params struct {
	API      API
	Ledger   ledger.Service
	Policies policies.Service
	Payments payments.Service
	IsAdmin  func(userID int64) bool
	Logger   *logger.Logger
}

// Bot dispatches updates to command and payment handlers.
type Bot struct {
	api      API
	ledger   ledger.Service
	policies policies.Service
	payments payments.Service
	isAdmin  func(int64) bool
	logg     *logger.Logger
}

func New(params Params) (*Bot, error) {
	if params.API == nil {
		return nil, errors.New("bot api required")
	}
	if params.Ledger == nil {
		return nil, errors.New("ledger service required")
	}
	if params.Policies == nil {
		return nil, errors.New("policy service required")
	}
	if params.Payments == nil {
		return nil, errors.New("payments service required")
	}
	isAdmin := params.IsAdmin
	if isAdmin == nil {
		isAdmin = func(int64) bool { return false }
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Bot{
		api:      params.API,
		ledger:   params.Ledger,
		policies: params.Policies,
		payments: params.Payments,
		isAdmin:  isAdmin,
		logg:     logg,
	}, nil
}

// Run polls for updates until ctx is canceled. Updates are handled one at a
// time, in arrival order.
func (b *Bot) Run(ctx context.Context, source UpdateSource) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = updateTimeout
	cfg.AllowedUpdates = []string{"message", "pre_checkout_query"}
	updates := source.GetUpdatesChan(cfg)
	defer source.StopReceivingUpdates()

	b.logg.Info(ctx, "bot polling started")
	for {
		select {
		case <-ctx.Done():
			b.logg.Info(ctx, "bot polling stopped")
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.safeHandle(ctx, update)
		}
	}
}

func (b *Bot) safeHandle(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.logg.Error(ctx, "bot update panicked", fmt.Errorf("panic: %v", r))
		}
	}()
	b.HandleUpdate(ctx, update)
}

// HandleUpdate routes a single update.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	ctx = b.logg.WithField(ctx, "update_id", update.UpdateID)
	switch {
	case update.PreCheckoutQuery != nil:
		b.handlePreCheckout(ctx, update.PreCheckoutQuery)
	case update.Message != nil && update.Message.SuccessfulPayment != nil:
		b.handleSuccessfulPayment(ctx, update.Message)
	case update.Message != nil && update.Message.IsCommand():
		b.handleCommand(ctx, update.Message)
	case update.Message != nil:
		b.reply(ctx, update.Message.Chat.ID, "Use /help to see the commands.")
	}
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.logg.Error(ctx, "send reply failed", err)
	}
}
