package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/starbuy/internal/app"
	"github.com/angelmondragon/starbuy/internal/bot"
	"github.com/angelmondragon/starbuy/pkg/config"
	"github.com/angelmondragon/starbuy/pkg/logger"
)

const serviceName = "bot"

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceName})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = serviceName

	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	// Metrics are served by the worker; the bot does not register collectors.
	container, err := app.New(context.Background(), cfg, logg, nil)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap services", err)
		os.Exit(1)
	}
	defer func() {
		if err := container.Close(); err != nil {
			logg.Error(context.Background(), "error closing connections", err)
		}
	}()

	b, err := bot.New(bot.Params{
		API:      container.BotAPI,
		Ledger:   container.Ledger,
		Policies: container.Policies,
		Payments: container.Payments,
		IsAdmin:  cfg.Telegram.IsAdmin,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create bot", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"bot":         container.BotAPI.Self.UserName,
	})
	logg.Info(ctx, "starting bot")

	if err := b.Run(ctx, container.BotAPI); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "bot stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "bot shutting down gracefully")
}
