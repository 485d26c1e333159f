package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/starbuy/api/routes"
	"github.com/angelmondragon/starbuy/internal/app"
	"github.com/angelmondragon/starbuy/pkg/config"
	"github.com/angelmondragon/starbuy/pkg/logger"
)

const (
	serviceName     = "autobuy-worker"
	shutdownTimeout = 15 * time.Second
)

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

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	container, err := app.New(context.Background(), cfg, logg, registry)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap services", err)
		os.Exit(1)
	}
	defer func() {
		if err := container.Close(); err != nil {
			logg.Error(context.Background(), "error closing connections", err)
		}
	}()

	deps := routes.Dependencies{
		Config:   cfg,
		Logger:   logg,
		DB:       container.DB,
		Gatherer: registry,
		Policies: container.Policies,
		Ledger:   container.Ledger,
		Loop:     container.Loop,
	}
	if container.Redis != nil {
		deps.Redis = container.Redis
	}
	if container.Queue != nil {
		deps.Queue = container.Queue
	}

	server := &http.Server{
		Addr:              ":" + cfg.App.OpsPort,
		Handler:           routes.NewRouter(deps),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"interval":    cfg.Autobuy.RoundInterval.String(),
		"addr":        server.Addr,
	})
	logg.Info(ctx, "starting auto-buy worker")

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return container.Loop.Run(gctx)
	})
	group.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "auto-buy worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "auto-buy worker shutting down gracefully")
}
