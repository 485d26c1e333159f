package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/starbuy/internal/app"
	"github.com/angelmondragon/starbuy/internal/cli"
	"github.com/angelmondragon/starbuy/pkg/config"
	"github.com/angelmondragon/starbuy/pkg/logger"
)

const serviceName = "starbuyctl"

func main() {
	_ = godotenv.Load()

	var container *app.Container
	load := func(ctx context.Context) (*cli.Deps, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		cfg.Service.Kind = serviceName
		logg := logger.New(logger.Options{
			ServiceName: serviceName,
			Level:       logger.ParseLevel(cfg.App.LogLevel),
			Output:      os.Stderr,
		})
		container, err = app.New(ctx, cfg, logg, nil)
		if err != nil {
			return nil, err
		}
		deps := &cli.Deps{
			Policies: container.Policies,
			Ledger:   container.Ledger,
			Loop:     container.Loop,
			Items:    container.Items,
		}
		if container.Queue != nil {
			deps.Queue = container.Queue
		}
		return deps, nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := cli.NewRootCommand(load).ExecuteContext(ctx)
	stop()
	if container != nil {
		if cerr := container.Close(); cerr != nil {
			fmt.Fprintln(os.Stderr, "close:", cerr)
		}
	}
	if err != nil {
		os.Exit(1)
	}
}
