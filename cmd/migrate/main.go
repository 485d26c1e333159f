package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/angelmondragon/starbuy/pkg/config"
	"github.com/angelmondragon/starbuy/pkg/db"
	"github.com/angelmondragon/starbuy/pkg/logger"
	"github.com/angelmondragon/starbuy/pkg/migrate"
)

const serviceName = "migrate"

type options struct {
	dir string
}

// source prefers an explicit directory and otherwise runs the migrations
// compiled into the binary.
func (o *options) source() migrate.Source {
	if o.dir == "" {
		return migrate.Embedded()
	}
	return migrate.FromDir(o.dir)
}

func main() {
	_ = godotenv.Load()
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Apply and author goose schema migrations",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.dir, "dir", "", "migrations directory (default: embedded migrations)")

	for _, command := range []struct{ use, short string }{
		{"up", "Apply all pending migrations"},
		{"down", "Roll back the latest migration"},
		{"status", "Print applied and pending migrations"},
	} {
		command := command
		root.AddCommand(&cobra.Command{
			Use:   command.use,
			Short: command.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDB(cmd.Context(), command.use, func(ctx context.Context, sqlDB *sql.DB, dialect string) error {
					return migrate.Run(ctx, sqlDB, dialect, opts.source(), command.use)
				})
			},
		})
	}

	root.AddCommand(&cobra.Command{
		Use:   "to <version>",
		Short: "Migrate up or down to a version (YYYYMMDDHHMMSS)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd.Context(), "to", func(ctx context.Context, sqlDB *sql.DB, dialect string) error {
				return migrate.MigrateToVersion(ctx, sqlDB, dialect, opts.source(), args[0])
			})
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "create <name>",
		Short: "Write an empty SQL migration into the source tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := opts.dir
			if dir == "" {
				dir = migrate.SourceDir
			}
			path, err := migrate.Create(dir, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "created migration:", path)
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check migration file names and goose markers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			src := opts.source()
			if err := migrate.Validate(src.FS, src.Dir); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migration validation passed")
			return nil
		},
	})
	return root
}

// withDB loads config, opens the database and hands fn the raw handle goose
// needs.
func withDB(ctx context.Context, command string, fn func(context.Context, *sql.DB, string) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logg := logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	dialect := migrate.Dialect(cfg.DB.Driver)
	ctx = logg.WithFields(ctx, map[string]any{
		"env":     cfg.App.Env,
		"cmd":     command,
		"dialect": dialect,
	})

	client, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "resource not working: database", err)
		return err
	}
	defer client.Close()
	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	logg.Info(ctx, "migrate ready")
	if err := fn(ctx, sqlDB, dialect); err != nil {
		logg.Error(ctx, "migration failed", err)
		return err
	}
	logg.Info(ctx, "migration complete")
	return nil
}
