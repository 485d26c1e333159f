// Package app wires the stores, remote client and services shared by the
// worker, the bot and the operator CLI.
package app

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/angelmondragon/starbuy/internal/autobuy"
	"github.com/angelmondragon/starbuy/internal/catalog"
	"github.com/angelmondragon/starbuy/internal/ledger"
	"github.com/angelmondragon/starbuy/internal/payments"
	"github.com/angelmondragon/starbuy/internal/policies"
	"github.com/angelmondragon/starbuy/internal/purchase"
	"github.com/angelmondragon/starbuy/internal/remote"
	"github.com/angelmondragon/starbuy/pkg/config"
	"github.com/angelmondragon/starbuy/pkg/db"
	"github.com/angelmondragon/starbuy/pkg/logger"
	"github.com/angelmondragon/starbuy/pkg/metrics"
	"github.com/angelmondragon/starbuy/pkg/migrate"
	"github.com/angelmondragon/starbuy/pkg/redis"
)

const depositGuardScope = "deposit"

// Container holds every long-lived dependency. Redis and Queue are nil when no
// Redis endpoint is configured.
type Container struct {
	Config  *config.Config
	Logger  *logger.Logger
	DB      *db.Client
	Redis   *redis.Client
	BotAPI  *tgbotapi.BotAPI
	Remote  *remote.Client
	Metrics *metrics.AutobuyMetrics

	Items    catalog.Repository
	Sync     *catalog.Synchronizer
	Policies policies.Service
	Ledger   ledger.Service
	Executor *purchase.Executor
	Queue    *purchase.ReconciliationQueue
	Loop     *autobuy.Service
	Payments payments.Service
}

// New connects to the database, Redis and the Bot API and builds the services
// on top. A nil registerer disables metrics.
func New(ctx context.Context, cfg *config.Config, logg *logger.Logger, reg prometheus.Registerer) (_ *Container, err error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	c := &Container{Config: cfg, Logger: logg}
	defer func() {
		if err != nil {
			err = multierr.Append(err, c.Close())
		}
	}()

	c.DB, err = db.New(ctx, cfg.DB, logg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap database: %w", err)
	}
	if err = migrate.MaybeRunDev(ctx, cfg, logg, c.DB); err != nil {
		return nil, fmt.Errorf("dev migrations: %w", err)
	}

	if cfg.Redis.Enabled() {
		c.Redis, err = redis.New(ctx, cfg.Redis, logg)
		if err != nil {
			return nil, fmt.Errorf("bootstrap redis: %w", err)
		}
	} else {
		logg.Warn(ctx, "redis not configured; user locks are in-process and commit failures are only logged")
	}

	if cfg.Telegram.BotToken == "" {
		return nil, errors.New("telegram bot token required")
	}
	c.BotAPI, err = remote.NewBotAPI(cfg.Telegram.BotToken, cfg.Telegram.APIEndpoint, cfg.Telegram.RemoteTimeout)
	if err != nil {
		return nil, fmt.Errorf("bootstrap bot api: %w", err)
	}
	c.Remote, err = remote.NewClient(c.BotAPI, cfg.Telegram.RemoteTimeout)
	if err != nil {
		return nil, err
	}

	c.Metrics = metrics.NewAutobuyMetrics(reg)
	if err = c.buildServices(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Container) buildServices() error {
	cfg, logg := c.Config, c.Logger
	conn := c.DB.DB()

	c.Items = catalog.NewRepository(conn)
	syncer, err := catalog.NewSynchronizer(c.Remote, c.DB, c.Items, logg)
	if err != nil {
		return err
	}
	c.Sync = syncer.WithStoreTimeout(cfg.Autobuy.StoreTimeout)

	c.Policies, err = policies.NewService(policies.NewRepository(conn))
	if err != nil {
		return err
	}

	ledgerRepo := ledger.NewRepository(conn)
	var guard *ledger.IdempotencyGuard
	var locker purchase.UserLocker = purchase.NewKeyedMutex()
	var recorder purchase.FailureRecorder
	var roundLock autobuy.RoundLock
	if c.Redis != nil {
		guard, err = ledger.NewIdempotencyGuard(c.Redis, cfg.Autobuy.DepositGuardTTL, depositGuardScope)
		if err != nil {
			return err
		}
		locker, err = purchase.NewRedisUserLocker(c.Redis, cfg.Autobuy.UserLockTTL)
		if err != nil {
			return err
		}
		c.Queue, err = purchase.NewReconciliationQueue(c.Redis, cfg.Autobuy.ReconcileQueueKey)
		if err != nil {
			return err
		}
		recorder = c.Queue
		roundLock, err = autobuy.NewRedisRoundLock(c.Redis, c.Redis.LockKey("autobuy", "round"), cfg.Autobuy.RoundLockTTL)
		if err != nil {
			return err
		}
	}

	c.Ledger, err = ledger.NewService(ledger.ServiceParams{
		Repo:     ledgerRepo,
		Tx:       c.DB,
		Guard:    guard,
		Refunder: c.Remote,
		Logger:   logg,
	})
	if err != nil {
		return err
	}

	c.Executor, err = purchase.NewExecutor(purchase.ExecutorParams{
		Tx:       c.DB,
		Ledger:   ledgerRepo,
		Sender:   c.Remote,
		Locker:   locker,
		Recorder: recorder,
		Metrics:  c.Metrics,
		Logger:   logg,
		Timeout:  cfg.Telegram.RemoteTimeout * 2,
	})
	if err != nil {
		return err
	}

	c.Loop, err = autobuy.NewService(autobuy.ServiceParams{
		Logger:    logg,
		Syncer:    c.Sync,
		Items:     c.Items,
		Policies:  c.Policies,
		Balances:  c.Ledger,
		Purchaser: c.Executor,
		Metrics:   c.Metrics,
		Lock:      roundLock,
		Interval:  cfg.Autobuy.RoundInterval,

		StoreTimeout: cfg.Autobuy.StoreTimeout,
	})
	if err != nil {
		return err
	}

	c.Payments, err = payments.NewService(payments.ServiceParams{
		Repo:      payments.NewRepository(conn),
		Ledger:    c.Ledger,
		Items:     c.Items,
		Purchaser: c.Executor,
		Logger:    logg,
	})
	return err
}

// Close releases Redis and the database pool.
func (c *Container) Close() error {
	var err error
	if c.Redis != nil {
		err = multierr.Append(err, c.Redis.Close())
	}
	if c.DB != nil {
		err = multierr.Append(err, c.DB.Close())
	}
	return err
}
