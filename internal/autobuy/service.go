package autobuy

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/starbuy/internal/catalog"
	"github.com/angelmondragon/starbuy/internal/eligibility"
	"github.com/angelmondragon/starbuy/internal/policies"
	"github.com/angelmondragon/starbuy/internal/purchase"
	"github.com/angelmondragon/starbuy/pkg/db/models"
	"github.com/angelmondragon/starbuy/pkg/enums"
	"github.com/angelmondragon/starbuy/pkg/logger"
	"github.com/angelmondragon/starbuy/pkg/metrics"
)

const (
	defaultInterval      = 3 * time.Second
	defaultStoreTimeout  = 5 * time.Second
	defaultSettleTimeout = 10 * time.Second
)

// Syncer refreshes the catalog from the marketplace.
type Syncer interface {
	Sync(ctx context.Context) (catalog.SyncResult, error)
}

// ItemStore exposes the new-item set.
type ItemStore interface {
	ListNew(ctx context.Context) ([]models.Item, error)
	ClearNew(ctx context.Context, ids []string) (int64, error)
}

// PolicySource lists enabled policies in a stable order.
type PolicySource interface {
	ListEnabled(ctx context.Context) ([]models.Policy, error)
}

// BalanceReader returns a user's current balance.
type BalanceReader interface {
	Balance(ctx context.Context, userID int64) (int64, error)
}

// Purchaser runs one purchase attempt.
type Purchaser interface {
	Execute(ctx context.Context, req purchase.Request) (purchase.Result, error)
}

// ServiceParams configure the reconciliation loop.
type ServiceParams struct {
	Logger    *logger.Logger
	Syncer    Syncer
	Items     ItemStore
	Policies  PolicySource
	Balances  BalanceReader
	Purchaser Purchaser
	Metrics   *metrics.AutobuyMetrics
	Lock      RoundLock
	Interval  time.Duration

	// StoreTimeout bounds each catalog, policy and balance read of a round.
	StoreTimeout time.Duration
}

// Service drives Sync -> Evaluate -> Settle rounds on a fixed interval.
type Service struct {
	logg      *logger.Logger
	syncer    Syncer
	items     ItemStore
	policies  PolicySource
	balances  BalanceReader
	purchaser Purchaser
	metrics   *metrics.AutobuyMetrics
	lock      RoundLock
	interval  time.Duration
	storeTTL  time.Duration

	roundMu sync.Mutex
	phase   atomic.Value
}

// NewService builds the reconciliation loop.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Syncer == nil {
		return nil, fmt.Errorf("catalog syncer required")
	}
	if params.Items == nil {
		return nil, fmt.Errorf("item store required")
	}
	if params.Policies == nil {
		return nil, fmt.Errorf("policy source required")
	}
	if params.Balances == nil {
		return nil, fmt.Errorf("balance reader required")
	}
	if params.Purchaser == nil {
		return nil, fmt.Errorf("purchaser required")
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	storeTTL := params.StoreTimeout
	if storeTTL <= 0 {
		storeTTL = defaultStoreTimeout
	}
	s := &Service{
		logg:      params.Logger,
		syncer:    params.Syncer,
		items:     params.Items,
		policies:  params.Policies,
		balances:  params.Balances,
		purchaser: params.Purchaser,
		metrics:   params.Metrics,
		lock:      params.Lock,
		interval:  interval,
		storeTTL:  storeTTL,
	}
	s.setPhase(enums.RoundPhaseIdle)
	return s, nil
}

// Phase reports where the loop currently is.
func (s *Service) Phase() enums.RoundPhase {
	return s.phase.Load().(enums.RoundPhase)
}

func (s *Service) setPhase(phase enums.RoundPhase) {
	s.phase.Store(phase)
}

func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTTL)
}

func (s *Service) listNew(ctx context.Context) ([]models.Item, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.items.ListNew(ctx)
}

func (s *Service) listEnabled(ctx context.Context) ([]models.Policy, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.policies.ListEnabled(ctx)
}

func (s *Service) balance(ctx context.Context, userID int64) (int64, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.balances.Balance(ctx, userID)
}

// Run executes rounds until ctx is canceled. The full interval is slept after
// every round, failed or not, so errors never tighten the loop. A round in
// progress at cancellation still settles before Run returns.
func (s *Service) Run(ctx context.Context) error {
	s.logg.Info(ctx, fmt.Sprintf("auto-buy loop started (interval %s)", s.interval))
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "auto-buy loop stopped")
			return ctx.Err()
		case <-timer.C:
			s.safeRound(ctx)
			timer.Reset(s.interval)
		}
	}
}

func (s *Service) safeRound(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.setPhase(enums.RoundPhaseIdle)
			s.logg.Error(ctx, "auto-buy round panicked", fmt.Errorf("panic: %v", r))
		}
	}()
	if _, err := s.RunRound(ctx); err != nil {
		s.logg.Error(ctx, "auto-buy round failed", err)
	}
}

// RoundReport summarizes one round. Aborted is set when the round stopped
// before evaluation; Skipped when another replica held the round lock.
type RoundReport struct {
	ID              string             `json:"id"`
	Sync            catalog.SyncResult `json:"sync"`
	NewItems        int                `json:"new_items"`
	Policies        int                `json:"policies"`
	InvalidPolicies int                `json:"invalid_policies"`
	Purchased       int                `json:"purchased"`
	Declined        int                `json:"declined"`
	RemoteFailures  int                `json:"remote_failures"`
	CommitFailures  int                `json:"commit_failures"`
	Cleared         int64              `json:"cleared"`
	Aborted         bool               `json:"aborted"`
	Skipped         bool               `json:"skipped"`
}

// RunRound performs exactly one Sync -> Evaluate -> Settle pass. A sync
// failure, or a failure to load the new items or the enabled policies, aborts
// the round and leaves every new flag set for the next round. Once policies
// are loaded the set is settled even if ctx is canceled midway. Per-user
// errors are combined in the returned error; they never stop other users.
func (s *Service) RunRound(ctx context.Context) (RoundReport, error) {
	s.roundMu.Lock()
	defer s.roundMu.Unlock()
	defer s.setPhase(enums.RoundPhaseIdle)

	report := RoundReport{ID: uuid.NewString()}
	ctx = s.logg.WithRound(ctx, report.ID)
	start := time.Now()

	if s.lock != nil {
		locked, err := s.lock.Acquire(ctx)
		if err != nil {
			report.Aborted = true
			s.metrics.ObserveRound("error", time.Since(start))
			return report, fmt.Errorf("acquire round lock: %w", err)
		}
		if !locked {
			report.Skipped = true
			s.logg.Debug(ctx, "round lock held by another replica; skipping")
			s.metrics.ObserveRound("skipped", time.Since(start))
			return report, nil
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultSettleTimeout)
			defer cancel()
			if err := s.lock.Release(releaseCtx); err != nil {
				s.logg.Error(ctx, "failed to release round lock", err)
			}
		}()
	}

	s.setPhase(enums.RoundPhaseSyncing)
	synced, err := s.syncer.Sync(ctx)
	if err != nil {
		report.Aborted = true
		s.metrics.ObserveRound("remote_unavailable", time.Since(start))
		return report, fmt.Errorf("sync catalog: %w", err)
	}
	report.Sync = synced
	s.metrics.AddSyncChanges(synced.Inserted, synced.Updated)

	s.setPhase(enums.RoundPhaseEvaluating)
	newItems, err := s.listNew(ctx)
	if err != nil {
		report.Aborted = true
		s.metrics.ObserveRound("error", time.Since(start))
		return report, fmt.Errorf("load new items: %w", err)
	}
	report.NewItems = len(newItems)
	s.metrics.SetNewItems(len(newItems))
	if len(newItems) == 0 {
		s.metrics.ObserveRound("ok", time.Since(start))
		return report, nil
	}

	enabled, err := s.listEnabled(ctx)
	if err != nil {
		report.Aborted = true
		s.metrics.ObserveRound("error", time.Since(start))
		return report, fmt.Errorf("load policies: %w", err)
	}
	report.Policies = len(enabled)

	var roundErr error
	for _, policy := range enabled {
		if ctx.Err() != nil {
			break
		}
		if err := s.evaluatePolicy(ctx, policy, newItems, &report); err != nil {
			roundErr = multierr.Append(roundErr, fmt.Errorf("user %d: %w", policy.UserID, err))
		}
	}

	s.setPhase(enums.RoundPhaseSettling)
	cleared, err := s.settle(ctx, newItems)
	report.Cleared = cleared
	if err != nil {
		roundErr = multierr.Append(roundErr, fmt.Errorf("settle: %w", err))
	}

	outcome := "ok"
	if roundErr != nil {
		outcome = "error"
	}
	s.metrics.ObserveRound(outcome, time.Since(start))
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"new_items":       report.NewItems,
		"policies":        report.Policies,
		"purchased":       report.Purchased,
		"declined":        report.Declined,
		"remote_failures": report.RemoteFailures,
		"duration_ms":     time.Since(start).Milliseconds(),
	}), "auto-buy round complete")
	return report, roundErr
}

// settle clears exactly the set fixed at round start, on a context that
// survives shutdown.
func (s *Service) settle(ctx context.Context, items []models.Item) (int64, error) {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ItemID)
	}
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultSettleTimeout)
	defer cancel()
	return s.items.ClearNew(settleCtx, ids)
}

// evaluatePolicy runs the policy's cycles over the new items. The balance is
// tracked from each purchase result; the executor re-reads it regardless. A
// commit failure stops this user for the round.
func (s *Service) evaluatePolicy(ctx context.Context, policy models.Policy, items []models.Item, report *RoundReport) error {
	ctx = s.logg.WithUserID(ctx, policy.UserID)
	if err := policies.Validate(policy); err != nil {
		report.InvalidPolicies++
		s.logg.Warn(ctx, fmt.Sprintf("skipping invalid policy: %v", err))
		return nil
	}
	balance, err := s.balance(ctx, policy.UserID)
	if err != nil {
		return fmt.Errorf("read balance: %w", err)
	}

	for cycle := 1; cycle <= policy.Cycles; cycle++ {
		for _, item := range items {
			if ctx.Err() != nil {
				return nil
			}
			if !eligibility.Evaluate(item, policy, balance).Eligible {
				continue
			}
			result, err := s.purchaser.Execute(ctx, purchase.Request{
				PayerID: policy.UserID,
				ItemID:  item.ItemID,
				Price:   item.Price,
				Source:  purchase.SourceAutobuy,
			})
			switch result.Outcome {
			case enums.PurchaseOutcomePurchased:
				report.Purchased++
				balance = result.Balance
			case enums.PurchaseOutcomeDeclined:
				report.Declined++
				balance = result.Balance
			case enums.PurchaseOutcomeRemoteFailure:
				report.RemoteFailures++
			case enums.PurchaseOutcomeLocalCommitFailure:
				report.CommitFailures++
				return err
			default:
				if err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// EligibleNewItems previews what the next evaluation would buy for policy at
// the user's current balance. It reads only.
func (s *Service) EligibleNewItems(ctx context.Context, policy models.Policy) ([]models.Item, error) {
	items, err := s.listNew(ctx)
	if err != nil {
		return nil, fmt.Errorf("load new items: %w", err)
	}
	balance, err := s.balance(ctx, policy.UserID)
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}
	out := make([]models.Item, 0, len(items))
	for _, item := range items {
		if eligibility.Evaluate(item, policy, balance).Eligible {
			out = append(out, item)
		}
	}
	return out, nil
}
