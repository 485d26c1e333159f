package purchase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/starbuy/internal/ledger"
	"github.com/angelmondragon/starbuy/pkg/db/dbtest"
	"github.com/angelmondragon/starbuy/pkg/db/models"
	"github.com/angelmondragon/starbuy/pkg/enums"
	pkgerrors "github.com/angelmondragon/starbuy/pkg/errors"
)

type fakeSender struct {
	mu    sync.Mutex
	calls []string
	err   error
	delay time.Duration
	// during runs inside SendItem, after the call is recorded.
	during func(ctx context.Context) error
}

func (f *fakeSender) SendItem(ctx context.Context, userID int64, itemID string) error {
	f.mu.Lock()
	f.calls = append(f.calls, itemID)
	f.mu.Unlock()
	if f.during != nil {
		if err := f.during(ctx); err != nil {
			return err
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.err
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type memoryRecorder struct {
	items []Reconciliation
}

func (m *memoryRecorder) Push(_ context.Context, item Reconciliation) error {
	m.items = append(m.items, item)
	return nil
}

// failingEntryRepo breaks the ledger append that follows a remote send.
type failingEntryRepo struct {
	ledger.Repository
}

func (f failingEntryRepo) WithTx(tx *gorm.DB) ledger.Repository {
	return failingEntryRepo{Repository: f.Repository.WithTx(tx)}
}

func (f failingEntryRepo) CreateEntry(context.Context, *models.LedgerEntry) error {
	return errors.New("disk I/O error")
}

type fixture struct {
	exec     *Executor
	repo     ledger.Repository
	sender   *fakeSender
	recorder *memoryRecorder
}

func newFixture(t *testing.T, balance int64, wrap func(ledger.Repository) ledger.Repository) fixture {
	t.Helper()
	client, conn := dbtest.Client(t)
	repo := ledger.NewRepository(conn)
	ctx := context.Background()
	require.NoError(t, repo.EnsureAccount(ctx, 1, "ann"))
	require.NoError(t, repo.AddBalance(ctx, 1, balance))

	execRepo := repo
	if wrap != nil {
		execRepo = wrap(repo)
	}
	sender := &fakeSender{}
	recorder := &memoryRecorder{}
	exec, err := NewExecutor(ExecutorParams{
		Tx:       client,
		Ledger:   execRepo,
		Sender:   sender,
		Recorder: recorder,
		Timeout:  5 * time.Second,
	})
	require.NoError(t, err)
	return fixture{exec: exec, repo: repo, sender: sender, recorder: recorder}
}

func (f fixture) balance(t *testing.T) int64 {
	t.Helper()
	account, err := f.repo.GetAccount(context.Background(), 1)
	require.NoError(t, err)
	return account.Balance
}

func (f fixture) entries(t *testing.T) []models.LedgerEntry {
	t.Helper()
	entries, err := f.repo.ListEntries(context.Background(), 1, 0)
	require.NoError(t, err)
	return entries
}

func TestExecutePurchasedDebitsExactlyOnce(t *testing.T) {
	f := newFixture(t, 100, nil)

	result, err := f.exec.Execute(context.Background(), Request{PayerID: 1, ItemID: "gift-a", Price: 100, Source: SourceAutobuy})
	require.NoError(t, err)
	assert.Equal(t, enums.PurchaseOutcomePurchased, result.Outcome)
	assert.Equal(t, int64(0), result.Balance)
	assert.Equal(t, int64(0), f.balance(t))

	entries := f.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(-100), entries[0].Amount)
	assert.Equal(t, enums.LedgerEntryStatusCompleted, entries[0].Status)
	assert.Equal(t, models.ChargeRefAutobuy, entries[0].ChargeReference)
	assert.Equal(t, result.EntryID, entries[0].ID)
}

func TestExecuteDeclinedSkipsRemote(t *testing.T) {
	f := newFixture(t, 99, nil)

	result, err := f.exec.Execute(context.Background(), Request{PayerID: 1, ItemID: "gift-a", Price: 100})
	require.NoError(t, err)
	assert.Equal(t, enums.PurchaseOutcomeDeclined, result.Outcome)
	assert.Equal(t, enums.ReasonInsufficientBalance, result.Reason)
	assert.Zero(t, f.sender.count())
	assert.Equal(t, int64(99), f.balance(t))
	assert.Empty(t, f.entries(t))
}

func TestExecuteUnknownPayerIsDeclined(t *testing.T) {
	f := newFixture(t, 0, nil)
	result, err := f.exec.Execute(context.Background(), Request{PayerID: 77, ItemID: "gift-a", Price: 1})
	require.NoError(t, err)
	assert.Equal(t, enums.PurchaseOutcomeDeclined, result.Outcome)
	assert.Zero(t, f.sender.count())
}

func TestExecuteRemoteFailureLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t, 500, nil)
	f.sender.err = errors.New("STARGIFT_USAGE_LIMITED")

	result, err := f.exec.Execute(context.Background(), Request{PayerID: 1, ItemID: "gift-a", Price: 100})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeRemoteFailure))
	assert.Equal(t, enums.PurchaseOutcomeRemoteFailure, result.Outcome)
	assert.Equal(t, int64(500), f.balance(t))
	assert.Empty(t, f.entries(t))
	assert.Empty(t, f.recorder.items)
}

func TestExecuteRemoteTimeoutIsRemoteFailure(t *testing.T) {
	f := newFixture(t, 500, nil)
	f.sender.delay = time.Second
	f.exec.timeout = 50 * time.Millisecond

	result, err := f.exec.Execute(context.Background(), Request{PayerID: 1, ItemID: "gift-a", Price: 100})
	require.Error(t, err)
	assert.Equal(t, enums.PurchaseOutcomeRemoteFailure, result.Outcome)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeRemoteFailure))
}

func TestExecuteLocalCommitFailureIsQueued(t *testing.T) {
	f := newFixture(t, 500, func(r ledger.Repository) ledger.Repository {
		return failingEntryRepo{Repository: r}
	})

	result, err := f.exec.Execute(context.Background(), Request{PayerID: 1, ItemID: "gift-a", Price: 100, Source: SourceAutobuy})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeLocalCommitFailure))
	assert.Equal(t, enums.PurchaseOutcomeLocalCommitFailure, result.Outcome)
	assert.Equal(t, 1, f.sender.count())
	assert.Equal(t, int64(500), f.balance(t), "debit rolled back with the failed entry")

	require.Len(t, f.recorder.items, 1)
	assert.Equal(t, "gift-a", f.recorder.items[0].ItemID)
	assert.Equal(t, int64(100), f.recorder.items[0].Price)
	assert.Equal(t, SourceAutobuy, f.recorder.items[0].Source)
}

func TestExecuteConcurrentAttemptsNeverOverdraw(t *testing.T) {
	f := newFixture(t, 250, nil)
	f.sender.delay = 5 * time.Millisecond

	var purchased, declined atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.exec.Execute(context.Background(), Request{PayerID: 1, ItemID: "gift-a", Price: 100})
			if err != nil {
				return
			}
			switch result.Outcome {
			case enums.PurchaseOutcomePurchased:
				purchased.Add(1)
			case enums.PurchaseOutcomeDeclined:
				declined.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(2), purchased.Load())
	assert.Equal(t, int32(8), declined.Load())
	assert.Equal(t, int64(50), f.balance(t))
	assert.Len(t, f.entries(t), 2)
	assert.Equal(t, 2, f.sender.count())
}

func TestExecuteValidation(t *testing.T) {
	f := newFixture(t, 0, nil)
	_, err := f.exec.Execute(context.Background(), Request{ItemID: "x", Price: 1})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
	_, err = f.exec.Execute(context.Background(), Request{PayerID: 1, Price: 1})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
	_, err = f.exec.Execute(context.Background(), Request{PayerID: 1, ItemID: "x", Price: -1})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestExecuteManualForRecipient(t *testing.T) {
	f := newFixture(t, 100, nil)
	result, err := f.exec.Execute(context.Background(), Request{PayerID: 1, RecipientID: 2, ItemID: "gift-a", Price: 40, Source: SourceManual})
	require.NoError(t, err)
	assert.Equal(t, enums.PurchaseOutcomePurchased, result.Outcome)
	entries := f.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, models.ChargeRefManual, entries[0].ChargeReference)
	assert.Contains(t, entries[0].Memo, "for 2")
}

func TestExecuteSendLeavesDatabaseFreeOnSQLite(t *testing.T) {
	f := newFixture(t, 100, nil)
	require.NoError(t, f.repo.EnsureAccount(context.Background(), 2, "bob"))

	var readErr error
	f.sender.during = func(context.Context) error {
		readCtx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()
		_, readErr = f.repo.GetAccount(readCtx, 2)
		return nil
	}

	result, err := f.exec.Execute(context.Background(), Request{PayerID: 1, ItemID: "gift-a", Price: 60, Source: SourceAutobuy})
	require.NoError(t, err)
	require.NoError(t, readErr, "another user's read must not wait on the purchase")
	assert.Equal(t, enums.PurchaseOutcomePurchased, result.Outcome)
	assert.Equal(t, int64(40), f.balance(t))
	assert.Len(t, f.entries(t), 1)
}

func TestExecuteBalanceSpentDuringSendIsCommitFailure(t *testing.T) {
	f := newFixture(t, 100, nil)
	f.sender.during = func(ctx context.Context) error {
		ok, err := f.repo.DebitBalance(ctx, 1, 80)
		require.NoError(t, err)
		require.True(t, ok)
		return nil
	}

	result, err := f.exec.Execute(context.Background(), Request{PayerID: 1, ItemID: "gift-a", Price: 60, Source: SourceAutobuy})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeLocalCommitFailure))
	assert.Equal(t, enums.PurchaseOutcomeLocalCommitFailure, result.Outcome)
	assert.Equal(t, int64(20), f.balance(t), "balance never goes below zero")
	assert.Empty(t, f.entries(t))
	require.Len(t, f.recorder.items, 1)
}
