package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/starbuy/internal/autobuy"
	"github.com/angelmondragon/starbuy/internal/catalog"
	"github.com/angelmondragon/starbuy/internal/ledger"
	"github.com/angelmondragon/starbuy/internal/policies"
	"github.com/angelmondragon/starbuy/internal/purchase"
	"github.com/angelmondragon/starbuy/pkg/db/dbtest"
	"github.com/angelmondragon/starbuy/pkg/db/models"
	"github.com/angelmondragon/starbuy/pkg/enums"
)

type stubLedger struct {
	ledger.Service
	refunds []string
}

func (s *stubLedger) Balance(context.Context, int64) (int64, error) { return 420, nil }

func (s *stubLedger) History(context.Context, int64, int) ([]models.LedgerEntry, error) {
	return []models.LedgerEntry{{UserID: 5, Amount: 420, ChargeReference: "ch_1", Status: enums.LedgerEntryStatusCompleted}}, nil
}

func (s *stubLedger) Refund(_ context.Context, chargeRef string) (*models.LedgerEntry, error) {
	s.refunds = append(s.refunds, chargeRef)
	return &models.LedgerEntry{UserID: 5, Amount: 420, ChargeReference: chargeRef, Status: enums.LedgerEntryStatusRefunded}, nil
}

type stubLoop struct {
	report autobuy.RoundReport
	err    error
	items  []models.Item
}

func (s *stubLoop) RunRound(context.Context) (autobuy.RoundReport, error) { return s.report, s.err }

func (s *stubLoop) EligibleNewItems(context.Context, models.Policy) ([]models.Item, error) {
	return s.items, nil
}

type stubQueue struct{ items []purchase.Reconciliation }

func (q stubQueue) List(context.Context, int) ([]purchase.Reconciliation, error) { return q.items, nil }

func (q stubQueue) Len(context.Context) (int64, error) { return int64(len(q.items)), nil }

type fixture struct {
	deps   *Deps
	ledger *stubLedger
	loop   *stubLoop
	loads  int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	pol, err := policies.NewService(policies.NewRepository(conn))
	require.NoError(t, err)
	f := &fixture{ledger: &stubLedger{}, loop: &stubLoop{}}
	f.deps = &Deps{
		Policies: pol,
		Ledger:   f.ledger,
		Loop:     f.loop,
		Items:    catalog.NewRepository(conn),
	}
	return f
}

func (f *fixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand(func(context.Context) (*Deps, error) {
		f.loads++
		return f.deps, nil
	})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand(nil)
	for _, name := range []string{"round", "policy", "balance", "ledger", "reconcile", "catalog"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestInvalidFormatRejectedBeforeLoading(t *testing.T) {
	f := newFixture(t)
	_, err := f.run(t, "--format", "yaml", "balance", "5")
	require.Error(t, err)
	assert.Equal(t, 0, f.loads)
}

func TestPolicySetAndGet(t *testing.T) {
	f := newFixture(t)
	_, err := f.run(t, "policy", "set", "5", "--enabled", "--price-min", "10", "--price-max", "300", "--supply", "1000", "--cycles", "2")
	require.NoError(t, err)

	out, err := f.run(t, "--format", "json", "policy", "get", "5")
	require.NoError(t, err)
	var view policyView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.True(t, view.Enabled)
	assert.EqualValues(t, 10, view.PriceMin)
	assert.EqualValues(t, 300, view.PriceMax)
	require.NotNil(t, view.SupplyCeiling)
	assert.EqualValues(t, 1000, *view.SupplyCeiling)
	assert.Equal(t, 2, view.Cycles)

	_, err = f.run(t, "policy", "set", "5", "--supply=-1")
	require.NoError(t, err)
	out, err = f.run(t, "--format", "json", "policy", "get", "5")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Nil(t, view.SupplyCeiling)
	assert.True(t, view.Enabled)
}

func TestPolicySetRejectsInvertedRange(t *testing.T) {
	f := newFixture(t)
	_, err := f.run(t, "policy", "set", "5", "--price-min", "500", "--price-max", "100")
	require.Error(t, err)
}

func TestPolicyRejectsBadUserID(t *testing.T) {
	f := newFixture(t)
	_, err := f.run(t, "policy", "get", "nope")
	require.Error(t, err)
	assert.Equal(t, 0, f.loads)
}

func TestPolicyPreview(t *testing.T) {
	f := newFixture(t)
	f.loop.items = []models.Item{{ItemID: "gift-1", Price: 50, IsNew: true}}
	out, err := f.run(t, "policy", "preview", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "gift-1")
}

func TestBalance(t *testing.T) {
	f := newFixture(t)
	out, err := f.run(t, "balance", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "420")
	assert.Contains(t, out, "ch_1")
}

func TestLedgerRefund(t *testing.T) {
	f := newFixture(t)
	out, err := f.run(t, "ledger", "refund", "ch_1")
	require.NoError(t, err)
	assert.Equal(t, []string{"ch_1"}, f.ledger.refunds)
	assert.Contains(t, out, "ch_1")
}

func TestRoundPrintsReportAndReturnsError(t *testing.T) {
	f := newFixture(t)
	f.loop.report = autobuy.RoundReport{ID: "r-1", NewItems: 3, Purchased: 2, Cleared: 3}
	out, err := f.run(t, "--format", "json", "round")
	require.NoError(t, err)
	var report autobuy.RoundReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 2, report.Purchased)

	f.loop.err = errors.New("user 5: lock account")
	_, err = f.run(t, "round")
	require.Error(t, err)
}

func TestReconcileList(t *testing.T) {
	f := newFixture(t)
	_, err := f.run(t, "reconcile", "list")
	require.Error(t, err)

	f.deps.Queue = stubQueue{items: []purchase.Reconciliation{{UserID: 5, ItemID: "gift-1", Price: 50, Source: purchase.SourceAutobuy}}}
	out, err := f.run(t, "reconcile", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "gift-1")
}

func TestCatalogList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	repo := f.deps.Items.(catalog.Repository)
	require.NoError(t, repo.Insert(ctx, &models.Item{ItemID: "old", Price: 10, IsNew: false}))
	require.NoError(t, repo.Insert(ctx, &models.Item{ItemID: "fresh", Price: 20, IsNew: true}))

	out, err := f.run(t, "catalog", "--new")
	require.NoError(t, err)
	assert.Contains(t, out, "fresh")
	assert.NotContains(t, out, "old")
}
