package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/starbuy/internal/remote"
	"github.com/angelmondragon/starbuy/pkg/db/dbtest"
	"github.com/angelmondragon/starbuy/pkg/db/models"
	pkgerrors "github.com/angelmondragon/starbuy/pkg/errors"
)

type fakeFetcher struct {
	gifts []remote.Gift
	err   error
	calls int
}

func (f *fakeFetcher) FetchAvailableItems(context.Context) ([]remote.Gift, error) {
	f.calls++
	return f.gifts, f.err
}

func ptr(v int64) *int64 { return &v }

func gift(id string, price int64, total *int64) remote.Gift {
	return remote.Gift{ID: id, StarCount: ptr(price), TotalCount: total}
}

func newSynchronizer(t *testing.T, fetcher Fetcher) (*Synchronizer, Repository) {
	t.Helper()
	client, conn := dbtest.Client(t)
	repo := NewRepository(conn)
	sync, err := NewSynchronizer(fetcher, client, repo, nil)
	require.NoError(t, err)
	return sync, repo
}

func newIDs(t *testing.T, repo Repository) []string {
	t.Helper()
	items, err := repo.ListNew(context.Background())
	require.NoError(t, err)
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ItemID)
	}
	return ids
}

func TestSyncInsertsUnknownItemsAsNew(t *testing.T) {
	fetcher := &fakeFetcher{gifts: []remote.Gift{gift("b", 50, nil), gift("a", 100, ptr(500))}}
	sync, repo := newSynchronizer(t, fetcher)

	result, err := sync.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Inserted: 2}, result)
	assert.Equal(t, []string{"a", "b"}, newIDs(t, repo))

	item, err := repo.Get(context.Background(), "a")
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, int64(100), item.Price)
	require.NotNil(t, item.TotalSupply)
	assert.Equal(t, int64(500), *item.TotalSupply)
	assert.Nil(t, item.RemainingSupply)
}

func TestSyncUnchangedDoesNotRearm(t *testing.T) {
	ctx := context.Background()
	fetcher := &fakeFetcher{gifts: []remote.Gift{gift("a", 100, nil)}}
	sync, repo := newSynchronizer(t, fetcher)

	_, err := sync.Sync(ctx)
	require.NoError(t, err)
	cleared, err := repo.ClearNew(ctx, []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), cleared)

	result, err := sync.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Unchanged: 1}, result)
	assert.Empty(t, newIDs(t, repo))
}

func TestSyncChangedListingRearms(t *testing.T) {
	ctx := context.Background()
	fetcher := &fakeFetcher{gifts: []remote.Gift{{ID: "a", StarCount: ptr(100), RemainingCount: ptr(10), TotalCount: ptr(20)}}}
	sync, repo := newSynchronizer(t, fetcher)

	_, err := sync.Sync(ctx)
	require.NoError(t, err)
	_, err = repo.ClearNew(ctx, []string{"a"})
	require.NoError(t, err)

	fetcher.gifts = []remote.Gift{{ID: "a", StarCount: ptr(100), TotalCount: ptr(20)}}
	result, err := sync.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Updated: 1}, result)
	assert.Equal(t, []string{"a"}, newIDs(t, repo))

	item, err := repo.Get(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, item.RemainingSupply)
}

func TestSyncFetchFailureLeavesStoreUntouched(t *testing.T) {
	ctx := context.Background()
	fetcher := &fakeFetcher{gifts: []remote.Gift{gift("a", 100, nil)}}
	sync, repo := newSynchronizer(t, fetcher)
	_, err := sync.Sync(ctx)
	require.NoError(t, err)

	fetcher.gifts = nil
	fetcher.err = errors.New("dial tcp: i/o timeout")
	_, err = sync.Sync(ctx)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeRemoteUnavailable))

	items, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "a", items[0].ItemID)
}

func TestClearNewIsIdempotent(t *testing.T) {
	ctx := context.Background()
	_, conn := dbtest.Client(t)
	repo := NewRepository(conn)
	require.NoError(t, repo.Insert(ctx, &models.Item{ItemID: "a", Price: 1, IsNew: true}))

	n, err := repo.ClearNew(ctx, []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = repo.ClearNew(ctx, []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	missing, err := repo.Get(ctx, "zzz")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestNewSynchronizerValidation(t *testing.T) {
	_, err := NewSynchronizer(nil, nil, nil, nil)
	require.Error(t, err)
}

type stalledTx struct{}

func (stalledTx) WithTx(ctx context.Context, _ func(tx *gorm.DB) error) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestSyncGivesUpOnStalledStore(t *testing.T) {
	fetcher := &fakeFetcher{gifts: []remote.Gift{gift("a", 10, nil)}}
	_, conn := dbtest.Client(t)
	sync, err := NewSynchronizer(fetcher, stalledTx{}, NewRepository(conn), nil)
	require.NoError(t, err)
	sync.WithStoreTimeout(30 * time.Millisecond)

	start := time.Now()
	_, err = sync.Sync(context.Background())
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeDependency))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}
