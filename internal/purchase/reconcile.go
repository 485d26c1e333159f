package purchase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/starbuy/pkg/redis"
)

const defaultQueueKey = "reconcile:pending"

// Reconciliation records a purchase the remote side completed but the local
// ledger did not. An operator settles it by hand.
type Reconciliation struct {
	UserID     int64     `json:"user_id"`
	ItemID     string    `json:"item_id"`
	Price      int64     `json:"price"`
	Source     Source    `json:"source"`
	Error      string    `json:"error"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ReconciliationQueue is a durable append-only list in Redis.
type ReconciliationQueue struct {
	store redis.ListStore
	key   string
}

func NewReconciliationQueue(store redis.ListStore, key string) (*ReconciliationQueue, error) {
	if store == nil {
		return nil, errors.New("redis list store required")
	}
	if key == "" {
		key = defaultQueueKey
	}
	return &ReconciliationQueue{store: store, key: store.Key(key)}, nil
}

func (q *ReconciliationQueue) Push(ctx context.Context, item Reconciliation) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal reconciliation: %w", err)
	}
	return q.store.RPush(ctx, q.key, string(payload))
}

// List returns up to limit pending records, oldest first. limit <= 0 means all.
func (q *ReconciliationQueue) List(ctx context.Context, limit int) ([]Reconciliation, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	raw, err := q.store.LRange(ctx, q.key, 0, stop)
	if err != nil {
		return nil, fmt.Errorf("read reconciliation queue: %w", err)
	}
	out := make([]Reconciliation, 0, len(raw))
	for _, entry := range raw {
		var item Reconciliation
		if err := json.Unmarshal([]byte(entry), &item); err != nil {
			return nil, fmt.Errorf("decode reconciliation: %w", err)
		}
		out = append(out, item)
	}
	return out, nil
}

func (q *ReconciliationQueue) Len(ctx context.Context) (int64, error) {
	return q.store.LLen(ctx, q.key)
}
