package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/starbuy/pkg/redis"
)

// IdempotencyGuard marks payment charge ids as seen using SETNX with a TTL.
type IdempotencyGuard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	scope string
}

func NewIdempotencyGuard(store redis.IdempotencyStore, ttl time.Duration, scope string) (*IdempotencyGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	if scope == "" {
		return nil, errors.New("scope is required")
	}
	return &IdempotencyGuard{store: store, ttl: ttl, scope: scope}, nil
}

// CheckAndMark returns true if chargeRef was already marked.
func (g *IdempotencyGuard) CheckAndMark(ctx context.Context, chargeRef string) (bool, error) {
	if chargeRef == "" {
		return false, errors.New("charge reference is required")
	}
	set, err := g.store.SetNX(ctx, g.store.IdempotencyKey(g.scope, chargeRef), "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("set idempotency key: %w", err)
	}
	return !set, nil
}

func (g *IdempotencyGuard) Delete(ctx context.Context, chargeRef string) error {
	if chargeRef == "" {
		return errors.New("charge reference is required")
	}
	return g.store.Del(ctx, g.store.IdempotencyKey(g.scope, chargeRef))
}
