package autobuy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultRoundLockTTL = 2 * time.Minute

// RoundLock keeps a single worker replica inside a round at a time.
type RoundLock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type lockStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
}

// RedisRoundLock implements RoundLock with SETNX and an owner token. The TTL
// bounds how long a crashed replica can hold rounds hostage.
type RedisRoundLock struct {
	client lockStore
	key    string
	ttl    time.Duration
	owner  string
}

func NewRedisRoundLock(client lockStore, key string, ttl time.Duration) (*RedisRoundLock, error) {
	if client == nil {
		return nil, errors.New("redis client required for round lock")
	}
	if key == "" {
		return nil, errors.New("round lock key is required")
	}
	if ttl <= 0 {
		ttl = defaultRoundLockTTL
	}
	return &RedisRoundLock{client: client, key: key, ttl: ttl}, nil
}

// Acquire tries to own the round for the configured TTL.
func (l *RedisRoundLock) Acquire(ctx context.Context) (bool, error) {
	owner := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, owner, l.ttl)
	if err != nil {
		return false, fmt.Errorf("setnx: %w", err)
	}
	if ok {
		l.owner = owner
	}
	return ok, nil
}

// Release frees the lock only while this replica still owns it.
func (l *RedisRoundLock) Release(ctx context.Context) error {
	if l.owner == "" {
		return nil
	}
	defer func() { l.owner = "" }()
	value, err := l.client.Get(ctx, l.key)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("read round lock owner: %w", err)
	}
	if value != l.owner {
		return nil
	}
	if err := l.client.Del(ctx, l.key); err != nil {
		return fmt.Errorf("delete round lock: %w", err)
	}
	return nil
}
