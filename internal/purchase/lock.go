package purchase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/starbuy/pkg/redis"
)

const (
	defaultLockTTL      = time.Minute
	defaultLockPollStep = 50 * time.Millisecond
	lockScope           = "purchase:user"
)

// UserLocker serializes purchase attempts per user. Different users never
// contend.
type UserLocker interface {
	Lock(ctx context.Context, userID int64) (unlock func(), err error)
}

// KeyedMutex is an in-process UserLocker.
type KeyedMutex struct {
	mu    sync.Mutex
	slots map[int64]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{slots: make(map[int64]*slot)}
}

// Lock blocks until the user's slot is free or ctx is done.
func (m *KeyedMutex) Lock(ctx context.Context, userID int64) (func(), error) {
	m.mu.Lock()
	s, ok := m.slots[userID]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		m.slots[userID] = s
	}
	s.refs++
	m.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-s.ch
				m.release(userID, s)
			})
		}, nil
	case <-ctx.Done():
		m.release(userID, s)
		return nil, ctx.Err()
	}
}

func (m *KeyedMutex) release(userID int64, s *slot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(m.slots, userID)
	}
}

// RedisUserLocker holds a per-user owner-token lock in Redis so the bot and
// the worker process serialize on the same user. It layers on a KeyedMutex so
// goroutines in one process do not spin on Redis.
type RedisUserLocker struct {
	store redis.LockStore
	local *KeyedMutex
	ttl   time.Duration
	poll  time.Duration
}

func NewRedisUserLocker(store redis.LockStore, ttl time.Duration) (*RedisUserLocker, error) {
	if store == nil {
		return nil, errors.New("redis client required for lock")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisUserLocker{store: store, local: NewKeyedMutex(), ttl: ttl, poll: defaultLockPollStep}, nil
}

func (l *RedisUserLocker) Lock(ctx context.Context, userID int64) (func(), error) {
	unlockLocal, err := l.local.Lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	key := l.store.LockKey(lockScope, strconv.FormatInt(userID, 10))
	owner := uuid.NewString()

	for {
		ok, err := l.store.SetNX(ctx, key, owner, l.ttl)
		if err != nil {
			unlockLocal()
			return nil, fmt.Errorf("setnx: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			unlockLocal()
			return nil, ctx.Err()
		case <-time.After(l.poll):
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The purchase may have outlived the caller's context.
			l.release(context.Background(), key, owner)
			unlockLocal()
		})
	}, nil
}

// release frees the lock only if the owner value still matches.
func (l *RedisUserLocker) release(ctx context.Context, key, owner string) {
	value, err := l.store.Get(ctx, key)
	if err != nil || value != owner {
		return
	}
	_ = l.store.Del(ctx, key)
}
