package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	redisclient "github.com/angelmondragon/supermarket-backend/pkg/redis"
)

// Lock is a single exclusive lease on a named key.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Store is the slice of the redis client a lease needs.
type Store interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
}

var _ Store = (*redisclient.Client)(nil)

// RedisLock is a SETNX lease with an owner token, so a holder whose TTL ran
// out never deletes the next holder's lease.
type RedisLock struct {
	store Store
	key   string
	ttl   time.Duration
	owner string
}

// NewRedisLock constructs a lease on key. ttl must be positive.
func NewRedisLock(store Store, key string, ttl time.Duration) (*RedisLock, error) {
	if store == nil {
		return nil, errors.New("redis store required for lock")
	}
	if key == "" {
		return nil, errors.New("lock key is required")
	}
	if ttl <= 0 {
		return nil, errors.New("lock ttl must be positive")
	}
	return &RedisLock{store: store, key: key, ttl: ttl}, nil
}

// Key returns the redis key guarded by the lease.
func (l *RedisLock) Key() string { return l.key }

func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	owner := uuid.NewString()
	ok, err := l.store.SetNX(ctx, l.key, owner, l.ttl)
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", l.key, err)
	}
	if ok {
		l.owner = owner
	}
	return ok, nil
}

// Release deletes the key only while this lease still owns it.
func (l *RedisLock) Release(ctx context.Context) error {
	if l.owner == "" {
		return nil
	}
	value, err := l.store.Get(ctx, l.key)
	if err != nil {
		if redisclient.IsNil(err) {
			l.owner = ""
			return nil
		}
		return fmt.Errorf("read lock owner: %w", err)
	}
	if value != l.owner {
		l.owner = ""
		return nil
	}
	if err := l.store.Del(ctx, l.key); err != nil {
		return fmt.Errorf("delete lock: %w", err)
	}
	l.owner = ""
	return nil
}

// Factory hands out leases on keys derived from a name.
type Factory interface {
	New(name string) (Lock, error)
}

// RedisFactory builds RedisLock leases under the client's lock namespace.
type RedisFactory struct {
	client *redisclient.Client
	ttl    time.Duration
}

// NewRedisFactory returns a factory whose leases expire after ttl.
func NewRedisFactory(client *redisclient.Client, ttl time.Duration) *RedisFactory {
	return &RedisFactory{client: client, ttl: ttl}
}

func (f *RedisFactory) New(name string) (Lock, error) {
	if f == nil || f.client == nil {
		return nil, errors.New("redis client required for lock")
	}
	return NewRedisLock(f.client, redisclient.LockKey(name), f.ttl)
}
