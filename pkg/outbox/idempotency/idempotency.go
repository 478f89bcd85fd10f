// Package idempotency remembers which outbox rows a relay has already
// appended to the event stream. A row whose database commit is lost after the
// append is claimed again on the next pass and skipped instead of duplicated.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/supermarket-backend/pkg/redis"
)

// Store is the subset of the redis client a ledger writes through.
type Store interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
}

// Ledger records the deliveries of a single relay.
type Ledger struct {
	store Store
	relay string
	ttl   time.Duration
}

// NewLedger keeps delivery marks for ttl. A zero ttl keeps them forever.
func NewLedger(store Store, relay string, ttl time.Duration) (*Ledger, error) {
	switch {
	case store == nil:
		return nil, errors.New("ledger store is required")
	case relay == "":
		return nil, errors.New("relay name is required")
	case ttl < 0:
		return nil, errors.New("ledger ttl must not be negative")
	}
	return &Ledger{store: store, relay: relay, ttl: ttl}, nil
}

// Claim marks the row as delivered. It returns false when an earlier pass
// already claimed it.
func (l *Ledger) Claim(ctx context.Context, eventID uuid.UUID) (bool, error) {
	if eventID == uuid.Nil {
		return false, errors.New("event id is required")
	}
	return l.store.SetNX(ctx, redis.DeliveredKey(l.relay, eventID.String()), time.Now().UTC().Format(time.RFC3339), l.ttl)
}

// Release drops a claim whose append failed so the retry can append.
func (l *Ledger) Release(ctx context.Context, eventID uuid.UUID) error {
	if eventID == uuid.Nil {
		return errors.New("event id is required")
	}
	return l.store.Del(ctx, redis.DeliveredKey(l.relay, eventID.String()))
}
