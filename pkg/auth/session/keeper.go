// Package session tracks which access tokens are still live. Each access
// token's jti owns one Redis entry holding a digest of the refresh token that
// may rotate it, so logging out or rotating deletes the entry and the old
// access token stops passing the auth middleware immediately.
package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/supermarket-backend/pkg/config"
	"github.com/angelmondragon/supermarket-backend/pkg/redis"
)

var ErrInvalidRefreshToken = errors.New("invalid refresh token")

// Store is the part of the redis client sessions are kept in.
type Store interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
}

// AccessSessionChecker is what the auth middleware asks on every request.
type AccessSessionChecker interface {
	HasSession(ctx context.Context, accessID string) (bool, error)
}

type entry struct {
	RefreshDigest string    `json:"refresh_digest"`
	OpenedAt      time.Time `json:"opened_at"`
}

// Keeper opens, rotates and revokes sessions.
type Keeper struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

// NewKeeper keeps sessions for the refresh token lifetime, which must outlive
// the access token it renews.
func NewKeeper(store Store, cfg config.JWTConfig) (*Keeper, error) {
	if store == nil {
		return nil, errors.New("session store is required")
	}
	ttl := cfg.RefreshTokenTTL()
	access := time.Duration(cfg.ExpirationMinutes) * time.Minute
	if ttl <= access {
		return nil, fmt.Errorf("refresh token ttl %s must exceed access token ttl %s", ttl, access)
	}
	return &Keeper{store: store, ttl: ttl, now: time.Now}, nil
}

// NewAccessID returns a fresh jti.
func NewAccessID() string {
	return uuid.NewString()
}

// Open registers accessID and returns the refresh token bound to it.
func (k *Keeper) Open(ctx context.Context, accessID string) (string, error) {
	if strings.TrimSpace(accessID) == "" {
		return "", errors.New("access id is required")
	}
	refresh, err := newRefreshToken()
	if err != nil {
		return "", err
	}
	if err := k.put(ctx, accessID, refresh); err != nil {
		return "", err
	}
	return refresh, nil
}

// Rotate trades a refresh token for a new access id and refresh token. The
// old session is gone once Rotate returns, whether or not the caller uses the
// new pair.
func (k *Keeper) Rotate(ctx context.Context, oldAccessID, refresh string) (string, string, error) {
	if strings.TrimSpace(oldAccessID) == "" || refresh == "" {
		return "", "", ErrInvalidRefreshToken
	}
	current, err := k.lookup(ctx, oldAccessID)
	if err != nil {
		return "", "", err
	}
	if current == nil || subtle.ConstantTimeCompare([]byte(current.RefreshDigest), []byte(digest(refresh))) != 1 {
		return "", "", ErrInvalidRefreshToken
	}
	if err := k.store.Del(ctx, redis.SessionKey(oldAccessID)); err != nil {
		return "", "", fmt.Errorf("close session: %w", err)
	}

	nextID := NewAccessID()
	nextRefresh, err := k.Open(ctx, nextID)
	if err != nil {
		return "", "", err
	}
	return nextID, nextRefresh, nil
}

// Revoke ends the session; revoking an unknown id is not an error.
func (k *Keeper) Revoke(ctx context.Context, accessID string) error {
	if strings.TrimSpace(accessID) == "" {
		return errors.New("access id is required")
	}
	return k.store.Del(ctx, redis.SessionKey(accessID))
}

func (k *Keeper) HasSession(ctx context.Context, accessID string) (bool, error) {
	if strings.TrimSpace(accessID) == "" {
		return false, nil
	}
	current, err := k.lookup(ctx, accessID)
	if err != nil {
		return false, err
	}
	return current != nil, nil
}

func (k *Keeper) put(ctx context.Context, accessID, refresh string) error {
	raw, err := json.Marshal(entry{RefreshDigest: digest(refresh), OpenedAt: k.now().UTC()})
	if err != nil {
		return err
	}
	if err := k.store.Set(ctx, redis.SessionKey(accessID), string(raw), k.ttl); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

// lookup returns nil for a missing or unreadable entry.
func (k *Keeper) lookup(ctx context.Context, accessID string) (*entry, error) {
	raw, err := k.store.Get(ctx, redis.SessionKey(accessID))
	if redis.IsNil(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	var e entry
	if json.Unmarshal([]byte(raw), &e) != nil || e.RefreshDigest == "" {
		return nil, nil
	}
	return &e, nil
}

func newRefreshToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func digest(refresh string) string {
	sum := sha256.Sum256([]byte(refresh))
	return hex.EncodeToString(sum[:])
}
