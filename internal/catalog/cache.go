package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	redisclient "github.com/angelmondragon/supermarket-backend/pkg/redis"
)

// ErrCacheMiss reports that a key is absent or unreadable.
var ErrCacheMiss = errors.New("catalog cache miss")

const firstPageVariant = "active"

type cacheStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// Cache keeps serialized catalog reads in Redis with a jittered TTL. It never
// backs stock decisions; reservations always go to the database.
type Cache struct {
	store  cacheStore
	ttl    time.Duration
	jitter time.Duration
}

// NewCache builds a cache. A nil store yields a cache that always misses.
func NewCache(store cacheStore, ttl, jitter time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Cache{store: store, ttl: ttl, jitter: jitter}
}

var _ cacheStore = (*redisclient.Client)(nil)

func (c *Cache) enabled() bool {
	return c != nil && c.store != nil
}

func (c *Cache) expiry() time.Duration {
	if c.jitter <= 0 {
		return c.ttl
	}
	return c.ttl + rand.N(c.jitter)
}

// GetProduct returns the cached product or ErrCacheMiss.
func (c *Cache) GetProduct(ctx context.Context, id uuid.UUID) (*ProductDTO, error) {
	if !c.enabled() {
		return nil, ErrCacheMiss
	}
	var dto ProductDTO
	if err := c.get(ctx, c.productKey(id), &dto); err != nil {
		return nil, err
	}
	return &dto, nil
}

// SetProduct stores a product.
func (c *Cache) SetProduct(ctx context.Context, dto *ProductDTO) error {
	if dto == nil || !c.enabled() {
		return nil
	}
	return c.set(ctx, c.productKey(dto.ID), dto)
}

// GetFirstPage returns the cached first page of the shopper listing.
func (c *Cache) GetFirstPage(ctx context.Context) (*ProductPage, error) {
	if !c.enabled() {
		return nil, ErrCacheMiss
	}
	var page ProductPage
	if err := c.get(ctx, c.listKey(), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// SetFirstPage stores the first page of the shopper listing.
func (c *Cache) SetFirstPage(ctx context.Context, page *ProductPage) error {
	if page == nil || !c.enabled() {
		return nil
	}
	return c.set(ctx, c.listKey(), page)
}

// Invalidate drops the cached entries of every given product along with the
// cached listing, whose stock figures would otherwise go stale.
func (c *Cache) Invalidate(ctx context.Context, ids ...uuid.UUID) error {
	if !c.enabled() {
		return nil
	}
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, c.productKey(id))
	}
	keys = append(keys, c.listKey())
	if err := c.store.Del(ctx, keys...); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func (c *Cache) get(ctx context.Context, key string, dest any) error {
	if !c.enabled() {
		return ErrCacheMiss
	}
	raw, err := c.store.Get(ctx, key)
	if redisclient.IsNil(err) {
		return ErrCacheMiss
	}
	if err != nil {
		return fmt.Errorf("redis get failed: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		_ = c.store.Del(ctx, key)
		return ErrCacheMiss
	}
	return nil
}

func (c *Cache) set(ctx context.Context, key string, value any) error {
	if !c.enabled() {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal catalog entry: %w", err)
	}
	if err := c.store.Set(ctx, key, string(payload), c.expiry()); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (*Cache) productKey(id uuid.UUID) string {
	return redisclient.ProductKey(id.String())
}

func (*Cache) listKey() string {
	return redisclient.CatalogPageKey(firstPageVariant)
}
