package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisclient "github.com/angelmondragon/supermarket-backend/pkg/redis"
)

func setupTestCache(t *testing.T, ttl, jitter time.Duration) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	raw := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = raw.Close() })
	return NewCache(redisclient.NewFromRaw(raw), ttl, jitter), mr
}

func TestCacheProductRoundTrip(t *testing.T) {
	cache, mr := setupTestCache(t, time.Minute, 30*time.Second)
	ctx := context.Background()

	dto := &ProductDTO{ID: uuid.New(), Name: "Tea", Price: decimal.RequireFromString("3.49"), AvailableQuantity: 8}
	require.NoError(t, cache.SetProduct(ctx, dto))

	key := "sm:catalog:product:" + dto.ID.String()
	require.True(t, mr.Exists(key))
	ttl := mr.TTL(key)
	assert.GreaterOrEqual(t, ttl, time.Minute)
	assert.Less(t, ttl, time.Minute+30*time.Second)

	got, err := cache.GetProduct(ctx, dto.ID)
	require.NoError(t, err)
	assert.Equal(t, dto.Name, got.Name)
	assert.True(t, dto.Price.Equal(got.Price))
	assert.Equal(t, 8, got.AvailableQuantity)
}

func TestCacheMissAndCorruptEntry(t *testing.T) {
	cache, mr := setupTestCache(t, time.Minute, 0)
	ctx := context.Background()
	id := uuid.New()

	_, err := cache.GetProduct(ctx, id)
	require.ErrorIs(t, err, ErrCacheMiss)

	key := "sm:catalog:product:" + id.String()
	require.NoError(t, mr.Set(key, "{not json"))
	_, err = cache.GetProduct(ctx, id)
	require.ErrorIs(t, err, ErrCacheMiss)
	assert.False(t, mr.Exists(key))
}

func TestCacheInvalidateDropsProductsAndListing(t *testing.T) {
	cache, mr := setupTestCache(t, time.Minute, 0)
	ctx := context.Background()

	a := &ProductDTO{ID: uuid.New(), Name: "A", Price: decimal.NewFromInt(1)}
	b := &ProductDTO{ID: uuid.New(), Name: "B", Price: decimal.NewFromInt(2)}
	require.NoError(t, cache.SetProduct(ctx, a))
	require.NoError(t, cache.SetProduct(ctx, b))
	require.NoError(t, cache.SetFirstPage(ctx, &ProductPage{Items: []ProductDTO{*a, *b}}))

	require.NoError(t, cache.Invalidate(ctx, a.ID))

	assert.False(t, mr.Exists("sm:catalog:product:"+a.ID.String()))
	assert.True(t, mr.Exists("sm:catalog:product:"+b.ID.String()))
	assert.False(t, mr.Exists("sm:catalog:list:active"))
}

func TestNilCacheAlwaysMisses(t *testing.T) {
	var cache *Cache
	ctx := context.Background()

	_, err := cache.GetProduct(ctx, uuid.New())
	require.ErrorIs(t, err, ErrCacheMiss)
	require.NoError(t, cache.SetProduct(ctx, &ProductDTO{ID: uuid.New()}))
	require.NoError(t, cache.Invalidate(ctx, uuid.New()))

	_, err = cache.GetFirstPage(ctx)
	require.ErrorIs(t, err, ErrCacheMiss)
	require.NoError(t, cache.SetFirstPage(ctx, &ProductPage{}))

	storeless := NewCache(nil, time.Minute, 0)
	_, err = storeless.GetProduct(ctx, uuid.New())
	require.ErrorIs(t, err, ErrCacheMiss)
	_, err = storeless.GetFirstPage(ctx)
	require.ErrorIs(t, err, ErrCacheMiss)
	require.NoError(t, storeless.SetProduct(ctx, &ProductDTO{ID: uuid.New()}))
	require.NoError(t, storeless.Invalidate(ctx, uuid.New()))
}
