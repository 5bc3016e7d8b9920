package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/linemk/reseller-shop/internal/domain/models"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, ttl time.Duration) (*OrderCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewOrderCache(rdb, ttl), mr
}

func TestOrderCache_RoundTripKeepsMoney(t *testing.T) {
	c, mr := newTestCache(t, time.Minute)
	ctx := context.Background()

	order := &models.Order{
		ID:          5,
		ResellerID:  1,
		Items:       []models.OrderItem{{ProductID: 7, Quantity: 2, UnitPrice: decimal.RequireFromString("99.95")}},
		TotalAmount: decimal.RequireFromString("199.90"),
		Status:      models.StatusPaymentConfirmed,
		Version:     1,
	}
	require.NoError(t, c.Set(ctx, order))
	assert.Equal(t, time.Minute, mr.TTL("order:5"))

	got, ok, err := c.Get(ctx, 5)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.TotalAmount.Equal(order.TotalAmount))
	assert.True(t, got.Items[0].UnitPrice.Equal(decimal.RequireFromString("99.95")))
	assert.Equal(t, models.StatusPaymentConfirmed, got.Status)
}

func TestOrderCache_MissAndInvalidate(t *testing.T) {
	c, mr := newTestCache(t, 0)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, &models.Order{ID: 1, Version: 1}))
	assert.Equal(t, DefaultOrderTTL, mr.TTL("order:1"))

	require.NoError(t, c.Invalidate(ctx, &models.Order{ID: 1, Version: 2}))
	_, ok, err = c.Get(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, DefaultOrderTTL, mr.TTL("order:1:floor"))
}

// чтение загрузило версию 1, затем переход закоммитил версию 2 и сбросил кеш,
// и только после этого чтение пытается положить свою версию
func TestOrderCache_StaleFillAfterInvalidateIsIgnored(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)
	ctx := context.Background()

	loaded := &models.Order{ID: 9, Version: 1, Status: models.StatusPaymentVerificationPending}
	require.NoError(t, c.Invalidate(ctx, &models.Order{ID: 9, Version: 2}))
	require.NoError(t, c.Set(ctx, loaded))

	_, ok, err := c.Get(ctx, 9)
	require.NoError(t, err)
	assert.False(t, ok, "stale version must not be cached")

	fresh := &models.Order{ID: 9, Version: 2, Status: models.StatusPaymentConfirmed}
	require.NoError(t, c.Set(ctx, fresh))
	got, ok, err := c.Get(ctx, 9)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.StatusPaymentConfirmed, got.Status)
}

func TestOrderCache_FloorNeverMovesBack(t *testing.T) {
	c, mr := newTestCache(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Invalidate(ctx, &models.Order{ID: 4, Version: 3}))
	require.NoError(t, c.Invalidate(ctx, &models.Order{ID: 4, Version: 2}))

	floor, err := mr.Get("order:4:floor")
	require.NoError(t, err)
	assert.Equal(t, "3", floor)

	require.NoError(t, c.Set(ctx, &models.Order{ID: 4, Version: 2}))
	assert.False(t, mr.Exists("order:4"))
}

func TestOrderCache_Errors(t *testing.T) {
	c, mr := newTestCache(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, mr.Set("order:3", "{not json"))
	_, ok, err := c.Get(ctx, 3)
	assert.Error(t, err)
	assert.False(t, ok)

	mr.SetError("ERR connection refused")
	_, _, err = c.Get(ctx, 3)
	assert.Error(t, err)
	assert.Error(t, c.Set(ctx, &models.Order{ID: 3}))
	assert.Error(t, c.Invalidate(ctx, &models.Order{ID: 3, Version: 2}))
}
