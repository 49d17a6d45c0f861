// Package cache keeps forecast results in Redis for a short TTL. A stock
// change invalidates the product's entry.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"stockboard/internal/domain"
	"stockboard/internal/eventbus"
	applog "stockboard/internal/log"
	"stockboard/internal/store"
)

const keyPrefix = "stockboard:forecast:"

// ForecastCache is safe to use as a nil pointer; every method is then a miss
// or a no-op.
type ForecastCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// New connects to addr. An empty addr disables the cache and returns nil.
func New(ctx context.Context, addr, password string, db int, ttl time.Duration) (*ForecastCache, error) {
	if addr == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	applog.Logger.Info().Str("addr", addr).Dur("ttl", ttl).Msg("forecast cache connected")
	return NewWithClient(rdb, ttl), nil
}

func NewWithClient(rdb *redis.Client, ttl time.Duration) *ForecastCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &ForecastCache{rdb: rdb, ttl: ttl}
}

func key(sku string) string { return keyPrefix + sku }

func (c *ForecastCache) Get(ctx context.Context, sku string) (domain.Forecast, bool) {
	if c == nil {
		return domain.Forecast{}, false
	}
	b, err := c.rdb.Get(ctx, key(sku)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			applog.WithContext(ctx).Warn().Err(err).Str("sku", sku).Msg("forecast cache read failed")
		}
		return domain.Forecast{}, false
	}
	var f domain.Forecast
	if err := json.Unmarshal(b, &f); err != nil {
		return domain.Forecast{}, false
	}
	return f, true
}

func (c *ForecastCache) Set(ctx context.Context, f domain.Forecast) {
	if c == nil {
		return
	}
	b, err := json.Marshal(f)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key(f.SKU), b, c.ttl).Err(); err != nil {
		applog.WithContext(ctx).Warn().Err(err).Str("sku", f.SKU).Msg("forecast cache write failed")
	}
}

func (c *ForecastCache) Invalidate(ctx context.Context, sku string) {
	if c == nil {
		return
	}
	if err := c.rdb.Del(ctx, key(sku)).Err(); err != nil {
		applog.WithContext(ctx).Warn().Err(err).Str("sku", sku).Msg("forecast cache invalidate failed")
	}
}

func (c *ForecastCache) Close() error {
	if c == nil {
		return nil
	}
	return c.rdb.Close()
}

// Invalidator drops cached forecasts for every stock change on events until
// the bus closes it.
func (c *ForecastCache) Invalidator(ctx context.Context, events <-chan eventbus.Event) {
	for ev := range events {
		if ev.Name == eventbus.StockChanged {
			c.Invalidate(ctx, ev.Notification.SKU)
		}
	}
}

// CachingAPI serves forecasts from the cache and passes everything else
// through. Writes that change stock or delete a product invalidate the entry.
type CachingAPI struct {
	store.API
	Cache *ForecastCache
}

func (a CachingAPI) Forecast(ctx context.Context, sku string) (domain.Forecast, error) {
	if f, ok := a.Cache.Get(ctx, sku); ok {
		return f, nil
	}
	f, err := a.API.Forecast(ctx, sku)
	if err != nil {
		return f, err
	}
	a.Cache.Set(ctx, f)
	return f, nil
}

func (a CachingAPI) CreateMovement(ctx context.Context, in domain.MovementInput) (domain.Product, error) {
	p, err := a.API.CreateMovement(ctx, in)
	if err == nil {
		a.Cache.Invalidate(ctx, in.SKU)
	}
	return p, err
}

func (a CachingAPI) DeleteProduct(ctx context.Context, sku string) error {
	err := a.API.DeleteProduct(ctx, sku)
	a.Cache.Invalidate(ctx, sku)
	return err
}
