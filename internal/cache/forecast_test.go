package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"stockboard/internal/apiclient"
	"stockboard/internal/domain"
	"stockboard/internal/eventbus"
	"stockboard/internal/fakeapi"
)

func TestDisabledCachePassesThrough(t *testing.T) {
	backend := fakeapi.Start(t)
	backend.Seed(domain.Product{SKU: "A", Name: "A", Quantity: 5, Threshold: 1})

	c, err := New(context.Background(), "", "", 0, time.Minute)
	if err != nil || c != nil {
		t.Fatalf("empty addr should disable the cache, got %v %v", c, err)
	}
	api := CachingAPI{API: apiclient.New(backend.URL(), time.Second), Cache: c}
	for i := 0; i < 2; i++ {
		if _, err := api.Forecast(context.Background(), "A"); err != nil {
			t.Fatal(err)
		}
	}
	if got := backend.Hits("GET /produtos/previsao/{sku}"); got != 2 {
		t.Fatalf("without a cache every call reaches the backend, got %d", got)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
}

// Needs a real Redis; set REDIS_ADDR to run it.
func TestRedisCacheAndInvalidation(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	c, err := New(ctx, addr, "", 0, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	backend := fakeapi.Start(t)
	sku := "CACHE-" + time.Now().Format("150405.000000")
	backend.Seed(domain.Product{SKU: sku, Name: "C", Quantity: 5, Threshold: 1})
	c.Invalidate(ctx, sku)

	api := CachingAPI{API: apiclient.New(backend.URL(), time.Second), Cache: c}
	for i := 0; i < 3; i++ {
		f, err := api.Forecast(ctx, sku)
		if err != nil || f.SKU != sku {
			t.Fatalf("forecast: %+v %v", f, err)
		}
	}
	if got := backend.Hits("GET /produtos/previsao/{sku}"); got != 1 {
		t.Fatalf("want one backend call, got %d", got)
	}

	events := make(chan eventbus.Event, 1)
	events <- eventbus.Event{Name: eventbus.StockChanged, Notification: domain.StockChanged(sku, 2)}
	close(events)
	c.Invalidator(ctx, events)

	if _, ok := c.Get(ctx, sku); ok {
		t.Fatal("stock change should invalidate the cached forecast")
	}
}
