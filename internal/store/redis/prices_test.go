package redis

import (
	"context"
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

func TestParsePrices(t *testing.T) {
	keys := []string{"BTC", "ETH", "SOL", "ADA", "DOT"}
	vals := []interface{}{"95000.5", nil, "abc", "0", "-3"}

	got := parsePrices(keys, vals)
	if len(got) != 1 || got["BTC"] != 95000.5 {
		t.Errorf("got %v, want only BTC", got)
	}
}

func TestPriceCache_UnreachableTripsBreaker(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 200 * time.Millisecond,
	})
	defer client.Close()
	cache := NewPriceCacheWithClient(client, NewCircuitBreaker(2, time.Minute))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		snap, err := cache.Snapshot(ctx, []string{"BTC"})
		if err == nil {
			t.Fatal("expected connection error")
		}
		if len(snap) != 0 {
			t.Errorf("expected empty snapshot, got %v", snap)
		}
	}

	snap, err := cache.Snapshot(ctx, []string{"BTC"})
	if err != ErrCircuitOpen {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if snap == nil || len(snap) != 0 {
		t.Errorf("expected non-nil empty snapshot, got %v", snap)
	}

	if err := cache.SetPrices(ctx, map[string]float64{"BTC": 1}, time.Now()); err != ErrCircuitOpen {
		t.Errorf("expected ErrCircuitOpen on write, got %v", err)
	}
}

func TestPriceCache_EmptyInputsSkipRedis(t *testing.T) {
	cache := NewPriceCacheWithClient(goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1"}), NewCircuitBreaker(1, time.Minute))
	defer cache.Close()

	snap, err := cache.Snapshot(context.Background(), nil)
	if err != nil || len(snap) != 0 {
		t.Fatalf("got %v %v", snap, err)
	}
	if err := cache.SetPrices(context.Background(), nil, time.Now()); err != nil {
		t.Fatalf("set: %v", err)
	}
	if cache.Breaker().CurrentState() != StateClosed {
		t.Error("breaker must stay closed")
	}
}
