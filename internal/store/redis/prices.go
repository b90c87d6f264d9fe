package redis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"cryptodash/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	pricesKey        = "prices"
	pricesUpdatedKey = "prices:updated_at"
)

// PriceCacheConfig configures the Redis price cache.
type PriceCacheConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int

	MaxFailures  int           // consecutive failures before the breaker opens
	ResetTimeout time.Duration // time before a half-open probe
}

// PriceCache keeps the latest price per base symbol in a Redis hash. Every
// call goes through a circuit breaker so a dead Redis degrades reports to
// "no prices" quickly instead of stalling them.
type PriceCache struct {
	client  *goredis.Client
	breaker *CircuitBreaker
}

// NewPriceCache connects to Redis and pings the server.
func NewPriceCache(cfg PriceCacheConfig) (*PriceCache, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 10 * time.Second
	}

	log.Printf("[redis] price cache connected to %s", cfg.Addr)
	return NewPriceCacheWithClient(client, NewCircuitBreaker(cfg.MaxFailures, cfg.ResetTimeout)), nil
}

// NewPriceCacheWithClient wraps an existing client and breaker.
func NewPriceCacheWithClient(client *goredis.Client, breaker *CircuitBreaker) *PriceCache {
	return &PriceCache{client: client, breaker: breaker}
}

// Client returns the underlying Redis client for health checks.
func (c *PriceCache) Client() *goredis.Client { return c.client }

// Breaker returns the circuit breaker guarding Redis calls.
func (c *PriceCache) Breaker() *CircuitBreaker { return c.breaker }

// SetPrices writes a batch of prices and the time they were observed.
func (c *PriceCache) SetPrices(ctx context.Context, prices map[string]float64, at time.Time) error {
	if len(prices) == 0 {
		return nil
	}
	values := make(map[string]interface{}, len(prices))
	for sym, p := range prices {
		values[model.NormalizeSymbol(sym)] = strconv.FormatFloat(p, 'f', -1, 64)
	}

	return c.breaker.Execute(func() error {
		pipe := c.client.TxPipeline()
		pipe.HSet(ctx, pricesKey, values)
		pipe.Set(ctx, pricesUpdatedKey, at.UTC().Format(time.RFC3339Nano), 0)
		_, err := pipe.Exec(ctx)
		return err
	})
}

// Snapshot reads the prices of the given symbols. Unknown or unparseable
// entries are left out. When the breaker is open it returns an empty
// snapshot together with ErrCircuitOpen.
func (c *PriceCache) Snapshot(ctx context.Context, symbols []string) (map[string]float64, error) {
	if len(symbols) == 0 {
		return map[string]float64{}, nil
	}
	keys := make([]string, len(symbols))
	for i, s := range symbols {
		keys[i] = model.NormalizeSymbol(s)
	}

	var vals []interface{}
	err := c.breaker.Execute(func() error {
		var err error
		vals, err = c.client.HMGet(ctx, pricesKey, keys...).Result()
		return err
	})
	if err != nil {
		return map[string]float64{}, err
	}
	return parsePrices(keys, vals), nil
}

// UpdatedAt returns when prices were last written. The zero time means
// never.
func (c *PriceCache) UpdatedAt(ctx context.Context) (time.Time, error) {
	var raw string
	err := c.breaker.Execute(func() error {
		var err error
		raw, err = c.client.Get(ctx, pricesUpdatedKey).Result()
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		return err
	})
	if err != nil || raw == "" {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, raw)
}

// Close closes the Redis client.
func (c *PriceCache) Close() error {
	return c.client.Close()
}

func parsePrices(keys []string, vals []interface{}) map[string]float64 {
	out := make(map[string]float64, len(keys))
	for i, v := range vals {
		if i >= len(keys) {
			break
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		p, err := strconv.ParseFloat(s, 64)
		if err != nil || !(p > 0) {
			continue
		}
		out[keys[i]] = p
	}
	return out
}
