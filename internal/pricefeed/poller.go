// Package pricefeed polls Binance spot tickers and writes the latest
// prices into the price cache.
package pricefeed

import (
	"context"
	"fmt"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"golang.org/x/time/rate"

	"cryptodash/internal/model"
)

// Pair maps a ledger symbol to the exchange market quoted in the
// reporting currency, e.g. BTC -> BTCEUR.
type Pair struct {
	Symbol string
	Market string
}

// ParsePairs parses entries of the form "SYMBOL:MARKET". An entry without
// a market defaults to SYMBOL+"EUR".
func ParsePairs(entries []string) ([]Pair, error) {
	pairs := make([]Pair, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		sym, market, ok := strings.Cut(e, ":")
		sym = model.NormalizeSymbol(sym)
		if sym == "" {
			return nil, fmt.Errorf("pricefeed: empty symbol in %q", e)
		}
		market = strings.ToUpper(strings.TrimSpace(market))
		if !ok || market == "" {
			market = sym + "EUR"
		}
		if seen[sym] {
			return nil, fmt.Errorf("pricefeed: duplicate symbol %s", sym)
		}
		seen[sym] = true
		pairs = append(pairs, Pair{Symbol: sym, Market: market})
	}
	return pairs, nil
}

// Config controls the poller.
type Config struct {
	Pairs     []Pair
	Interval  time.Duration
	BaseURL   string // overrides the Binance API endpoint when set
	APIKey    string
	SecretKey string
}

// Poller fetches ticker prices on an interval.
type Poller struct {
	client   *binance.Client
	limiter  *rate.Limiter
	writer   model.PriceWriter
	pairs    []Pair
	markets  []string
	interval time.Duration

	// OnUpdate is called after each successful write with the number of
	// prices stored.
	OnUpdate func(n int, at time.Time)
	// OnError is called when a poll fails.
	OnError func(err error)
}

// NewPoller creates a poller writing into w.
func NewPoller(cfg Config, w model.PriceWriter) *Poller {
	httpClient := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	client := binance.NewClient(cfg.APIKey, cfg.SecretKey)
	client.HTTPClient = httpClient
	if cfg.BaseURL != "" {
		client.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	markets := make([]string, len(cfg.Pairs))
	for i, p := range cfg.Pairs {
		markets[i] = p.Market
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}

	return &Poller{
		client:   client,
		limiter:  rate.NewLimiter(rate.Limit(5), 5),
		writer:   w,
		pairs:    cfg.Pairs,
		markets:  markets,
		interval: interval,
	}
}

// Fetch queries the exchange and returns prices keyed by ledger symbol.
// Markets missing from the response or with a non-positive price are
// left out.
func (p *Poller) Fetch(ctx context.Context) (map[string]float64, error) {
	if len(p.markets) == 0 {
		return map[string]float64{}, nil
	}

	var (
		tickers []*binance.SymbolPrice
		err     error
	)
	maxRetries := 2
	backoff := 200 * time.Millisecond

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err = p.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		tickers, err = p.client.NewListPricesService().Symbols(p.markets).Do(ctx)
		if err == nil {
			break
		}
		if attempt == maxRetries {
			return nil, fmt.Errorf("pricefeed: list prices: %w", err)
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * backoff
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}

	byMarket := make(map[string]float64, len(tickers))
	for _, t := range tickers {
		v, perr := strconv.ParseFloat(t.Price, 64)
		if perr != nil || v <= 0 || math.IsInf(v, 0) {
			log.Printf("[pricefeed] skipping %s: bad price %q", t.Symbol, t.Price)
			continue
		}
		byMarket[t.Symbol] = v
	}

	prices := make(map[string]float64, len(p.pairs))
	for _, pair := range p.pairs {
		if v, ok := byMarket[pair.Market]; ok {
			prices[pair.Symbol] = v
		}
	}
	return prices, nil
}

// PollOnce fetches prices and writes them to the cache.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	prices, err := p.Fetch(ctx)
	if err != nil {
		return 0, err
	}
	if len(prices) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	if err := p.writer.SetPrices(ctx, prices, now); err != nil {
		return 0, fmt.Errorf("pricefeed: store prices: %w", err)
	}
	if p.OnUpdate != nil {
		p.OnUpdate(len(prices), now)
	}
	return len(prices), nil
}

// Run polls immediately and then on every interval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	log.Printf("[pricefeed] polling %d markets every %v", len(p.markets), p.interval)

	poll := func() {
		if _, err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[pricefeed] poll failed: %v", err)
			if p.OnError != nil {
				p.OnError(err)
			}
		}
	}
	poll()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Println("[pricefeed] stopped")
			return
		case <-ticker.C:
			poll()
		}
	}
}
