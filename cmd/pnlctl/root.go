package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"cryptodash/config"
	"cryptodash/internal/logger"
	"cryptodash/internal/model"
	"cryptodash/internal/notification"
	"cryptodash/internal/portfolio"
	"cryptodash/internal/service"
	"cryptodash/internal/store/backend"
	redisstore "cryptodash/internal/store/redis"
)

var (
	cfg      *config.Config
	ledger   model.TradeStore
	reporter *service.Reporter

	livePrices bool
	priceFlags []string
)

// rootCmd is the base command of the ledger CLI.
var rootCmd = &cobra.Command{
	Use:           "pnlctl",
	Short:         "Inspect and load the crypto trade ledger",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()
		if err := cfg.Validate(); err != nil {
			return err
		}
		logger.Init("pnlctl", logger.ParseLevel(cfg.LogLevel))

		var err error
		ledger, _, err = backend.Open(cfg)
		if err != nil {
			return fmt.Errorf("open ledger: %w", err)
		}

		prices, err := priceSource()
		if err != nil {
			return err
		}

		reporter = service.NewReporter(service.Options{
			Store:  ledger,
			Prices: prices,
			Gate: portfolio.NewProfitGate(cfg.GateConfig()),
			Notifier:        notification.NewLogNotifier(),
			StartingCapital: cfg.StartingCapital,
		})
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if ledger != nil {
			return ledger.Close()
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	rootCmd.PersistentFlags().StringArrayVar(&priceFlags, "price", nil, "price override SYMBOL=VALUE (repeatable)")
	rootCmd.PersistentFlags().BoolVar(&livePrices, "live", false, "read prices from the Redis price cache")
	rootCmd.AddCommand(reportCmd(), importCmd(), accountsCmd(), exitCheckCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// priceSource combines the Redis cache (with --live) and --price overrides.
// Overrides win.
func priceSource() (model.PriceSource, error) {
	overrides, err := parsePriceFlags(priceFlags)
	if err != nil {
		return nil, err
	}
	src := staticPrices{overrides: overrides}
	if livePrices {
		cache, err := redisstore.NewPriceCache(redisstore.PriceCacheConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("price cache: %w", err)
		}
		src.base = cache
	}
	return src, nil
}

// parsePriceFlags parses SYMBOL=VALUE pairs.
func parsePriceFlags(flags []string) (map[string]float64, error) {
	out := make(map[string]float64, len(flags))
	for _, f := range flags {
		sym, val, ok := strings.Cut(f, "=")
		sym = model.NormalizeSymbol(sym)
		if !ok || sym == "" {
			return nil, fmt.Errorf("invalid --price %q, want SYMBOL=VALUE", f)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("invalid --price %q: value must be a positive number", f)
		}
		out[sym] = v
	}
	return out, nil
}

// staticPrices serves fixed prices, optionally layered over another source.
type staticPrices struct {
	base      model.PriceSource
	overrides map[string]float64
}

func (s staticPrices) Snapshot(ctx context.Context, symbols []string) (map[string]float64, error) {
	out := make(map[string]float64, len(symbols))
	var err error
	if s.base != nil {
		var snap map[string]float64
		snap, err = s.base.Snapshot(ctx, symbols)
		for k, v := range snap {
			out[k] = v
		}
	}
	for _, sym := range symbols {
		if v, ok := s.overrides[sym]; ok {
			out[sym] = v
		}
	}
	return out, err
}

func commandContext() (context.Context, context.CancelFunc) {
	ctx := logger.WithTraceID(context.Background(), logger.GenerateTraceID("pnlctl"))
	return context.WithTimeout(ctx, 60*time.Second)
}
