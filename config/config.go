package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"cryptodash/internal/portfolio"

	"github.com/joho/godotenv"
)

// Ledger backends.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Ledger storage
	LedgerBackend string
	SQLitePath    string
	PostgresDSN   string

	// Price cache
	RedisAddr     string
	RedisPassword string

	// Servers
	HTTPAddr    string
	MetricsAddr string
	LogLevel    string

	// Price feed. Pairs are "SYMBOL:MARKET", e.g. "BTC:BTCEUR,ETH:ETHEUR".
	PricePairs        string
	PricePollInterval time.Duration
	BinanceBaseURL    string

	// Reporting
	StartingCapital float64
	StreamInterval  time.Duration

	// Exit gate
	GateMinProfitPct float64
	GateStopLossPct  float64
	GateMinHold      time.Duration

	// Alerts
	AlertWebhookURL  string
	TelegramBotToken string
	TelegramChatID   string
	TelegramAPIURL   string
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is loaded first when present.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[config] ignoring .env: %v", err)
	}

	return &Config{
		LedgerBackend: getEnv("LEDGER_BACKEND", BackendSQLite),
		SQLitePath:    getEnv("SQLITE_PATH", "data/ledger.db"),
		PostgresDSN:   getEnv("POSTGRES_DSN", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		PricePairs:        getEnv("PRICE_PAIRS", "BTC:BTCEUR,ETH:ETHEUR"),
		PricePollInterval: getDuration("PRICE_POLL_INTERVAL", 10*time.Second),
		BinanceBaseURL:    getEnv("BINANCE_BASE_URL", ""),

		StartingCapital: getFloat("STARTING_CAPITAL", 0),
		StreamInterval:  getDuration("STREAM_INTERVAL", 5*time.Second),

		GateMinProfitPct: getFloat("GATE_MIN_PROFIT_PCT", 1.5),
		GateStopLossPct:  getFloat("GATE_STOP_LOSS_PCT", 0),
		GateMinHold:      getDuration("GATE_MIN_HOLD", 0),

		AlertWebhookURL:  getEnv("ALERT_WEBHOOK_URL", ""),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		TelegramAPIURL:   getEnv("TELEGRAM_API_URL", ""),
	}
}

// Validate reports configuration that cannot start the service.
func (c *Config) Validate() error {
	switch c.LedgerBackend {
	case BackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("config: SQLITE_PATH is required for the sqlite backend")
		}
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("config: POSTGRES_DSN is required for the postgres backend")
		}
	default:
		return fmt.Errorf("config: unknown LEDGER_BACKEND %q", c.LedgerBackend)
	}
	if c.PricePollInterval <= 0 {
		return fmt.Errorf("config: PRICE_POLL_INTERVAL must be positive")
	}
	if c.StreamInterval <= 0 {
		return fmt.Errorf("config: STREAM_INTERVAL must be positive")
	}
	if c.StartingCapital < 0 {
		return fmt.Errorf("config: STARTING_CAPITAL must not be negative")
	}
	if c.GateMinHold < 0 {
		return fmt.Errorf("config: GATE_MIN_HOLD must not be negative")
	}
	if (c.TelegramBotToken == "") != (c.TelegramChatID == "") {
		return fmt.Errorf("config: TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID must be set together")
	}
	return nil
}

// ParsePairs splits PricePairs into trimmed, non-empty entries.
func (c *Config) ParsePairs() []string {
	parts := strings.Split(c.PricePairs, ",")
	pairs := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		pairs = append(pairs, p)
	}
	return pairs
}

// GateConfig returns the exit-gate thresholds.
func (c *Config) GateConfig() portfolio.GateConfig {
	return portfolio.GateConfig{
		MinProfitPct: c.GateMinProfitPct,
		StopLossPct:  c.GateStopLossPct,
		MinHold:      c.GateMinHold,
	}
}

// TelegramEnabled reports whether Telegram alerts are configured.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != ""
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return f
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return d
}
