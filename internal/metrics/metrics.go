package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the P&L service.
type Metrics struct {
	// Report computation
	ReportsTotal      prometheus.Counter
	ReportDur         prometheus.Histogram
	ReportTrades      prometheus.Gauge
	AnomaliesTotal    *prometheus.CounterVec // labels: kind; distinct anomalies
	Anomalies         *prometheus.GaugeVec   // labels: kind; most recent report
	OpenPositions     prometheus.Gauge
	UnpricedPositions prometheus.Gauge

	// Ledger writes
	TradesAppended    prometheus.Counter
	TradeAppendErrors prometheus.Counter
	LedgerQueryErrors prometheus.Counter

	// Price feed and cache
	PriceUpdatesTotal   prometheus.Counter
	PriceFeedErrors     prometheus.Counter
	PriceSnapshotErrors prometheus.Counter
	PriceCacheBreaker   prometheus.Gauge // 0=closed, 1=open, 2=half-open
	PriceCacheTrips     prometheus.Counter

	// Streaming
	StreamClients prometheus.Gauge
}

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ReportsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pnl_reports_total",
			Help: "Total portfolio reports computed",
		}),
		ReportDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pnl_report_duration_seconds",
			Help:    "Time to load the ledger, snapshot prices and rebuild the book",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		ReportTrades: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pnl_report_trades",
			Help: "Trades replayed through the lot matcher for the most recent report",
		}),
		AnomaliesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pnl_ledger_anomalies_total",
			Help: "Distinct ledger inconsistencies detected since start",
		}, []string{"kind"}),
		Anomalies: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pnl_ledger_anomalies",
			Help: "Ledger inconsistencies in the most recent report",
		}, []string{"kind"}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pnl_open_positions",
			Help: "Open positions in the most recent report",
		}),
		UnpricedPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pnl_unpriced_positions",
			Help: "Open positions without a usable price in the most recent report",
		}),

		TradesAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pnl_trades_appended_total",
			Help: "Trades written to the ledger",
		}),
		TradeAppendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pnl_trade_append_errors_total",
			Help: "Rejected or failed ledger appends",
		}),
		LedgerQueryErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pnl_ledger_query_errors_total",
			Help: "Failed ledger reads",
		}),

		PriceUpdatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pnl_price_updates_total",
			Help: "Prices written to the cache by the feed",
		}),
		PriceFeedErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pnl_price_feed_errors_total",
			Help: "Failed price feed polls",
		}),
		PriceSnapshotErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pnl_price_snapshot_errors_total",
			Help: "Reports computed without prices because the cache failed",
		}),
		PriceCacheBreaker: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pnl_price_cache_breaker_state",
			Help: "Price cache circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		PriceCacheTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pnl_price_cache_breaker_trips_total",
			Help: "Times the price cache circuit breaker opened",
		}),

		StreamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pnl_stream_clients",
			Help: "Connected portfolio stream websocket clients",
		}),
	}

	reg.MustRegister(
		m.ReportsTotal,
		m.ReportDur,
		m.ReportTrades,
		m.AnomaliesTotal,
		m.Anomalies,
		m.OpenPositions,
		m.UnpricedPositions,
		m.TradesAppended,
		m.TradeAppendErrors,
		m.LedgerQueryErrors,
		m.PriceUpdatesTotal,
		m.PriceFeedErrors,
		m.PriceSnapshotErrors,
		m.PriceCacheBreaker,
		m.PriceCacheTrips,
		m.StreamClients,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	LedgerOK        bool      `json:"ledger_ok"`
	RedisConnected  bool      `json:"redis_connected"`
	LastPriceUpdate time.Time `json:"last_price_update"`

	LedgerLatencyMs float64   `json:"ledger_latency_ms"`
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetLedgerOK(v bool) {
	h.mu.Lock()
	h.LedgerOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastPriceUpdate(t time.Time) {
	h.mu.Lock()
	h.LastPriceUpdate = t
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckLedger pings the ledger database and records latency + health.
func (h *HealthStatus) CheckLedger(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.LedgerOK = err == nil
	h.LedgerLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks until ctx is done.
// Either dependency may be nil.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, ledgerDB *sql.DB, interval time.Duration) {
	probe := func() {
		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if rdb != nil {
			h.CheckRedis(probeCtx, rdb)
		}
		if ledgerDB != nil {
			h.CheckLedger(probeCtx, ledgerDB)
		}
	}
	probe()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probe()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint. Without the ledger nothing can be
// reported; without Redis reports still work but every position is
// unpriced.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	switch {
	case !h.LedgerOK:
		overallStatus = "unhealthy"
		httpCode = http.StatusServiceUnavailable
	case !h.RedisConnected:
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	priceAge := ""
	if !h.LastPriceUpdate.IsZero() {
		priceAge = time.Since(h.LastPriceUpdate).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		LedgerOK        bool    `json:"ledger_ok"`
		LedgerLatencyMs float64 `json:"ledger_latency_ms"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		LastPriceUpdate string  `json:"last_price_update"`
		PriceAge        string  `json:"price_age"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		LedgerOK:        h.LedgerOK,
		LedgerLatencyMs: h.LedgerLatencyMs,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		LastPriceUpdate: h.LastPriceUpdate.Format(time.RFC3339),
		PriceAge:        priceAge,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server. gatherer is usually
// prometheus.DefaultGatherer.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler returns the server's mux, mainly for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
