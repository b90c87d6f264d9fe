package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cryptodash/config"
	"cryptodash/internal/api"
	"cryptodash/internal/logger"
	"cryptodash/internal/metrics"
	"cryptodash/internal/model"
	"cryptodash/internal/notification"
	"cryptodash/internal/portfolio"
	"cryptodash/internal/pricefeed"
	"cryptodash/internal/service"
	"cryptodash/internal/store/backend"
	redisstore "cryptodash/internal/store/redis"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[pnlserver] starting...")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[pnlserver] %v", err)
	}
	slogger := logger.Init("pnlserver", logger.ParseLevel(cfg.LogLevel))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Metrics + health ----
	prom := metrics.NewMetrics(prometheus.DefaultRegisterer)
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health, prometheus.DefaultGatherer)
	metricsSrv.Start()

	// ---- Trade ledger ----
	ledger, ledgerDB, err := backend.Open(cfg)
	if err != nil {
		log.Fatalf("[pnlserver] ledger init failed: %v", err)
	}
	defer ledger.Close()
	health.SetLedgerOK(true)
	log.Printf("[pnlserver] %s ledger ready", cfg.LedgerBackend)

	// ---- Price cache (optional: reports degrade to unpriced) ----
	var prices model.PriceSource
	var redisClient *goredis.Client
	cache, err := redisstore.NewPriceCache(redisstore.PriceCacheConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Printf("[pnlserver] WARNING: redis init failed: %v (continuing without prices)", err)
		health.SetRedisConnected(false)
	} else {
		defer cache.Close()
		health.SetRedisConnected(true)
		redisClient = cache.Client()
		prices = cache

		cache.Breaker().OnStateChange = func(from, to redisstore.State) {
			prom.PriceCacheBreaker.Set(float64(to))
			if to == redisstore.StateOpen {
				prom.PriceCacheTrips.Inc()
			}
			log.Printf("[pnlserver] price cache breaker %s -> %s", from, to)
		}
	}

	health.StartLivenessChecker(ctx, redisClient, ledgerDB, 10*time.Second)

	// ---- Price feed ----
	if cache != nil {
		pairs, err := pricefeed.ParsePairs(cfg.ParsePairs())
		if err != nil {
			log.Fatalf("[pnlserver] %v", err)
		}
		poller := pricefeed.NewPoller(pricefeed.Config{
			Pairs:    pairs,
			Interval: cfg.PricePollInterval,
			BaseURL:  cfg.BinanceBaseURL,
		}, cache)
		poller.OnUpdate = func(n int, at time.Time) {
			prom.PriceUpdatesTotal.Add(float64(n))
			health.SetLastPriceUpdate(at)
		}
		poller.OnError = func(err error) {
			prom.PriceFeedErrors.Inc()
		}
		go poller.Run(ctx)
	}

	// ---- Alerts ----
	sinks := notification.Multi{notification.NewLogNotifier()}
	if cfg.AlertWebhookURL != "" {
		sinks = append(sinks, notification.NewWebhookNotifier(cfg.AlertWebhookURL))
		log.Println("[pnlserver] webhook alerts enabled")
	}
	if cfg.TelegramEnabled() {
		sinks = append(sinks, notification.NewTelegramNotifier(cfg.TelegramAPIURL, cfg.TelegramBotToken, cfg.TelegramChatID))
		log.Println("[pnlserver] telegram alerts enabled")
	}
	// Throttled reports drops as errors, so Dedup retries them on the next report.
	var notifier notification.Notifier = notification.NewDedup(notification.NewThrottled(sinks, 1, 10))

	// ---- Reporting + API ----
	reporter := service.NewReporter(service.Options{
		Store:  ledger,
		Prices: prices,
		Gate: portfolio.NewProfitGate(cfg.GateConfig()),
		Notifier:        notifier,
		Metrics:         prom,
		Logger:          slogger,
		StartingCapital: cfg.StartingCapital,
	})

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: api.NewRouter(ctx, api.Deps{
			Reporter:       reporter,
			Health:         health,
			Metrics:        prom,
			Logger:         slogger,
			StreamInterval: cfg.StreamInterval,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("[pnlserver] api listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("[pnlserver] api server error: %v", err)
		}
	}()

	// ---- Wait for shutdown signal ----
	<-sigCh
	log.Println("[pnlserver] shutdown signal received, cleaning up...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)

	log.Println("[pnlserver] stopped")
}
