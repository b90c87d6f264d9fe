// Package api exposes portfolio reports, exit checks and the trade write
// path over HTTP, plus a websocket stream of live reports.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"time"

	"cryptodash/internal/logger"
	"cryptodash/internal/metrics"
	"cryptodash/internal/model"
	"cryptodash/internal/service"
	"cryptodash/internal/store"
)

// Reporter is the reporting surface the API serves.
type Reporter interface {
	Report(ctx context.Context, account string) (service.Report, error)
	CheckExit(ctx context.Context, account, lotID string) (service.ExitCheck, error)
	Accounts(ctx context.Context) ([]string, error)
	AppendTrade(ctx context.Context, t model.Trade) (model.Trade, error)
}

// Deps are the collaborators of the API. Health and Metrics may be nil.
type Deps struct {
	Reporter       Reporter
	Health         http.Handler
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
	StreamInterval time.Duration
}

// maxTradeBody bounds POST /api/v1/trades payloads.
const maxTradeBody = 64 << 10

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Trace-ID")
}

// NewRouter sets up HTTP routes for the API server and starts the stream
// hub, which runs until ctx is cancelled.
func NewRouter(ctx context.Context, d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	rep := d.Reporter

	hub := NewHub(rep, d.StreamInterval, d.Metrics)
	go hub.Run(ctx)

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		if d.Health != nil {
			d.Health.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	mux.HandleFunc("/api/v1/accounts", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		accounts, err := rep.Accounts(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		if accounts == nil {
			accounts = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"accounts": accounts})
	})

	mux.HandleFunc("/api/v1/portfolio", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		report, err := rep.Report(r.Context(), r.URL.Query().Get("account"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	})

	mux.HandleFunc("/api/v1/positions", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		report, err := rep.Report(r.Context(), r.URL.Query().Get("account"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"account":     report.Account,
			"positions":   report.Positions,
			"totals":      report.Totals,
			"price_error": report.PriceError,
		})
	})

	mux.HandleFunc("/api/v1/realized", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		report, err := rep.Report(r.Context(), r.URL.Query().Get("account"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"account":  report.Account,
			"closed":   report.Closed,
			"realized": report.Realized,
		})
	})

	mux.HandleFunc("/api/v1/exit-check", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		q := r.URL.Query()
		check, err := rep.CheckExit(r.Context(), q.Get("account"), q.Get("lot"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, check)
	})

	mux.HandleFunc("/api/v1/trades", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodPost) {
			return
		}
		var t model.Trade
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTradeBody))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&t); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
			return
		}
		stored, err := rep.AppendTrade(r.Context(), t)
		if err != nil {
			writeError(w, r, err)
			return
		}
		hub.Refresh(stored.Account)
		writeJSON(w, http.StatusCreated, stored)
	})

	// WebSocket endpoint
	mux.HandleFunc("/api/v1/stream", func(w http.ResponseWriter, r *http.Request) {
		account := r.URL.Query().Get("account")
		if account == "" {
			writeError(w, r, service.ErrAccountRequired)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[api] ws upgrade error: %v", err)
			return
		}
		hub.HandleWSRequest(r.Context(), conn, account)
	})

	return withTrace(d.Logger, mux)
}

// allow handles CORS preflight and rejects other methods. It returns false
// when the request has been answered.
func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	SetCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return false
	}
	if r.Method != method {
		w.Header().Set("Allow", method)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return false
	}
	return true
}

// withTrace tags each request with a trace id, taken from X-Trace-ID when
// the caller supplies one, and logs the request.
func withTrace(lg *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tid := r.Header.Get("X-Trace-ID")
		if tid == "" {
			tid = logger.GenerateTraceID("api")
		}
		w.Header().Set("X-Trace-ID", tid)
		ctx := logger.WithTraceID(r.Context(), tid)

		start := time.Now()
		next.ServeHTTP(w, r.WithContext(ctx))
		lg.Debug("request",
			append(logger.LogWithTrace(ctx),
				"method", r.Method, "path", r.URL.Path, "elapsed", time.Since(start))...)
	})
}

// statusFor maps ledger and reporting errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrAccountRequired),
		errors.Is(err, model.ErrInvalidTrade),
		errors.Is(err, store.ErrInvalidLink):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrDuplicate),
		errors.Is(err, service.ErrLotClosed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		log.Printf("[api] %s %s: %v", r.Method, r.URL.Path, err)
		msg = "internal error"
	}
	writeJSON(w, code, map[string]string{"error": msg, "trace_id": logger.TraceID(r.Context())})
}

// writeJSON encodes v before any header is sent, so an unencodable value
// becomes a 500 instead of an empty 200.
func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Printf("[api] encode response: %v", err)
		code = http.StatusInternalServerError
		body = []byte(`{"error":"internal error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(append(body, '\n'))
}
