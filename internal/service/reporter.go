// Package service assembles portfolio reports from the trade ledger and the
// price cache. Every report is rebuilt from the full trade history; nothing
// derived is persisted.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"cryptodash/internal/logger"
	"cryptodash/internal/metrics"
	"cryptodash/internal/model"
	"cryptodash/internal/notification"
	"cryptodash/internal/portfolio"
	"cryptodash/internal/store"

	"github.com/shopspring/decimal"
)

var (
	// ErrAccountRequired is returned when a request names no account.
	ErrAccountRequired = errors.New("account is required")
	// ErrLotClosed is returned when an exit check names a fully sold lot.
	ErrLotClosed = errors.New("lot is already closed")
)

// Report is the full derived state of one account.
type Report struct {
	Account     string    `json:"account"`
	GeneratedAt time.Time `json:"generated_at"`
	portfolio.Book

	// Cash is starting capital minus buys plus sells, fees included.
	Cash float64 `json:"cash"`
	// Total is nil when no starting capital is configured or any open
	// position has no price.
	Total *portfolio.TotalPnl `json:"total"`
	// PriceError is set when the price snapshot failed and every position
	// is reported unpriced.
	PriceError string `json:"price_error,omitempty"`
}

// ExitCheck is the profit-gate verdict for one open lot.
type ExitCheck struct {
	Account   string                 `json:"account"`
	Symbol    string                 `json:"symbol"`
	LotID     string                 `json:"lot_id"`
	Remaining float64                `json:"remaining"`
	Price     *float64               `json:"price"`
	Decision  portfolio.ExitDecision `json:"decision"`
	Gate      portfolio.GateConfig   `json:"gate"`
}

// Options configures a Reporter. Prices, Notifier and Metrics may be nil.
type Options struct {
	Store           model.TradeStore
	Prices          model.PriceSource
	Gate            *portfolio.ProfitGate
	Notifier        notification.Notifier
	Metrics         *metrics.Metrics
	Logger          *slog.Logger
	StartingCapital float64
}

// Reporter builds reports and exit checks for accounts.
type Reporter struct {
	store    model.TradeStore
	prices   model.PriceSource
	gate     *portfolio.ProfitGate
	notifier notification.Notifier
	m        *metrics.Metrics
	log      *slog.Logger
	capital  float64
	now      func() time.Time

	mu   sync.Mutex
	seen map[string]struct{} // anomaly keys already counted
}

// NewReporter creates a reporter.
func NewReporter(opts Options) *Reporter {
	gate := opts.Gate
	if gate == nil {
		gate = portfolio.NewProfitGate(portfolio.DefaultGateConfig())
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Reporter{
		store:    opts.Store,
		prices:   opts.Prices,
		gate:     gate,
		notifier: opts.Notifier,
		m:        opts.Metrics,
		log:      log,
		capital:  opts.StartingCapital,
		now:      time.Now,
		seen:     make(map[string]struct{}),
	}
}

// Accounts lists accounts that have trades.
func (r *Reporter) Accounts(ctx context.Context) ([]string, error) {
	accounts, err := r.store.Accounts(ctx)
	if err != nil {
		r.ledgerError(ctx, err)
		return nil, err
	}
	return accounts, nil
}

// AppendTrade writes a trade through the ledger store.
func (r *Reporter) AppendTrade(ctx context.Context, t model.Trade) (model.Trade, error) {
	stored, err := r.store.Append(ctx, t)
	if err != nil {
		if r.m != nil {
			r.m.TradeAppendErrors.Inc()
		}
		r.log.Warn("trade rejected",
			append(logger.LogWithTrace(ctx), "trade_id", t.ID, "account", t.Account, "error", err)...)
		return model.Trade{}, err
	}
	if r.m != nil {
		r.m.TradesAppended.Inc()
	}
	r.log.Info("trade appended",
		append(logger.LogWithTrace(ctx),
			"trade_id", stored.ID, "account", stored.Account, "symbol", stored.Symbol,
			"side", stored.Side, "amount", stored.Amount)...)
	return stored, nil
}

// Report rebuilds the account's book at the current price snapshot and
// reports any ledger anomalies.
func (r *Reporter) Report(ctx context.Context, account string) (Report, error) {
	start := time.Now()
	rep, err := r.build(ctx, account)
	if err != nil {
		return Report{}, err
	}

	if r.m != nil {
		r.m.ReportsTotal.Inc()
		r.m.ReportDur.Observe(time.Since(start).Seconds())
		r.m.ReportTrades.Set(float64(rep.TradeCount))
		r.m.OpenPositions.Set(float64(len(rep.Positions)))
		r.m.UnpricedPositions.Set(float64(rep.Totals.MissingCount))
		r.countAnomalies(rep.Anomalies)
	}

	r.log.Debug("report built",
		append(logger.LogWithTrace(ctx),
			"account", account, "trades", rep.TradeCount, "positions", len(rep.Positions),
			"unpriced", rep.Totals.MissingCount, "anomalies", len(rep.Anomalies),
			"elapsed", time.Since(start))...)

	r.reportAnomalies(ctx, rep.Anomalies)
	return rep, nil
}

// CheckExit runs the profit gate on one open lot of an account.
func (r *Reporter) CheckExit(ctx context.Context, account, lotID string) (ExitCheck, error) {
	if lotID == "" {
		return ExitCheck{}, fmt.Errorf("%w: lot id is required", model.ErrInvalidTrade)
	}
	rep, err := r.build(ctx, account)
	if err != nil {
		return ExitCheck{}, err
	}

	now := r.now()
	for _, pos := range rep.Positions {
		for _, lot := range pos.OpenLots {
			if lot.Trade.ID != lotID {
				continue
			}
			return ExitCheck{
				Account:   account,
				Symbol:    pos.Symbol,
				LotID:     lotID,
				Remaining: lot.Remaining,
				Price:     pos.Price,
				Decision:  r.gate.EvaluateLot(lot, pos.Price, now),
				Gate:      r.gate.Config(),
			}, nil
		}
	}

	t, err := r.store.Get(ctx, lotID)
	if err != nil {
		return ExitCheck{}, err
	}
	if t.Account != account || !t.IsBuy() {
		return ExitCheck{}, fmt.Errorf("%w: %s is not a buy lot of %s", store.ErrNotFound, lotID, account)
	}
	return ExitCheck{}, fmt.Errorf("%w: %s", ErrLotClosed, lotID)
}

func (r *Reporter) build(ctx context.Context, account string) (Report, error) {
	if account == "" {
		return Report{}, ErrAccountRequired
	}

	trades, err := r.store.ListByAccount(ctx, account)
	if err != nil {
		r.ledgerError(ctx, err)
		return Report{}, err
	}

	rep := Report{Account: account, GeneratedAt: r.now().UTC()}

	var prices portfolio.Prices
	if symbols := symbolsOf(trades); r.prices != nil && len(symbols) > 0 {
		snap, err := r.prices.Snapshot(ctx, symbols)
		if err != nil {
			if r.m != nil {
				r.m.PriceSnapshotErrors.Inc()
			}
			r.log.Warn("price snapshot failed, reporting unpriced",
				append(logger.LogWithTrace(ctx), "account", account, "error", err)...)
			rep.PriceError = err.Error()
		}
		prices = portfolio.Prices(snap)
	}

	rep.Book = portfolio.BuildBook(trades, prices)
	cash := cashBalance(r.capital, trades)
	rep.Cash = decimal.NewFromFloat(cash).Round(2).InexactFloat64()

	if r.capital > 0 && !rep.Totals.HasMissingPrices {
		var positions float64
		for _, p := range rep.Positions {
			positions += *p.Pnl.CurrentValue
		}
		total := portfolio.ComputeTotalPnl(cash+positions, r.capital)
		rep.Total = &total
	}
	return rep, nil
}

func (r *Reporter) ledgerError(ctx context.Context, err error) {
	if r.m != nil {
		r.m.LedgerQueryErrors.Inc()
	}
	r.log.Error("ledger query failed", append(logger.LogWithTrace(ctx), "error", err)...)
}

// countAnomalies sets the per-kind gauge to the report's anomalies and
// counts each anomaly once over the reporter's lifetime.
func (r *Reporter) countAnomalies(anomalies []portfolio.Anomaly) {
	current := make(map[portfolio.AnomalyKind]int)
	r.mu.Lock()
	for _, a := range anomalies {
		current[a.Kind]++
		key := anomalyKey(a)
		if _, ok := r.seen[key]; ok {
			continue
		}
		r.seen[key] = struct{}{}
		r.m.AnomaliesTotal.WithLabelValues(string(a.Kind)).Inc()
	}
	r.mu.Unlock()

	for _, kind := range []portfolio.AnomalyKind{
		portfolio.AnomalyOversell, portfolio.AnomalyLinkedShortfall,
		portfolio.AnomalyLinkedMissing, portfolio.AnomalyInvalidTrade,
	} {
		r.m.Anomalies.WithLabelValues(string(kind)).Set(float64(current[kind]))
	}
}

func anomalyKey(a portfolio.Anomaly) string {
	return string(a.Kind) + ":" + a.Account + ":" + a.TradeID
}

func (r *Reporter) reportAnomalies(ctx context.Context, anomalies []portfolio.Anomaly) {
	for _, a := range anomalies {
		r.log.Warn("ledger anomaly",
			append(logger.LogWithTrace(ctx),
				"kind", a.Kind, "account", a.Account, "symbol", a.Symbol,
				"trade_id", a.TradeID, "shortfall", a.Shortfall, "reason", a.Reason)...)

		if r.notifier == nil {
			continue
		}
		alert := notification.Alert{
			Level:   notification.AlertWarning,
			Title:   fmt.Sprintf("Ledger anomaly: %s", a.Kind),
			Message: fmt.Sprintf("%s %s trade %s: %s", a.Account, a.Symbol, a.TradeID, a.Reason),
			Key:     anomalyKey(a),
			Fields: map[string]string{
				"account":  a.Account,
				"symbol":   a.Symbol,
				"trade_id": a.TradeID,
			},
		}
		if a.Kind == portfolio.AnomalyOversell {
			alert.Level = notification.AlertCritical
		}
		err := r.notifier.Send(ctx, alert)
		if errors.Is(err, notification.ErrThrottled) {
			r.log.Debug("anomaly alert deferred",
				append(logger.LogWithTrace(ctx), "trade_id", a.TradeID)...)
			continue
		}
		if err != nil {
			r.log.Warn("anomaly alert failed",
				append(logger.LogWithTrace(ctx), "trade_id", a.TradeID, "error", err)...)
		}
	}
}

// cashBalance replays the cash side of valid trades: buys spend
// amount × price plus fees, sells return amount × price minus fees.
func cashBalance(startingCapital float64, trades []model.Trade) float64 {
	cash := startingCapital
	for i := range trades {
		t := &trades[i]
		if t.Validate() != nil {
			continue
		}
		if t.IsBuy() {
			cash -= t.Amount*t.Price + t.Fees
		} else {
			cash += t.Amount*t.Price - t.Fees
		}
	}
	return cash
}

func symbolsOf(trades []model.Trade) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, t := range trades {
		if _, ok := seen[t.Symbol]; ok || t.Symbol == "" {
			continue
		}
		seen[t.Symbol] = struct{}{}
		out = append(out, t.Symbol)
	}
	sort.Strings(out)
	return out
}
