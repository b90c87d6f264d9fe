package portfolio

import "time"

// GateConfig holds the thresholds of the profit gate.
type GateConfig struct {
	MinProfitPct float64       `json:"min_profit_pct"` // take profit at or above this P&L %
	StopLossPct  float64       `json:"stop_loss_pct"`  // exit at or below -StopLossPct; 0 disables
	MinHold      time.Duration `json:"min_hold"`       // minimum age before a profit exit
}

// DefaultGateConfig returns conservative defaults.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		MinProfitPct: 1.5,
		StopLossPct:  0,
		MinHold:      0,
	}
}

// Exit decision reasons.
const (
	ReasonNoPrice     = "price unavailable"
	ReasonStopLoss    = "stop loss reached"
	ReasonHoldTime    = "minimum hold not reached"
	ReasonTakeProfit  = "profit target reached"
	ReasonBelowTarget = "below profit gate"
)

// ExitDecision is the outcome of a profit-gate evaluation.
type ExitDecision struct {
	Allow  bool      `json:"allow"`
	Reason string    `json:"reason"`
	Pnl    PnlResult `json:"pnl"`
}

// ProfitGate decides whether selling an open lot or position is permitted.
type ProfitGate struct {
	cfg GateConfig
}

// NewProfitGate creates a gate with the given thresholds.
func NewProfitGate(cfg GateConfig) *ProfitGate {
	return &ProfitGate{cfg: cfg}
}

// Config returns the gate thresholds.
func (g *ProfitGate) Config() GateConfig { return g.cfg }

// Evaluate applies the gate to an already computed P&L. An unknown P&L is
// always denied; a stop loss ignores the minimum hold.
func (g *ProfitGate) Evaluate(pnl PnlResult, openedAt, now time.Time) ExitDecision {
	if !pnl.HasPriceData || pnl.PnlPct == nil {
		return ExitDecision{Reason: ReasonNoPrice, Pnl: pnl}
	}
	pct := *pnl.PnlPct

	if g.cfg.StopLossPct > 0 && pct <= -g.cfg.StopLossPct {
		return ExitDecision{Allow: true, Reason: ReasonStopLoss, Pnl: pnl}
	}
	if g.cfg.MinHold > 0 && now.Sub(openedAt) < g.cfg.MinHold {
		return ExitDecision{Reason: ReasonHoldTime, Pnl: pnl}
	}
	if pct >= g.cfg.MinProfitPct {
		return ExitDecision{Allow: true, Reason: ReasonTakeProfit, Pnl: pnl}
	}
	return ExitDecision{Reason: ReasonBelowTarget, Pnl: pnl}
}

// EvaluateLot values one open lot at currentPrice and applies the gate.
func (g *ProfitGate) EvaluateLot(lot Lot, currentPrice *float64, now time.Time) ExitDecision {
	return g.Evaluate(LotPnl(lot, currentPrice), lot.Trade.ExecutedAt, now)
}

// EvaluatePosition applies the gate to a whole position, aged by its
// oldest open lot.
func (g *ProfitGate) EvaluatePosition(pos PositionView, now time.Time) ExitDecision {
	var openedAt time.Time
	if len(pos.OpenLots) > 0 {
		openedAt = pos.OpenLots[0].Trade.ExecutedAt
	}
	return g.Evaluate(pos.Pnl, openedAt, now)
}
