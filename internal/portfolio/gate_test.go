package portfolio

import (
	"testing"
	"time"

	"cryptodash/internal/model"
)

func TestProfitGate_Evaluate(t *testing.T) {
	gate := NewProfitGate(GateConfig{MinProfitPct: 2, StopLossPct: 5, MinHold: time.Hour})
	lot := Lot{Trade: buy("b1", 0, 1, 100, 0), Remaining: 1}
	opened := lot.Trade.ExecutedAt

	cases := []struct {
		name   string
		price  *float64
		now    time.Time
		allow  bool
		reason string
	}{
		{"no price", nil, opened.Add(2 * time.Hour), false, ReasonNoPrice},
		{"zero price", ptr(0), opened.Add(2 * time.Hour), false, ReasonNoPrice},
		{"stop loss ignores hold", ptr(94), opened.Add(time.Minute), true, ReasonStopLoss},
		{"too young", ptr(110), opened.Add(time.Minute), false, ReasonHoldTime},
		{"take profit", ptr(102), opened.Add(2 * time.Hour), true, ReasonTakeProfit},
		{"below target", ptr(101.5), opened.Add(2 * time.Hour), false, ReasonBelowTarget},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := gate.EvaluateLot(lot, tc.price, tc.now)
			if d.Allow != tc.allow || d.Reason != tc.reason {
				t.Errorf("got allow=%v reason=%q, want allow=%v reason=%q", d.Allow, d.Reason, tc.allow, tc.reason)
			}
		})
	}
}

func TestProfitGate_StopLossDisabled(t *testing.T) {
	gate := NewProfitGate(DefaultGateConfig())
	lot := Lot{Trade: buy("b1", 0, 1, 100, 0), Remaining: 1}
	d := gate.EvaluateLot(lot, ptr(50), lot.Trade.ExecutedAt)
	if d.Allow || d.Reason != ReasonBelowTarget {
		t.Errorf("got %+v", d)
	}
}

func TestProfitGate_EvaluatePosition(t *testing.T) {
	l := BuildLedger([]model.Trade{buy("b1", 0, 1, 100, 0), buy("b2", 10, 1, 100, 0)})
	pos, ok := ValuePosition(l, Prices{"BTC": 110})
	if !ok {
		t.Fatal("expected open position")
	}
	gate := NewProfitGate(GateConfig{MinProfitPct: 5, MinHold: 30 * time.Minute})
	d := gate.EvaluatePosition(pos, t0.Add(31*time.Minute))
	if !d.Allow || d.Reason != ReasonTakeProfit {
		t.Errorf("got %+v", d)
	}
}
