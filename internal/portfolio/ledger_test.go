package portfolio

import (
	"encoding/json"
	"math"
	"reflect"
	"testing"

	"cryptodash/internal/model"
)

func TestBuildLedger_FIFOConservation(t *testing.T) {
	trades := []model.Trade{
		buy("b1", 0, 0.5, 60000, 1.2),
		buy("b2", 1, 0.25, 61000, 0.6),
		buy("b3", 2, 1.1, 59000, 2.5),
		sell("s1", 3, 0.3, 62000, 0.5, ""),
		sell("s2", 4, 0.6, 63000, 0.5, ""),
		sell("s3", 5, 0.05, 64000, 0.1, ""),
	}
	l := BuildLedger(trades)

	var bought, consumed float64
	for _, tr := range trades {
		if tr.IsBuy() {
			bought += tr.Amount
		}
	}
	for _, c := range l.Closed {
		consumed += c.Amount
	}
	if !near(l.OpenAmount()+consumed, bought, Epsilon) {
		t.Fatalf("conservation broken: open=%v consumed=%v bought=%v", l.OpenAmount(), consumed, bought)
	}
	if len(l.Anomalies) != 0 {
		t.Errorf("expected no anomalies, got %+v", l.Anomalies)
	}

	rem := remainingByID(l)
	if len(rem) != 1 || !near(rem["b3"], 0.9, 1e-12) {
		t.Errorf("expected only b3 open with 0.9, got %v", rem)
	}
	if l.ClosedCount != 2 {
		t.Errorf("closed count: got %d, want 2", l.ClosedCount)
	}
}

func TestBuildLedger_LinkedSellPrecedence(t *testing.T) {
	l := BuildLedger([]model.Trade{
		buy("old", 0, 1, 100, 0),
		buy("new", 1, 1, 200, 0),
		sell("s1", 2, 0.4, 250, 0, "new"),
	})
	rem := remainingByID(l)
	if rem["old"] != 1 {
		t.Errorf("old lot touched: remaining=%v", rem["old"])
	}
	if !near(rem["new"], 0.6, 1e-12) {
		t.Errorf("new lot: got %v, want 0.6", rem["new"])
	}
	if len(l.Closed) != 1 || l.Closed[0].BuyID != "new" || !l.Closed[0].Linked {
		t.Fatalf("expected one linked match against 'new', got %+v", l.Closed)
	}
	if len(l.Anomalies) != 0 {
		t.Errorf("expected no anomalies, got %+v", l.Anomalies)
	}
}

func TestBuildLedger_LinkedShortfallFallsBackToFIFO(t *testing.T) {
	l := BuildLedger([]model.Trade{
		buy("a", 0, 1, 100, 0),
		buy("b", 1, 1, 100, 0),
		sell("s1", 2, 1.5, 120, 0, "b"),
	})
	rem := remainingByID(l)
	if _, ok := rem["b"]; ok {
		t.Error("linked lot b should be closed")
	}
	if !near(rem["a"], 0.5, 1e-12) {
		t.Errorf("a: got %v, want 0.5", rem["a"])
	}
	if len(l.Anomalies) != 1 || l.Anomalies[0].Kind != AnomalyLinkedShortfall {
		t.Fatalf("expected linked shortfall anomaly, got %+v", l.Anomalies)
	}
	if !near(l.Anomalies[0].Shortfall, 0.5, 1e-12) {
		t.Errorf("shortfall: got %v, want 0.5", l.Anomalies[0].Shortfall)
	}
}

func TestBuildLedger_LinkedMissing(t *testing.T) {
	l := BuildLedger([]model.Trade{
		buy("a", 0, 1, 100, 0),
		sell("s1", 1, 0.5, 120, 0, "ghost"),
		buy("late", 3, 1, 100, 0),
		sell("s2", 2, 0.5, 120, 0, "late"),
	})
	if len(l.Anomalies) != 2 {
		t.Fatalf("expected 2 anomalies, got %+v", l.Anomalies)
	}
	for _, a := range l.Anomalies {
		if a.Kind != AnomalyLinkedMissing {
			t.Errorf("unexpected kind %s", a.Kind)
		}
	}
	rem := remainingByID(l)
	if _, ok := rem["a"]; ok {
		t.Error("a should be consumed by FIFO fallback")
	}
	if rem["late"] != 1 {
		t.Errorf("late lot must not be consumed by an earlier sell, got %v", rem["late"])
	}
}

func TestBuildLedger_OversellDoesNotPanic(t *testing.T) {
	l := BuildLedger([]model.Trade{
		buy("a", 0, 1, 100, 0),
		buy("b", 1, 0.5, 100, 0),
		sell("s1", 2, 2, 110, 0, ""),
	})
	if len(l.OpenLots) != 0 {
		t.Errorf("expected all lots closed, got %+v", l.OpenLots)
	}
	if l.ClosedCount != 2 {
		t.Errorf("closed count: got %d, want 2", l.ClosedCount)
	}
	if !near(l.Shortfall(), 0.5, 1e-12) {
		t.Errorf("shortfall: got %v, want 0.5", l.Shortfall())
	}
	if len(l.Anomalies) != 1 || l.Anomalies[0].Kind != AnomalyOversell {
		t.Fatalf("expected oversell anomaly, got %+v", l.Anomalies)
	}
}

func TestBuildLedger_SellWithoutBuys(t *testing.T) {
	l := BuildLedger([]model.Trade{sell("s1", 0, 1, 100, 0, "")})
	if len(l.OpenLots) != 0 || len(l.Closed) != 0 {
		t.Fatalf("unexpected lots: %+v", l)
	}
	if l.Shortfall() != 1 {
		t.Errorf("shortfall: got %v, want 1", l.Shortfall())
	}
}

func TestBuildLedger_EpsilonClosesLot(t *testing.T) {
	l := BuildLedger([]model.Trade{
		buy("a", 0, 0.3, 100, 0),
		sell("s1", 1, 0.1, 100, 0, ""),
		sell("s2", 2, 0.1, 100, 0, ""),
		sell("s3", 3, 0.1, 100, 0, ""),
	})
	if len(l.OpenLots) != 0 {
		t.Errorf("lot should close within epsilon, open=%+v", l.OpenLots)
	}
	if len(l.Anomalies) != 0 {
		t.Errorf("float residue must not count as oversell: %+v", l.Anomalies)
	}
}

func TestBuildLedger_SortsAndKeepsTieOrder(t *testing.T) {
	first := buy("first", 5, 1, 100, 0)
	second := buy("second", 5, 1, 200, 0)
	s := sell("s1", 6, 1, 300, 0, "")
	l := BuildLedger([]model.Trade{s, first, second})

	if len(l.Closed) != 1 || l.Closed[0].BuyID != "first" {
		t.Fatalf("expected FIFO to pick 'first' on timestamp tie, got %+v", l.Closed)
	}
	if len(l.OpenLots) != 1 || l.OpenLots[0].Trade.ID != "second" {
		t.Errorf("expected 'second' open, got %+v", l.OpenLots)
	}
}

func TestBuildLedger_InvalidTradesSkipped(t *testing.T) {
	bad := buy("bad", 1, 0, 100, 0)
	other := buy("eth", 2, 1, 100, 0)
	other.Symbol = "ETH"
	l := BuildLedger([]model.Trade{buy("a", 0, 1, 100, 0), bad, other})

	if len(l.OpenLots) != 1 {
		t.Fatalf("expected only the valid lot, got %+v", l.OpenLots)
	}
	if len(l.Anomalies) != 2 {
		t.Fatalf("expected 2 invalid-trade anomalies, got %+v", l.Anomalies)
	}
	for _, a := range l.Anomalies {
		if a.Kind != AnomalyInvalidTrade {
			t.Errorf("unexpected kind %s", a.Kind)
		}
	}
	if l.TradeCount != 2 {
		t.Errorf("trade count: got %d, want 2", l.TradeCount)
	}
}

func TestBuildLedger_RealizedTracesToLots(t *testing.T) {
	l := BuildLedger([]model.Trade{
		buy("a", 0, 1, 100, 1),
		buy("b", 1, 1, 150, 0),
		sell("s1", 2, 1.5, 200, 3, ""),
	})
	if len(l.Closed) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(l.Closed))
	}
	a, b := l.Closed[0], l.Closed[1]
	if a.BuyID != "a" || b.BuyID != "b" {
		t.Fatalf("unexpected lot order: %s, %s", a.BuyID, b.BuyID)
	}
	if !near(a.PurchaseValue, 101, 1e-9) || !near(a.ExitValue, 198, 1e-9) {
		t.Errorf("lot a: purchase=%v exit=%v", a.PurchaseValue, a.ExitValue)
	}
	if !near(b.PurchaseValue, 75, 1e-9) || !near(b.ExitValue, 99, 1e-9) {
		t.Errorf("lot b: purchase=%v exit=%v", b.PurchaseValue, b.ExitValue)
	}
	if r := ComputeRealizedPnl(a); r.PnlEur != 97 {
		t.Errorf("realized a: got %v, want 97", r.PnlEur)
	}
}

func TestBuildLedger_Idempotent(t *testing.T) {
	trades := []model.Trade{
		buy("a", 0, 1, 100, 1),
		buy("b", 1, 2, 150, 2),
		sell("s1", 2, 0.7, 200, 0.5, "b"),
		sell("s2", 3, 1.5, 180, 0.5, ""),
	}
	snapshot := make([]model.Trade, len(trades))
	copy(snapshot, trades)

	first := BuildLedger(trades)
	second := BuildLedger(trades)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("ledger differs between runs:\n%+v\n%+v", first, second)
	}
	if !reflect.DeepEqual(trades, snapshot) {
		t.Error("input trades were mutated")
	}

	price := ptr(170.0)
	p1, _ := ValuePosition(first, Prices{"BTC": *price})
	p2, _ := ValuePosition(second, Prices{"BTC": *price})
	if !reflect.DeepEqual(p1, p2) {
		t.Errorf("position differs between runs:\n%+v\n%+v", p1, p2)
	}
}

func TestBuildLedger_NonFiniteTradesSkipped(t *testing.T) {
	infPrice := buy("inf-price", 1, 1, math.Inf(1), 0)
	infAmount := buy("inf-amount", 2, math.Inf(1), 100, 0)
	nanFees := buy("nan-fees", 3, 1, 100, math.NaN())
	overflow := buy("overflow", 4, 1e200, 1e200, 0)
	l := BuildLedger([]model.Trade{buy("a", 0, 1, 100, 0), infPrice, infAmount, nanFees, overflow})

	if len(l.OpenLots) != 1 || l.OpenLots[0].Trade.ID != "a" {
		t.Fatalf("expected only lot a, got %+v", l.OpenLots)
	}
	if len(l.Anomalies) != 4 {
		t.Fatalf("expected 4 invalid-trade anomalies, got %+v", l.Anomalies)
	}
	for _, a := range l.Anomalies {
		if a.Kind != AnomalyInvalidTrade {
			t.Errorf("unexpected kind %s for %s", a.Kind, a.TradeID)
		}
	}

	book := BuildBook(
		[]model.Trade{buy("a", 0, 1, 100, 0), infPrice},
		Prices{"BTC": 120},
	)
	if _, err := json.Marshal(book); err != nil {
		t.Fatalf("book must stay encodable: %v", err)
	}
}

func TestBuildLedger_DustBuyClosedOnArrival(t *testing.T) {
	l := BuildLedger([]model.Trade{buy("dust", 0, 5e-9, 100, 0)})
	if len(l.OpenLots) != 0 {
		t.Errorf("dust lot must not be open: %+v", l.OpenLots)
	}
	if l.ClosedCount != 1 {
		t.Errorf("closed count: got %d, want 1", l.ClosedCount)
	}
}

func TestBuildLedger_RecordedRealizedPnlSplitsAcrossLots(t *testing.T) {
	s := sell("s1", 2, 3, 150, 0, "")
	s.RealizedPnl = ptr(90)
	l := BuildLedger([]model.Trade{
		buy("a", 0, 1, 100, 0),
		buy("b", 1, 2, 120, 0),
		s,
	})

	if len(l.Closed) != 2 {
		t.Fatalf("expected 2 matches, got %+v", l.Closed)
	}
	assertFloat(t, "lot a share", l.Closed[0].PnlEur, 30)
	assertFloat(t, "lot b share", l.Closed[1].PnlEur, 60)

	// The recorded figure wins over exit - purchase (50 and 60).
	if r := ComputeRealizedPnl(l.Closed[0]); r.PnlEur != 30 {
		t.Errorf("lot a realized: got %v, want 30", r.PnlEur)
	}
	agg := AggregateRealized([]RealizedResult{ComputeRealizedPnl(l.Closed[0]), ComputeRealizedPnl(l.Closed[1])})
	if agg.TotalPnlEur != 90 {
		t.Errorf("total realized: got %v, want 90", agg.TotalPnlEur)
	}
}
