package portfolio

import "testing"

func priced(value, pnl float64) PnlResult {
	return PnlResult{CurrentValue: ptr(value), PnlEur: ptr(pnl), PnlPct: ptr(0), HasPriceData: true}
}

func TestAggregatePortfolio_ExcludesUnpriced(t *testing.T) {
	totals := AggregatePortfolio([]PnlResult{
		priced(950, 50),
		{},
		priced(2000, -100),
	})
	if totals.TotalCurrentValue != 2950 {
		t.Errorf("total value: got %v, want 2950", totals.TotalCurrentValue)
	}
	if totals.TotalPnlEur != -50 {
		t.Errorf("total pnl: got %v, want -50", totals.TotalPnlEur)
	}
	if totals.PricedCostBasis != 3000 {
		t.Errorf("priced cost basis: got %v, want 3000", totals.PricedCostBasis)
	}
	if !totals.HasMissingPrices || totals.MissingCount != 1 || totals.PricedCount != 2 {
		t.Errorf("missing flags wrong: %+v", totals)
	}
}

func TestAggregatePortfolio_RoundsOnceAtEnd(t *testing.T) {
	totals := AggregatePortfolio([]PnlResult{
		priced(10.333, 0.333),
		priced(10.333, 0.333),
		priced(10.333, 0.333),
	})
	// Rounding each item first would give 30.99 and 0.99.
	if totals.TotalCurrentValue != 31 {
		t.Errorf("total value: got %v, want 31", totals.TotalCurrentValue)
	}
	if totals.TotalPnlEur != 1 {
		t.Errorf("total pnl: got %v, want 1", totals.TotalPnlEur)
	}
}

func TestAggregatePortfolio_FractionalCentsWithinOneCent(t *testing.T) {
	a := ComputeUnrealizedPnl(1, 10, ptr(10.004))
	b := ComputeUnrealizedPnl(1, 10, ptr(10.004))
	totals := AggregatePortfolio([]PnlResult{a, b})
	if !near(totals.TotalCurrentValue, 20.008, 0.01) {
		t.Errorf("total value %v not within a cent of 20.008", totals.TotalCurrentValue)
	}
}

func TestAggregatePortfolio_Empty(t *testing.T) {
	totals := AggregatePortfolio(nil)
	if totals != (PortfolioTotals{}) {
		t.Errorf("expected zero totals, got %+v", totals)
	}
}

func TestComputeTotalPnl(t *testing.T) {
	got := ComputeTotalPnl(12345.678, 10000)
	if got.PnlEur != 2345.68 || got.PnlPct != 23.46 {
		t.Errorf("got %+v", got)
	}

	zero := ComputeTotalPnl(500, 0)
	if zero.PnlEur != 500 || zero.PnlPct != 0 {
		t.Errorf("zero capital: got %+v", zero)
	}
}

func TestAggregateRealized(t *testing.T) {
	totals := AggregateRealized([]RealizedResult{
		{PnlEur: 10.25},
		{PnlEur: -3},
		{PnlEur: 0},
	})
	if totals.Count != 3 || totals.Wins != 1 || totals.Losses != 1 {
		t.Errorf("counts wrong: %+v", totals)
	}
	if totals.TotalPnlEur != 7.25 {
		t.Errorf("total: got %v, want 7.25", totals.TotalPnlEur)
	}
}
