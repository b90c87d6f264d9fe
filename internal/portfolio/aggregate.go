package portfolio

// PortfolioTotals sums the priced positions of a portfolio. Positions without
// a price are counted in MissingCount and left out of every sum.
type PortfolioTotals struct {
	TotalCurrentValue float64 `json:"total_current_value"`
	TotalPnlEur       float64 `json:"total_pnl_eur"`
	PricedCostBasis   float64 `json:"priced_cost_basis"`
	PricedCount       int     `json:"priced_count"`
	HasMissingPrices  bool    `json:"has_missing_prices"`
	MissingCount      int     `json:"missing_count"`
}

// AggregatePortfolio accumulates unrounded sums and rounds once at the end.
// Each position's cost basis is recovered as current value minus P&L.
func AggregatePortfolio(results []PnlResult) PortfolioTotals {
	var t PortfolioTotals
	var value, pnl, cost float64
	for _, r := range results {
		if !r.HasPriceData || r.CurrentValue == nil || r.PnlEur == nil {
			t.MissingCount++
			t.HasMissingPrices = true
			continue
		}
		value += *r.CurrentValue
		pnl += *r.PnlEur
		cost += *r.CurrentValue - *r.PnlEur
		t.PricedCount++
	}
	t.TotalCurrentValue = round2(value)
	t.TotalPnlEur = round2(pnl)
	t.PricedCostBasis = round2(cost)
	return t
}

// TotalPnl is whole-account performance against starting capital.
type TotalPnl struct {
	CurrentValue    float64 `json:"current_value"`
	StartingCapital float64 `json:"starting_capital"`
	PnlEur          float64 `json:"pnl_eur"`
	PnlPct          float64 `json:"pnl_pct"`
}

// ComputeTotalPnl compares cash plus positions with starting capital. With no
// starting capital the percentage is 0.
func ComputeTotalPnl(currentTotalValue, startingCapital float64) TotalPnl {
	pnl := currentTotalValue - startingCapital
	var pct float64
	if startingCapital > 0 {
		pct = pnl / startingCapital * 100
	}
	return TotalPnl{
		CurrentValue:    round2(currentTotalValue),
		StartingCapital: round2(startingCapital),
		PnlEur:          round2(pnl),
		PnlPct:          round2(pct),
	}
}

// RealizedTotals summarizes closed lot results.
type RealizedTotals struct {
	TotalPnlEur float64 `json:"total_pnl_eur"`
	Count       int     `json:"count"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
}

// AggregateRealized sums realized results; breakeven counts as neither a win
// nor a loss.
func AggregateRealized(results []RealizedResult) RealizedTotals {
	var t RealizedTotals
	var sum float64
	for _, r := range results {
		sum += r.PnlEur
		t.Count++
		switch {
		case r.PnlEur > 0:
			t.Wins++
		case r.PnlEur < 0:
			t.Losses++
		}
	}
	t.TotalPnlEur = round2(sum)
	return t
}
