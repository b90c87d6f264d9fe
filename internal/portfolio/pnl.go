package portfolio

// PnlResult is the unrealized P&L of a position or lot. When no usable price
// exists all three values are nil and HasPriceData is false; a zero value is
// a real breakeven, never a stand-in for "unknown".
type PnlResult struct {
	CurrentValue *float64 `json:"current_value"`
	PnlEur       *float64 `json:"pnl_eur"`
	PnlPct       *float64 `json:"pnl_pct"`
	HasPriceData bool     `json:"has_price_data"`
}

// CostBasis returns amount × entryPrice + fees rounded to cents.
func CostBasis(amount, entryPrice, fees float64) float64 {
	return round2(amount*entryPrice + fees)
}

// ComputeUnrealizedPnl values a holding at currentPrice. A nil or
// non-positive price, or a non-positive amount or cost basis, yields an
// all-nil result. Outputs are rounded to 2 decimals after the arithmetic.
func ComputeUnrealizedPnl(amount, costBasis float64, currentPrice *float64) PnlResult {
	if currentPrice == nil || !(*currentPrice > 0) || !(amount > 0) || !(costBasis > 0) {
		return PnlResult{}
	}
	value := amount * *currentPrice
	pnl := value - costBasis
	pct := pnl / costBasis * 100
	return PnlResult{
		CurrentValue: ptr(round2(value)),
		PnlEur:       ptr(round2(pnl)),
		PnlPct:       ptr(round2(pct)),
		HasPriceData: true,
	}
}

// LotPnl values the remaining quantity of one open lot.
func LotPnl(lot Lot, currentPrice *float64) PnlResult {
	return ComputeUnrealizedPnl(lot.Remaining, pnlBasis(lot.CostBasis()), currentPrice)
}

// RealizedResult is the locked-in P&L of one closed lot portion.
type RealizedResult struct {
	PnlEur float64  `json:"pnl_eur"`
	PnlPct *float64 `json:"pnl_pct"` // nil when purchase value is not positive
}

// ComputeRealizedPnl uses the recorded exit snapshot of c, never a live
// price. A pre-computed PnlEur on the record takes precedence.
func ComputeRealizedPnl(c ClosedLot) RealizedResult {
	pnl := c.ExitValue - c.PurchaseValue
	if c.PnlEur != nil {
		pnl = *c.PnlEur
	}
	res := RealizedResult{PnlEur: round2(pnl)}
	if c.PurchaseValue > 0 {
		res.PnlPct = ptr(round2(pnl / c.PurchaseValue * 100))
	}
	return res
}
