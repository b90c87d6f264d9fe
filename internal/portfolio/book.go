package portfolio

import (
	"sort"

	"cryptodash/internal/model"
)

// PositionView is an open (account, symbol) position valued at a snapshot
// price.
type PositionView struct {
	Account       string    `json:"account"`
	Symbol        string    `json:"symbol"`
	Amount        float64   `json:"amount"`
	CostBasis     float64   `json:"cost_basis"`
	AvgEntryPrice float64   `json:"avg_entry_price"`
	Price         *float64  `json:"price"`
	Pnl           PnlResult `json:"pnl"`
	OpenLots      []Lot     `json:"open_lots"`
	ClosedCount   int       `json:"closed_count"`
}

// RealizedView pairs a closed lot portion with its realized result.
type RealizedView struct {
	ClosedLot
	Result RealizedResult `json:"result"`
}

// Book is the full derived view of a set of trades.
type Book struct {
	Positions  []PositionView  `json:"positions"`
	Closed     []RealizedView  `json:"closed"`
	Totals     PortfolioTotals `json:"totals"`
	Realized   RealizedTotals  `json:"realized"`
	Anomalies  []Anomaly       `json:"anomalies"`
	TradeCount int             `json:"trade_count"`
}

// GroupTrades splits trades by (account, symbol). Keys are returned sorted;
// each group keeps the input order of its trades.
func GroupTrades(trades []model.Trade) ([]string, map[string][]model.Trade) {
	groups := make(map[string][]model.Trade)
	var keys []string
	for _, t := range trades {
		k := t.Key()
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], t)
	}
	sort.Strings(keys)
	return keys, groups
}

// ValuePosition values the open lots of a ledger. It returns false when the
// ledger has no open quantity.
func ValuePosition(l Ledger, prices PriceLookup) (PositionView, bool) {
	amount := l.OpenAmount()
	if amount < Epsilon {
		return PositionView{}, false
	}
	raw := l.CostBasis()
	cost := round2(raw)
	price := lookup(prices, l.Symbol)
	return PositionView{
		Account:       l.Account,
		Symbol:        l.Symbol,
		Amount:        amount,
		CostBasis:     cost,
		AvgEntryPrice: round2(raw / amount),
		Price:         price,
		Pnl:           ComputeUnrealizedPnl(amount, pnlBasis(raw), price),
		OpenLots:      l.OpenLots,
		ClosedCount:   l.ClosedCount,
	}, true
}

// pnlBasis is the cost basis used for P&L: cents, unless a positive basis
// rounds away to zero.
func pnlBasis(raw float64) float64 {
	if c := round2(raw); c > 0 || !(raw > 0) {
		return c
	}
	return raw
}

// BuildBook recomputes every ledger, position, realized result and total
// from trades and a price snapshot. A nil prices lookup leaves every
// position unpriced.
func BuildBook(trades []model.Trade, prices PriceLookup) Book {
	keys, groups := GroupTrades(trades)

	b := Book{
		Positions: []PositionView{},
		Closed:    []RealizedView{},
		Anomalies: []Anomaly{},
	}
	var unrealized []PnlResult
	var realized []RealizedResult

	for _, k := range keys {
		l := BuildLedger(groups[k])
		b.TradeCount += l.TradeCount
		b.Anomalies = append(b.Anomalies, l.Anomalies...)

		for _, c := range l.Closed {
			r := ComputeRealizedPnl(c)
			realized = append(realized, r)
			b.Closed = append(b.Closed, RealizedView{ClosedLot: c, Result: r})
		}

		if pos, ok := ValuePosition(l, prices); ok {
			b.Positions = append(b.Positions, pos)
			unrealized = append(unrealized, pos.Pnl)
		}
	}

	b.Totals = AggregatePortfolio(unrealized)
	b.Realized = AggregateRealized(realized)
	return b
}
