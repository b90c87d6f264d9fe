package portfolio

import (
	"sort"
	"time"

	"cryptodash/internal/model"
)

// Epsilon is the quantity below which a lot counts as fully consumed.
const Epsilon = 1e-8

// Lot is a BUY trade together with the quantity not yet consumed by sells.
type Lot struct {
	Trade     model.Trade `json:"trade"`
	Remaining float64     `json:"remaining"`
}

// Closed reports whether the lot has been consumed.
func (l *Lot) Closed() bool { return l.Remaining < Epsilon }

// CostBasis returns remaining × entry price plus the remaining share of the
// buy fees. The value is not rounded.
func (l *Lot) CostBasis() float64 {
	if l.Trade.Amount <= 0 {
		return 0
	}
	return l.Remaining*l.Trade.Price + l.Trade.Fees*(l.Remaining/l.Trade.Amount)
}

// ClosedLot records the portion of one buy lot consumed by one sell. Exit
// values are a snapshot of the sell, never a live price.
type ClosedLot struct {
	Account       string    `json:"account"`
	Symbol        string    `json:"symbol"`
	BuyID         string    `json:"buy_id"`
	SellID        string    `json:"sell_id"`
	Amount        float64   `json:"amount"`
	EntryPrice    float64   `json:"entry_price"`
	ExitPrice     float64   `json:"exit_price"`
	PurchaseValue float64   `json:"purchase_value"` // includes proportional buy fees
	ExitValue     float64   `json:"exit_value"`     // net of proportional sell fees
	OpenedAt      time.Time `json:"opened_at"`
	ClosedAt      time.Time `json:"closed_at"`
	Linked        bool      `json:"linked"` // consumed through linked_buy_id

	// PnlEur is the sell's recorded realized result, pro rata to Amount.
	// Nil when the sell carries none.
	PnlEur *float64 `json:"pnl_eur,omitempty"`
}

// AnomalyKind classifies a ledger inconsistency.
type AnomalyKind string

const (
	AnomalyOversell        AnomalyKind = "oversell"
	AnomalyLinkedShortfall AnomalyKind = "linked_lot_shortfall"
	AnomalyLinkedMissing   AnomalyKind = "linked_lot_missing"
	AnomalyInvalidTrade    AnomalyKind = "invalid_trade"
)

// Anomaly is a data-consistency problem found while matching. Anomalies are
// reported alongside results; they never abort the computation.
type Anomaly struct {
	Kind        AnomalyKind `json:"kind"`
	Account     string      `json:"account"`
	Symbol      string      `json:"symbol"`
	TradeID     string      `json:"trade_id"`
	LinkedBuyID string      `json:"linked_buy_id,omitempty"`
	Shortfall   float64     `json:"shortfall,omitempty"`
	Reason      string      `json:"reason"`
}

// Ledger is the derived lot view of all trades for one (account, symbol).
type Ledger struct {
	Account     string      `json:"account"`
	Symbol      string      `json:"symbol"`
	OpenLots    []Lot       `json:"open_lots"`
	ClosedCount int         `json:"closed_count"`
	Closed      []ClosedLot `json:"closed"`
	Anomalies   []Anomaly   `json:"anomalies,omitempty"`
	TradeCount  int         `json:"trade_count"`
}

// OpenAmount is the total remaining quantity across open lots.
func (l *Ledger) OpenAmount() float64 {
	var sum float64
	for i := range l.OpenLots {
		sum += l.OpenLots[i].Remaining
	}
	return sum
}

// CostBasis is the unrounded cost basis of the open lots.
func (l *Ledger) CostBasis() float64 {
	var sum float64
	for i := range l.OpenLots {
		sum += l.OpenLots[i].CostBasis()
	}
	return sum
}

// Shortfall is the total sell quantity that found no open lot.
func (l *Ledger) Shortfall() float64 {
	var sum float64
	for _, a := range l.Anomalies {
		if a.Kind == AnomalyOversell {
			sum += a.Shortfall
		}
	}
	return sum
}

// OpenedAt returns the execution time of the oldest open lot.
func (l *Ledger) OpenedAt() time.Time {
	if len(l.OpenLots) == 0 {
		return time.Time{}
	}
	return l.OpenLots[0].Trade.ExecutedAt
}

// BuildLedger replays the trades of one (account, symbol) in execution order
// and returns the resulting lots. Trades may be passed in any order; equal
// timestamps keep their input order. The input slice is not modified.
//
// The first trade fixes the account and symbol; trades for any other pair
// are skipped and reported as invalid.
func BuildLedger(trades []model.Trade) Ledger {
	sorted := make([]model.Trade, len(trades))
	copy(sorted, trades)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ExecutedAt.Before(sorted[j].ExecutedAt)
	})

	var l Ledger
	if len(sorted) > 0 {
		l.Account = sorted[0].Account
		l.Symbol = sorted[0].Symbol
	}

	m := NewMatcher()
	for _, t := range sorted {
		if t.Account != l.Account || t.Symbol != l.Symbol {
			m.flag(t, AnomalyInvalidTrade, 0, "trade belongs to "+t.Key())
			continue
		}
		m.Apply(t)
		l.TradeCount++
	}

	l.OpenLots = m.OpenLots()
	l.ClosedCount = m.ClosedCount()
	l.Closed = m.Closed()
	l.Anomalies = m.Anomalies()
	return l
}
