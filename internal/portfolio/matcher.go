package portfolio

import (
	"fmt"
	"math"

	"cryptodash/internal/model"
)

// Matcher consumes sells against open buy lots. A sell carrying a
// LinkedBuyID drains that lot first; everything else is strict FIFO.
//
// A Matcher holds the state of a single replay and is not safe for
// concurrent use. Trades must be applied in execution order.
type Matcher struct {
	queue  []*Lot          // open lots, oldest first
	byID   map[string]*Lot // every buy seen so far, open or closed
	closed []ClosedLot

	closedCount int
	anomalies   []Anomaly
}

// NewMatcher returns an empty matcher.
func NewMatcher() *Matcher {
	return &Matcher{byID: make(map[string]*Lot)}
}

// Apply feeds one trade into the matcher. Invalid trades are skipped and
// reported as anomalies.
func (m *Matcher) Apply(t model.Trade) {
	if !model.FinitePositive(t.Amount) || !model.FinitePositive(t.Price) ||
		!(t.Fees >= 0) || math.IsInf(t.Fees, 0) || math.IsInf(t.Amount*t.Price, 0) {
		m.flag(t, AnomalyInvalidTrade, 0,
			fmt.Sprintf("amount=%g price=%g fees=%g", t.Amount, t.Price, t.Fees))
		return
	}
	switch t.Side {
	case model.SideBuy:
		m.buy(t)
	case model.SideSell:
		m.sell(t)
	default:
		m.flag(t, AnomalyInvalidTrade, 0, fmt.Sprintf("unknown side %q", t.Side))
	}
}

func (m *Matcher) buy(t model.Trade) {
	lot := &Lot{Trade: t, Remaining: t.Amount}
	if t.ID != "" {
		m.byID[t.ID] = lot
	}
	// Dust below Epsilon is closed on arrival.
	if lot.Closed() {
		lot.Remaining = 0
		m.closedCount++
		return
	}
	m.queue = append(m.queue, lot)
}

func (m *Matcher) sell(t model.Trade) {
	want := t.Amount

	if t.LinkedBuyID != "" {
		lot, ok := m.byID[t.LinkedBuyID]
		switch {
		case !ok:
			m.flag(t, AnomalyLinkedMissing, 0, "linked buy not found before sell; using FIFO")
		case !lot.Trade.ExecutedAt.Before(t.ExecutedAt):
			m.flag(t, AnomalyLinkedMissing, 0, "linked buy not strictly earlier than sell; using FIFO")
		default:
			take := min(lot.Remaining, want)
			if take > 0 {
				m.consume(lot, t, take, true)
				want -= take
			}
			if want >= Epsilon {
				m.flag(t, AnomalyLinkedShortfall, want,
					fmt.Sprintf("sell exceeds linked lot %s; remainder taken FIFO", t.LinkedBuyID))
			}
		}
	}

	for want >= Epsilon && len(m.queue) > 0 {
		lot := m.queue[0]
		take := min(lot.Remaining, want)
		m.consume(lot, t, take, false)
		want -= take
	}

	if want >= Epsilon {
		m.flag(t, AnomalyOversell, want,
			fmt.Sprintf("sell of %g exceeds open quantity by %g", t.Amount, want))
	}
}

// consume takes qty from lot on behalf of sell and drops the lot from the
// queue once it is closed.
func (m *Matcher) consume(lot *Lot, sell model.Trade, qty float64, linked bool) {
	buy := lot.Trade
	var recorded *float64
	if sell.RealizedPnl != nil {
		recorded = ptr(*sell.RealizedPnl * (qty / sell.Amount))
	}
	m.closed = append(m.closed, ClosedLot{
		Account:       sell.Account,
		Symbol:        sell.Symbol,
		BuyID:         buy.ID,
		SellID:        sell.ID,
		Amount:        qty,
		EntryPrice:    buy.Price,
		ExitPrice:     sell.Price,
		PurchaseValue: qty*buy.Price + buy.Fees*(qty/buy.Amount),
		ExitValue:     qty*sell.Price - sell.Fees*(qty/sell.Amount),
		OpenedAt:      buy.ExecutedAt,
		ClosedAt:      sell.ExecutedAt,
		Linked:        linked,
		PnlEur:        recorded,
	})

	lot.Remaining -= qty
	if !lot.Closed() {
		return
	}
	lot.Remaining = 0
	m.closedCount++
	for i, q := range m.queue {
		if q == lot {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			break
		}
	}
}

func (m *Matcher) flag(t model.Trade, kind AnomalyKind, shortfall float64, reason string) {
	m.anomalies = append(m.anomalies, Anomaly{
		Kind:        kind,
		Account:     t.Account,
		Symbol:      t.Symbol,
		TradeID:     t.ID,
		LinkedBuyID: t.LinkedBuyID,
		Shortfall:   shortfall,
		Reason:      reason,
	})
}

// OpenLots returns a copy of the open lots, oldest first.
func (m *Matcher) OpenLots() []Lot {
	out := make([]Lot, 0, len(m.queue))
	for _, l := range m.queue {
		out = append(out, *l)
	}
	return out
}

// ClosedCount returns how many lots have been fully consumed.
func (m *Matcher) ClosedCount() int { return m.closedCount }

// Closed returns the consumption records in the order they were made.
func (m *Matcher) Closed() []ClosedLot {
	out := make([]ClosedLot, len(m.closed))
	copy(out, m.closed)
	return out
}

// Anomalies returns every inconsistency recorded so far.
func (m *Matcher) Anomalies() []Anomaly {
	out := make([]Anomaly, len(m.anomalies))
	copy(out, m.anomalies)
	return out
}
