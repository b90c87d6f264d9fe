package model

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ErrInvalidTrade is returned when a trade record violates the ledger contract.
var ErrInvalidTrade = errors.New("invalid trade")

// Trade is an executed fill in the trade ledger. Trades are immutable once
// appended; every position and P&L figure is derived from them on demand.
type Trade struct {
	ID          string    `json:"id"`
	Account     string    `json:"account"`
	Side        Side      `json:"side"`
	Symbol      string    `json:"symbol"` // base symbol, e.g. "BTC"
	Amount      float64   `json:"amount"`
	Price       float64   `json:"price"` // unit price at execution
	Fees        float64   `json:"fees"`
	ExecutedAt  time.Time `json:"executed_at"`
	LinkedBuyID string    `json:"linked_buy_id,omitempty"` // SELL only

	// RealizedPnl is a realized result recorded by the venue for the whole
	// sell. SELL only; when set it replaces the derived figure.
	RealizedPnl *float64 `json:"realized_pnl,omitempty"`
}

// Key returns "account:symbol", the unit of lot matching.
func (t *Trade) Key() string {
	return t.Account + ":" + t.Symbol
}

// IsBuy reports whether the trade opens a lot.
func (t *Trade) IsBuy() bool { return t.Side == SideBuy }

// Validate checks the fields of a single trade. Cross-trade rules such as
// linked-buy existence are enforced by the store on append.
func (t *Trade) Validate() error {
	switch {
	case t.ID == "":
		return fmt.Errorf("%w: id is required", ErrInvalidTrade)
	case t.Account == "":
		return fmt.Errorf("%w: account is required", ErrInvalidTrade)
	case t.Symbol == "":
		return fmt.Errorf("%w: symbol is required", ErrInvalidTrade)
	case t.Side != SideBuy && t.Side != SideSell:
		return fmt.Errorf("%w: side must be BUY or SELL, got %q", ErrInvalidTrade, t.Side)
	case !FinitePositive(t.Amount):
		return fmt.Errorf("%w: amount must be a finite number > 0", ErrInvalidTrade)
	case !FinitePositive(t.Price):
		return fmt.Errorf("%w: price must be a finite number > 0", ErrInvalidTrade)
	case !finite(t.Fees) || t.Fees < 0:
		return fmt.Errorf("%w: fees must be a finite number >= 0", ErrInvalidTrade)
	case !finite(t.Amount * t.Price):
		return fmt.Errorf("%w: amount * price overflows", ErrInvalidTrade)
	case t.ExecutedAt.IsZero():
		return fmt.Errorf("%w: executed_at is required", ErrInvalidTrade)
	case t.LinkedBuyID != "" && t.Side != SideSell:
		return fmt.Errorf("%w: linked_buy_id is only valid on SELL", ErrInvalidTrade)
	case t.LinkedBuyID == t.ID:
		return fmt.Errorf("%w: trade cannot link to itself", ErrInvalidTrade)
	case t.RealizedPnl != nil && t.Side != SideSell:
		return fmt.Errorf("%w: realized_pnl is only valid on SELL", ErrInvalidTrade)
	case t.RealizedPnl != nil && !finite(*t.RealizedPnl):
		return fmt.Errorf("%w: realized_pnl must be a finite number", ErrInvalidTrade)
	}
	return nil
}

// FinitePositive reports whether v is a real number greater than zero.
func FinitePositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
