package portfolio

import "math"

// PriceLookup resolves the current unit price for a base symbol.
// ok=false means the price is unknown.
type PriceLookup interface {
	Price(symbol string) (price float64, ok bool)
}

// Prices is a point-in-time price snapshot keyed by base symbol.
type Prices map[string]float64

// Price implements PriceLookup.
func (p Prices) Price(symbol string) (float64, bool) {
	v, ok := p[symbol]
	return v, ok
}

// PriceFunc adapts a function to PriceLookup.
type PriceFunc func(symbol string) (float64, bool)

// Price implements PriceLookup.
func (f PriceFunc) Price(symbol string) (float64, bool) { return f(symbol) }

// lookup returns nil when the price is unknown, not finite, or lookup is nil.
func lookup(prices PriceLookup, symbol string) *float64 {
	if prices == nil {
		return nil
	}
	v, ok := prices.Price(symbol)
	if !ok || math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return &v
}
