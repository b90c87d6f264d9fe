package model

import "strings"

// NormalizeSymbol reduces a market symbol to its base asset: "btc-eur",
// "BTC/EUR" and "BTC_EUR" all become "BTC". Trade and price lookups must use
// the same normalization or they will silently miss each other.
func NormalizeSymbol(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if i := strings.IndexAny(s, "-/_:"); i > 0 {
		s = s[:i]
	}
	return s
}
