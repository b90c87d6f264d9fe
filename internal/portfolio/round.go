package portfolio

import (
	"math"

	"github.com/shopspring/decimal"
)

// round2 rounds half away from zero to 2 decimal places. It goes through the
// shortest decimal representation of v, so 1.005 rounds to 1.01.
func round2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

func ptr(v float64) *float64 { return &v }
