package portfolio

import (
	"math"
	"testing"
	"time"

	"cryptodash/internal/model"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func buy(id string, at int, amount, price, fees float64) model.Trade {
	return model.Trade{
		ID: id, Account: "acc-1", Side: model.SideBuy, Symbol: "BTC",
		Amount: amount, Price: price, Fees: fees,
		ExecutedAt: t0.Add(time.Duration(at) * time.Minute),
	}
}

func sell(id string, at int, amount, price, fees float64, linked string) model.Trade {
	return model.Trade{
		ID: id, Account: "acc-1", Side: model.SideSell, Symbol: "BTC",
		Amount: amount, Price: price, Fees: fees, LinkedBuyID: linked,
		ExecutedAt: t0.Add(time.Duration(at) * time.Minute),
	}
}

func near(a, b, tol float64) bool { return math.Abs(a-b) <= tol }

func assertFloat(t *testing.T, name string, got *float64, want float64) {
	t.Helper()
	if got == nil {
		t.Fatalf("%s: got nil, want %v", name, want)
	}
	if !near(*got, want, 1e-9) {
		t.Errorf("%s: got %v, want %v", name, *got, want)
	}
}

func remainingByID(l Ledger) map[string]float64 {
	out := make(map[string]float64)
	for _, lot := range l.OpenLots {
		out[lot.Trade.ID] = lot.Remaining
	}
	return out
}
