package store

import (
	"errors"
	"math"
	"testing"
	"time"

	"cryptodash/internal/model"
)

var now = time.Date(2025, 5, 2, 12, 0, 0, 0, time.UTC)

func TestPrepare_NormalizesAndAssignsID(t *testing.T) {
	tr, err := Prepare(model.Trade{
		Account: "a", Side: model.SideBuy, Symbol: "btc-eur",
		Amount: 1, Price: 100, ExecutedAt: now,
	})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if tr.Symbol != "BTC" {
		t.Errorf("symbol: got %q, want BTC", tr.Symbol)
	}
	if len(tr.ID) != 36 {
		t.Errorf("expected generated uuid, got %q", tr.ID)
	}
}

func TestPrepare_RejectsInvalid(t *testing.T) {
	_, err := Prepare(model.Trade{
		ID: "x", Account: "a", Side: model.SideBuy, Symbol: "BTC",
		Amount: 1, Price: 0, ExecutedAt: now,
	})
	if !errors.Is(err, model.ErrInvalidTrade) {
		t.Fatalf("expected ErrInvalidTrade, got %v", err)
	}
}

func TestCheckLink(t *testing.T) {
	buy := model.Trade{ID: "b", Account: "a", Side: model.SideBuy, Symbol: "BTC", ExecutedAt: now}
	sell := model.Trade{ID: "s", Account: "a", Side: model.SideSell, Symbol: "BTC", ExecutedAt: now.Add(time.Minute), LinkedBuyID: "b"}

	if err := CheckLink(sell, buy); err != nil {
		t.Fatalf("valid link rejected: %v", err)
	}

	otherAcct := buy
	otherAcct.Account = "z"
	sameTime := buy
	sameTime.ExecutedAt = sell.ExecutedAt
	notBuy := buy
	notBuy.Side = model.SideSell

	for name, b := range map[string]model.Trade{"account": otherAcct, "time": sameTime, "side": notBuy} {
		if err := CheckLink(sell, b); !errors.Is(err, ErrInvalidLink) {
			t.Errorf("%s: expected ErrInvalidLink, got %v", name, err)
		}
	}
}

func TestPrepare_TruncatesToStoredPrecision(t *testing.T) {
	buy, err := Prepare(model.Trade{
		ID: "b", Account: "a", Side: model.SideBuy, Symbol: "BTC",
		Amount: 1, Price: 100, ExecutedAt: now.Add(100 * time.Nanosecond),
	})
	if err != nil {
		t.Fatalf("prepare buy: %v", err)
	}
	if !buy.ExecutedAt.Equal(now) {
		t.Errorf("executed_at: got %v, want %v", buy.ExecutedAt, now)
	}

	// 600ns lands in the same microsecond, so the link is not earlier.
	sell, err := Prepare(model.Trade{
		ID: "s", Account: "a", Side: model.SideSell, Symbol: "BTC",
		Amount: 1, Price: 110, ExecutedAt: now.Add(600 * time.Nanosecond), LinkedBuyID: "b",
	})
	if err != nil {
		t.Fatalf("prepare sell: %v", err)
	}
	if err := CheckLink(sell, buy); !errors.Is(err, ErrInvalidLink) {
		t.Errorf("expected ErrInvalidLink within one microsecond, got %v", err)
	}
}

func TestPrepare_RejectsNonFinite(t *testing.T) {
	_, err := Prepare(model.Trade{
		ID: "x", Account: "a", Side: model.SideBuy, Symbol: "BTC",
		Amount: 1, Price: math.Inf(1), ExecutedAt: now,
	})
	if !errors.Is(err, model.ErrInvalidTrade) {
		t.Fatalf("expected ErrInvalidTrade, got %v", err)
	}
}
