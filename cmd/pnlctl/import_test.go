package main

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestParseTradesCSV(t *testing.T) {
	in := `id,account,side,symbol,amount,price,fees,executed_at,linked_buy_id
b1,acc-1,buy,BTC-EUR,0.5,95000,1.25,2025-01-01T10:00:00Z,
s1,acc-1,SELL,BTC,0.25,99000,,2025-01-02 08:30:00,b1

,acc-2,BUY,ETH,1,3000,0,1735725600,
`
	trades, err := parseTradesCSV(strings.NewReader(in))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(trades) != 3 {
		t.Fatalf("expected 3 trades, got %d", len(trades))
	}

	b1 := trades[0]
	if b1.ID != "b1" || b1.Side != "BUY" || b1.Amount != 0.5 || b1.Fees != 1.25 {
		t.Errorf("unexpected first trade: %+v", b1)
	}
	if !b1.ExecutedAt.Equal(time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected time: %v", b1.ExecutedAt)
	}

	s1 := trades[1]
	if s1.Side != "SELL" || s1.LinkedBuyID != "b1" || s1.Fees != 0 {
		t.Errorf("unexpected sell: %+v", s1)
	}
	if !s1.ExecutedAt.Equal(time.Date(2025, 1, 2, 8, 30, 0, 0, time.UTC)) {
		t.Errorf("unexpected sell time: %v", s1.ExecutedAt)
	}

	if trades[2].ID != "" || !trades[2].ExecutedAt.Equal(time.Unix(1735725600, 0)) {
		t.Errorf("unexpected third trade: %+v", trades[2])
	}
}

func TestParseTradesCSV_ColumnOrderFree(t *testing.T) {
	in := "executed_at,symbol,side,account,price,amount\n2025-01-01T00:00:00Z,BTC,BUY,acc-1,100,2\n"
	trades, err := parseTradesCSV(strings.NewReader(in))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(trades) != 1 || trades[0].Amount != 2 || trades[0].Price != 100 {
		t.Errorf("unexpected trades: %+v", trades)
	}
}

func TestParseTradesCSV_RealizedPnl(t *testing.T) {
	in := "account,side,symbol,amount,price,executed_at,realized_pnl\n" +
		"a,BUY,BTC,1,100,2025-01-01T00:00:00Z,\n" +
		"a,SELL,BTC,1,120,2025-01-02T00:00:00Z,18.75\n"
	trades, err := parseTradesCSV(strings.NewReader(in))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if trades[0].RealizedPnl != nil {
		t.Errorf("empty cell must stay nil, got %v", *trades[0].RealizedPnl)
	}
	if trades[1].RealizedPnl == nil || *trades[1].RealizedPnl != 18.75 {
		t.Errorf("unexpected realized pnl: %v", trades[1].RealizedPnl)
	}
}

func TestParseTradesCSV_Errors(t *testing.T) {
	tests := map[string]string{
		"empty":          "",
		"missing column": "id,account,side,symbol,amount,price\nb1,a,BUY,BTC,1,1\n",
		"bad amount":     "account,side,symbol,amount,price,executed_at\na,BUY,BTC,lots,1,2025-01-01T00:00:00Z\n",
		"bad time":       "account,side,symbol,amount,price,executed_at\na,BUY,BTC,1,1,yesterday\n",
		"inf price":      "account,side,symbol,amount,price,executed_at\na,BUY,BTC,1,Inf,2025-01-01T00:00:00Z\n",
		"nan amount":     "account,side,symbol,amount,price,executed_at\na,BUY,BTC,NaN,1,2025-01-01T00:00:00Z\n",
		"bad realized":   "account,side,symbol,amount,price,executed_at,realized_pnl\na,SELL,BTC,1,1,2025-01-01T00:00:00Z,-inf\n",
	}
	for name, in := range tests {
		if _, err := parseTradesCSV(strings.NewReader(in)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestParsePriceFlags(t *testing.T) {
	got, err := parsePriceFlags([]string{"btc=95000", "ETH-EUR = 3000.5"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["BTC"] != 95000 || got["ETH"] != 3000.5 {
		t.Errorf("unexpected prices: %v", got)
	}

	for _, bad := range []string{"BTC", "=1", "BTC=abc", "BTC=-1"} {
		if _, err := parsePriceFlags([]string{bad}); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestStaticPrices_OverridesWin(t *testing.T) {
	base := staticPrices{overrides: map[string]float64{"BTC": 1, "ETH": 2}}
	src := staticPrices{base: base, overrides: map[string]float64{"BTC": 10}}

	snap, err := src.Snapshot(context.Background(), []string{"BTC", "ETH", "SOL"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap["BTC"] != 10 || snap["ETH"] != 2 {
		t.Errorf("unexpected snapshot: %v", snap)
	}
	if _, ok := snap["SOL"]; ok {
		t.Error("unknown symbol must stay absent")
	}
}
