package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"cryptodash/internal/model"
	"cryptodash/internal/store"
)

// CSV layout (header required, column order free):
//
//	id,account,side,symbol,amount,price,fees,executed_at,linked_buy_id,realized_pnl
//
// id, fees, linked_buy_id and realized_pnl may be empty. executed_at accepts
// RFC3339, "2006-01-02 15:04:05" (UTC) or unix seconds.
var csvColumns = []string{"id", "account", "side", "symbol", "amount", "price", "fees", "executed_at", "linked_buy_id", "realized_pnl"}

var requiredColumns = []string{"account", "side", "symbol", "amount", "price", "executed_at"}

func importCmd() *cobra.Command {
	var skipExisting bool

	cmd := &cobra.Command{
		Use:   "import FILE.csv",
		Short: "Append trades from a CSV file to the ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			trades, err := parseTradesCSV(f)
			if err != nil {
				return err
			}

			ctx, cancel := commandContext()
			defer cancel()

			var added, skipped int
			for _, t := range trades {
				if _, err := reporter.AppendTrade(ctx, t); err != nil {
					if skipExisting && errors.Is(err, store.ErrDuplicate) {
						skipped++
						continue
					}
					return fmt.Errorf("trade %q: %w (imported %d before failing)", t.ID, err, added)
				}
				added++
			}
			fmt.Printf("imported %d trade(s), skipped %d duplicate(s)\n", added, skipped)
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipExisting, "skip-existing", false, "skip trades whose id is already in the ledger")
	return cmd
}

// parseTradesCSV reads trades in file order. Rows are not validated beyond
// parsing; the ledger rejects invalid trades on append.
func parseTradesCSV(r io.Reader) ([]model.Trade, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.New("csv: missing header")
	}

	idx := make(map[string]int, len(rows[0]))
	for i, h := range rows[0] {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, c := range requiredColumns {
		if _, ok := idx[c]; !ok {
			return nil, fmt.Errorf("csv: missing column %q (want %s)", c, strings.Join(csvColumns, ","))
		}
	}

	field := func(row []string, name string) string {
		i, ok := idx[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	trades := make([]model.Trade, 0, len(rows)-1)
	for n, row := range rows[1:] {
		line := n + 2
		if len(row) == 1 && strings.TrimSpace(row[0]) == "" {
			continue
		}

		amount, err := parseNumber(field(row, "amount"))
		if err != nil {
			return nil, fmt.Errorf("csv line %d: amount: %w", line, err)
		}
		price, err := parseNumber(field(row, "price"))
		if err != nil {
			return nil, fmt.Errorf("csv line %d: price: %w", line, err)
		}
		var fees float64
		if s := field(row, "fees"); s != "" {
			if fees, err = parseNumber(s); err != nil {
				return nil, fmt.Errorf("csv line %d: fees: %w", line, err)
			}
		}
		at, err := parseTime(field(row, "executed_at"))
		if err != nil {
			return nil, fmt.Errorf("csv line %d: executed_at: %w", line, err)
		}
		var realized *float64
		if s := field(row, "realized_pnl"); s != "" {
			v, err := parseNumber(s)
			if err != nil {
				return nil, fmt.Errorf("csv line %d: realized_pnl: %w", line, err)
			}
			realized = &v
		}

		trades = append(trades, model.Trade{
			ID:          field(row, "id"),
			Account:     field(row, "account"),
			Side:        model.Side(strings.ToUpper(field(row, "side"))),
			Symbol:      field(row, "symbol"),
			Amount:      amount,
			Price:       price,
			Fees:        fees,
			ExecutedAt:  at,
			LinkedBuyID: field(row, "linked_buy_id"),
			RealizedPnl: realized,
		})
	}
	return trades, nil
}

func parseNumber(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, "_", ""), 64)
	if err != nil {
		return 0, err
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, fmt.Errorf("%q is not a finite number", s)
	}
	return v, nil
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t, nil
	}
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}
