package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"cryptodash/internal/service"
)

func reportCmd() *cobra.Command {
	var account string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print positions, realized results and totals for an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext()
			defer cancel()

			rep, err := reporter.Report(ctx, account)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(rep)
			}
			printReport(os.Stdout, rep)
			return nil
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "account to report (required)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full report as JSON")
	cmd.MarkFlagRequired("account")
	return cmd
}

func accountsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List accounts in the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext()
			defer cancel()

			accounts, err := reporter.Accounts(ctx)
			if err != nil {
				return err
			}
			for _, a := range accounts {
				fmt.Println(a)
			}
			return nil
		},
	}
}

func exitCheckCmd() *cobra.Command {
	var account, lot string

	cmd := &cobra.Command{
		Use:   "exit-check",
		Short: "Run the profit gate on one open lot",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext()
			defer cancel()

			check, err := reporter.CheckExit(ctx, account, lot)
			if err != nil {
				return err
			}
			verdict := "HOLD"
			if check.Decision.Allow {
				verdict = "SELL"
			}
			fmt.Printf("%s %s lot %s (%.8g left): %s, %s, pnl %s\n",
				check.Account, check.Symbol, check.LotID, check.Remaining,
				verdict, check.Decision.Reason, formatPct(check.Decision.Pnl.PnlPct))
			return nil
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "account owning the lot (required)")
	cmd.Flags().StringVar(&lot, "lot", "", "buy trade id of the lot (required)")
	cmd.MarkFlagRequired("account")
	cmd.MarkFlagRequired("lot")
	return cmd
}

func printReport(out io.Writer, rep service.Report) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Account %s (%d trades)\n\n", rep.Account, rep.TradeCount)

	fmt.Fprintln(w, "SYMBOL\tAMOUNT\tCOST\tPRICE\tVALUE\tPNL\tPNL %")
	for _, p := range rep.Positions {
		fmt.Fprintf(w, "%s\t%.8g\t%.2f\t%s\t%s\t%s\t%s\n",
			p.Symbol, p.Amount, p.CostBasis,
			formatEur(p.Price), formatEur(p.Pnl.CurrentValue), formatEur(p.Pnl.PnlEur), formatPct(p.Pnl.PnlPct))
	}
	fmt.Fprintf(w, "TOTAL\t\t%.2f\t\t%.2f\t%.2f\t\n",
		rep.Totals.PricedCostBasis, rep.Totals.TotalCurrentValue, rep.Totals.TotalPnlEur)
	if rep.Totals.HasMissingPrices {
		fmt.Fprintf(w, "(%d position(s) without price excluded from totals)\n", rep.Totals.MissingCount)
	}

	fmt.Fprintf(w, "\nRealized: %.2f EUR over %d closed lot(s), %d win / %d loss\n",
		rep.Realized.TotalPnlEur, rep.Realized.Count, rep.Realized.Wins, rep.Realized.Losses)
	fmt.Fprintf(w, "Cash: %.2f EUR\n", rep.Cash)
	if rep.Total != nil {
		fmt.Fprintf(w, "Total: %.2f EUR vs %.2f start, %.2f EUR (%.2f%%)\n",
			rep.Total.CurrentValue, rep.Total.StartingCapital, rep.Total.PnlEur, rep.Total.PnlPct)
	}
	if rep.PriceError != "" {
		fmt.Fprintf(w, "Prices unavailable: %s\n", rep.PriceError)
	}

	if len(rep.Anomalies) > 0 {
		fmt.Fprintln(w, "\nANOMALY\tSYMBOL\tTRADE\tREASON")
		for _, a := range rep.Anomalies {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.Kind, a.Symbol, a.TradeID, a.Reason)
		}
	}
	w.Flush()
}

func formatEur(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", *v)
}

func formatPct(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.2f%%", *v)
}
