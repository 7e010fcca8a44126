package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/custodia-labs/cashsync/internal/core/domain"
)

var (
	forecastDays      int
	forecastScenarios bool
	forecastJSON      bool
	forecastAll       bool
)

var forecastCmd = &cobra.Command{
	Use:   "forecast",
	Short: "Project daily cash balances",
	Long: `Projects opening and closing balances, inflows and outflows for each
day of the horizon from the local ledger, recurring transactions, payment
patterns, budgets and tax obligations.`,
}

var forecastShowCmd = &cobra.Command{
	Use:   "show <tenant-id>",
	Short: "Show a forecast, reusing a recent one when available",
	Args:  cobra.ExactArgs(1),
	RunE:  runForecastShow,
}

var forecastRegenerateCmd = &cobra.Command{
	Use:   "regenerate <tenant-id>",
	Short: "Discard any cached forecast and recompute",
	Args:  cobra.ExactArgs(1),
	RunE:  runForecastRegenerate,
}

func init() {
	for _, c := range []*cobra.Command{forecastShowCmd, forecastRegenerateCmd} {
		c.Flags().IntVarP(&forecastDays, "days", "d", 0, "horizon in days (default from config)")
		c.Flags().BoolVar(&forecastJSON, "json", false, "output the forecast as JSON")
		c.Flags().BoolVarP(&forecastAll, "all", "a", false, "list every day, not only days with alerts")
	}
	forecastShowCmd.Flags().BoolVarP(&forecastScenarios, "scenarios", "s", false,
		"include optimistic and pessimistic scenarios")

	forecastCmd.AddCommand(forecastShowCmd, forecastRegenerateCmd)
	rootCmd.AddCommand(forecastCmd)
}

func runForecastShow(cmd *cobra.Command, args []string) error {
	if forecastService == nil {
		return errors.New("forecast service not configured")
	}

	f, err := forecastService.GetForecast(cmd.Context(), args[0], forecastDays, forecastScenarios)
	if err != nil {
		return fmt.Errorf("forecast failed: %w", err)
	}
	return outputForecast(cmd, f)
}

func runForecastRegenerate(cmd *cobra.Command, args []string) error {
	if forecastService == nil {
		return errors.New("forecast service not configured")
	}

	f, err := forecastService.RegenerateForecast(cmd.Context(), args[0], forecastDays)
	if err != nil {
		return fmt.Errorf("forecast failed: %w", err)
	}
	return outputForecast(cmd, f)
}

func outputForecast(cmd *cobra.Command, f *domain.Forecast) error {
	if forecastJSON {
		return outputJSON(cmd, f)
	}

	cur := f.Currency
	cmd.Printf("Forecast for %s: %d days, generated %s\n",
		f.TenantID, len(f.Days), f.GeneratedAt.Format(time.RFC3339))
	cmd.Println()

	s := f.Summary
	cmd.Printf("  Lowest balance:     %s on %s\n", formatAmount(s.LowestBalance, cur), s.LowestBalanceDate)
	cmd.Printf("  Total inflows:      %s\n", formatAmount(s.TotalInflows, cur))
	cmd.Printf("  Total outflows:     %s\n", formatAmount(s.TotalOutflows, cur))
	cmd.Printf("  Average confidence: %.2f\n", s.AverageConfidence)
	cmd.Printf("  Critical alerts:    %d\n", s.CriticalAlertCount)

	if f.Scenarios != nil && len(f.Scenarios.Optimistic) > 0 && len(f.Scenarios.Pessimistic) > 0 {
		last := len(f.Scenarios.Optimistic) - 1
		cmd.Println()
		cmd.Printf("  Optimistic close:   %s\n", formatAmount(f.Scenarios.Optimistic[last].ClosingBalance, cur))
		cmd.Printf("  Pessimistic close:  %s\n", formatAmount(f.Scenarios.Pessimistic[last].ClosingBalance, cur))
	}

	var rows []domain.ForecastDay
	for _, d := range f.Days {
		if forecastAll || len(d.Alerts) > 0 {
			rows = append(rows, d)
		}
	}
	if len(rows) == 0 {
		cmd.Println()
		cmd.Println("No alerts.")
		return nil
	}

	cmd.Println()
	cmd.Printf("  %-10s  %14s  %14s  %14s  %14s  %5s  %s\n",
		"DATE", "OPENING", "INFLOWS", "OUTFLOWS", "CLOSING", "CONF", "ALERTS")
	for _, d := range rows {
		cmd.Printf("  %-10s  %14s  %14s  %14s  %14s  %5.2f  %s\n",
			d.Date,
			formatAmount(d.OpeningBalance, cur),
			formatAmount(d.Inflows.Total, cur),
			formatAmount(d.Outflows.Total, cur),
			formatAmount(d.ClosingBalance, cur),
			d.ConfidenceLevel,
			formatAlerts(d.Alerts))
	}
	return nil
}

// formatAmount renders a decimal in the currency's own format. Unknown
// currency codes fall back to two decimal places and the code.
func formatAmount(amount decimal.Decimal, code string) string {
	cur := money.GetCurrency(code)
	if cur == nil {
		return amount.StringFixed(2) + " " + code
	}
	minor := amount.Round(int32(cur.Fraction)).Shift(int32(cur.Fraction))
	return cur.Formatter().Format(minor.IntPart())
}

func formatAlerts(alerts []domain.Alert) string {
	parts := make([]string, 0, len(alerts))
	for _, a := range alerts {
		parts = append(parts, fmt.Sprintf("%s(%s)", a.Kind, a.Severity))
	}
	return strings.Join(parts, " ")
}
