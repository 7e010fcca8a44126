// Package cli provides the cobra command tree of the cashsync binary.
package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/cashsync/internal/core/ports/driving"
	"github.com/custodia-labs/cashsync/internal/logger"
)

var (
	version = "dev"
	verbose bool

	syncService     driving.SyncService
	forecastService driving.ForecastService
	scheduler       driving.Scheduler
)

var rootCmd = &cobra.Command{
	Use:   "cashsync",
	Short: "Ledger sync and cash-flow forecasting",
	Long: `cashsync mirrors an accounting system of record into a local ledger
and projects daily cash balances from it.`,
	SilenceUsage: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		if verbose {
			logger.SetVerbose(true)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// Services are the core services the commands drive.
type Services struct {
	Sync      driving.SyncService
	Forecast  driving.ForecastService
	Scheduler driving.Scheduler
}

// SetServices injects the core services.
func SetServices(s Services) {
	syncService = s.Sync
	forecastService = s.Forecast
	scheduler = s.Scheduler
}

// SetVersion sets the version reported by the version command.
func SetVersion(v string) {
	version = v
}

// Execute runs the command tree with args from the process.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}
