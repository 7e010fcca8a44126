package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// interruptedRecoverer is implemented by sync services that can resume runs
// left in progress by a previous process.
type interruptedRecoverer interface {
	RecoverInterrupted(ctx context.Context) ([]string, error)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run scheduled syncs until interrupted",
	Long: `Resumes syncs interrupted by a previous process, then runs the
scheduler: periodic incremental syncs of every connected tenant and
reclamation of old sync state.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	if scheduler == nil {
		return errors.New("scheduler not configured")
	}

	ctx := cmd.Context()
	if r, ok := syncService.(interruptedRecoverer); ok {
		ids, err := r.RecoverInterrupted(ctx)
		if err != nil {
			return fmt.Errorf("recover interrupted syncs: %w", err)
		}
		for _, id := range ids {
			cmd.Printf("Resumed interrupted sync %s\n", id)
		}
	}

	cmd.Println("Scheduler running; press Ctrl+C to stop.")
	err := scheduler.Start(ctx)
	if stopErr := scheduler.Stop(); stopErr != nil && err == nil {
		err = stopErr
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
