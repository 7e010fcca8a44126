package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/cashsync/internal/core/domain"
	"github.com/custodia-labs/cashsync/internal/core/ports/driving"
)

// syncPollInterval is how often --wait polls progress.
var syncPollInterval = 500 * time.Millisecond

var (
	syncMode string
	syncFrom string
	syncTo   string
	syncWait bool
	syncJSON bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronise the local ledger",
	Long: `Pulls accounts, contacts, invoices, bank transactions and payments
from the accounting system into the local ledger.

A sync runs in the background and is checkpointed after every page, so an
interrupted run can be resumed where it stopped.`,
}

var syncStartCmd = &cobra.Command{
	Use:   "start <tenant-id>",
	Short: "Start a sync for a tenant",
	Long: `Starts a sync and prints its ID.

Modes:
  full            - pull every record
  incremental     - pull records modified since the last successful sync
  reconciliation  - compare local records with upstream and flag drift`,
	Args: cobra.ExactArgs(1),
	RunE: runSyncStart,
}

var syncProgressCmd = &cobra.Command{
	Use:   "progress <sync-id>",
	Short: "Show the live progress of a sync",
	Args:  cobra.ExactArgs(1),
	RunE:  runSyncProgress,
}

var syncCheckpointCmd = &cobra.Command{
	Use:   "checkpoint <sync-id>",
	Short: "Show the persisted checkpoint of a sync",
	Args:  cobra.ExactArgs(1),
	RunE:  runSyncCheckpoint,
}

var syncResumeCmd = &cobra.Command{
	Use:   "resume <sync-id>",
	Short: "Resume an interrupted or failed sync",
	Args:  cobra.ExactArgs(1),
	RunE:  runSyncResume,
}

var syncCancelCmd = &cobra.Command{
	Use:   "cancel <sync-id>",
	Short: "Cancel a running sync",
	Args:  cobra.ExactArgs(1),
	RunE:  runSyncCancel,
}

func init() {
	syncStartCmd.Flags().StringVarP(&syncMode, "mode", "m", string(domain.SyncModeIncremental),
		"sync mode: full, incremental or reconciliation")
	syncStartCmd.Flags().StringVar(&syncFrom, "from", "", "window start date (YYYY-MM-DD)")
	syncStartCmd.Flags().StringVar(&syncTo, "to", "", "window end date (YYYY-MM-DD)")
	syncStartCmd.Flags().BoolVarP(&syncWait, "wait", "w", false, "wait for the sync to finish")
	syncResumeCmd.Flags().BoolVarP(&syncWait, "wait", "w", false, "wait for the sync to finish")
	syncProgressCmd.Flags().BoolVar(&syncJSON, "json", false, "output progress as JSON")
	syncCheckpointCmd.Flags().BoolVar(&syncJSON, "json", false, "output checkpoint as JSON")

	syncCmd.AddCommand(syncStartCmd, syncProgressCmd, syncCheckpointCmd, syncResumeCmd, syncCancelCmd)
	rootCmd.AddCommand(syncCmd)
}

func requireSyncService() error {
	if syncService == nil {
		return errors.New("sync service not configured")
	}
	return nil
}

func runSyncStart(cmd *cobra.Command, args []string) error {
	if err := requireSyncService(); err != nil {
		return err
	}

	mode, err := domain.ParseSyncMode(syncMode)
	if err != nil {
		return err
	}
	opts, err := parseSyncWindow(syncFrom, syncTo)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	syncID, err := syncService.StartSync(ctx, args[0], mode, opts)
	if err != nil {
		return fmt.Errorf("start sync: %w", err)
	}
	cmd.Printf("Started %s sync %s for tenant %s\n", mode, syncID, args[0])

	if !syncWait {
		return nil
	}
	return waitForSync(ctx, cmd, syncService, syncID)
}

func parseSyncWindow(from, to string) (domain.SyncOptions, error) {
	var opts domain.SyncOptions
	var err error
	if from != "" {
		if opts.FromDate, err = time.Parse(time.DateOnly, from); err != nil {
			return opts, domain.ValidationErrorf("--from %q: expected YYYY-MM-DD", from)
		}
	}
	if to != "" {
		if opts.ToDate, err = time.Parse(time.DateOnly, to); err != nil {
			return opts, domain.ValidationErrorf("--to %q: expected YYYY-MM-DD", to)
		}
	}
	return opts, opts.Validate()
}

// waitForSync polls progress until the sync reaches a terminal status.
func waitForSync(ctx context.Context, cmd *cobra.Command, svc driving.SyncService, syncID string) error {
	ticker := time.NewTicker(syncPollInterval)
	defer ticker.Stop()

	lastPct := -1
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		p, err := svc.GetProgress(ctx, syncID)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("poll progress: %w", err)
		}
		if p.Percentage != lastPct {
			cmd.Printf("\r%3d%% %s", p.Percentage, p.CurrentStep)
			lastPct = p.Percentage
		}
		if !p.Status.Terminal() {
			continue
		}

		cmd.Println()
		if p.Status == domain.SyncFailed {
			return fmt.Errorf("sync %s failed: %s", syncID, p.Error)
		}
		cmd.Printf("Sync %s completed\n", syncID)
		return nil
	}
}

func runSyncProgress(cmd *cobra.Command, args []string) error {
	if err := requireSyncService(); err != nil {
		return err
	}

	p, err := syncService.GetProgress(cmd.Context(), args[0])
	if errors.Is(err, domain.ErrNotFound) {
		cmd.Printf("No progress recorded for sync %s.\n", args[0])
		return nil
	}
	if err != nil {
		return fmt.Errorf("get progress: %w", err)
	}

	if syncJSON {
		return outputJSON(cmd, p)
	}

	cmd.Printf("Sync:     %s\n", p.SyncID)
	if p.TenantID != "" {
		cmd.Printf("Tenant:   %s\n", p.TenantID)
	}
	cmd.Printf("Status:   %s (%d%%)\n", p.Status, p.Percentage)
	if p.CurrentStep != "" {
		cmd.Printf("Step:     %s\n", p.CurrentStep)
	}
	if !p.LastUpdated.IsZero() {
		cmd.Printf("Updated:  %s\n", p.LastUpdated.Format(time.RFC3339))
	}
	if p.Error != "" {
		cmd.Printf("Error:    %s\n", p.Error)
	}
	if len(p.Steps) > 0 {
		cmd.Println()
		for _, entity := range domain.EntityOrder {
			step, ok := p.Steps[entity]
			if !ok {
				continue
			}
			cmd.Printf("  %-18s %-12s %6d", entity, step.Status, step.Count)
			if step.Error != "" {
				cmd.Printf("  %s", step.Error)
			}
			cmd.Println()
		}
	}
	return nil
}

func runSyncCheckpoint(cmd *cobra.Command, args []string) error {
	if err := requireSyncService(); err != nil {
		return err
	}

	cp, err := syncService.GetCheckpoint(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("get checkpoint: %w", err)
	}

	if syncJSON {
		return outputJSON(cmd, cp)
	}

	if !cp.Exists {
		cmd.Printf("No checkpoint for sync %s.\n", args[0])
		return nil
	}
	cmd.Printf("Checkpoint: %s\n", cp.Timestamp.Format(time.RFC3339))
	if cp.LastCompletedEntity != "" {
		cmd.Printf("Last completed entity: %s\n", cp.LastCompletedEntity)
	}
	for _, entity := range domain.EntityOrder {
		if n, ok := cp.ProcessedCounts[entity]; ok {
			cmd.Printf("  %-18s %6d\n", entity, n)
		}
	}
	return nil
}

func runSyncResume(cmd *cobra.Command, args []string) error {
	if err := requireSyncService(); err != nil {
		return err
	}

	ctx := cmd.Context()
	syncID, err := syncService.ResumeSync(ctx, args[0])
	if err != nil {
		return fmt.Errorf("resume sync: %w", err)
	}
	cmd.Printf("Resumed sync %s\n", syncID)

	if !syncWait {
		return nil
	}
	return waitForSync(ctx, cmd, syncService, syncID)
}

func runSyncCancel(cmd *cobra.Command, args []string) error {
	if err := requireSyncService(); err != nil {
		return err
	}

	if err := syncService.CancelSync(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("cancel sync: %w", err)
	}
	cmd.Printf("Cancellation requested for sync %s\n", args[0])
	return nil
}

func outputJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}
