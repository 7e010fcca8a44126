// Command cashsync mirrors an accounting ledger locally and forecasts cash.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/custodia-labs/cashsync/internal/adapters/driven/auth"
	"github.com/custodia-labs/cashsync/internal/adapters/driven/clock"
	"github.com/custodia-labs/cashsync/internal/adapters/driven/config/file"
	"github.com/custodia-labs/cashsync/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/cashsync/internal/adapters/driving/cli"
	"github.com/custodia-labs/cashsync/internal/connectors/accounting"
	"github.com/custodia-labs/cashsync/internal/core/domain"
	"github.com/custodia-labs/cashsync/internal/core/services"
	"github.com/custodia-labs/cashsync/internal/logger"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// shutdownTimeout bounds how long running syncs get to checkpoint on exit.
const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	configStore, err := file.NewConfigStore("")
	if err != nil {
		return report(fmt.Errorf("open config: %w", err))
	}
	cfg, err := file.LoadConfig(configStore)
	if err != nil {
		return report(fmt.Errorf("load config %s: %w", configStore.Path(), err))
	}
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))

	store, err := sqlite.NewStore(cfg.DataDir)
	if err != nil {
		return report(fmt.Errorf("open database: %w", err))
	}
	defer store.Close()

	clk := clock.NewSystem()
	ledger := store.LedgerStore()
	states := store.SyncStateStore()
	kv := store.KVStore(clk)

	forecast, err := services.NewForecastEngine(ledger, store.ForecastDataStore(), store.ForecastCache(), clk, cfg.Forecast)
	if err != nil {
		return report(err)
	}

	svc := cli.Services{Forecast: forecast}
	orchestrator, err := newOrchestrator(cfg, store, kv, clk)
	switch {
	case err == nil:
		orchestrator.OnComplete(forecast.OnSyncComplete)
		svc.Sync = orchestrator
		svc.Scheduler = services.NewScheduler(
			cfg.Scheduler,
			store.SchedulerStore(),
			orchestrator,
			states,
			store.CredentialsStore(),
			clk,
			cfg.Sync.StateRetention,
		).WithTenants(cfg.Sync.Tenants...).WithSweeper(kv)
	case errors.Is(err, domain.ErrValidation):
		logger.Debug("sync disabled: %v", err)
	default:
		return report(err)
	}

	cli.SetVersion(version)
	cli.SetServices(svc)
	execErr := cli.Execute(ctx)

	// Background syncs started by this invocation run to completion unless
	// the process is interrupted, in which case they checkpoint and stop.
	if orchestrator != nil {
		waitForSyncs(ctx, orchestrator)
	}
	return execErr
}

func newOrchestrator(
	cfg domain.Config,
	store *sqlite.Store,
	kv *sqlite.KVStore,
	clk *clock.System,
) (*services.SyncOrchestrator, error) {
	if cfg.Upstream.BaseURL == "" {
		return nil, domain.ValidationErrorf("upstream.base_url is not configured")
	}

	invoker := accounting.NewInvoker(cfg.Invoker, clk)
	client, err := accounting.NewClient(cfg.Upstream.BaseURL, nil, invoker, clk)
	if err != nil {
		return nil, err
	}
	credentials := auth.NewOAuthCredentialProvider(store.CredentialsStore(), cfg.Upstream, clk, nil)
	progress := services.NewProgressTracker(kv, clk, cfg.Sync.ProgressTTL)

	return services.NewSyncOrchestrator(
		credentials,
		client,
		store.LedgerStore(),
		store.SyncStateStore(),
		progress,
		clk,
		cfg.Sync,
	), nil
}

func waitForSyncs(ctx context.Context, orchestrator *services.SyncOrchestrator) {
	done := make(chan struct{})
	go func() {
		orchestrator.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-ctx.Done():
	}

	logger.Info("interrupted; checkpointing running syncs")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := orchestrator.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown: %v", err)
	}
}

func report(err error) error {
	fmt.Fprintln(os.Stderr, "Error:", err)
	return err
}
