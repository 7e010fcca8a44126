package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/custodia-labs/cashsync/internal/core/domain"
	"github.com/custodia-labs/cashsync/internal/core/ports/driven"
	"github.com/custodia-labs/cashsync/internal/core/ports/driving"
	"github.com/custodia-labs/cashsync/internal/logger"
)

// Ensure Scheduler implements the interface.
var _ driving.Scheduler = (*Scheduler)(nil)

// TenantLister enumerates connected tenants. driven.CredentialsStore satisfies it.
type TenantLister interface {
	ListTenants(ctx context.Context) ([]string, error)
}

// Sweeper drops expired entries from a TTL store.
type Sweeper interface {
	Sweep() int
}

// historyKeep is the number of results kept per task.
const historyKeep = 100

// Scheduler manages background task execution.
// It is a pure core service with no external control API.
type Scheduler struct {
	config    domain.SchedulerConfig
	store     driven.SchedulerStore
	syncs     driving.SyncService
	states    driven.SyncStateStore
	tenants   TenantLister
	clock     driven.Clock
	retention time.Duration

	extraTenants []string
	sweeper      Sweeper
	tick         time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler with configuration.
func NewScheduler(
	config domain.SchedulerConfig,
	store driven.SchedulerStore,
	syncs driving.SyncService,
	states driven.SyncStateStore,
	tenants TenantLister,
	clock driven.Clock,
	retention time.Duration,
) *Scheduler {
	return &Scheduler{
		config:    config,
		store:     store,
		syncs:     syncs,
		states:    states,
		tenants:   tenants,
		clock:     clock,
		retention: retention,
		tick:      time.Minute,
	}
}

// WithTenants adds tenants synced even without a stored credential listing.
func (s *Scheduler) WithTenants(ids ...string) *Scheduler {
	s.extraTenants = append(s.extraTenants, ids...)
	return s
}

// WithSweeper makes state-reclaim also sweep expired progress entries.
func (s *Scheduler) WithSweeper(sw Sweeper) *Scheduler {
	s.sweeper = sw
	return s
}

// Start begins the scheduler loop. This method blocks until Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.config.Enabled {
		logger.Info("scheduler: disabled")
		return nil
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil // Already running
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	if err := s.initialiseTasks(ctx); err != nil {
		logger.Error("scheduler: failed to initialise tasks: %v", err)
	}

	return s.run(ctx)
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	// Wait for running tasks to complete
	s.wg.Wait()

	return nil
}

// initialiseTasks ensures all configured tasks exist in the store.
func (s *Scheduler) initialiseTasks(ctx context.Context) error {
	tasks := []struct{ id, name string }{
		{domain.TaskIDLedgerSync, "Ledger Sync"},
		{domain.TaskIDStateReclaim, "Sync State Reclaim"},
	}
	for _, t := range tasks {
		cfg := s.config.GetTaskConfig(t.id)
		if !cfg.Enabled {
			continue
		}
		if err := s.ensureTask(ctx, t.id, t.name, cfg); err != nil {
			return fmt.Errorf("ensure task %s: %w", t.id, err)
		}
	}
	return nil
}

// ensureTask creates or updates a task in the store.
func (s *Scheduler) ensureTask(ctx context.Context, id, name string, cfg domain.TaskConfig) error {
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	if task == nil {
		task = &domain.ScheduledTask{
			ID:       id,
			Name:     name,
			Interval: cfg.Interval,
			Enabled:  cfg.Enabled,
			NextRun:  now.Add(cfg.Interval),
		}
	} else {
		// Recalculate next run from now when the interval changed
		if task.Interval != cfg.Interval {
			task.Interval = cfg.Interval
			task.NextRun = now.Add(cfg.Interval)
		}
		task.Enabled = cfg.Enabled
	}

	return s.store.SaveTask(ctx, task)
}

// run is the main scheduler loop.
func (s *Scheduler) run(ctx context.Context) error {
	s.checkAndRunDueTasks(ctx)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopCh:
			return nil
		case <-ticker.C:
			s.checkAndRunDueTasks(ctx)
		}
	}
}

// checkAndRunDueTasks finds and executes tasks that are due.
func (s *Scheduler) checkAndRunDueTasks(ctx context.Context) {
	tasks, err := s.store.ListTasks(ctx)
	if err != nil {
		logger.Error("scheduler: failed to list tasks: %v", err)
		return
	}

	now := s.clock.Now()
	for i := range tasks {
		task := &tasks[i]
		if task.Due(now) {
			s.runTask(ctx, task)
		}
	}
}

// runTask executes a single task.
func (s *Scheduler) runTask(ctx context.Context, task *domain.ScheduledTask) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(ctx, task)
	}()
}

func (s *Scheduler) execute(ctx context.Context, task *domain.ScheduledTask) {
	result := &domain.TaskResult{
		TaskID:    task.ID,
		StartedAt: s.clock.Now(),
	}

	var err error
	switch task.ID {
	case domain.TaskIDLedgerSync:
		result.ItemsProcessed, err = s.runLedgerSync(ctx)
	case domain.TaskIDStateReclaim:
		result.ItemsProcessed, err = s.runStateReclaim(ctx)
	default:
		logger.Warn("scheduler: unknown task ID: %s", task.ID)
		return
	}

	result.EndedAt = s.clock.Now()
	if err != nil {
		result.Error = err.Error()
		task.LastError = err.Error()
		logger.Warn("scheduler: task %s failed: %v", task.ID, err)
	} else {
		result.Success = true
		task.LastError = ""
		task.LastSuccess = result.EndedAt
		logger.Debug("scheduler: task %s processed %d items", task.ID, result.ItemsProcessed)
	}

	task.LastRun = result.StartedAt
	task.NextRun = result.EndedAt.Add(task.Interval)

	if saveErr := s.store.SaveTask(ctx, task); saveErr != nil {
		logger.Error("scheduler: failed to save task %s: %v", task.ID, saveErr)
	}
	if recordErr := s.store.RecordResult(ctx, result); recordErr != nil {
		logger.Error("scheduler: failed to record result for %s: %v", task.ID, recordErr)
	}
	if pruneErr := s.store.PruneHistory(ctx, historyKeep); pruneErr != nil {
		logger.Error("scheduler: failed to prune history: %v", pruneErr)
	}
}

// runLedgerSync runs an incremental sync for every tenant. A tenant that is
// already syncing is skipped.
func (s *Scheduler) runLedgerSync(ctx context.Context) (int, error) {
	if s.syncs == nil {
		return 0, nil
	}
	tenants, err := s.listTenants(ctx)
	if err != nil {
		return 0, err
	}

	processed := 0
	var errs []error
	for _, tenantID := range tenants {
		result, err := s.syncs.RunSync(ctx, tenantID, domain.SyncModeIncremental, domain.SyncOptions{})
		if result != nil {
			processed += result.Created + result.Updated
		}
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrSyncInProgress):
			logger.Debug("scheduler: tenant %s already syncing", tenantID)
		default:
			errs = append(errs, fmt.Errorf("tenant %s: %w", tenantID, err))
		}
	}
	return processed, errors.Join(errs...)
}

func (s *Scheduler) listTenants(ctx context.Context) ([]string, error) {
	tenants := slices.Clone(s.extraTenants)
	if s.tenants != nil {
		listed, err := s.tenants.ListTenants(ctx)
		if err != nil {
			return nil, fmt.Errorf("list tenants: %w", err)
		}
		tenants = append(tenants, listed...)
	}
	slices.Sort(tenants)
	return slices.Compact(tenants), nil
}

// runStateReclaim prunes completed sync states past retention.
func (s *Scheduler) runStateReclaim(ctx context.Context) (int, error) {
	if s.states == nil {
		return 0, nil
	}
	pruned, err := s.states.PruneCompleted(ctx, s.clock.Now().Add(-s.retention))
	if err != nil {
		return 0, fmt.Errorf("prune sync states: %w", err)
	}
	if s.sweeper != nil {
		pruned += s.sweeper.Sweep()
	}
	return pruned, nil
}
