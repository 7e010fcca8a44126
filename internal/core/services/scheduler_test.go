package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/cashsync/internal/adapters/driven/clock"
	"github.com/custodia-labs/cashsync/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/cashsync/internal/core/domain"
	"github.com/custodia-labs/cashsync/internal/core/ports/driven"
	"github.com/custodia-labs/cashsync/internal/core/ports/driving"
)

// --- Mock implementations for scheduler testing ---

// mockSchedulerStore implements driven.SchedulerStore for testing.
type mockSchedulerStore struct {
	mu       sync.RWMutex
	tasks    map[string]*domain.ScheduledTask
	results  map[string][]domain.TaskResult
	listErr  error
	pruneErr error
}

func newMockSchedulerStore() *mockSchedulerStore {
	return &mockSchedulerStore{
		tasks:   make(map[string]*domain.ScheduledTask),
		results: make(map[string][]domain.TaskResult),
	}
}

func (m *mockSchedulerStore) GetTask(_ context.Context, taskID string) (*domain.ScheduledTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	task, exists := m.tasks[taskID]
	if !exists {
		return nil, nil
	}
	taskCopy := *task
	return &taskCopy, nil
}

func (m *mockSchedulerStore) ListTasks(_ context.Context) ([]domain.ScheduledTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	tasks := make([]domain.ScheduledTask, 0, len(m.tasks))
	for _, t := range m.tasks {
		tasks = append(tasks, *t)
	}
	return tasks, nil
}

func (m *mockSchedulerStore) SaveTask(_ context.Context, task *domain.ScheduledTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	taskCopy := *task
	m.tasks[task.ID] = &taskCopy
	return nil
}

func (m *mockSchedulerStore) DeleteTask(_ context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, taskID)
	return nil
}

func (m *mockSchedulerStore) RecordResult(_ context.Context, result *domain.TaskResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[result.TaskID] = append(m.results[result.TaskID], *result)
	return nil
}

func (m *mockSchedulerStore) GetTaskHistory(_ context.Context, taskID string, limit int) ([]domain.TaskResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := m.results[taskID]
	if len(results) > limit {
		results = results[len(results)-limit:]
	}
	return results, nil
}

func (m *mockSchedulerStore) PruneHistory(_ context.Context, _ int) error {
	return m.pruneErr
}

// mockSyncService implements driving.SyncService for testing.
type mockSyncService struct {
	mu      sync.Mutex
	runs    []string
	results map[string]*domain.SyncResult
	errs    map[string]error
}

func newMockSyncService() *mockSyncService {
	return &mockSyncService{
		results: make(map[string]*domain.SyncResult),
		errs:    make(map[string]error),
	}
}

func (m *mockSyncService) StartSync(context.Context, string, domain.SyncMode, domain.SyncOptions) (string, error) {
	return "", nil
}

func (m *mockSyncService) RunSync(
	_ context.Context,
	tenantID string,
	mode domain.SyncMode,
	_ domain.SyncOptions,
) (*domain.SyncResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, tenantID+":"+string(mode))
	return m.results[tenantID], m.errs[tenantID]
}

func (m *mockSyncService) ResumeSync(context.Context, string) (string, error) { return "", nil }
func (m *mockSyncService) CancelSync(context.Context, string) error           { return nil }

func (m *mockSyncService) GetProgress(context.Context, string) (*domain.SyncProgress, error) {
	return nil, domain.ErrNotFound
}

func (m *mockSyncService) GetCheckpoint(context.Context, string) (*domain.Checkpoint, error) {
	return &domain.Checkpoint{}, nil
}

func (m *mockSyncService) calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.runs...)
}

// staticTenants implements TenantLister for testing.
type staticTenants []string

func (s staticTenants) ListTenants(context.Context) ([]string, error) { return s, nil }

// Ensure mocks implement interfaces
var _ driven.SchedulerStore = (*mockSchedulerStore)(nil)
var _ driving.SyncService = (*mockSyncService)(nil)

func newTestScheduler(store driven.SchedulerStore, syncs driving.SyncService, states driven.SyncStateStore) (*Scheduler, *clock.Fake) {
	clk := clock.NewFake(t0)
	s := NewScheduler(domain.DefaultSchedulerConfig(), store, syncs, states, staticTenants{"tenant-b", "tenant-a"}, clk, 24*time.Hour)
	return s, clk
}

// ==================== Scheduler Tests ====================

func TestNewScheduler(t *testing.T) {
	scheduler, _ := newTestScheduler(newMockSchedulerStore(), newMockSyncService(), nil)

	require.NotNil(t, scheduler)
	assert.True(t, scheduler.config.Enabled)
	assert.Equal(t, time.Minute, scheduler.tick)
}

func TestScheduler_StartStop(t *testing.T) {
	scheduler, _ := newTestScheduler(newMockSchedulerStore(), newMockSyncService(), nil)

	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = scheduler.Start(ctx)
	}()

	// Give it time to start
	time.Sleep(50 * time.Millisecond)

	cancel()
	err := scheduler.Stop()
	require.NoError(t, err)

	wg.Wait()
}

func TestScheduler_StopWithoutStart(t *testing.T) {
	scheduler, _ := newTestScheduler(newMockSchedulerStore(), nil, nil)

	// Stop without starting should be safe
	require.NoError(t, scheduler.Stop())
}

func TestScheduler_StartDisabled(t *testing.T) {
	store := newMockSchedulerStore()
	scheduler, _ := newTestScheduler(store, nil, nil)
	scheduler.config.Enabled = false

	require.NoError(t, scheduler.Start(context.Background()))
	assert.Empty(t, store.tasks)
}

func TestScheduler_InitialiseTasks(t *testing.T) {
	store := newMockSchedulerStore()
	scheduler, _ := newTestScheduler(store, nil, nil)
	ctx := context.Background()

	require.NoError(t, scheduler.initialiseTasks(ctx))

	syncTask, err := store.GetTask(ctx, domain.TaskIDLedgerSync)
	require.NoError(t, err)
	require.NotNil(t, syncTask)
	assert.Equal(t, "Ledger Sync", syncTask.Name)
	assert.Equal(t, t0.Add(time.Hour), syncTask.NextRun)

	reclaimTask, err := store.GetTask(ctx, domain.TaskIDStateReclaim)
	require.NoError(t, err)
	require.NotNil(t, reclaimTask)
	assert.Equal(t, 6*time.Hour, reclaimTask.Interval)
}

func TestScheduler_EnsureTask_UpdateInterval(t *testing.T) {
	store := newMockSchedulerStore()
	scheduler, clk := newTestScheduler(store, nil, nil)
	ctx := context.Background()

	taskCfg := domain.TaskConfig{Enabled: true, Interval: time.Hour}
	require.NoError(t, scheduler.ensureTask(ctx, "test-task", "Test Task", taskCfg))

	clk.Advance(10 * time.Minute)
	taskCfg.Interval = 2 * time.Hour
	require.NoError(t, scheduler.ensureTask(ctx, "test-task", "Test Task", taskCfg))

	task, err := store.GetTask(ctx, "test-task")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, task.Interval)
	assert.Equal(t, t0.Add(10*time.Minute+2*time.Hour), task.NextRun)
}

func TestScheduler_RunLedgerSync(t *testing.T) {
	syncs := newMockSyncService()
	syncs.results["tenant-a"] = &domain.SyncResult{Created: 3, Updated: 2}
	syncs.errs["tenant-b"] = domain.ErrSyncInProgress
	scheduler, _ := newTestScheduler(newMockSchedulerStore(), syncs, nil)
	scheduler.WithTenants("tenant-a")

	n, err := scheduler.runLedgerSync(context.Background())
	require.NoError(t, err, "a tenant already syncing is skipped")
	assert.Equal(t, 5, n)
	assert.Equal(t, []string{"tenant-a:incremental", "tenant-b:incremental"}, syncs.calls())
}

func TestScheduler_RunLedgerSync_CollectsFailures(t *testing.T) {
	syncs := newMockSyncService()
	syncs.errs["tenant-a"] = domain.NewAuthError("tenant-a", domain.AuthReasonExpired, nil)
	scheduler, _ := newTestScheduler(newMockSchedulerStore(), syncs, nil)

	_, err := scheduler.runLedgerSync(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAuthExpired)
	assert.Len(t, syncs.calls(), 2, "one failing tenant does not stop the others")
}

func TestScheduler_RunLedgerSync_NilService(t *testing.T) {
	scheduler, _ := newTestScheduler(newMockSchedulerStore(), nil, nil)

	n, err := scheduler.runLedgerSync(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestScheduler_RunStateReclaim(t *testing.T) {
	ctx := context.Background()
	states := memory.NewSyncStateStore()
	old := domain.SyncState{
		SyncID: "old", TenantID: "tenant-a", Mode: domain.SyncModeFull, Status: domain.SyncCompleted,
		CompletedAt: t0.Add(-72 * time.Hour),
	}
	latest := domain.SyncState{
		SyncID: "latest", TenantID: "tenant-a", Mode: domain.SyncModeFull, Status: domain.SyncCompleted,
		CompletedAt: t0.Add(-48 * time.Hour),
	}
	require.NoError(t, states.Save(ctx, old))
	require.NoError(t, states.Save(ctx, latest))

	clk := clock.NewFake(t0.Add(-2 * time.Hour))
	kv := memory.NewKVStore(clk)
	require.NoError(t, kv.Set(ctx, "sync:progress:old", []byte("{}"), time.Hour))

	scheduler, _ := newTestScheduler(newMockSchedulerStore(), nil, states)
	scheduler.WithSweeper(kv)
	clk.Advance(2 * time.Hour)

	n, err := scheduler.runStateReclaim(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "one pruned state plus one swept progress entry")

	_, err = states.Get(ctx, "old")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = states.Get(ctx, "latest")
	assert.NoError(t, err, "the latest successful sync is kept for its watermark")
}

func TestScheduler_CheckAndRunDueTasks(t *testing.T) {
	store := newMockSchedulerStore()
	syncs := newMockSyncService()
	scheduler, _ := newTestScheduler(store, syncs, nil)
	ctx := context.Background()

	require.NoError(t, store.SaveTask(ctx, &domain.ScheduledTask{
		ID:       domain.TaskIDLedgerSync,
		Name:     "Ledger Sync",
		Interval: time.Hour,
		NextRun:  t0.Add(-time.Minute),
		Enabled:  true,
	}))
	require.NoError(t, store.SaveTask(ctx, &domain.ScheduledTask{
		ID:       domain.TaskIDStateReclaim,
		Interval: time.Hour,
		NextRun:  t0.Add(time.Minute),
		Enabled:  true,
	}))

	scheduler.checkAndRunDueTasks(ctx)
	scheduler.wg.Wait()

	assert.Len(t, syncs.calls(), 2)

	task, err := store.GetTask(ctx, domain.TaskIDLedgerSync)
	require.NoError(t, err)
	assert.Equal(t, t0, task.LastRun)
	assert.Equal(t, t0, task.LastSuccess)
	assert.Equal(t, t0.Add(time.Hour), task.NextRun)

	history, err := store.GetTaskHistory(ctx, domain.TaskIDLedgerSync, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].Success)
	assert.Empty(t, store.results[domain.TaskIDStateReclaim], "not yet due")
}

func TestScheduler_FailedTaskRecordsError(t *testing.T) {
	store := newMockSchedulerStore()
	store.pruneErr = errors.New("prune failed")
	syncs := newMockSyncService()
	syncs.errs["tenant-a"] = errors.New("boom")
	scheduler, _ := newTestScheduler(store, syncs, nil)
	ctx := context.Background()

	task := &domain.ScheduledTask{ID: domain.TaskIDLedgerSync, Interval: time.Hour, Enabled: true}
	scheduler.execute(ctx, task)

	saved, err := store.GetTask(ctx, domain.TaskIDLedgerSync)
	require.NoError(t, err)
	assert.Contains(t, saved.LastError, "boom")
	assert.True(t, saved.LastSuccess.IsZero())
	assert.False(t, store.results[domain.TaskIDLedgerSync][0].Success)
}

func TestScheduler_RunTask_UnknownTaskID(t *testing.T) {
	store := newMockSchedulerStore()
	scheduler, _ := newTestScheduler(store, nil, nil)

	// This should just log and return, not panic
	scheduler.runTask(context.Background(), &domain.ScheduledTask{ID: "unknown-task", Enabled: true})
	scheduler.wg.Wait()
	assert.Empty(t, store.results)
}
