package cli

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/cashsync/internal/core/domain"
)

// mockSyncService implements driving.SyncService for testing.
type mockSyncService struct {
	mu sync.Mutex

	started   []startCall
	resumed   []string
	cancelled []string

	startErr   error
	progress   []*domain.SyncProgress
	polls      int
	checkpoint *domain.Checkpoint
}

type startCall struct {
	tenant string
	mode   domain.SyncMode
	opts   domain.SyncOptions
}

func (m *mockSyncService) StartSync(_ context.Context, tenantID string, mode domain.SyncMode, opts domain.SyncOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return "", m.startErr
	}
	m.started = append(m.started, startCall{tenantID, mode, opts})
	return "sync-1", nil
}

func (m *mockSyncService) RunSync(context.Context, string, domain.SyncMode, domain.SyncOptions) (*domain.SyncResult, error) {
	return nil, errors.New("not used")
}

func (m *mockSyncService) ResumeSync(_ context.Context, syncID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resumed = append(m.resumed, syncID)
	return syncID, nil
}

func (m *mockSyncService) CancelSync(_ context.Context, syncID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if syncID == "missing" {
		return domain.ErrNotFound
	}
	m.cancelled = append(m.cancelled, syncID)
	return nil
}

// GetProgress returns the queued snapshots in order, repeating the last.
func (m *mockSyncService) GetProgress(_ context.Context, _ string) (*domain.SyncProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.progress) == 0 {
		return nil, domain.ErrNotFound
	}
	i := min(m.polls, len(m.progress)-1)
	m.polls++
	return m.progress[i], nil
}

func (m *mockSyncService) GetCheckpoint(_ context.Context, _ string) (*domain.Checkpoint, error) {
	if m.checkpoint == nil {
		return &domain.Checkpoint{}, nil
	}
	return m.checkpoint, nil
}

func setupSyncTest(t *testing.T) *mockSyncService {
	t.Helper()
	mock := &mockSyncService{}
	old := syncService
	oldInterval := syncPollInterval
	syncService = mock
	syncPollInterval = time.Millisecond
	t.Cleanup(func() {
		syncService = old
		syncPollInterval = oldInterval
	})
	return mock
}

// execute runs the root command and resets flag globals afterwards.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		syncMode = string(domain.SyncModeIncremental)
		syncFrom, syncTo = "", ""
		syncWait, syncJSON = false, false
		forecastDays = 0
		forecastScenarios, forecastJSON, forecastAll = false, false, false
		versionShort = false
	})
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestSyncCmd_Structure(t *testing.T) {
	assert.Equal(t, "sync", syncCmd.Use)
	names := make([]string, 0, len(syncCmd.Commands()))
	for _, c := range syncCmd.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"start", "progress", "checkpoint", "resume", "cancel"}, names)
}

func TestSyncStart_DefaultsToIncremental(t *testing.T) {
	mock := setupSyncTest(t)

	out, err := execute(t, "sync", "start", "tenant-a")

	require.NoError(t, err)
	assert.Contains(t, out, "Started incremental sync sync-1 for tenant tenant-a")
	require.Len(t, mock.started, 1)
	assert.Equal(t, startCall{tenant: "tenant-a", mode: domain.SyncModeIncremental}, mock.started[0])
}

func TestSyncStart_ReconciliationWindow(t *testing.T) {
	mock := setupSyncTest(t)

	_, err := execute(t, "sync", "start", "tenant-a", "--mode", "reconciliation",
		"--from", "2025-01-01", "--to", "2025-03-31")

	require.NoError(t, err)
	require.Len(t, mock.started, 1)
	assert.Equal(t, domain.SyncModeReconciliation, mock.started[0].mode)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), mock.started[0].opts.FromDate)
	assert.Equal(t, time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC), mock.started[0].opts.ToDate)
}

func TestSyncStart_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown mode", []string{"--mode", "partial"}},
		{"malformed date", []string{"--from", "01/01/2025"}},
		{"inverted window", []string{"--from", "2025-02-01", "--to", "2025-01-01"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := setupSyncTest(t)
			_, err := execute(t, append([]string{"sync", "start", "tenant-a"}, tt.args...)...)
			assert.ErrorIs(t, err, domain.ErrValidation)
			assert.Empty(t, mock.started)
		})
	}
}

func TestSyncStart_RejectedWhileInProgress(t *testing.T) {
	mock := setupSyncTest(t)
	mock.startErr = domain.ErrSyncInProgress

	_, err := execute(t, "sync", "start", "tenant-a")

	assert.ErrorIs(t, err, domain.ErrSyncInProgress)
}

func TestSyncStart_WaitUntilCompleted(t *testing.T) {
	mock := setupSyncTest(t)
	mock.progress = []*domain.SyncProgress{
		{SyncID: "sync-1", Status: domain.SyncInProgress, Percentage: 20, CurrentStep: "contacts"},
		{SyncID: "sync-1", Status: domain.SyncInProgress, Percentage: 60, CurrentStep: "invoices"},
		{SyncID: "sync-1", Status: domain.SyncCompleted, Percentage: 100},
	}

	out, err := execute(t, "sync", "start", "tenant-a", "--wait")

	require.NoError(t, err)
	assert.Contains(t, out, " 20% contacts")
	assert.Contains(t, out, " 60% invoices")
	assert.Contains(t, out, "Sync sync-1 completed")
}

func TestSyncStart_WaitReportsFailure(t *testing.T) {
	mock := setupSyncTest(t)
	mock.progress = []*domain.SyncProgress{
		{SyncID: "sync-1", Status: domain.SyncFailed, Percentage: 40, Error: "rate limit retries exhausted"},
	}

	_, err := execute(t, "sync", "start", "tenant-a", "-w")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "sync sync-1 failed: rate limit retries exhausted")
}

func TestSyncProgress(t *testing.T) {
	mock := setupSyncTest(t)
	mock.progress = []*domain.SyncProgress{{
		SyncID:      "sync-1",
		TenantID:    "tenant-a",
		Status:      domain.SyncInProgress,
		Percentage:  45,
		CurrentStep: "invoices",
		Steps: map[domain.EntityName]domain.StepProgress{
			domain.EntityInvoices: {Status: domain.SyncInProgress, Count: 120},
			domain.EntityAccounts: {Status: domain.SyncCompleted, Count: 12},
		},
	}}

	out, err := execute(t, "sync", "progress", "sync-1")

	require.NoError(t, err)
	assert.Contains(t, out, "Status:   in_progress (45%)")
	assert.Contains(t, out, "Step:     invoices")
	assert.Less(t, bytes.Index([]byte(out), []byte("accounts")), bytes.Index([]byte(out), []byte("invoices  ")))
}

func TestSyncProgress_NotFound(t *testing.T) {
	setupSyncTest(t)

	out, err := execute(t, "sync", "progress", "unknown")

	require.NoError(t, err)
	assert.Contains(t, out, "No progress recorded for sync unknown.")
}

func TestSyncProgress_JSON(t *testing.T) {
	mock := setupSyncTest(t)
	mock.progress = []*domain.SyncProgress{{SyncID: "sync-1", Status: domain.SyncCompleted, Percentage: 100}}

	out, err := execute(t, "sync", "progress", "sync-1", "--json")

	require.NoError(t, err)
	assert.Contains(t, out, `"sync_id": "sync-1"`)
	assert.Contains(t, out, `"percentage": 100`)
}

func TestSyncCheckpoint(t *testing.T) {
	mock := setupSyncTest(t)

	out, err := execute(t, "sync", "checkpoint", "sync-1")
	require.NoError(t, err)
	assert.Contains(t, out, "No checkpoint for sync sync-1.")

	mock.checkpoint = &domain.Checkpoint{
		Exists:              true,
		Timestamp:           time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC),
		LastCompletedEntity: domain.EntityContacts,
		ProcessedCounts: map[domain.EntityName]int{
			domain.EntityAccounts: 12,
			domain.EntityContacts: 40,
			domain.EntityInvoices: 100,
		},
	}
	out, err = execute(t, "sync", "checkpoint", "sync-1")
	require.NoError(t, err)
	assert.Contains(t, out, "Checkpoint: 2025-06-01T08:00:00Z")
	assert.Contains(t, out, "Last completed entity: contacts")
	assert.Contains(t, out, "invoices")
}

func TestSyncResumeAndCancel(t *testing.T) {
	mock := setupSyncTest(t)

	out, err := execute(t, "sync", "resume", "sync-7")
	require.NoError(t, err)
	assert.Contains(t, out, "Resumed sync sync-7")
	assert.Equal(t, []string{"sync-7"}, mock.resumed)

	out, err = execute(t, "sync", "cancel", "sync-7")
	require.NoError(t, err)
	assert.Contains(t, out, "Cancellation requested for sync sync-7")
	assert.Equal(t, []string{"sync-7"}, mock.cancelled)

	_, err = execute(t, "sync", "cancel", "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSyncCmd_NotConfigured(t *testing.T) {
	old := syncService
	syncService = nil
	defer func() { syncService = old }()

	_, err := execute(t, "sync", "start", "tenant-a")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "sync service not configured")
}

func TestSyncCmd_RequiresArgument(t *testing.T) {
	setupSyncTest(t)

	_, err := execute(t, "sync", "progress")

	assert.Error(t, err)
}
