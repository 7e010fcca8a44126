package cli

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockScheduler struct {
	startErr error
	started  bool
	stopped  bool
}

func (m *mockScheduler) Start(context.Context) error {
	m.started = true
	return m.startErr
}

func (m *mockScheduler) Stop() error {
	m.stopped = true
	return nil
}

type recoveringSyncService struct {
	mockSyncService
	ids []string
	err error
}

func (r *recoveringSyncService) RecoverInterrupted(context.Context) ([]string, error) {
	return r.ids, r.err
}

func setupServeTest(t *testing.T, svc *recoveringSyncService) *mockScheduler {
	t.Helper()
	sched := &mockScheduler{startErr: context.Canceled}
	oldSync, oldSched := syncService, scheduler
	syncService, scheduler = svc, sched
	t.Cleanup(func() { syncService, scheduler = oldSync, oldSched })
	return sched
}

func TestServe_RecoversThenSchedules(t *testing.T) {
	sched := setupServeTest(t, &recoveringSyncService{ids: []string{"sync-1", "sync-2"}})

	out, err := execute(t, "serve")

	require.NoError(t, err, "cancellation is a clean shutdown")
	assert.Contains(t, out, "Resumed interrupted sync sync-1")
	assert.Contains(t, out, "Resumed interrupted sync sync-2")
	assert.True(t, sched.started)
	assert.True(t, sched.stopped)
}

func TestServe_RecoveryFailure(t *testing.T) {
	sched := setupServeTest(t, &recoveringSyncService{err: errors.New("database is locked")})

	_, err := execute(t, "serve")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "recover interrupted syncs")
	assert.False(t, sched.started)
}

func TestServe_SchedulerError(t *testing.T) {
	sched := setupServeTest(t, &recoveringSyncService{})
	sched.startErr = errors.New("boom")

	_, err := execute(t, "serve")

	assert.EqualError(t, err, "boom")
}

func TestServe_NotConfigured(t *testing.T) {
	old := scheduler
	scheduler = nil
	defer func() { scheduler = old }()

	_, err := execute(t, "serve")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheduler not configured")
}
