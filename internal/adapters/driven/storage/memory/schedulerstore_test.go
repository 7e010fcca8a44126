package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/cashsync/internal/core/domain"
)

func TestSchedulerStore_Tasks(t *testing.T) {
	store := NewSchedulerStore()
	ctx := context.Background()

	task, err := store.GetTask(ctx, domain.TaskIDLedgerSync)
	require.NoError(t, err)
	assert.Nil(t, task)

	require.NoError(t, store.SaveTask(ctx, &domain.ScheduledTask{ID: domain.TaskIDStateReclaim, Interval: time.Hour}))
	require.NoError(t, store.SaveTask(ctx, &domain.ScheduledTask{ID: domain.TaskIDLedgerSync, Enabled: true}))

	tasks, err := store.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, domain.TaskIDLedgerSync, tasks[0].ID)

	require.NoError(t, store.DeleteTask(ctx, domain.TaskIDLedgerSync))
	task, err = store.GetTask(ctx, domain.TaskIDLedgerSync)
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestSchedulerStore_History(t *testing.T) {
	store := NewSchedulerStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.RecordResult(ctx, &domain.TaskResult{
			TaskID:    domain.TaskIDLedgerSync,
			StartedAt: t0.Add(time.Duration(i) * time.Hour),
		}))
	}
	require.NoError(t, store.RecordResult(ctx, &domain.TaskResult{TaskID: domain.TaskIDStateReclaim, StartedAt: t0}))

	history, err := store.GetTaskHistory(ctx, domain.TaskIDLedgerSync, 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, t0.Add(4*time.Hour), history[0].StartedAt)

	require.NoError(t, store.PruneHistory(ctx, 3))
	history, err = store.GetTaskHistory(ctx, domain.TaskIDLedgerSync, 0)
	require.NoError(t, err)
	assert.Len(t, history, 3)
	assert.Equal(t, t0.Add(2*time.Hour), history[2].StartedAt)

	other, err := store.GetTaskHistory(ctx, domain.TaskIDStateReclaim, 10)
	require.NoError(t, err)
	assert.Len(t, other, 1)
}
