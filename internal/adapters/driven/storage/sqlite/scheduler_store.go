package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/cashsync/internal/core/domain"
	"github.com/custodia-labs/cashsync/internal/core/ports/driven"
)

const taskColumns = `id, name, interval_ms, last_run, next_run, last_error, last_success, enabled`

type schedulerStore struct {
	store *Store
}

var _ driven.SchedulerStore = (*schedulerStore)(nil)

// GetTask returns nil without error for an unknown task, so the scheduler
// can seed it from config.
func (s *schedulerStore) GetTask(ctx context.Context, taskID string) (*domain.ScheduledTask, error) {
	tasks, err := s.queryTasks(ctx, "WHERE id = ?", taskID)
	if err != nil || len(tasks) == 0 {
		return nil, err
	}
	return &tasks[0], nil
}

// ListTasks returns every task ordered by ID.
func (s *schedulerStore) ListTasks(ctx context.Context) ([]domain.ScheduledTask, error) {
	return s.queryTasks(ctx, "")
}

func (s *schedulerStore) queryTasks(ctx context.Context, where string, args ...any) ([]domain.ScheduledTask, error) {
	rows, err := s.store.db.QueryContext(ctx,
		"SELECT "+taskColumns+" FROM scheduled_tasks "+where+" ORDER BY id", args...)
	if err != nil {
		return nil, fmt.Errorf("query scheduled tasks: %w", err)
	}
	defer rows.Close()

	var tasks []domain.ScheduledTask
	for rows.Next() {
		var (
			task                                domain.ScheduledTask
			intervalMs                          int64
			lastRun, nextRun, lastErr, lastSucc sql.NullString
			enabled                             int
		)
		if err := rows.Scan(&task.ID, &task.Name, &intervalMs,
			&lastRun, &nextRun, &lastErr, &lastSucc, &enabled); err != nil {
			return nil, fmt.Errorf("scan scheduled task: %w", err)
		}
		task.Interval = time.Duration(intervalMs) * time.Millisecond
		task.LastRun = parseNullableTime(lastRun)
		task.NextRun = parseNullableTime(nextRun)
		task.LastError = lastErr.String
		task.LastSuccess = parseNullableTime(lastSucc)
		task.Enabled = enabled == 1
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// SaveTask inserts or replaces the task keyed by ID.
func (s *schedulerStore) SaveTask(ctx context.Context, task *domain.ScheduledTask) error {
	if task == nil || task.ID == "" {
		return domain.ValidationErrorf("scheduled task without id")
	}
	if task.Interval < 0 {
		return domain.ValidationErrorf("task %s: negative interval %s", task.ID, task.Interval)
	}

	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO scheduled_tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name         = excluded.name,
			interval_ms  = excluded.interval_ms,
			last_run     = excluded.last_run,
			next_run     = excluded.next_run,
			last_error   = excluded.last_error,
			last_success = excluded.last_success,
			enabled      = excluded.enabled`,
		task.ID, task.Name, task.Interval.Milliseconds(),
		formatNullableTime(task.LastRun), formatNullableTime(task.NextRun),
		nullString(task.LastError), formatNullableTime(task.LastSuccess),
		boolToInt(task.Enabled))
	if err != nil {
		return fmt.Errorf("save task %s: %w", task.ID, err)
	}
	return nil
}

// DeleteTask removes the task and its run history.
func (s *schedulerStore) DeleteTask(ctx context.Context, taskID string) error {
	return s.store.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM task_results WHERE task_id = ?`, taskID); err != nil {
			return fmt.Errorf("delete history of %s: %w", taskID, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM scheduled_tasks WHERE id = ?`, taskID); err != nil {
			return fmt.Errorf("delete task %s: %w", taskID, err)
		}
		return nil
	})
}

// RecordResult appends one run to the task's history.
func (s *schedulerStore) RecordResult(ctx context.Context, result *domain.TaskResult) error {
	if result == nil {
		return domain.ValidationErrorf("nil task result")
	}
	if result.EndedAt.Before(result.StartedAt) {
		return domain.ValidationErrorf("task %s: run ends before it starts", result.TaskID)
	}

	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO task_results (task_id, started_at, duration_ms, success, error, items_processed)
		VALUES (?, ?, ?, ?, ?, ?)`,
		result.TaskID, formatTime(result.StartedAt), result.Duration().Milliseconds(),
		boolToInt(result.Success), nullString(result.Error), result.ItemsProcessed)
	if err != nil {
		return fmt.Errorf("record result of %s: %w", result.TaskID, err)
	}
	return nil
}

// GetTaskHistory returns up to limit runs, most recent first.
func (s *schedulerStore) GetTaskHistory(ctx context.Context, taskID string, limit int) ([]domain.TaskResult, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT started_at, duration_ms, success, error, items_processed
		FROM task_results
		WHERE task_id = ?
		ORDER BY started_at DESC, id DESC
		LIMIT ?`, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history of %s: %w", taskID, err)
	}
	defer rows.Close()

	var history []domain.TaskResult
	for rows.Next() {
		var (
			started    string
			durationMs int64
			success    int
			errMsg     sql.NullString
		)
		r := domain.TaskResult{TaskID: taskID}
		if err := rows.Scan(&started, &durationMs, &success, &errMsg, &r.ItemsProcessed); err != nil {
			return nil, fmt.Errorf("scan task result: %w", err)
		}
		r.StartedAt, err = time.Parse(timeLayout, started)
		if err != nil {
			return nil, errors.Join(domain.ErrInternal, fmt.Errorf("task %s: started_at %q: %w", taskID, started, err))
		}
		r.EndedAt = r.StartedAt.Add(time.Duration(durationMs) * time.Millisecond)
		r.Success = success == 1
		r.Error = errMsg.String
		history = append(history, r)
	}
	return history, rows.Err()
}

// PruneHistory keeps the most recent keep runs of each task.
func (s *schedulerStore) PruneHistory(ctx context.Context, keep int) error {
	_, err := s.store.db.ExecContext(ctx, `
		DELETE FROM task_results
		WHERE id IN (
			SELECT id FROM (
				SELECT id, ROW_NUMBER() OVER (
					PARTITION BY task_id ORDER BY started_at DESC, id DESC
				) AS rn
				FROM task_results
			) WHERE rn > ?
		)`, keep)
	if err != nil {
		return fmt.Errorf("prune task history: %w", err)
	}
	return nil
}
