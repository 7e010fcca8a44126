package driven

import (
	"context"

	"github.com/custodia-labs/cashsync/internal/core/domain"
)

// SchedulerStore persists task state and run history so schedules survive
// restarts.
type SchedulerStore interface {
	// GetTask returns nil and no error for an unknown task.
	GetTask(ctx context.Context, taskID string) (*domain.ScheduledTask, error)
	ListTasks(ctx context.Context) ([]domain.ScheduledTask, error)
	// SaveTask creates or replaces the task keyed by ID.
	SaveTask(ctx context.Context, task *domain.ScheduledTask) error
	// DeleteTask removes the task and its history.
	DeleteTask(ctx context.Context, taskID string) error

	RecordResult(ctx context.Context, result *domain.TaskResult) error
	// GetTaskHistory returns up to limit runs, most recent first.
	GetTaskHistory(ctx context.Context, taskID string, limit int) ([]domain.TaskResult, error)
	// PruneHistory keeps the most recent keep runs of each task.
	PruneHistory(ctx context.Context, keep int) error
}
