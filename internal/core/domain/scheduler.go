package domain

import "time"

// Task IDs for built-in tasks.
const (
	// TaskIDLedgerSync runs an incremental sync for every configured tenant.
	TaskIDLedgerSync = "ledger-sync"
	// TaskIDStateReclaim prunes completed sync states past retention.
	TaskIDStateReclaim = "state-reclaim"
)

// ScheduledTask is the persisted state of one periodic background task.
type ScheduledTask struct {
	ID       string
	Name     string
	Interval time.Duration
	Enabled  bool

	// LastRun and NextRun are zero until the task has been scheduled.
	LastRun     time.Time
	NextRun     time.Time
	LastSuccess time.Time
	LastError   string
}

// Due reports whether an enabled task should run at now. A task that has
// never been scheduled is due immediately.
func (t *ScheduledTask) Due(now time.Time) bool {
	if !t.Enabled {
		return false
	}
	return t.NextRun.IsZero() || !t.NextRun.After(now)
}

// TaskResult is one run of a task.
type TaskResult struct {
	TaskID    string
	StartedAt time.Time
	EndedAt   time.Time
	Success   bool
	Error     string

	// ItemsProcessed counts tenants synced or sync states reclaimed.
	ItemsProcessed int
}

// Duration is the wall time the run took.
func (r TaskResult) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	// Enabled is the master switch for the scheduler.
	Enabled     bool
	TaskConfigs map[string]TaskConfig
}

// TaskConfig configures one task.
type TaskConfig struct {
	Enabled  bool
	Interval time.Duration
}

// GetTaskConfig returns the configuration for a task, or the zero
// TaskConfig when it is not configured.
func (c *SchedulerConfig) GetTaskConfig(taskID string) TaskConfig {
	return c.TaskConfigs[taskID]
}

// DefaultSchedulerConfig syncs hourly and reclaims sync states every six hours.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Enabled: true,
		TaskConfigs: map[string]TaskConfig{
			TaskIDLedgerSync:   {Enabled: true, Interval: time.Hour},
			TaskIDStateReclaim: {Enabled: true, Interval: 6 * time.Hour},
		},
	}
}
