package driving

import "context"

// Scheduler runs the periodic ledger-sync and state-reclaim tasks.
type Scheduler interface {
	// Start blocks running due tasks until ctx is cancelled.
	Start(ctx context.Context) error

	// Stop waits for in-flight tasks to finish.
	Stop() error
}
