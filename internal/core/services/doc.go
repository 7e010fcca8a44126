// Package services implements the driving port interfaces.
//
// SyncOrchestrator runs full, incremental and reconciliation syncs against
// an AccountingSource and checkpoints them per entity. ProgressTracker
// publishes live progress through a KVStore. ForecastEngine projects daily
// balances from the local ledger, and Scheduler runs the periodic
// background tasks.
//
// Services depend only on domain types and driven ports.
package services
