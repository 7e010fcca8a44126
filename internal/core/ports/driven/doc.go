// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Required Interfaces
//
//   - CredentialProvider: Supplies a valid access credential per tenant
//   - AccountingSource: Pulls pages of records from the system of record
//   - LedgerStore: Local ledger persistence with atomic page upsert
//   - SyncStateStore: Checkpoint persistence
//   - KVStore: Shared TTL-capable store backing progress tracking
//   - ForecastDataSource: Recurring, pattern, budget and tax inputs
//   - Clock: Time source and sleeper, injectable for tests
//
// # Optional Interfaces
//
//   - ForecastCache: Reuse of recent forecasts. Without it every request recomputes.
//   - SchedulerStore: Background task state. Without it the scheduler is disabled.
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: Any adapter or connector package
package driven
