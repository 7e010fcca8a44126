// Package sqlite provides the durable implementation of the cashsync stores.
//
// It uses modernc.org/sqlite, a pure Go SQLite driver, and serves every
// store from a single database:
//
//   - LedgerStore: materialised upstream records and drift findings
//   - SyncStateStore: sync checkpoints, one in-progress run per tenant
//   - KVStore: TTL key-value entries backing sync progress
//   - CredentialsStore: tenant tokens
//   - ForecastDataStore and ForecastCache: forecast inputs and results
//   - SchedulerStore: background task state and history
//
// # Schema
//
// The schema is managed through versioned migrations in migrations/. Each
// migration is a pair of .up.sql and .down.sql files.
//
// # Data Location
//
// By default, the database is stored at ~/.cashsync/data/cashsync.db
//
// # Concurrency
//
// Writes run in immediate transactions on a single connection, so a
// read-modify-write such as KVStore.Merge is atomic across goroutines and
// processes sharing the file.
package sqlite
