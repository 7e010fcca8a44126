// Package domain defines the core business entities for cashsync.
//
// This package is part of the hexagonal architecture's innermost layer.
// It defines the fundamental types:
//
//   - SyncState: A checkpointed sync run for one tenant
//   - LedgerRecord: A locally materialised record keyed by its external ID
//   - SyncProgress: The pollable live view of a sync run
//   - ForecastDay: One projected day of opening and closing cash
//
// # Architectural Position
//
// Domain is at the centre of the hexagon. All other packages depend on
// domain, never the reverse.
//
// # Import Rules
//
//   - Can Import: Standard library, github.com/shopspring/decimal for money
//   - Cannot Import: Any internal/ package
package domain
