// Package driving defines the operations the CLI and any API layer invoke
// on core: starting and observing syncs, reading forecasts, and running
// the background scheduler.
//
// Implementations live in internal/core/services.
package driving
