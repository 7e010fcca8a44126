// Package memory provides in-memory implementations of the driven ports.
//
// The stores are safe for concurrent use and are used by tests and by the
// CLI when no data directory is configured. KVStore honours TTLs against
// an injected clock.
package memory
