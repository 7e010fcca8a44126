// Package accounting provides the connector to the accounting system of
// record.
//
// Every upstream call passes through an Invoker, which bounds per-tenant
// concurrency, throttles proactively and retries transient failures:
//
//   - 429 responses wait exactly the upstream Retry-After delay
//   - 409, 502, 503, 504 and network failures back off exponentially
//   - other 4xx responses are returned immediately
//
// Entities are pulled one page at a time. Each page result says explicitly
// whether more pages follow, so callers never infer the end of a listing
// from an error.
//
// The bank summary is served as a structured report and is parsed into
// closed Section, Row and TotalRow variants.
package accounting
