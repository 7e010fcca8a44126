package domain

import (
	"maps"
	"slices"
	"time"
)

// UpstreamRecord is one record as pulled from the system of record.
type UpstreamRecord struct {
	// ExternalID is the immutable natural key assigned upstream.
	ExternalID string `json:"id"`

	// UpdatedAt is the upstream modification timestamp.
	UpdatedAt time.Time `json:"updated_at"`

	// Fields holds the domain fields as canonical strings.
	Fields map[string]string `json:"fields"`
}

// LedgerRecord is a locally materialised upstream record.
type LedgerRecord struct {
	TenantID   string
	Entity     EntityName
	ExternalID string

	// LocalID is assigned on first insert and never reassigned.
	LocalID string

	Fields            map[string]string
	UpstreamUpdatedAt time.Time
	LastSyncedAt      time.Time

	// DriftDetected is set by reconciliation; DriftFields names the
	// fields that disagreed with upstream.
	DriftDetected bool
	DriftFields   []string

	// MissingUpstream is set when reconciliation did not find the record.
	MissingUpstream bool
}

// Field returns a domain field or "" when absent.
func (r *LedgerRecord) Field(name string) string {
	if r.Fields == nil {
		return ""
	}
	return r.Fields[name]
}

// Clone returns a deep copy.
func (r LedgerRecord) Clone() LedgerRecord {
	r.Fields = maps.Clone(r.Fields)
	r.DriftFields = slices.Clone(r.DriftFields)
	return r
}

// UpsertResult counts the effect of one page upsert.
type UpsertResult struct {
	Created int
	Updated int
	// Reappeared lists external IDs that had been flagged missing upstream
	// and were pulled again. Their missing flag is cleared; field drift
	// flags are kept.
	Reappeared []string
}

// DriftKind classifies a reconciliation finding.
type DriftKind string

// Drift kinds.
const (
	DriftFieldMismatch   DriftKind = "field_mismatch"
	DriftMissingLocal    DriftKind = "missing_local"
	DriftMissingUpstream DriftKind = "missing_upstream"
)

// DriftFinding records one divergence between local and upstream state.
// It is a reported finding, not an error.
type DriftFinding struct {
	Entity        EntityName
	ExternalID    string
	Kind          DriftKind
	Field         string
	LocalValue    string
	UpstreamValue string
	DetectedAt    time.Time
}

// CompareFields returns the sorted names of fields whose values differ.
func CompareFields(local, upstream map[string]string) []string {
	var diff []string
	for k, uv := range upstream {
		if lv, ok := local[k]; !ok || lv != uv {
			diff = append(diff, k)
		}
	}
	for k := range local {
		if _, ok := upstream[k]; !ok {
			diff = append(diff, k)
		}
	}
	slices.Sort(diff)
	return diff
}
