package domain

import (
	"maps"
	"time"
)

// StepProgress is the per-entity view inside SyncProgress.
type StepProgress struct {
	Status SyncStatus `json:"status"`
	Count  int        `json:"count"`
	Error  string     `json:"error,omitempty"`
}

// SyncProgress is the pollable state of a sync run.
type SyncProgress struct {
	SyncID      string                      `json:"sync_id"`
	TenantID    string                      `json:"tenant_id,omitempty"`
	Status      SyncStatus                  `json:"status"`
	Percentage  int                         `json:"percentage"`
	CurrentStep string                      `json:"current_step,omitempty"`
	Steps       map[EntityName]StepProgress `json:"steps"`
	StartedAt   time.Time                   `json:"started_at"`
	LastUpdated time.Time                   `json:"last_updated"`
	CompletedAt time.Time                   `json:"completed_at,omitempty"`
	Error       string                      `json:"error,omitempty"`

	// FieldSeq holds the sequence of the last update applied per field.
	FieldSeq map[string]uint64 `json:"field_seq,omitempty"`
}

// HasProgress reports whether any work has been recorded yet.
func (p *SyncProgress) HasProgress() bool {
	if p.Percentage > 0 || p.Status != SyncPending {
		return true
	}
	for _, s := range p.Steps {
		if s.Count > 0 || s.Status != SyncPending {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (p SyncProgress) Clone() SyncProgress {
	p.Steps = maps.Clone(p.Steps)
	p.FieldSeq = maps.Clone(p.FieldSeq)
	return p
}

// ProgressUpdate is a partial update. Nil fields are left untouched.
type ProgressUpdate struct {
	TenantID    *string
	Status      *SyncStatus
	Percentage  *int
	CurrentStep *string
	Steps       map[EntityName]StepProgress
	StartedAt   *time.Time
	CompletedAt *time.Time
	Error       *string
}

// Ptr returns a pointer to v. Convenient for building ProgressUpdates.
func Ptr[T any](v T) *T {
	return &v
}
