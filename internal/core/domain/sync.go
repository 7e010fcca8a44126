package domain

import (
	"fmt"
	"slices"
	"time"
)

// SyncMode selects how a sync pass pulls upstream records.
type SyncMode string

// Supported sync modes.
const (
	// SyncModeFull ignores any watermark and pulls every record.
	SyncModeFull SyncMode = "full"
	// SyncModeIncremental pulls records modified after the last watermark.
	SyncModeIncremental SyncMode = "incremental"
	// SyncModeReconciliation compares a date window against local records.
	SyncModeReconciliation SyncMode = "reconciliation"
)

// ParseSyncMode validates a mode name.
func ParseSyncMode(s string) (SyncMode, error) {
	m := SyncMode(s)
	switch m {
	case SyncModeFull, SyncModeIncremental, SyncModeReconciliation:
		return m, nil
	default:
		return "", ValidationErrorf("unknown sync mode %q", s)
	}
}

// SyncStatus is the lifecycle state of a sync run.
type SyncStatus string

// Sync statuses.
const (
	SyncPending    SyncStatus = "pending"
	SyncInProgress SyncStatus = "in_progress"
	SyncCompleted  SyncStatus = "completed"
	SyncFailed     SyncStatus = "failed"
)

// Terminal reports whether no further work happens for this status.
func (s SyncStatus) Terminal() bool {
	return s == SyncCompleted || s == SyncFailed
}

// EntityName identifies a synchronised upstream entity type.
type EntityName string

// Synchronised entities.
const (
	EntityAccounts         EntityName = "accounts"
	EntityContacts         EntityName = "contacts"
	EntityInvoices         EntityName = "invoices"
	EntityBankTransactions EntityName = "bank_transactions"
	EntityPayments         EntityName = "payments"
	EntityBankSummary      EntityName = "bank_summary"
)

// EntityOrder is the dependency order of a sync pass. Referenced entities
// come before the entities that reference them.
var EntityOrder = []EntityName{
	EntityAccounts,
	EntityContacts,
	EntityInvoices,
	EntityBankTransactions,
	EntityPayments,
	EntityBankSummary,
}

// EntityReferences lists, per entity, which field references which entity.
var EntityReferences = map[EntityName]map[string]EntityName{
	EntityInvoices:         {"contact_id": EntityContacts, "account_id": EntityAccounts},
	EntityBankTransactions: {"contact_id": EntityContacts, "account_id": EntityAccounts},
	EntityPayments:         {"account_id": EntityAccounts, "invoice_id": EntityInvoices},
}

// DatedEntities carry a "date" field and honour a reconciliation window.
var DatedEntities = map[EntityName]bool{
	EntityInvoices:         true,
	EntityBankTransactions: true,
	EntityPayments:         true,
}

// EntityCursor is the per-entity checkpoint of a sync run.
type EntityCursor struct {
	Entity EntityName `json:"entity"`

	// Cursor is the opaque token of the next page to request.
	Cursor string `json:"cursor,omitempty"`

	// Pages is the number of pages durably applied.
	Pages int `json:"pages"`

	// Created and Updated count upserted records so far.
	Created int `json:"created"`
	Updated int `json:"updated"`

	// Compared counts records checked by reconciliation.
	Compared int `json:"compared,omitempty"`

	// Drifted counts reconciliation findings.
	Drifted int `json:"drifted,omitempty"`

	// Unresolved counts records whose references did not resolve.
	Unresolved int `json:"unresolved,omitempty"`

	// Watermark is the highest upstream modification time observed.
	Watermark time.Time `json:"watermark,omitempty"`
}

// Processed returns the number of records applied or compared for the entity.
func (c EntityCursor) Processed() int {
	return c.Created + c.Updated + c.Compared
}

// SyncOptions bound a sync pass.
type SyncOptions struct {
	FromDate time.Time `json:"from_date,omitempty"`
	ToDate   time.Time `json:"to_date,omitempty"`
}

// Validate checks the option window.
func (o SyncOptions) Validate() error {
	if !o.FromDate.IsZero() && !o.ToDate.IsZero() && o.ToDate.Before(o.FromDate) {
		return ValidationErrorf("toDate %s is before fromDate %s",
			o.ToDate.Format(time.DateOnly), o.FromDate.Format(time.DateOnly))
	}
	return nil
}

// SyncState is the persisted checkpoint of one sync run.
type SyncState struct {
	SyncID   string     `json:"sync_id"`
	TenantID string     `json:"tenant_id"`
	Mode     SyncMode   `json:"mode"`
	Status   SyncStatus `json:"status"`

	// Cursors holds one entry per entity touched, in processing order.
	Cursors []EntityCursor `json:"cursors"`

	// CompletedEntities is the set of entities fully applied.
	CompletedEntities []EntityName `json:"completed_entities"`

	Options SyncOptions `json:"options"`

	StartedAt   time.Time `json:"started_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// Cursor returns the checkpoint for entity, creating it if absent.
func (s *SyncState) Cursor(entity EntityName) *EntityCursor {
	for i := range s.Cursors {
		if s.Cursors[i].Entity == entity {
			return &s.Cursors[i]
		}
	}
	s.Cursors = append(s.Cursors, EntityCursor{Entity: entity})
	return &s.Cursors[len(s.Cursors)-1]
}

// LookupCursor returns the checkpoint for entity without creating one.
func (s *SyncState) LookupCursor(entity EntityName) (EntityCursor, bool) {
	for _, c := range s.Cursors {
		if c.Entity == entity {
			return c, true
		}
	}
	return EntityCursor{}, false
}

// IsCompleted reports whether entity has been fully applied.
func (s *SyncState) IsCompleted(entity EntityName) bool {
	return slices.Contains(s.CompletedEntities, entity)
}

// MarkCompleted adds entity to the completed set.
func (s *SyncState) MarkCompleted(entity EntityName) {
	if !s.IsCompleted(entity) {
		s.CompletedEntities = append(s.CompletedEntities, entity)
	}
}

// LastCompletedEntity returns the most recently completed entity.
func (s *SyncState) LastCompletedEntity() (EntityName, bool) {
	if len(s.CompletedEntities) == 0 {
		return "", false
	}
	return s.CompletedEntities[len(s.CompletedEntities)-1], true
}

// Totals sums the per-entity counters.
func (s *SyncState) Totals() (created, updated, drifted int) {
	for _, c := range s.Cursors {
		created += c.Created
		updated += c.Updated
		drifted += c.Drifted
	}
	return created, updated, drifted
}

// Watermark returns the per-entity watermark recorded by this run.
func (s *SyncState) Watermark(entity EntityName) time.Time {
	c, _ := s.LookupCursor(entity)
	return c.Watermark
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s *SyncState) Clone() SyncState {
	c := *s
	c.Cursors = slices.Clone(s.Cursors)
	c.CompletedEntities = slices.Clone(s.CompletedEntities)
	return c
}

// SyncResult summarises a finished sync run.
type SyncResult struct {
	SyncID   string
	TenantID string
	Mode     SyncMode
	Status   SyncStatus
	Created  int
	Updated  int
	Drifted  int
	Entities []EntityCursor
	Error    string
	Duration time.Duration
}

// String renders a one-line summary.
func (r SyncResult) String() string {
	return fmt.Sprintf("sync %s (%s) %s: %d created, %d updated, %d drifted",
		r.SyncID, r.Mode, r.Status, r.Created, r.Updated, r.Drifted)
}

// Checkpoint is the caller-facing view of a persisted SyncState.
type Checkpoint struct {
	Exists              bool
	Timestamp           time.Time
	LastCompletedEntity EntityName
	ProcessedCounts     map[EntityName]int
}

// CheckpointFrom derives a Checkpoint from state.
func CheckpointFrom(state *SyncState) Checkpoint {
	if state == nil {
		return Checkpoint{}
	}
	cp := Checkpoint{
		Exists:          true,
		Timestamp:       state.UpdatedAt,
		ProcessedCounts: make(map[EntityName]int, len(state.Cursors)),
	}
	if last, ok := state.LastCompletedEntity(); ok {
		cp.LastCompletedEntity = last
	}
	for _, c := range state.Cursors {
		cp.ProcessedCounts[c.Entity] = c.Processed()
	}
	return cp
}
