package memory

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/cashsync/internal/core/domain"
	"github.com/custodia-labs/cashsync/internal/core/ports/driven"
)

// Ensure LedgerStore implements the interface.
var _ driven.LedgerStore = (*LedgerStore)(nil)

type ledgerKey struct {
	tenant     string
	entity     domain.EntityName
	externalID string
}

// LedgerStore is an in-memory implementation of driven.LedgerStore.
// A single lock makes every page upsert atomic with respect to readers.
type LedgerStore struct {
	mu       sync.RWMutex
	records  map[ledgerKey]domain.LedgerRecord
	findings map[string][]domain.DriftFinding
}

// NewLedgerStore creates a new in-memory ledger store.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		records:  make(map[ledgerKey]domain.LedgerRecord),
		findings: make(map[string][]domain.DriftFinding),
	}
}

// UpsertPage applies a page of records atomically.
func (s *LedgerStore) UpsertPage(
	_ context.Context,
	tenantID string,
	entity domain.EntityName,
	records []domain.UpstreamRecord,
	syncedAt time.Time,
) (domain.UpsertResult, error) {
	for _, rec := range records {
		if rec.ExternalID == "" {
			return domain.UpsertResult{}, domain.ValidationErrorf("%s record without external id", entity)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var result domain.UpsertResult
	for _, rec := range records {
		key := ledgerKey{tenant: tenantID, entity: entity, externalID: rec.ExternalID}
		existing, ok := s.records[key]
		if !ok {
			existing = domain.LedgerRecord{
				TenantID:   tenantID,
				Entity:     entity,
				ExternalID: rec.ExternalID,
				LocalID:    uuid.New().String(),
			}
			result.Created++
		} else {
			result.Updated++
			if existing.MissingUpstream {
				result.Reappeared = append(result.Reappeared, rec.ExternalID)
				existing.MissingUpstream = false
				existing.DriftDetected = len(existing.DriftFields) > 0
			}
		}
		existing.Fields = maps.Clone(rec.Fields)
		existing.UpstreamUpdatedAt = rec.UpdatedAt
		existing.LastSyncedAt = syncedAt
		s.records[key] = existing
	}
	return result, nil
}

// Get retrieves one record.
func (s *LedgerStore) Get(
	_ context.Context,
	tenantID string,
	entity domain.EntityName,
	externalID string,
) (*domain.LedgerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[ledgerKey{tenant: tenantID, entity: entity, externalID: externalID}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := rec.Clone()
	return &c, nil
}

// List returns every record of an entity ordered by externalId.
func (s *LedgerStore) List(_ context.Context, tenantID string, entity domain.EntityName) ([]domain.LedgerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.LedgerRecord
	for key, rec := range s.records {
		if key.tenant == tenantID && key.entity == entity {
			out = append(out, rec.Clone())
		}
	}
	slices.SortFunc(out, func(a, b domain.LedgerRecord) int {
		return strings.Compare(a.ExternalID, b.ExternalID)
	})
	return out, nil
}

// Count returns the number of records of an entity.
func (s *LedgerStore) Count(_ context.Context, tenantID string, entity domain.EntityName) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for key := range s.records {
		if key.tenant == tenantID && key.entity == entity {
			n++
		}
	}
	return n, nil
}

// Existing returns which externalIds are materialised.
func (s *LedgerStore) Existing(
	_ context.Context,
	tenantID string,
	entity domain.EntityName,
	externalIDs []string,
) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]bool, len(externalIDs))
	for _, id := range externalIDs {
		if _, ok := s.records[ledgerKey{tenant: tenantID, entity: entity, externalID: id}]; ok {
			out[id] = true
		}
	}
	return out, nil
}

// FlagDrift records findings and marks the affected records.
func (s *LedgerStore) FlagDrift(_ context.Context, tenantID string, findings []domain.DriftFinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range findings {
		key := ledgerKey{tenant: tenantID, entity: f.Entity, externalID: f.ExternalID}
		rec, ok := s.records[key]
		if ok {
			switch f.Kind {
			case domain.DriftFieldMismatch:
				rec.DriftDetected = true
				if !slices.Contains(rec.DriftFields, f.Field) {
					rec.DriftFields = append(rec.DriftFields, f.Field)
					slices.Sort(rec.DriftFields)
				}
			case domain.DriftMissingUpstream:
				rec.DriftDetected = true
				rec.MissingUpstream = true
			}
			s.records[key] = rec
		}
		s.findings[tenantID] = append(s.findings[tenantID], f)
	}
	return nil
}

// ListDrift returns the recorded findings of a tenant.
func (s *LedgerStore) ListDrift(_ context.Context, tenantID string) ([]domain.DriftFinding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.findings[tenantID]), nil
}
