package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/cashsync/internal/core/domain"
)

// LedgerStore persists LedgerRecords keyed by (tenant, entity, externalId).
type LedgerStore interface {
	// UpsertPage applies one page as a single atomic unit. Records absent
	// by externalId are inserted with a fresh localId; present ones have
	// their mutable fields updated and keep their localId.
	UpsertPage(
		ctx context.Context,
		tenantID string,
		entity domain.EntityName,
		records []domain.UpstreamRecord,
		syncedAt time.Time,
	) (domain.UpsertResult, error)

	// Get retrieves one record. Returns domain.ErrNotFound if absent.
	Get(ctx context.Context, tenantID string, entity domain.EntityName, externalID string) (*domain.LedgerRecord, error)

	// List returns every record of an entity ordered by externalId.
	List(ctx context.Context, tenantID string, entity domain.EntityName) ([]domain.LedgerRecord, error)

	// Count returns the number of records of an entity.
	Count(ctx context.Context, tenantID string, entity domain.EntityName) (int, error)

	// Existing returns which of the given externalIds are materialised.
	Existing(ctx context.Context, tenantID string, entity domain.EntityName, externalIDs []string) (map[string]bool, error)

	// FlagDrift atomically records findings and marks affected records.
	// Domain fields are never overwritten.
	FlagDrift(ctx context.Context, tenantID string, findings []domain.DriftFinding) error

	// ListDrift returns the recorded findings of a tenant.
	ListDrift(ctx context.Context, tenantID string) ([]domain.DriftFinding, error)
}
