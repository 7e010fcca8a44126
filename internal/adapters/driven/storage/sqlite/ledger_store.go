package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/cashsync/internal/core/domain"
	"github.com/custodia-labs/cashsync/internal/core/ports/driven"
)

// existingBatch bounds the number of bound parameters per IN clause.
const existingBatch = 500

// ledgerStore implements driven.LedgerStore.
type ledgerStore struct {
	store *Store
}

var _ driven.LedgerStore = (*ledgerStore)(nil)

const ledgerColumns = `tenant_id, entity, external_id, local_id, fields, upstream_updated_at,
	last_synced_at, drift_detected, drift_fields, missing_upstream`

// UpsertPage applies one page in a single transaction.
func (s *ledgerStore) UpsertPage(
	ctx context.Context,
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

	var result domain.UpsertResult
	err := s.store.inTx(ctx, func(tx *sql.Tx) error {
		for _, rec := range records {
			fieldsJSON, err := json.Marshal(rec.Fields)
			if err != nil {
				return fmt.Errorf("marshalling fields of %s: %w", rec.ExternalID, err)
			}

			var missing int
			err = tx.QueryRowContext(ctx, `
				SELECT missing_upstream FROM ledger_records
				WHERE tenant_id = ? AND entity = ? AND external_id = ?
			`, tenantID, string(entity), rec.ExternalID).Scan(&missing)
			switch {
			case err == nil:
				_, err = tx.ExecContext(ctx, `
					UPDATE ledger_records
					SET fields = ?, upstream_updated_at = ?, last_synced_at = ?,
						missing_upstream = 0, drift_detected = (drift_fields != '[]')
					WHERE tenant_id = ? AND entity = ? AND external_id = ?
				`, string(fieldsJSON), formatNullableTime(rec.UpdatedAt), formatTime(syncedAt),
					tenantID, string(entity), rec.ExternalID)
				if err != nil {
					return fmt.Errorf("updating %s %s: %w", entity, rec.ExternalID, err)
				}
				result.Updated++
				if missing == 1 {
					result.Reappeared = append(result.Reappeared, rec.ExternalID)
				}
				continue
			case !errors.Is(err, sql.ErrNoRows):
				return fmt.Errorf("reading %s %s: %w", entity, rec.ExternalID, err)
			}

			_, err = tx.ExecContext(ctx, `
				INSERT INTO ledger_records
					(tenant_id, entity, external_id, local_id, fields, upstream_updated_at, last_synced_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, tenantID, string(entity), rec.ExternalID, uuid.New().String(), string(fieldsJSON),
				formatNullableTime(rec.UpdatedAt), formatTime(syncedAt))
			if err != nil {
				return fmt.Errorf("inserting %s %s: %w", entity, rec.ExternalID, err)
			}
			result.Created++
		}
		return nil
	})
	if err != nil {
		return domain.UpsertResult{}, err
	}
	return result, nil
}

// Get retrieves one record.
func (s *ledgerStore) Get(
	ctx context.Context,
	tenantID string,
	entity domain.EntityName,
	externalID string,
) (*domain.LedgerRecord, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT `+ledgerColumns+`
		FROM ledger_records WHERE tenant_id = ? AND entity = ? AND external_id = ?
	`, tenantID, string(entity), externalID)
	return scanLedgerRecord(row)
}

// List returns every record of an entity ordered by externalId.
func (s *ledgerStore) List(ctx context.Context, tenantID string, entity domain.EntityName) ([]domain.LedgerRecord, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT `+ledgerColumns+`
		FROM ledger_records WHERE tenant_id = ? AND entity = ?
		ORDER BY external_id
	`, tenantID, string(entity))
	if err != nil {
		return nil, fmt.Errorf("querying ledger records: %w", err)
	}
	defer rows.Close()

	var out []domain.LedgerRecord //nolint:prealloc // size unknown from query
	for rows.Next() {
		rec, err := scanLedgerRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating ledger records: %w", err)
	}
	return out, nil
}

// Count returns the number of records of an entity.
func (s *ledgerStore) Count(ctx context.Context, tenantID string, entity domain.EntityName) (int, error) {
	var n int
	err := s.store.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM ledger_records WHERE tenant_id = ? AND entity = ?
	`, tenantID, string(entity)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting ledger records: %w", err)
	}
	return n, nil
}

// Existing returns which externalIds are materialised.
func (s *ledgerStore) Existing(
	ctx context.Context,
	tenantID string,
	entity domain.EntityName,
	externalIDs []string,
) (map[string]bool, error) {
	out := make(map[string]bool, len(externalIDs))
	for batch := range slices.Chunk(externalIDs, existingBatch) {
		args := make([]any, 0, len(batch)+2)
		args = append(args, tenantID, string(entity))
		for _, id := range batch {
			args = append(args, id)
		}
		rows, err := s.store.db.QueryContext(ctx, `
			SELECT external_id FROM ledger_records
			WHERE tenant_id = ? AND entity = ? AND external_id IN (`+placeholders(len(batch))+`)
		`, args...)
		if err != nil {
			return nil, fmt.Errorf("querying existing records: %w", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scanning external id: %w", err)
			}
			out[id] = true
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("iterating existing records: %w", err)
		}
	}
	return out, nil
}

// FlagDrift records findings and marks the affected records in one
// transaction. Domain fields are left untouched.
func (s *ledgerStore) FlagDrift(ctx context.Context, tenantID string, findings []domain.DriftFinding) error {
	return s.store.inTx(ctx, func(tx *sql.Tx) error {
		for _, f := range findings {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO drift_findings
					(tenant_id, entity, external_id, kind, field, local_value, upstream_value, detected_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			`, tenantID, string(f.Entity), f.ExternalID, string(f.Kind), nullString(f.Field),
				nullString(f.LocalValue), nullString(f.UpstreamValue), formatTime(f.DetectedAt))
			if err != nil {
				return fmt.Errorf("recording drift finding: %w", err)
			}

			switch f.Kind {
			case domain.DriftFieldMismatch:
				if err := addDriftField(ctx, tx, tenantID, f); err != nil {
					return err
				}
			case domain.DriftMissingUpstream:
				_, err := tx.ExecContext(ctx, `
					UPDATE ledger_records SET drift_detected = 1, missing_upstream = 1
					WHERE tenant_id = ? AND entity = ? AND external_id = ?
				`, tenantID, string(f.Entity), f.ExternalID)
				if err != nil {
					return fmt.Errorf("flagging missing record: %w", err)
				}
			}
		}
		return nil
	})
}

func addDriftField(ctx context.Context, tx *sql.Tx, tenantID string, f domain.DriftFinding) error {
	var fieldsJSON string
	err := tx.QueryRowContext(ctx, `
		SELECT drift_fields FROM ledger_records
		WHERE tenant_id = ? AND entity = ? AND external_id = ?
	`, tenantID, string(f.Entity), f.ExternalID).Scan(&fieldsJSON)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading drift fields: %w", err)
	}

	var fields []string
	if err := json.Unmarshal([]byte(fieldsJSON), &fields); err != nil {
		return fmt.Errorf("unmarshalling drift fields: %w", err)
	}
	if !slices.Contains(fields, f.Field) {
		fields = append(fields, f.Field)
		slices.Sort(fields)
	}
	updated, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshalling drift fields: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE ledger_records SET drift_detected = 1, drift_fields = ?
		WHERE tenant_id = ? AND entity = ? AND external_id = ?
	`, string(updated), tenantID, string(f.Entity), f.ExternalID)
	if err != nil {
		return fmt.Errorf("flagging drifted record: %w", err)
	}
	return nil
}

// ListDrift returns the recorded findings of a tenant in detection order.
func (s *ledgerStore) ListDrift(ctx context.Context, tenantID string) ([]domain.DriftFinding, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT entity, external_id, kind, field, local_value, upstream_value, detected_at
		FROM drift_findings WHERE tenant_id = ?
		ORDER BY id
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("querying drift findings: %w", err)
	}
	defer rows.Close()

	var out []domain.DriftFinding //nolint:prealloc // size unknown from query
	for rows.Next() {
		var f domain.DriftFinding
		var entity, kind, detectedAt string
		var field, local, upstream sql.NullString
		if err := rows.Scan(&entity, &f.ExternalID, &kind, &field, &local, &upstream, &detectedAt); err != nil {
			return nil, fmt.Errorf("scanning drift finding: %w", err)
		}
		f.Entity = domain.EntityName(entity)
		f.Kind = domain.DriftKind(kind)
		f.Field = field.String
		f.LocalValue = local.String
		f.UpstreamValue = upstream.String
		f.DetectedAt = parseNullableTime(sql.NullString{String: detectedAt, Valid: true})
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating drift findings: %w", err)
	}
	return out, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanLedgerRecord scans a single ledger row.
func scanLedgerRecord(row rowScanner) (*domain.LedgerRecord, error) {
	var rec domain.LedgerRecord
	var entity, fieldsJSON, driftJSON string
	var upstreamUpdated, lastSynced sql.NullString
	var drifted, missing int

	if err := row.Scan(&rec.TenantID, &entity, &rec.ExternalID, &rec.LocalID, &fieldsJSON,
		&upstreamUpdated, &lastSynced, &drifted, &driftJSON, &missing); err != nil {
		return nil, notFound(err, "scanning ledger record", domain.ErrNotFound)
	}

	rec.Entity = domain.EntityName(entity)
	rec.UpstreamUpdatedAt = parseNullableTime(upstreamUpdated)
	rec.LastSyncedAt = parseNullableTime(lastSynced)
	rec.DriftDetected = drifted == 1
	rec.MissingUpstream = missing == 1

	if err := json.Unmarshal([]byte(fieldsJSON), &rec.Fields); err != nil {
		return nil, fmt.Errorf("unmarshalling fields: %w", err)
	}
	if err := json.Unmarshal([]byte(driftJSON), &rec.DriftFields); err != nil {
		return nil, fmt.Errorf("unmarshalling drift fields: %w", err)
	}
	if len(rec.DriftFields) == 0 {
		rec.DriftFields = nil
	}
	return &rec, nil
}
