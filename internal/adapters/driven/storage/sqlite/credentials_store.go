package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/custodia-labs/cashsync/internal/core/domain"
	"github.com/custodia-labs/cashsync/internal/core/ports/driven"
)

type credentialsStore struct {
	store *Store
}

var _ driven.CredentialsStore = (*credentialsStore)(nil)

// Save stores or updates a tenant's credential.
func (s *credentialsStore) Save(ctx context.Context, cred domain.Credential) error {
	if cred.TenantID == "" {
		return domain.ValidationErrorf("credential without tenant")
	}

	credJSON, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("marshalling credential: %w", err)
	}

	_, err = s.store.db.ExecContext(ctx, `
		INSERT INTO credentials (tenant_id, credential, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(tenant_id) DO UPDATE SET
			credential = excluded.credential,
			updated_at = excluded.updated_at
	`, cred.TenantID, string(credJSON), formatTime(cred.UpdatedAt))

	if err != nil {
		return fmt.Errorf("saving credential: %w", err)
	}
	return nil
}

// Get retrieves the credential of a tenant.
func (s *credentialsStore) Get(ctx context.Context, tenantID string) (*domain.Credential, error) {
	var credJSON string
	err := s.store.db.QueryRowContext(ctx,
		"SELECT credential FROM credentials WHERE tenant_id = ?", tenantID).Scan(&credJSON)
	if err != nil {
		return nil, notFound(err, "scanning credential", domain.ErrNotFound)
	}

	var cred domain.Credential
	if err := json.Unmarshal([]byte(credJSON), &cred); err != nil {
		return nil, fmt.Errorf("unmarshalling credential: %w", err)
	}
	return &cred, nil
}

// ListTenants returns every tenant with a credential, sorted.
func (s *credentialsStore) ListTenants(ctx context.Context) ([]string, error) {
	rows, err := s.store.db.QueryContext(ctx, "SELECT tenant_id FROM credentials ORDER BY tenant_id")
	if err != nil {
		return nil, fmt.Errorf("querying tenants: %w", err)
	}
	defer rows.Close()

	var tenants []string //nolint:prealloc // size unknown from query
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning tenant: %w", err)
		}
		tenants = append(tenants, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tenants: %w", err)
	}
	return tenants, nil
}

// Delete removes a tenant's credential.
func (s *credentialsStore) Delete(ctx context.Context, tenantID string) error {
	_, err := s.store.db.ExecContext(ctx, "DELETE FROM credentials WHERE tenant_id = ?", tenantID)
	if err != nil {
		return fmt.Errorf("deleting credential: %w", err)
	}
	return nil
}
