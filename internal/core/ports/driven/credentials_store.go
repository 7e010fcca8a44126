package driven

import (
	"context"

	"github.com/custodia-labs/cashsync/internal/core/domain"
)

// CredentialsStore persists tenant credentials.
// Each tenant has at most one credential (1:1 relationship).
type CredentialsStore interface {
	// Save stores a credential. Creates if new, updates if exists.
	Save(ctx context.Context, cred domain.Credential) error

	// Get retrieves the credential of a tenant.
	// Returns domain.ErrNotFound if the tenant never connected.
	Get(ctx context.Context, tenantID string) (*domain.Credential, error)

	// ListTenants returns every tenant that has a credential.
	ListTenants(ctx context.Context) ([]string, error)

	// Delete removes a tenant's credential.
	Delete(ctx context.Context, tenantID string) error
}
