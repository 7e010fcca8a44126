package driven

import (
	"context"

	"github.com/custodia-labs/cashsync/internal/core/domain"
)

// CredentialProvider supplies access credentials for upstream calls.
// Implementations handle refresh transparently: a credential within its
// expiry window is reused, one past expiry is refreshed before it is returned.
//
// The OAuth2/PKCE handshake that first connects a tenant happens elsewhere;
// this port only hands out what was stored.
type CredentialProvider interface {
	// GetValidCredential returns a usable credential for the tenant.
	// Fails with a *domain.AuthError ("not_connected" or "expired").
	GetValidCredential(ctx context.Context, tenantID string) (*domain.Credential, error)
}

// CredentialInvalidator is implemented by providers that cache credentials.
// The orchestrator calls it when upstream rejects a credential, so that the
// next run reloads from storage instead of replaying the rejected token.
type CredentialInvalidator interface {
	InvalidateCache(tenantID string)
}
