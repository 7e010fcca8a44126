package auth

import (
	"context"
	"sync"

	"github.com/custodia-labs/cashsync/internal/core/domain"
	"github.com/custodia-labs/cashsync/internal/core/ports/driven"
)

// Ensure StaticCredentialProvider implements the CredentialProvider interface.
var _ driven.CredentialProvider = (*StaticCredentialProvider)(nil)

// StaticCredentialProvider serves fixed credentials without refresh.
// Used for API keys configured out of band and in tests.
type StaticCredentialProvider struct {
	clock driven.Clock

	mu    sync.RWMutex
	creds map[string]domain.Credential
}

// NewStaticCredentialProvider creates an empty static provider.
func NewStaticCredentialProvider(clock driven.Clock) *StaticCredentialProvider {
	return &StaticCredentialProvider{
		clock: clock,
		creds: make(map[string]domain.Credential),
	}
}

// Set registers the credential of a tenant.
func (p *StaticCredentialProvider) Set(cred domain.Credential) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.creds[cred.TenantID] = cred
}

// Disconnect forgets the credential of a tenant.
func (p *StaticCredentialProvider) Disconnect(tenantID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.creds, tenantID)
}

// GetValidCredential returns the tenant's credential unless it has expired.
func (p *StaticCredentialProvider) GetValidCredential(_ context.Context, tenantID string) (*domain.Credential, error) {
	p.mu.RLock()
	cred, ok := p.creds[tenantID]
	p.mu.RUnlock()

	if !ok || cred.AccessToken == "" {
		return nil, domain.NewAuthError(tenantID, domain.AuthReasonNotConnected, nil)
	}
	if cred.IsExpired(p.clock.Now()) {
		return nil, domain.NewAuthError(tenantID, domain.AuthReasonExpired, nil)
	}
	return &cred, nil
}
