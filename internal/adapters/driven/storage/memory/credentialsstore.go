package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/custodia-labs/cashsync/internal/core/domain"
	"github.com/custodia-labs/cashsync/internal/core/ports/driven"
)

// Ensure CredentialsStore implements the interface.
var _ driven.CredentialsStore = (*CredentialsStore)(nil)

// CredentialsStore is an in-memory implementation of driven.CredentialsStore.
type CredentialsStore struct {
	mu    sync.RWMutex
	creds map[string]domain.Credential
}

// NewCredentialsStore creates a new in-memory credentials store.
func NewCredentialsStore() *CredentialsStore {
	return &CredentialsStore{
		creds: make(map[string]domain.Credential),
	}
}

// Save stores or replaces a tenant's credential.
func (s *CredentialsStore) Save(_ context.Context, cred domain.Credential) error {
	if cred.TenantID == "" {
		return domain.ValidationErrorf("credential without tenant")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cred.Scopes = slices.Clone(cred.Scopes)
	s.creds[cred.TenantID] = cred
	return nil
}

// Get retrieves a tenant's credential.
func (s *CredentialsStore) Get(_ context.Context, tenantID string) (*domain.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.creds[tenantID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cred.Scopes = slices.Clone(cred.Scopes)
	return &cred, nil
}

// ListTenants returns tenants with a credential, sorted.
func (s *CredentialsStore) ListTenants(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.creds))
	for id := range s.creds {
		out = append(out, id)
	}
	slices.Sort(out)
	return out, nil
}

// Delete removes a tenant's credential.
func (s *CredentialsStore) Delete(_ context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, tenantID)
	return nil
}
