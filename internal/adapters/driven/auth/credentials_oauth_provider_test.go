package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/cashsync/internal/adapters/driven/clock"
	"github.com/custodia-labs/cashsync/internal/core/domain"
)

// mockCredentialsStore is a minimal in-memory credentials store for tests.
type mockCredentialsStore struct {
	mu    sync.Mutex
	creds map[string]domain.Credential
	saves int
}

func newMockCredentialsStore(creds ...domain.Credential) *mockCredentialsStore {
	s := &mockCredentialsStore{creds: make(map[string]domain.Credential)}
	for _, c := range creds {
		s.creds[c.TenantID] = c
	}
	return s
}

func (s *mockCredentialsStore) Save(_ context.Context, cred domain.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[cred.TenantID] = cred
	s.saves++
	return nil
}

func (s *mockCredentialsStore) Get(_ context.Context, tenantID string) (*domain.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[tenantID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &c, nil
}

func (s *mockCredentialsStore) ListTenants(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.creds))
	for id := range s.creds {
		out = append(out, id)
	}
	return out, nil
}

func (s *mockCredentialsStore) Delete(_ context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, tenantID)
	return nil
}

func tokenServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "refresh-1", r.PostForm.Get("refresh_token"))
		assert.Equal(t, "client-id", r.PostForm.Get("client_id"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newProvider(store *mockCredentialsStore, tokenURL string) (*OAuthCredentialProvider, *clock.Fake) {
	c := clock.NewFake(time.Now())
	p := NewOAuthCredentialProvider(store, domain.UpstreamConfig{
		TokenURL:     tokenURL,
		ClientID:     "client-id",
		ClientSecret: "secret",
	}, c, nil)
	return p, c
}

func TestOAuthProvider_NotConnected(t *testing.T) {
	p, _ := newProvider(newMockCredentialsStore(), "http://unused")

	_, err := p.GetValidCredential(context.Background(), "t1")

	var authErr *domain.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, domain.AuthReasonNotConnected, authErr.Reason)
	assert.ErrorIs(t, err, domain.ErrAuthNotConnected)
}

func TestOAuthProvider_ReusesValidCredential(t *testing.T) {
	srv, calls := tokenServer(t, http.StatusOK, `{}`)
	store := newMockCredentialsStore(domain.Credential{
		TenantID:     "t1",
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(time.Hour),
	})
	p, _ := newProvider(store, srv.URL)

	for n := 0; n < 3; n++ {
		cred, err := p.GetValidCredential(context.Background(), "t1")
		require.NoError(t, err)
		assert.Equal(t, "access-1", cred.AccessToken)
	}
	assert.Equal(t, int32(0), calls.Load())
}

func TestOAuthProvider_RefreshesExpired(t *testing.T) {
	srv, calls := tokenServer(t, http.StatusOK,
		`{"access_token":"access-2","token_type":"Bearer","expires_in":3600,"refresh_token":"refresh-2"}`)
	store := newMockCredentialsStore(domain.Credential{
		TenantID:     "t1",
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(-time.Minute),
	})
	p, _ := newProvider(store, srv.URL)

	cred, err := p.GetValidCredential(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "access-2", cred.AccessToken)
	assert.Equal(t, "refresh-2", cred.RefreshToken)
	assert.True(t, cred.Expiry.After(time.Now().Add(50*time.Minute)))

	saved, err := store.Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "access-2", saved.AccessToken)

	// Cached after refresh
	_, err = p.GetValidCredential(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestOAuthProvider_RefreshesWithinBuffer(t *testing.T) {
	srv, calls := tokenServer(t, http.StatusOK,
		`{"access_token":"access-2","token_type":"Bearer","expires_in":3600}`)
	store := newMockCredentialsStore(domain.Credential{
		TenantID:     "t1",
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(2 * time.Minute),
	})
	p, _ := newProvider(store, srv.URL)

	cred, err := p.GetValidCredential(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "access-2", cred.AccessToken)
	assert.Equal(t, "refresh-1", cred.RefreshToken)
	assert.Equal(t, int32(1), calls.Load())
}

func TestOAuthProvider_ExpiredWithoutRefreshToken(t *testing.T) {
	store := newMockCredentialsStore(domain.Credential{
		TenantID:    "t1",
		AccessToken: "access-1",
		Expiry:      time.Now().Add(-time.Minute),
	})
	p, _ := newProvider(store, "http://unused")

	_, err := p.GetValidCredential(context.Background(), "t1")
	assert.ErrorIs(t, err, domain.ErrAuthExpired)
}

func TestOAuthProvider_RefreshRejected(t *testing.T) {
	srv, _ := tokenServer(t, http.StatusBadRequest, `{"error":"invalid_grant"}`)
	store := newMockCredentialsStore(domain.Credential{
		TenantID:     "t1",
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(-time.Minute),
	})
	p, _ := newProvider(store, srv.URL)

	_, err := p.GetValidCredential(context.Background(), "t1")

	var authErr *domain.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, domain.AuthReasonExpired, authErr.Reason)
	assert.Equal(t, 0, store.saves)
}

func TestOAuthProvider_ConcurrentRefreshCoalesced(t *testing.T) {
	srv, calls := tokenServer(t, http.StatusOK,
		`{"access_token":"access-2","token_type":"Bearer","expires_in":3600}`)
	store := newMockCredentialsStore(domain.Credential{
		TenantID:     "t1",
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(-time.Minute),
	})
	p, _ := newProvider(store, srv.URL)

	var wg sync.WaitGroup
	for n := 0; n < 8; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cred, err := p.GetValidCredential(context.Background(), "t1")
			assert.NoError(t, err)
			if cred != nil {
				assert.Equal(t, "access-2", cred.AccessToken)
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, calls.Load(), int32(2))
}

func TestOAuthProvider_InvalidateCache(t *testing.T) {
	store := newMockCredentialsStore(domain.Credential{
		TenantID:    "t1",
		AccessToken: "access-1",
		Expiry:      time.Now().Add(time.Hour),
	})
	p, _ := newProvider(store, "http://unused")

	_, err := p.GetValidCredential(context.Background(), "t1")
	require.NoError(t, err)

	require.NoError(t, store.Delete(context.Background(), "t1"))
	p.InvalidateCache("t1")

	_, err = p.GetValidCredential(context.Background(), "t1")
	assert.ErrorIs(t, err, domain.ErrAuthNotConnected)
}
