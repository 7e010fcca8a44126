// Package auth provides CredentialProvider implementations.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/custodia-labs/cashsync/internal/core/domain"
	"github.com/custodia-labs/cashsync/internal/core/ports/driven"
	"github.com/custodia-labs/cashsync/internal/logger"
)

// Ensure OAuthCredentialProvider implements the CredentialProvider interface.
var _ driven.CredentialProvider = (*OAuthCredentialProvider)(nil)

// DefaultRefreshBuffer refreshes a token this long before it expires.
const DefaultRefreshBuffer = 5 * time.Minute

// OAuthCredentialProvider hands out stored OAuth credentials, refreshing
// them through the token endpoint once they approach expiry.
type OAuthCredentialProvider struct {
	store      driven.CredentialsStore
	config     *oauth2.Config
	clock      driven.Clock
	httpClient *http.Client

	refreshBuffer time.Duration

	mu    sync.RWMutex
	cache map[string]domain.Credential

	refreshes singleflight.Group
}

// NewOAuthCredentialProvider creates a provider for the given upstream.
// A nil httpClient uses http.DefaultClient.
func NewOAuthCredentialProvider(
	store driven.CredentialsStore,
	upstream domain.UpstreamConfig,
	clock driven.Clock,
	httpClient *http.Client,
) *OAuthCredentialProvider {
	return &OAuthCredentialProvider{
		store: store,
		config: &oauth2.Config{
			ClientID:     upstream.ClientID,
			ClientSecret: upstream.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  upstream.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
			Scopes: upstream.Scopes,
		},
		clock:         clock,
		httpClient:    httpClient,
		refreshBuffer: DefaultRefreshBuffer,
		cache:         make(map[string]domain.Credential),
	}
}

// GetValidCredential returns a credential that remains valid for at least
// the refresh buffer, refreshing it if necessary.
func (p *OAuthCredentialProvider) GetValidCredential(ctx context.Context, tenantID string) (*domain.Credential, error) {
	// Fast path: cached and comfortably valid
	p.mu.RLock()
	cached, ok := p.cache[tenantID]
	p.mu.RUnlock()
	if ok && cached.ValidFor(p.clock.Now(), p.refreshBuffer) {
		return &cached, nil
	}

	// Slow path: one load/refresh per tenant at a time
	v, err, _ := p.refreshes.Do(tenantID, func() (any, error) {
		return p.load(ctx, tenantID)
	})
	if err != nil {
		return nil, err
	}
	cred := v.(domain.Credential)
	return &cred, nil
}

func (p *OAuthCredentialProvider) load(ctx context.Context, tenantID string) (domain.Credential, error) {
	stored, err := p.store.Get(ctx, tenantID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Credential{}, domain.NewAuthError(tenantID, domain.AuthReasonNotConnected, nil)
	}
	if err != nil {
		return domain.Credential{}, fmt.Errorf("get credentials: %w", err)
	}
	if stored.AccessToken == "" && !stored.HasRefreshToken() {
		return domain.Credential{}, domain.NewAuthError(tenantID, domain.AuthReasonNotConnected, nil)
	}

	now := p.clock.Now()
	if stored.ValidFor(now, p.refreshBuffer) {
		p.remember(*stored)
		return *stored, nil
	}

	if !stored.HasRefreshToken() {
		if stored.AccessToken != "" && !stored.IsExpired(now) {
			// Inside the buffer but not yet expired; usable as is.
			return *stored, nil
		}
		return domain.Credential{}, domain.NewAuthError(tenantID, domain.AuthReasonExpired, nil)
	}

	refreshed, err := p.refresh(ctx, stored)
	if err != nil {
		return domain.Credential{}, err
	}
	if err := p.store.Save(ctx, refreshed); err != nil {
		return domain.Credential{}, fmt.Errorf("save refreshed credentials: %w", err)
	}
	p.remember(refreshed)
	logger.Debug("auth: refreshed credential for tenant %s, expires %s", tenantID, refreshed.Expiry.Format(time.RFC3339))
	return refreshed, nil
}

// refresh exchanges the refresh token for a new access token.
func (p *OAuthCredentialProvider) refresh(ctx context.Context, stored *domain.Credential) (domain.Credential, error) {
	if p.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	}

	// An expiry in the past makes the token source refresh immediately.
	src := p.config.TokenSource(ctx, &oauth2.Token{
		AccessToken:  stored.AccessToken,
		RefreshToken: stored.RefreshToken,
		TokenType:    stored.TokenType,
		Expiry:       time.Unix(1, 0),
	})
	tok, err := src.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return domain.Credential{}, domain.NewAuthError(stored.TenantID, domain.AuthReasonExpired, err)
		}
		return domain.Credential{}, fmt.Errorf("%w: refresh token: %w", domain.ErrUpstreamUnavailable, err)
	}

	refreshed := *stored
	refreshed.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		refreshed.RefreshToken = tok.RefreshToken
	}
	if tok.TokenType != "" {
		refreshed.TokenType = tok.TokenType
	}
	refreshed.Expiry = tok.Expiry
	refreshed.UpdatedAt = p.clock.Now()
	return refreshed, nil
}

func (p *OAuthCredentialProvider) remember(cred domain.Credential) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache[cred.TenantID] = cred
}

var _ driven.CredentialInvalidator = (*OAuthCredentialProvider)(nil)

// InvalidateCache drops the cached credential of a tenant.
func (p *OAuthCredentialProvider) InvalidateCache(tenantID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cache, tenantID)
}
