package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/cashsync/internal/adapters/driven/clock"
	"github.com/custodia-labs/cashsync/internal/core/domain"
)

func TestStaticProvider(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	c := clock.NewFake(now)
	p := NewStaticCredentialProvider(c)

	_, err := p.GetValidCredential(context.Background(), "t1")
	assert.ErrorIs(t, err, domain.ErrAuthNotConnected)

	p.Set(domain.Credential{TenantID: "t1", AccessToken: "tok", Expiry: now.Add(time.Hour)})
	cred, err := p.GetValidCredential(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "tok", cred.AccessToken)

	c.Advance(2 * time.Hour)
	_, err = p.GetValidCredential(context.Background(), "t1")
	assert.ErrorIs(t, err, domain.ErrAuthExpired)

	p.Disconnect("t1")
	_, err = p.GetValidCredential(context.Background(), "t1")
	assert.ErrorIs(t, err, domain.ErrAuthNotConnected)
}

func TestStaticProvider_NoExpiry(t *testing.T) {
	p := NewStaticCredentialProvider(clock.NewFake(time.Unix(0, 0)))
	p.Set(domain.Credential{TenantID: "t1", AccessToken: "api-key"})

	cred, err := p.GetValidCredential(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "api-key", cred.AccessToken)
}
