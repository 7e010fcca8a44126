package domain

import "time"

// Credential is a tenant's access credential for the accounting API.
// Raw secrets stay with the CredentialProvider; sync only borrows one per
// call batch.
type Credential struct {
	TenantID     string    `json:"tenant_id"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
	Scopes       []string  `json:"scopes,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IsExpired returns true if the access token is past expiry at now.
func (c *Credential) IsExpired(now time.Time) bool {
	if c.Expiry.IsZero() {
		return false
	}
	return !now.Before(c.Expiry)
}

// ValidFor reports whether the token stays valid for at least buffer.
func (c *Credential) ValidFor(now time.Time, buffer time.Duration) bool {
	if c.AccessToken == "" {
		return false
	}
	if c.Expiry.IsZero() {
		return true
	}
	return now.Add(buffer).Before(c.Expiry)
}

// HasRefreshToken returns true if a refresh token is available.
func (c *Credential) HasRefreshToken() bool {
	return c.RefreshToken != ""
}
