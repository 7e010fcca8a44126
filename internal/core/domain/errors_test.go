package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestErrors_Existence tests that all error variables exist and are not nil
func TestErrors_Existence(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"ErrNotFound", ErrNotFound},
		{"ErrConflict", ErrConflict},
		{"ErrSyncInProgress", ErrSyncInProgress},
		{"ErrValidation", ErrValidation},
		{"ErrInternal", ErrInternal},
		{"ErrCancelled", ErrCancelled},
		{"ErrAuthNotConnected", ErrAuthNotConnected},
		{"ErrAuthExpired", ErrAuthExpired},
		{"ErrRateLimited", ErrRateLimited},
		{"ErrUpstreamUnavailable", ErrUpstreamUnavailable},
		{"ErrRetriesExhausted", ErrRetriesExhausted},
		{"ErrUnrecognisedReport", ErrUnrecognisedReport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotNil(t, tt.err)
			assert.NotEmpty(t, tt.err.Error())
		})
	}
}

func TestErrSyncInProgress_IsConflict(t *testing.T) {
	assert.ErrorIs(t, ErrSyncInProgress, ErrConflict)
	assert.ErrorIs(t, fmt.Errorf("start: %w", ErrSyncInProgress), ErrConflict)
}

func TestAuthError_Unwrap(t *testing.T) {
	notConnected := NewAuthError("t1", AuthReasonNotConnected, nil)
	assert.ErrorIs(t, notConnected, ErrAuthNotConnected)
	assert.NotErrorIs(t, notConnected, ErrAuthExpired)
	assert.Contains(t, notConnected.Error(), "not_connected")

	cause := errors.New("refresh rejected")
	expired := NewAuthError("t1", AuthReasonExpired, cause)
	assert.ErrorIs(t, expired, ErrAuthExpired)
	assert.ErrorIs(t, expired, cause)
	assert.Contains(t, expired.Error(), "refresh rejected")
}

func TestRetryExhaustedError_Unwrap(t *testing.T) {
	err := &RetryExhaustedError{Operation: "fetch invoices", Attempts: 3, Last: ErrUpstreamUnavailable}

	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.Contains(t, err.Error(), "3 attempts")
}

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, ""},
		{"auth", NewAuthError("t", AuthReasonExpired, nil), KindAuth},
		{"validation", ValidationErrorf("bad %s", "input"), KindValidation},
		{"conflict", ErrSyncInProgress, KindConflict},
		{"not found", fmt.Errorf("get: %w", ErrNotFound), KindNotFound},
		{"rate limited", ErrReconciliationLimited, KindRateLimited},
		{"exhausted unavailable", &RetryExhaustedError{Last: ErrUpstreamUnavailable}, KindUpstreamUnavailable},
		{"cancelled", ErrCancelled, KindCancelled},
		{"other", errors.New("boom"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Kind(tt.err))
		})
	}
}

func TestHumanMessage(t *testing.T) {
	assert.Empty(t, HumanMessage(nil))
	assert.Equal(t, "validation_error: validation error: bad date", HumanMessage(ValidationErrorf("bad date")))
}
