package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates the request conflicts with current state.
	ErrConflict = errors.New("conflict")

	// ErrSyncInProgress indicates a sync is already running for the tenant.
	ErrSyncInProgress = fmt.Errorf("sync in progress: %w", ErrConflict)

	// ErrValidation indicates malformed caller input. Never retried.
	ErrValidation = errors.New("validation error")

	// ErrInternal indicates an unexpected, fatal failure.
	ErrInternal = errors.New("internal error")

	// ErrCancelled indicates a sync was cancelled before it finished.
	ErrCancelled = errors.New("cancelled")

	// Authentication Errors.

	// ErrAuthNotConnected indicates the tenant has never connected credentials.
	ErrAuthNotConnected = errors.New("authentication not connected")

	// ErrAuthExpired indicates the credential expired and could not be refreshed.
	ErrAuthExpired = errors.New("authentication expired")

	// Upstream Errors.

	// ErrRateLimited indicates the upstream API rate limit was exceeded.
	ErrRateLimited = errors.New("rate limited")

	// ErrUpstreamUnavailable indicates a transient upstream failure.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrRetriesExhausted indicates the retry budget was spent without success.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrUnrecognisedReport indicates a report node had an unknown shape.
	ErrUnrecognisedReport = errors.New("unrecognised report structure")

	// ErrReconciliationLimited indicates the per-tenant reconciliation quota is spent.
	ErrReconciliationLimited = fmt.Errorf("reconciliation limit reached: %w", ErrRateLimited)
)

// ErrorKind names a category of the error taxonomy.
type ErrorKind string

// Error kinds exposed to callers.
const (
	KindAuth                ErrorKind = "auth_error"
	KindRateLimited         ErrorKind = "rate_limited"
	KindUpstreamUnavailable ErrorKind = "upstream_unavailable"
	KindValidation          ErrorKind = "validation_error"
	KindConflict            ErrorKind = "conflict"
	KindNotFound            ErrorKind = "not_found"
	KindCancelled           ErrorKind = "cancelled"
	KindInternal            ErrorKind = "internal_error"
)

// AuthError reports why a credential could not be supplied for a tenant.
type AuthError struct {
	TenantID string
	// Reason is "not_connected" or "expired".
	Reason string
	Err    error
}

// Auth failure reasons.
const (
	AuthReasonNotConnected = "not_connected"
	AuthReasonExpired      = "expired"
)

// NewAuthError builds an AuthError for the given reason.
func NewAuthError(tenantID, reason string, cause error) *AuthError {
	return &AuthError{TenantID: tenantID, Reason: reason, Err: cause}
}

func (e *AuthError) Error() string {
	msg := fmt.Sprintf("auth error for tenant %s: %s", e.TenantID, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the sentinel matching the reason plus the underlying cause.
func (e *AuthError) Unwrap() []error {
	errs := []error{ErrAuthExpired}
	if e.Reason == AuthReasonNotConnected {
		errs = []error{ErrAuthNotConnected}
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// RetryExhaustedError is returned once every permitted attempt has failed.
type RetryExhaustedError struct {
	Operation string
	Attempts  int
	Last      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("%s: %d attempts failed, last error: %v", e.Operation, e.Attempts, e.Last)
}

// Unwrap exposes both ErrRetriesExhausted and the last observed cause.
func (e *RetryExhaustedError) Unwrap() []error {
	return []error{ErrRetriesExhausted, e.Last}
}

// ValidationErrorf builds an error wrapping ErrValidation.
func ValidationErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Kind classifies err into the error taxonomy.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuthNotConnected), errors.Is(err, ErrAuthExpired):
		return KindAuth
	case errors.Is(err, ErrCancelled):
		return KindCancelled
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrUpstreamUnavailable):
		return KindUpstreamUnavailable
	default:
		return KindInternal
	}
}

// HumanMessage renders err for progress polling clients.
func HumanMessage(err error) string {
	if err == nil {
		return ""
	}
	kind := Kind(err)
	return strings.TrimSpace(fmt.Sprintf("%s: %s", kind, err.Error()))
}
