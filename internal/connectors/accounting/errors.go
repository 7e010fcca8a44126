package accounting

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/custodia-labs/cashsync/internal/core/domain"
)

// Accounting connector errors.
var (
	// ErrInvalidCursor indicates the page cursor format is invalid.
	ErrInvalidCursor = errors.New("accounting: invalid cursor format")

	// ErrUnknownEntity indicates an entity the connector cannot pull.
	ErrUnknownEntity = errors.New("accounting: unknown entity")

	// ErrMalformedResponse indicates a response body that could not be decoded.
	ErrMalformedResponse = errors.New("accounting: malformed response")
)

// RateLimitError is returned for a 429 response.
type RateLimitError struct {
	// RetryAfter is the delay the upstream asked for. Zero when absent.
	RetryAfter time.Duration
	URL        string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("accounting: rate limit exceeded, retry after %s", e.RetryAfter)
	}
	return "accounting: rate limit exceeded"
}

// Unwrap maps the error onto the domain taxonomy.
func (e *RateLimitError) Unwrap() error {
	return domain.ErrRateLimited
}

// APIError represents a non-success API response.
type APIError struct {
	StatusCode int
	Message    string
	URL        string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("accounting: API error %d: %s (URL: %s)", e.StatusCode, e.Message, e.URL)
}

// Unwrap maps the status code onto the domain taxonomy.
func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusTooManyRequests:
		return domain.ErrRateLimited
	case e.StatusCode == http.StatusConflict, e.StatusCode >= 500:
		return domain.ErrUpstreamUnavailable
	case e.StatusCode == http.StatusUnauthorized, e.StatusCode == http.StatusForbidden:
		return domain.ErrAuthExpired
	case e.StatusCode == http.StatusNotFound:
		return domain.ErrNotFound
	case e.StatusCode >= 400:
		return domain.ErrValidation
	default:
		return nil
	}
}

// Transient reports whether the status represents a transient failure
// worth retrying with backoff.
func (e *APIError) Transient() bool {
	switch e.StatusCode {
	case http.StatusConflict,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// IsUnauthorized checks if the error indicates an authentication failure.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusUnauthorized
	}
	return false
}

// ParseRetryAfter parses a Retry-After header. Both delay-seconds and
// HTTP-date forms are accepted. The second result is false when the header
// is absent or invalid.
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if at, err := http.ParseTime(value); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

// errorFromResponse classifies a non-2xx response.
func errorFromResponse(resp *http.Response, body []byte, now time.Time) error {
	url := ""
	if resp.Request != nil && resp.Request.URL != nil {
		url = resp.Request.URL.String()
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		delay, _ := ParseRetryAfter(resp.Header.Get(HeaderRetryAfter), now)
		return &RateLimitError{RetryAfter: delay, URL: url}
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{StatusCode: resp.StatusCode, Message: truncateMessage(msg, maxMessageBytes), URL: url}
}

// maxMessageBytes bounds the upstream message kept in an APIError.
const maxMessageBytes = 200

// truncateMessage cuts msg to at most n bytes without splitting a rune.
func truncateMessage(msg string, n int) string {
	if len(msg) <= n {
		return msg
	}
	for n > 0 && !utf8.RuneStart(msg[n]) {
		n--
	}
	return msg[:n]
}
