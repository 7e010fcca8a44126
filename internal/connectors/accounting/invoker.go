package accounting

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/custodia-labs/cashsync/internal/core/domain"
	"github.com/custodia-labs/cashsync/internal/core/ports/driven"
	"github.com/custodia-labs/cashsync/internal/logger"
)

// Call is one upstream request. It must honour ctx.
type Call func(ctx context.Context) error

// Invoker wraps every upstream call with per-tenant concurrency limiting,
// proactive throttling, a per-attempt timeout and retry with backoff.
type Invoker struct {
	cfg   domain.InvokerConfig
	clock driven.Clock

	mu      sync.Mutex
	tenants map[string]*tenantLimits
}

// tenantLimits holds the throttles of one tenant.
type tenantLimits struct {
	sem    *semaphore.Weighted
	bucket *rate.Limiter // nil when throttling is disabled
}

// NewInvoker creates an invoker. Zero config fields fall back to defaults.
func NewInvoker(cfg domain.InvokerConfig, clock driven.Clock) *Invoker {
	def := domain.DefaultConfig().Invoker
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = def.MaxConcurrency
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Invoker{
		cfg:     cfg,
		clock:   clock,
		tenants: make(map[string]*tenantLimits),
	}
}

// Config returns the effective configuration.
func (i *Invoker) Config() domain.InvokerConfig {
	return i.cfg
}

func (i *Invoker) limits(tenantID string) *tenantLimits {
	i.mu.Lock()
	defer i.mu.Unlock()

	l, ok := i.tenants[tenantID]
	if !ok {
		l = &tenantLimits{sem: semaphore.NewWeighted(int64(i.cfg.MaxConcurrency))}
		if i.cfg.RequestsPerSecond > 0 {
			l.bucket = rate.NewLimiter(rate.Limit(i.cfg.RequestsPerSecond), i.cfg.Burst)
		}
		i.tenants[tenantID] = l
	}
	return l
}

// Do runs call for tenantID until it succeeds, fails permanently or the
// retry budget is spent. op names the call in logs and errors.
//
// Cancelling ctx returns ctx.Err() promptly. Once the budget is spent a
// *domain.RetryExhaustedError carrying the last cause is returned.
func (i *Invoker) Do(ctx context.Context, tenantID, op string, call Call) error {
	limits := i.limits(tenantID)
	maxAttempts := i.cfg.MaxRetries + 1

	var last error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := i.attempt(ctx, limits, call)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		last = err

		delay, retry := i.retryDelay(err, attempt)
		if !retry {
			return err
		}
		if attempt == maxAttempts-1 {
			break
		}

		logger.Debug("invoker: %s for tenant %s failed (attempt %d/%d), retrying in %s: %v",
			op, tenantID, attempt+1, maxAttempts, delay, err)
		if err := i.clock.Sleep(ctx, delay); err != nil {
			return err
		}
	}

	logger.Warn("invoker: %s for tenant %s gave up after %d attempts: %v", op, tenantID, maxAttempts, last)
	return &domain.RetryExhaustedError{Operation: op, Attempts: maxAttempts, Last: last}
}

// attempt performs one call. The semaphore is held only while the call is
// in flight, never while backing off.
func (i *Invoker) attempt(ctx context.Context, limits *tenantLimits, call Call) error {
	if err := i.throttle(ctx, limits); err != nil {
		return err
	}
	if err := limits.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer limits.sem.Release(1)

	callCtx, cancel := context.WithTimeout(ctx, i.cfg.CallTimeout)
	defer cancel()

	err := call(callCtx)
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: call timed out after %s: %w", domain.ErrUpstreamUnavailable, i.cfg.CallTimeout, err)
	}
	return err
}

// throttle waits for a token from the proactive bucket using the injected
// clock.
func (i *Invoker) throttle(ctx context.Context, limits *tenantLimits) error {
	if limits.bucket == nil {
		return nil
	}
	now := i.clock.Now()
	r := limits.bucket.ReserveN(now, 1)
	if !r.OK() {
		return fmt.Errorf("%w: throttle burst too small", domain.ErrInternal)
	}
	delay := r.DelayFrom(now)
	if delay <= 0 {
		return nil
	}
	if err := i.clock.Sleep(ctx, delay); err != nil {
		r.CancelAt(i.clock.Now())
		return err
	}
	return nil
}

// retryDelay decides whether err is retryable and how long to wait.
func (i *Invoker) retryDelay(err error, attempt int) (time.Duration, bool) {
	var authErr *domain.AuthError
	if errors.As(err, &authErr) {
		return 0, false
	}

	var rateErr *RateLimitError
	if errors.As(err, &rateErr) {
		if rateErr.RetryAfter > 0 {
			return rateErr.RetryAfter, true
		}
		return i.Backoff(attempt), true
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Transient() {
			return i.Backoff(attempt), true
		}
		return 0, false
	}

	if isNetworkError(err) || errors.Is(err, domain.ErrUpstreamUnavailable) {
		return i.Backoff(attempt), true
	}
	return 0, false
}

// Backoff returns base * 2^attempt capped at the configured maximum.
func (i *Invoker) Backoff(attempt int) time.Duration {
	d := i.cfg.BaseDelay
	for n := 0; n < attempt; n++ {
		d *= 2
		if d >= i.cfg.MaxDelay {
			return i.cfg.MaxDelay
		}
	}
	if d > i.cfg.MaxDelay {
		return i.cfg.MaxDelay
	}
	return d
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}
