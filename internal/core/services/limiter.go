package services

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/custodia-labs/cashsync/internal/core/ports/driven"
)

// TenantLimiter is a per-tenant token bucket admitting perHour operations,
// all of which may be spent at once.
type TenantLimiter struct {
	clock   driven.Clock
	perHour int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewTenantLimiter creates a limiter. perHour <= 0 admits everything.
func NewTenantLimiter(clock driven.Clock, perHour int) *TenantLimiter {
	return &TenantLimiter{
		clock:    clock,
		perHour:  perHour,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow consumes one token of tenantID's bucket if one is available.
func (l *TenantLimiter) Allow(tenantID string) bool {
	if l == nil || l.perHour <= 0 {
		return true
	}
	l.mu.Lock()
	lim, ok := l.limiters[tenantID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(time.Hour/time.Duration(l.perHour)), l.perHour)
		l.limiters[tenantID] = lim
	}
	l.mu.Unlock()
	return lim.AllowN(l.clock.Now(), 1)
}
