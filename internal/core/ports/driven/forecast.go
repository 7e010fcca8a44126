package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/cashsync/internal/core/domain"
)

// ForecastDataSource supplies the non-ledger inputs of a forecast.
type ForecastDataSource interface {
	// RecurringTransactions returns the tenant's active schedules.
	RecurringTransactions(ctx context.Context, tenantID string) ([]domain.RecurringTransaction, error)

	// PaymentPatterns returns per-counterparty settlement statistics.
	PaymentPatterns(ctx context.Context, tenantID string) ([]domain.PaymentPattern, error)

	// Budgets returns budget entries overlapping [from, to].
	Budgets(ctx context.Context, tenantID string, from, to domain.Date) ([]domain.BudgetEntry, error)

	// TaxObligations returns obligations due within [from, to].
	TaxObligations(ctx context.Context, tenantID string, from, to domain.Date) ([]domain.TaxObligation, error)
}

// ForecastCache stores recently computed forecasts.
type ForecastCache interface {
	// Get returns a cached forecast of the given horizon, or domain.ErrNotFound.
	Get(ctx context.Context, tenantID string, days int) (*domain.Forecast, error)

	// Put stores a forecast.
	Put(ctx context.Context, forecast domain.Forecast) error

	// Invalidate drops every cached forecast of a tenant.
	Invalidate(ctx context.Context, tenantID string) error
}

// Clock abstracts time so that delays are deterministic under test.
type Clock interface {
	Now() time.Time

	// Sleep blocks for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
}
