package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/custodia-labs/cashsync/internal/core/domain"
	"github.com/custodia-labs/cashsync/internal/core/ports/driven"
)

// Ensure the forecast stores implement their interfaces.
var (
	_ driven.ForecastDataSource = (*ForecastDataStore)(nil)
	_ driven.ForecastCache      = (*ForecastCache)(nil)
)

// ForecastDataStore is an in-memory driven.ForecastDataSource with setters.
type ForecastDataStore struct {
	mu        sync.RWMutex
	recurring map[string][]domain.RecurringTransaction
	patterns  map[string][]domain.PaymentPattern
	budgets   map[string][]domain.BudgetEntry
	taxes     map[string][]domain.TaxObligation
}

// NewForecastDataStore creates an empty forecast data store.
func NewForecastDataStore() *ForecastDataStore {
	return &ForecastDataStore{
		recurring: make(map[string][]domain.RecurringTransaction),
		patterns:  make(map[string][]domain.PaymentPattern),
		budgets:   make(map[string][]domain.BudgetEntry),
		taxes:     make(map[string][]domain.TaxObligation),
	}
}

// AddRecurring registers recurring transactions.
func (s *ForecastDataStore) AddRecurring(tenantID string, txs ...domain.RecurringTransaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recurring[tenantID] = append(s.recurring[tenantID], txs...)
}

// AddPaymentPatterns registers payment patterns.
func (s *ForecastDataStore) AddPaymentPatterns(tenantID string, patterns ...domain.PaymentPattern) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patterns[tenantID] = append(s.patterns[tenantID], patterns...)
}

// AddBudgets registers budget entries.
func (s *ForecastDataStore) AddBudgets(tenantID string, entries ...domain.BudgetEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.budgets[tenantID] = append(s.budgets[tenantID], entries...)
}

// AddTaxObligations registers tax obligations.
func (s *ForecastDataStore) AddTaxObligations(tenantID string, taxes ...domain.TaxObligation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taxes[tenantID] = append(s.taxes[tenantID], taxes...)
}

// RecurringTransactions returns the tenant's schedules.
func (s *ForecastDataStore) RecurringTransactions(_ context.Context, tenantID string) ([]domain.RecurringTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.recurring[tenantID]), nil
}

// PaymentPatterns returns the tenant's payment patterns.
func (s *ForecastDataStore) PaymentPatterns(_ context.Context, tenantID string) ([]domain.PaymentPattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.patterns[tenantID]), nil
}

// Budgets returns entries whose month overlaps [from, to].
func (s *ForecastDataStore) Budgets(_ context.Context, tenantID string, from, to domain.Date) ([]domain.BudgetEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lo, hi := from.MonthYear(), to.MonthYear()
	var out []domain.BudgetEntry
	for _, b := range s.budgets[tenantID] {
		if strings.Compare(b.MonthYear, lo) >= 0 && strings.Compare(b.MonthYear, hi) <= 0 {
			out = append(out, b)
		}
	}
	return out, nil
}

// TaxObligations returns obligations due within [from, to].
func (s *ForecastDataStore) TaxObligations(_ context.Context, tenantID string, from, to domain.Date) ([]domain.TaxObligation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.TaxObligation
	for _, t := range s.taxes[tenantID] {
		if !t.DueDate.Before(from) && !t.DueDate.After(to) {
			out = append(out, t)
		}
	}
	return out, nil
}

type forecastKey struct {
	tenant string
	days   int
}

// ForecastCache is an in-memory driven.ForecastCache.
type ForecastCache struct {
	mu        sync.RWMutex
	forecasts map[forecastKey]domain.Forecast
}

// NewForecastCache creates an empty forecast cache.
func NewForecastCache() *ForecastCache {
	return &ForecastCache{forecasts: make(map[forecastKey]domain.Forecast)}
}

// Get returns a cached forecast.
func (c *ForecastCache) Get(_ context.Context, tenantID string, days int) (*domain.Forecast, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.forecasts[forecastKey{tenant: tenantID, days: days}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &f, nil
}

// Put stores a forecast.
func (c *ForecastCache) Put(_ context.Context, forecast domain.Forecast) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forecasts[forecastKey{tenant: forecast.TenantID, days: len(forecast.Days)}] = forecast
	return nil
}

// Invalidate drops every cached forecast of a tenant.
func (c *ForecastCache) Invalidate(_ context.Context, tenantID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.forecasts {
		if k.tenant == tenantID {
			delete(c.forecasts, k)
		}
	}
	return nil
}
