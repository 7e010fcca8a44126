package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/custodia-labs/cashsync/internal/core/domain"
	"github.com/custodia-labs/cashsync/internal/core/ports/driven"
)

// ForecastDataStore implements driven.ForecastDataSource on the forecast
// input tables and offers upserts to maintain them.
type ForecastDataStore struct {
	store *Store
}

var _ driven.ForecastDataSource = (*ForecastDataStore)(nil)

// SaveRecurring upserts recurring transactions.
func (s *ForecastDataStore) SaveRecurring(ctx context.Context, tenantID string, txs ...domain.RecurringTransaction) error {
	return s.store.inTx(ctx, func(tx *sql.Tx) error {
		for _, r := range txs {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO recurring_transactions
					(tenant_id, id, description, account_code, direction, amount, frequency, next_date, end_date, confirmed)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(tenant_id, id) DO UPDATE SET
					description = excluded.description,
					account_code = excluded.account_code,
					direction = excluded.direction,
					amount = excluded.amount,
					frequency = excluded.frequency,
					next_date = excluded.next_date,
					end_date = excluded.end_date,
					confirmed = excluded.confirmed
			`, tenantID, r.ID, r.Description, r.AccountCode, string(r.Direction), r.Amount.String(),
				string(r.Frequency), r.NextDate.String(), nullDate(r.EndDate), boolToInt(r.Confirmed))
			if err != nil {
				return fmt.Errorf("saving recurring transaction %s: %w", r.ID, err)
			}
		}
		return nil
	})
}

// SavePaymentPatterns upserts payment patterns.
func (s *ForecastDataStore) SavePaymentPatterns(ctx context.Context, tenantID string, patterns ...domain.PaymentPattern) error {
	return s.store.inTx(ctx, func(tx *sql.Tx) error {
		for _, p := range patterns {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO payment_patterns (tenant_id, contact_id, mean_days_to_pay, variance_days, sample_size)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(tenant_id, contact_id) DO UPDATE SET
					mean_days_to_pay = excluded.mean_days_to_pay,
					variance_days = excluded.variance_days,
					sample_size = excluded.sample_size
			`, tenantID, p.ContactID, p.MeanDaysToPay, p.VarianceDays, p.SampleSize)
			if err != nil {
				return fmt.Errorf("saving payment pattern %s: %w", p.ContactID, err)
			}
		}
		return nil
	})
}

// SaveBudgets upserts budget entries.
func (s *ForecastDataStore) SaveBudgets(ctx context.Context, tenantID string, entries ...domain.BudgetEntry) error {
	return s.store.inTx(ctx, func(tx *sql.Tx) error {
		for _, b := range entries {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO budget_entries (tenant_id, month_year, account_code, planned_amount)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(tenant_id, month_year, account_code) DO UPDATE SET
					planned_amount = excluded.planned_amount
			`, tenantID, b.MonthYear, b.AccountCode, b.PlannedAmount.String())
			if err != nil {
				return fmt.Errorf("saving budget %s/%s: %w", b.MonthYear, b.AccountCode, err)
			}
		}
		return nil
	})
}

// SaveTaxObligations upserts tax obligations.
func (s *ForecastDataStore) SaveTaxObligations(ctx context.Context, tenantID string, taxes ...domain.TaxObligation) error {
	return s.store.inTx(ctx, func(tx *sql.Tx) error {
		for _, t := range taxes {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO tax_obligations (tenant_id, id, due_date, amount, kind, account_code)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT(tenant_id, id) DO UPDATE SET
					due_date = excluded.due_date,
					amount = excluded.amount,
					kind = excluded.kind,
					account_code = excluded.account_code
			`, tenantID, t.ID, t.DueDate.String(), t.Amount.String(), t.Kind, t.AccountCode)
			if err != nil {
				return fmt.Errorf("saving tax obligation %s: %w", t.ID, err)
			}
		}
		return nil
	})
}

// RecurringTransactions returns the tenant's schedules.
func (s *ForecastDataStore) RecurringTransactions(ctx context.Context, tenantID string) ([]domain.RecurringTransaction, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT id, description, account_code, direction, amount, frequency, next_date, end_date, confirmed
		FROM recurring_transactions WHERE tenant_id = ? ORDER BY id
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("querying recurring transactions: %w", err)
	}
	defer rows.Close()

	var out []domain.RecurringTransaction //nolint:prealloc // size unknown from query
	for rows.Next() {
		var r domain.RecurringTransaction
		var direction, amount, frequency, next string
		var end sql.NullString
		var confirmed int
		if err := rows.Scan(&r.ID, &r.Description, &r.AccountCode, &direction, &amount,
			&frequency, &next, &end, &confirmed); err != nil {
			return nil, fmt.Errorf("scanning recurring transaction: %w", err)
		}
		r.Direction = domain.Direction(direction)
		r.Frequency = domain.Frequency(frequency)
		r.Confirmed = confirmed == 1
		if r.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("recurring transaction %s amount: %w", r.ID, err)
		}
		if r.NextDate, err = domain.ParseDate(next); err != nil {
			return nil, fmt.Errorf("recurring transaction %s: %w", r.ID, err)
		}
		if end.Valid {
			if r.EndDate, err = domain.ParseDate(end.String); err != nil {
				return nil, fmt.Errorf("recurring transaction %s: %w", r.ID, err)
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating recurring transactions: %w", err)
	}
	return out, nil
}

// PaymentPatterns returns the tenant's payment patterns.
func (s *ForecastDataStore) PaymentPatterns(ctx context.Context, tenantID string) ([]domain.PaymentPattern, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT contact_id, mean_days_to_pay, variance_days, sample_size
		FROM payment_patterns WHERE tenant_id = ? ORDER BY contact_id
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("querying payment patterns: %w", err)
	}
	defer rows.Close()

	var out []domain.PaymentPattern //nolint:prealloc // size unknown from query
	for rows.Next() {
		var p domain.PaymentPattern
		if err := rows.Scan(&p.ContactID, &p.MeanDaysToPay, &p.VarianceDays, &p.SampleSize); err != nil {
			return nil, fmt.Errorf("scanning payment pattern: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating payment patterns: %w", err)
	}
	return out, nil
}

// Budgets returns entries whose month overlaps [from, to].
func (s *ForecastDataStore) Budgets(ctx context.Context, tenantID string, from, to domain.Date) ([]domain.BudgetEntry, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT month_year, account_code, planned_amount
		FROM budget_entries WHERE tenant_id = ? AND month_year BETWEEN ? AND ?
		ORDER BY month_year, account_code
	`, tenantID, from.MonthYear(), to.MonthYear())
	if err != nil {
		return nil, fmt.Errorf("querying budgets: %w", err)
	}
	defer rows.Close()

	var out []domain.BudgetEntry //nolint:prealloc // size unknown from query
	for rows.Next() {
		var b domain.BudgetEntry
		var planned string
		if err := rows.Scan(&b.MonthYear, &b.AccountCode, &planned); err != nil {
			return nil, fmt.Errorf("scanning budget: %w", err)
		}
		if b.PlannedAmount, err = decimal.NewFromString(planned); err != nil {
			return nil, fmt.Errorf("budget %s/%s amount: %w", b.MonthYear, b.AccountCode, err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating budgets: %w", err)
	}
	return out, nil
}

// TaxObligations returns obligations due within [from, to].
func (s *ForecastDataStore) TaxObligations(ctx context.Context, tenantID string, from, to domain.Date) ([]domain.TaxObligation, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT id, due_date, amount, kind, account_code
		FROM tax_obligations WHERE tenant_id = ? AND due_date BETWEEN ? AND ?
		ORDER BY due_date, id
	`, tenantID, from.String(), to.String())
	if err != nil {
		return nil, fmt.Errorf("querying tax obligations: %w", err)
	}
	defer rows.Close()

	var out []domain.TaxObligation //nolint:prealloc // size unknown from query
	for rows.Next() {
		var t domain.TaxObligation
		var due, amount string
		if err := rows.Scan(&t.ID, &due, &amount, &t.Kind, &t.AccountCode); err != nil {
			return nil, fmt.Errorf("scanning tax obligation: %w", err)
		}
		if t.DueDate, err = domain.ParseDate(due); err != nil {
			return nil, fmt.Errorf("tax obligation %s: %w", t.ID, err)
		}
		if t.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("tax obligation %s amount: %w", t.ID, err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tax obligations: %w", err)
	}
	return out, nil
}

func nullDate(d domain.Date) any {
	if d.IsZero() {
		return nil
	}
	return d.String()
}

// forecastCache implements driven.ForecastCache.
type forecastCache struct {
	store *Store
}

var _ driven.ForecastCache = (*forecastCache)(nil)

// Get returns a cached forecast.
func (c *forecastCache) Get(ctx context.Context, tenantID string, days int) (*domain.Forecast, error) {
	var forecastJSON string
	err := c.store.db.QueryRowContext(ctx, `
		SELECT forecast FROM forecasts WHERE tenant_id = ? AND days = ?
	`, tenantID, days).Scan(&forecastJSON)
	if err != nil {
		return nil, notFound(err, "scanning forecast", domain.ErrNotFound)
	}

	var f domain.Forecast
	if err := json.Unmarshal([]byte(forecastJSON), &f); err != nil {
		return nil, fmt.Errorf("unmarshalling forecast: %w", err)
	}
	return &f, nil
}

// Put stores a forecast.
func (c *forecastCache) Put(ctx context.Context, forecast domain.Forecast) error {
	forecastJSON, err := json.Marshal(forecast)
	if err != nil {
		return fmt.Errorf("marshalling forecast: %w", err)
	}
	_, err = c.store.db.ExecContext(ctx, `
		INSERT INTO forecasts (tenant_id, days, generated_at, forecast)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(tenant_id, days) DO UPDATE SET
			generated_at = excluded.generated_at,
			forecast = excluded.forecast
	`, forecast.TenantID, len(forecast.Days), formatTime(forecast.GeneratedAt), string(forecastJSON))
	if err != nil {
		return fmt.Errorf("saving forecast: %w", err)
	}
	return nil
}

// Invalidate drops every cached forecast of a tenant.
func (c *forecastCache) Invalidate(ctx context.Context, tenantID string) error {
	if _, err := c.store.db.ExecContext(ctx, "DELETE FROM forecasts WHERE tenant_id = ?", tenantID); err != nil {
		return fmt.Errorf("invalidating forecasts: %w", err)
	}
	return nil
}
