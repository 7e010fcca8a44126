package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/custodia-labs/cashsync/internal/core/domain"
	"github.com/custodia-labs/cashsync/internal/core/ports/driven"
	"github.com/custodia-labs/cashsync/internal/core/ports/driving"
	"github.com/custodia-labs/cashsync/internal/logger"
)

// Ensure ForecastEngine implements the interface.
var _ driving.ForecastService = (*ForecastEngine)(nil)

// Scenario factors applied to soft items.
var (
	scenarioUp   = decimal.RequireFromString("1.1")
	scenarioDown = decimal.RequireFromString("0.9")
)

// Invoice field values read from the ledger.
const (
	invoiceReceivable = "ACCREC"
	invoicePayable    = "ACCPAY"
)

// ForecastEngine projects daily balances from the ledger and the forecast
// data source. Computations for one tenant never overlap; concurrent
// requests for the same horizon share one computation.
type ForecastEngine struct {
	ledger   driven.LedgerStore
	data     driven.ForecastDataSource
	cache    driven.ForecastCache
	clock    driven.Clock
	config   domain.ForecastConfig
	lowFloor decimal.Decimal

	flights singleflight.Group
	locks   sync.Map // tenant -> *sync.Mutex
}

// NewForecastEngine creates a forecast engine. cache may be nil, in which
// case every request recomputes.
func NewForecastEngine(
	ledger driven.LedgerStore,
	data driven.ForecastDataSource,
	cache driven.ForecastCache,
	clock driven.Clock,
	config domain.ForecastConfig,
) (*ForecastEngine, error) {
	floor := decimal.Zero
	if config.LowBalanceFloor != "" {
		var err error
		floor, err = decimal.NewFromString(config.LowBalanceFloor)
		if err != nil {
			return nil, domain.ValidationErrorf("low balance floor %q: %v", config.LowBalanceFloor, err)
		}
	}
	return &ForecastEngine{
		ledger:   ledger,
		data:     data,
		cache:    cache,
		clock:    clock,
		config:   config,
		lowFloor: floor,
	}, nil
}

// GetForecast returns a forecast of the given horizon. A cached forecast no
// older than the reuse window is returned as is.
func (e *ForecastEngine) GetForecast(
	ctx context.Context,
	tenantID string,
	days int,
	includeScenarios bool,
) (*domain.Forecast, error) {
	days, err := e.horizon(tenantID, days)
	if err != nil {
		return nil, err
	}

	if cached := e.cached(ctx, tenantID, days); cached != nil {
		logger.Debug("forecast: reusing %d-day forecast for tenant %s", days, tenantID)
		return view(cached, includeScenarios), nil
	}

	f, err := e.compute(ctx, tenantID, days)
	if err != nil {
		return nil, err
	}
	return view(f, includeScenarios), nil
}

// RegenerateForecast drops every cached forecast of the tenant and recomputes.
func (e *ForecastEngine) RegenerateForecast(ctx context.Context, tenantID string, days int) (*domain.Forecast, error) {
	days, err := e.horizon(tenantID, days)
	if err != nil {
		return nil, err
	}
	if err := e.Invalidate(ctx, tenantID); err != nil {
		return nil, err
	}
	f, err := e.compute(ctx, tenantID, days)
	if err != nil {
		return nil, err
	}
	return view(f, true), nil
}

// Invalidate drops the cached forecasts of a tenant.
func (e *ForecastEngine) Invalidate(ctx context.Context, tenantID string) error {
	if e.cache == nil {
		return nil
	}
	if err := e.cache.Invalidate(ctx, tenantID); err != nil {
		return fmt.Errorf("invalidate forecast cache: %w", err)
	}
	return nil
}

// OnSyncComplete invalidates cached forecasts once a sync changed the ledger.
// It has the signature of a SyncCompletionHook.
func (e *ForecastEngine) OnSyncComplete(ctx context.Context, result domain.SyncResult) {
	if result.Mode == domain.SyncModeReconciliation {
		return
	}
	if err := e.Invalidate(ctx, result.TenantID); err != nil {
		logger.Warn("forecast: %v", err)
	}
}

func (e *ForecastEngine) horizon(tenantID string, days int) (int, error) {
	if tenantID == "" {
		return 0, domain.ValidationErrorf("tenant is required")
	}
	if days == 0 {
		days = e.config.HorizonDays
	}
	if days <= 0 || (e.config.MaxHorizonDays > 0 && days > e.config.MaxHorizonDays) {
		return 0, domain.ValidationErrorf("forecast horizon must be between 1 and %d days, got %d", e.config.MaxHorizonDays, days)
	}
	return days, nil
}

func (e *ForecastEngine) cached(ctx context.Context, tenantID string, days int) *domain.Forecast {
	if e.cache == nil {
		return nil
	}
	f, err := e.cache.Get(ctx, tenantID, days)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			logger.Warn("forecast: read cache: %v", err)
		}
		return nil
	}
	if e.clock.Now().Sub(f.GeneratedAt) > e.config.ReuseWindow {
		return nil
	}
	return f
}

// compute coalesces concurrent requests for one tenant and horizon and
// serialises computations of one tenant.
func (e *ForecastEngine) compute(ctx context.Context, tenantID string, days int) (*domain.Forecast, error) {
	key := fmt.Sprintf("%s:%d", tenantID, days)
	v, err, shared := e.flights.Do(key, func() (any, error) {
		mu, _ := e.locks.LoadOrStore(tenantID, &sync.Mutex{})
		mu.(*sync.Mutex).Lock()
		defer mu.(*sync.Mutex).Unlock()

		// A computation that finished while this one waited is reused.
		if f := e.cached(ctx, tenantID, days); f != nil {
			return f, nil
		}

		// Shared by every waiter, so not bound to the first caller.
		ctx := context.WithoutCancel(ctx)
		f, err := e.Generate(ctx, tenantID, days)
		if err != nil {
			return nil, err
		}
		if e.cache != nil {
			if err := e.cache.Put(ctx, *f); err != nil {
				logger.Warn("forecast: write cache: %v", err)
			}
		}
		return f, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		logger.Debug("forecast: shared computation for %s", key)
	}
	return v.(*domain.Forecast), nil
}

// view returns a copy of f, without scenarios unless requested.
func view(f *domain.Forecast, includeScenarios bool) *domain.Forecast {
	out := *f
	out.Days = slices.Clone(f.Days)
	if !includeScenarios {
		out.Scenarios = nil
	}
	return &out
}

// Generate computes a forecast from the current ledger without touching the cache.
func (e *ForecastEngine) Generate(ctx context.Context, tenantID string, days int) (*domain.Forecast, error) {
	now := e.clock.Now()
	today := domain.DateOf(now)
	end := today.AddDays(days - 1)

	opening, err := e.openingBalance(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	inputs, err := e.inputs(ctx, tenantID, today, end)
	if err != nil {
		return nil, err
	}
	open, err := e.openItems(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	p := projection{
		today:   today,
		days:    days,
		opening: opening,
		inputs:  inputs,
		open:    open,
		config:  e.config,
		floor:   e.lowFloor,
	}
	f := p.run()
	f.TenantID = tenantID
	f.Currency = e.config.Currency
	f.GeneratedAt = now

	logger.Info("forecast: %d days for tenant %s, lowest balance %s on %s",
		days, tenantID, f.Summary.LowestBalance.StringFixed(2), f.Summary.LowestBalanceDate)
	return &f, nil
}

// inputs loads the non-ledger inputs. Payment patterns learnt from settled
// invoices fill in counterparties the data source has no pattern for.
func (e *ForecastEngine) inputs(ctx context.Context, tenantID string, from, to domain.Date) (domain.ForecastInputs, error) {
	var in domain.ForecastInputs
	var err error
	if in.Recurring, err = e.data.RecurringTransactions(ctx, tenantID); err != nil {
		return in, fmt.Errorf("load recurring transactions: %w", err)
	}
	if in.Patterns, err = e.data.PaymentPatterns(ctx, tenantID); err != nil {
		return in, fmt.Errorf("load payment patterns: %w", err)
	}
	if in.Budgets, err = e.data.Budgets(ctx, tenantID, from, to); err != nil {
		return in, fmt.Errorf("load budgets: %w", err)
	}
	if in.Taxes, err = e.data.TaxObligations(ctx, tenantID, from, to); err != nil {
		return in, fmt.Errorf("load tax obligations: %w", err)
	}

	learnt, err := e.learnPatterns(ctx, tenantID)
	if err != nil {
		return in, err
	}
	known := make(map[string]bool, len(in.Patterns))
	for _, p := range in.Patterns {
		known[p.ContactID] = true
	}
	for _, p := range learnt {
		if !known[p.ContactID] {
			in.Patterns = append(in.Patterns, p)
		}
	}
	return in, nil
}

// openingBalance is the latest actual bank balance: the bank summary report
// when synced, otherwise the balances of bank accounts.
func (e *ForecastEngine) openingBalance(ctx context.Context, tenantID string) (decimal.Decimal, error) {
	summary, err := e.ledger.List(ctx, tenantID, domain.EntityBankSummary)
	if err != nil {
		return decimal.Zero, fmt.Errorf("list bank summary: %w", err)
	}
	if len(summary) > 0 {
		return sumField(summary, "closing_balance", nil)
	}

	accounts, err := e.ledger.List(ctx, tenantID, domain.EntityAccounts)
	if err != nil {
		return decimal.Zero, fmt.Errorf("list accounts: %w", err)
	}
	bank := func(r domain.LedgerRecord) bool { return r.Field("type") == "BANK" }
	total, err := sumField(accounts, "balance", bank)
	if err != nil {
		return decimal.Zero, err
	}
	if total.IsZero() {
		logger.Warn("forecast: no bank balance for tenant %s, opening at zero", tenantID)
	}
	return total, nil
}

func sumField(recs []domain.LedgerRecord, field string, keep func(domain.LedgerRecord) bool) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, r := range recs {
		if keep != nil && !keep(r) {
			continue
		}
		v := r.Field(field)
		if v == "" {
			continue
		}
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: %s %s has malformed %s %q", domain.ErrInternal, r.Entity, r.ExternalID, field, v)
		}
		total = total.Add(d)
	}
	return total, nil
}

// openItems returns outstanding invoices. Records no longer present
// upstream are left out.
func (e *ForecastEngine) openItems(ctx context.Context, tenantID string) ([]domain.OpenItem, error) {
	invoices, err := e.ledger.List(ctx, tenantID, domain.EntityInvoices)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	var items []domain.OpenItem
	for _, r := range invoices {
		if r.MissingUpstream {
			continue
		}
		switch r.Field("status") {
		case "DRAFT", "VOIDED", "DELETED", "PAID":
			continue
		}
		var dir domain.Direction
		switch r.Field("type") {
		case invoiceReceivable:
			dir = domain.Inflow
		case invoicePayable:
			dir = domain.Outflow
		default:
			continue
		}
		due, ok := ledgerDate(r.Field("due_date"))
		if !ok {
			continue
		}
		amount, err := decimal.NewFromString(r.Field("amount_due"))
		if err != nil || !amount.IsPositive() {
			continue
		}
		items = append(items, domain.OpenItem{
			ExternalID:  r.ExternalID,
			ContactID:   r.Field("contact_id"),
			AccountCode: r.Field("account_code"),
			Direction:   dir,
			DueDate:     due,
			AmountDue:   amount,
		})
	}
	return items, nil
}

// learnPatterns derives settlement statistics from paid invoices.
func (e *ForecastEngine) learnPatterns(ctx context.Context, tenantID string) ([]domain.PaymentPattern, error) {
	invoices, err := e.ledger.List(ctx, tenantID, domain.EntityInvoices)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	delays := make(map[string][]float64)
	for _, r := range invoices {
		contact := r.Field("contact_id")
		due, okDue := ledgerDate(r.Field("due_date"))
		paid, okPaid := ledgerDate(r.Field("fully_paid_on_date"))
		if contact == "" || !okDue || !okPaid {
			continue
		}
		delays[contact] = append(delays[contact], float64(due.DaysUntil(paid)))
	}

	patterns := make([]domain.PaymentPattern, 0, len(delays))
	for contact, ds := range delays {
		mean := 0.0
		for _, d := range ds {
			mean += d
		}
		mean /= float64(len(ds))
		variance := 0.0
		for _, d := range ds {
			variance += (d - mean) * (d - mean)
		}
		variance /= float64(len(ds))
		patterns = append(patterns, domain.PaymentPattern{
			ContactID:     contact,
			MeanDaysToPay: mean,
			VarianceDays:  variance,
			SampleSize:    len(ds),
		})
	}
	slices.SortFunc(patterns, func(a, b domain.PaymentPattern) int {
		return cmpString(a.ContactID, b.ContactID)
	})
	return patterns, nil
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// ledgerDate parses the calendar day at the start of a ledger date field,
// accepting both "2006-01-02" and RFC 3339 timestamps.
func ledgerDate(value string) (domain.Date, bool) {
	if len(value) < len(domain.DateFormat) {
		return domain.Date{}, false
	}
	d, err := domain.ParseDate(value[:len(domain.DateFormat)])
	if err != nil {
		return domain.Date{}, false
	}
	return d, true
}

// projection is one deterministic forecast computation.
type projection struct {
	today   domain.Date
	days    int
	opening decimal.Decimal
	inputs  domain.ForecastInputs
	open    []domain.OpenItem
	config  domain.ForecastConfig
	floor   decimal.Decimal
}

func (p projection) run() domain.Forecast {
	days := make([]domain.ForecastDay, p.days)
	for i := range days {
		days[i].Date = p.today.AddDays(i)
	}
	p.placeRecurring(days)
	p.placeOpenItems(days)
	p.placeTaxes(days)
	p.placeBudgets(days)

	balance := p.opening
	prevConfidence := 1.0
	for i := range days {
		d := &days[i]
		d.OpeningBalance = balance
		d.ClosingBalance = balance.Add(d.Inflows.Total).Sub(d.Outflows.Total)
		balance = d.ClosingBalance

		conf := math.Min(p.confidence(i, d), prevConfidence)
		d.ConfidenceLevel = conf
		prevConfidence = conf
	}
	p.raiseAlerts(days)

	return domain.Forecast{
		Days:      days,
		Summary:   summarise(days),
		Scenarios: p.scenarios(days),
	}
}

func (p projection) add(days []domain.ForecastDay, on domain.Date, dir domain.Direction, item domain.ForecastItem) {
	i := p.today.DaysUntil(on)
	if i < 0 || i >= len(days) {
		return
	}
	if dir == domain.Inflow {
		days[i].Inflows.Add(item)
	} else {
		days[i].Outflows.Add(item)
	}
}

func (p projection) placeRecurring(days []domain.ForecastDay) {
	for _, r := range p.inputs.Recurring {
		for _, day := range days {
			if !r.OccursOn(day.Date) {
				continue
			}
			p.add(days, day.Date, r.Direction, domain.ForecastItem{
				Source:      domain.SourceRecurring,
				Reference:   r.ID,
				Description: r.Description,
				AccountCode: r.AccountCode,
				Amount:      r.Amount,
				Firm:        r.Confirmed,
			})
		}
	}
}

// placeOpenItems projects settlement at due date plus the counterparty's
// mean delay. Overdue items land on the first day.
func (p projection) placeOpenItems(days []domain.ForecastDay) {
	patterns := make(map[string]domain.PaymentPattern, len(p.inputs.Patterns))
	for _, pat := range p.inputs.Patterns {
		patterns[pat.ContactID] = pat
	}
	for _, it := range p.open {
		on := it.DueDate.AddDays(patterns[it.ContactID].ProjectedDelay())
		if on.Before(p.today) {
			on = p.today
		}
		source := domain.SourceReceivable
		if it.Direction == domain.Outflow {
			source = domain.SourcePayable
		}
		p.add(days, on, it.Direction, domain.ForecastItem{
			Source:      source,
			Reference:   it.ExternalID,
			AccountCode: it.AccountCode,
			Amount:      it.AmountDue,
		})
	}
}

func (p projection) placeTaxes(days []domain.ForecastDay) {
	for _, t := range p.inputs.Taxes {
		p.add(days, t.DueDate, domain.Outflow, domain.ForecastItem{
			Source:      domain.SourceTax,
			Reference:   t.ID,
			Description: t.Kind,
			AccountCode: t.AccountCode,
			Amount:      t.Amount,
			Firm:        true,
		})
	}
}

// placeBudgets fills each day with the daily share of its month's budget,
// unless a scheduled outflow already covers that account on that day. The
// last day of the month takes the rounding remainder.
func (p projection) placeBudgets(days []domain.ForecastDay) {
	for i := range days {
		day := days[i].Date
		for _, b := range p.inputs.Budgets {
			if b.MonthYear != day.MonthYear() || !b.PlannedAmount.IsPositive() || scheduled(days[i].Outflows, b.AccountCode) {
				continue
			}
			n := day.DaysInMonth()
			share := b.PlannedAmount.DivRound(decimal.NewFromInt(int64(n)), 2)
			if day.Day() == n {
				share = b.PlannedAmount.Sub(share.Mul(decimal.NewFromInt(int64(n - 1))))
			}
			days[i].Outflows.Add(domain.ForecastItem{
				Source:      domain.SourceBudget,
				Reference:   b.MonthYear + "/" + b.AccountCode,
				AccountCode: b.AccountCode,
				Amount:      share,
			})
		}
	}
}

// scheduled reports whether a recurring or tax outflow covers the account.
func scheduled(out domain.Flow, accountCode string) bool {
	if accountCode == "" {
		return false
	}
	for _, it := range out.Items {
		if it.AccountCode == accountCode && (it.Source == domain.SourceRecurring || it.Source == domain.SourceTax) {
			return true
		}
	}
	return false
}

// confidence decays with distance and with the share of the day's magnitude
// resting on soft items.
func (p projection) confidence(distance int, d *domain.ForecastDay) float64 {
	base := math.Max(p.config.ConfidenceFloor, 1-p.config.DecayPerDay*float64(distance))
	magnitude := d.Inflows.Total.Abs().Add(d.Outflows.Total.Abs())
	if magnitude.IsZero() {
		return roundConfidence(base)
	}
	soft := d.Inflows.SoftTotal().Abs().Add(d.Outflows.SoftTotal().Abs())
	share, _ := soft.Div(magnitude).Float64()
	return roundConfidence(base * (1 - p.config.SoftPenalty*share))
}

func roundConfidence(c float64) float64 {
	return math.Round(math.Min(math.Max(c, 0), 1)*10000) / 10000
}

// raiseAlerts flags negative and low balances and low confidence. Severity
// rises with the shortfall and with how long the condition persists.
func (p projection) raiseAlerts(days []domain.ForecastDay) {
	negativeRun, lowRun, unsureRun := 0, 0, 0
	halfFloor := p.floor.Div(decimal.NewFromInt(2))
	for i := range days {
		d := &days[i]

		switch {
		case d.ClosingBalance.IsNegative():
			negativeRun++
			lowRun = 0
			d.Alerts = append(d.Alerts, domain.Alert{
				Kind:            domain.AlertNegativeBalance,
				Severity:        domain.SeverityCritical,
				Message:         fmt.Sprintf("projected balance %s is below zero", d.ClosingBalance.StringFixed(2)),
				Shortfall:       d.ClosingBalance.Neg(),
				ConsecutiveDays: negativeRun,
			})
		case d.ClosingBalance.LessThan(p.floor):
			negativeRun = 0
			lowRun++
			shortfall := p.floor.Sub(d.ClosingBalance)
			sev := domain.SeverityWarning
			if lowRun >= 3 || shortfall.GreaterThanOrEqual(halfFloor) {
				sev = domain.SeverityHigh
			}
			d.Alerts = append(d.Alerts, domain.Alert{
				Kind:            domain.AlertLowBalance,
				Severity:        sev,
				Message:         fmt.Sprintf("projected balance %s is below %s", d.ClosingBalance.StringFixed(2), p.floor.StringFixed(2)),
				Shortfall:       shortfall,
				ConsecutiveDays: lowRun,
			})
		default:
			negativeRun, lowRun = 0, 0
		}

		if d.ConfidenceLevel < p.config.ConfidenceThreshold {
			unsureRun++
			sev := domain.SeverityInfo
			if unsureRun >= 3 || d.ConfidenceLevel < p.config.ConfidenceThreshold/2 {
				sev = domain.SeverityWarning
			}
			d.Alerts = append(d.Alerts, domain.Alert{
				Kind:            domain.AlertLowConfidence,
				Severity:        sev,
				Message:         fmt.Sprintf("confidence %.2f is below %.2f", d.ConfidenceLevel, p.config.ConfidenceThreshold),
				Shortfall:       decimal.Zero,
				ConsecutiveDays: unsureRun,
			})
		} else {
			unsureRun = 0
		}
	}
}

func summarise(days []domain.ForecastDay) domain.ForecastSummary {
	var s domain.ForecastSummary
	if len(days) == 0 {
		return s
	}
	s.LowestBalance = days[0].ClosingBalance
	s.LowestBalanceDate = days[0].Date
	s.TotalInflows = decimal.Zero
	s.TotalOutflows = decimal.Zero
	confidence := 0.0
	for _, d := range days {
		if d.ClosingBalance.LessThan(s.LowestBalance) {
			s.LowestBalance = d.ClosingBalance
			s.LowestBalanceDate = d.Date
		}
		s.TotalInflows = s.TotalInflows.Add(d.Inflows.Total)
		s.TotalOutflows = s.TotalOutflows.Add(d.Outflows.Total)
		confidence += d.ConfidenceLevel
		for _, a := range d.Alerts {
			if a.Severity == domain.SeverityCritical {
				s.CriticalAlertCount++
			}
		}
	}
	s.AverageConfidence = roundConfidence(confidence / float64(len(days)))
	return s
}

// scenarios rescales soft items only: optimistic collects more and spends
// less, pessimistic the reverse.
func (p projection) scenarios(days []domain.ForecastDay) *domain.Scenarios {
	series := func(inFactor, outFactor decimal.Decimal) []domain.ScenarioPoint {
		points := make([]domain.ScenarioPoint, len(days))
		balance := p.opening
		for i, d := range days {
			inSoft, outSoft := d.Inflows.SoftTotal(), d.Outflows.SoftTotal()
			in := d.Inflows.Total.Sub(inSoft).Add(inSoft.Mul(inFactor))
			out := d.Outflows.Total.Sub(outSoft).Add(outSoft.Mul(outFactor))
			balance = balance.Add(in).Sub(out)
			points[i] = domain.ScenarioPoint{Date: d.Date, ClosingBalance: balance}
		}
		return points
	}
	return &domain.Scenarios{
		Optimistic:  series(scenarioUp, scenarioDown),
		Pessimistic: series(scenarioDown, scenarioUp),
	}
}
