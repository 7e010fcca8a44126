package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction tells whether a scheduled amount is money in or money out.
type Direction string

// Directions.
const (
	Inflow  Direction = "inflow"
	Outflow Direction = "outflow"
)

// Frequency is the recurrence of a RecurringTransaction.
type Frequency string

// Frequencies.
const (
	FrequencyDaily     Frequency = "daily"
	FrequencyWeekly    Frequency = "weekly"
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
	FrequencyYearly    Frequency = "yearly"
)

// RecurringTransaction is a scheduled repeating cash movement.
type RecurringTransaction struct {
	ID          string          `json:"id"`
	Description string          `json:"description"`
	AccountCode string          `json:"account_code"`
	Direction   Direction       `json:"direction"`
	Amount      decimal.Decimal `json:"amount"`
	Frequency   Frequency       `json:"frequency"`
	// NextDate is the first occurrence not yet realised.
	NextDate Date `json:"next_date"`
	// EndDate is the last permitted occurrence; zero means open-ended.
	EndDate Date `json:"end_date,omitzero"`
	// Confirmed marks contractually certain schedules.
	Confirmed bool `json:"confirmed"`
}

// OccursOn reports whether the schedule places an occurrence on day.
func (r RecurringTransaction) OccursOn(day Date) bool {
	if r.NextDate.IsZero() || day.Before(r.NextDate) {
		return false
	}
	if !r.EndDate.IsZero() && day.After(r.EndDate) {
		return false
	}
	switch r.Frequency {
	case FrequencyDaily:
		return true
	case FrequencyWeekly:
		return r.NextDate.DaysUntil(day)%7 == 0
	case FrequencyMonthly, FrequencyQuarterly, FrequencyYearly:
		step := map[Frequency]int{FrequencyMonthly: 1, FrequencyQuarterly: 3, FrequencyYearly: 12}[r.Frequency]
		months := (day.Year()-r.NextDate.Year())*12 + int(day.Month()-r.NextDate.Month())
		if months%step != 0 {
			return false
		}
		return r.NextDate.AddMonths(months) == day
	default:
		return false
	}
}

// PaymentPattern summarises how late a counterparty settles.
type PaymentPattern struct {
	ContactID     string  `json:"contact_id"`
	MeanDaysToPay float64 `json:"mean_days_to_pay"`
	VarianceDays  float64 `json:"variance_days"`
	SampleSize    int     `json:"sample_size"`
}

// ProjectedDelay returns the mean delay rounded to whole days, never negative.
func (p PaymentPattern) ProjectedDelay() int {
	if p.MeanDaysToPay <= 0 {
		return 0
	}
	return int(p.MeanDaysToPay + 0.5)
}

// BudgetEntry is a planned monthly amount for an account.
type BudgetEntry struct {
	MonthYear     string          `json:"month_year"` // "2006-01"
	AccountCode   string          `json:"account_code"`
	PlannedAmount decimal.Decimal `json:"planned_amount"`
}

// TaxObligation is a scheduled, certain outflow.
type TaxObligation struct {
	ID          string          `json:"id"`
	DueDate     Date            `json:"due_date"`
	Amount      decimal.Decimal `json:"amount"`
	Kind        string          `json:"kind"`
	AccountCode string          `json:"account_code,omitempty"`
}

// OpenItem is an outstanding receivable or payable.
type OpenItem struct {
	ExternalID  string
	ContactID   string
	AccountCode string
	Direction   Direction
	DueDate     Date
	AmountDue   decimal.Decimal
}

// ItemSource names where a forecast line item came from.
type ItemSource string

// Item sources.
const (
	SourceRecurring  ItemSource = "recurring"
	SourceReceivable ItemSource = "receivable"
	SourcePayable    ItemSource = "payable"
	SourceTax        ItemSource = "tax"
	SourceBudget     ItemSource = "budget"
)

// ForecastItem is one contribution to a day's inflows or outflows.
type ForecastItem struct {
	Source      ItemSource      `json:"source"`
	Reference   string          `json:"reference"`
	Description string          `json:"description,omitempty"`
	AccountCode string          `json:"account_code,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	// Firm is true for scheduled certain items and false for projections.
	Firm bool `json:"firm"`
}

// Flow groups a day's items on one side of the ledger.
type Flow struct {
	Items []ForecastItem  `json:"items"`
	Total decimal.Decimal `json:"total"`
}

// Add appends item and updates the total.
func (f *Flow) Add(item ForecastItem) {
	f.Items = append(f.Items, item)
	f.Total = f.Total.Add(item.Amount)
}

// SoftTotal sums the non-firm items.
func (f *Flow) SoftTotal() decimal.Decimal {
	total := decimal.Zero
	for _, it := range f.Items {
		if !it.Firm {
			total = total.Add(it.Amount)
		}
	}
	return total
}

// AlertKind classifies a forecast alert.
type AlertKind string

// Alert kinds.
const (
	AlertNegativeBalance AlertKind = "negative_balance"
	AlertLowBalance      AlertKind = "low_balance"
	AlertLowConfidence   AlertKind = "low_confidence"
)

// Severity orders alert urgency.
type Severity string

// Severities, lowest first.
const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Alert flags a forecast day that needs attention.
type Alert struct {
	Kind     AlertKind `json:"kind"`
	Severity Severity  `json:"severity"`
	Message  string    `json:"message"`
	// Shortfall is how far the balance sits below the alert floor.
	Shortfall decimal.Decimal `json:"shortfall"`
	// ConsecutiveDays counts how long the condition has persisted.
	ConsecutiveDays int `json:"consecutive_days"`
}

// ForecastDay is one projected day.
type ForecastDay struct {
	Date            Date            `json:"date"`
	OpeningBalance  decimal.Decimal `json:"opening_balance"`
	Inflows         Flow            `json:"inflows"`
	Outflows        Flow            `json:"outflows"`
	ClosingBalance  decimal.Decimal `json:"closing_balance"`
	ConfidenceLevel float64         `json:"confidence_level"`
	Alerts          []Alert         `json:"alerts,omitempty"`
}

// HasAlert reports whether the day carries an alert of the given severity.
func (d ForecastDay) HasAlert(sev Severity) bool {
	for _, a := range d.Alerts {
		if a.Severity == sev {
			return true
		}
	}
	return false
}

// ForecastSummary aggregates a forecast.
type ForecastSummary struct {
	LowestBalance      decimal.Decimal `json:"lowest_balance"`
	LowestBalanceDate  Date            `json:"lowest_balance_date"`
	TotalInflows       decimal.Decimal `json:"total_inflows"`
	TotalOutflows      decimal.Decimal `json:"total_outflows"`
	AverageConfidence  float64         `json:"average_confidence"`
	CriticalAlertCount int             `json:"critical_alert_count"`
}

// ScenarioPoint is the closing balance of a day under a scenario.
type ScenarioPoint struct {
	Date           Date            `json:"date"`
	ClosingBalance decimal.Decimal `json:"closing_balance"`
}

// Scenarios holds alternative closing balance series.
type Scenarios struct {
	Optimistic  []ScenarioPoint `json:"optimistic"`
	Pessimistic []ScenarioPoint `json:"pessimistic"`
}

// Forecast is a cached, recomputable projection for a tenant.
type Forecast struct {
	TenantID    string          `json:"tenant_id"`
	Currency    string          `json:"currency"`
	GeneratedAt time.Time       `json:"generated_at"`
	Days        []ForecastDay   `json:"forecast"`
	Summary     ForecastSummary `json:"summary"`
	Scenarios   *Scenarios      `json:"scenarios,omitempty"`
}

// ForecastInputs is everything the engine needs besides the ledger.
type ForecastInputs struct {
	Recurring []RecurringTransaction
	Patterns  []PaymentPattern
	Budgets   []BudgetEntry
	Taxes     []TaxObligation
}
