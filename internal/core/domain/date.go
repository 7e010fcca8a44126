package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// DateFormat is the ISO-8601 layout used to render dates.
const DateFormat = "2006-01-02"

const readDateFormat = "2006-1-2"

// Date is a calendar day with no time-of-day component.
type Date struct {
	y int
	m time.Month
	d int
}

// NewDate returns a normalised Date.
func NewDate(year int, month time.Month, day int) Date {
	d := Date{year, month, day}
	d.y, d.m, d.d = d.Time().Date()
	return d
}

// DateOf returns the UTC calendar day of t.
func DateOf(t time.Time) Date {
	return NewDate(t.UTC().Date())
}

// ParseDate parses "2025-07-01" (single-digit month and day accepted).
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(readDateFormat, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q want format %q: %w", s, DateFormat, err)
	}
	return NewDate(t.Date()), nil
}

// MustParseDate is like ParseDate but panics on error.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err.Error())
	}
	return d
}

// Time returns midnight UTC of the day.
func (d Date) Time() time.Time { return time.Date(d.y, d.m, d.d, 0, 0, 0, 0, time.UTC) }

// IsZero reports whether d is the zero Date.
func (d Date) IsZero() bool { return d == Date{} }

// Year returns the year.
func (d Date) Year() int { return d.y }

// Month returns the month.
func (d Date) Month() time.Month { return d.m }

// Day returns the day of the month.
func (d Date) Day() int { return d.d }

// AddDays returns d shifted by n days.
func (d Date) AddDays(n int) Date { return NewDate(d.y, d.m, d.d+n) }

// AddMonths returns d shifted by n months, clamping to the month's last day.
func (d Date) AddMonths(n int) Date {
	first := NewDate(d.y, d.m+time.Month(n), 1)
	day := min(d.d, first.DaysInMonth())
	return NewDate(first.y, first.m, day)
}

// DaysInMonth returns the number of days of d's month.
func (d Date) DaysInMonth() int {
	return NewDate(d.y, d.m+1, 0).d
}

// Before reports whether d is before x.
func (d Date) Before(x Date) bool { return d.Time().Before(x.Time()) }

// After reports whether d is after x.
func (d Date) After(x Date) bool { return d.Time().After(x.Time()) }

// DaysUntil returns the number of days from d to x.
func (d Date) DaysUntil(x Date) int {
	return int(x.Time().Sub(d.Time()).Hours() / 24)
}

// MonthYear returns the "2006-01" key of d's month.
func (d Date) MonthYear() string { return d.Time().Format("2006-01") }

// String formats the date in its standard format. The zero Date is "".
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Time().Format(DateFormat)
}

// MarshalJSON encodes the date as a string, or null for the zero Date.
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

// UnmarshalJSON decodes the date from a string. null and "" decode to
// the zero Date.
func (d *Date) UnmarshalJSON(data []byte) error {
	var s *string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == nil || *s == "" {
		*d = Date{}
		return nil
	}
	v, err := ParseDate(*s)
	if err != nil {
		return err
	}
	*d = v
	return nil
}
