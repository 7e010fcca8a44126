package accounting

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/custodia-labs/cashsync/internal/core/domain"
)

// Report row types as sent on the wire.
const (
	rowTypeHeader     = "Header"
	rowTypeSection    = "Section"
	rowTypeRow        = "Row"
	rowTypeSummaryRow = "SummaryRow"
)

// Bank summary column titles.
const (
	ColumnOpeningBalance = "Opening Balance"
	ColumnCashReceived   = "Cash Received"
	ColumnCashSpent      = "Cash Spent"
	ColumnClosingBalance = "Closing Balance"
)

// attrAccount is the cell attribute carrying the account id.
const attrAccount = "account"

// Node is one classified report row: *Section, *Row or *TotalRow.
type Node interface {
	node()
}

// Cell is one report cell.
type Cell struct {
	Value      string
	Attributes map[string]string
}

// Amount parses the cell as a decimal amount. An explicitly empty cell is
// zero; anything else that is not a number is an error.
func (c Cell) Amount() (decimal.Decimal, error) {
	v := strings.TrimSpace(c.Value)
	if v == "" {
		return decimal.Zero, nil
	}
	v = strings.ReplaceAll(v, ",", "")
	neg := false
	if strings.HasPrefix(v, "(") && strings.HasSuffix(v, ")") {
		neg = true
		v = v[1 : len(v)-1]
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: cell %q is not an amount", domain.ErrUnrecognisedReport, c.Value)
	}
	if neg {
		d = d.Neg()
	}
	return d, nil
}

// Section groups rows under a title.
type Section struct {
	Title string
	Rows  []Node
}

// Row is a data row.
type Row struct {
	Cells []Cell
}

// TotalRow is a section summary row.
type TotalRow struct {
	Cells []Cell
}

func (*Section) node()  {}
func (*Row) node()      {}
func (*TotalRow) node() {}

// Report is a parsed structured report.
type Report struct {
	ID       string
	Name     string
	Date     time.Time
	Columns  []string
	Sections []*Section
}

// Column returns the index of the named column, or -1.
func (r *Report) Column(name string) int {
	for i, c := range r.Columns {
		if strings.EqualFold(strings.TrimSpace(c), name) {
			return i
		}
	}
	return -1
}

// Section returns the section with title. An empty title matches the
// first section.
func (r *Report) Section(title string) (*Section, bool) {
	for _, s := range r.Sections {
		if title == "" || strings.EqualFold(s.Title, title) {
			return s, true
		}
	}
	return nil, false
}

// Total returns the amount in column of the section's total row.
func (r *Report) Total(sectionTitle, column string) (decimal.Decimal, error) {
	col := r.Column(column)
	if col < 0 {
		return decimal.Zero, fmt.Errorf("%w: no column %q", domain.ErrUnrecognisedReport, column)
	}
	s, ok := r.Section(sectionTitle)
	if !ok {
		return decimal.Zero, fmt.Errorf("report section %q: %w", sectionTitle, domain.ErrNotFound)
	}
	for _, n := range s.Rows {
		if t, ok := n.(*TotalRow); ok {
			if col >= len(t.Cells) {
				return decimal.Zero, fmt.Errorf("%w: total row has no column %q", domain.ErrUnrecognisedReport, column)
			}
			return t.Cells[col].Amount()
		}
	}
	return decimal.Zero, fmt.Errorf("total row of section %q: %w", sectionTitle, domain.ErrNotFound)
}

// Wire format.
type rawReport struct {
	ReportID   string   `json:"reportId"`
	ReportName string   `json:"reportName"`
	ReportDate string   `json:"reportDate"`
	Rows       []rawRow `json:"rows"`
}

type rawRow struct {
	RowType string    `json:"rowType"`
	Title   string    `json:"title"`
	Cells   []rawCell `json:"cells"`
	Rows    []rawRow  `json:"rows"`
}

type rawCell struct {
	Value      string `json:"value"`
	Attributes []struct {
		ID    string `json:"id"`
		Value string `json:"value"`
	} `json:"attributes"`
}

// ParseReport decodes and classifies a report. Any node whose shape is not
// one of the known variants fails with domain.ErrUnrecognisedReport.
func ParseReport(data []byte) (*Report, error) {
	var raw rawReport
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	report := &Report{ID: raw.ReportID, Name: raw.ReportName}
	if raw.ReportDate != "" {
		d, err := time.Parse(time.DateOnly, raw.ReportDate)
		if err != nil {
			return nil, fmt.Errorf("%w: report date %q", domain.ErrUnrecognisedReport, raw.ReportDate)
		}
		report.Date = d
	}

	for i, row := range raw.Rows {
		switch row.RowType {
		case rowTypeHeader:
			if report.Columns != nil {
				return nil, fmt.Errorf("%w: duplicate header at row %d", domain.ErrUnrecognisedReport, i)
			}
			report.Columns = make([]string, len(row.Cells))
			for j, c := range row.Cells {
				report.Columns[j] = c.Value
			}
		case rowTypeSection:
			section, err := parseSection(row, i)
			if err != nil {
				return nil, err
			}
			report.Sections = append(report.Sections, section)
		default:
			return nil, fmt.Errorf("%w: top-level row %d has type %q", domain.ErrUnrecognisedReport, i, row.RowType)
		}
	}
	return report, nil
}

func parseSection(raw rawRow, index int) (*Section, error) {
	if len(raw.Cells) > 0 {
		return nil, fmt.Errorf("%w: section %d carries cells", domain.ErrUnrecognisedReport, index)
	}
	section := &Section{Title: raw.Title}
	for j, row := range raw.Rows {
		switch row.RowType {
		case rowTypeRow:
			section.Rows = append(section.Rows, &Row{Cells: convertCells(row.Cells)})
		case rowTypeSummaryRow:
			section.Rows = append(section.Rows, &TotalRow{Cells: convertCells(row.Cells)})
		default:
			return nil, fmt.Errorf("%w: row %d.%d has type %q", domain.ErrUnrecognisedReport, index, j, row.RowType)
		}
		if len(row.Rows) > 0 {
			return nil, fmt.Errorf("%w: row %d.%d has nested rows", domain.ErrUnrecognisedReport, index, j)
		}
	}
	return section, nil
}

func convertCells(raw []rawCell) []Cell {
	cells := make([]Cell, len(raw))
	for i, c := range raw {
		cells[i] = Cell{Value: c.Value}
		if len(c.Attributes) > 0 {
			cells[i].Attributes = make(map[string]string, len(c.Attributes))
			for _, a := range c.Attributes {
				cells[i].Attributes[a.ID] = a.Value
			}
		}
	}
	return cells
}

// BankSummaryRecords converts a bank summary report into one record per
// bank account. Amount fields are fixed to two decimal places.
func BankSummaryRecords(r *Report) ([]domain.UpstreamRecord, error) {
	columns := map[string]string{
		"opening_balance": ColumnOpeningBalance,
		"cash_received":   ColumnCashReceived,
		"cash_spent":      ColumnCashSpent,
		"closing_balance": ColumnClosingBalance,
	}
	index := make(map[string]int, len(columns))
	for field, title := range columns {
		col := r.Column(title)
		if col < 1 {
			return nil, fmt.Errorf("%w: bank summary lacks column %q", domain.ErrUnrecognisedReport, title)
		}
		index[field] = col
	}

	var records []domain.UpstreamRecord
	for _, s := range r.Sections {
		for _, n := range s.Rows {
			row, ok := n.(*Row)
			if !ok {
				continue
			}
			if len(row.Cells) < len(r.Columns) {
				return nil, fmt.Errorf("%w: bank summary row has %d cells, want %d",
					domain.ErrUnrecognisedReport, len(row.Cells), len(r.Columns))
			}
			name := strings.TrimSpace(row.Cells[0].Value)
			id := row.Cells[0].Attributes[attrAccount]
			if id == "" {
				id = name
			}
			if id == "" {
				return nil, fmt.Errorf("%w: bank summary row without account", domain.ErrUnrecognisedReport)
			}

			fields := map[string]string{"name": name, "account_id": row.Cells[0].Attributes[attrAccount]}
			for field, col := range index {
				amount, err := row.Cells[col].Amount()
				if err != nil {
					return nil, err
				}
				fields[field] = amount.StringFixed(2)
			}
			records = append(records, domain.UpstreamRecord{
				ExternalID: id,
				UpdatedAt:  r.Date,
				Fields:     fields,
			})
		}
	}
	return records, nil
}
