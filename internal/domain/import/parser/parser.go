// Package parser reads bank statements (CSV or XLSX through a caller
// supplied column mapping, or OFX) and yields raw records lazily.
package parser

import (
	"fmt"
	"iter"
	"strings"

	"github.com/FACorreiaa/bank-reconciler/pkg/apperror"
)

// ColumnMapping maps statement fields to header names. Date, Description and
// Amount are required; the rest are optional.
type ColumnMapping struct {
	Date          string `json:"date"`
	Description   string `json:"description"`
	Amount        string `json:"amount"`
	Fee           string `json:"fee,omitempty"`
	Balance       string `json:"balance,omitempty"`
	State         string `json:"state,omitempty"`
	Product       string `json:"product,omitempty"`
	Type          string `json:"type,omitempty"`
	Currency      string `json:"currency,omitempty"`
	CompletedDate string `json:"completed_date,omitempty"`

	DateFormat     string `json:"date_format,omitempty"` // Go layout, tried before the common layouts
	Delimiter      rune   `json:"delimiter,omitempty"`   // 0 = detect from the header line
	EuropeanFormat bool   `json:"european_format"`       // 1.234,56
	Sheet          string `json:"sheet,omitempty"`       // XLSX only; default first sheet
}

// Record is one raw statement row. Unmapped fields are empty.
type Record struct {
	Line          int
	Date          string
	Description   string
	Amount        string
	Fee           string
	Balance       string
	State         string
	Product       string
	Type          string
	Currency      string
	CompletedDate string
}

// Source yields statement records. Each call to Records starts from the top.
type Source interface {
	Records() iter.Seq2[Record, error]
	Mapping() ColumnMapping
}

// ParseError represents a row the reader could not split into fields.
type ParseError struct {
	Row     int
	Message string
}

func (e ParseError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Row, e.Message)
}

// Validate checks that the required columns are mapped.
func (m ColumnMapping) Validate() error {
	required := []struct{ field, header string }{
		{"date", m.Date},
		{"description", m.Description},
		{"amount", m.Amount},
	}
	for _, r := range required {
		if strings.TrimSpace(r.header) == "" {
			return apperror.NewValidation("mapping", r.field, "required column is not mapped")
		}
	}
	return nil
}

// columnIndex holds the position of each mapped header, -1 when unmapped.
type columnIndex struct {
	date, description, amount                                     int
	fee, balance, state, product, txType, currency, completedDate int
}

func (ci columnIndex) record(line int, fields []string) Record {
	get := func(i int) string {
		if i < 0 || i >= len(fields) {
			return ""
		}
		return strings.TrimSpace(fields[i])
	}
	return Record{
		Line:          line,
		Date:          get(ci.date),
		Description:   get(ci.description),
		Amount:        get(ci.amount),
		Fee:           get(ci.fee),
		Balance:       get(ci.balance),
		State:         get(ci.state),
		Product:       get(ci.product),
		Type:          get(ci.txType),
		Currency:      get(ci.currency),
		CompletedDate: get(ci.completedDate),
	}
}

func headerKey(s string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimPrefix(s, "\uFEFF")))
}

// resolveColumns locates every mapped header in a header row and returns the
// names of the mapped headers that are missing.
func resolveColumns(header []string, m ColumnMapping) (columnIndex, []string) {
	positions := make(map[string]int, len(header))
	for i, h := range header {
		key := headerKey(h)
		if _, dup := positions[key]; !dup {
			positions[key] = i
		}
	}

	var missing []string
	find := func(name string) int {
		if strings.TrimSpace(name) == "" {
			return -1
		}
		if i, ok := positions[headerKey(name)]; ok {
			return i
		}
		missing = append(missing, name)
		return -1
	}

	ci := columnIndex{
		date:          find(m.Date),
		description:   find(m.Description),
		amount:        find(m.Amount),
		fee:           find(m.Fee),
		balance:       find(m.Balance),
		state:         find(m.State),
		product:       find(m.Product),
		txType:        find(m.Type),
		currency:      find(m.Currency),
		completedDate: find(m.CompletedDate),
	}
	return ci, missing
}

// findHeader scans the first rows for one containing every mapped header.
// Statements often carry a few lines of account metadata before the header.
func findHeader(rows [][]string, m ColumnMapping) (int, columnIndex, error) {
	var closest []string
	for i, row := range rows {
		if i > maxHeaderScan {
			break
		}
		ci, missing := resolveColumns(row, m)
		if len(missing) == 0 {
			return i, ci, nil
		}
		if closest == nil || len(missing) < len(closest) {
			closest = missing
		}
	}
	if len(closest) == 0 {
		return 0, columnIndex{}, apperror.NewValidation("file", "", "no header row found")
	}
	return 0, columnIndex{}, apperror.NewValidation("column", closest[0], "mapped column not found in header")
}

const maxHeaderScan = 20
