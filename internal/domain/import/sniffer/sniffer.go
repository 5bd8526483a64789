// Package sniffer inspects a delimited bank statement and proposes a column
// mapping: delimiter, header row, mapped headers and number/date dialect.
package sniffer

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"slices"
	"strings"

	"github.com/gocarina/gocsv"

	"github.com/FACorreiaa/bank-reconciler/internal/domain/import/parser"
	"github.com/FACorreiaa/bank-reconciler/pkg/apperror"
)

const (
	maxHeaderScan = 20
	maxSampleRows = 20
)

// Header names per mapped field, most specific first. Matching is exact
// first, then by substring.
var fieldKeywords = []struct {
	field    string
	keywords []string
}{
	{"completed_date", []string{"completed date", "data valor", "value date"}},
	{"date", []string{"started date", "transaction date", "booking date", "date", "data mov", "data", "fecha"}},
	{"description", []string{"description", "descrição", "descricao", "descripción", "descripcion", "details", "narrative", "payee", "merchant", "concepto"}},
	{"fee", []string{"fee", "comissão", "comissao"}},
	{"amount", []string{"amount", "importe", "montante", "valor"}},
	{"balance", []string{"balance", "saldo"}},
	{"state", []string{"state", "status", "estado"}},
	{"product", []string{"product", "produto"}},
	{"type", []string{"type", "tipo"}},
	{"currency", []string{"currency", "moeda", "divisa"}},
}

// Suggestion is a proposed mapping for a statement.
type Suggestion struct {
	Mapping      parser.ColumnMapping `json:"mapping"`
	Headers      []string             `json:"headers"`
	HeaderRow    int                  `json:"headerRow"`
	Fingerprint  string               `json:"fingerprint"` // identifies the bank layout
	CurrencyHint string               `json:"currencyHint,omitempty"`
	Complete     bool                 `json:"complete"` // date, description and amount found
}

// Suggest proposes a mapping for a CSV statement. It fails only when no line
// looks like a header.
func Suggest(data []byte) (*Suggestion, error) {
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, apperror.NewValidation("file", "", "empty file")
	}

	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	delimiter, headerRow, ok := findHeaderRow(lines)
	if !ok {
		return nil, apperror.NewValidation("file", "", "no header row found")
	}

	rows := read(data, delimiter)
	if headerRow >= len(rows) {
		return nil, apperror.NewValidation("file", "", "no header row found")
	}
	headers := rows[headerRow]
	samples := rows[headerRow+1 : min(len(rows), headerRow+1+maxSampleRows)]

	cols := suggestColumns(headers)
	m := parser.ColumnMapping{Delimiter: delimiter}
	name := func(field string) string {
		if i, ok := cols[field]; ok {
			return strings.TrimSpace(headers[i])
		}
		return ""
	}
	m.Date = name("date")
	m.Description = name("description")
	m.Amount = name("amount")
	m.Fee = name("fee")
	m.Balance = name("balance")
	m.State = name("state")
	m.Product = name("product")
	m.Type = name("type")
	m.Currency = name("currency")
	m.CompletedDate = name("completed_date")

	amountIdx, dateIdx := -1, -1
	if i, ok := cols["amount"]; ok {
		amountIdx = i
	}
	if i, ok := cols["date"]; ok {
		dateIdx = i
	}
	d := probeDialect(samples, amountIdx, dateIdx)
	m.EuropeanFormat = d.european
	m.DateFormat = d.dateLayout

	return &Suggestion{
		Mapping:      m,
		Headers:      headers,
		HeaderRow:    headerRow,
		Fingerprint:  fingerprint(headers),
		CurrencyHint: d.currency,
		Complete:     m.Validate() == nil,
	}, nil
}

func read(data []byte, delimiter rune) [][]string {
	r := gocsv.LazyCSVReader(bytes.NewReader(data)).(*csv.Reader)
	r.Comma = delimiter
	r.FieldsPerRecord = -1

	var rows [][]string
	for {
		fields, err := r.Read()
		var pe *csv.ParseError
		switch {
		case errors.As(err, &pe):
			rows = append(rows, nil) // keep record positions
		case err != nil:
			return rows
		default:
			rows = append(rows, fields)
		}
	}
}

// findHeaderRow returns the first line with at least two header keywords and
// a delimiter, skipping the metadata lines banks put above the table.
func findHeaderRow(lines []string) (rune, int, bool) {
	record := 0
	for i, line := range lines {
		if i > maxHeaderScan {
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		delimiter, count := detectDelimiter(line)
		if count > 0 && keywordHits(strings.ToLower(line)) >= 2 {
			return delimiter, record, true
		}
		record++
	}
	return 0, 0, false
}

func keywordHits(lower string) int {
	hits := 0
	for _, f := range fieldKeywords {
		for _, kw := range f.keywords {
			if strings.Contains(lower, kw) {
				hits++
				break
			}
		}
	}
	return hits
}

func detectDelimiter(line string) (rune, int) {
	best, bestCount := rune(0), 0
	for _, d := range []rune{';', '\t', ',', '|'} {
		if n := strings.Count(line, string(d)); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best, bestCount
}

// suggestColumns maps field names to header indices. Each header is used by
// at most one field.
func suggestColumns(headers []string) map[string]int {
	norm := make([]string, len(headers))
	for i, h := range headers {
		norm[i] = strings.ToLower(strings.TrimSpace(h))
	}

	taken := make(map[int]bool)
	cols := make(map[string]int)
	assign := func(field string, match func(h, kw string) bool, keywords []string) bool {
		for _, kw := range keywords {
			for i, h := range norm {
				if !taken[i] && match(h, kw) {
					cols[field] = i
					taken[i] = true
					return true
				}
			}
		}
		return false
	}

	exact := func(h, kw string) bool { return h == kw }
	contains := func(h, kw string) bool { return strings.Contains(h, kw) }
	for _, f := range fieldKeywords {
		if !assign(f.field, exact, f.keywords) {
			assign(f.field, contains, f.keywords)
		}
	}
	return cols
}

type dialect struct {
	european   bool
	dateLayout string
	currency   string
}

// probeDialect infers the decimal separator from amount samples and the
// day/month order from date samples. A date layout is only proposed when a
// sample is unambiguous.
func probeDialect(samples [][]string, amountIdx, dateIdx int) dialect {
	var d dialect
	european, us := 0, 0
	dayFirst, monthFirst := false, false

	for _, row := range samples {
		if amountIdx >= 0 && amountIdx < len(row) {
			switch hint := amountHint(row[amountIdx]); {
			case hint > 0:
				european++
			case hint < 0:
				us++
			}
		}
		if dateIdx >= 0 && dateIdx < len(row) {
			switch dateOrder(row[dateIdx]) {
			case 1:
				dayFirst = true
			case -1:
				monthFirst = true
			}
		}
		for _, cell := range row {
			switch {
			case strings.Contains(cell, "€") || strings.Contains(cell, "EUR"):
				d.currency = "EUR"
			case strings.Contains(cell, "£") || strings.Contains(cell, "GBP"):
				d.currency = "GBP"
			case strings.Contains(cell, "R$") || strings.Contains(cell, "BRL"):
				d.currency = "BRL"
			case strings.Contains(cell, "$") && d.currency == "":
				d.currency = "USD"
			}
		}
	}

	d.european = european > us
	sep := dateSeparator(samples, dateIdx)
	switch {
	case sep == 0:
	case dayFirst && !monthFirst:
		d.dateLayout = "02" + string(sep) + "01" + string(sep) + "2006"
	case monthFirst && !dayFirst:
		d.dateLayout = "01" + string(sep) + "02" + string(sep) + "2006"
	}
	return d
}

// amountHint returns >0 for 1.234,56 style, <0 for 1,234.56 style and 0 when
// the value does not tell.
func amountHint(val string) int {
	cleaned := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' || r == ',' || r == '.' {
			return r
		}
		return -1
	}, val)
	if cleaned == "" {
		return 0
	}

	comma, dot := strings.LastIndex(cleaned, ","), strings.LastIndex(cleaned, ".")
	switch {
	case comma >= 0 && dot >= 0:
		if comma > dot {
			return 1
		}
		return -1
	case comma >= 0 && len(cleaned)-comma-1 <= 2:
		return 1
	case dot >= 0 && len(cleaned)-dot-1 <= 2:
		return -1
	}
	return 0
}

// dateOrder returns 1 when a date is day-first, -1 when month-first and 0
// when ambiguous or not a numeric date.
func dateOrder(val string) int {
	parts := strings.FieldsFunc(val, func(r rune) bool { return r == '/' || r == '-' || r == '.' })
	if len(parts) < 3 || len(parts[0]) > 2 {
		return 0
	}
	first, second := leadingNumber(parts[0]), leadingNumber(parts[1])
	switch {
	case first > 12 && first <= 31:
		return 1
	case second > 12 && second <= 31:
		return -1
	}
	return 0
}

func leadingNumber(s string) int {
	n := 0
	for _, c := range strings.TrimSpace(s) {
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int(c-'0')
	}
	return n
}

func dateSeparator(samples [][]string, dateIdx int) rune {
	if dateIdx < 0 {
		return 0
	}
	for _, row := range samples {
		if dateIdx >= len(row) || dateOrder(row[dateIdx]) == 0 {
			continue
		}
		for _, r := range row[dateIdx] {
			if r == '/' || r == '-' || r == '.' {
				return r
			}
		}
	}
	return 0
}

// fingerprint hashes the normalized header set so a known bank layout can be
// recognized regardless of column order.
func fingerprint(headers []string) string {
	norm := make([]string, 0, len(headers))
	for _, h := range headers {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			norm = append(norm, h)
		}
	}
	slices.Sort(norm)
	sum := sha256.Sum256([]byte(strings.Join(norm, "|")))
	return hex.EncodeToString(sum[:])
}
