package parser

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"iter"
	"strings"

	"github.com/gocarina/gocsv"

	"github.com/FACorreiaa/bank-reconciler/pkg/apperror"
)

// CSVSource reads a delimited statement held in memory.
type CSVSource struct {
	data      []byte
	mapping   ColumnMapping
	delimiter rune
	headerRow int // record index of the header
	columns   columnIndex
}

// NewCSVSource validates the mapping against the file header. A mapped
// column missing from the header is a file-level ValidationError.
func NewCSVSource(data []byte, mapping ColumnMapping) (*CSVSource, error) {
	if err := mapping.Validate(); err != nil {
		return nil, err
	}

	data = stripUTF8BOM(data)
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, apperror.NewValidation("file", "", "empty file")
	}

	delimiter := mapping.Delimiter
	if delimiter == 0 {
		delimiter = detectFileDelimiter(data, mapping.Date)
	}

	s := &CSVSource{data: data, mapping: mapping, delimiter: delimiter}

	head := make([][]string, 0, maxHeaderScan+1)
	r := s.reader()
	for len(head) <= maxHeaderScan {
		fields, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			head = append(head, nil)
			continue
		}
		head = append(head, fields)
	}

	headerRow, columns, err := findHeader(head, mapping)
	if err != nil {
		return nil, err
	}
	s.headerRow = headerRow
	s.columns = columns
	return s, nil
}

func (s *CSVSource) Mapping() ColumnMapping { return s.mapping }

// Delimiter returns the delimiter in use.
func (s *CSVSource) Delimiter() rune { return s.delimiter }

func (s *CSVSource) reader() *csv.Reader {
	// LazyCSVReader hands back a *csv.Reader with lazy quotes and leading
	// space trimming enabled.
	r := gocsv.LazyCSVReader(bytes.NewReader(s.data)).(*csv.Reader)
	r.Comma = s.delimiter
	r.FieldsPerRecord = -1
	r.ReuseRecord = false
	return r
}

// Records yields every data row after the header in file order.
func (s *CSVSource) Records() iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		r := s.reader()
		for n := 0; ; n++ {
			fields, err := r.Read()
			if errors.Is(err, io.EOF) {
				return
			}
			if n <= s.headerRow {
				continue
			}
			if err != nil {
				var pe *csv.ParseError
				if errors.As(err, &pe) {
					if !yield(Record{Line: pe.Line}, ParseError{Row: pe.Line, Message: pe.Err.Error()}) {
						return
					}
					continue
				}
				yield(Record{}, err)
				return
			}
			if blank(fields) {
				continue
			}

			line, _ := r.FieldPos(0)
			if !yield(s.columns.record(line, fields), nil) {
				return
			}
		}
	}
}

func blank(fields []string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// detectFileDelimiter picks the delimiter from the line that names the date
// column, falling back to the first non-empty line.
func detectFileDelimiter(data []byte, dateHeader string) rune {
	lines := strings.Split(string(data), "\n")
	want := strings.ToLower(strings.TrimSpace(dateHeader))

	fallback := rune(0)
	for i, line := range lines {
		if i > maxHeaderScan {
			break
		}
		line = strings.TrimSpace(strings.TrimRight(line, "\r"))
		if line == "" {
			continue
		}
		d, count := detectDelimiter(line)
		if count == 0 {
			continue
		}
		if fallback == 0 {
			fallback = d
		}
		if want != "" && strings.Contains(strings.ToLower(line), want) {
			return d
		}
	}
	if fallback == 0 {
		return ','
	}
	return fallback
}

func detectDelimiter(line string) (rune, int) {
	delimiters := []rune{';', '\t', ',', '|'}
	bestDelimiter := rune(0)
	bestCount := 0
	for _, d := range delimiters {
		count := strings.Count(line, string(d))
		if count > bestCount {
			bestCount = count
			bestDelimiter = d
		}
	}
	return bestDelimiter, bestCount
}

func stripUTF8BOM(data []byte) []byte {
	return bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
}
