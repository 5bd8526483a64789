package parser

import (
	"bytes"
	"fmt"
	"iter"

	"github.com/xuri/excelize/v2"

	"github.com/FACorreiaa/bank-reconciler/pkg/apperror"
)

// ExcelSource reads an XLSX statement. The sheet is loaded once; Records
// iterates the loaded rows.
type ExcelSource struct {
	mapping   ColumnMapping
	sheet     string
	rows      [][]string
	headerRow int
	columns   columnIndex
}

// NewExcelSource opens the workbook and validates the mapping against the
// selected sheet's header.
func NewExcelSource(data []byte, mapping ColumnMapping) (*ExcelSource, error) {
	if err := mapping.Validate(); err != nil {
		return nil, err
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	sheet := mapping.Sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, apperror.NewValidation("file", "", "workbook has no sheets")
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
	}

	headerRow, columns, err := findHeader(rows, mapping)
	if err != nil {
		return nil, err
	}

	return &ExcelSource{
		mapping:   mapping,
		sheet:     sheet,
		rows:      rows,
		headerRow: headerRow,
		columns:   columns,
	}, nil
}

func (s *ExcelSource) Mapping() ColumnMapping { return s.mapping }

// Sheet returns the sheet being read.
func (s *ExcelSource) Sheet() string { return s.sheet }

func (s *ExcelSource) Records() iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		for i := s.headerRow + 1; i < len(s.rows); i++ {
			if blank(s.rows[i]) {
				continue
			}
			if !yield(s.columns.record(i+1, s.rows[i]), nil) {
				return
			}
		}
	}
}
