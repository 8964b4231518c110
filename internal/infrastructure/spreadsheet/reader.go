// Package spreadsheet wraps excelize to provide the sheet enumeration and
// row-iteration primitives the extraction coordinator needs, including the
// empty-row-run termination rule sheets larger than their declared
// dimensions rely on.
package spreadsheet

import (
	"fmt"
	"strings"

	excelize "github.com/xuri/excelize/v2"
)

// EmptyRowThreshold is the number of consecutive empty rows that ends a
// sheet scan early, protecting against workbooks whose declared dimensions
// vastly overstate their actual data.
const EmptyRowThreshold = 10

// UnsupportedFormatError is returned by Open for any file that is not a
// native .xlsx workbook. Legacy .xls is not supported, matching the
// reader library's own format coverage.
type UnsupportedFormatError struct {
	Path string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported spreadsheet format: %s (only .xlsx is accepted)", e.Path)
}

// Workbook wraps an open spreadsheet file.
type Workbook struct {
	f    *excelize.File
	path string
}

// Open opens path as an .xlsx workbook.
func Open(path string) (*Workbook, error) {
	if !strings.HasSuffix(strings.ToLower(path), ".xlsx") {
		return nil, &UnsupportedFormatError{Path: path}
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	return &Workbook{f: f, path: path}, nil
}

// Close releases the workbook's resources.
func (w *Workbook) Close() error {
	return w.f.Close()
}

// SheetNames returns every sheet in the workbook, in their physical order.
func (w *Workbook) SheetNames() []string {
	return w.f.GetSheetList()
}

// SheetInfo summarizes a sheet's declared dimensions.
type SheetInfo struct {
	Name    string
	Rows    int
	Columns int
}

// Info reports a sheet's declared dimensions via its used range.
func (w *Workbook) Info(sheet string) (SheetInfo, error) {
	rows, err := w.f.GetRows(sheet)
	if err != nil {
		return SheetInfo{}, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	cols := 0
	for _, r := range rows {
		if len(r) > cols {
			cols = len(r)
		}
	}
	return SheetInfo{Name: sheet, Rows: len(rows), Columns: cols}, nil
}

// ReadRows returns up to count rows starting at the given 1-based row
// number, used to build the sample passed to the mapping call.
func (w *Workbook) ReadRows(sheet string, startRow, count int) ([][]string, error) {
	rows, err := w.f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	start := startRow - 1
	if start < 0 {
		start = 0
	}
	if start >= len(rows) {
		return nil, nil
	}
	end := start + count
	if end > len(rows) {
		end = len(rows)
	}
	return rows[start:end], nil
}

// RowHandler is invoked once per data row, receiving the 1-based row
// number and its cell values.
type RowHandler func(rowNum int, row []string) error

// IterateRows streams every row from startRow onward, stopping either at
// the sheet's end or after EmptyRowThreshold consecutive empty rows,
// whichever comes first. A row counts toward the empty-row run even when
// skipEmpty discards it from the handler callback.
func (w *Workbook) IterateRows(sheet string, startRow int, skipEmpty bool, handle RowHandler) error {
	rows, err := w.f.Rows(sheet)
	if err != nil {
		return fmt.Errorf("open row iterator for %q: %w", sheet, err)
	}
	defer rows.Close()

	rowNum := 0
	consecutiveEmpty := 0
	for rows.Next() {
		rowNum++
		if rowNum < startRow {
			continue
		}
		cells, err := rows.Columns()
		if err != nil {
			return fmt.Errorf("read row %d: %w", rowNum, err)
		}

		if isEmptyRow(cells) {
			consecutiveEmpty++
			if consecutiveEmpty >= EmptyRowThreshold {
				break
			}
			if skipEmpty {
				continue
			}
		} else {
			consecutiveEmpty = 0
		}

		if err := handle(rowNum, cells); err != nil {
			return err
		}
	}
	return nil
}

func isEmptyRow(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// FormatRowForAI renders a row as the pipe-joined cell sample the mapping
// prompt expects.
func FormatRowForAI(row []string) string {
	return strings.Join(row, " | ")
}
