// Package sheet reads and rewrites the merge instruction table.
//
// The table is a CSV or XLSX file with at least the columns zone,
// from_user and to_user. A Merge_status column records the outcome of
// each row and is added when missing. The file is the only durable state
// of a run: Save rewrites it in place after every processed row.
package sheet

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/xuri/excelize/v2"
)

// Column names
const (
	ColZone   = "zone"
	ColFrom   = "from_user"
	ColTo     = "to_user"
	ColStatus = "Merge_status"
	ColError  = "Merge_error"
)

// Status is the progress of one row.
type Status string

const (
	StatusNotProcessed Status = "NOT PROCESSED"
	StatusSuccess      Status = "SUCCESS"
	StatusFail         Status = "FAIL"
)

// ParseStatus reads a status cell. Empty and unknown values mean the row
// was never processed.
func ParseStatus(s string) Status {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SUCCESS":
		return StatusSuccess
	case "FAIL", "FAILED":
		return StatusFail
	default:
		return StatusNotProcessed
	}
}

type format int

const (
	formatCSV format = iota
	formatXLSX
)

var (
	// ErrUnsupportedFormat is returned for files that are neither CSV nor XLSX.
	ErrUnsupportedFormat = errors.New("unsupported table format")

	// ErrMissingColumn is returned when a required column is absent.
	ErrMissingColumn = errors.New("missing column")

	// ErrStatusRegression is returned when a successful row would be
	// marked otherwise.
	ErrStatusRegression = errors.New("row already succeeded")
)

func formatOf(path string) (format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return formatCSV, nil
	case ".xlsx", ".xlsm":
		return formatXLSX, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(path))
	}
}

// Row is one merge instruction.
type Row struct {
	// Index is the position of the row in the table, starting at 0
	Index int

	Zone   string
	From   string
	To     string
	Status Status

	// Error is the reason of the last failure, if recorded
	Error string
}

// Table is an instruction table loaded in memory.
type Table struct {
	mu sync.Mutex

	path   string
	format format

	header  []string
	columns map[string]int
	cells   [][]string

	// book and sheet are set for XLSX tables; saving updates the workbook
	// so other sheets and styles survive
	book  *excelize.File
	sheet string
}

// Load reads the table at path. The format follows the file extension.
func Load(path string) (*Table, error) {
	f, err := formatOf(path)
	if err != nil {
		return nil, err
	}

	t := &Table{path: path, format: f}
	var records [][]string
	switch f {
	case formatCSV:
		records, err = readCSV(path)
	case formatXLSX:
		records, err = t.readXLSX(path)
	}
	if err != nil {
		return nil, err
	}

	if err := t.init(records); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

func (t *Table) init(records [][]string) error {
	if len(records) == 0 {
		return fmt.Errorf("%w: %s is empty", ErrMissingColumn, filepath.Base(t.path))
	}

	// Cells past the last named column get an unnamed column so they
	// survive a save
	width := len(records[0])
	for _, record := range records[1:] {
		width = max(width, len(record))
	}
	t.header = make([]string, width)
	for i, name := range records[0] {
		t.header[i] = strings.TrimSpace(name)
	}
	t.indexColumns()

	for _, col := range []string{ColZone, ColFrom, ColTo} {
		if _, ok := t.columns[col]; !ok {
			return fmt.Errorf("%w: %s", ErrMissingColumn, col)
		}
	}

	for _, record := range records[1:] {
		t.cells = append(t.cells, pad(record, len(t.header)))
	}

	if _, ok := t.columns[ColStatus]; !ok {
		t.addColumn(ColStatus, string(StatusNotProcessed))
	}
	for _, row := range t.cells {
		i := t.columns[ColStatus]
		row[i] = string(ParseStatus(row[i]))
	}
	return nil
}

func (t *Table) indexColumns() {
	t.columns = make(map[string]int, len(t.header))
	for i, name := range t.header {
		if _, dup := t.columns[name]; !dup && name != "" {
			t.columns[name] = i
		}
	}
}

func (t *Table) addColumn(name, value string) {
	t.header = append(t.header, name)
	t.columns[name] = len(t.header) - 1
	for i := range t.cells {
		t.cells[i] = append(t.cells[i], value)
	}
}

func pad(record []string, n int) []string {
	row := make([]string, n, n+2)
	copy(row, record)
	return row
}

func (t *Table) cell(row []string, col string) string {
	i, ok := t.columns[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// Path returns the file the table was loaded from.
func (t *Table) Path() string {
	return t.path
}

// Header returns the column names in file order.
func (t *Table) Header() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.header...)
}

// Len returns the number of instruction rows.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.cells)
}

// Row returns the instruction at index i.
func (t *Table) Row(i int) Row {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.row(i)
}

func (t *Table) row(i int) Row {
	cells := t.cells[i]
	return Row{
		Index:  i,
		Zone:   t.cell(cells, ColZone),
		From:   t.cell(cells, ColFrom),
		To:     t.cell(cells, ColTo),
		Status: Status(t.cell(cells, ColStatus)),
		Error:  t.cell(cells, ColError),
	}
}

// Rows returns all instructions in table order.
func (t *Table) Rows() []Row {
	t.mu.Lock()
	defer t.mu.Unlock()

	rows := make([]Row, len(t.cells))
	for i := range t.cells {
		rows[i] = t.row(i)
	}
	return rows
}

// SetResult records the outcome of row i. The Merge_error column is added
// the first time a reason is recorded. A successful row keeps its status.
func (t *Table) SetResult(i int, status Status, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if i < 0 || i >= len(t.cells) {
		return fmt.Errorf("row %d out of range", i)
	}
	row := t.cells[i]
	if Status(row[t.columns[ColStatus]]) == StatusSuccess && status != StatusSuccess {
		return fmt.Errorf("%w: row %d", ErrStatusRegression, i)
	}

	row[t.columns[ColStatus]] = string(status)

	if _, ok := t.columns[ColError]; !ok {
		if reason == "" {
			return nil
		}
		t.addColumn(ColError, "")
		row = t.cells[i]
	}
	row[t.columns[ColError]] = reason
	return nil
}

// Counts returns the number of rows per status.
func (t *Table) Counts() map[Status]int {
	t.mu.Lock()
	defer t.mu.Unlock()

	counts := make(map[Status]int, 3)
	for _, row := range t.cells {
		counts[Status(row[t.columns[ColStatus]])]++
	}
	return counts
}

// Save rewrites the table file in place. The new content is written to a
// temporary file first and renamed over the original.
func (t *Table) Save() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.format {
	case formatXLSX:
		return t.saveXLSX()
	default:
		return t.saveCSV()
	}
}

// Close releases the workbook of an XLSX table.
func (t *Table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.book == nil {
		return nil
	}
	err := t.book.Close()
	t.book = nil
	return err
}
