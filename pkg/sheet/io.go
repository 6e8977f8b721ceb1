package sheet

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/xuri/excelize/v2"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func readCSV(path string) ([][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read table: %w", err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return records, nil
}

func (t *Table) readXLSX(path string) ([][]string, error) {
	book, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}

	sheets := book.GetSheetList()
	if len(sheets) == 0 {
		book.Close()
		return nil, fmt.Errorf("workbook %s has no sheet", path)
	}

	records, err := book.GetRows(sheets[0])
	if err != nil {
		book.Close()
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}

	t.book = book
	t.sheet = sheets[0]
	return records, nil
}

func (t *Table) saveCSV() error {
	return writeAtomic(t.path, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(t.header); err != nil {
			return err
		}
		if err := cw.WriteAll(t.cells); err != nil {
			return err
		}
		return cw.Error()
	})
}

func (t *Table) saveXLSX() error {
	if t.book == nil {
		return fmt.Errorf("workbook %s is closed", t.path)
	}

	// Only the result columns are written; other cells keep their type and style
	for _, col := range []string{ColStatus, ColError} {
		i, ok := t.columns[col]
		if !ok {
			continue
		}
		if err := t.setCell(i, 1, t.header[i]); err != nil {
			return err
		}
		for n, row := range t.cells {
			if err := t.setCell(i, n+2, row[i]); err != nil {
				return err
			}
		}
	}

	return writeAtomic(t.path, func(w io.Writer) error {
		return t.book.Write(w)
	})
}

func (t *Table) setCell(col, row int, value string) error {
	cell, err := excelize.CoordinatesToCellName(col+1, row)
	if err != nil {
		return err
	}
	if err := t.book.SetCellValue(t.sheet, cell, value); err != nil {
		return fmt.Errorf("failed to write cell %s: %w", cell, err)
	}
	return nil
}

// writeAtomic writes to path.tmp and renames it over path.
func writeAtomic(path string, write func(io.Writer) error) error {
	tempPath := path + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temp table file: %w", err)
	}

	if err := write(file); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode table: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
