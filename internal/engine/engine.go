// Package engine abstracts the external spreadsheet engine used to recalculate and print
// packages.
package engine

import (
	"context"
	"errors"

	"github.com/xuri/excelize/v2"
)

var (
	ErrEngineUnavailable = errors.New("spreadsheet engine is unavailable")
	ErrEngineTimeout     = errors.New("spreadsheet engine timed out")
	ErrConversionFailed  = errors.New("spreadsheet engine conversion failed")
	ErrExportUnreadable  = errors.New("recalculated export cannot be read")
)

// Recalculator opens a package, evaluates every formula and returns the computed grid
type Recalculator interface {
	Name() string
	Recalculate(ctx context.Context, packagePath, scratchDir string) (Grid, error)
}

// Converter prints a package to PDF in outDir and returns the PDF path
type Converter interface {
	Name() string
	ConvertToPDF(ctx context.Context, packagePath, outDir string) (string, error)
}

// Grid holds the displayed values of every sheet, row-major, as returned by the engine
type Grid map[string][][]string

// HasSheet reports whether the export contains the sheet
func (g Grid) HasSheet(name string) bool {
	_, ok := g[name]
	return ok
}

// Value returns the displayed text at an A1 reference; cells outside the exported range are ""
func (g Grid) Value(sheet, ref string) string {
	rows, ok := g[sheet]
	if !ok {
		return ""
	}
	col, row, err := excelize.CellNameToCoordinates(ref)
	if err != nil || row > len(rows) {
		return ""
	}
	cells := rows[row-1]
	if col > len(cells) {
		return ""
	}
	return cells[col-1]
}

// Set stores a value at an A1 reference, growing the sheet as needed
func (g Grid) Set(sheet, ref, value string) error {
	col, row, err := excelize.CellNameToCoordinates(ref)
	if err != nil {
		return err
	}
	rows := g[sheet]
	for len(rows) < row {
		rows = append(rows, nil)
	}
	for len(rows[row-1]) < col {
		rows[row-1] = append(rows[row-1], "")
	}
	rows[row-1][col-1] = value
	g[sheet] = rows
	return nil
}
