package engine

import (
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/garyjia/order-transcriber/internal/apperr"
)

// ReadGrid loads the displayed values of every sheet of an xlsx file
func ReadGrid(path string) (Grid, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExportUnreadable, err)
	}
	defer f.Close()

	grid := make(Grid)
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("%w: sheet %s: %v", ErrExportUnreadable, sheet, err)
		}
		grid[sheet] = rows
	}
	return grid, nil
}

// CacheEngine reads the cached formula results already stored in a package. It performs no
// recalculation and serves where the office suite is not installed.
type CacheEngine struct{}

func (CacheEngine) Name() string { return "cache" }

func (CacheEngine) Recalculate(ctx context.Context, packagePath, _ string) (Grid, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.E(apperr.KindEngine, "read caches", err)
	}
	grid, err := ReadGrid(packagePath)
	if err != nil {
		return nil, apperr.E(apperr.KindEngine, "read caches", err)
	}
	return grid, nil
}

// Static returns a canned grid for every call
type Static struct {
	Grid Grid
	Err  error
}

func (s *Static) Name() string { return "static" }

func (s *Static) Recalculate(ctx context.Context, _, _ string) (Grid, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Grid, nil
}
