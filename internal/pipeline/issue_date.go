package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/order-transcriber/internal/apperr"
	"github.com/garyjia/order-transcriber/internal/engine"
	"github.com/garyjia/order-transcriber/internal/profile"
	"github.com/garyjia/order-transcriber/internal/validate"
)

var ErrIssueDateUnreadable = errors.New("issue date cannot be read from the package")

// PackageIssueDate reads the issue date displayed in the order sheet of a package
func PackageIssueDate(packagePath string, p profile.Profile) (time.Time, error) {
	const op = "read issue date"
	grid, err := engine.ReadGrid(packagePath)
	if err != nil {
		return time.Time{}, apperr.E(apperr.KindPackageIntegrity, op, err)
	}
	raw := grid.Value(p.Order.Name, p.Order.IssueDateCell)
	d, ok := validate.ParseDisplayedDate(raw)
	if !ok {
		return time.Time{}, apperr.E(apperr.KindInput, op,
			fmt.Errorf("%w: %s%s holds %q", ErrIssueDateUnreadable, p.Order.Name, p.Order.IssueDateCell, raw))
	}
	return d, nil
}
