// Package validate checks a recalculated package against the source figures.
package validate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/garyjia/order-transcriber/internal/apperr"
	"github.com/garyjia/order-transcriber/internal/engine"
	"github.com/garyjia/order-transcriber/internal/models"
	"github.com/garyjia/order-transcriber/internal/profile"
)

var ErrMissingInvoice = errors.New("invoice figures are required for validation")

// MissingSheetMessage is the sole report error when either sheet is absent from the grid
const MissingSheetMessage = "注文書または検収書シートが見つかりません"

// Validator drives a recalculation engine and compares the result to the field set
type Validator struct {
	engine engine.Recalculator
	logger *zap.Logger
}

// NewValidator creates a new Validator
func NewValidator(rc engine.Recalculator, logger *zap.Logger) *Validator {
	return &Validator{engine: rc, logger: logger}
}

// Engine reports which recalculation engine the validator uses
func (v *Validator) Engine() string {
	return v.engine.Name()
}

// Validate recalculates the package inside scratchDir and checks the computed grid.
// Mismatches are reported, never returned as errors.
func (v *Validator) Validate(ctx context.Context, packagePath, scratchDir string, p profile.Profile, fs *models.FieldSet) (*models.ValidationReport, error) {
	const op = "validate package"
	if fs == nil || fs.Invoice == nil {
		return nil, apperr.E(apperr.KindInput, op, ErrMissingInvoice)
	}

	v.logger.Debug("Recalculating package",
		zap.String("engine", v.engine.Name()),
		zap.String("package", packagePath))

	grid, err := v.engine.Recalculate(ctx, packagePath, scratchDir)
	if err != nil {
		return nil, apperr.E(apperr.KindEngine, op, err)
	}

	report := Check(grid, p, fs)
	if report.Success {
		v.logger.Info("Validation passed",
			zap.String("partner", p.Tag.String()),
			zap.Int("checks", len(report.Checks)))
	} else {
		v.logger.Warn("Validation failed",
			zap.String("partner", p.Tag.String()),
			zap.Int("checks", len(report.Checks)),
			zap.Int("failed", report.FailedChecks()),
			zap.Strings("errors", report.Errors))
	}
	return report, nil
}

// ItemCount is the number of detail rows a run writes for the profile
func ItemCount(p profile.Profile, fs *models.FieldSet) int {
	if p.Itemization == profile.SinglePair {
		return 1
	}
	if fs == nil {
		return 0
	}
	return len(fs.Invoice.DetailItems())
}

// Check compares a recalculated grid with the expectations of the profile and field set
func Check(grid engine.Grid, p profile.Profile, fs *models.FieldSet) *models.ValidationReport {
	report := &models.ValidationReport{Checks: []models.ValidationCheck{}, Errors: []string{}}

	for _, l := range p.Sheets() {
		if !grid.HasSheet(l.Name) {
			report.Errors = append(report.Errors, MissingSheetMessage)
			return report
		}
	}

	var invoice models.Invoice
	if fs != nil && fs.Invoice != nil {
		invoice = *fs.Invoice
	}
	c := &checker{grid: grid, profile: p, report: report}
	items := ItemCount(p, fs)
	estimateNumber := fs.EstimateNumber()

	for _, l := range p.Sheets() {
		isOrder := l.Name == p.Order.Name

		label := "検収番号形式"
		if isOrder {
			label = "注文番号形式"
		}
		c.pattern(l, l.IdentifierCell, label, "yyyymmdd-"+p.IdentifierSuffix+"形式", p.IdentifierPattern().MatchString)

		if l.InspectionDateCell != "" {
			c.inspectionDate(l)
		}

		c.addressee(l)

		headline := "合計金額"
		if isOrder {
			headline = "発注金額"
		}
		c.amount(l, l.HeadlineCell, headline, invoice.Total)

		c.pattern(l, l.TitleCell(), "明細タイトル", "yyyy年mm月"+p.TitlePhrase+"形式", p.TitlePattern().MatchString)
		c.remarks(l, estimateNumber)

		if subject := p.ExpectedSubject(); subject != "" {
			c.exact(l, profile.Cell(profile.ColSubject, l.DetailStartRow), "件名", subject)
		}

		c.marker(l, items)

		c.amount(l, l.SubtotalCell(), "小計", invoice.Subtotal)
		c.amount(l, l.TaxCell(), "消費税", invoice.Tax)
		c.amount(l, l.TotalCell(), "合計金額", invoice.Total)
	}

	report.Finish()
	return report
}

type checker struct {
	grid    engine.Grid
	profile profile.Profile
	report  *models.ValidationReport
}

func (c *checker) add(l profile.SheetLayout, cell, item, expected, actual string, passed bool, failure string) {
	c.report.Add(models.ValidationCheck{
		Sheet:    l.Name,
		Cell:     cell,
		Item:     item,
		Expected: expected,
		Actual:   actual,
		Passed:   passed,
	}, fmt.Sprintf("%s%s: %s", l.Name, cell, failure))
}

func (c *checker) value(l profile.SheetLayout, cell string) string {
	return strings.TrimSpace(c.grid.Value(l.Name, cell))
}

func (c *checker) pattern(l profile.SheetLayout, cell, item, expected string, match func(string) bool) {
	actual := c.value(l, cell)
	c.add(l, cell, item, expected, actual, match(actual), fmt.Sprintf("%sが不正です（%s）", item, actual))
}

func (c *checker) exact(l profile.SheetLayout, cell, item, expected string) {
	actual := c.grid.Value(l.Name, cell)
	c.add(l, cell, item, expected, actual, actual == expected,
		fmt.Sprintf("%sが不正です（期待: %s、実際: %s）", item, expected, actual))
}

func (c *checker) amount(l profile.SheetLayout, cell, item string, expected int64) {
	raw := c.value(l, cell)
	actual, ok := ParseAmount(raw)
	if !ok {
		c.add(l, cell, item, FormatYen(expected), raw, false,
			fmt.Sprintf("%sが数値として読み取れません（期待: %s、実際: %q）", item, FormatYen(expected), raw))
		return
	}
	c.add(l, cell, item, FormatYen(expected), FormatYen(actual), actual == expected,
		fmt.Sprintf("%sが請求書と不一致（期待: %s、実際: %s）", item, FormatYen(expected), FormatYen(actual)))
}

func (c *checker) addressee(l profile.SheetLayout) {
	actual := c.value(l, l.AddresseeCell)
	passed := strings.Contains(actual, "株式会社"+c.profile.PartnerName) && strings.Contains(actual, "御中")
	c.add(l, l.AddresseeCell, "宛名", c.profile.Addressee(), actual, passed, fmt.Sprintf("宛名が不正です（%s）", actual))
}

func (c *checker) remarks(l profile.SheetLayout, estimateNumber string) {
	cell := l.RemarksCell()
	actual := c.value(l, cell)
	if estimateNumber != "" {
		expected := profile.RemarksLabel + estimateNumber
		c.add(l, cell, "摘要", expected, actual, actual == expected,
			fmt.Sprintf("摘要が不正です（期待: %s、実際: %s）", expected, actual))
		return
	}
	expected := c.profile.RemarksPattern.String()
	c.add(l, cell, "摘要", expected, actual, c.profile.RemarksPattern.MatchString(actual),
		fmt.Sprintf("摘要が不正です（期待: %s、実際: %s）", expected, actual))
}

func (c *checker) marker(l profile.SheetLayout, items int) {
	cell := profile.Cell(profile.ColSubject, l.MarkerRow(items))
	actual := c.value(l, cell)
	c.add(l, cell, "明細締め", profile.EndOfListMarker, actual, strings.Contains(actual, profile.EndOfListMarker),
		fmt.Sprintf("「%s」が入力されていません（%s）", profile.EndOfListMarker, actual))
}

// inspectionDate accepts any displayed date encoding that names the last day of a month
func (c *checker) inspectionDate(l profile.SheetLayout) {
	cell := l.InspectionDateCell
	actual := c.value(l, cell)
	d, ok := ParseDisplayedDate(actual)
	passed := ok && d.Equal(profile.EndOfMonth(d))
	c.add(l, cell, "検収日", "当月末日", actual, passed, fmt.Sprintf("検収日が不正です（%s）", actual))
}
