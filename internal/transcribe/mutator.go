// Package transcribe writes extracted figures into a partner's workbook template.
package transcribe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/order-transcriber/internal/apperr"
	"github.com/garyjia/order-transcriber/internal/models"
	"github.com/garyjia/order-transcriber/internal/profile"
)

const bullet = "・"

// DetailRow records the values written into one detail row
type DetailRow struct {
	Row       int
	Quantity  int64
	UnitPrice int64
}

// Amount is the row's quantity times unit price
func (r DetailRow) Amount() int64 {
	return r.Quantity * r.UnitPrice
}

// Inputs are the values later formulas depend on
type Inputs struct {
	Order      []DetailRow
	Inspection []DetailRow
	Remarks    string
	ItemCount  int
}

// Mutation is the result of writing a field set into a template
type Mutation struct {
	Workbook          []byte
	IssueDate         time.Time
	IssueDateFallback bool
	Inputs            Inputs
}

// Mutator applies a partner profile's cell mapping to a template
type Mutator struct {
	now    func() time.Time
	logger *zap.Logger
}

// NewMutator creates a new Mutator
func NewMutator(logger *zap.Logger) *Mutator {
	return &Mutator{now: time.Now, logger: logger}
}

// WithClock replaces the clock used for the issue date fallback
func (m *Mutator) WithClock(now func() time.Time) *Mutator {
	m.now = now
	return m
}

// Mutate opens the template, writes the field set per the profile and returns the edited
// workbook bytes. The template file itself is never modified.
func (m *Mutator) Mutate(ctx context.Context, templatePath string, p profile.Profile, fs *models.FieldSet) (*Mutation, error) {
	const op = "mutate template"
	if err := ctx.Err(); err != nil {
		return nil, apperr.E(apperr.KindUnknown, op, err)
	}
	if fs == nil {
		return nil, apperr.E(apperr.KindInput, op, ErrMissingFieldSet)
	}

	items, err := detailItems(p, fs)
	if err != nil {
		return nil, apperr.E(apperr.KindInput, op, err)
	}

	m.logger.Debug("Transcribing field set into template",
		zap.String("partner", p.Tag.String()),
		zap.String("template", templatePath),
		zap.Int("items", len(items)))

	file, err := excelize.OpenFile(templatePath)
	if err != nil {
		return nil, apperr.E(apperr.KindPackageIntegrity, op, fmt.Errorf("%w: %v", ErrTemplateUnreadable, err))
	}
	defer file.Close()

	for _, l := range p.Sheets() {
		if idx, _ := file.GetSheetIndex(l.Name); idx < 0 {
			return nil, apperr.E(apperr.KindPackageIntegrity, op, fmt.Errorf("%w: %s", ErrSheetMissing, l.Name))
		}
	}

	if err := m.checkSubject(file, p, fs); err != nil {
		return nil, err
	}

	issueDate, fallback := p.ResolveIssueDate(fs, m.now())
	if fallback {
		m.logger.Warn("Issue date not found in source documents, using first day of current month",
			zap.String("partner", p.Tag.String()),
			zap.Time("issue_date", issueDate))
	}

	mutation := &Mutation{IssueDate: issueDate, IssueDateFallback: fallback}

	// Issue date is written as a day serial so the template's number format applies
	if err := file.SetCellValue(p.Order.Name, p.Order.IssueDateCell, profile.DateSerial(issueDate)); err != nil {
		return nil, apperr.E(apperr.KindPackageIntegrity, op, fmt.Errorf("failed to write issue date: %w", err))
	}

	switch p.Itemization {
	case profile.SinglePair:
		err = m.writeSinglePair(file, p, items[0], &mutation.Inputs)
	case profile.ItemList:
		err = m.writeItemList(file, p, items, &mutation.Inputs)
	}
	if err != nil {
		return nil, apperr.E(apperr.KindPackageIntegrity, op, err)
	}

	mutation.Inputs.Remarks = p.ComposeRemarks(fs, issueDate)
	if !p.RemarksByFormula && mutation.Inputs.Remarks != "" {
		if err := m.writeRemarks(file, p, mutation.Inputs.Remarks); err != nil {
			return nil, apperr.E(apperr.KindPackageIntegrity, op, err)
		}
	}

	buf, err := file.WriteToBuffer()
	if err != nil {
		return nil, apperr.E(apperr.KindPackageIntegrity, op, fmt.Errorf("failed to serialize workbook: %w", err))
	}
	mutation.Workbook = buf.Bytes()

	m.logger.Info("Template transcribed",
		zap.String("partner", p.Tag.String()),
		zap.String("issue_date", issueDate.Format("2006-01-02")),
		zap.Int("items", mutation.Inputs.ItemCount),
		zap.Int("bytes", len(mutation.Workbook)))

	return mutation, nil
}

// detailItems returns the line items to write for the profile
func detailItems(p profile.Profile, fs *models.FieldSet) ([]models.LineItem, error) {
	switch p.Itemization {
	case profile.SinglePair:
		if fs.Estimate == nil {
			return nil, fmt.Errorf("%w: estimate", ErrMissingField)
		}
		qty := fs.Estimate.Quantity
		if qty == 0 {
			qty = 1
		}
		return []models.LineItem{{Quantity: qty, UnitPrice: fs.Estimate.UnitPrice}}, nil
	default:
		if fs.Invoice == nil {
			return nil, fmt.Errorf("%w: invoice", ErrMissingField)
		}
		items := fs.Invoice.DetailItems()
		if len(items) > profile.RowBudget {
			return nil, fmt.Errorf("%w: %d items, at most %d fit", ErrItemLimitExceeded, len(items), profile.RowBudget)
		}
		for i, it := range items {
			if it.Quantity < 0 || it.UnitPrice < 0 {
				return nil, fmt.Errorf("%w: item %d", ErrInvalidItem, i+1)
			}
		}
		return items, nil
	}
}

func (m *Mutator) checkSubject(file *excelize.File, p profile.Profile, fs *models.FieldSet) error {
	if p.ExpectedSubject() == "" {
		return nil
	}
	orderSubject, err := file.GetCellValue(p.Order.Name, profile.Cell(profile.ColSubject, p.Order.DetailStartRow))
	if err != nil {
		return apperr.E(apperr.KindPackageIntegrity, "check subject", err)
	}
	inspectionSubject, err := file.GetCellValue(p.Inspection.Name, profile.Cell(profile.ColSubject, p.Inspection.DetailStartRow))
	if err != nil {
		return apperr.E(apperr.KindPackageIntegrity, "check subject", err)
	}
	if err := p.CheckSubject(fs, orderSubject, inspectionSubject); err != nil {
		m.logger.Error("Subject guard rejected template",
			zap.String("partner", p.Tag.String()),
			zap.Error(err))
		return err
	}
	return nil
}

// writeSinglePair fills the prepared quantity/price pair on both sheets
func (m *Mutator) writeSinglePair(file *excelize.File, p profile.Profile, item models.LineItem, in *Inputs) error {
	for _, l := range p.Sheets() {
		row := l.DetailStartRow
		if err := file.SetCellValue(l.Name, profile.Cell(profile.ColQuantity, row), item.Quantity); err != nil {
			return fmt.Errorf("failed to write %s quantity: %w", l.Name, err)
		}
		if err := file.SetCellValue(l.Name, profile.Cell(profile.ColUnitPrice, row), item.UnitPrice); err != nil {
			return fmt.Errorf("failed to write %s unit price: %w", l.Name, err)
		}
		detail := DetailRow{Row: row, Quantity: item.Quantity, UnitPrice: item.UnitPrice}
		if l.Name == p.Order.Name {
			in.Order = append(in.Order, detail)
		} else {
			in.Inspection = append(in.Inspection, detail)
		}
	}
	in.ItemCount = 1
	return nil
}

// writeItemList clears the whole detail area, writes one row per item and closes the list
func (m *Mutator) writeItemList(file *excelize.File, p profile.Profile, items []models.LineItem, in *Inputs) error {
	columns := []string{profile.ColSubject, profile.ColQuantity, profile.ColUnitPrice, profile.ColAmount}

	for _, l := range p.Sheets() {
		for row := l.DetailStartRow; row <= l.DetailStartRow+profile.RowBudget; row++ {
			for _, col := range columns {
				if err := file.SetCellValue(l.Name, profile.Cell(col, row), nil); err != nil {
					return fmt.Errorf("failed to clear %s!%s: %w", l.Name, profile.Cell(col, row), err)
				}
			}
		}

		rows := make([]DetailRow, 0, len(items))
		for i, item := range items {
			row := l.DetailRow(i)
			if name := bulleted(item.Name); name != "" {
				if err := file.SetCellValue(l.Name, profile.Cell(profile.ColSubject, row), name); err != nil {
					return fmt.Errorf("failed to write %s item %d name: %w", l.Name, i+1, err)
				}
			}
			if err := file.SetCellValue(l.Name, profile.Cell(profile.ColQuantity, row), item.Quantity); err != nil {
				return fmt.Errorf("failed to write %s item %d quantity: %w", l.Name, i+1, err)
			}
			if err := file.SetCellValue(l.Name, profile.Cell(profile.ColUnitPrice, row), item.UnitPrice); err != nil {
				return fmt.Errorf("failed to write %s item %d unit price: %w", l.Name, i+1, err)
			}
			amount := profile.Cell(profile.ColQuantity, row) + "*" + profile.Cell(profile.ColUnitPrice, row)
			if err := file.SetCellFormula(l.Name, profile.Cell(profile.ColAmount, row), amount); err != nil {
				return fmt.Errorf("failed to write %s item %d amount: %w", l.Name, i+1, err)
			}
			rows = append(rows, DetailRow{Row: row, Quantity: item.Quantity, UnitPrice: item.UnitPrice})
		}

		marker := profile.Cell(profile.ColSubject, l.MarkerRow(len(items)))
		if err := file.SetCellValue(l.Name, marker, profile.EndOfListMarker); err != nil {
			return fmt.Errorf("failed to write %s end-of-list marker: %w", l.Name, err)
		}

		if l.Name == p.Order.Name {
			in.Order = rows
		} else {
			in.Inspection = rows
		}
		m.logger.Debug("Detail rows written",
			zap.String("sheet", l.Name),
			zap.Int("items", len(items)),
			zap.String("marker", marker))
	}
	in.ItemCount = len(items)
	return nil
}

// writeRemarks writes literal remarks to the order sheet, and to the inspection sheet
// unless the template derives them there by formula
func (m *Mutator) writeRemarks(file *excelize.File, p profile.Profile, remarks string) error {
	if err := file.SetCellValue(p.Order.Name, p.Order.RemarksCell(), remarks); err != nil {
		return fmt.Errorf("failed to write order remarks: %w", err)
	}
	formula, err := file.GetCellFormula(p.Inspection.Name, p.Inspection.RemarksCell())
	if err != nil {
		return fmt.Errorf("failed to read inspection remarks: %w", err)
	}
	if formula != "" {
		return nil
	}
	if err := file.SetCellValue(p.Inspection.Name, p.Inspection.RemarksCell(), remarks); err != nil {
		return fmt.Errorf("failed to write inspection remarks: %w", err)
	}
	return nil
}

func bulleted(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || strings.HasPrefix(name, bullet) {
		return name
	}
	return bullet + name
}
