package reconcile

import (
	"regexp"

	"github.com/shopspring/decimal"

	"github.com/garyjia/order-transcriber/internal/ooxml"
	"github.com/garyjia/order-transcriber/internal/profile"
	"github.com/garyjia/order-transcriber/internal/transcribe"
)

// CacheKind is the declared type of a synthesized formula result
type CacheKind int

const (
	Numeric CacheKind = iota
	Text
)

func (k CacheKind) String() string {
	if k == Text {
		return "text"
	}
	return "numeric"
}

// CacheEntry is a formula result computed outside any spreadsheet engine
type CacheEntry struct {
	Sheet string
	Cell  string
	Value string
	Kind  CacheKind
}

var taxRate = decimal.RequireFromString("0.1")

// crossSheetRef matches a formula that is a plain reference into another sheet
var crossSheetRef = regexp.MustCompile(`^'?([^'!]+)'?!\$?([A-Z]{1,3})\$?(\d+)$`)

// Totals are the amounts the detail formulas evaluate to
type Totals struct {
	Subtotal int64
	Tax      int64
	Total    int64
}

// ComputeTotals sums detail amounts and applies the template's rounded-down tax
func ComputeTotals(rows []transcribe.DetailRow) Totals {
	sum := decimal.Zero
	for _, r := range rows {
		sum = sum.Add(decimal.NewFromInt(r.Quantity).Mul(decimal.NewFromInt(r.UnitPrice)))
	}
	tax := sum.Mul(taxRate).Floor()
	return Totals{
		Subtotal: sum.IntPart(),
		Tax:      tax.IntPart(),
		Total:    sum.Add(tax).IntPart(),
	}
}

// Synthesize computes the cache entries for the formulas the pipeline writes or relies on.
// The result depends only on the profile and the mutation.
func Synthesize(p profile.Profile, m *transcribe.Mutation) []CacheEntry {
	d := m.IssueDate
	identifier := p.Identifier(d)
	title := p.Title(d)

	var entries []CacheEntry
	text := func(sheet, cell, v string) {
		entries = append(entries, CacheEntry{Sheet: sheet, Cell: cell, Value: v, Kind: Text})
	}
	number := func(sheet, cell string, v int64) {
		entries = append(entries, CacheEntry{Sheet: sheet, Cell: cell, Value: ooxml.FormatNumber(v), Kind: Numeric})
	}

	for _, sheet := range []struct {
		layout profile.SheetLayout
		rows   []transcribe.DetailRow
	}{
		{p.Order, m.Inputs.Order},
		{p.Inspection, m.Inputs.Inspection},
	} {
		l := sheet.layout
		text(l.Name, l.IdentifierCell, identifier)
		if l.InspectionDateCell != "" {
			number(l.Name, l.InspectionDateCell, int64(profile.DateSerial(profile.EndOfMonth(d))))
		}
		text(l.Name, l.TitleCell(), title)
		if p.RemarksByFormula && m.Inputs.Remarks != "" {
			text(l.Name, l.RemarksCell(), m.Inputs.Remarks)
		}
		for _, r := range sheet.rows {
			number(l.Name, profile.Cell(profile.ColAmount, r.Row), r.Amount())
		}
		totals := ComputeTotals(sheet.rows)
		number(l.Name, l.SubtotalCell(), totals.Subtotal)
		number(l.Name, l.TaxCell(), totals.Tax)
		number(l.Name, l.TotalCell(), totals.Total)
		number(l.Name, l.HeadlineCell, totals.Total)
	}
	return entries
}
