package profile

import "strconv"

// Sheet names shared by every template
const (
	OrderSheet      = "注文書"
	InspectionSheet = "検収書"
)

// Detail columns
const (
	ColSubject   = "C"
	ColQuantity  = "R"
	ColUnitPrice = "T"
	ColAmount    = "W"
	ColRemarks   = "AA"
)

// EndOfListMarker closes the detail list on both sheets
const EndOfListMarker = "以下、余白"

// RowBudget is the number of detail rows covered by the subtotal range.
// The marker takes the row after the last item, so at most RowBudget items fit.
const RowBudget = 20

// SheetLayout holds the cell coordinates of one sheet
type SheetLayout struct {
	Name               string
	IssueDateCell      string // order sheet only
	IdentifierCell     string
	InspectionDateCell string // inspection sheet only
	AddresseeCell      string
	HeadlineCell       string
	TitleRow           int
	DetailStartRow     int
	SubtotalRow        int
	TaxRow             int
	TotalRow           int
}

// Cell joins a column and a row into an A1 reference
func Cell(col string, row int) string {
	return col + strconv.Itoa(row)
}

func (l SheetLayout) TitleCell() string    { return Cell(ColSubject, l.TitleRow) }
func (l SheetLayout) RemarksCell() string  { return Cell(ColRemarks, l.TitleRow) }
func (l SheetLayout) SubtotalCell() string { return Cell(ColAmount, l.SubtotalRow) }
func (l SheetLayout) TaxCell() string      { return Cell(ColAmount, l.TaxRow) }
func (l SheetLayout) TotalCell() string    { return Cell(ColAmount, l.TotalRow) }

// DetailRow returns the row of the i-th item (zero based)
func (l SheetLayout) DetailRow(i int) int {
	return l.DetailStartRow + i
}

// MarkerRow returns the row holding the end-of-list marker after n items
func (l SheetLayout) MarkerRow(n int) int {
	return l.DetailStartRow + n
}

var orderLayout = SheetLayout{
	Name:           OrderSheet,
	IssueDateCell:  "AC2",
	IdentifierCell: "AC3",
	AddresseeCell:  "B8",
	HeadlineCell:   "G12",
	TitleRow:       17,
	DetailStartRow: 18,
	SubtotalRow:    39,
	TaxRow:         40,
	TotalRow:       41,
}

var inspectionLayout = SheetLayout{
	Name:               InspectionSheet,
	IdentifierCell:     "AC4",
	InspectionDateCell: "AC5",
	AddresseeCell:      "B7",
	HeadlineCell:       "G14",
	TitleRow:           19,
	DetailStartRow:     20,
	SubtotalRow:        41,
	TaxRow:             42,
	TotalRow:           43,
}
