// Package testsupport builds workbook templates and field sets for package tests.
// Helpers taking testing.TB fail the test on error; the others return errors so they can
// be used from setup code.
package testsupport

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/garyjia/order-transcriber/internal/ooxml"
	"github.com/garyjia/order-transcriber/internal/profile"
)

// Parts added to every built template
const (
	DrawingPart     = "xl/drawings/drawing1.xml"
	OrderSheetPart  = "xl/worksheets/sheet1.xml"
	OrderSheetRels  = "xl/worksheets/_rels/sheet1.xml.rels"
	TemplateDrawing = "rId1"
)

// PreviousIssueDate is the issue date serial left in templates by the prior run (2025-07-01)
const PreviousIssueDate = 45839

const (
	drawingContentType   = "application/vnd.openxmlformats-officedocument.drawing+xml"
	calcChainContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.calcChain+xml"
	relDrawing           = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/drawing"
	relCalcChain         = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/calcChain"
	relationshipsNS      = "http://schemas.openxmlformats.org/officeDocument/2006/relationships"
	packageRelsNS        = "http://schemas.openxmlformats.org/package/2006/relationships"

	drawingXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<xdr:wsDr xmlns:xdr="http://schemas.openxmlformats.org/drawingml/2006/spreadsheetDrawing" xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main"></xdr:wsDr>`
	calcChainXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<calcChain xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main"><c r="AC3" i="1"/><c r="C17" i="1"/><c r="W39" i="1"/><c r="AC4" i="2"/></calcChain>`
)

type options struct {
	staleItems int
	subject    string
	drawing    bool
	calcChain  bool
	extra      []extraSheet
}

type extraSheet struct {
	name     string
	formulas [][2]string
}

// Option customizes a built template
type Option func(*options)

// WithStaleItems sets how many detail rows a prior run left behind (list itemization only)
func WithStaleItems(n int) Option {
	return func(o *options) { o.staleItems = n }
}

// WithSubject overrides the subject text of single-pair templates
func WithSubject(s string) Option {
	return func(o *options) { o.subject = s }
}

// WithoutPackageExtras skips the drawing and calc chain parts
func WithoutPackageExtras() Option {
	return func(o *options) {
		o.drawing = false
		o.calcChain = false
	}
}

// WithExtraSheet appends a worksheet holding the given formulas, as cell/formula pairs.
// Sheets are added in option order after the two profile sheets.
func WithExtraSheet(name string, cellFormulas ...string) Option {
	return func(o *options) {
		sheet := extraSheet{name: name}
		for i := 0; i+1 < len(cellFormulas); i += 2 {
			sheet.formulas = append(sheet.formulas, [2]string{cellFormulas[i], cellFormulas[i+1]})
		}
		o.extra = append(o.extra, sheet)
	}
}

// BuildTemplate returns the bytes of a two-sheet template laid out for the profile
func BuildTemplate(tag profile.Tag, opts ...Option) ([]byte, error) {
	p, err := profile.Lookup(tag)
	if err != nil {
		return nil, err
	}
	o := options{staleItems: 3, subject: p.ExpectedSubject(), drawing: true, calcChain: true}
	for _, opt := range opts {
		opt(&o)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", profile.OrderSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(profile.InspectionSheet); err != nil {
		return nil, err
	}

	w := &sheetWriter{f: f}
	dateStyle, err := f.NewStyle(&excelize.Style{NumFmt: 14})
	if err != nil {
		return nil, err
	}

	ord, ins := p.Order, p.Inspection
	order, inspection := profile.OrderSheet, profile.InspectionSheet
	suffix := p.IdentifierSuffix

	// order sheet header
	w.value(order, ord.IssueDateCell, PreviousIssueDate)
	if err := f.SetCellStyle(order, ord.IssueDateCell, ord.IssueDateCell, dateStyle); err != nil {
		return nil, err
	}
	w.formula(order, ord.IdentifierCell, fmt.Sprintf(`TEXT(%s,"yyyymmdd")&"-%s"`, ord.IssueDateCell, suffix))
	w.value(order, ord.AddresseeCell, p.Addressee())
	w.formula(order, ord.HeadlineCell, ord.TotalCell())
	w.formula(order, ord.TitleCell(), fmt.Sprintf(`TEXT(%s,"yyyy年mm月")&"%s"`, ord.IssueDateCell, p.TitlePhrase))
	if p.RemarksByFormula {
		w.formula(order, ord.RemarksCell(), fmt.Sprintf(`"%sTRR-"&TEXT(%s,"yy")&"-0"&TEXT(%s,"mm")`,
			profile.RemarksLabel, ord.IssueDateCell, ord.IssueDateCell))
	} else {
		w.value(order, ord.RemarksCell(), profile.RemarksLabel+"0000000")
	}

	// inspection sheet header, mostly references into the order sheet
	w.formula(inspection, ins.IdentifierCell, crossRef(ord.IdentifierCell))
	w.formula(inspection, ins.InspectionDateCell, fmt.Sprintf("EOMONTH(%s,0)", crossRef(ord.IssueDateCell)))
	if err := f.SetCellStyle(inspection, ins.InspectionDateCell, ins.InspectionDateCell, dateStyle); err != nil {
		return nil, err
	}
	w.value(inspection, ins.AddresseeCell, p.Addressee())
	w.formula(inspection, ins.HeadlineCell, ins.TotalCell())
	w.formula(inspection, ins.TitleCell(), crossRef(ord.TitleCell()))
	w.formula(inspection, ins.RemarksCell(), crossRef(ord.RemarksCell()))

	for _, l := range p.Sheets() {
		switch p.Itemization {
		case profile.SinglePair:
			row := l.DetailStartRow
			w.value(l.Name, profile.Cell(profile.ColSubject, row), o.subject)
			w.value(l.Name, profile.Cell(profile.ColQuantity, row), 1)
			w.value(l.Name, profile.Cell(profile.ColUnitPrice, row), 500000)
			w.formula(l.Name, profile.Cell(profile.ColAmount, row), amountFormula(row))
			w.value(l.Name, profile.Cell(profile.ColSubject, l.MarkerRow(1)), profile.EndOfListMarker)
		case profile.ItemList:
			for i := 0; i < o.staleItems; i++ {
				row := l.DetailRow(i)
				w.value(l.Name, profile.Cell(profile.ColSubject, row), fmt.Sprintf("・前回項目%d", i+1))
				w.value(l.Name, profile.Cell(profile.ColQuantity, row), i+1)
				w.value(l.Name, profile.Cell(profile.ColUnitPrice, row), 10000)
				w.formula(l.Name, profile.Cell(profile.ColAmount, row), amountFormula(row))
			}
			w.value(l.Name, profile.Cell(profile.ColSubject, l.MarkerRow(o.staleItems)), profile.EndOfListMarker)
		}

		lastDetail := l.SubtotalRow - 1
		w.formula(l.Name, l.SubtotalCell(), fmt.Sprintf("SUM(%s:%s)",
			profile.Cell(profile.ColAmount, l.DetailStartRow), profile.Cell(profile.ColAmount, lastDetail)))
		w.formula(l.Name, l.TaxCell(), fmt.Sprintf("ROUNDDOWN(%s*0.1,0)", l.SubtotalCell()))
		w.formula(l.Name, l.TotalCell(), fmt.Sprintf("%s+%s", l.SubtotalCell(), l.TaxCell()))
	}
	for _, extra := range o.extra {
		if _, err := f.NewSheet(extra.name); err != nil {
			return nil, err
		}
		for _, cf := range extra.formulas {
			w.formula(extra.name, cf[0], cf[1])
		}
	}
	if w.err != nil {
		return nil, w.err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	if !o.drawing && !o.calcChain {
		return buf.Bytes(), nil
	}

	pkg, err := ooxml.Read(buf.Bytes())
	if err != nil {
		return nil, err
	}
	if o.drawing {
		if err := AddDrawing(pkg); err != nil {
			return nil, err
		}
	}
	if o.calcChain {
		if err := AddCalcChain(pkg); err != nil {
			return nil, err
		}
	}
	return pkg.Bytes()
}

// WriteTemplate builds a template and writes it into dir
func WriteTemplate(dir string, tag profile.Tag, opts ...Option) (string, error) {
	data, err := BuildTemplate(tag, opts...)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("template_%s.xlsx", tag))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}
	return path, nil
}

// MustTemplate writes a template into a test temp dir and returns its path
func MustTemplate(t testing.TB, tag profile.Tag, opts ...Option) string {
	t.Helper()
	path, err := WriteTemplate(t.TempDir(), tag, opts...)
	if err != nil {
		t.Fatalf("testsupport: build template: %v", err)
	}
	return path
}

// MustPackage opens a package file or fails the test
func MustPackage(t testing.TB, path string) *ooxml.Package {
	t.Helper()
	pkg, err := ooxml.Open(path)
	if err != nil {
		t.Fatalf("testsupport: open package: %v", err)
	}
	return pkg
}

// AddCalcChain injects a calculation chain part with its content type and relationship
func AddCalcChain(pkg *ooxml.Package) error {
	pkg.SetPart(ooxml.CalcChainPart, []byte(calcChainXML))
	if err := addOverride(pkg, ooxml.CalcChainPart, calcChainContentType); err != nil {
		return err
	}
	return addRelationship(pkg, ooxml.WorkbookRelsPart, "rId99", relCalcChain, "calcChain.xml")
}

// AddDrawing attaches an empty drawing part to the order sheet
func AddDrawing(pkg *ooxml.Package) error {
	pkg.SetPart(DrawingPart, []byte(drawingXML))
	if err := addOverride(pkg, DrawingPart, drawingContentType); err != nil {
		return err
	}
	if !pkg.Has(OrderSheetRels) {
		pkg.SetPart(OrderSheetRels, []byte(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`+
			`<Relationships xmlns="`+packageRelsNS+`"></Relationships>`))
	}
	if err := addRelationship(pkg, OrderSheetRels, TemplateDrawing, relDrawing, "../drawings/drawing1.xml"); err != nil {
		return err
	}

	doc, err := pkg.Document(OrderSheetPart)
	if err != nil {
		return err
	}
	root := doc.Root()
	if root.SelectAttr("xmlns:r") == nil {
		root.CreateAttr("xmlns:r", relationshipsNS)
	}
	root.CreateElement("drawing").CreateAttr("r:id", TemplateDrawing)
	return pkg.SetDocument(OrderSheetPart, doc)
}

// SetDrawingRelID rewrites the drawing reference of the order sheet, simulating an editor
// that renumbered the sheet relationships
func SetDrawingRelID(pkg *ooxml.Package, id string) error {
	doc, err := pkg.Document(OrderSheetPart)
	if err != nil {
		return err
	}
	if !ooxml.SetRelID(ooxml.Child(doc.Root(), "drawing"), id) {
		return errors.New("testsupport: order sheet has no drawing element")
	}
	return pkg.SetDocument(OrderSheetPart, doc)
}

func addOverride(pkg *ooxml.Package, part, contentType string) error {
	doc, err := pkg.Document(ooxml.ContentTypesPart)
	if err != nil {
		return err
	}
	o := doc.Root().CreateElement("Override")
	o.CreateAttr("PartName", "/"+part)
	o.CreateAttr("ContentType", contentType)
	return pkg.SetDocument(ooxml.ContentTypesPart, doc)
}

func addRelationship(pkg *ooxml.Package, relsPart, id, relType, target string) error {
	doc, err := pkg.Document(relsPart)
	if err != nil {
		return err
	}
	r := doc.Root().CreateElement("Relationship")
	r.CreateAttr("Id", id)
	r.CreateAttr("Type", relType)
	r.CreateAttr("Target", target)
	return pkg.SetDocument(relsPart, doc)
}

func crossRef(cell string) string {
	return profile.OrderSheet + "!" + cell
}

func amountFormula(row int) string {
	return fmt.Sprintf("%s*%s", profile.Cell(profile.ColQuantity, row), profile.Cell(profile.ColUnitPrice, row))
}

// sheetWriter keeps the first error of a sequence of cell writes
type sheetWriter struct {
	f   *excelize.File
	err error
}

func (w *sheetWriter) value(sheet, cell string, v interface{}) {
	if w.err == nil {
		w.err = w.f.SetCellValue(sheet, cell, v)
	}
}

func (w *sheetWriter) formula(sheet, cell, formula string) {
	if w.err == nil {
		w.err = w.f.SetCellFormula(sheet, cell, formula)
	}
}
