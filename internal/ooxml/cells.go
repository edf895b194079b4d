package ooxml

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/beevik/etree"
)

// Worksheet indexes the cells of a worksheet part
type Worksheet struct {
	Doc   *etree.Document
	cells map[string]*etree.Element
	refs  []string
}

// FormulaCell is a cell holding a formula
type FormulaCell struct {
	Ref     string
	Formula string
}

// ParseWorksheet indexes the <c> elements of a worksheet document by reference
func ParseWorksheet(doc *etree.Document) *Worksheet {
	ws := &Worksheet{Doc: doc, cells: make(map[string]*etree.Element)}
	for _, row := range Children(Child(doc.Root(), "sheetData"), "row") {
		for _, c := range Children(row, "c") {
			ref := c.SelectAttrValue("r", "")
			if ref == "" {
				continue
			}
			ws.cells[ref] = c
			ws.refs = append(ws.refs, ref)
		}
	}
	return ws
}

// OpenWorksheet parses the worksheet part of a named sheet
func (p *Package) OpenWorksheet(sheet string) (string, *Worksheet, error) {
	part, err := p.SheetPart(sheet)
	if err != nil {
		return "", nil, err
	}
	doc, err := p.Document(part)
	if err != nil {
		return "", nil, err
	}
	return part, ParseWorksheet(doc), nil
}

// Cell returns the <c> element at ref, or nil
func (w *Worksheet) Cell(ref string) *etree.Element {
	return w.cells[ref]
}

// Formula returns the formula text of a cell
func (w *Worksheet) Formula(ref string) (string, bool) {
	f := Child(w.cells[ref], "f")
	if f == nil {
		return "", false
	}
	return f.Text(), true
}

// Formulas lists formula cells in document order
func (w *Worksheet) Formulas() []FormulaCell {
	var out []FormulaCell
	for _, ref := range w.refs {
		if f := Child(w.cells[ref], "f"); f != nil {
			out = append(out, FormulaCell{Ref: ref, Formula: f.Text()})
		}
	}
	return out
}

// Cached returns the cached or literal value of a cell, resolving shared strings
func (w *Worksheet) Cached(ref string, sst []string) (string, bool) {
	c := w.cells[ref]
	if c == nil {
		return "", false
	}
	switch c.SelectAttrValue("t", "") {
	case "s":
		idx, err := strconv.Atoi(strings.TrimSpace(textOf(Child(c, "v"))))
		if err != nil || idx < 0 || idx >= len(sst) {
			return "", false
		}
		return sst[idx], true
	case "inlineStr":
		return richText(Child(c, "is")), true
	default:
		v := Child(c, "v")
		if v == nil {
			return "", false
		}
		return v.Text(), true
	}
}

// SetCachedValue writes the cached result of a formula cell. Text values set t="str";
// numeric values drop the type attribute.
func SetCachedValue(c *etree.Element, value string, text bool) {
	v := Child(c, "v")
	if v == nil {
		v = newSibling(c, "v")
		if f := Child(c, "f"); f != nil {
			c.InsertChildAt(f.Index()+1, v)
		} else {
			c.AddChild(v)
		}
	}
	v.SetText(value)
	if text {
		c.CreateAttr("t", "str")
	} else {
		c.RemoveAttr("t")
	}
}

// SharedStrings returns the shared-string table, or nil when the package has none
func (p *Package) SharedStrings() ([]string, error) {
	if !p.Has(SharedStringsPart) {
		return nil, nil
	}
	doc, err := p.Document(SharedStringsPart)
	if err != nil {
		return nil, err
	}
	items := Children(doc.Root(), "si")
	out := make([]string, len(items))
	for i, si := range items {
		out[i] = richText(si)
	}
	return out, nil
}

func richText(el *etree.Element) string {
	if el == nil {
		return ""
	}
	if t := Child(el, "t"); t != nil {
		return t.Text()
	}
	var b strings.Builder
	for _, r := range Children(el, "r") {
		b.WriteString(textOf(Child(r, "t")))
	}
	return b.String()
}

func textOf(el *etree.Element) string {
	if el == nil {
		return ""
	}
	return el.Text()
}

// FormatNumber renders an integer cache value the way spreadsheet writers do
func FormatNumber(n int64) string {
	return strconv.FormatInt(n, 10)
}

// SplitRef splits an A1 reference into column letters and row number
func SplitRef(ref string) (string, int, error) {
	i := 0
	for i < len(ref) && ref[i] >= 'A' && ref[i] <= 'Z' {
		i++
	}
	if i == 0 || i == len(ref) {
		return "", 0, fmt.Errorf("invalid cell reference %q", ref)
	}
	row, err := strconv.Atoi(ref[i:])
	if err != nil || row < 1 {
		return "", 0, fmt.Errorf("invalid cell reference %q", ref)
	}
	return ref[:i], row, nil
}
