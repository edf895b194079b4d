// Package ooxml models a spreadsheet package as named parts, with XML parts opened as
// element trees for typed edits.
package ooxml

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/beevik/etree"
)

// Well-known part names
const (
	ContentTypesPart  = "[Content_Types].xml"
	RootRelsPart      = "_rels/.rels"
	WorkbookPart      = "xl/workbook.xml"
	WorkbookRelsPart  = "xl/_rels/workbook.xml.rels"
	CalcChainPart     = "xl/calcChain.xml"
	SharedStringsPart = "xl/sharedStrings.xml"
	StylesPart        = "xl/styles.xml"
)

const (
	SharedStringsContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sharedStrings+xml"
	RelTypeSharedStrings     = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/sharedStrings"
)

var (
	ErrMalformedPackage = errors.New("malformed spreadsheet package")
	ErrPartNotFound     = errors.New("part not found")
	ErrSheetNotFound    = errors.New("sheet not found")
)

// Package is an in-memory spreadsheet container. Part order is preserved on write.
type Package struct {
	names []string
	parts map[string][]byte
}

// New returns an empty package
func New() *Package {
	return &Package{parts: make(map[string][]byte)}
}

// Open reads a package from disk
func Open(filePath string) (*Package, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read package %s: %w", filePath, err)
	}
	pkg, err := Read(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filePath, err)
	}
	return pkg, nil
}

// Read parses a package from its zip bytes
func Read(data []byte) (*Package, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPackage, err)
	}

	pkg := New()
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, "/") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: open %s: %v", ErrMalformedPackage, f.Name, err)
		}
		body, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrMalformedPackage, f.Name, err)
		}
		pkg.SetPart(f.Name, body)
	}
	if !pkg.Has(ContentTypesPart) || !pkg.Has(WorkbookPart) {
		return nil, fmt.Errorf("%w: missing %s or %s", ErrMalformedPackage, ContentTypesPart, WorkbookPart)
	}
	return pkg, nil
}

// Bytes serializes the package as a zip archive
func (p *Package) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range p.names {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
		if err != nil {
			return nil, fmt.Errorf("failed to add part %s: %w", name, err)
		}
		if _, err := w.Write(p.parts[name]); err != nil {
			return nil, fmt.Errorf("failed to write part %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish package: %w", err)
	}
	return buf.Bytes(), nil
}

// Save writes the package to filePath
func (p *Package) Save(filePath string) error {
	data, err := p.Bytes()
	if err != nil {
		return err
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write package %s: %w", filePath, err)
	}
	return nil
}

// Names returns part names in container order
func (p *Package) Names() []string {
	return append([]string(nil), p.names...)
}

func (p *Package) Has(name string) bool {
	_, ok := p.parts[name]
	return ok
}

// Part returns the raw bytes of a part
func (p *Package) Part(name string) ([]byte, bool) {
	data, ok := p.parts[name]
	return data, ok
}

// SetPart replaces a part, appending it when new
func (p *Package) SetPart(name string, data []byte) {
	if _, ok := p.parts[name]; !ok {
		p.names = append(p.names, name)
	}
	p.parts[name] = data
}

// Remove deletes a part and reports whether it existed
func (p *Package) Remove(name string) bool {
	if _, ok := p.parts[name]; !ok {
		return false
	}
	delete(p.parts, name)
	for i, n := range p.names {
		if n == name {
			p.names = append(p.names[:i], p.names[i+1:]...)
			break
		}
	}
	return true
}

// Clone returns an independent copy
func (p *Package) Clone() *Package {
	c := New()
	for _, name := range p.names {
		c.SetPart(name, append([]byte(nil), p.parts[name]...))
	}
	return c
}

// Document parses an XML part into an element tree
func (p *Package) Document(name string) (*etree.Document, error) {
	data, ok := p.parts[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPartNotFound, name)
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrMalformedPackage, name, err)
	}
	if doc.Root() == nil {
		return nil, fmt.Errorf("%w: %s has no root element", ErrMalformedPackage, name)
	}
	return doc, nil
}

// SetDocument serializes an element tree back into a part
func (p *Package) SetDocument(name string, doc *etree.Document) error {
	data, err := doc.WriteToBytes()
	if err != nil {
		return fmt.Errorf("failed to serialize %s: %w", name, err)
	}
	p.SetPart(name, data)
	return nil
}

// SheetParts maps each sheet name to its worksheet part path, following the workbook
// relationships. The order of the returned slice matches the workbook's sheet order.
func (p *Package) SheetParts() ([]Sheet, error) {
	wb, err := p.Document(WorkbookPart)
	if err != nil {
		return nil, err
	}
	rels, err := p.Document(WorkbookRelsPart)
	if err != nil {
		return nil, err
	}

	targets := make(map[string]string)
	for _, rel := range Children(rels.Root(), "Relationship") {
		targets[rel.SelectAttrValue("Id", "")] = rel.SelectAttrValue("Target", "")
	}

	var sheets []Sheet
	for _, el := range Children(Child(wb.Root(), "sheets"), "sheet") {
		rid := RelID(el)
		target, ok := targets[rid]
		if !ok {
			return nil, fmt.Errorf("%w: sheet %q references unknown relationship %q",
				ErrMalformedPackage, el.SelectAttrValue("name", ""), rid)
		}
		sheets = append(sheets, Sheet{
			Name:  el.SelectAttrValue("name", ""),
			RelID: rid,
			Part:  ResolveTarget("xl", target),
		})
	}
	return sheets, nil
}

// SheetPart returns the worksheet part path of a named sheet
func (p *Package) SheetPart(name string) (string, error) {
	sheets, err := p.SheetParts()
	if err != nil {
		return "", err
	}
	for _, s := range sheets {
		if s.Name == name {
			return s.Part, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrSheetNotFound, name)
}

// Sheet identifies one worksheet in the workbook
type Sheet struct {
	Name  string
	RelID string
	Part  string
}

// ResolveTarget turns a relationship target into a part name. Absolute targets are
// rooted at the package, relative ones at base.
func ResolveTarget(base, target string) string {
	if strings.HasPrefix(target, "/") {
		return strings.TrimPrefix(path.Clean(target), "/")
	}
	return path.Clean(path.Join(base, target))
}
