package render

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/garyjia/order-transcriber/internal/ooxml"
)

// IsolateSheet writes a copy of the package at dst in which only keep is visible and
// selected
func IsolateSheet(src, dst, keep string) error {
	pkg, err := ooxml.Open(src)
	if err != nil {
		return err
	}

	wb, err := pkg.Document(ooxml.WorkbookPart)
	if err != nil {
		return err
	}
	index := -1
	for i, sheet := range ooxml.Children(ooxml.Child(wb.Root(), "sheets"), "sheet") {
		if sheet.SelectAttrValue("name", "") == keep {
			sheet.RemoveAttr("state")
			index = i
			continue
		}
		sheet.CreateAttr("state", "hidden")
	}
	if index < 0 {
		return fmt.Errorf("%w: %s", ErrSheetNotIsolated, keep)
	}
	for _, view := range ooxml.Children(ooxml.Child(wb.Root(), "bookViews"), "workbookView") {
		view.CreateAttr("activeTab", strconv.Itoa(index))
		view.RemoveAttr("firstSheet")
	}
	if err := pkg.SetDocument(ooxml.WorkbookPart, wb); err != nil {
		return err
	}

	sheets, err := pkg.SheetParts()
	if err != nil {
		return err
	}
	for _, s := range sheets {
		doc, err := pkg.Document(s.Part)
		if err != nil {
			return err
		}
		for _, view := range ooxml.Children(ooxml.Child(doc.Root(), "sheetViews"), "sheetView") {
			if s.Name == keep {
				view.CreateAttr("tabSelected", "1")
			} else {
				view.RemoveAttr("tabSelected")
			}
		}
		if err := pkg.SetDocument(s.Part, doc); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	return pkg.Save(dst)
}
