// Package reconcile repairs an edited workbook package against its template.
//
// The cell editor rewrites structural parts, leaves formula caches empty and keeps a
// calculation chain that no longer matches the cells. Reconcile restores the structural
// parts from the template, drops the chain, fixes drawing references, writes synthesized
// caches and forces a full recalculation on load.
package reconcile

import (
	"errors"
	"fmt"
	"strings"

	"github.com/beevik/etree"
	"go.uber.org/zap"

	"github.com/garyjia/order-transcriber/internal/apperr"
	"github.com/garyjia/order-transcriber/internal/ooxml"
	"github.com/garyjia/order-transcriber/internal/profile"
	"github.com/garyjia/order-transcriber/internal/transcribe"
)

var (
	ErrMissingPackage = errors.New("template and working packages are required")
	ErrMissingSheet   = errors.New("sheet part is missing")
)

// Parts restored verbatim from the template
var (
	restoredParts = []string{
		ooxml.ContentTypesPart,
		ooxml.RootRelsPart,
		ooxml.WorkbookRelsPart,
		ooxml.WorkbookPart,
		ooxml.StylesPart,
	}
	restoredPrefixes = []string{
		"docProps/",
		"xl/theme/",
		"xl/worksheets/_rels/",
		"xl/drawings/",
		"xl/media/",
		"xl/printerSettings/",
	}
)

const worksheetsDir = "xl/worksheets/"

// Sheet elements whose relationship id must match the template
var drawingTags = []string{"drawing", "legacyDrawing", "legacyDrawingHF", "picture", "pageSetup"}

// calcPr follows these workbook children
var calcPrPredecessors = map[string]bool{
	"sheets": true, "functionGroups": true, "externalReferences": true, "definedNames": true,
}

// Report describes what a reconciliation changed
type Report struct {
	Restored []string
	Added    []string
	Removed  []string
	RelIDs   []string
	Caches   []CacheEntry
	// KeptSharedStrings is set when the editor extended the shared-string table
	KeptSharedStrings bool
	Warnings          []string
}

func (r *Report) warn(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Reconciler rebuilds working packages against their template
type Reconciler struct {
	logger *zap.Logger
}

// NewReconciler creates a new Reconciler
func NewReconciler(logger *zap.Logger) *Reconciler {
	return &Reconciler{logger: logger}
}

// Reconcile returns the final package. Neither input package is modified.
func (r *Reconciler) Reconcile(template, working *ooxml.Package, m *transcribe.Mutation, p profile.Profile) (*ooxml.Package, *Report, error) {
	const op = "reconcile package"
	if template == nil || working == nil || m == nil {
		return nil, nil, apperr.E(apperr.KindPackageIntegrity, op, ErrMissingPackage)
	}

	final := working.Clone()
	report := &Report{}

	if err := r.restoreStructure(template, final, report); err != nil {
		return nil, nil, apperr.E(apperr.KindPackageIntegrity, op, err)
	}
	if err := r.removeCalcChain(final, report); err != nil {
		return nil, nil, apperr.E(apperr.KindPackageIntegrity, op, err)
	}
	for _, l := range p.Sheets() {
		if err := r.fixRelIDs(template, final, l.Name, report); err != nil {
			return nil, nil, apperr.E(apperr.KindPackageIntegrity, op, err)
		}
	}
	if err := r.applyCaches(final, Synthesize(p, m), report); err != nil {
		return nil, nil, apperr.E(apperr.KindPackageIntegrity, op, err)
	}
	if err := forceFullCalc(final); err != nil {
		return nil, nil, apperr.E(apperr.KindPackageIntegrity, op, err)
	}
	r.addMissing(template, final, report)

	for _, w := range report.Warnings {
		r.logger.Warn("Reconciliation warning", zap.String("partner", p.Tag.String()), zap.String("detail", w))
	}
	r.logger.Info("Package reconciled",
		zap.String("partner", p.Tag.String()),
		zap.Int("restored", len(report.Restored)),
		zap.Int("added", len(report.Added)),
		zap.Int("caches", len(report.Caches)),
		zap.Bool("kept_shared_strings", report.KeptSharedStrings),
		zap.Int("warnings", len(report.Warnings)))

	return final, report, nil
}

func isRestored(name string) bool {
	for _, n := range restoredParts {
		if n == name {
			return true
		}
	}
	for _, prefix := range restoredPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// restoreStructure copies the fixed set of structural parts from the template
func (r *Reconciler) restoreStructure(template, final *ooxml.Package, report *Report) error {
	for _, name := range template.Names() {
		if !isRestored(name) {
			continue
		}
		data, _ := template.Part(name)
		final.SetPart(name, append([]byte(nil), data...))
		report.Restored = append(report.Restored, name)
	}

	tmplStrings, err := template.SharedStrings()
	if err != nil {
		return fmt.Errorf("template shared strings: %w", err)
	}
	workStrings, err := final.SharedStrings()
	if err != nil {
		return fmt.Errorf("working shared strings: %w", err)
	}
	data, ok := template.Part(ooxml.SharedStringsPart)
	switch {
	case !ok:
		if final.Has(ooxml.SharedStringsPart) {
			report.KeptSharedStrings = true
			return linkSharedStrings(final)
		}
	case sameStrings(tmplStrings, workStrings):
		final.SetPart(ooxml.SharedStringsPart, append([]byte(nil), data...))
		report.Restored = append(report.Restored, ooxml.SharedStringsPart)
	default:
		report.KeptSharedStrings = true
		r.logger.Debug("Shared strings extended by editor, keeping working copy",
			zap.Int("template_entries", len(tmplStrings)),
			zap.Int("working_entries", len(workStrings)))
	}
	return nil
}

// linkSharedStrings registers a kept shared-string table with the restored content types
// and workbook relationships, which come from a template that had none
func linkSharedStrings(final *ooxml.Package) error {
	ct, err := final.Document(ooxml.ContentTypesPart)
	if err != nil {
		return err
	}
	if ooxml.EnsureOverride(ct, ooxml.SharedStringsPart, ooxml.SharedStringsContentType) {
		if err := final.SetDocument(ooxml.ContentTypesPart, ct); err != nil {
			return err
		}
	}
	rels, err := final.Document(ooxml.WorkbookRelsPart)
	if err != nil {
		return err
	}
	if ooxml.EnsureRelationship(rels, "xl", ooxml.SharedStringsPart, ooxml.RelTypeSharedStrings) != "" {
		return final.SetDocument(ooxml.WorkbookRelsPart, rels)
	}
	return nil
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// removeCalcChain drops the calculation chain with its content type and relationship
func (r *Reconciler) removeCalcChain(final *ooxml.Package, report *Report) error {
	if final.Remove(ooxml.CalcChainPart) {
		report.Removed = append(report.Removed, ooxml.CalcChainPart)
	}

	ct, err := final.Document(ooxml.ContentTypesPart)
	if err != nil {
		return err
	}
	if ooxml.RemoveOverride(ct, ooxml.CalcChainPart) > 0 {
		if err := final.SetDocument(ooxml.ContentTypesPart, ct); err != nil {
			return err
		}
	}

	rels, err := final.Document(ooxml.WorkbookRelsPart)
	if err != nil {
		return err
	}
	if ooxml.RemoveRelationships(rels, "xl", ooxml.CalcChainPart) > 0 {
		if err := final.SetDocument(ooxml.WorkbookRelsPart, rels); err != nil {
			return err
		}
	}
	return nil
}

// fixRelIDs copies drawing-type relationship ids of one sheet from the template
func (r *Reconciler) fixRelIDs(template, final *ooxml.Package, sheet string, report *Report) error {
	tmplPart, err := template.SheetPart(sheet)
	if err != nil {
		return fmt.Errorf("%w: template %s: %v", ErrMissingSheet, sheet, err)
	}
	finalPart, err := final.SheetPart(sheet)
	if err != nil {
		return fmt.Errorf("%w: working %s: %v", ErrMissingSheet, sheet, err)
	}
	tmplDoc, err := template.Document(tmplPart)
	if err != nil {
		return err
	}
	if !final.Has(finalPart) {
		return fmt.Errorf("%w: %s (%s)", ErrMissingSheet, sheet, finalPart)
	}
	doc, err := final.Document(finalPart)
	if err != nil {
		return err
	}

	changed := false
	for _, tag := range drawingTags {
		want := ooxml.Child(tmplDoc.Root(), tag)
		got := ooxml.Child(doc.Root(), tag)
		wantID := ooxml.RelID(want)

		switch {
		case want == nil && got == nil:
			continue
		case want != nil && got == nil:
			if wantID != "" {
				report.warn("%s: <%s> present in template but missing from working sheet", sheet, tag)
			}
			continue
		case want == nil:
			if ooxml.RelID(got) != "" {
				report.warn("%s: <%s> present in working sheet but not in template", sheet, tag)
			}
			continue
		}
		if wantID == "" || ooxml.RelID(got) == wantID {
			continue
		}
		if !ooxml.SetRelID(got, wantID) {
			got.CreateAttr(relAttrKey(want), wantID)
		}
		report.RelIDs = append(report.RelIDs, fmt.Sprintf("%s!%s=%s", sheet, tag, wantID))
		changed = true
	}
	if !changed {
		return nil
	}
	return final.SetDocument(finalPart, doc)
}

func relAttrKey(el *etree.Element) string {
	for _, a := range el.Attr {
		if a.Key == "id" && a.Space != "" {
			return a.Space + ":id"
		}
	}
	return "r:id"
}

// applyCaches writes synthesized values, then fills plain cross-sheet references
func (r *Reconciler) applyCaches(final *ooxml.Package, entries []CacheEntry, report *Report) error {
	sst, err := final.SharedStrings()
	if err != nil {
		return err
	}

	type sheetState struct {
		part  string
		ws    *ooxml.Worksheet
		dirty bool
	}
	sheets := make(map[string]*sheetState)
	warned := make(map[string]bool)
	var order []string
	open := func(name string) (*sheetState, error) {
		if s, ok := sheets[name]; ok {
			return s, nil
		}
		part, ws, err := final.OpenWorksheet(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMissingSheet, name, err)
		}
		s := &sheetState{part: part, ws: ws}
		sheets[name] = s
		order = append(order, name)
		return s, nil
	}

	synthesized := make(map[string]CacheEntry)
	for _, e := range entries {
		s, err := open(e.Sheet)
		if err != nil {
			return err
		}
		c := s.ws.Cell(e.Cell)
		if c == nil {
			report.warn("%s!%s: cell not found for synthesized %s value %q", e.Sheet, e.Cell, e.Kind, e.Value)
			continue
		}
		if _, ok := s.ws.Formula(e.Cell); !ok {
			report.warn("%s!%s: cell holds no formula for synthesized %s value %q", e.Sheet, e.Cell, e.Kind, e.Value)
			continue
		}
		ooxml.SetCachedValue(c, e.Value, e.Kind == Text)
		s.dirty = true
		synthesized[e.Sheet+"!"+e.Cell] = e
		report.Caches = append(report.Caches, e)
	}

	// every worksheet takes part in reference resolution, not only the profile sheets
	all, err := final.SheetParts()
	if err != nil {
		return err
	}
	for _, sh := range all {
		if !strings.HasPrefix(sh.Part, worksheetsDir) {
			continue
		}
		if _, err := open(sh.Name); err != nil {
			report.warn("%s: worksheet could not be read: %v", sh.Name, err)
		}
	}

	// plain references into another sheet take that cell's value; repeated until no
	// reference resolves so chains through other reference cells are followed
	for resolved := true; resolved; {
		resolved = false
		for _, name := range order {
			s := sheets[name]
			for _, fc := range s.ws.Formulas() {
				if _, done := synthesized[name+"!"+fc.Ref]; done {
					continue
				}
				m := crossSheetRef.FindStringSubmatch(strings.TrimSpace(fc.Formula))
				if m == nil || m[1] == name {
					continue
				}
				srcSheet, srcCell := m[1], m[2]+m[3]
				src, ok := synthesized[srcSheet+"!"+srcCell]
				value, kind := src.Value, src.Kind
				if !ok {
					st, known := sheets[srcSheet]
					if !known {
						if !warned[srcSheet] {
							report.warn("%s!%s: referenced sheet %s not found", name, fc.Ref, srcSheet)
							warned[srcSheet] = true
						}
						continue
					}
					if value, kind, ok = literalOf(st.ws, srcCell, sst); !ok {
						continue
					}
				}
				e := CacheEntry{Sheet: name, Cell: fc.Ref, Value: value, Kind: kind}
				ooxml.SetCachedValue(s.ws.Cell(fc.Ref), value, kind == Text)
				s.dirty = true
				synthesized[name+"!"+fc.Ref] = e
				report.Caches = append(report.Caches, e)
				resolved = true
			}
		}
	}

	for _, name := range order {
		s := sheets[name]
		if !s.dirty {
			continue
		}
		if err := final.SetDocument(s.part, s.ws.Doc); err != nil {
			return err
		}
	}
	return nil
}

// literalOf reads a non-formula source cell as a cache value
func literalOf(ws *ooxml.Worksheet, ref string, sst []string) (string, CacheKind, bool) {
	c := ws.Cell(ref)
	if c == nil {
		return "", Numeric, false
	}
	if _, isFormula := ws.Formula(ref); isFormula {
		return "", Numeric, false
	}
	value, ok := ws.Cached(ref, sst)
	if !ok {
		return "", Numeric, false
	}
	switch c.SelectAttrValue("t", "") {
	case "s", "str", "inlineStr":
		return value, Text, true
	default:
		return value, Numeric, true
	}
}

// forceFullCalc sets calcPr/@fullCalcOnLoad, creating calcPr in schema position if absent
func forceFullCalc(final *ooxml.Package) error {
	doc, err := final.Document(ooxml.WorkbookPart)
	if err != nil {
		return err
	}
	root := doc.Root()
	calcPr := ooxml.Child(root, "calcPr")
	if calcPr == nil {
		calcPr = etree.NewElement("calcPr")
		calcPr.Space = root.Space
		at := -1
		for _, c := range root.ChildElements() {
			if calcPrPredecessors[c.Tag] {
				at = c.Index()
			}
		}
		if at < 0 {
			root.AddChild(calcPr)
		} else {
			root.InsertChildAt(at+1, calcPr)
		}
	}
	calcPr.CreateAttr("fullCalcOnLoad", "1")
	return final.SetDocument(ooxml.WorkbookPart, doc)
}

// addMissing puts back template parts the editor dropped, except the calc chain
func (r *Reconciler) addMissing(template, final *ooxml.Package, report *Report) {
	for _, name := range template.Names() {
		if name == ooxml.CalcChainPart || final.Has(name) {
			continue
		}
		data, _ := template.Part(name)
		final.SetPart(name, append([]byte(nil), data...))
		report.Added = append(report.Added, name)
	}
}
