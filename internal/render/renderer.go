// Package render exports the order and inspection sheets as one PDF each.
package render

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/order-transcriber/internal/apperr"
	"github.com/garyjia/order-transcriber/internal/engine"
	"github.com/garyjia/order-transcriber/internal/profile"
)

// Strategy selects how the two documents are produced
type Strategy string

const (
	// StrategySplit exports the workbook once and cuts page 1 and page 2 apart
	StrategySplit Strategy = "split"
	// StrategyIsolate exports each sheet from its own copy with the other sheet hidden
	StrategyIsolate Strategy = "isolate"
)

// ParseStrategy accepts "split", "isolate" or "" (split)
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StrategySplit:
		return StrategySplit, nil
	case StrategyIsolate:
		return StrategyIsolate, nil
	}
	return "", apperr.E(apperr.KindInput, "parse strategy", fmt.Errorf("%w: %q", ErrUnknownStrategy, s))
}

// Request describes one render
type Request struct {
	PackagePath string
	OutputDir   string
	ScratchDir  string // defaults to a temporary directory removed afterwards
	IssueDate   time.Time
	Strategy    Strategy
}

// Documents lists the produced files
type Documents struct {
	Order      string   `json:"order"`
	Inspection string   `json:"inspection"`
	Engine     string   `json:"engine"`
	Strategy   Strategy `json:"strategy"`
	// Warnings lists page layout problems that did not stop the render
	Warnings []string `json:"warnings,omitempty"`
}

// Placer moves a finished file from scratch into place
type Placer interface {
	Place(src, dst string) error
}

// Renderer produces the two documents through a converter engine
type Renderer struct {
	converter engine.Converter
	pages     PageTool
	inspector Inspector
	placer    Placer
	logger    *zap.Logger
}

// NewRenderer creates a renderer using pdfcpu for page work and MuPDF for inspection
func NewRenderer(converter engine.Converter, placer Placer, logger *zap.Logger) *Renderer {
	return &Renderer{
		converter: converter,
		pages:     PDFCPU{},
		inspector: FitzInspector{},
		placer:    placer,
		logger:    logger,
	}
}

// WithPageTool replaces the page tool
func (r *Renderer) WithPageTool(p PageTool) *Renderer {
	r.pages = p
	return r
}

// WithInspector replaces the page inspector; nil disables inspection
func (r *Renderer) WithInspector(i Inspector) *Renderer {
	r.inspector = i
	return r
}

// DocumentNames returns the order and inspection file names for an issue date
func DocumentNames(issueDate time.Time) (string, string) {
	yymm := issueDate.Format("0601")
	return profile.OrderSheet + "_" + yymm + ".pdf", profile.InspectionSheet + "_" + yymm + ".pdf"
}

// Render produces the order and inspection PDFs in req.OutputDir
func (r *Renderer) Render(ctx context.Context, req Request) (*Documents, error) {
	const op = "render"
	if err := req.check(); err != nil {
		return nil, apperr.E(apperr.KindInput, op, err)
	}
	strategy := req.Strategy
	if strategy == "" {
		strategy = StrategySplit
	}

	scratch := req.ScratchDir
	if scratch == "" {
		dir, err := os.MkdirTemp("", "render-*")
		if err != nil {
			return nil, apperr.E(apperr.KindEngine, op, err)
		}
		defer os.RemoveAll(dir)
		scratch = dir
	}

	orderName, inspectionName := DocumentNames(req.IssueDate)
	staged := map[string]string{
		profile.OrderSheet:      filepath.Join(scratch, "render", orderName),
		profile.InspectionSheet: filepath.Join(scratch, "render", inspectionName),
	}

	start := time.Now()
	var warnings []string
	var err error
	switch strategy {
	case StrategySplit:
		warnings, err = r.split(ctx, req.PackagePath, scratch, staged)
	case StrategyIsolate:
		warnings, err = r.isolate(ctx, req.PackagePath, scratch, staged)
	default:
		err = apperr.E(apperr.KindInput, op, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy))
	}
	if err != nil {
		return nil, apperr.E(apperr.KindEngine, op, err)
	}

	for _, sheet := range []string{profile.OrderSheet, profile.InspectionSheet} {
		if err := r.inspect(staged[sheet]); err != nil {
			return nil, apperr.E(apperr.KindEngine, op, fmt.Errorf("%s: %w", sheet, err))
		}
	}

	docs := &Documents{
		Order:      filepath.Join(req.OutputDir, orderName),
		Inspection: filepath.Join(req.OutputDir, inspectionName),
		Engine:     r.converter.Name(),
		Strategy:   strategy,
		Warnings:   warnings,
	}
	if err := r.placer.Place(staged[profile.OrderSheet], docs.Order); err != nil {
		return nil, apperr.E(apperr.KindEngine, op, err)
	}
	if err := r.placer.Place(staged[profile.InspectionSheet], docs.Inspection); err != nil {
		// the documents are delivered as a pair
		if rmErr := os.Remove(docs.Order); rmErr != nil && !os.IsNotExist(rmErr) {
			r.logger.Warn("Failed to withdraw placed order document",
				zap.String("path", docs.Order), zap.Error(rmErr))
			err = fmt.Errorf("%w (order document left at %s)", err, docs.Order)
		}
		return nil, apperr.E(apperr.KindEngine, op, err)
	}

	r.logger.Info("Documents rendered",
		zap.String("strategy", string(strategy)),
		zap.String("engine", docs.Engine),
		zap.String("order", docs.Order),
		zap.String("inspection", docs.Inspection),
		zap.Duration("elapsed", time.Since(start)))
	return docs, nil
}

func (req Request) check() error {
	switch {
	case req.PackagePath == "":
		return ErrMissingPackage
	case req.OutputDir == "":
		return ErrMissingOutputDir
	case req.IssueDate.IsZero():
		return ErrMissingIssueDate
	}
	return nil
}

// split exports once and cuts the first two pages apart
func (r *Renderer) split(ctx context.Context, packagePath, scratch string, staged map[string]string) ([]string, error) {
	pdf, err := r.converter.ConvertToPDF(ctx, packagePath, filepath.Join(scratch, "render-export"))
	if err != nil {
		return nil, err
	}

	n, err := r.pages.Count(pdf)
	if err != nil {
		return nil, err
	}
	if n < 2 {
		return nil, fmt.Errorf("%w: %d page(s), need one per sheet", ErrPageCount, n)
	}
	var warnings []string
	if n > 2 {
		r.logger.Warn("Export has more pages than sheets; extra pages dropped", zap.Int("pages", n))
		warnings = append(warnings, fmt.Sprintf("export has %d pages for 2 sheets; pages after 2 were dropped", n))
	}

	if err := os.MkdirAll(filepath.Dir(staged[profile.OrderSheet]), 0755); err != nil {
		return nil, err
	}
	if err := r.pages.Extract(pdf, staged[profile.OrderSheet], 1); err != nil {
		return nil, err
	}
	return warnings, r.pages.Extract(pdf, staged[profile.InspectionSheet], 2)
}

// isolate exports each sheet from a copy in which only that sheet is visible
func (r *Renderer) isolate(ctx context.Context, packagePath, scratch string, staged map[string]string) ([]string, error) {
	if err := os.MkdirAll(filepath.Dir(staged[profile.OrderSheet]), 0755); err != nil {
		return nil, err
	}
	var warnings []string
	base := filepath.Base(packagePath)
	for i, sheet := range []string{profile.OrderSheet, profile.InspectionSheet} {
		dir := filepath.Join(scratch, fmt.Sprintf("isolate-%d", i+1))
		copyPath := filepath.Join(dir, base)
		if err := IsolateSheet(packagePath, copyPath, sheet); err != nil {
			return nil, err
		}
		pdf, err := r.converter.ConvertToPDF(ctx, copyPath, dir)
		if err != nil {
			return nil, err
		}

		n, err := r.pages.Count(pdf)
		if err != nil {
			return nil, err
		}
		if n < 1 {
			return nil, fmt.Errorf("%w: %s exported no pages", ErrPageCount, sheet)
		}
		if n > 1 {
			r.logger.Warn("Sheet export spans more than one page",
				zap.String("sheet", sheet), zap.Int("pages", n))
			warnings = append(warnings, fmt.Sprintf("%s: export has %d pages, expected 1", sheet, n))
		}

		if err := os.Rename(pdf, staged[sheet]); err != nil {
			return nil, fmt.Errorf("failed to stage %s: %w", sheet, err)
		}
	}
	return warnings, nil
}

func (r *Renderer) inspect(path string) error {
	if r.inspector == nil {
		return nil
	}
	texts, err := r.inspector.PageTexts(path)
	if err != nil {
		return err
	}
	if found := Placeholders(texts); len(found) > 0 {
		r.logger.Error("Formula errors on rendered page",
			zap.String("document", filepath.Base(path)),
			zap.Strings("placeholders", found))
		return fmt.Errorf("%w: %s", ErrPlaceholderText, strings.Join(found, ", "))
	}
	return nil
}
