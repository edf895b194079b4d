// Package pipeline runs the transcription stages for one request and assembles the result
// record.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/garyjia/order-transcriber/internal/apperr"
	"github.com/garyjia/order-transcriber/internal/metrics"
	"github.com/garyjia/order-transcriber/internal/models"
	"github.com/garyjia/order-transcriber/internal/ooxml"
	"github.com/garyjia/order-transcriber/internal/profile"
	"github.com/garyjia/order-transcriber/internal/reconcile"
	"github.com/garyjia/order-transcriber/internal/render"
	"github.com/garyjia/order-transcriber/internal/storage"
	"github.com/garyjia/order-transcriber/internal/transcribe"
	"github.com/garyjia/order-transcriber/internal/validate"
)

// Pipeline errors
var (
	ErrMissingTemplate    = errors.New("template path is required")
	ErrMissingOutput      = errors.New("output path or output directory is required")
	ErrMissingPackagePath = errors.New("package path is required")
	ErrNoValidator        = errors.New("validation requested but no recalculation engine is configured")
	ErrNoRenderer         = errors.New("rendering requested but no converter engine is configured")
	ErrValidationFailed   = errors.New("recalculated values do not match the invoice")
)

// ValidationNote annotates the echoed invoice figures of a transcription result
const ValidationNote = "数式の計算結果はLibreOfficeでPDF生成時に検証"

// Stage labels
const (
	StageMutate    = "mutate"
	StageReconcile = "reconcile"
	StageValidate  = "validate"
	StagePlace     = "place"
	StageRender    = "render"
)

// Commands recorded in run history
const (
	CommandRun      = "run"
	CommandValidate = "validate"
	CommandRender   = "render"
)

// History stores run records
type History interface {
	Create(ctx context.Context, run *models.RunRecord) error
	Complete(ctx context.Context, run *models.RunRecord, checks []models.ValidationCheck) error
}

// Deps are the components a pipeline drives. Validator, Renderer, History and Metrics may
// be nil.
type Deps struct {
	Mutator    *transcribe.Mutator
	Reconciler *reconcile.Reconciler
	Validator  *validate.Validator
	Renderer   *render.Renderer
	Scratch    *storage.ScratchManager
	Storage    storage.FileStorage
	History    History
	Metrics    *metrics.Metrics
}

// Config holds pipeline behaviour switches
type Config struct {
	// KeepScratch leaves the per-run scratch directory in place
	KeepScratch bool
	// Development adds stack traces to error records
	Development bool
}

// Pipeline orchestrates runs
type Pipeline struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New creates a new Pipeline
func New(deps Deps, cfg Config, logger *zap.Logger) *Pipeline {
	return &Pipeline{deps: deps, cfg: cfg, logger: logger}
}

// Request describes a full transcription run
type Request struct {
	// RunID is generated when empty
	RunID        string
	Partner      profile.Tag
	TemplatePath string
	FieldSet     *models.FieldSet
	// OutputPath is the final package path. When empty the package is named after the
	// partner and issue date inside OutputDir.
	OutputPath string
	OutputDir  string
	Validate   bool
	Render     bool
	// PDFDir receives the rendered documents; defaults to the package's directory
	PDFDir   string
	Strategy render.Strategy
}

// Summary echoes the invoice figures written into the package
type Summary struct {
	Subtotal int64  `json:"subtotal"`
	Tax      int64  `json:"tax"`
	Total    int64  `json:"total"`
	Note     string `json:"note"`
}

// Result is the machine-readable record of a run
type Result struct {
	RunID      string                   `json:"run_id"`
	Success    bool                     `json:"success"`
	OutputPath string                   `json:"output_path,omitempty"`
	IssueDate  string                   `json:"issue_date,omitempty"`
	Validation *Summary                 `json:"validation,omitempty"`
	Warnings   []string                 `json:"warnings"`
	Report     *models.ValidationReport `json:"report,omitempty"`
	Documents  *render.Documents        `json:"documents,omitempty"`
	Error      *apperr.Record           `json:"error,omitempty"`
}

// OutputName is the package file name for a partner and issue date
func OutputName(p profile.Profile, issueDate time.Time) string {
	return fmt.Sprintf("テラ【株式会社%s御中】注文検収書_%s.xlsx", p.PartnerName, issueDate.Format("0601"))
}

// run carries the state of one request through its stages
type run struct {
	id      string
	scratch string
	partner string
	record  *models.RunRecord
	result  *Result
	err     error
	started time.Time
	active  bool
}

func (pl *Pipeline) begin(ctx context.Context, runID, command, partner, templatePath string) (*run, error) {
	if runID == "" {
		runID = uuid.NewString()
	}
	r := &run{
		id:      runID,
		partner: partner,
		started: time.Now(),
	}
	r.result = &Result{RunID: r.id, Warnings: []string{}}

	scratch, err := pl.deps.Scratch.Create(r.id)
	if err != nil {
		return r, apperr.E(apperr.KindPackageIntegrity, "create scratch", err)
	}
	r.scratch = scratch

	if pl.deps.Metrics != nil {
		pl.deps.Metrics.RunsActive.Inc()
		r.active = true
	}
	if pl.deps.History != nil {
		r.record = &models.RunRecord{
			RunID:        r.id,
			Partner:      partner,
			Command:      command,
			TemplatePath: templatePath,
			StartedAt:    r.started.UTC(),
		}
		if err := pl.deps.History.Create(ctx, r.record); err != nil {
			pl.logger.Warn("Failed to record run start", zap.String("run_id", r.id), zap.Error(err))
			r.record = nil
		}
	}

	pl.logger.Info("Run started",
		zap.String("run_id", r.id),
		zap.String("command", command),
		zap.String("partner", partner))
	return r, nil
}

// fail records err as the run's error unless an earlier stage already failed
func (r *run) fail(err error) {
	if err == nil {
		return
	}
	if r.err == nil {
		r.err = err
		return
	}
	r.result.Warnings = append(r.result.Warnings, err.Error())
}

func (pl *Pipeline) stage(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	if pl.deps.Metrics != nil {
		pl.deps.Metrics.ObserveStage(name, time.Since(start).Seconds())
	}
	return err
}

// finish fills the outcome, records metrics and history and removes scratch
func (pl *Pipeline) finish(ctx context.Context, r *run) (*Result, error) {
	res := r.result
	res.Success = r.err == nil
	res.Error = apperr.ToRecord(r.err, pl.cfg.Development)

	if pl.deps.Metrics != nil {
		if r.active {
			pl.deps.Metrics.RunsActive.Dec()
		}
		kind := ""
		if r.err != nil {
			kind = string(apperr.KindOf(r.err))
		}
		pl.deps.Metrics.ObserveRun(r.partner, res.Success, kind)
		if res.Report != nil {
			for _, c := range res.Report.Checks {
				pl.deps.Metrics.ObserveCheck(c.Item, c.Passed)
			}
		}
	}

	if r.record != nil {
		pl.complete(ctx, r)
	}

	if r.scratch != "" && !pl.cfg.KeepScratch {
		if err := pl.deps.Scratch.Remove(r.id); err != nil {
			pl.logger.Warn("Failed to remove scratch directory", zap.String("run_id", r.id), zap.Error(err))
		}
	}

	fields := []zap.Field{
		zap.String("run_id", r.id),
		zap.Bool("success", res.Success),
		zap.Int("warnings", len(res.Warnings)),
		zap.Duration("elapsed", time.Since(r.started)),
	}
	if r.err != nil {
		pl.logger.Error("Run failed", append(fields, zap.String("kind", string(res.Error.Kind)), zap.Error(r.err))...)
	} else {
		pl.logger.Info("Run completed", fields...)
	}
	return res, r.err
}

func (pl *Pipeline) complete(ctx context.Context, r *run) {
	res := r.result
	rec := r.record
	rec.Status = models.RunStatusSucceeded
	if !res.Success {
		rec.Status = models.RunStatusFailed
	}
	rec.OutputPath = res.OutputPath
	rec.IssueDate = res.IssueDate
	if res.Documents != nil {
		rec.OrderPDFPath = res.Documents.Order
		rec.InspectionPDFPath = res.Documents.Inspection
	}
	var checks []models.ValidationCheck
	if res.Report != nil {
		passed := res.Report.Success
		rec.ValidationPassed = &passed
		checks = res.Report.Checks
	}
	if res.Error != nil {
		rec.ErrorKind = string(res.Error.Kind)
		rec.ErrorMessage = res.Error.Message
	}
	if data, err := json.Marshal(res); err == nil {
		rec.ResultJSON = string(data)
	}

	// history must be written even when the request context was cancelled
	if err := pl.deps.History.Complete(context.WithoutCancel(ctx), rec, checks); err != nil {
		pl.logger.Warn("Failed to record run outcome", zap.String("run_id", r.id), zap.Error(err))
	}
}

// Run transcribes the field set into the template, reconciles the package, places it at the
// output path and optionally validates and renders it
func (pl *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	r, err := pl.begin(ctx, req.RunID, CommandRun, req.Partner.String(), req.TemplatePath)
	if err != nil {
		r.fail(err)
		return pl.finish(ctx, r)
	}
	r.fail(pl.run(ctx, r, req))
	return pl.finish(ctx, r)
}

func (pl *Pipeline) run(ctx context.Context, r *run, req Request) error {
	p, err := profile.Lookup(req.Partner)
	if err != nil {
		return err
	}
	switch {
	case req.TemplatePath == "":
		return apperr.E(apperr.KindInput, "run", ErrMissingTemplate)
	case req.OutputPath == "" && req.OutputDir == "":
		return apperr.E(apperr.KindInput, "run", ErrMissingOutput)
	case req.Validate && pl.deps.Validator == nil:
		return apperr.E(apperr.KindInput, "run", ErrNoValidator)
	case req.Render && pl.deps.Renderer == nil:
		return apperr.E(apperr.KindInput, "run", ErrNoRenderer)
	}
	res := r.result

	var mutation *transcribe.Mutation
	err = pl.stage(StageMutate, func() error {
		var err error
		mutation, err = pl.deps.Mutator.Mutate(ctx, req.TemplatePath, p, req.FieldSet)
		return err
	})
	if err != nil {
		return err
	}
	res.IssueDate = mutation.IssueDate.Format("2006-01-02")
	if mutation.IssueDateFallback {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("発行日が取得できないため当月1日（%s）を使用しました", res.IssueDate))
	}

	var final *ooxml.Package
	err = pl.stage(StageReconcile, func() error {
		template, err := ooxml.Open(req.TemplatePath)
		if err != nil {
			return apperr.E(apperr.KindPackageIntegrity, "reconcile package", err)
		}
		working, err := ooxml.Read(mutation.Workbook)
		if err != nil {
			return apperr.E(apperr.KindPackageIntegrity, "reconcile package", err)
		}
		var report *reconcile.Report
		final, report, err = pl.deps.Reconciler.Reconcile(template, working, mutation, p)
		if err != nil {
			return err
		}
		res.Warnings = append(res.Warnings, report.Warnings...)
		return nil
	})
	if err != nil {
		return err
	}

	outputPath := req.OutputPath
	if outputPath == "" {
		outputPath = filepath.Join(req.OutputDir, OutputName(p, mutation.IssueDate))
	}
	staged := filepath.Join(r.scratch, filepath.Base(outputPath))
	if err := final.Save(staged); err != nil {
		return apperr.E(apperr.KindPackageIntegrity, "stage package", err)
	}

	if inv := req.FieldSet.Invoice; inv != nil {
		res.Validation = &Summary{Subtotal: inv.Subtotal, Tax: inv.Tax, Total: inv.Total, Note: ValidationNote}
	}

	// validation and rendering fail independently; the first failure becomes the run error
	if req.Validate {
		r.fail(pl.validate(ctx, r, staged, p, req.FieldSet))
	}

	err = pl.stage(StagePlace, func() error {
		return pl.deps.Storage.Place(staged, outputPath)
	})
	if err != nil {
		return apperr.E(apperr.KindPackageIntegrity, "place package", err)
	}
	res.OutputPath = outputPath

	if req.Render {
		pdfDir := req.PDFDir
		if pdfDir == "" {
			pdfDir = filepath.Dir(outputPath)
		}
		r.fail(pl.render(ctx, r, render.Request{
			PackagePath: outputPath,
			OutputDir:   pdfDir,
			ScratchDir:  r.scratch,
			IssueDate:   mutation.IssueDate,
			Strategy:    req.Strategy,
		}))
	}
	return nil
}

func (pl *Pipeline) validate(ctx context.Context, r *run, packagePath string, p profile.Profile, fs *models.FieldSet) error {
	return pl.stage(StageValidate, func() error {
		scratch := filepath.Join(r.scratch, "validate")
		if err := os.MkdirAll(scratch, 0755); err != nil {
			return apperr.E(apperr.KindEngine, "validate package", err)
		}
		report, err := pl.deps.Validator.Validate(ctx, packagePath, scratch, p, fs)
		if err != nil {
			return err
		}
		r.result.Report = report
		if !report.Success {
			return apperr.E(apperr.KindValidation, "validate package",
				fmt.Errorf("%w: %d error(s)", ErrValidationFailed, len(report.Errors)))
		}
		return nil
	})
}

func (pl *Pipeline) render(ctx context.Context, r *run, req render.Request) error {
	return pl.stage(StageRender, func() error {
		docs, err := pl.deps.Renderer.Render(ctx, req)
		if err != nil {
			return err
		}
		r.result.Documents = docs
		r.result.Warnings = append(r.result.Warnings, docs.Warnings...)
		return nil
	})
}

// ValidateRequest describes a validation of an existing package
type ValidateRequest struct {
	Partner     profile.Tag
	PackagePath string
	FieldSet    *models.FieldSet
}

// Validate recalculates an existing package and checks it against the field set
func (pl *Pipeline) Validate(ctx context.Context, req ValidateRequest) (*Result, error) {
	r, err := pl.begin(ctx, "", CommandValidate, req.Partner.String(), "")
	if err != nil {
		r.fail(err)
		return pl.finish(ctx, r)
	}
	r.result.OutputPath = req.PackagePath

	p, err := profile.Lookup(req.Partner)
	switch {
	case err != nil:
		r.fail(err)
	case req.PackagePath == "":
		r.fail(apperr.E(apperr.KindInput, "validate", ErrMissingPackagePath))
	case pl.deps.Validator == nil:
		r.fail(apperr.E(apperr.KindInput, "validate", ErrNoValidator))
	default:
		r.fail(pl.validate(ctx, r, req.PackagePath, p, req.FieldSet))
	}
	return pl.finish(ctx, r)
}

// RenderRequest describes a render of an existing package
type RenderRequest struct {
	Partner     profile.Tag
	PackagePath string
	OutputDir   string
	// IssueDate names the documents; when zero it is read from the package's order sheet
	IssueDate time.Time
	Strategy  render.Strategy
}

// Render prints an existing package to the two documents
func (pl *Pipeline) Render(ctx context.Context, req RenderRequest) (*Result, error) {
	r, err := pl.begin(ctx, "", CommandRender, req.Partner.String(), "")
	if err != nil {
		r.fail(err)
		return pl.finish(ctx, r)
	}
	r.result.OutputPath = req.PackagePath
	r.fail(pl.renderExisting(ctx, r, req))
	return pl.finish(ctx, r)
}

func (pl *Pipeline) renderExisting(ctx context.Context, r *run, req RenderRequest) error {
	p, err := profile.Lookup(req.Partner)
	if err != nil {
		return err
	}
	if req.PackagePath == "" {
		return apperr.E(apperr.KindInput, "render", ErrMissingPackagePath)
	}
	if pl.deps.Renderer == nil {
		return apperr.E(apperr.KindInput, "render", ErrNoRenderer)
	}

	issueDate := req.IssueDate
	if issueDate.IsZero() {
		issueDate, err = PackageIssueDate(req.PackagePath, p)
		if err != nil {
			return err
		}
	}
	r.result.IssueDate = issueDate.Format("2006-01-02")

	outDir := req.OutputDir
	if outDir == "" {
		outDir = filepath.Dir(req.PackagePath)
	}
	return pl.render(ctx, r, render.Request{
		PackagePath: req.PackagePath,
		OutputDir:   outDir,
		ScratchDir:  r.scratch,
		IssueDate:   issueDate,
		Strategy:    req.Strategy,
	})
}
