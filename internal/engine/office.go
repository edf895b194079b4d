package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/order-transcriber/internal/apperr"
)

// OfficeConfig configures the LibreOffice engine
type OfficeConfig struct {
	Binary         string
	ConvertTimeout time.Duration // per recalculation conversion
	ExportTimeout  time.Duration // PDF export
	ProbeTimeout   time.Duration
}

// DefaultOfficeConfig returns the standard LibreOffice settings
func DefaultOfficeConfig() OfficeConfig {
	return OfficeConfig{
		Binary:         "soffice",
		ConvertTimeout: 60 * time.Second,
		ExportTimeout:  120 * time.Second,
		ProbeTimeout:   5 * time.Second,
	}
}

// CommandRunner executes an external command and returns its combined output
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

// Office drives headless LibreOffice. Every call uses a profile directory inside the
// caller's scratch directory so concurrent runs never share engine state.
type Office struct {
	cfg    OfficeConfig
	runner CommandRunner
	logger *zap.Logger
}

// NewOffice creates a LibreOffice engine
func NewOffice(cfg OfficeConfig, logger *zap.Logger) *Office {
	def := DefaultOfficeConfig()
	if cfg.Binary == "" {
		cfg.Binary = def.Binary
	}
	if cfg.ConvertTimeout <= 0 {
		cfg.ConvertTimeout = def.ConvertTimeout
	}
	if cfg.ExportTimeout <= 0 {
		cfg.ExportTimeout = def.ExportTimeout
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = def.ProbeTimeout
	}
	return &Office{cfg: cfg, runner: execRunner{}, logger: logger}
}

// WithRunner replaces the command runner
func (o *Office) WithRunner(r CommandRunner) *Office {
	o.runner = r
	return o
}

func (o *Office) Name() string { return "libreoffice" }

// Available probes the binary with --version
func (o *Office) Available(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.ProbeTimeout)
	defer cancel()
	out, err := o.runner.Run(ctx, o.cfg.Binary, "--version")
	if err != nil {
		return apperr.E(apperr.KindEngine, "probe office", o.classify(ctx, err, out))
	}
	o.logger.Debug("Office engine available", zap.String("version", strings.TrimSpace(string(out))))
	return nil
}

// Recalculate round-trips the package through ODS and back so every formula is evaluated
// by the engine, then reads the exported grid
func (o *Office) Recalculate(ctx context.Context, packagePath, scratchDir string) (Grid, error) {
	const op = "recalculate"
	odsDir := filepath.Join(scratchDir, "recalc-ods")
	xlsxDir := filepath.Join(scratchDir, "recalc-xlsx")
	for _, dir := range []string{odsDir, xlsxDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, apperr.E(apperr.KindEngine, op, fmt.Errorf("failed to create %s: %w", dir, err))
		}
	}

	ods, err := o.convert(ctx, packagePath, "ods", odsDir, scratchDir, o.cfg.ConvertTimeout)
	if err != nil {
		return nil, apperr.E(apperr.KindEngine, op, err)
	}
	xlsx, err := o.convert(ctx, ods, "xlsx", xlsxDir, scratchDir, o.cfg.ConvertTimeout)
	if err != nil {
		return nil, apperr.E(apperr.KindEngine, op, err)
	}

	grid, err := ReadGrid(xlsx)
	if err != nil {
		return nil, apperr.E(apperr.KindEngine, op, err)
	}
	return grid, nil
}

// ConvertToPDF exports the whole package to a single PDF in outDir
func (o *Office) ConvertToPDF(ctx context.Context, packagePath, outDir string) (string, error) {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return "", apperr.E(apperr.KindEngine, "export pdf", err)
	}
	pdf, err := o.convert(ctx, packagePath, "pdf", outDir, outDir, o.cfg.ExportTimeout)
	if err != nil {
		return "", apperr.E(apperr.KindEngine, "export pdf", err)
	}
	return pdf, nil
}

func (o *Office) convert(ctx context.Context, src, format, outDir, scratchDir string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	profileDir, err := filepath.Abs(filepath.Join(scratchDir, "lo-profile"))
	if err != nil {
		return "", err
	}
	args := []string{
		"-env:UserInstallation=file://" + filepath.ToSlash(profileDir),
		"--headless",
		"--convert-to", format,
		"--outdir", outDir,
		src,
	}

	start := time.Now()
	out, err := o.runner.Run(ctx, o.cfg.Binary, args...)
	if err != nil {
		o.logger.Error("Office conversion failed",
			zap.String("source", src),
			zap.String("format", format),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("output", strings.TrimSpace(string(out))),
			zap.Error(err))
		return "", o.classify(ctx, err, out)
	}

	base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	target := filepath.Join(outDir, base+"."+format)
	if _, err := os.Stat(target); err != nil {
		return "", fmt.Errorf("%w: %s produced no %s output: %s", ErrConversionFailed, filepath.Base(src), format,
			strings.TrimSpace(string(out)))
	}

	o.logger.Debug("Office conversion finished",
		zap.String("source", src),
		zap.String("target", target),
		zap.Duration("elapsed", time.Since(start)))
	return target, nil
}

func (o *Office) classify(ctx context.Context, err error, out []byte) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %s", ErrEngineTimeout, o.cfg.Binary)
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("%w: %s: %v", ErrEngineUnavailable, o.cfg.Binary, err)
	default:
		return fmt.Errorf("%w: %v: %s", ErrConversionFailed, err, strings.TrimSpace(string(out)))
	}
}
