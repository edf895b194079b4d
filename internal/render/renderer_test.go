package render

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/order-transcriber/internal/apperr"
	"github.com/garyjia/order-transcriber/internal/profile"
	"github.com/garyjia/order-transcriber/internal/storage"
	"github.com/garyjia/order-transcriber/internal/testsupport"
)

var issueDate = time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)

// fakeConverter writes a canned PDF named after the source, as the office suite does
type fakeConverter struct {
	pages   []string
	visible []string
}

func (c *fakeConverter) Name() string { return "fake" }

func (c *fakeConverter) ConvertToPDF(_ context.Context, packagePath, outDir string) (string, error) {
	if f, err := excelize.OpenFile(packagePath); err == nil {
		for _, name := range f.GetSheetList() {
			if ok, _ := f.GetSheetVisible(name); ok {
				c.visible = append(c.visible, name)
			}
		}
		f.Close()
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return "", err
	}
	base := strings.TrimSuffix(filepath.Base(packagePath), filepath.Ext(packagePath))
	out := filepath.Join(outDir, base+".pdf")
	return out, os.WriteFile(out, testsupport.MinimalPDF(c.pages...), 0644)
}

type fakeInspector map[string][]string

func (f fakeInspector) PageTexts(path string) ([]string, error) {
	return f[filepath.Base(path)], nil
}

func newRenderer(conv *fakeConverter, inspector Inspector) *Renderer {
	return NewRenderer(conv, storage.NewLocalFileStorage("", zap.NewNop()), zap.NewNop()).WithInspector(inspector)
}

func request(t *testing.T, strategy Strategy) Request {
	return Request{
		PackagePath: testsupport.MustTemplate(t, profile.NextBits),
		OutputDir:   filepath.Join(t.TempDir(), "out"),
		ScratchDir:  t.TempDir(),
		IssueDate:   issueDate,
		Strategy:    strategy,
	}
}

func TestRender_Split(t *testing.T) {
	conv := &fakeConverter{pages: []string{"Order 2508", "Inspection 2508"}}
	req := request(t, StrategySplit)

	docs, err := newRenderer(conv, fakeInspector{}).Render(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(req.OutputDir, "注文書_2508.pdf"), docs.Order)
	assert.Equal(t, filepath.Join(req.OutputDir, "検収書_2508.pdf"), docs.Inspection)
	assert.Equal(t, "fake", docs.Engine)
	assert.Equal(t, StrategySplit, docs.Strategy)

	for _, path := range []string{docs.Order, docs.Inspection} {
		n, err := PDFCPU{}.Count(path)
		require.NoError(t, err)
		assert.Equal(t, 1, n, path)
	}
	assert.NoFileExists(t, filepath.Join(req.ScratchDir, "render", "注文書_2508.pdf"))
}

func TestRender_SplitExtraPagesDropped(t *testing.T) {
	conv := &fakeConverter{pages: []string{"Order", "Inspection", "Overflow"}}
	docs, err := newRenderer(conv, nil).Render(context.Background(), request(t, ""))
	require.NoError(t, err)
	assert.Equal(t, StrategySplit, docs.Strategy)
	assert.FileExists(t, docs.Inspection)
	require.Len(t, docs.Warnings, 1)
	assert.Contains(t, docs.Warnings[0], "3 pages")
}

func TestRender_SplitPageCount(t *testing.T) {
	conv := &fakeConverter{pages: []string{"Only one"}}
	req := request(t, StrategySplit)

	_, err := newRenderer(conv, fakeInspector{}).Render(context.Background(), req)
	assert.ErrorIs(t, err, ErrPageCount)
	assert.Equal(t, apperr.KindEngine, apperr.KindOf(err))
	assert.NoDirExists(t, req.OutputDir)
}

func TestRender_PlaceholderText(t *testing.T) {
	conv := &fakeConverter{pages: []string{"Order", "Inspection"}}
	inspector := fakeInspector{"検収書_2508.pdf": {"小計 #REF! 消費税 Err:502"}}
	req := request(t, StrategySplit)

	_, err := newRenderer(conv, inspector).Render(context.Background(), req)
	require.ErrorIs(t, err, ErrPlaceholderText)
	assert.Equal(t, apperr.KindEngine, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "#REF!, Err:502")
	assert.NoFileExists(t, filepath.Join(req.OutputDir, "注文書_2508.pdf"))
}

func TestRender_Isolate(t *testing.T) {
	conv := &fakeConverter{pages: []string{"Sheet"}}
	req := request(t, StrategyIsolate)

	docs, err := newRenderer(conv, fakeInspector{}).Render(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, []string{profile.OrderSheet, profile.InspectionSheet}, conv.visible)
	assert.Equal(t, StrategyIsolate, docs.Strategy)
	assert.FileExists(t, docs.Order)
	assert.FileExists(t, docs.Inspection)
	assert.Empty(t, docs.Warnings)
}

func TestRender_IsolateSheetSpansPages(t *testing.T) {
	conv := &fakeConverter{pages: []string{"Sheet", "Sheet continued"}}
	req := request(t, StrategyIsolate)

	docs, err := newRenderer(conv, fakeInspector{}).Render(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, docs.Warnings, 2)
	assert.Contains(t, docs.Warnings[0], profile.OrderSheet)
	assert.Contains(t, docs.Warnings[0], "2 pages")
	assert.Contains(t, docs.Warnings[1], profile.InspectionSheet)

	// the whole sheet export is kept
	n, err := PDFCPU{}.Count(docs.Order)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

// failingPlacer places files but refuses destinations containing reject
type failingPlacer struct {
	files  *storage.LocalFileStorage
	reject string
}

func (p failingPlacer) Place(src, dst string) error {
	if strings.Contains(filepath.Base(dst), p.reject) {
		return errors.New("disk full")
	}
	return p.files.Place(src, dst)
}

func TestRender_PlacementFailureWithdrawsPair(t *testing.T) {
	conv := &fakeConverter{pages: []string{"Order", "Inspection"}}
	placer := failingPlacer{files: storage.NewLocalFileStorage("", zap.NewNop()), reject: profile.InspectionSheet}
	req := request(t, StrategySplit)

	_, err := NewRenderer(conv, placer, zap.NewNop()).WithInspector(nil).Render(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, apperr.KindEngine, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "disk full")
	assert.NoFileExists(t, filepath.Join(req.OutputDir, "注文書_2508.pdf"))
	assert.NoFileExists(t, filepath.Join(req.OutputDir, "検収書_2508.pdf"))
}

func TestRender_InvalidRequest(t *testing.T) {
	r := newRenderer(&fakeConverter{}, nil)
	ctx := context.Background()

	_, err := r.Render(ctx, Request{OutputDir: "out", IssueDate: issueDate})
	assert.ErrorIs(t, err, ErrMissingPackage)
	assert.Equal(t, apperr.KindInput, apperr.KindOf(err))

	_, err = r.Render(ctx, Request{PackagePath: "a.xlsx", IssueDate: issueDate})
	assert.ErrorIs(t, err, ErrMissingOutputDir)

	_, err = r.Render(ctx, Request{PackagePath: "a.xlsx", OutputDir: "out"})
	assert.ErrorIs(t, err, ErrMissingIssueDate)

	_, err = r.Render(ctx, Request{PackagePath: "a.xlsx", OutputDir: t.TempDir(), IssueDate: issueDate, Strategy: "scan"})
	assert.ErrorIs(t, err, ErrUnknownStrategy)
	assert.Equal(t, apperr.KindInput, apperr.KindOf(err))
}

func TestIsolateSheet(t *testing.T) {
	src := testsupport.MustTemplate(t, profile.OffBeat)
	dst := filepath.Join(t.TempDir(), "copy", "book.xlsx")

	require.NoError(t, IsolateSheet(src, dst, profile.InspectionSheet))

	f, err := excelize.OpenFile(dst)
	require.NoError(t, err)
	defer f.Close()

	visible, err := f.GetSheetVisible(profile.OrderSheet)
	require.NoError(t, err)
	assert.False(t, visible)
	visible, err = f.GetSheetVisible(profile.InspectionSheet)
	require.NoError(t, err)
	assert.True(t, visible)
	assert.Equal(t, 1, f.GetActiveSheetIndex())

	assert.ErrorIs(t, IsolateSheet(src, dst, "請求書"), ErrSheetNotIsolated)
}

func TestParseStrategy(t *testing.T) {
	for in, want := range map[string]Strategy{"": StrategySplit, "split": StrategySplit, " Isolate ": StrategyIsolate} {
		got, err := ParseStrategy(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseStrategy("excel")
	assert.ErrorIs(t, err, ErrUnknownStrategy)
}

func TestDocumentNames(t *testing.T) {
	order, inspection := DocumentNames(time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, "注文書_2512.pdf", order)
	assert.Equal(t, "検収書_2512.pdf", inspection)
}

func TestPlaceholders(t *testing.T) {
	assert.Empty(t, Placeholders([]string{"小計 600,000", "合計 660,000"}))
	assert.Equal(t, []string{"#NAME?", "#VALUE!", "Err:504"},
		Placeholders([]string{"#NAME? and #VALUE!", "", "Err:504 Err:4"}))
}

func TestFitzInspector(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.pdf")
	require.NoError(t, os.WriteFile(path, testsupport.MinimalPDF("Order 2508", "Total #NAME?"), 0644))

	texts, err := FitzInspector{}.PageTexts(path)
	require.NoError(t, err)
	require.Len(t, texts, 2)
	assert.Contains(t, texts[0], "Order 2508")
	assert.Equal(t, []string{"#NAME?"}, Placeholders(texts))
}
