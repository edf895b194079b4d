package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/order-transcriber/internal/apperr"
	"github.com/garyjia/order-transcriber/internal/models"
	"github.com/garyjia/order-transcriber/internal/profile"
	"github.com/garyjia/order-transcriber/internal/testsupport"
)

var fixedNow = time.Date(2025, 11, 20, 10, 0, 0, 0, time.UTC)

func newTestMutator() *Mutator {
	return NewMutator(zap.NewNop()).WithClock(func() time.Time { return fixedNow })
}

func lookup(t *testing.T, tag profile.Tag) profile.Profile {
	t.Helper()
	p, err := profile.Lookup(tag)
	require.NoError(t, err)
	return p
}

func openResult(t *testing.T, m *Mutation) *excelize.File {
	t.Helper()
	f, err := excelize.OpenReader(bytes.NewReader(m.Workbook))
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func cellValue(t *testing.T, f *excelize.File, sheet, cell string) string {
	t.Helper()
	v, err := f.GetCellValue(sheet, cell, excelize.Options{RawCellValue: true})
	require.NoError(t, err)
	return v
}

func cellFormula(t *testing.T, f *excelize.File, sheet, cell string) string {
	t.Helper()
	v, err := f.GetCellFormula(sheet, cell)
	require.NoError(t, err)
	return v
}

func TestMutate_NextBits(t *testing.T) {
	p := lookup(t, profile.NextBits)
	tmpl := testsupport.MustTemplate(t, profile.NextBits)

	m, err := newTestMutator().Mutate(context.Background(), tmpl, p, testsupport.NextBitsFieldSet())
	require.NoError(t, err)

	assert.Equal(t, time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC), m.IssueDate)
	assert.False(t, m.IssueDateFallback)
	assert.Equal(t, "見積番号：TRR-25-008", m.Inputs.Remarks)
	assert.Equal(t, []DetailRow{{Row: 18, Quantity: 1, UnitPrice: 600000}}, m.Inputs.Order)
	assert.Equal(t, []DetailRow{{Row: 20, Quantity: 1, UnitPrice: 600000}}, m.Inputs.Inspection)

	f := openResult(t, m)
	assert.Equal(t, "45870", cellValue(t, f, profile.OrderSheet, "AC2"))
	assert.Equal(t, "1", cellValue(t, f, profile.OrderSheet, "R18"))
	assert.Equal(t, "600000", cellValue(t, f, profile.OrderSheet, "T18"))
	assert.Equal(t, "1", cellValue(t, f, profile.InspectionSheet, "R20"))
	assert.Equal(t, "600000", cellValue(t, f, profile.InspectionSheet, "T20"))

	// subject and marker stay as the template has them
	assert.Equal(t, p.ExpectedSubject(), cellValue(t, f, profile.OrderSheet, "C18"))
	assert.Equal(t, p.ExpectedSubject(), cellValue(t, f, profile.InspectionSheet, "C20"))
	assert.Equal(t, profile.EndOfListMarker, cellValue(t, f, profile.OrderSheet, "C19"))

	// remarks remain formula-derived
	assert.NotEmpty(t, cellFormula(t, f, profile.OrderSheet, "AA17"))
	assert.Equal(t, "R18*T18", cellFormula(t, f, profile.OrderSheet, "W18"))
}

func TestMutate_NextBitsSubjectGuard(t *testing.T) {
	p := lookup(t, profile.NextBits)

	t.Run("template subject drift", func(t *testing.T) {
		tmpl := testsupport.MustTemplate(t, profile.NextBits, testsupport.WithSubject("Telemas作業"))
		_, err := newTestMutator().Mutate(context.Background(), tmpl, p, testsupport.NextBitsFieldSet())
		require.Error(t, err)
		assert.ErrorIs(t, err, profile.ErrSubjectMismatch)
		assert.Equal(t, apperr.KindBusinessRule, apperr.KindOf(err))
		assert.Contains(t, err.Error(), "Telemas作業")
	})

	t.Run("unrecognized estimate subject", func(t *testing.T) {
		tmpl := testsupport.MustTemplate(t, profile.NextBits)
		fs := testsupport.NextBitsFieldSet()
		fs.Estimate.Subject = "2025年8月作業：新規画面開発"
		_, err := newTestMutator().Mutate(context.Background(), tmpl, p, fs)
		assert.ErrorIs(t, err, profile.ErrSubjectUnrecognized)
		assert.Equal(t, apperr.KindBusinessRule, apperr.KindOf(err))
	})
}

func TestMutate_NextBitsFallbackDate(t *testing.T) {
	p := lookup(t, profile.NextBits)
	tmpl := testsupport.MustTemplate(t, profile.NextBits)
	fs := testsupport.NextBitsFieldSet()
	fs.Estimate.EstimateNumber = "見積-不明"

	m, err := newTestMutator().Mutate(context.Background(), tmpl, p, fs)
	require.NoError(t, err)
	assert.True(t, m.IssueDateFallback)
	assert.Equal(t, time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC), m.IssueDate)
}

func TestMutate_OffBeatThreeItems(t *testing.T) {
	p := lookup(t, profile.OffBeat)
	tmpl := testsupport.MustTemplate(t, profile.OffBeat, testsupport.WithStaleItems(5))
	items := []models.LineItem{
		{Name: "保守作業", Quantity: 1, UnitPrice: 120000},
		{Name: "・追加対応", Quantity: 2, UnitPrice: 30000},
		{Name: "調査", Quantity: 3, UnitPrice: 5000},
	}

	m, err := newTestMutator().Mutate(context.Background(), tmpl, p, testsupport.OffBeatFieldSet(items...))
	require.NoError(t, err)

	assert.Equal(t, time.Date(2025, 9, 12, 0, 0, 0, 0, time.UTC), m.IssueDate)
	assert.Equal(t, 3, m.Inputs.ItemCount)
	assert.Equal(t, "見積番号：2025091", m.Inputs.Remarks)

	f := openResult(t, m)
	for _, l := range p.Sheets() {
		for i, it := range items {
			row := l.DetailRow(i)
			assert.Equal(t, fmt.Sprint(it.Quantity), cellValue(t, f, l.Name, profile.Cell("R", row)))
			assert.Equal(t, fmt.Sprint(it.UnitPrice), cellValue(t, f, l.Name, profile.Cell("T", row)))
			assert.Equal(t, fmt.Sprintf("R%d*T%d", row, row), cellFormula(t, f, l.Name, profile.Cell("W", row)))
		}
		assert.Equal(t, "・保守作業", cellValue(t, f, l.Name, profile.Cell("C", l.DetailRow(0))))
		assert.Equal(t, "・追加対応", cellValue(t, f, l.Name, profile.Cell("C", l.DetailRow(1))))
		assert.Equal(t, profile.EndOfListMarker, cellValue(t, f, l.Name, profile.Cell("C", l.MarkerRow(3))))

		// stale rows from the longer prior list are gone
		for row := l.MarkerRow(3) + 1; row <= l.DetailStartRow+profile.RowBudget; row++ {
			for _, col := range []string{"C", "R", "T", "W"} {
				assert.Empty(t, cellValue(t, f, l.Name, profile.Cell(col, row)), "%s!%s%d", l.Name, col, row)
				assert.Empty(t, cellFormula(t, f, l.Name, profile.Cell(col, row)), "%s!%s%d", l.Name, col, row)
			}
		}
	}

	assert.Equal(t, "見積番号：2025091", cellValue(t, f, profile.OrderSheet, "AA17"))
	assert.Equal(t, "注文書!AA17", cellFormula(t, f, profile.InspectionSheet, "AA19"))
}

func TestMutate_OffBeatBoundaries(t *testing.T) {
	p := lookup(t, profile.OffBeat)

	t.Run("full row budget over an equally long prior list", func(t *testing.T) {
		tmpl := testsupport.MustTemplate(t, profile.OffBeat, testsupport.WithStaleItems(profile.RowBudget))
		items := testsupport.LineItems(profile.RowBudget)

		m, err := newTestMutator().Mutate(context.Background(), tmpl, p, testsupport.OffBeatFieldSet(items...))
		require.NoError(t, err)

		f := openResult(t, m)
		for _, l := range p.Sheets() {
			last := l.DetailRow(profile.RowBudget - 1)
			assert.Equal(t, fmt.Sprint(items[profile.RowBudget-1].UnitPrice), cellValue(t, f, l.Name, profile.Cell("T", last)))
			assert.Equal(t, profile.EndOfListMarker, cellValue(t, f, l.Name, profile.Cell("C", l.MarkerRow(profile.RowBudget))))
			assert.Empty(t, cellValue(t, f, l.Name, profile.Cell("R", l.MarkerRow(profile.RowBudget))))
		}
	})

	t.Run("too many items", func(t *testing.T) {
		tmpl := testsupport.MustTemplate(t, profile.OffBeat)
		fs := testsupport.OffBeatFieldSet(testsupport.LineItems(profile.RowBudget + 1)...)

		_, err := newTestMutator().Mutate(context.Background(), tmpl, p, fs)
		assert.ErrorIs(t, err, ErrItemLimitExceeded)
		assert.Equal(t, apperr.KindInput, apperr.KindOf(err))
	})

	t.Run("no items writes the marker on the first detail row", func(t *testing.T) {
		tmpl := testsupport.MustTemplate(t, profile.OffBeat)
		m, err := newTestMutator().Mutate(context.Background(), tmpl, p, testsupport.OffBeatFieldSet())
		require.NoError(t, err)

		f := openResult(t, m)
		assert.Equal(t, profile.EndOfListMarker, cellValue(t, f, profile.OrderSheet, "C18"))
		assert.Equal(t, profile.EndOfListMarker, cellValue(t, f, profile.InspectionSheet, "C20"))
		assert.Empty(t, cellValue(t, f, profile.OrderSheet, "C19"))
	})

	t.Run("subtotal without items becomes one row", func(t *testing.T) {
		tmpl := testsupport.MustTemplate(t, profile.OffBeat)
		fs := testsupport.OffBeatFieldSet()
		fs.Invoice.Subtotal = 250000

		m, err := newTestMutator().Mutate(context.Background(), tmpl, p, fs)
		require.NoError(t, err)
		assert.Equal(t, []DetailRow{{Row: 18, Quantity: 1, UnitPrice: 250000}}, m.Inputs.Order)

		f := openResult(t, m)
		assert.Empty(t, cellValue(t, f, profile.OrderSheet, "C18"))
		assert.Equal(t, profile.EndOfListMarker, cellValue(t, f, profile.OrderSheet, "C19"))
	})
}

func TestMutate_InputErrors(t *testing.T) {
	ctx := context.Background()
	a := lookup(t, profile.NextBits)
	b := lookup(t, profile.OffBeat)
	tmpl := testsupport.MustTemplate(t, profile.OffBeat)

	_, err := newTestMutator().Mutate(ctx, tmpl, b, nil)
	assert.ErrorIs(t, err, ErrMissingFieldSet)

	_, err = newTestMutator().Mutate(ctx, tmpl, b, &models.FieldSet{})
	assert.ErrorIs(t, err, ErrMissingField)
	assert.Equal(t, apperr.KindInput, apperr.KindOf(err))

	_, err = newTestMutator().Mutate(ctx, tmpl, a, &models.FieldSet{})
	assert.ErrorIs(t, err, ErrMissingField)

	bad := testsupport.OffBeatFieldSet(models.LineItem{Name: "x", Quantity: -1, UnitPrice: 10})
	_, err = newTestMutator().Mutate(ctx, tmpl, b, bad)
	assert.ErrorIs(t, err, ErrInvalidItem)

	_, err = newTestMutator().Mutate(ctx, filepath.Join(t.TempDir(), "missing.xlsx"), b, testsupport.OffBeatFieldSet())
	assert.ErrorIs(t, err, ErrTemplateUnreadable)
	assert.Equal(t, apperr.KindPackageIntegrity, apperr.KindOf(err))
}

func TestBulleted(t *testing.T) {
	assert.Equal(t, "・保守", bulleted("保守"))
	assert.Equal(t, "・保守", bulleted("・保守"))
	assert.Equal(t, "", bulleted("  "))
}
