package profile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/order-transcriber/internal/apperr"
	"github.com/garyjia/order-transcriber/internal/models"
)

func mustLookup(t *testing.T, tag Tag) Profile {
	t.Helper()
	p, err := Lookup(tag)
	require.NoError(t, err)
	return p
}

func TestParseTag(t *testing.T) {
	tests := []struct {
		in   string
		want Tag
	}{
		{"nextbits", NextBits},
		{"NextBits", NextBits},
		{"ネクストビッツ", NextBits},
		{"株式会社ネクストビッツ", NextBits},
		{"offbeat", OffBeat},
		{" オフ・ビート・ワークス ", OffBeat},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTag(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseTag("acme")
	assert.ErrorIs(t, err, ErrUnsupportedPartner)
	assert.Equal(t, apperr.KindInput, apperr.KindOf(err))
}

func TestLookup_Unknown(t *testing.T) {
	_, err := Lookup(Tag(99))
	assert.ErrorIs(t, err, ErrUnsupportedPartner)
}

func TestResolveIssueDate(t *testing.T) {
	now := time.Date(2025, 11, 17, 9, 30, 0, 0, time.UTC)
	firstOfNow := time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC)

	t.Run("nextbits period code", func(t *testing.T) {
		p := mustLookup(t, NextBits)
		fs := &models.FieldSet{Estimate: &models.Estimate{EstimateNumber: "TRR-25-008"}}

		d, fallback := p.ResolveIssueDate(fs, now)
		assert.False(t, fallback)
		assert.Equal(t, time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC), d)
	})

	t.Run("nextbits unparseable code falls back", func(t *testing.T) {
		p := mustLookup(t, NextBits)
		for _, number := range []string{"", "TRR-25-013", "EST-2025-08"} {
			fs := &models.FieldSet{Estimate: &models.Estimate{EstimateNumber: number}}
			d, fallback := p.ResolveIssueDate(fs, now)
			assert.True(t, fallback, number)
			assert.Equal(t, firstOfNow, d, number)
		}
	})

	t.Run("offbeat order confirmation date", func(t *testing.T) {
		p := mustLookup(t, OffBeat)
		for _, raw := range []string{"2025-09-12", "2025/09/12"} {
			fs := &models.FieldSet{OrderConfirmation: &models.OrderConfirmation{IssueDate: raw}}
			d, fallback := p.ResolveIssueDate(fs, now)
			assert.False(t, fallback, raw)
			assert.Equal(t, time.Date(2025, 9, 12, 0, 0, 0, 0, time.UTC), d, raw)
		}
	})

	t.Run("offbeat missing date falls back", func(t *testing.T) {
		p := mustLookup(t, OffBeat)
		d, fallback := p.ResolveIssueDate(&models.FieldSet{}, now)
		assert.True(t, fallback)
		assert.Equal(t, firstOfNow, d)
	})
}

func TestComposeRemarks(t *testing.T) {
	issue := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	fs := &models.FieldSet{Estimate: &models.Estimate{EstimateNumber: "1234567"}}

	assert.Equal(t, "見積番号：TRR-25-008", mustLookup(t, NextBits).ComposeRemarks(fs, issue))
	assert.Equal(t, "見積番号：1234567", mustLookup(t, OffBeat).ComposeRemarks(fs, issue))
	assert.Empty(t, mustLookup(t, OffBeat).ComposeRemarks(&models.FieldSet{}, issue))
}

func TestCheckSubject(t *testing.T) {
	p := mustLookup(t, NextBits)
	expected := p.ExpectedSubject()
	withSubject := func(s string) *models.FieldSet {
		return &models.FieldSet{Estimate: &models.Estimate{Subject: s}}
	}

	t.Run("recognized subject and matching cells", func(t *testing.T) {
		err := p.CheckSubject(withSubject("2025年8月作業：Telemasシステム改修作業等"), expected, expected)
		assert.NoError(t, err)
	})

	t.Run("template drift is a business rule error", func(t *testing.T) {
		err := p.CheckSubject(withSubject("2025年8月作業：Telemasシステム改修作業等"), expected, "Telemas作業")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrSubjectMismatch)
		assert.Equal(t, apperr.KindBusinessRule, apperr.KindOf(err))
		assert.Contains(t, err.Error(), "C20")
		assert.Contains(t, err.Error(), "Telemas作業")
	})

	t.Run("unrecognized subject is rejected", func(t *testing.T) {
		err := p.CheckSubject(withSubject("2025年8月作業：新規開発"), expected, expected)
		assert.ErrorIs(t, err, ErrSubjectUnrecognized)
		assert.Equal(t, apperr.KindBusinessRule, apperr.KindOf(err))
	})

	t.Run("missing subject is an input error", func(t *testing.T) {
		err := p.CheckSubject(&models.FieldSet{}, expected, expected)
		assert.ErrorIs(t, err, ErrMissingSubject)
		assert.Equal(t, apperr.KindInput, apperr.KindOf(err))
	})

	t.Run("offbeat has no guard", func(t *testing.T) {
		assert.NoError(t, mustLookup(t, OffBeat).CheckSubject(&models.FieldSet{}, "", ""))
	})
}

func TestFormatting(t *testing.T) {
	issue := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	a := mustLookup(t, NextBits)
	b := mustLookup(t, OffBeat)

	assert.Equal(t, "20250801-01", a.Identifier(issue))
	assert.Equal(t, "20250801-02", b.Identifier(issue))
	assert.Equal(t, "2025年08月分作業費", a.Title(issue))
	assert.Equal(t, "2025年08月作業費", b.Title(issue))

	assert.True(t, a.IdentifierPattern().MatchString(a.Identifier(issue)))
	assert.False(t, a.IdentifierPattern().MatchString(b.Identifier(issue)))
	assert.True(t, a.TitlePattern().MatchString("2025年8月分作業費"))
	assert.False(t, b.TitlePattern().MatchString(a.Title(issue)))
	assert.Equal(t, "株式会社ネクストビッツ　御中", a.Addressee())
}

func TestDateSerial(t *testing.T) {
	d := time.Date(2025, 8, 31, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 45900, DateSerial(d))
	assert.Equal(t, d, SerialDate(45900))
	assert.Equal(t, d, EndOfMonth(time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), EndOfMonth(time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC)))
}

func TestLayout(t *testing.T) {
	p := mustLookup(t, OffBeat)
	assert.Equal(t, "C17", p.Order.TitleCell())
	assert.Equal(t, "AA19", p.Inspection.RemarksCell())
	assert.Equal(t, "W39", p.Order.SubtotalCell())
	assert.Equal(t, "W43", p.Inspection.TotalCell())
	assert.Equal(t, 21, p.Order.MarkerRow(3))
	assert.Equal(t, 23, p.Inspection.MarkerRow(3))
}
