// Package profile defines the partner variants that govern a transcription run.
//
// Each profile is a constant value carrying its layout and formatting rules; behaviour
// that differs between partners is expressed as data plus a few pure functions.
package profile

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/garyjia/order-transcriber/internal/apperr"
	"github.com/garyjia/order-transcriber/internal/models"
)

// Tag selects a partner profile
type Tag int

const (
	NextBits Tag = iota + 1
	OffBeat
)

func (t Tag) String() string {
	switch t {
	case NextBits:
		return "nextbits"
	case OffBeat:
		return "offbeat"
	default:
		return fmt.Sprintf("Tag(%d)", int(t))
	}
}

// Itemization describes how detail rows are filled
type Itemization int

const (
	// SinglePair writes one quantity/price pair into a prepared template row
	SinglePair Itemization = iota
	// ItemList writes one row per invoice line item
	ItemList
)

// RemarksLabel prefixes the estimate reference in the remarks cell
const RemarksLabel = "見積番号："

// SubjectRule pairs a recognized estimate subject with the text the template must carry
type SubjectRule struct {
	Pattern  *regexp.Regexp
	Expected string
}

// Profile is the immutable rule set of one partner
type Profile struct {
	Tag              Tag
	PartnerName      string
	IdentifierSuffix string
	TitlePhrase      string
	Itemization      Itemization
	// RemarksByFormula marks templates whose remarks cells are formulas over the issue date
	RemarksByFormula bool
	// WritesMarker is set when the end-of-list marker moves with the item count
	WritesMarker   bool
	RemarksPattern *regexp.Regexp
	Order          SheetLayout
	Inspection     SheetLayout

	subjectRules []SubjectRule
}

var (
	estimatePeriodCode = regexp.MustCompile(`TRR-(\d{2})-0(\d{2})`)
	issueDateLayouts   = []string{"2006-01-02", "2006/01/02"}
)

var profiles = map[Tag]Profile{
	NextBits: {
		Tag:              NextBits,
		PartnerName:      "ネクストビッツ",
		IdentifierSuffix: "01",
		TitlePhrase:      "分作業費",
		Itemization:      SinglePair,
		RemarksByFormula: true,
		RemarksPattern:   regexp.MustCompile(`^見積番号：TRR-\d{2}-0\d{2}$`),
		Order:            orderLayout,
		Inspection:       inspectionLayout,
		subjectRules: []SubjectRule{
			{
				Pattern:  regexp.MustCompile(`^\d{4}年\d{1,2}月作業：Telemasシステム改修作業等$`),
				Expected: "　Telemas作業(システム改修等)",
			},
		},
	},
	OffBeat: {
		Tag:              OffBeat,
		PartnerName:      "オフ・ビート・ワークス",
		IdentifierSuffix: "02",
		TitlePhrase:      "作業費",
		Itemization:      ItemList,
		WritesMarker:     true,
		RemarksPattern:   regexp.MustCompile(`^見積番号：\d{7}$`),
		Order:            orderLayout,
		Inspection:       inspectionLayout,
	},
}

// Lookup returns the profile for a tag
func Lookup(tag Tag) (Profile, error) {
	p, ok := profiles[tag]
	if !ok {
		return Profile{}, apperr.E(apperr.KindInput, "lookup profile", fmt.Errorf("%w: %s", ErrUnsupportedPartner, tag))
	}
	return p, nil
}

// ParseTag maps a partner identifier (tag or company name) to its Tag
func ParseTag(s string) (Tag, error) {
	name := strings.TrimSpace(s)
	name = strings.TrimPrefix(name, "株式会社")
	switch strings.ToLower(name) {
	case "nextbits", "next-bits", "ネクストビッツ":
		return NextBits, nil
	case "offbeat", "off-beat", "offbeatworks", "オフ・ビート・ワークス":
		return OffBeat, nil
	}
	return 0, apperr.E(apperr.KindInput, "parse partner", fmt.Errorf("%w: %q", ErrUnsupportedPartner, s))
}

// Sheets returns the order and inspection layouts in processing order
func (p Profile) Sheets() []SheetLayout {
	return []SheetLayout{p.Order, p.Inspection}
}

// SubjectRules returns a copy of the recognized subject rules
func (p Profile) SubjectRules() []SubjectRule {
	return append([]SubjectRule(nil), p.subjectRules...)
}

// Addressee is the text expected in the addressee cells
func (p Profile) Addressee() string {
	return "株式会社" + p.PartnerName + "　御中"
}

// ResolveIssueDate returns the issue date for a run. The second result reports that the
// first day of now's month was used because the source date was absent or unparseable.
func (p Profile) ResolveIssueDate(fs *models.FieldSet, now time.Time) (time.Time, bool) {
	switch p.Tag {
	case NextBits:
		if d, ok := periodCodeDate(fs.EstimateNumber()); ok {
			return d, false
		}
	case OffBeat:
		if fs != nil && fs.OrderConfirmation != nil {
			raw := strings.TrimSpace(fs.OrderConfirmation.IssueDate)
			for _, layout := range issueDateLayouts {
				if d, err := time.Parse(layout, raw); err == nil {
					return d, false
				}
			}
		}
	}
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC), true
}

func periodCodeDate(estimateNumber string) (time.Time, bool) {
	m := estimatePeriodCode.FindStringSubmatch(estimateNumber)
	if m == nil {
		return time.Time{}, false
	}
	yy, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	if mm < 1 || mm > 12 {
		return time.Time{}, false
	}
	return time.Date(2000+yy, time.Month(mm), 1, 0, 0, 0, 0, time.UTC), true
}

// ComposeRemarks returns the remarks text for a run. Formula-derived remarks are computed
// from the issue date the way the template formula does; literal remarks come from the
// estimate number and are empty when there is none.
func (p Profile) ComposeRemarks(fs *models.FieldSet, issueDate time.Time) string {
	if p.RemarksByFormula {
		return fmt.Sprintf("%sTRR-%s-0%s", RemarksLabel, issueDate.Format("06"), issueDate.Format("01"))
	}
	if n := fs.EstimateNumber(); n != "" {
		return RemarksLabel + n
	}
	return ""
}

// CheckSubject enforces the subject guard. Profiles without subject rules accept anything.
func (p Profile) CheckSubject(fs *models.FieldSet, orderCell, inspectionCell string) error {
	if len(p.subjectRules) == 0 {
		return nil
	}
	const op = "check subject"

	var subject string
	if fs != nil && fs.Estimate != nil {
		subject = strings.TrimSpace(fs.Estimate.Subject)
	}
	if subject == "" {
		return apperr.E(apperr.KindInput, op, ErrMissingSubject)
	}

	for _, rule := range p.subjectRules {
		if !rule.Pattern.MatchString(subject) {
			continue
		}
		if orderCell != rule.Expected {
			return apperr.E(apperr.KindBusinessRule, op, fmt.Errorf("%w: %s %s expected %q, got %q",
				ErrSubjectMismatch, p.Order.Name, Cell(ColSubject, p.Order.DetailStartRow), rule.Expected, orderCell))
		}
		if inspectionCell != rule.Expected {
			return apperr.E(apperr.KindBusinessRule, op, fmt.Errorf("%w: %s %s expected %q, got %q",
				ErrSubjectMismatch, p.Inspection.Name, Cell(ColSubject, p.Inspection.DetailStartRow), rule.Expected, inspectionCell))
		}
		return nil
	}
	return apperr.E(apperr.KindBusinessRule, op, fmt.Errorf("%w: %q", ErrSubjectUnrecognized, subject))
}

// ExpectedSubject returns the subject text the template must carry, or "" when unguarded
func (p Profile) ExpectedSubject() string {
	if len(p.subjectRules) == 0 {
		return ""
	}
	return p.subjectRules[0].Expected
}

// Identifier formats the order/inspection number for an issue date
func (p Profile) Identifier(issueDate time.Time) string {
	return issueDate.Format("20060102") + "-" + p.IdentifierSuffix
}

// IdentifierPattern matches any identifier of this profile
func (p Profile) IdentifierPattern() *regexp.Regexp {
	return regexp.MustCompile(`^\d{8}-` + regexp.QuoteMeta(p.IdentifierSuffix) + `$`)
}

// Title formats the detail title for an issue date
func (p Profile) Title(issueDate time.Time) string {
	return issueDate.Format("2006年01月") + p.TitlePhrase
}

// TitlePattern matches any title of this profile
func (p Profile) TitlePattern() *regexp.Regexp {
	return regexp.MustCompile(`^\d{4}年\d{1,2}月` + regexp.QuoteMeta(p.TitlePhrase) + `$`)
}

// EndOfMonth returns the last day of the issue date's month
func EndOfMonth(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month()+1, 0, 0, 0, 0, 0, time.UTC)
}

var serialEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// DateSerial converts a date to the spreadsheet day serial
func DateSerial(d time.Time) int {
	day := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	return int(day.Sub(serialEpoch).Hours() / 24)
}

// SerialDate converts a spreadsheet day serial back to a date
func SerialDate(serial int) time.Time {
	return serialEpoch.AddDate(0, 0, serial)
}
