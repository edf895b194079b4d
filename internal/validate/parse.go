package validate

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/garyjia/order-transcriber/internal/profile"
)

var (
	amountDecoration = strings.NewReplacer(",", "", "，", "", "¥", "", "￥", "", "\\", "", "円", "", " ", "", "\u3000", "")
	amountPattern    = regexp.MustCompile(`^-?\d+(\.\d+)?$`)
)

// ParseAmount reads an amount as displayed by the engine. Separators, currency marks and
// the 円 suffix are dropped. ok is false for anything else, including error values such
// as #REF! and Err:502.
func ParseAmount(s string) (int64, bool) {
	cleaned := amountDecoration.Replace(strings.TrimSpace(s))
	if !amountPattern.MatchString(cleaned) {
		return 0, false
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return int64(f), true
}

// FormatYen renders an amount with thousands separators and the 円 suffix
func FormatYen(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := b.String() + "円"
	if neg {
		return "-" + out
	}
	return out
}

var (
	serialDate   = regexp.MustCompile(`^\d+$`)
	isoDate      = regexp.MustCompile(`^(\d{4})[/-](\d{1,2})[/-](\d{1,2})$`)
	isoDateTime  = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2}) \d{2}:\d{2}:\d{2}$`)
	usShortDate  = regexp.MustCompile(`^(\d{1,2})[/-](\d{1,2})[/-](\d{2})$`)
	japaneseDate = regexp.MustCompile(`^(\d{4})年(\d{1,2})月(\d{1,2})日$`)
)

// ParseDisplayedDate accepts the date encodings the engine's plain-value export produces
func ParseDisplayedDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if serialDate.MatchString(strings.ReplaceAll(s, ",", "")) {
		n, err := strconv.Atoi(strings.ReplaceAll(s, ",", ""))
		if err != nil {
			return time.Time{}, false
		}
		return profile.SerialDate(n), true
	}
	if m := isoDateTime.FindStringSubmatch(s); m != nil {
		return ymd(m[1], m[2], m[3])
	}
	if m := isoDate.FindStringSubmatch(s); m != nil {
		return ymd(m[1], m[2], m[3])
	}
	if m := japaneseDate.FindStringSubmatch(s); m != nil {
		return ymd(m[1], m[2], m[3])
	}
	if m := usShortDate.FindStringSubmatch(s); m != nil {
		return ymd("20"+m[3], m[1], m[2])
	}
	return time.Time{}, false
}

func ymd(y, m, d string) (time.Time, bool) {
	year, _ := strconv.Atoi(y)
	month, _ := strconv.Atoi(m)
	day, _ := strconv.Atoi(d)
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}
