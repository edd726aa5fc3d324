// Package parse turns the text of rendered billing cells into typed values.
// Every function is pure; none of them touches the browser.
package parse

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xkilldash9x/kepco-scraper/api/schemas"
	"github.com/xkilldash9x/kepco-scraper/internal/faults"
)

var (
	// 2023.05 | 2023-05 | 2023/05 | 2023년 05월
	yearMonthRe = regexp.MustCompile(`^(\d{4})\s*[./년-]\s*(\d{1,2})\s*월?\.?$`)
	// 2023.05.01 | 2023-05-01 | 2023/05/01 | 2023년 05월 01일
	fullDateRe  = regexp.MustCompile(`^(\d{4})\s*[./년-]\s*(\d{1,2})\s*[./월-]\s*(\d{1,2})\s*일?\.?$`)
	// 12345 | -12345
	amountRe    = regexp.MustCompile(`^[+-]?\d+$`)
)

const (
	currencySuffix = "원"
	usageUnit      = "kwh"
	paymentSep     = "/"
)

// ParseDate accepts a year-month string, whose day defaults to the 1st, or a
// full year.month.day string. Separators may be '.', '-', '/' or the Korean
// 년/월/일 markers.
func ParseDate(s string) (schemas.Date, error) {
	s = strings.TrimSpace(s)

	if m := fullDateRe.FindStringSubmatch(s); m != nil {
		return buildDate(s, m[1], m[2], m[3])
	}
	if m := yearMonthRe.FindStringSubmatch(s); m != nil {
		return buildDate(s, m[1], m[2], "1")
	}
	return schemas.Date{}, faults.Newf(faults.DateParseError, "parse.date", "unrecognised date %q", s)
}

func buildDate(raw, ys, ms, ds string) (schemas.Date, error) {
	y, _ := strconv.Atoi(ys)
	m, _ := strconv.Atoi(ms)
	d, _ := strconv.Atoi(ds)
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	// time.Date normalises 2023-02-30 into March; reject instead.
	if t.Year() != y || int(t.Month()) != m || t.Day() != d {
		return schemas.Date{}, faults.Newf(faults.DateParseError, "parse.date", "date %q out of range", raw)
	}
	return schemas.DateOf(t), nil
}

// ParseDateRange splits s into a start and an end date. Each side is parsed on
// its own; a side that does not parse is nil.
func ParseDateRange(s string) (start, end *schemas.Date) {
	left, right, found := splitRange(strings.TrimSpace(s))
	start = optionalDate(left)
	if found {
		end = optionalDate(right)
	}
	return start, end
}

func splitRange(s string) (string, string, bool) {
	for _, sep := range []string{"~", " - "} {
		if l, r, ok := strings.Cut(s, sep); ok {
			return l, r, true
		}
	}
	switch strings.Count(s, "-") {
	case 1:
		return strings.Cut(s, "-")
	case 5:
		// Both sides are dash-separated dates; split at the third dash.
		idx := 0
		for i := 0; i < 3; i++ {
			idx += strings.Index(s[idx:], "-") + 1
		}
		return s[:idx-1], s[idx:], true
	}
	return s, "", false
}

func optionalDate(s string) *schemas.Date {
	d, err := ParseDate(s)
	if err != nil {
		return nil
	}
	return d.Ptr()
}

// ParseUsage strips thousands separators and a kWh suffix and returns the
// consumption as a non-negative number.
func ParseUsage(s string) (float64, error) {
	raw := s
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if strings.HasSuffix(strings.ToLower(s), usageUnit) {
		s = s[:len(s)-len(usageUnit)]
	}
	s = strings.TrimSpace(s)

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, faults.New(faults.UsageParseError, "parse.usage", err)
	}
	if d.IsNegative() {
		return 0, faults.Newf(faults.UsageParseError, "parse.usage", "negative usage %q", raw)
	}
	f, _ := d.Float64()
	return f, nil
}

// ParseAmount truncates at the currency suffix, strips separators and returns
// the amount as a whole number.
func ParseAmount(s string) (int64, error) {
	raw := s
	s, _, _ = strings.Cut(s, currencySuffix)
	s = strings.NewReplacer(",", "", ".", "", " ", "").Replace(strings.TrimSpace(s))

	if !amountRe.MatchString(s) {
		return 0, faults.Newf(faults.AmountParseError, "parse.amount", "amount %q is not a whole number", raw)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, faults.New(faults.AmountParseError, "parse.amount", err)
	}
	return n, nil
}

// ParsePaymentMethodAndDate splits "METHOD/DATE". The method is nil when
// blank; the date is nil when absent or unparseable.
func ParsePaymentMethodAndDate(s string) (method *string, date *schemas.Date) {
	head, tail, hasDate := strings.Cut(strings.TrimSpace(s), paymentSep)
	if head = strings.TrimSpace(head); head != "" {
		method = &head
	}
	if hasDate {
		date = optionalDate(tail)
	}
	return method, date
}
