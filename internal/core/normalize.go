package core

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Date grammars recognised in text cells. Separators may be '/' or '-'; the
// time part is optional and missing fields default to zero.
var (
	dayFirstRe  = regexp.MustCompile(`^(\d{1,2})[/-](\d{1,2})[/-](\d{4})(?:[ T](\d{1,2}):(\d{1,2})(?::(\d{1,2}))?)?$`)
	yearFirstRe = regexp.MustCompile(`^(\d{4})[/-](\d{1,2})[/-](\d{1,2})(?:[ T](\d{1,2}):(\d{1,2})(?::(\d{1,2}))?)?$`)
	monthNameRe = regexp.MustCompile(`^(\d{1,2})[/-]([A-Za-z]{3})[/-](\d{2}|\d{4})(?:[ T](\d{1,2}):(\d{1,2})(?::(\d{1,2}))?)?$`)
)

// monthAbbrev covers English and Indonesian three-letter month names.
var monthAbbrev = map[string]time.Month{
	"jan": time.January,
	"feb": time.February,
	"mar": time.March,
	"apr": time.April,
	"may": time.May, "mei": time.May,
	"jun": time.June,
	"jul": time.July,
	"aug": time.August, "agu": time.August, "ags": time.August,
	"sep": time.September,
	"oct": time.October, "okt": time.October,
	"nov": time.November, "nop": time.November,
	"dec": time.December, "des": time.December,
}

// NormalizeValue converts a cell to the form written to the sink. Dates in
// any recognised form become canonical "YYYY-MM-DD HH:MM:SS" text, blank
// text becomes Empty, and everything else passes through unchanged.
func NormalizeValue(v Value) Value {
	switch v.Kind() {
	case KindEmpty:
		return v
	case KindDateTime:
		return TextValue(v.DateTime().Format(DateTimeLayout))
	case KindText:
		s := strings.TrimSpace(v.Text())
		if s == "" {
			return EmptyValue()
		}
		if t, ok := ParseDateText(s); ok {
			return TextValue(t.Format(DateTimeLayout))
		}
		return v
	default:
		return v
	}
}

// ParseDateText matches s against the day-first numeric, year-first numeric
// and day-month-name grammars, then RFC 3339. The returned time carries the
// text's wall-clock fields in UTC. Matches that do not name a real calendar
// date are rejected.
func ParseDateText(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	if m := dayFirstRe.FindStringSubmatch(s); m != nil {
		return civil(atoi(m[3]), atoi(m[2]), atoi(m[1]), m[4], m[5], m[6])
	}
	if m := yearFirstRe.FindStringSubmatch(s); m != nil {
		return civil(atoi(m[1]), atoi(m[2]), atoi(m[3]), m[4], m[5], m[6])
	}
	if m := monthNameRe.FindStringSubmatch(s); m != nil {
		month, ok := monthAbbrev[strings.ToLower(m[2])]
		if !ok {
			return time.Time{}, false
		}
		year := atoi(m[3])
		if len(m[3]) == 2 {
			year += 2000
		}
		return civil(year, int(month), atoi(m[1]), m[4], m[5], m[6])
	}

	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return wallClock(t), true
		}
	}
	return time.Time{}, false
}

func civil(year, month, day int, hh, mm, ss string) (time.Time, bool) {
	h, mi, sec := atoi(hh), atoi(mm), atoi(ss)
	if month < 1 || month > 12 || day < 1 || h > 23 || mi > 59 || sec > 59 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, h, mi, sec, 0, time.UTC)
	// time.Date normalizes Feb 31 into March; reject instead.
	if t.Day() != day || int(t.Month()) != month {
		return time.Time{}, false
	}
	return t, true
}

// wallClock drops the location while keeping the calendar fields.
func wallClock(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
}

func atoi(s string) int {
	if s == "" {
		return 0
	}
	n, _ := strconv.Atoi(s)
	return n
}

// NormalizeRow normalizes every cell and returns driver arguments in header
// order.
func NormalizeRow(row RawRow) []any {
	out := make([]any, row.Len())
	for i, v := range row.Values() {
		out[i] = NormalizeValue(v).SQLArg()
	}
	return out
}
