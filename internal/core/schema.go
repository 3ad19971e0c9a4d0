package core

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/JonMunkholm/tableload/internal/sink"
)

// DefaultSampleSize is how many data rows Analyze reads for inference.
const DefaultSampleSize = 5

// longKeyDigits is the longest all-digit value still inferred as INTEGER.
// Anything longer is likely a phone number or account id.
const longKeyDigits = 9

var (
	nonIdentRe = regexp.MustCompile(`[^a-z0-9_]+`)
	pkNameRe   = regexp.MustCompile(`(?i)id|sku|code|no`)
)

// InferSchema proposes one column per header from a small sample of rows.
// It is pure: the same inputs always give the same definitions.
func InferSchema(headers []string, sample []RawRow) []ColumnDefinition {
	names := NormalizeColumnNames(headers)
	cols := make([]ColumnDefinition, len(headers))
	for i := range headers {
		cols[i] = ColumnDefinition{
			Name:         names[i],
			SQLType:      inferColumnType(sample, i),
			IsPrimaryKey: IsPrimaryKeyCandidate(names[i]),
		}
	}
	return cols
}

func inferColumnType(sample []RawRow, col int) string {
	isInteger, isDecimal, isDate := true, true, true
	seen := false
	longest := 0

	for _, row := range sample {
		if col >= row.Len() {
			continue
		}
		v := row.At(col)
		if v.Kind() == KindText && strings.TrimSpace(v.Text()) == "" {
			continue
		}
		if v.IsEmpty() {
			continue
		}
		seen = true

		if n := utf8.RuneCountInString(v.String()); n > longest {
			longest = n
		}

		if !looksNumeric(v) {
			isInteger, isDecimal = false, false
		} else if !looksInteger(v) {
			isInteger = false
		}
		if !looksDate(v) {
			isDate = false
		}
	}

	switch {
	case !seen:
		return sink.TypeVarchar
	case isInteger && longest > longKeyDigits:
		return sink.TypeLongKey
	case isInteger:
		return sink.TypeInteger
	case isDecimal:
		return sink.TypeDecimal
	case isDate:
		return sink.TypeDateTime
	default:
		return sink.TypeVarchar
	}
}

func looksDate(v Value) bool {
	switch v.Kind() {
	case KindDateTime:
		return true
	case KindText:
		_, ok := ParseDateText(v.Text())
		return ok
	}
	return false
}

// NormalizeColumnName lower-cases a header and collapses every run of
// characters outside [a-z0-9_] into one underscore.
func NormalizeColumnName(h string) string {
	return nonIdentRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(h)), "_")
}

// NormalizeColumnNames normalizes a header row. Empty results become
// column_<n> (1-based) and repeats get a _2, _3... suffix.
func NormalizeColumnNames(headers []string) []string {
	out := make([]string, len(headers))
	used := make(map[string]bool, len(headers))
	for i, h := range headers {
		name := NormalizeColumnName(h)
		if name == "" || name == "_" {
			name = "column_" + strconv.Itoa(i+1)
		}
		base := name
		for n := 2; used[name]; n++ {
			name = base + "_" + strconv.Itoa(n)
		}
		used[name] = true
		out[i] = name
	}
	return out
}

// IsPrimaryKeyCandidate flags names that look like identifiers. Advisory:
// several columns may match.
func IsPrimaryKeyCandidate(name string) bool {
	return pkNameRe.MatchString(name)
}
