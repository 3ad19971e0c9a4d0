package core

// convert.go turns raw cell text into typed values.
//
// These functions handle the messy reality of user-provided CSV data:
//   - Excel formula prefixes (="value")
//   - Stray quotes around exported cells
//   - Integer vs decimal vs scientific notation
//
// Text cells stay Text until inference or normalization asks what they look
// like; nothing here guesses at dates.

import (
	"regexp"
	"strconv"
	"strings"
)

// numericRegex validates that a string is a valid numeric format after cleanup.
// Matches integers, decimals, and scientific notation.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// integerRegex is the subset of numericRegex every SQL dialect accepts for
// an INTEGER column.
var integerRegex = regexp.MustCompile(`^[+-]?\d+$`)

// CleanCell removes common CSV artifacts from a cell value:
// - Trims whitespace
// - Removes Excel formula prefix (="...")
// - Removes surrounding quotes
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") && len(s) >= 3 {
		s = s[2 : len(s)-1]
	}

	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			s = s[1 : len(s)-1]
		}
	}
	return strings.TrimSpace(s)
}

// TextCell converts a delimited-text cell to a Value. Blank cells are Empty.
func TextCell(s string) Value {
	s = CleanCell(s)
	if s == "" {
		return EmptyValue()
	}
	return TextValue(s)
}

// looksInteger reports whether v is integral. Digit strings of any length
// qualify; inference routes long ones to VARCHAR.
func looksInteger(v Value) bool {
	switch v.Kind() {
	case KindInteger:
		return true
	case KindDecimal:
		f := v.Float()
		return f == float64(int64(f))
	case KindText:
		return integerRegex.MatchString(v.Text())
	}
	return false
}

// looksNumeric reports whether v is a number in any notation.
func looksNumeric(v Value) bool {
	switch v.Kind() {
	case KindInteger, KindDecimal:
		return true
	case KindText:
		return numericRegex.MatchString(v.Text())
	}
	return false
}

// parseNumber converts numeric text to an Integer or Decimal value.
func parseNumber(s string) (Value, bool) {
	if integerRegex.MatchString(s) {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return IntegerValue(n), true
		}
	}
	if !numericRegex.MatchString(s) {
		return Value{}, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Value{}, false
	}
	return DecimalValue(f), true
}
