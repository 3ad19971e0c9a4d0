package core

import (
	"encoding/json"
	"strconv"
	"time"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindEmpty Kind = iota
	KindInteger
	KindDecimal
	KindText
	KindDateTime
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindInteger:
		return "integer"
	case KindDecimal:
		return "decimal"
	case KindText:
		return "text"
	case KindDateTime:
		return "datetime"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is a single cell. The zero Value is Empty.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
	t    time.Time
}

func EmptyValue() Value            { return Value{} }
func IntegerValue(n int64) Value   { return Value{kind: KindInteger, i: n} }
func DecimalValue(f float64) Value { return Value{kind: KindDecimal, f: f} }
func TextValue(s string) Value     { return Value{kind: KindText, s: s} }

// DateTimeValue holds t's wall-clock fields; the location is ignored when
// the value is formatted.
func DateTimeValue(t time.Time) Value { return Value{kind: KindDateTime, t: t} }

func (v Value) Kind() Kind          { return v.kind }
func (v Value) IsEmpty() bool       { return v.kind == KindEmpty }
func (v Value) Int() int64          { return v.i }
func (v Value) Float() float64      { return v.f }
func (v Value) Text() string        { return v.s }
func (v Value) DateTime() time.Time { return v.t }

// DateTimeLayout is the canonical storage form for dates.
const DateTimeLayout = "2006-01-02 15:04:05"

// String renders the value the way it appeared (or would appear) as text.
func (v Value) String() string {
	switch v.kind {
	case KindInteger:
		return strconv.FormatInt(v.i, 10)
	case KindDecimal:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindText:
		return v.s
	case KindDateTime:
		return v.t.Format(DateTimeLayout)
	default:
		return ""
	}
}

// SQLArg returns the value as a driver argument: nil, int64, float64 or string.
func (v Value) SQLArg() any {
	switch v.kind {
	case KindInteger:
		return v.i
	case KindDecimal:
		return v.f
	case KindText:
		return v.s
	case KindDateTime:
		return v.t.Format(DateTimeLayout)
	default:
		return nil
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindEmpty:
		return []byte("null"), nil
	case KindInteger:
		return strconv.AppendInt(nil, v.i, 10), nil
	case KindDecimal:
		return json.Marshal(v.f)
	default:
		return json.Marshal(v.String())
	}
}
