package core

import (
	"bytes"
	"encoding/json"
	"time"
)

// ColumnDefinition is one inferred or caller-supplied destination column.
type ColumnDefinition struct {
	Name         string `json:"name"`
	SQLType      string `json:"sqlType"`
	IsPrimaryKey bool   `json:"isPrimaryKey"`
}

// RawRow is one data row keyed by the header cells, in header order.
// Lookups by header are positional, so duplicate headers stay addressable
// through At.
type RawRow struct {
	headers []string
	values  []Value
}

// NewRawRow pads values with Empty or truncates them to len(headers).
func NewRawRow(headers []string, values []Value) RawRow {
	out := make([]Value, len(headers))
	copy(out, values)
	return RawRow{headers: headers, values: out}
}

func (r RawRow) Len() int          { return len(r.values) }
func (r RawRow) At(i int) Value    { return r.values[i] }
func (r RawRow) Headers() []string { return r.headers }
func (r RawRow) Values() []Value   { return r.values }

// Get returns the value under the first header equal to h.
func (r RawRow) Get(h string) (Value, bool) {
	for i, name := range r.headers {
		if name == h {
			return r.values[i], true
		}
	}
	return Value{}, false
}

// MarshalJSON writes an object whose keys keep header order. Later duplicate
// headers are skipped.
func (r RawRow) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	seen := make(map[string]bool, len(r.headers))
	first := true
	for i, h := range r.headers {
		if seen[h] {
			continue
		}
		seen[h] = true
		if !first {
			buf.WriteByte(',')
		}
		first = false

		k, err := json.Marshal(h)
		if err != nil {
			return nil, err
		}
		v, err := r.values[i].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// IngestResult counts what one load did.
//
// RowsWritten is the affected-row count the sink reports. Under the ignore and
// error policies that is rows inserted. Under the update policy it also counts
// rows that overwrote an existing row, and MySQL counts each such row twice.
type IngestResult struct {
	RowsProcessed int64 `json:"rowsProcessed"`
	RowsWritten   int64 `json:"rowsWritten"`
	Batches       int   `json:"batches"`
}

// AnalysisResult is the outcome of Analyze.
type AnalysisResult struct {
	Format      Format             `json:"format"`
	Headers     []string           `json:"headers"`
	Columns     []ColumnDefinition `json:"columns"`
	PreviewRows []RawRow           `json:"previewRows"`
}

// UploadedFile is a file spooled to local disk by the transport. The core
// owns Path once it is handed over and deletes it when done.
type UploadedFile struct {
	Path   string
	Name   string
	Size   int64
	Format Format
}

// UploadResult is the final state of an async upload.
type UploadResult struct {
	UploadID string        `json:"uploadId"`
	Table    string        `json:"table"`
	FileName string        `json:"fileName"`
	Phase    UploadPhase   `json:"phase"`
	Result   IngestResult  `json:"result"`
	Error    string        `json:"error,omitempty"`
	Code     string        `json:"code,omitempty"`
	Duration time.Duration `json:"durationNs"`
}
