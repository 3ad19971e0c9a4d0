package sink

import (
	"fmt"
	"strings"
)

// Dialect captures the small differences between backends that the shared
// statement builders care about.
type Dialect struct {
	// Quote quotes a single identifier.
	Quote func(string) string
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
	// MaxParams is the bind parameter limit per statement.
	MaxParams int
}

// QualifiedName renders a quoted, optionally namespaced table name.
func (d Dialect) QualifiedName(t TableRef) string {
	if t.Namespace == "" {
		return d.Quote(t.Name)
	}
	return d.Quote(t.Namespace) + "." + d.Quote(t.Name)
}

// ColumnList renders "(a, b, c)" with quoted identifiers.
func (d Dialect) ColumnList(columns []string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = d.Quote(c)
	}
	return "(" + strings.Join(quoted, ", ") + ")"
}

// ValuesList renders "(p1, p2), (p3, p4)" and the flattened argument slice.
// Placeholders are numbered from start.
func (d Dialect) ValuesList(rows [][]any, width, start int) (string, []any) {
	var b strings.Builder
	args := make([]any, 0, len(rows)*width)
	p := start
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := 0; j < width; j++ {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(d.Placeholder(p))
			p++
			var v any
			if j < len(row) {
				v = row[j]
			}
			args = append(args, v)
		}
		b.WriteString(")")
	}
	return b.String(), args
}

// RowsPerStatement returns how many rows of the given width fit under the
// dialect's parameter limit.
func (d Dialect) RowsPerStatement(width int) int {
	if width <= 0 {
		return 1
	}
	n := d.MaxParams / width
	if n < 1 {
		n = 1
	}
	return n
}

// Chunk splits rows into slices of at most size rows.
func Chunk(rows [][]any, size int) [][][]any {
	if size <= 0 {
		size = len(rows)
	}
	chunks := make([][][]any, 0, (len(rows)+size-1)/max(size, 1))
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		chunks = append(chunks, rows[start:end])
	}
	return chunks
}

// NonKeyColumns returns columns not listed in keys (case-insensitive).
func NonKeyColumns(columns, keys []string) []string {
	isKey := make(map[string]bool, len(keys))
	for _, k := range keys {
		isKey[strings.ToLower(k)] = true
	}
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		if !isKey[strings.ToLower(c)] {
			out = append(out, c)
		}
	}
	return out
}

// CheckRequest validates the shape of an insert request.
func CheckRequest(req InsertRequest) error {
	if err := req.Table.Validate(); err != nil {
		return err
	}
	if len(req.Columns) == 0 {
		return fmt.Errorf("insert into %s: no columns", req.Table)
	}
	for i, row := range req.Rows {
		if len(row) != len(req.Columns) {
			return fmt.Errorf("insert into %s: row %d has %d values, want %d", req.Table, i, len(row), len(req.Columns))
		}
	}
	cols := make(map[string]bool, len(req.Columns))
	for _, c := range req.Columns {
		cols[strings.ToLower(c)] = true
	}
	for _, k := range req.KeyColumns {
		if !cols[strings.ToLower(k)] {
			return fmt.Errorf("insert into %s: key column %q not in column list", req.Table, k)
		}
	}
	return nil
}

// CreateTableSQL renders a CREATE TABLE statement. typeName maps a parsed
// portable type to the backend's spelling. Primary key columns become a
// table-level constraint so composite keys work everywhere.
func (d Dialect) CreateTableSQL(t TableRef, columns []Column, typeName func(SQLType) string) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}
	if err := ValidateColumns(columns); err != nil {
		return "", err
	}

	defs := make([]string, 0, len(columns)+1)
	for _, c := range columns {
		st, _ := ParseSQLType(c.Type)
		def := d.Quote(c.Name) + " " + typeName(st)
		if c.PrimaryKey {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	if keys := PrimaryKeyColumns(columns); len(keys) > 0 {
		defs = append(defs, "PRIMARY KEY "+d.ColumnList(keys))
	}

	return "CREATE TABLE " + d.QualifiedName(t) + " (" + strings.Join(defs, ", ") + ")", nil
}
