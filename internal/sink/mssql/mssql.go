// Package mssql implements sink.Sink for Microsoft SQL Server.
//
// SQL Server has no INSERT ... ON CONFLICT. Ignore semantics use
// INSERT ... SELECT ... WHERE NOT EXISTS and update semantics use MERGE.
// Both require key columns; without them rows are inserted plainly.
package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/JonMunkholm/tableload/internal/sink"

	mssql "github.com/microsoft/go-mssqldb"
)

func init() {
	sink.Register("sqlserver", Open)
}

// Server error numbers the classifier understands.
const (
	errArithOverflow     = 8115
	errArithOverflowType = 220
	errTruncated         = 8152
	errTruncatedColumn   = 2628
	errInvalidObject     = 208
	errInvalidColumn     = 207
	errConversionFailed  = 245
	errConvertNumeric    = 8114
	errConvertDate       = 241
	errDupKey            = 2627
	errDupIndex          = 2601
)

// The hard limit is 2100 parameters; a table value constructor in INSERT
// also caps at 1000 rows.
const (
	maxParams       = 2000
	maxRowsPerValue = 1000
)

var dialect = sink.Dialect{
	Quote:       quoteIdent,
	Placeholder: func(n int) string { return "@p" + strconv.Itoa(n) },
	MaxParams:   maxParams,
}

// Sink writes to SQL Server through database/sql.
type Sink struct {
	db *sql.DB
}

// Open opens a "sqlserver" connection and verifies it with a ping.
func Open(ctx context.Context, cfg sink.Config) (sink.Sink, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("mssql: open: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 16
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	if cfg.MaxConnLifetime > 0 {
		db.SetConnMaxLifetime(cfg.MaxConnLifetime)
	}
	if cfg.MaxConnIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.MaxConnIdleTime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mssql: ping: %w", err)
	}
	return &Sink{db: db}, nil
}

func (s *Sink) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Sink) Close() error { return s.db.Close() }

// InsertRows writes the batch in one transaction, chunked under the
// parameter limit.
func (s *Sink) InsertRows(ctx context.Context, req sink.InsertRequest) (int64, error) {
	if err := sink.CheckRequest(req); err != nil {
		return 0, err
	}
	if len(req.Rows) == 0 {
		return 0, nil
	}
	if req.Policy == sink.ConflictUpdate && len(req.KeyColumns) == 0 {
		return 0, sink.ErrNoConflictKey
	}

	rows := req.Rows
	keyed := len(req.KeyColumns) > 0 && req.Policy != sink.ConflictError
	if keyed {
		// A single statement cannot both insert and match the same key, so
		// in-batch duplicates are collapsed first: ignore keeps the first
		// occurrence, update keeps the last.
		rows = dedupeByKey(req.Columns, req.KeyColumns, rows, req.Policy == sink.ConflictUpdate)
	}

	perStmt := min(dialect.RowsPerStatement(len(req.Columns)), maxRowsPerValue)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var total int64
	for _, part := range sink.Chunk(rows, perStmt) {
		var q string
		var args []any
		switch {
		case keyed && req.Policy == sink.ConflictUpdate:
			q, args = buildMergeSQL(req, part)
		case keyed:
			q, args = buildInsertNotExistsSQL(req, part)
		default:
			q, args = buildInsertSQL(req, part)
		}

		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return 0, err
		}
		n, _ := res.RowsAffected()
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return total, nil
}

func buildInsertSQL(req sink.InsertRequest, rows [][]any) (string, []any) {
	values, args := dialect.ValuesList(rows, len(req.Columns), 1)
	return "INSERT INTO " + dialect.QualifiedName(req.Table) + " " +
		dialect.ColumnList(req.Columns) + " VALUES " + values, args
}

func buildInsertNotExistsSQL(req sink.InsertRequest, rows [][]any) (string, []any) {
	cols := dialect.ColumnList(req.Columns)
	values, args := dialect.ValuesList(rows, len(req.Columns), 1)

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(dialect.QualifiedName(req.Table))
	b.WriteString(" ")
	b.WriteString(cols)
	b.WriteString(" SELECT ")
	b.WriteString(prefixed("src", req.Columns))
	b.WriteString(" FROM (VALUES ")
	b.WriteString(values)
	b.WriteString(") AS src ")
	b.WriteString(cols)
	b.WriteString(" WHERE NOT EXISTS (SELECT 1 FROM ")
	b.WriteString(dialect.QualifiedName(req.Table))
	b.WriteString(" AS tgt WITH (UPDLOCK, HOLDLOCK) WHERE ")
	b.WriteString(keyMatch(req.KeyColumns))
	b.WriteString(")")
	return b.String(), args
}

func buildMergeSQL(req sink.InsertRequest, rows [][]any) (string, []any) {
	cols := dialect.ColumnList(req.Columns)
	values, args := dialect.ValuesList(rows, len(req.Columns), 1)

	var b strings.Builder
	b.WriteString("MERGE INTO ")
	b.WriteString(dialect.QualifiedName(req.Table))
	b.WriteString(" WITH (HOLDLOCK) AS tgt USING (VALUES ")
	b.WriteString(values)
	b.WriteString(") AS src ")
	b.WriteString(cols)
	b.WriteString(" ON ")
	b.WriteString(keyMatch(req.KeyColumns))

	if rest := sink.NonKeyColumns(req.Columns, req.KeyColumns); len(rest) > 0 {
		b.WriteString(" WHEN MATCHED THEN UPDATE SET ")
		for i, c := range rest {
			if i > 0 {
				b.WriteString(", ")
			}
			q := quoteIdent(c)
			b.WriteString("tgt." + q + " = src." + q)
		}
	}
	b.WriteString(" WHEN NOT MATCHED THEN INSERT ")
	b.WriteString(cols)
	b.WriteString(" VALUES (")
	b.WriteString(prefixed("src", req.Columns))
	b.WriteString(");")
	return b.String(), args
}

func keyMatch(keys []string) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		q := quoteIdent(k)
		parts[i] = "tgt." + q + " = src." + q
	}
	return strings.Join(parts, " AND ")
}

func prefixed(alias string, columns []string) string {
	parts := make([]string, len(columns))
	for i, c := range columns {
		parts[i] = alias + "." + quoteIdent(c)
	}
	return strings.Join(parts, ", ")
}

func dedupeByKey(columns, keys []string, rows [][]any, keepLast bool) [][]any {
	pos := make(map[string]int, len(columns))
	for i, c := range columns {
		pos[strings.ToLower(c)] = i
	}
	idx := make([]int, len(keys))
	for i, k := range keys {
		idx[i] = pos[strings.ToLower(k)]
	}

	seen := make(map[string]int, len(rows))
	out := make([][]any, 0, len(rows))
	for _, row := range rows {
		var kb strings.Builder
		for _, i := range idx {
			fmt.Fprintf(&kb, "%v\x00", row[i])
		}
		k := kb.String()
		if at, ok := seen[k]; ok {
			if keepLast {
				out[at] = row
			}
			continue
		}
		seen[k] = len(out)
		out = append(out, row)
	}
	return out
}

func (s *Sink) CreateTable(ctx context.Context, table sink.TableRef, columns []sink.Column) error {
	q, err := dialect.CreateTableSQL(table, columns, typeName)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("mssql: create table %s: %w", table, err)
	}
	return nil
}

func typeName(t sink.SQLType) string {
	switch t.Base {
	case "INTEGER":
		return "INT"
	case "DECIMAL":
		return fmt.Sprintf("DECIMAL(%d,%d)", t.Length, t.Precision)
	case "VARCHAR":
		return fmt.Sprintf("NVARCHAR(%d)", t.Length)
	default:
		return "DATETIME2"
	}
}

func (s *Sink) ListTables(ctx context.Context, namespace string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT TABLE_NAME
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_TYPE = 'BASE TABLE'
		  AND TABLE_SCHEMA = COALESCE(NULLIF(@p1, ''), SCHEMA_NAME())
		ORDER BY TABLE_NAME`, namespace)
	if err != nil {
		return nil, fmt.Errorf("mssql: list tables: %w", err)
	}
	return scanStrings(rows)
}

func (s *Sink) PrimaryKey(ctx context.Context, table sink.TableRef) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.name
		FROM sys.indexes i
		JOIN sys.index_columns ic ON ic.object_id = i.object_id AND ic.index_id = i.index_id
		JOIN sys.columns c ON c.object_id = ic.object_id AND c.column_id = ic.column_id
		WHERE i.is_primary_key = 1 AND i.object_id = OBJECT_ID(@p1)
		ORDER BY ic.key_ordinal`, dialect.QualifiedName(table))
	if err != nil {
		return nil, fmt.Errorf("mssql: primary key of %s: %w", table, err)
	}
	return scanStrings(rows)
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Classify maps server error numbers to failure kinds.
func (s *Sink) Classify(err error) sink.FailureKind {
	var me mssql.Error
	if errors.As(err, &me) {
		switch me.Number {
		case errArithOverflow, errArithOverflowType:
			return sink.FailureValueTooLarge
		case errTruncated, errTruncatedColumn:
			return sink.FailureTextTooLong
		case errConversionFailed, errConvertNumeric, errConvertDate:
			return sink.FailureTypeMismatch
		case errInvalidObject:
			return sink.FailureNoSuchTable
		case errInvalidColumn:
			return sink.FailureNoSuchColumn
		case errDupKey, errDupIndex:
			return sink.FailureDuplicateKey
		}
	}
	return sink.ClassifyCommon(err)
}

func quoteIdent(s string) string {
	return "[" + strings.ReplaceAll(s, "]", "]]") + "]"
}
