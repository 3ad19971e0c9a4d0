// Package sqlite implements sink.Sink on modernc.org/sqlite (pure Go, no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/tableload/internal/sink"

	sqlite "modernc.org/sqlite"
)

func init() {
	sink.Register("sqlite", Open)
}

// Primary result codes (extended codes carry these in the low byte).
const (
	codeTooBig     = 18
	codeConstraint = 19
	codeMismatch   = 20

	codeConstraintPrimaryKey = 1555
	codeConstraintUnique     = 2067
)

// SQLite's default SQLITE_MAX_VARIABLE_NUMBER since 3.32.
const maxParams = 32766

var dialect = sink.Dialect{
	Quote:       quoteIdent,
	Placeholder: func(int) string { return "?" },
	MaxParams:   maxParams,
}

// Sink writes to a SQLite database file.
type Sink struct {
	db *sql.DB
}

// Open opens the database at cfg.DSN (a file path or file: URI).
func Open(ctx context.Context, cfg sink.Config) (sink.Sink, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	// One writer at a time; also keeps :memory: databases on a single connection.
	db.SetMaxOpenConns(1)
	if cfg.MaxConnLifetime > 0 {
		db.SetConnMaxLifetime(cfg.MaxConnLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	return &Sink{db: db}, nil
}

func (s *Sink) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Sink) Close() error { return s.db.Close() }

// InsertRows writes the batch in one transaction.
//
// ConflictIgnore uses ON CONFLICT DO NOTHING and needs no key list. Unlike
// INSERT OR IGNORE it only skips uniqueness conflicts; NOT NULL and CHECK
// violations still fail the batch.
// ConflictUpdate uses ON CONFLICT (keys) DO UPDATE and needs one.
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var total int64
	for _, part := range sink.Chunk(req.Rows, dialect.RowsPerStatement(len(req.Columns))) {
		q, args := buildInsertSQL(req, part)
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
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(dialect.QualifiedName(req.Table))
	b.WriteString(" ")
	b.WriteString(dialect.ColumnList(req.Columns))
	b.WriteString(" VALUES ")

	values, args := dialect.ValuesList(rows, len(req.Columns), 1)
	b.WriteString(values)

	switch req.Policy {
	case sink.ConflictIgnore, "":
		b.WriteString(" ON CONFLICT DO NOTHING")
	case sink.ConflictUpdate:
		b.WriteString(" ON CONFLICT ")
		b.WriteString(dialect.ColumnList(req.KeyColumns))
		rest := sink.NonKeyColumns(req.Columns, req.KeyColumns)
		if len(rest) == 0 {
			b.WriteString(" DO NOTHING")
		} else {
			b.WriteString(" DO UPDATE SET ")
			for i, c := range rest {
				if i > 0 {
					b.WriteString(", ")
				}
				b.WriteString(quoteIdent(c))
				b.WriteString(" = excluded.")
				b.WriteString(quoteIdent(c))
			}
		}
	}
	return b.String(), args
}

// CreateTable creates the table. SQLite accepts the portable vocabulary
// as declared types and derives column affinity from them.
func (s *Sink) CreateTable(ctx context.Context, table sink.TableRef, columns []sink.Column) error {
	q, err := dialect.CreateTableSQL(table, columns, typeName)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("sqlite: create table %s: %w", table, err)
	}
	return nil
}

func typeName(t sink.SQLType) string {
	switch t.Base {
	case "INTEGER":
		return "INTEGER"
	case "DECIMAL":
		return fmt.Sprintf("DECIMAL(%d,%d)", t.Length, t.Precision)
	case "VARCHAR":
		return fmt.Sprintf("VARCHAR(%d)", t.Length)
	default:
		return "DATETIME"
	}
}

func (s *Sink) ListTables(ctx context.Context, namespace string) ([]string, error) {
	master := "sqlite_master"
	if namespace != "" {
		master = quoteIdent(namespace) + ".sqlite_master"
	}
	q := "SELECT name FROM " + master + " WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name"

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *Sink) PrimaryKey(ctx context.Context, table sink.TableRef) ([]string, error) {
	schema := table.Namespace
	if schema == "" {
		schema = "main"
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT name FROM pragma_table_info(?, ?) WHERE pk > 0 ORDER BY pk", table.Name, schema)
	if err != nil {
		return nil, fmt.Errorf("sqlite: primary key of %s: %w", table, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		keys = append(keys, name)
	}
	return keys, rows.Err()
}

// Classify maps SQLite result codes and messages to failure kinds.
func (s *Sink) Classify(err error) sink.FailureKind {
	var se *sqlite.Error
	if errors.As(err, &se) {
		msg := strings.ToLower(se.Error())
		switch se.Code() & 0xff {
		case codeTooBig:
			return sink.FailureTextTooLong
		case codeMismatch:
			return sink.FailureTypeMismatch
		case codeConstraint:
			if code := se.Code(); code == codeConstraintPrimaryKey || code == codeConstraintUnique {
				return sink.FailureDuplicateKey
			}
			return sink.FailureGeneric
		}
		switch {
		case strings.Contains(msg, "no such table"):
			return sink.FailureNoSuchTable
		case strings.Contains(msg, "has no column named"), strings.Contains(msg, "no such column"):
			return sink.FailureNoSuchColumn
		}
	}
	return sink.ClassifyCommon(err)
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
