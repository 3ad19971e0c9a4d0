// Package postgres implements sink.Sink on a pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/JonMunkholm/tableload/internal/sink"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

func init() {
	sink.Register("postgres", Open)
}

// SQLSTATE codes the classifier understands.
const (
	codeStringTooLong   = "22001"
	codeNumericOverflow = "22003"
	codeDatetimeFormat  = "22007"
	codeDatetimeRange   = "22008"
	codeInvalidText     = "22P02"
	codeUniqueViolation = "23505"
	codeUndefinedColumn = "42703"
	codeUndefinedTable  = "42P01"
	codeInvalidSchema   = "3F000"
)

var dialect = sink.Dialect{
	Quote:       quoteIdent,
	Placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	MaxParams:   65535,
}

// Sink writes to PostgreSQL.
type Sink struct {
	pool *pgxpool.Pool
}

// Open parses cfg.DSN, applies pool sizing and verifies connectivity.
func Open(ctx context.Context, cfg sink.Config) (sink.Sink, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse DSN: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Sink{pool: pool}, nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Sink {
	return &Sink{pool: pool}
}

func (s *Sink) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Sink) Close() error {
	s.pool.Close()
	return nil
}

// InsertRows writes the batch in one transaction. Values are sent in text
// format so the server coerces them to each column's declared type.
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

	var total int64
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, part := range sink.Chunk(req.Rows, dialect.RowsPerStatement(len(req.Columns))) {
			q, args := buildInsertSQL(req, part)
			tag, err := tx.Exec(ctx, q, args...)
			if err != nil {
				return err
			}
			total += tag.RowsAffected()
		}
		return nil
	})
	if err != nil {
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
	for i, a := range args {
		args[i] = textArg(a)
	}

	switch req.Policy {
	case sink.ConflictUpdate:
		b.WriteString(" ON CONFLICT ")
		b.WriteString(dialect.ColumnList(req.KeyColumns))
		rest := sink.NonKeyColumns(req.Columns, req.KeyColumns)
		if len(rest) == 0 {
			b.WriteString(" DO NOTHING")
			break
		}
		b.WriteString(" DO UPDATE SET ")
		for i, c := range rest {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(quoteIdent(c))
			b.WriteString(" = EXCLUDED.")
			b.WriteString(quoteIdent(c))
		}
	case sink.ConflictError:
	default:
		// No conflict target: any unique constraint counts as a collision.
		b.WriteString(" ON CONFLICT DO NOTHING")
	}
	return b.String(), args
}

// textArg renders numbers as text so INTEGER, NUMERIC and VARCHAR columns all
// accept them without client-side type planning.
func textArg(v any) any {
	switch x := v.(type) {
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return v
	}
}

func (s *Sink) CreateTable(ctx context.Context, table sink.TableRef, columns []sink.Column) error {
	q, err := dialect.CreateTableSQL(table, columns, typeName)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("postgres: create table %s: %w", table, err)
	}
	return nil
}

func typeName(t sink.SQLType) string {
	switch t.Base {
	case "INTEGER":
		return "INTEGER"
	case "DECIMAL":
		return fmt.Sprintf("NUMERIC(%d,%d)", t.Length, t.Precision)
	case "VARCHAR":
		return fmt.Sprintf("VARCHAR(%d)", t.Length)
	default:
		return "TIMESTAMP"
	}
}

func (s *Sink) ListTables(ctx context.Context, namespace string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = COALESCE(NULLIF($1, ''), current_schema())
		  AND table_type = 'BASE TABLE'
		ORDER BY table_name`, namespace)
	if err != nil {
		return nil, fmt.Errorf("postgres: list tables: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: list tables: %w", err)
	}
	return names, nil
}

func (s *Sink) PrimaryKey(ctx context.Context, table sink.TableRef) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT a.attname
		FROM pg_index i
		JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
		WHERE i.indrelid = $1::regclass AND i.indisprimary
		ORDER BY array_position(i.indkey::int2[], a.attnum)`, dialect.QualifiedName(table))
	if err != nil {
		return nil, fmt.Errorf("postgres: primary key of %s: %w", table, err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: primary key of %s: %w", table, err)
	}
	return keys, nil
}

// Classify maps SQLSTATE codes to failure kinds.
func (s *Sink) Classify(err error) sink.FailureKind {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeNumericOverflow, codeDatetimeRange:
			return sink.FailureValueTooLarge
		case codeStringTooLong:
			return sink.FailureTextTooLong
		case codeInvalidText, codeDatetimeFormat:
			return sink.FailureTypeMismatch
		case codeUndefinedTable, codeInvalidSchema:
			return sink.FailureNoSuchTable
		case codeUndefinedColumn:
			return sink.FailureNoSuchColumn
		case codeUniqueViolation:
			return sink.FailureDuplicateKey
		}
	}
	return sink.ClassifyCommon(err)
}

func quoteIdent(s string) string {
	return pgx.Identifier{s}.Sanitize()
}
