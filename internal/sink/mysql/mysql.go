// Package mysql implements sink.Sink on go-sql-driver/mysql.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JonMunkholm/tableload/internal/sink"

	"github.com/go-sql-driver/mysql"
)

func init() {
	sink.Register("mysql", Open)
}

// Server error numbers the classifier understands.
const (
	errDupEntry          = 1062
	errUnknownColumn     = 1054
	errUnknownDatabase   = 1049
	errNoSuchTable       = 1146
	errOutOfRange        = 1264
	errTruncatedWrong    = 1292
	errIncorrectValue    = 1366
	errDataTooLong       = 1406
	errWarnDataTruncated = 1265
)

var dialect = sink.Dialect{
	Quote:       quoteIdent,
	Placeholder: func(int) string { return "?" },
	MaxParams:   65535,
}

// Sink writes to MySQL or MariaDB.
type Sink struct {
	db *sql.DB
}

// Open parses cfg.DSN with the driver's own parser so options such as
// parseTime and charset pass through untouched.
func Open(ctx context.Context, cfg sink.Config) (sink.Sink, error) {
	dsnCfg, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("mysql: parse DSN: %w", err)
	}
	if dsnCfg.Params == nil {
		dsnCfg.Params = map[string]string{}
	}
	if _, ok := dsnCfg.Params["charset"]; !ok {
		dsnCfg.Params["charset"] = "utf8mb4"
	}

	connector, err := mysql.NewConnector(dsnCfg)
	if err != nil {
		return nil, fmt.Errorf("mysql: connector: %w", err)
	}
	db := sql.OpenDB(connector)

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 10
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(max(cfg.MinConns, 2))
	lifetime := cfg.MaxConnLifetime
	if lifetime <= 0 {
		lifetime = 30 * time.Minute
	}
	db.SetConnMaxLifetime(lifetime)
	if cfg.MaxConnIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.MaxConnIdleTime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mysql: ping: %w", err)
	}
	return &Sink{db: db}, nil
}

func (s *Sink) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Sink) Close() error { return s.db.Close() }

// InsertRows writes the batch in one transaction.
//
// ConflictIgnore is a no-op ON DUPLICATE KEY UPDATE rather than INSERT IGNORE:
// INSERT IGNORE also downgrades out-of-range and truncation errors to
// warnings, which would silently corrupt data.
func (s *Sink) InsertRows(ctx context.Context, req sink.InsertRequest) (int64, error) {
	if err := sink.CheckRequest(req); err != nil {
		return 0, err
	}
	if len(req.Rows) == 0 {
		return 0, nil
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
	case sink.ConflictError:
	case sink.ConflictUpdate:
		rest := sink.NonKeyColumns(req.Columns, req.KeyColumns)
		if len(rest) == 0 {
			rest = req.Columns[:1]
		}
		b.WriteString(" ON DUPLICATE KEY UPDATE ")
		for i, c := range rest {
			if i > 0 {
				b.WriteString(", ")
			}
			q := quoteIdent(c)
			b.WriteString(q + " = VALUES(" + q + ")")
		}
	default:
		col := req.Columns[0]
		if len(req.KeyColumns) > 0 {
			col = req.KeyColumns[0]
		}
		q := quoteIdent(col)
		b.WriteString(" ON DUPLICATE KEY UPDATE " + q + " = " + q)
	}
	return b.String(), args
}

func (s *Sink) CreateTable(ctx context.Context, table sink.TableRef, columns []sink.Column) error {
	q, err := dialect.CreateTableSQL(table, columns, typeName)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("mysql: create table %s: %w", table, err)
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
		return fmt.Sprintf("VARCHAR(%d)", t.Length)
	default:
		return "DATETIME"
	}
}

func (s *Sink) ListTables(ctx context.Context, namespace string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT TABLE_NAME
		FROM information_schema.TABLES
		WHERE TABLE_SCHEMA = COALESCE(NULLIF(?, ''), DATABASE())
		  AND TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME`, namespace)
	if err != nil {
		return nil, fmt.Errorf("mysql: list tables: %w", err)
	}
	return scanStrings(rows)
}

func (s *Sink) PrimaryKey(ctx context.Context, table sink.TableRef) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT COLUMN_NAME
		FROM information_schema.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = COALESCE(NULLIF(?, ''), DATABASE())
		  AND TABLE_NAME = ?
		  AND CONSTRAINT_NAME = 'PRIMARY'
		ORDER BY ORDINAL_POSITION`, table.Namespace, table.Name)
	if err != nil {
		return nil, fmt.Errorf("mysql: primary key of %s: %w", table, err)
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
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case errOutOfRange:
			return sink.FailureValueTooLarge
		case errDataTooLong, errWarnDataTruncated:
			return sink.FailureTextTooLong
		case errIncorrectValue, errTruncatedWrong:
			return sink.FailureTypeMismatch
		case errNoSuchTable, errUnknownDatabase:
			return sink.FailureNoSuchTable
		case errUnknownColumn:
			return sink.FailureNoSuchColumn
		case errDupEntry:
			return sink.FailureDuplicateKey
		}
	}
	if errors.Is(err, mysql.ErrInvalidConn) {
		return sink.FailureConnection
	}
	return sink.ClassifyCommon(err)
}

func quoteIdent(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "``") + "`"
}
