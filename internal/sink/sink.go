// Package sink defines the relational destination that ingestion batches are
// written to, plus a registry of backend implementations.
//
// Each backend implements the same semantics in its own dialect (Postgres
// ON CONFLICT, MySQL ON DUPLICATE KEY UPDATE, SQLite OR IGNORE, SQL Server
// NOT EXISTS and MERGE).
// Backends register themselves from an init() function; the process selects
// one by kind at startup:
//
//	import _ "github.com/JonMunkholm/tableload/internal/sink/postgres"
//
//	s, err := sink.New(ctx, sink.Config{Kind: "postgres", DSN: dsn})
package sink

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrNoConflictKey is returned when a conflict policy needs key columns but
// none were supplied and the table has no primary key.
var ErrNoConflictKey = errors.New("conflict policy requires key columns")

// TableRef addresses a table, optionally qualified by a namespace.
// Namespace is a database on MySQL, a schema on Postgres and SQL Server, and
// an attached database on SQLite. Empty means the connection default.
type TableRef struct {
	Namespace string `json:"namespace,omitempty"`
	Name      string `json:"table"`
}

func (t TableRef) String() string {
	if t.Namespace == "" {
		return t.Name
	}
	return t.Namespace + "." + t.Name
}

// Validate reports whether the reference can be used to build a statement.
func (t TableRef) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return errors.New("table name is required")
	}
	if strings.ContainsRune(t.Name, 0) || strings.ContainsRune(t.Namespace, 0) {
		return errors.New("table reference contains NUL")
	}
	return nil
}

// ConflictPolicy controls what happens when an inserted row collides with an
// existing key.
type ConflictPolicy string

const (
	// ConflictIgnore silently skips colliding rows.
	ConflictIgnore ConflictPolicy = "ignore"
	// ConflictUpdate overwrites the non-key columns of the existing row.
	ConflictUpdate ConflictPolicy = "update"
	// ConflictError lets the collision fail the batch.
	ConflictError ConflictPolicy = "error"
)

// ParseConflictPolicy parses a policy name. Empty means ConflictIgnore.
func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	switch ConflictPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", ConflictIgnore:
		return ConflictIgnore, nil
	case ConflictUpdate:
		return ConflictUpdate, nil
	case ConflictError:
		return ConflictError, nil
	default:
		return "", fmt.Errorf("unknown conflict policy %q (want ignore, update or error)", s)
	}
}

// Column describes one column for CREATE TABLE. Type uses the portable
// vocabulary (see ParseSQLType); backends translate it to their dialect.
type Column struct {
	Name       string
	Type       string
	PrimaryKey bool
}

// InsertRequest is one batch write.
//
// Rows are positional and every row has len(Columns) values. Values are nil,
// int64, float64, string, or time.Time.
type InsertRequest struct {
	Table      TableRef
	Columns    []string
	Rows       [][]any
	KeyColumns []string
	Policy     ConflictPolicy
}

// Sink is a relational destination.
type Sink interface {
	// InsertRows writes one batch atomically and returns the number of rows the
	// database reports as affected.
	InsertRows(ctx context.Context, req InsertRequest) (int64, error)

	// CreateTable issues CREATE TABLE for the given column set.
	CreateTable(ctx context.Context, table TableRef, columns []Column) error

	// ListTables lists base tables in a namespace (empty for the default).
	ListTables(ctx context.Context, namespace string) ([]string, error)

	// PrimaryKey returns the table's primary key columns in key order.
	// A table without a primary key yields an empty slice.
	PrimaryKey(ctx context.Context, table TableRef) ([]string, error)

	// Classify maps a backend error to a failure kind.
	Classify(err error) FailureKind

	Ping(ctx context.Context) error
	Close() error
}

// Config is the minimal configuration needed to open a sink.
type Config struct {
	Kind string
	DSN  string

	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Factory opens a sink for a registered kind.
type Factory func(ctx context.Context, cfg Config) (Sink, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under kind. It panics on an empty kind,
// a nil factory, or a duplicate registration.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("sink: Register called with empty kind")
	}
	if f == nil {
		panic("sink: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("sink: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// New opens a sink using the factory registered for cfg.Kind.
func New(ctx context.Context, cfg Config) (Sink, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("sink: missing kind")
	}

	mu.RLock()
	f, ok := factories[cfg.Kind]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("sink: unsupported kind %q (registered: %s)", cfg.Kind, strings.Join(Kinds(), ", "))
	}
	return f(ctx, cfg)
}

// Kinds returns the registered backend kinds in sorted order.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	kinds := make([]string, 0, len(factories))
	for k := range factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
