package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/JonMunkholm/tableload/internal/sink"
	"github.com/jackc/pgx/v5/pgconn"
)

func request(policy sink.ConflictPolicy) sink.InsertRequest {
	return sink.InsertRequest{
		Table:      sink.TableRef{Namespace: "raw", Name: "items"},
		Columns:    []string{"sku", "qty"},
		Rows:       [][]any{{"A-1", int64(3)}, {"A-2", 1.5}},
		KeyColumns: []string{"sku"},
		Policy:     policy,
	}
}

func TestBuildInsertSQL(t *testing.T) {
	tests := []struct {
		policy sink.ConflictPolicy
		want   string
	}{
		{sink.ConflictIgnore, `INSERT INTO "raw"."items" ("sku", "qty") VALUES ($1, $2), ($3, $4) ON CONFLICT DO NOTHING`},
		{sink.ConflictUpdate, `INSERT INTO "raw"."items" ("sku", "qty") VALUES ($1, $2), ($3, $4) ON CONFLICT ("sku") DO UPDATE SET "qty" = EXCLUDED."qty"`},
		{sink.ConflictError, `INSERT INTO "raw"."items" ("sku", "qty") VALUES ($1, $2), ($3, $4)`},
	}

	for _, tt := range tests {
		req := request(tt.policy)
		got, args := buildInsertSQL(req, req.Rows)
		if got != tt.want {
			t.Errorf("buildInsertSQL(%s) =\n  %s\nwant\n  %s", tt.policy, got, tt.want)
		}
		if args[1] != "3" || args[3] != "1.5" {
			t.Errorf("buildInsertSQL(%s) args = %v, want numbers as text", tt.policy, args)
		}
	}
}

func TestTypeName(t *testing.T) {
	tests := map[string]string{
		"INTEGER":       "INTEGER",
		"DECIMAL(10,2)": "NUMERIC(10,2)",
		"VARCHAR(50)":   "VARCHAR(50)",
		"DATETIME":      "TIMESTAMP",
	}
	for in, want := range tests {
		st, err := sink.ParseSQLType(in)
		if err != nil {
			t.Fatalf("ParseSQLType(%q) error = %v", in, err)
		}
		if got := typeName(st); got != want {
			t.Errorf("typeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestClassify(t *testing.T) {
	s := &Sink{}
	tests := []struct {
		code string
		want sink.FailureKind
	}{
		{codeNumericOverflow, sink.FailureValueTooLarge},
		{codeStringTooLong, sink.FailureTextTooLong},
		{codeInvalidText, sink.FailureTypeMismatch},
		{codeUndefinedTable, sink.FailureNoSuchTable},
		{codeUndefinedColumn, sink.FailureNoSuchColumn},
		{codeUniqueViolation, sink.FailureDuplicateKey},
		{"XX000", sink.FailureGeneric},
	}

	for _, tt := range tests {
		err := fmt.Errorf("batch 2: %w", &pgconn.PgError{Code: tt.code, Message: "boom"})
		if got := s.Classify(err); got != tt.want {
			t.Errorf("Classify(%s) = %q, want %q", tt.code, got, tt.want)
		}
	}

	if got := s.Classify(errors.New("dial tcp 127.0.0.1:5432: connection refused")); got != sink.FailureConnection {
		t.Errorf("Classify(conn refused) = %q, want %q", got, sink.FailureConnection)
	}
}
