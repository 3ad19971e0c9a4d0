package core

import (
	"reflect"
	"regexp"
	"testing"
	"time"
)

func rowsOf(headers []string, cells ...[]Value) []RawRow {
	rows := make([]RawRow, len(cells))
	for i, c := range cells {
		rows[i] = NewRawRow(headers, c)
	}
	return rows
}

func texts(ss ...string) []Value {
	out := make([]Value, len(ss))
	for i, s := range ss {
		out[i] = TextCell(s)
	}
	return out
}

func TestInferSchema_Types(t *testing.T) {
	tests := []struct {
		name   string
		values []string
		want   string
	}{
		{name: "small integers", values: []string{"1", "22", "-3"}, want: "INTEGER"},
		{name: "phone numbers", values: []string{"628123456789"}, want: "VARCHAR(50)"},
		{name: "nine digits stays integer", values: []string{"123456789"}, want: "INTEGER"},
		{name: "ten digits", values: []string{"1", "1234567890"}, want: "VARCHAR(50)"},
		{name: "decimals", values: []string{"1.5", "2", ".25"}, want: "DECIMAL(10,2)"},
		{name: "scientific", values: []string{"1e3", "2.5E-2"}, want: "DECIMAL(10,2)"},
		{name: "dates", values: []string{"31/12/2024", "2024-01-05 10:00", "1-Jan-24"}, want: "DATETIME"},
		{name: "mixed", values: []string{"1", "abc"}, want: "VARCHAR(255)"},
		{name: "date and number", values: []string{"2024-01-01", "5"}, want: "VARCHAR(255)"},
		{name: "all empty", values: []string{"", " ", ""}, want: "VARCHAR(255)"},
		{name: "empties skipped", values: []string{"", "7", ""}, want: "INTEGER"},
		{name: "integral decimal text", values: []string{"12.0"}, want: "DECIMAL(10,2)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := []string{"col"}
			var sample []RawRow
			for _, v := range tt.values {
				sample = append(sample, NewRawRow(headers, texts(v)))
			}
			got := InferSchema(headers, sample)
			if len(got) != 1 {
				t.Fatalf("len = %d, want 1", len(got))
			}
			if got[0].SQLType != tt.want {
				t.Errorf("SQLType = %q, want %q", got[0].SQLType, tt.want)
			}
		})
	}
}

func TestInferSchema_NativeValues(t *testing.T) {
	headers := []string{"n", "d", "when"}
	sample := rowsOf(headers,
		[]Value{IntegerValue(5), DecimalValue(2.5), DateTimeValue(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))},
		[]Value{DecimalValue(6), IntegerValue(1), DateTimeValue(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))},
	)
	got := InferSchema(headers, sample)
	want := []string{"INTEGER", "DECIMAL(10,2)", "DATETIME"}
	for i, w := range want {
		if got[i].SQLType != w {
			t.Errorf("column %s = %q, want %q", headers[i], got[i].SQLType, w)
		}
	}
}

func TestInferSchema_ColumnCountAndNames(t *testing.T) {
	headers := []string{"Customer ID", "  Name ", "Unit Price ($)", "", "name", "Tgl. Kirim"}
	got := InferSchema(headers, nil)

	if len(got) != len(headers) {
		t.Fatalf("len = %d, want %d", len(got), len(headers))
	}
	nameRe := regexp.MustCompile(`^[a-z0-9_]+$`)
	wantNames := []string{"customer_id", "name", "unit_price_", "column_4", "name_2", "tgl_kirim"}
	for i, c := range got {
		if !nameRe.MatchString(c.Name) {
			t.Errorf("column %d name %q not normalized", i, c.Name)
		}
		if c.Name != wantNames[i] {
			t.Errorf("column %d name = %q, want %q", i, c.Name, wantNames[i])
		}
		if c.SQLType != "VARCHAR(255)" {
			t.Errorf("column %d with no sample = %q, want VARCHAR(255)", i, c.SQLType)
		}
	}
}

func TestInferSchema_Deterministic(t *testing.T) {
	headers := []string{"sku", "qty", "price", "shipped"}
	sample := rowsOf(headers,
		texts("A-1", "3", "9.50", "31/12/2024"),
		texts("A-2", "", "10", "2025-01-01"),
	)
	first := InferSchema(headers, sample)
	second := InferSchema(headers, sample)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("InferSchema not deterministic:\n%v\n%v", first, second)
	}
}

func TestIsPrimaryKeyCandidate(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"id", true},
		{"customer_id", true},
		{"sku", true},
		{"product_code", true},
		{"invoice_no", true},
		{"NOTE", true}, // substring match
		{"price", false},
		{"qty", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsPrimaryKeyCandidate(tt.name); got != tt.want {
			t.Errorf("IsPrimaryKeyCandidate(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestNormalizeColumnName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Customer ID", "customer_id"},
		{"  padded  ", "padded"},
		{"a--b", "a_b"},
		{"already_ok_1", "already_ok_1"},
		{"Harga (Rp)", "harga_rp_"},
		{"café", "caf_"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeColumnName(tt.in); got != tt.want {
			t.Errorf("NormalizeColumnName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
