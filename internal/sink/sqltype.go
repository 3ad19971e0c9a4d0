package sink

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Portable column type vocabulary shared with schema inference.
const (
	TypeInteger  = "INTEGER"
	TypeDecimal  = "DECIMAL(10,2)"
	TypeDateTime = "DATETIME"
	TypeVarchar  = "VARCHAR(255)"
	TypeLongKey  = "VARCHAR(50)"
)

// SQLType is a parsed portable type.
type SQLType struct {
	Base      string // INTEGER, DECIMAL, VARCHAR, DATETIME
	Length    int    // VARCHAR length or DECIMAL precision
	Precision int    // DECIMAL scale
}

var sqlTypeRe = regexp.MustCompile(`^\s*([A-Za-z]+)\s*(?:\(\s*(\d+)\s*(?:,\s*(\d+)\s*)?\))?\s*$`)

// ParseSQLType parses the portable vocabulary. INT is accepted as an alias of
// INTEGER and DATE/TIMESTAMP as aliases of DATETIME.
func ParseSQLType(s string) (SQLType, error) {
	m := sqlTypeRe.FindStringSubmatch(s)
	if m == nil {
		return SQLType{}, fmt.Errorf("invalid column type %q", s)
	}

	base := strings.ToUpper(m[1])
	var length, scale int
	if m[2] != "" {
		length, _ = strconv.Atoi(m[2])
	}
	if m[3] != "" {
		scale, _ = strconv.Atoi(m[3])
	}

	switch base {
	case "INT", "INTEGER":
		return SQLType{Base: "INTEGER"}, nil
	case "DECIMAL", "NUMERIC":
		if length == 0 {
			length, scale = 10, 2
		}
		if scale > length {
			return SQLType{}, fmt.Errorf("invalid column type %q: scale exceeds precision", s)
		}
		return SQLType{Base: "DECIMAL", Length: length, Precision: scale}, nil
	case "VARCHAR":
		if length <= 0 {
			length = 255
		}
		return SQLType{Base: "VARCHAR", Length: length}, nil
	case "DATETIME", "DATE", "TIMESTAMP":
		return SQLType{Base: "DATETIME"}, nil
	default:
		return SQLType{}, fmt.Errorf("unsupported column type %q", s)
	}
}

// ValidateColumns checks a CREATE TABLE column set.
func ValidateColumns(columns []Column) error {
	if len(columns) == 0 {
		return fmt.Errorf("at least one column is required")
	}
	seen := make(map[string]bool, len(columns))
	for _, c := range columns {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("column name is required")
		}
		key := strings.ToLower(c.Name)
		if seen[key] {
			return fmt.Errorf("duplicate column %q", c.Name)
		}
		seen[key] = true
		if _, err := ParseSQLType(c.Type); err != nil {
			return err
		}
	}
	return nil
}

// PrimaryKeyColumns returns the names of columns flagged as primary key.
func PrimaryKeyColumns(columns []Column) []string {
	var keys []string
	for _, c := range columns {
		if c.PrimaryKey {
			keys = append(keys, c.Name)
		}
	}
	return keys
}
