// Package rowset holds the normalized in-memory form of tabular data that
// flows from a format adapter to exactly one writer.
package rowset

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// FieldType is the logical type of a column.
type FieldType int

const (
	String FieldType = iota
	Int
	Float
	Bool
)

func (t FieldType) String() string {
	switch t {
	case Int:
		return "int"
	case Float:
		return "float"
	case Bool:
		return "bool"
	}
	return "string"
}

// Field describes one column.
type Field struct {
	Name string
	Type FieldType
}

// RowSet is an ordered, schema-tagged collection of records. It is
// immutable once built: accessors hand out copies.
type RowSet struct {
	schema []Field
	rows   [][]interface{}
}

// New builds a RowSet. Every row must have one value per field and each
// value must be nil or match the field type (string, int64, float64, bool).
func New(schema []Field, rows [][]interface{}) (*RowSet, error) {
	if len(schema) == 0 {
		return nil, errors.New("rowset: empty schema")
	}
	seen := make(map[string]struct{}, len(schema))
	for _, f := range schema {
		if f.Name == "" {
			return nil, errors.New("rowset: empty field name")
		}
		if _, ok := seen[f.Name]; ok {
			return nil, fmt.Errorf("rowset: duplicate field %q", f.Name)
		}
		seen[f.Name] = struct{}{}
	}
	out := make([][]interface{}, len(rows))
	for i, row := range rows {
		if len(row) != len(schema) {
			return nil, fmt.Errorf("rowset: row %d has %d values, want %d", i, len(row), len(schema))
		}
		for j, v := range row {
			if !typeMatches(schema[j].Type, v) {
				return nil, fmt.Errorf("rowset: row %d field %q: %T is not %s", i, schema[j].Name, v, schema[j].Type)
			}
		}
		out[i] = append([]interface{}(nil), row...)
	}
	return &RowSet{schema: append([]Field(nil), schema...), rows: out}, nil
}

func typeMatches(t FieldType, v interface{}) bool {
	if v == nil {
		return true
	}
	switch v.(type) {
	case string:
		return t == String
	case int64:
		return t == Int
	case float64:
		return t == Float
	case bool:
		return t == Bool
	}
	return false
}

// Schema returns a copy of the fields.
func (rs *RowSet) Schema() []Field {
	return append([]Field(nil), rs.schema...)
}

// Columns returns the field names in order.
func (rs *RowSet) Columns() []string {
	names := make([]string, len(rs.schema))
	for i, f := range rs.schema {
		names[i] = f.Name
	}
	return names
}

// Len is the number of rows.
func (rs *RowSet) Len() int { return len(rs.rows) }

// Row returns a copy of row i.
func (rs *RowSet) Row(i int) []interface{} {
	return append([]interface{}(nil), rs.rows[i]...)
}

// Each calls fn for every row in order, stopping at the first error. The
// slice passed to fn must not be retained or modified.
func (rs *RowSet) Each(fn func(i int, row []interface{}) error) error {
	for i, row := range rs.rows {
		if err := fn(i, row); err != nil {
			return err
		}
	}
	return nil
}

// FieldIndex returns the position of the named field or -1.
func (rs *RowSet) FieldIndex(name string) int {
	for i, f := range rs.schema {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// FormatValue renders a value as text; nil renders as "".
func FormatValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	}
	return fmt.Sprint(v)
}

var nonIdent = regexp.MustCompile(`[^a-z0-9_]+`)

// NormalizeHeader turns raw column titles into unique lower_snake names.
func NormalizeHeader(raw []string) []string {
	out := make([]string, len(raw))
	used := make(map[string]int, len(raw))
	for i, h := range raw {
		name := strings.ToLower(strings.TrimSpace(h))
		name = strings.Trim(nonIdent.ReplaceAllString(name, "_"), "_")
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		if name[0] >= '0' && name[0] <= '9' {
			name = "c_" + name
		}
		if n, ok := used[name]; ok {
			base := name
			for {
				n++
				name = fmt.Sprintf("%s_%d", base, n)
				if _, taken := used[name]; !taken {
					break
				}
			}
			used[base] = n
		}
		used[name] = 1
		out[i] = name
	}
	return out
}

// FromStrings builds a RowSet from a header and textual cells, inferring
// one type per column. Rows whose cells are all blank are dropped; short
// rows are padded with nil.
func FromStrings(header []string, cells [][]string) (*RowSet, error) {
	names := NormalizeHeader(header)
	var kept [][]string
	for _, row := range cells {
		blank := true
		for _, c := range row {
			if strings.TrimSpace(c) != "" {
				blank = false
				break
			}
		}
		if !blank {
			kept = append(kept, row)
		}
	}

	schema := make([]Field, len(names))
	for j, name := range names {
		schema[j] = Field{Name: name, Type: inferColumn(kept, j)}
	}
	rows := make([][]interface{}, len(kept))
	for i, row := range kept {
		vals := make([]interface{}, len(schema))
		for j := range schema {
			if j < len(row) {
				vals[j] = convert(schema[j].Type, strings.TrimSpace(row[j]))
			}
		}
		rows[i] = vals
	}
	return New(schema, rows)
}

func inferColumn(rows [][]string, j int) FieldType {
	isInt, isFloat, isBool, nonEmpty := true, true, true, false
	for _, row := range rows {
		if j >= len(row) {
			continue
		}
		c := strings.TrimSpace(row[j])
		if c == "" {
			continue
		}
		nonEmpty = true
		decimal, integral := decimalForm(c)
		if !integral {
			isInt = false
		} else if _, err := strconv.ParseInt(c, 10, 64); err != nil {
			isInt = false
		}
		if !decimal {
			isFloat = false
		}
		if _, err := strconv.ParseBool(strings.ToLower(c)); err != nil || isNumeric(c) {
			isBool = false
		}
	}
	switch {
	case !nonEmpty:
		return String
	case isInt:
		return Int
	case isFloat:
		return Float
	case isBool:
		return Bool
	}
	return String
}

// decimalForm reports whether c is a plain decimal number and whether it
// has no fraction or exponent. Leading zeros ("007"), hex floats, inf and
// nan are not numbers here so identifiers keep their text.
func decimalForm(c string) (decimal, integral bool) {
	i := 0
	if c[0] == '+' || c[0] == '-' {
		i++
	}
	start := i
	for i < len(c) && c[i] >= '0' && c[i] <= '9' {
		i++
	}
	digits := i - start
	if digits == 0 || (digits > 1 && c[start] == '0') {
		return false, false
	}
	integral = true
	if i < len(c) && c[i] == '.' {
		integral = false
		i++
		frac := i
		for i < len(c) && c[i] >= '0' && c[i] <= '9' {
			i++
		}
		if i == frac {
			return false, false
		}
	}
	if i < len(c) && (c[i] == 'e' || c[i] == 'E') {
		integral = false
		i++
		if i < len(c) && (c[i] == '+' || c[i] == '-') {
			i++
		}
		exp := i
		for i < len(c) && c[i] >= '0' && c[i] <= '9' {
			i++
		}
		if i == exp {
			return false, false
		}
	}
	if i != len(c) {
		return false, false
	}
	return true, integral
}

func isNumeric(c string) bool {
	_, err := strconv.ParseFloat(c, 64)
	return err == nil
}

func convert(t FieldType, c string) interface{} {
	if c == "" {
		return nil
	}
	switch t {
	case Int:
		v, _ := strconv.ParseInt(c, 10, 64)
		return v
	case Float:
		v, _ := strconv.ParseFloat(c, 64)
		return v
	case Bool:
		v, _ := strconv.ParseBool(strings.ToLower(c))
		return v
	}
	return c
}
