package schema

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
)

var (
	typeNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_ ]*$`)
	udtNamePattern  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// lengthTypes take a (n) modifier from character_maximum_length.
var lengthTypes = map[string]bool{
	"character varying": true,
	"character":         true,
	"bit":               true,
	"bit varying":       true,
}

// timeTypes take a (p) fractional seconds modifier after the first word.
var timeTypes = map[string]bool{
	"time without time zone":      true,
	"time with time zone":         true,
	"timestamp without time zone": true,
	"timestamp with time zone":    true,
}

// defaultDatetimePrecision is reported for columns declared without (p).
const defaultDatetimePrecision = 6

var intervalFieldSets = map[string]bool{
	"YEAR": true, "MONTH": true, "DAY": true, "HOUR": true, "MINUTE": true, "SECOND": true,
	"YEAR TO MONTH": true, "DAY TO HOUR": true, "DAY TO MINUTE": true, "DAY TO SECOND": true,
	"HOUR TO MINUTE": true, "HOUR TO SECOND": true, "MINUTE TO SECOND": true,
}

// InvalidTypeError is returned when a declared type cannot be rendered safely.
type InvalidTypeError struct {
	Column string
	Type   string
}

func (e *InvalidTypeError) Error() string {
	return fmt.Sprintf("column %q: unsupported declared type %q", e.Column, e.Type)
}

// TypeSQL renders the column's declared type including modifiers.
func (c *Column) TypeSQL() (string, error) {
	switch c.DataType {
	case "ARRAY":
		elem := strings.TrimPrefix(c.UDTName, "_")
		if !udtNamePattern.MatchString(elem) {
			return "", &InvalidTypeError{Column: c.Name, Type: c.UDTName}
		}
		return elem + "[]", nil
	case "USER-DEFINED":
		if c.UDTName == "" {
			return "", &InvalidTypeError{Column: c.Name, Type: c.DataType}
		}
		return pgx.Identifier{c.UDTName}.Sanitize(), nil
	}

	if !typeNamePattern.MatchString(c.DataType) {
		return "", &InvalidTypeError{Column: c.Name, Type: c.DataType}
	}
	typ := c.DataType
	switch {
	case lengthTypes[typ] && c.MaxLength != nil:
		typ = fmt.Sprintf("%s(%d)", typ, *c.MaxLength)
	case typ == "numeric" && c.Precision != nil:
		scale := 0
		if c.Scale != nil {
			scale = *c.Scale
		}
		typ = fmt.Sprintf("numeric(%d,%d)", *c.Precision, scale)
	case timeTypes[typ]:
		if p := c.datetimePrecision(); p != defaultDatetimePrecision {
			base, zone, _ := strings.Cut(typ, " ")
			typ = fmt.Sprintf("%s(%d) %s", base, p, zone)
		}
	case typ == "interval":
		fields := c.intervalFields()
		if fields != "" {
			if !intervalFieldSets[fields] {
				return "", &InvalidTypeError{Column: c.Name, Type: "interval " + c.IntervalFields}
			}
			typ += " " + strings.ToLower(fields)
		}
		// Precision only applies when the last field is SECOND.
		if p := c.datetimePrecision(); p != defaultDatetimePrecision && (fields == "" || strings.HasSuffix(fields, "SECOND")) {
			typ += fmt.Sprintf("(%d)", p)
		}
	}
	return typ, nil
}

func (c *Column) hasDatetimePrecision() bool {
	return timeTypes[c.DataType] || c.DataType == "interval"
}

func (c *Column) datetimePrecision() int {
	if c.DatetimePrecision == nil {
		return defaultDatetimePrecision
	}
	return *c.DatetimePrecision
}

// intervalFields normalizes interval_type, which some servers report with
// the precision attached, e.g. "DAY TO SECOND(3)".
func (c *Column) intervalFields() string {
	f, _, _ := strings.Cut(c.IntervalFields, "(")
	return strings.ToUpper(strings.TrimSpace(f))
}

// ColumnSQL renders `"name" type [NOT NULL] [DEFAULT expr]`. The default
// expression is copied verbatim.
func (c *Column) ColumnSQL() (string, error) {
	typ, err := c.TypeSQL()
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(pgx.Identifier{c.Name}.Sanitize())
	b.WriteString(" ")
	b.WriteString(typ)
	if !c.Nullable {
		b.WriteString(" NOT NULL")
	}
	if c.DefaultValue != nil && *c.DefaultValue != "" {
		b.WriteString(" DEFAULT ")
		b.WriteString(*c.DefaultValue)
	}
	return b.String(), nil
}

// QualifiedName returns the quoted schema-qualified table name.
func (t *Table) QualifiedName() string {
	if t.Schema == "" {
		return pgx.Identifier{t.Name}.Sanitize()
	}
	return pgx.Identifier{t.Schema, t.Name}.Sanitize()
}

// Identifier returns the table name as a pgx.Identifier.
func (t *Table) Identifier() pgx.Identifier {
	if t.Schema == "" {
		return pgx.Identifier{t.Name}
	}
	return pgx.Identifier{t.Schema, t.Name}
}

// CreateStatement renders the canonical CREATE TABLE IF NOT EXISTS statement.
// Output depends only on the definition, so rendering twice yields the same
// text.
func (t *Table) CreateStatement() (string, error) {
	lines := make([]string, 0, len(t.Columns)+1)
	for i := range t.Columns {
		col, err := t.Columns[i].ColumnSQL()
		if err != nil {
			return "", err
		}
		lines = append(lines, col)
	}
	if pk := t.PrimaryKeyColumns(); len(pk) > 0 {
		quoted := make([]string, len(pk))
		for i, c := range pk {
			quoted[i] = pgx.Identifier{c}.Sanitize()
		}
		lines = append(lines, "PRIMARY KEY ("+strings.Join(quoted, ", ")+")")
	}

	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(t.QualifiedName())
	b.WriteString(" (")
	for i, l := range lines {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("\n    ")
		b.WriteString(l)
	}
	if len(lines) > 0 {
		b.WriteString("\n")
	}
	b.WriteString(")")
	return b.String(), nil
}
