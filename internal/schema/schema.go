package schema

// Schema is the set of table definitions extracted from one database schema.
type Schema struct {
	Database   string  `yaml:"database"`
	SchemaName string  `yaml:"schema_name"`
	Tables     []Table `yaml:"tables"`
}

// Table is the recreate definition of one base table.
type Table struct {
	Schema     string      `yaml:"schema"`
	Name       string      `yaml:"name"` // exact, case-preserving
	Columns    []Column    `yaml:"columns"`
	PrimaryKey *PrimaryKey `yaml:"primary_key,omitempty"`
}

// Column is one column, in source ordinal order.
type Column struct {
	Name         string  `yaml:"name"`
	DataType     string  `yaml:"data_type"`
	UDTName      string  `yaml:"udt_name,omitempty"`
	MaxLength    *int    `yaml:"max_length,omitempty"`
	Precision    *int    `yaml:"precision,omitempty"`
	Scale        *int    `yaml:"scale,omitempty"`
	Nullable     bool    `yaml:"nullable"`
	DefaultValue *string `yaml:"default_value,omitempty"`

	// Fractional seconds and fields of time, timestamp and interval types.
	DatetimePrecision *int   `yaml:"datetime_precision,omitempty"`
	IntervalFields    string `yaml:"interval_fields,omitempty"`
}

// PrimaryKey is a table's primary key.
type PrimaryKey struct {
	Name    string   `yaml:"name,omitempty"`
	Columns []string `yaml:"columns"`
}

// ColumnNames returns the column names in order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// PrimaryKeyColumns returns the primary key columns, or nil.
func (t *Table) PrimaryKeyColumns() []string {
	if t.PrimaryKey == nil {
		return nil
	}
	return t.PrimaryKey.Columns
}

// Equivalent reports whether two definitions describe the same shape: same
// name, same ordered columns with the same types, nullability and defaults,
// and the same primary key columns. Constraint names are ignored.
func (t *Table) Equivalent(o *Table) bool {
	if t.Name != o.Name || len(t.Columns) != len(o.Columns) {
		return false
	}
	for i := range t.Columns {
		a, b := t.Columns[i], o.Columns[i]
		if a.Name != b.Name || a.DataType != b.DataType || a.UDTName != b.UDTName || a.Nullable != b.Nullable {
			return false
		}
		if !eqInt(a.MaxLength, b.MaxLength) || !eqStr(a.DefaultValue, b.DefaultValue) {
			return false
		}
		if a.DataType == "numeric" && (!eqInt(a.Precision, b.Precision) || !eqInt(a.Scale, b.Scale)) {
			return false
		}
		if a.hasDatetimePrecision() && (a.datetimePrecision() != b.datetimePrecision() || a.intervalFields() != b.intervalFields()) {
			return false
		}
	}
	pa, pb := t.PrimaryKeyColumns(), o.PrimaryKeyColumns()
	if len(pa) != len(pb) {
		return false
	}
	for i := range pa {
		if pa[i] != pb[i] {
			return false
		}
	}
	return true
}

func eqInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqStr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
