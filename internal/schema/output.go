package schema

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

const yamlHeader = "# pgmirror table definitions. Edit with care: every listed table is\n# dropped and recreated on the target from this file.\n"

// LoadYAML reads a schema written by WriteYAML. Tables without a schema
// inherit schema_name.
func LoadYAML(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schema file: %w", err)
	}
	s := &Schema{}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing schema %s: %w", path, err)
	}
	if err := s.check(); err != nil {
		return nil, fmt.Errorf("schema %s: %w", path, err)
	}
	return s, nil
}

func (s *Schema) check() error {
	var errs []error
	for i := range s.Tables {
		t := &s.Tables[i]
		if t.Schema == "" {
			t.Schema = s.SchemaName
		}
		switch {
		case t.Name == "":
			errs = append(errs, fmt.Errorf("table %d has no name", i+1))
			continue
		case t.Schema == "":
			errs = append(errs, fmt.Errorf("table %s has no schema", t.Name))
		case len(t.Columns) == 0:
			errs = append(errs, fmt.Errorf("table %s has no columns", t.Name))
		}
		names := t.ColumnNames()
		for _, pk := range t.PrimaryKeyColumns() {
			if !slices.Contains(names, pk) {
				errs = append(errs, fmt.Errorf("table %s: primary key column %q is not a column", t.Name, pk))
			}
		}
	}
	return errors.Join(errs...)
}

// WriteYAML writes the schema to path, creating parent directories.
func (s *Schema) WriteYAML(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	data, err := s.ToYAML()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ToYAML encodes the schema with a short header comment.
func (s *Schema) ToYAML() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(yamlHeader)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return nil, fmt.Errorf("marshaling schema: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("marshaling schema: %w", err)
	}
	return buf.Bytes(), nil
}

// DDL renders every table's create statement as one script.
func (s *Schema) DDL() (string, error) {
	var b strings.Builder
	for i := range s.Tables {
		stmt, err := s.Tables[i].CreateStatement()
		if err != nil {
			return "", fmt.Errorf("table %s: %w", s.Tables[i].Name, err)
		}
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(stmt)
		b.WriteString(";\n")
	}
	return b.String(), nil
}

// Summary returns a human-readable summary of the schema.
func (s *Schema) Summary() string {
	var totalCols, withPK, totalSeqs int
	for i := range s.Tables {
		t := &s.Tables[i]
		totalCols += len(t.Columns)
		if len(t.PrimaryKeyColumns()) > 0 {
			withPK++
		}
		totalSeqs += len(t.Sequences())
	}

	return fmt.Sprintf(
		"Found %d tables, %d columns\n%d tables with primary keys, %d owned sequences",
		len(s.Tables), totalCols, withPK, totalSeqs,
	)
}
