package schema

import (
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
)

var nextvalRe = regexp.MustCompile(`(?i)^nextval\('((?:[^']|'')+)'(?:::regclass)?\)$`)

// Sequence identifies a sequence referenced by a column default.
type Sequence struct {
	Schema string `yaml:"schema"`
	Name   string `yaml:"name"`
}

// Identifier returns the sequence as a pgx.Identifier.
func (s Sequence) Identifier() pgx.Identifier {
	return pgx.Identifier{s.Schema, s.Name}
}

// QualifiedName returns the quoted schema-qualified sequence name.
func (s Sequence) QualifiedName() string {
	return s.Identifier().Sanitize()
}

// Sequences returns the sequences referenced by nextval() column defaults,
// in column order, without duplicates.
func (t *Table) Sequences() []Sequence {
	var seqs []Sequence
	seen := make(map[Sequence]bool)
	for _, c := range t.Columns {
		if c.DefaultValue == nil {
			continue
		}
		seq, ok := ParseNextval(*c.DefaultValue, t.Schema)
		if !ok || seen[seq] {
			continue
		}
		seen[seq] = true
		seqs = append(seqs, seq)
	}
	return seqs
}

// ParseNextval extracts the sequence from a nextval('name'::regclass)
// expression. Unqualified names resolve to defaultSchema.
func ParseNextval(expr, defaultSchema string) (Sequence, bool) {
	m := nextvalRe.FindStringSubmatch(strings.TrimSpace(expr))
	if len(m) != 2 {
		return Sequence{}, false
	}
	parts := splitQualified(strings.ReplaceAll(m[1], "''", "'"))
	switch len(parts) {
	case 1:
		return Sequence{Schema: defaultSchema, Name: parts[0]}, true
	case 2:
		return Sequence{Schema: parts[0], Name: parts[1]}, true
	default:
		return Sequence{}, false
	}
}

// splitQualified splits a possibly quoted dotted name, honoring dots inside
// double quotes and folding unquoted parts to lower case.
func splitQualified(s string) []string {
	var parts []string
	var cur strings.Builder
	quoted, inQuotes := false, false
	flush := func() {
		p := cur.String()
		if !quoted {
			p = strings.ToLower(p)
		}
		parts = append(parts, p)
		cur.Reset()
		quoted = false
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch == '"' && inQuotes && i+1 < len(s) && s[i+1] == '"':
			cur.WriteByte('"')
			i++
		case ch == '"':
			inQuotes = !inQuotes
			quoted = true
		case ch == '.' && !inQuotes:
			flush()
		default:
			cur.WriteByte(ch)
		}
	}
	flush()
	return parts
}
