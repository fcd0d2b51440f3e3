package database

import (
	"fmt"

	"github.com/jackc/pgx/v5"
)

// QuoteIdent quotes a single identifier.
func QuoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// QualifiedName quotes schema.name. An empty schema yields the bare name.
func QualifiedName(schema, name string) string {
	if schema == "" {
		return QuoteIdent(name)
	}
	return pgx.Identifier{schema, name}.Sanitize()
}

// QuoteIdents quotes each name in order.
func QuoteIdents(names []string) []string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = QuoteIdent(n)
	}
	return quoted
}

// Redact returns the connection string without its password, in the form
// postgres://user@host:port/db.
func Redact(connString string) string {
	cfg, err := pgx.ParseConfig(connString)
	if err != nil {
		return "<invalid connection string>"
	}
	return redactConfig(cfg)
}

// Identity returns host:port/db for a connection string. Two connection
// strings with the same identity address the same database.
func Identity(connString string) (string, error) {
	cfg, err := pgx.ParseConfig(connString)
	if err != nil {
		return "", fmt.Errorf("parsing connection string: %w", err)
	}
	return fmt.Sprintf("%s:%d/%s", cfg.Host, cfg.Port, cfg.Database), nil
}

func redactConfig(cfg *pgx.ConnConfig) string {
	return fmt.Sprintf("postgres://%s@%s:%d/%s", cfg.User, cfg.Host, cfg.Port, cfg.Database)
}
