//go:build integration

package integration

import (
	"context"
	"os"
	"testing"

	"github.com/pgmirror/pgmirror/internal/database"
)

const testSchema = "pgmirror_it"

func sourceURL(t *testing.T) string {
	t.Helper()
	return envOrSkip(t, "PGMIRROR_TEST_SOURCE_URL")
}

func targetURL(t *testing.T) string {
	t.Helper()
	return envOrSkip(t, "PGMIRROR_TEST_TARGET_URL")
}

func envOrSkip(t *testing.T, key string) string {
	t.Helper()
	v := os.Getenv(key)
	if v == "" {
		t.Skipf("skipping: %s not set", key)
	}
	return v
}

func connect(t *testing.T, role database.Role, url string) database.Session {
	t.Helper()
	s, err := database.Connect(context.Background(), role, url)
	if err != nil {
		t.Fatalf("connecting to %s: %v", role, err)
	}
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func mustExec(t *testing.T, q database.Queryer, sql string, args ...any) {
	t.Helper()
	if _, err := q.Exec(context.Background(), sql, args...); err != nil {
		t.Fatalf("exec %q: %v", sql, err)
	}
}

// resetSchema drops and recreates the test schema.
func resetSchema(t *testing.T, q database.Queryer) {
	t.Helper()
	mustExec(t, q, "DROP SCHEMA IF EXISTS "+testSchema+" CASCADE")
	mustExec(t, q, "CREATE SCHEMA "+testSchema)
}
