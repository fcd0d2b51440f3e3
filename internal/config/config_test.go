package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pgmirror.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `version: 1
source:
  connection_string: "postgres://app:pw@src:5432/app"
target:
  connection_string: "postgres://app:pw@dst:5432/app"
transfer:
  tables: [users, orders]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Version != 1 {
		t.Errorf("expected version 1, got %d", cfg.Version)
	}
	if cfg.Source.Schema != "public" {
		t.Errorf("expected default schema public, got %s", cfg.Source.Schema)
	}
	if cfg.Transfer.BatchSize != 5000 {
		t.Errorf("expected default batch_size 5000, got %d", cfg.Transfer.BatchSize)
	}
	if cfg.Transfer.Method != "insert" {
		t.Errorf("expected default method insert, got %s", cfg.Transfer.Method)
	}
	if cfg.Transfer.OnCatalogError != OnCatalogErrorFail {
		t.Errorf("expected default on_catalog_error fail, got %s", cfg.Transfer.OnCatalogError)
	}
	if !cfg.Transfer.SequenceSync() {
		t.Error("sequence sync should default to on")
	}
	if cfg.Server.Port != 8230 {
		t.Errorf("expected default port 8230, got %d", cfg.Server.Port)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected default log level info, got %s", cfg.Logging.Level)
	}
	if strings.HasPrefix(cfg.Lock.Directory, "~") || strings.HasPrefix(cfg.Reports.Directory, "~") {
		t.Error("directories should be expanded")
	}
	if len(cfg.Transfer.Tables) != 2 {
		t.Errorf("tables = %v", cfg.Transfer.Tables)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
	if err := cfg.RequireConnections(); err != nil {
		t.Errorf("RequireConnections: %v", err)
	}
}

func TestLoadInvalidVersion(t *testing.T) {
	path := writeConfig(t, `version: 99
source:
  connection_string: x
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid version")
	}
}

func TestLoadMissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")
	_, err := Load(missing)
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected ErrNotExist, got %v", err)
	}

	cfg, err := LoadOrDefault(missing)
	if err != nil {
		t.Fatalf("LoadOrDefault: %v", err)
	}
	if cfg.Transfer.BatchSize != DefaultBatchSize {
		t.Errorf("expected defaults, got %+v", cfg.Transfer)
	}
}

func TestSequenceSyncDisabled(t *testing.T) {
	path := writeConfig(t, `version: 1
transfer:
  sync_sequences: false
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Transfer.SequenceSync() {
		t.Error("sync_sequences: false was ignored")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Transfer.BatchSize = -1
	cfg.Transfer.Method = "bulk"
	cfg.Transfer.OnCatalogError = "ignore"
	cfg.Server.Port = 70000
	cfg.Logging.Level = "verbose"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"batch_size", "method", "on_catalog_error", "port", "logging.level"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q: %v", want, err)
		}
	}
}

func TestRequireConnections(t *testing.T) {
	err := Default().RequireConnections()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "source") || !strings.Contains(err.Error(), "target") {
		t.Errorf("error = %v", err)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "pgmirror.yaml")
	cfg := Default()
	cfg.Source.ConnectionString = "${ENV:PGMIRROR_SOURCE}"
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}

	t.Setenv("PGMIRROR_SOURCE", "postgres://a@b/c")
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Source.ConnectionString != "postgres://a@b/c" {
		t.Errorf("secret not resolved: %q", loaded.Source.ConnectionString)
	}
}

func TestResolveEnvSecret(t *testing.T) {
	t.Setenv("TEST_SECRET", "mysecret")
	val, err := ResolveValue("${ENV:TEST_SECRET}")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "mysecret" {
		t.Errorf("expected mysecret, got %s", val)
	}
}

func TestResolveEmbeddedSecret(t *testing.T) {
	t.Setenv("DB_PASS", "p@ss")
	val, err := ResolveValue("postgres://app:${ENV:DB_PASS}@db:5432/app")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "postgres://app:p@ss@db:5432/app" {
		t.Errorf("got %s", val)
	}
}

func TestResolveMissingEnv(t *testing.T) {
	t.Setenv("UNSET_SECRET", "")
	if _, err := ResolveValue("${ENV:UNSET_SECRET}"); err == nil {
		t.Error("expected error for unset variable")
	}
}

func TestResolvePlainValue(t *testing.T) {
	val, err := ResolveValue("plaintext")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "plaintext" {
		t.Errorf("expected plaintext, got %s", val)
	}
}
