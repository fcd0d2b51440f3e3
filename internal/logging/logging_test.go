package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSetup_WritesFileAndConsole(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer

	logger, closer, err := Setup("debug", dir, &console)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	logger.Debug("table copied", "table", "users", "rows", 10)
	closer.Close()

	data, err := os.ReadFile(filepath.Join(dir, FileName(time.Now())))
	if err != nil {
		t.Fatalf("log file: %v", err)
	}
	if !strings.Contains(string(data), "table=users") {
		t.Errorf("file log = %s", data)
	}
	if !strings.Contains(console.String(), "rows=10") {
		t.Errorf("console log = %s", console.String())
	}
}

func TestSetup_FileOnly(t *testing.T) {
	dir := t.TempDir()
	logger, closer, err := Setup("info", dir, nil)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer closer.Close()
	logger.Debug("hidden")
	logger.Info("shown")

	data, _ := os.ReadFile(filepath.Join(dir, FileName(time.Now())))
	if strings.Contains(string(data), "hidden") || !strings.Contains(string(data), "shown") {
		t.Errorf("level filtering broken: %s", data)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"info":  slog.LevelInfo,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestPrune(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 31, 12, 0, 0, 0, time.Local)
	files := []string{
		FileName(now),
		FileName(now.AddDate(0, 0, -5)),
		FileName(now.AddDate(0, 0, -40)),
		FileName(now.AddDate(0, -3, 0)),
		"pgmirror-notadate.log",
		"other.log",
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(dir, f), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	removed, err := Prune(dir, 30, now)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 4 {
		t.Errorf("expected 4 files left, got %d", len(entries))
	}
}

func TestPrune_MissingDir(t *testing.T) {
	n, err := Prune(filepath.Join(t.TempDir(), "missing"), 30, time.Now())
	if err != nil || n != 0 {
		t.Errorf("Prune = %d, %v", n, err)
	}
}
