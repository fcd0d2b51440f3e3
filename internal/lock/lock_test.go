package lock

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestAcquireRelease(t *testing.T) {
	m := NewManager(t.TempDir())

	l, err := m.Acquire("db1:5432/app")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	data, err := os.ReadFile(l.Path)
	if err != nil {
		t.Fatalf("lock file not written: %v", err)
	}
	if string(data) != strconv.Itoa(os.Getpid()) {
		t.Errorf("lock file = %q, want our PID", data)
	}

	held, pid, err := m.IsHeld("db1:5432/app")
	if err != nil || !held || pid != os.Getpid() {
		t.Errorf("IsHeld = %v, %d, %v", held, pid, err)
	}

	if err := l.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("second Release: %v", err)
	}
	if _, err := os.Stat(l.Path); !os.IsNotExist(err) {
		t.Error("lock file should be removed")
	}
	if held, _, _ := m.IsHeld("db1:5432/app"); held {
		t.Error("lease should be free after release")
	}
}

func TestAcquire_HeldInProcess(t *testing.T) {
	m := NewManager("")
	l, err := m.Acquire("db1:5432/app")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer l.Release()

	if _, err := m.Acquire("db1:5432/app"); !errors.Is(err, ErrHeld) {
		t.Errorf("expected ErrHeld, got %v", err)
	}

	other, err := m.Acquire("db2:5432/app")
	if err != nil {
		t.Errorf("different target should be free: %v", err)
	} else {
		other.Release()
	}
}

func TestAcquire_HeldByOtherProcess(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)
	path := m.path("db1:5432/app")

	ppid := os.Getppid()
	if err := os.WriteFile(path, []byte(strconv.Itoa(ppid)), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Acquire("db1:5432/app"); !errors.Is(err, ErrHeld) {
		t.Errorf("expected ErrHeld, got %v", err)
	}
	held, pid, _ := m.IsHeld("db1:5432/app")
	if !held || pid != ppid {
		t.Errorf("IsHeld = %v, %d", held, pid)
	}
}

func TestAcquire_StaleFile(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)
	path := m.path("db1:5432/app")

	if err := os.WriteFile(path, []byte("999999999"), 0o644); err != nil {
		t.Fatal(err)
	}
	l, err := m.Acquire("db1:5432/app")
	if err != nil {
		t.Fatalf("stale lease should be taken over: %v", err)
	}
	defer l.Release()

	data, _ := os.ReadFile(path)
	if string(data) != strconv.Itoa(os.Getpid()) {
		t.Errorf("lock file = %q", data)
	}
}

func TestPath_StableAndOpaque(t *testing.T) {
	m := NewManager("/locks")
	a := m.path("db1:5432/app")
	if a != m.path("db1:5432/app") {
		t.Error("path should be stable")
	}
	if a == m.path("db2:5432/app") {
		t.Error("different identities should map to different files")
	}
	if filepath.Dir(a) != "/locks" || filepath.Ext(a) != ".lock" {
		t.Errorf("path = %s", a)
	}
}
