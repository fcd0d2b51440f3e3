// Package lock grants one active transfer per target database.
package lock

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/pgmirror/pgmirror/internal/config"
)

// DefaultDir holds lease files when none is configured.
const DefaultDir = "~/.pgmirror/locks"

// ErrHeld is returned when another run holds the lease for a target.
var ErrHeld = errors.New("target is busy: another transfer holds the lease")

// Manager hands out leases keyed by target identity. Leases are held in
// process and, when Dir is set, in a PID file so other processes see them.
type Manager struct {
	dir string

	mu   sync.Mutex
	held map[string]bool
}

// NewManager creates a Manager storing lease files in dir. An empty dir keeps
// leases in process only.
func NewManager(dir string) *Manager {
	if dir != "" {
		dir = config.ExpandHome(dir)
	}
	return &Manager{dir: dir, held: make(map[string]bool)}
}

// Lease is an acquired lease. Release is safe to call more than once.
type Lease struct {
	Identity string
	Path     string

	m    *Manager
	once sync.Once
	err  error
}

// Acquire takes the lease for identity or fails with ErrHeld. A lease file
// left by a process that is no longer running is taken over.
func (m *Manager) Acquire(identity string) (*Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.held[identity] {
		return nil, fmt.Errorf("%w (target %s, this process)", ErrHeld, identity)
	}

	l := &Lease{Identity: identity, m: m}
	if m.dir != "" {
		l.Path = m.path(identity)
		if err := acquireFile(l.Path); err != nil {
			return nil, err
		}
	}
	m.held[identity] = true
	return l, nil
}

// Release gives the lease back.
func (l *Lease) Release() error {
	l.once.Do(func() {
		l.m.mu.Lock()
		delete(l.m.held, l.Identity)
		l.m.mu.Unlock()
		if l.Path != "" {
			l.err = removeFile(l.Path)
		}
	})
	return l.err
}

// IsHeld reports whether identity's lease is held, by this process or by
// another running process, and the holder's PID when known.
func (m *Manager) IsHeld(identity string) (bool, int, error) {
	m.mu.Lock()
	inProcess := m.held[identity]
	m.mu.Unlock()
	if inProcess {
		return true, os.Getpid(), nil
	}
	if m.dir == "" {
		return false, 0, nil
	}
	return isFileHeld(m.path(identity))
}

func (m *Manager) path(identity string) string {
	sum := sha256.Sum256([]byte(identity))
	return filepath.Join(m.dir, hex.EncodeToString(sum[:16])+".lock")
}

func acquireFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating lock directory: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			_, werr := f.WriteString(strconv.Itoa(os.Getpid()))
			cerr := f.Close()
			if werr != nil || cerr != nil {
				os.Remove(path)
				return fmt.Errorf("writing lock file: %w", errors.Join(werr, cerr))
			}
			return nil
		}
		if !os.IsExist(err) {
			return fmt.Errorf("creating lock file: %w", err)
		}

		held, pid, err := isFileHeld(path)
		if err != nil {
			return err
		}
		if held && pid != os.Getpid() {
			return fmt.Errorf("%w (PID %d)", ErrHeld, pid)
		}
		// Stale: the holder is gone.
		if err := removeFile(path); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w (lock file %s keeps reappearing)", ErrHeld, path)
}

func removeFile(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func isFileHeld(path string) (bool, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, 0, nil
		}
		return false, 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false, 0, nil
	}
	if isProcessRunning(pid) {
		return true, pid, nil
	}
	return false, pid, nil
}

func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	// EPERM means the process exists but belongs to another user.
	return err == nil || errors.Is(err, syscall.EPERM)
}
