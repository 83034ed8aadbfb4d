package playback

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
)

// Lock serializes audible playback across every process the user runs. The
// scope is one lock per user, not per machine: two operators on a shared host
// do not contend. A holder that exits without releasing must not wedge the
// lock forever.
type Lock interface {
	// TryAcquire takes the lock if it is free. It never blocks.
	TryAcquire() bool
	Release()
}

// MemLock is an in-process Lock for tests and single-process deployments.
type MemLock struct {
	mu   sync.Mutex
	held bool
}

func (l *MemLock) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return false
	}
	l.held = true
	return true
}

func (l *MemLock) Release() {
	l.mu.Lock()
	l.held = false
	l.mu.Unlock()
}

// FileLock implements Lock with an exclusive-create lock file holding the
// owner's pid. A lock file whose owner is no longer running is stale and is
// taken over.
type FileLock struct {
	// Path of the lock file. Empty uses DefaultLockPath.
	Path string
}

// DefaultLockPath returns the per-user lock file location.
func DefaultLockPath() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "opsvox", "playback.lock"), nil
}

func (l *FileLock) path() string {
	if l.Path != "" {
		return l.Path
	}
	p, err := DefaultLockPath()
	if err != nil {
		return filepath.Join(os.TempDir(), "opsvox-playback.lock")
	}
	return p
}

func (l *FileLock) TryAcquire() bool {
	path := l.path()
	_ = os.MkdirAll(filepath.Dir(path), 0o755)
	if l.create(path) {
		return true
	}
	if !l.stale(path) {
		return false
	}
	_ = os.Remove(path)
	return l.create(path)
}

func (l *FileLock) create(path string) bool {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return false
	}
	_, _ = f.WriteString(strconv.Itoa(os.Getpid()))
	_ = f.Close()
	return true
}

// stale reports whether the lock file's recorded owner is gone. An unreadable
// or garbled file counts as stale.
func (l *FileLock) stale(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return true
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return true
	}
	if pid == os.Getpid() {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return true
	}
	// Signal 0 probes existence without delivering anything.
	return proc.Signal(syscall.Signal(0)) != nil
}

// Release removes the lock file if this process owns it.
func (l *FileLock) Release() {
	path := l.path()
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	if strings.TrimSpace(string(data)) != strconv.Itoa(os.Getpid()) {
		return
	}
	_ = os.Remove(path)
}
