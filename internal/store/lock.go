package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gofrs/flock"

	"momentum/internal/domain"
)

// SessionLock is an exclusive advisory lock on one session date. The kernel
// releases it when the holding process exits.
type SessionLock struct {
	fl *flock.Flock
}

// AcquireSessionLock takes <dataDir>/locks/<date>.lock without blocking. A
// lock held by another process yields domain.ErrSessionLocked.
func AcquireSessionLock(dataDir, date string) (*SessionLock, error) {
	dir := filepath.Join(dataDir, "locks")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating lock dir: %w", err)
	}
	path := filepath.Join(dir, date+".lock")

	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", date, domain.ErrSessionLocked)
	}

	// holder pid, for operators inspecting a stuck session
	_ = os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
	return &SessionLock{fl: fl}, nil
}

// Release drops the lock. Releasing twice is a no-op.
func (l *SessionLock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	err := l.fl.Close()
	l.fl = nil
	return err
}
