// Package session makes sure only one agent per data directory holds the
// server transport.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrHeld means another process owns the lock.
var ErrHeld = errors.New("another txsync agent is already running for this data directory")

// Lock is an exclusive, non-blocking file lock.
type Lock struct {
	path string
	lock *flock.Flock
}

// Acquire takes the lock at path or fails with ErrHeld.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	l := &Lock{path: path, lock: flock.New(path)}
	ok, err := l.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w (%s)", ErrHeld, path)
	}
	return l, nil
}

// Path returns the lock file location.
func (l *Lock) Path() string { return l.path }

// Release unlocks; calling it more than once is harmless.
func (l *Lock) Release() error {
	if l == nil || !l.lock.Locked() {
		return nil
	}
	return l.lock.Unlock()
}
