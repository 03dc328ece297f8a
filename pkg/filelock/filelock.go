// Package filelock serializes access to a JSON document shared by several
// tasksync processes, such as the daemon and one-shot CLI commands.
package filelock

import (
	"fmt"
	"os"
	"path/filepath"
)

// Lock is an advisory lock held on path+".lock".
type Lock struct {
	f *os.File
}

// Shared blocks until a read lock on path is held.
func Shared(path string) (*Lock, error) {
	return acquire(path, false)
}

// Exclusive blocks until a write lock on path is held.
func Exclusive(path string) (*Lock, error) {
	return acquire(path, true)
}

func acquire(path string, exclusive bool) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	f, err := os.OpenFile(path+".lock", os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}
	if err := lockFile(f, exclusive); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}
	return &Lock{f: f}, nil
}

// Release drops the lock. Closing the descriptor releases it too, so a
// crashed process never leaves the document locked.
func (l *Lock) Release() error {
	unlockErr := unlockFile(l.f)
	if err := l.f.Close(); err != nil && unlockErr == nil {
		return err
	}
	return unlockErr
}
