// Package lock keeps two runs from sharing one working directory.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// FileName is the lock file created inside the working directory.
const FileName = ".jianpu-ly.lock"

// ErrBusy is returned when another run holds the lock.
var ErrBusy = errors.New("working directory is in use by another run")

// WorkdirLock is an exclusive flock(2) on a file in the working directory.
// The lock lives as long as the file descriptor stays open.
type WorkdirLock struct {
	path string
	f    *os.File
}

// Acquire takes the lock for workdir without blocking. A held lock yields
// ErrBusy with the holder's PID when it can be read.
func Acquire(workdir string) (*WorkdirLock, error) {
	if workdir == "" {
		return nil, fmt.Errorf("workdir is empty")
	}
	if err := os.MkdirAll(workdir, 0o755); err != nil {
		return nil, fmt.Errorf("create workdir: %w", err)
	}
	path := filepath.Join(workdir, FileName)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			if pid := holder(path); pid != "" {
				return nil, fmt.Errorf("%w (pid %s)", ErrBusy, pid)
			}
			return nil, ErrBusy
		}
		return nil, fmt.Errorf("acquire lock: %w", err)
	}

	release := func(err error) (*WorkdirLock, error) {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
		return nil, err
	}
	if err := f.Truncate(0); err != nil {
		return release(fmt.Errorf("truncate lock file: %w", err))
	}
	if _, err := f.Seek(0, 0); err != nil {
		return release(fmt.Errorf("seek lock file: %w", err))
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		return release(fmt.Errorf("write pid: %w", err))
	}
	if err := f.Sync(); err != nil {
		return release(fmt.Errorf("sync lock file: %w", err))
	}

	return &WorkdirLock{path: path, f: f}, nil
}

func (l *WorkdirLock) Path() string { return l.path }

// Release clears the recorded PID and unlocks. The file stays in place: a
// run that already opened it must contend for the same inode as the next one.
func (l *WorkdirLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = l.f.Truncate(0)
	_ = syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	err := l.f.Close()
	l.f = nil
	return err
}

func holder(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
