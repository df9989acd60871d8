package log

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// RotatingFile writes probe logs to path and shifts it to path.1, path.2, ...
// once it would grow past MaxSize. At most MaxBackups shifted files are kept.
//
// Negotiation logs can contain principals and SPNs, so files are created 0600.
type RotatingFile struct {
	mu sync.Mutex

	path       string
	maxSize    int64
	maxBackups int

	f    *os.File
	size int64
}

// NewRotatingFile opens (or appends to) path. maxSize is in bytes.
func NewRotatingFile(path string, maxSize int64, maxBackups int) (*RotatingFile, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("log: max size must be positive, got %d", maxSize)
	}
	if maxBackups < 0 {
		return nil, fmt.Errorf("log: max backups must not be negative, got %d", maxBackups)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("log: create log directory: %w", err)
	}

	rf := &RotatingFile{path: path, maxSize: maxSize, maxBackups: maxBackups}
	if err := rf.openLocked(); err != nil {
		return nil, err
	}
	return rf, nil
}

func (rf *RotatingFile) openLocked() error {
	f, err := os.OpenFile(rf.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("log: open %s: %w", rf.path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("log: stat %s: %w", rf.path, err)
	}
	rf.f, rf.size = f, info.Size()
	return nil
}

// Write implements io.Writer. A record is never split across files.
func (rf *RotatingFile) Write(p []byte) (int, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.f == nil {
		return 0, os.ErrClosed
	}
	if rf.size > 0 && rf.size+int64(len(p)) > rf.maxSize {
		if err := rf.rotateLocked(); err != nil {
			return 0, err
		}
	}
	n, err := rf.f.Write(p)
	rf.size += int64(n)
	return n, err
}

// backupName returns the name of the i-th shifted file.
func (rf *RotatingFile) backupName(i int) string {
	return fmt.Sprintf("%s.%d", rf.path, i)
}

func (rf *RotatingFile) rotateLocked() error {
	if err := rf.f.Close(); err != nil {
		return fmt.Errorf("log: close before rotate: %w", err)
	}
	rf.f = nil

	if rf.maxBackups == 0 {
		if err := os.Remove(rf.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("log: truncate: %w", err)
		}
		return rf.openLocked()
	}

	// Oldest first so nothing is overwritten.
	if err := os.Remove(rf.backupName(rf.maxBackups)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("log: drop oldest backup: %w", err)
	}
	for i := rf.maxBackups - 1; i >= 0; i-- {
		from := rf.path
		if i > 0 {
			from = rf.backupName(i)
		}
		if err := os.Rename(from, rf.backupName(i+1)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("log: shift %s: %w", from, err)
		}
	}
	return rf.openLocked()
}

// Close implements io.Closer. Closing twice is a no-op.
func (rf *RotatingFile) Close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.f == nil {
		return nil
	}
	err := rf.f.Close()
	rf.f = nil
	return err
}
