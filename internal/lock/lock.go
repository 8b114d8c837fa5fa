package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrBusy is returned by TryAcquire when another process holds the lock.
var ErrBusy = errors.New("lock is held by another process")

const retryInterval = 100 * time.Millisecond

// FileLock serializes supervisor runs against the same worker with an
// exclusive advisory lock on a sidecar file. The lock file itself is never
// removed; deleting it would let a second process lock a fresh inode while
// the first still holds the old one.
type FileLock struct {
	path string
	mu   sync.Mutex
	f    *os.File
}

func New(path string) *FileLock { return &FileLock{path: path} }

func (l *FileLock) Path() string { return l.path }

// TryAcquire takes the lock without blocking. ErrBusy means another holder.
func (l *FileLock) TryAcquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f != nil {
		return nil
	}
	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create lock dir: %w", err)
		}
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("open lock file %s: %w", l.path, err)
	}
	if err := acquireFile(f); err != nil {
		_ = f.Close()
		if errors.Is(err, ErrBusy) {
			return fmt.Errorf("%w (%s)", ErrBusy, l.path)
		}
		return fmt.Errorf("lock %s: %w", l.path, err)
	}
	l.f = f
	return nil
}

// Acquire retries TryAcquire until it succeeds, a non-busy error occurs, or
// ctx is done.
func (l *FileLock) Acquire(ctx context.Context) error {
	for {
		err := l.TryAcquire()
		if err == nil || !errors.Is(err, ErrBusy) {
			return err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", l.path, ctx.Err())
		case <-time.After(retryInterval):
		}
	}
}

// Release drops the lock. Releasing an unheld lock is a no-op.
func (l *FileLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := releaseFile(l.f)
	cerr := l.f.Close()
	l.f = nil
	if err != nil {
		return err
	}
	return cerr
}
