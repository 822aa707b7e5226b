// Package filelock serializes writers of the PRD and progress files and
// swaps new content into place with a staged rename,
// so a reader sees either the old document or the new one, never a torn
// write.
package filelock

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Guard is a held advisory lock. Release it when the critical section
// ends.
type Guard struct {
	lk   *flock.Flock
	path string
}

// Acquire blocks until the exclusive lock at path is held.
func Acquire(path string) (*Guard, error) {
	lk := flock.New(path)
	if err := lk.Lock(); err != nil {
		return nil, fmt.Errorf("flock %s: %w", path, err)
	}
	return &Guard{lk: lk, path: path}, nil
}

// TryAcquire attempts the lock without blocking. The guard is nil when
// the lock is held by another process.
func TryAcquire(path string) (*Guard, error) {
	lk := flock.New(path)
	held, err := lk.TryLock()
	if err != nil {
		return nil, fmt.Errorf("try flock %s: %w", path, err)
	}
	if !held {
		return nil, nil
	}
	return &Guard{lk: lk, path: path}, nil
}

// Release drops the lock.
func (g *Guard) Release() error {
	if err := g.lk.Unlock(); err != nil {
		return fmt.Errorf("release flock %s: %w", g.path, err)
	}
	return nil
}

// Replace atomically swaps path's content for data. The new content is
// staged in <path>.tmp.<pid> beside the target, so the final rename stays
// on one filesystem, which is what makes the swap atomic.
func Replace(path string, data []byte) error {
	return replace(path, data, false)
}

// ReplaceDurable is Replace plus an fsync of the containing directory.
// Used for the cost history, which must survive a crash.
func ReplaceDurable(path string, data []byte) error {
	return replace(path, data, true)
}

// ReplaceLocked serializes concurrent writers through the companion
// <path>.lock file before swapping content in.
func ReplaceLocked(path string, data []byte) error {
	guard, err := Acquire(path + ".lock")
	if err != nil {
		return err
	}
	defer guard.Release()

	return Replace(path, data)
}

func replace(path string, data []byte, durable bool) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("prepare %s: %w", dir, err)
	}

	stage := fmt.Sprintf("%s.tmp.%d", path, os.Getpid())
	if err := writeStage(stage, data); err != nil {
		os.Remove(stage)
		return err
	}

	if err := os.Rename(stage, path); err != nil {
		os.Remove(stage)
		return fmt.Errorf("swap %s into place: %w", path, err)
	}

	if durable {
		return syncDir(dir)
	}
	return nil
}

// writeStage creates the stage file exclusively and flushes data to it.
// A leftover stage from a crashed run with the same pid is stale and is
// cleared first.
func writeStage(stage string, data []byte) error {
	os.Remove(stage)

	f, err := os.OpenFile(stage, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("stage %s: %w", stage, err)
	}

	_, werr := f.Write(data)
	if werr == nil {
		werr = f.Sync()
	}
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return fmt.Errorf("write staged content for %s: %w", stage, werr)
	}
	return nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open %s for sync: %w", dir, err)
	}
	defer d.Close()

	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", dir, err)
	}
	return nil
}
