// Package guard holds the operational envelope around the pipeline:
// cross-process locking, run cooldowns, corpus status, user feedback, gap
// detection, and store health probes.
package guard

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gofrs/flock"

	cerrors "github.com/codectx/codectx/internal/errors"
)

// DefaultStaleAfter is how old a holder record may be before the lock is
// considered abandoned.
const DefaultStaleAfter = time.Hour

// LockHolder identifies the process holding a pipeline lock.
type LockHolder struct {
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
	Name       string    `json:"name"`
}

// PipelineLock is a cross-process lock guarding mutually exclusive pipeline
// runs (indexing, most notably). The OS releases the flock when the holder
// dies; the holder record lets a new process report who crashed and reclaim
// a stale lock explicitly.
type PipelineLock struct {
	name       string
	lockPath   string
	holderPath string
	flock      *flock.Flock
	staleAfter time.Duration
	logger     *slog.Logger
	locked     bool
}

// LockOption configures a PipelineLock.
type LockOption func(*PipelineLock)

// WithStaleAfter overrides the stale-holder age.
func WithStaleAfter(d time.Duration) LockOption {
	return func(l *PipelineLock) {
		if d > 0 {
			l.staleAfter = d
		}
	}
}

// WithLockLogger overrides the lock's logger.
func WithLockLogger(logger *slog.Logger) LockOption {
	return func(l *PipelineLock) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewPipelineLock creates a lock named name under dir.
func NewPipelineLock(dir, name string, opts ...LockOption) *PipelineLock {
	lockPath := filepath.Join(dir, name+".lock")
	l := &PipelineLock{
		name:       name,
		lockPath:   lockPath,
		holderPath: lockPath + ".holder",
		flock:      flock.New(lockPath),
		staleAfter: DefaultStaleAfter,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire takes the lock without blocking. When another live process holds
// it, the error carries the holder's identity. A holder record left behind
// by a dead process is reclaimed and logged.
func (l *PipelineLock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.lockPath), 0o755); err != nil {
		return cerrors.Wrap(cerrors.ErrCodeFilePermission, err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return cerrors.Wrap(cerrors.ErrCodeFilePermission, err)
	}
	if !acquired {
		holder, _ := l.Holder()
		if holder != nil {
			return cerrors.New(cerrors.ErrCodeLockHeld,
				"pipeline lock held by pid "+strconv.Itoa(holder.PID), nil)
		}
		return cerrors.New(cerrors.ErrCodeLockHeld, "pipeline lock held", nil)
	}

	if stale, _ := l.Holder(); stale != nil {
		age := time.Since(stale.AcquiredAt)
		if age > l.staleAfter {
			l.logger.Warn("reclaiming stale pipeline lock",
				"name", l.name, "previous_pid", stale.PID, "age", age.String())
		} else {
			l.logger.Info("reclaiming lock from dead process",
				"name", l.name, "previous_pid", stale.PID)
		}
	}

	l.locked = true
	return l.writeHolder()
}

// Release drops the lock and its holder record. Safe to call when not held.
func (l *PipelineLock) Release() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	_ = os.Remove(l.holderPath)
	return l.flock.Unlock()
}

// WithLock runs fn under the lock, releasing on every exit path.
func (l *PipelineLock) WithLock(fn func() error) error {
	if err := l.Acquire(); err != nil {
		return err
	}
	defer l.Release()
	return fn()
}

// Holder reads the current holder record, nil when none exists.
func (l *PipelineLock) Holder() (*LockHolder, error) {
	data, err := os.ReadFile(l.holderPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var h LockHolder
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// IsLocked reports whether this process holds the lock.
func (l *PipelineLock) IsLocked() bool { return l.locked }

func (l *PipelineLock) writeHolder() error {
	data, err := json.Marshal(LockHolder{
		PID:        os.Getpid(),
		AcquiredAt: time.Now().UTC(),
		Name:       l.name,
	})
	if err != nil {
		return err
	}
	return os.WriteFile(l.holderPath, data, 0o644)
}
