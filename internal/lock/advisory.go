// Package lock keeps two harvests of the same job from writing the same
// remote resource at once, using MySQL named locks.
package lock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrLockTimeout is returned when another instance holds the lock.
var ErrLockTimeout = errors.New("lock acquisition timed out")

// Lock wait values in seconds.
const (
	// TimeoutImmediate does not wait.
	TimeoutImmediate = 0
	// TimeoutShort fails fast on a duplicate run.
	TimeoutShort = 1
	// TimeoutInfinite waits until the lock is free (MySQL treats negative as infinite).
	TimeoutInfinite = -1
)

// AdvisoryLock is a MySQL GET_LOCK named lock. MySQL releases it when the
// owning connection closes.
type AdvisoryLock struct {
	db       *sql.DB
	conn     *sql.Conn
	lockName string
	held     bool
}

// NewAdvisoryLock creates an unacquired lock.
func NewAdvisoryLock(db *sql.DB, lockName string) *AdvisoryLock {
	return &AdvisoryLock{db: db, lockName: lockName}
}

// NewJobLock creates the lock guarding a harvest job.
func NewJobLock(db *sql.DB, jobName string) *AdvisoryLock {
	return NewAdvisoryLock(db, GenerateJobLockName(jobName))
}

// GenerateJobLockName returns "goharvest:job:<name>" with every character
// outside [A-Za-z0-9_-] replaced by an underscore.
func GenerateJobLockName(jobName string) string {
	sanitized := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		return '_'
	}, jobName)
	return "goharvest:job:" + sanitized
}

// AcquireLock waits up to timeoutSeconds for the lock. It returns false
// without error when the wait times out.
//
// GET_LOCK is bound to a session, so the lock pins one pooled connection
// until it is released.
func (a *AdvisoryLock) AcquireLock(ctx context.Context, timeoutSeconds int) (bool, error) {
	if a.db == nil {
		return false, errors.New("advisory lock has no database")
	}
	if a.held {
		return true, nil
	}

	conn, err := a.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to reserve connection for lock %q: %w", a.lockName, err)
	}

	var result sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, ?)", a.lockName, timeoutSeconds).Scan(&result); err != nil {
		conn.Close()
		return false, fmt.Errorf("failed to execute GET_LOCK: %w", err)
	}

	if !result.Valid {
		conn.Close()
		return false, fmt.Errorf("GET_LOCK returned NULL for lock %q", a.lockName)
	}

	switch result.Int64 {
	case 1:
		a.conn = conn
		a.held = true
		return true, nil
	case 0:
		conn.Close()
		return false, nil
	default:
		conn.Close()
		return false, fmt.Errorf("unexpected GET_LOCK return value: %d", result.Int64)
	}
}

// AcquireOrFail acquires with TimeoutShort and returns ErrLockTimeout when
// another instance holds the lock.
func (a *AdvisoryLock) AcquireOrFail(ctx context.Context) error {
	acquired, err := a.AcquireLock(ctx, TimeoutShort)
	if err != nil {
		return err
	}
	if !acquired {
		return fmt.Errorf("%w: lock %q is held by another instance", ErrLockTimeout, a.lockName)
	}
	return nil
}

// ReleaseLock releases the lock and its connection. It returns false when
// the lock was not held.
func (a *AdvisoryLock) ReleaseLock(ctx context.Context) (bool, error) {
	if !a.held {
		return false, nil
	}
	defer func() {
		a.conn.Close()
		a.conn = nil
		a.held = false
	}()

	var result sql.NullInt64
	if err := a.conn.QueryRowContext(ctx, "SELECT RELEASE_LOCK(?)", a.lockName).Scan(&result); err != nil {
		return false, fmt.Errorf("failed to execute RELEASE_LOCK: %w", err)
	}
	if !result.Valid {
		return false, fmt.Errorf("RELEASE_LOCK returned NULL for lock %q (lock did not exist)", a.lockName)
	}
	return result.Int64 == 1, nil
}

// IsHeld reports whether this instance holds the lock.
func (a *AdvisoryLock) IsHeld() bool {
	return a.held
}

// LockName returns the MySQL lock name.
func (a *AdvisoryLock) LockName() string {
	return a.lockName
}

// WithLock runs fn while holding the lock and releases it afterwards, even
// if fn panics.
func (a *AdvisoryLock) WithLock(ctx context.Context, timeoutSeconds int, fn func() error) error {
	acquired, err := a.AcquireLock(ctx, timeoutSeconds)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		return fmt.Errorf("%w: lock %q is held by another instance", ErrLockTimeout, a.lockName)
	}

	defer func() {
		// fresh context: ctx may already be cancelled by a signal
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _ = a.ReleaseLock(releaseCtx)
	}()

	return fn()
}
