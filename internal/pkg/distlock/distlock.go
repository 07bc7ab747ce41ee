// Package distlock guards periodic sweeps (automation replay, reminder
// processing, day-offset reminders) against concurrent scheduler
// invocations. A sweep that cannot take its lock skips the tick instead of
// double-processing; the one-way flags on individual rows are a second line
// of defense, not a substitute for this exclusion.
package distlock

import (
	"context"
	"database/sql"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"
)

// SweepLock is the interface for a per-sweep mutual exclusion lease.
// A lock instance belongs to a single goroutine.
type SweepLock interface {
	// Acquire tries to take the lease. Returns true if successful.
	Acquire(ctx context.Context) (bool, error)
	// Release releases the lease if we still own it.
	Release(ctx context.Context) error
}

// leaseGrace is how far a Redis lease outlives the sweep interval. A slow
// pass holds its lease into the next tick instead of racing it; a crashed
// worker frees the lease one grace period later.
const leaseGrace = 30 * time.Second

// NewLock creates a lock for a sweep that runs every interval, using the
// best available backend. A non-nil Redis client is preferred (cross-host
// exclusion, lease sized to the interval plus grace); otherwise PostgreSQL
// advisory locks are used, which release with the session instead of by
// expiry.
func NewLock(redisClient *redis.Client, db *sql.DB, sweep string, interval time.Duration) SweepLock {
	if redisClient != nil {
		return NewRedisLock(redisClient, sweep, interval+leaseGrace)
	}
	return NewPGAdvisoryLock(db, sweep)
}

// =============================================================================
// PostgreSQL Advisory Lock (fallback when Redis is unavailable)
// =============================================================================
// pg_try_advisory_lock / pg_advisory_unlock are session-scoped, so the lock
// is released automatically if the worker's DB connection drops. That gives
// crash-safety similar to Redis TTL expiration.

// PGAdvisoryLock implements SweepLock using PostgreSQL advisory locks.
type PGAdvisoryLock struct {
	db     *sql.DB
	lockID int64
}

// NewPGAdvisoryLock creates a PG advisory lock with a deterministic lock ID
// derived from the sweep name.
func NewPGAdvisoryLock(db *sql.DB, sweep string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte("sweep:" + sweep))
	return &PGAdvisoryLock{
		db:     db,
		lockID: int64(h.Sum64()),
	}
}

// Acquire tries to take the advisory lock without blocking.
func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	var acquired bool
	err := l.db.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired)
	return acquired, err
}

// Release releases the advisory lock.
func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	return err
}
