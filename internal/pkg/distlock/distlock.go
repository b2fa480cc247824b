// Package distlock guards batch dispatch runs across processes.
package distlock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotHeld is returned when extending or releasing a lock this instance
// does not own.
var ErrNotHeld = errors.New("distlock: lock not held")

// DistLock is the interface for distributed locking.
// Implementations must be safe for use from a single goroutine;
// concurrent use across goroutines requires separate lock instances.
type DistLock interface {
	// Acquire tries to acquire the lock. Returns true if successful.
	Acquire(ctx context.Context) (bool, error)
	// Release releases the lock if we still own it.
	Release(ctx context.Context) error
}

// Extender is implemented by locks that expire and can be kept alive
// during long runs.
type Extender interface {
	Extend(ctx context.Context, ttl time.Duration) error
}

// Factory hands out per-batch locks from whichever backend is configured.
// A nil *Factory or one with no backend yields no locks.
type Factory struct {
	redis *redis.Client
	db    *sql.DB
	ttl   time.Duration
}

// NewFactory prefers Redis when a client is given and falls back to
// PostgreSQL advisory locks on lockDB. lockDB must be a pool of its own,
// not the one the recipient store uses; see PGAdvisoryLock.
func NewFactory(redisClient *redis.Client, lockDB *sql.DB, ttl time.Duration) *Factory {
	return &Factory{redis: redisClient, db: lockDB, ttl: ttl}
}

// Enabled reports whether the factory has a backend.
func (f *Factory) Enabled() bool {
	return f != nil && (f.redis != nil || f.db != nil)
}

// TTL is the expiry applied to Redis locks.
func (f *Factory) TTL() time.Duration { return f.ttl }

// ForBatch returns an unacquired lock for a batch's dispatch run, or nil
// when the factory is disabled.
func (f *Factory) ForBatch(batchID string) DistLock {
	if !f.Enabled() {
		return nil
	}
	return NewLock(f.redis, f.db, BatchKey(batchID), f.ttl)
}

// BatchKey is the lock name used for a batch's dispatch run.
func BatchKey(batchID string) string { return "dispatch:" + batchID }

// NewLock creates a distributed lock using the best available backend.
// If redisClient is non-nil, uses Redis (preferred for cross-host locking).
// Otherwise falls back to PostgreSQL advisory locks.
func NewLock(redisClient *redis.Client, db *sql.DB, key string, ttl time.Duration) DistLock {
	if redisClient != nil {
		return NewRedisLock(redisClient, key, ttl)
	}
	return NewPGAdvisoryLock(db, key)
}

// connWait bounds how long Acquire waits for a free pool connection.
var connWait = 5 * time.Second

// PGAdvisoryLock implements DistLock using session-scoped advisory locks.
// The lock pins one pooled connection for as long as it is held, so the
// pool behind it must not be the one the run writes through: a full pool
// would leave those writes waiting on connections no run can give back.
// Open a separate *sql.DB for locks.
type PGAdvisoryLock struct {
	db     *sql.DB
	lockID int64
	conn   *sql.Conn
}

// NewPGAdvisoryLock creates a PG advisory lock with a deterministic lock ID
// derived from the given key string.
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{
		db:     db,
		lockID: int64(h.Sum64()),
	}
}

// Acquire tries pg_try_advisory_lock, which returns immediately.
func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	if l.conn != nil {
		return true, nil
	}
	connCtx, cancel := context.WithTimeout(ctx, connWait)
	defer cancel()
	conn, err := l.db.Conn(connCtx)
	if err != nil {
		return false, fmt.Errorf("advisory lock conn: %w", err)
	}
	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired); err != nil {
		conn.Close()
		return false, err
	}
	if !acquired {
		conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

// Release unlocks and returns the connection to the pool.
func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	if l.conn == nil {
		return ErrNotHeld
	}
	conn := l.conn
	l.conn = nil
	defer conn.Close()
	_, err := conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	return err
}
