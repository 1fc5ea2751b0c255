package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DistributedLock provides mutual exclusion for migration runs across
// multiple processes or nodes.
type DistributedLock interface {
	// Acquire obtains the lock for the given key. The returned release function
	// must be called to release the lock. The lock is held until release is called
	// or the context is cancelled.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Lock backends accepted by NewLock.
const (
	LockPostgres = "postgres"
	LockSQLite   = "sqlite"
	LockRedis    = "redis"
)

// NewLock returns the lock for a backend name. db is used by the postgres
// backend and rc by the redis backend.
func NewLock(backend string, db *sql.DB, rc RedisClient) (DistributedLock, error) {
	switch backend {
	case LockPostgres:
		if db == nil {
			return nil, errors.New("postgres lock requires a database")
		}
		return NewPostgresLock(db), nil
	case LockSQLite, "":
		return NewSQLiteLock(db), nil
	case LockRedis:
		if rc == nil {
			return nil, errors.New("redis lock requires a redis client")
		}
		return NewRedisLock(rc), nil
	default:
		return nil, fmt.Errorf("unknown lock backend %q", backend)
	}
}

// PostgresLock implements DistributedLock using PostgreSQL advisory locks.
type PostgresLock struct {
	db *sql.DB
}

// NewPostgresLock creates a new PostgresLock.
func NewPostgresLock(db *sql.DB) *PostgresLock {
	return &PostgresLock{db: db}
}

// Acquire obtains a PostgreSQL advisory lock on a dedicated connection, since
// advisory locks belong to the session that took them. The key is hashed to
// an int64.
func (l *PostgresLock) Acquire(ctx context.Context, key string) (func(), error) {
	lockID := hashLockKey(key)

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("lock connection for %s: %w", key, err)
	}

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, lockID); err != nil {
		conn.Close()
		return nil, fmt.Errorf("pg_advisory_lock(%d): %w", lockID, err)
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, lockID)
			conn.Close()
		})
	}
	return release, nil
}

// SQLiteLock implements DistributedLock using a process-local mutex.
// SQLite is single-writer and its file locking covers other processes.
type SQLiteLock struct {
	mu sync.Mutex
}

// NewSQLiteLock creates a new SQLiteLock. The db parameter is accepted for
// symmetry with NewPostgresLock.
func NewSQLiteLock(_ *sql.DB) *SQLiteLock {
	return &SQLiteLock{}
}

// Acquire obtains the mutex lock. Returns an error if the context is already cancelled.
func (l *SQLiteLock) Acquire(ctx context.Context, _ string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("acquire sqlite lock: %w", err)
	}

	l.mu.Lock()
	var once sync.Once
	return func() { once.Do(l.mu.Unlock) }, nil
}

// RedisClient is the subset of go-redis client methods used by RedisLock.
type RedisClient interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

// releaseScript deletes the key only while it still holds our token, so an
// expired lock re-taken by another runner is never released by us.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

// RedisLock implements DistributedLock with SET NX PX and a token-checked
// release. It serialises migration runners that do not share a database
// session, e.g. several deploy jobs against a pooled endpoint.
type RedisLock struct {
	client RedisClient
	prefix string
	ttl    time.Duration
	retry  time.Duration
}

// RedisLockOption configures a RedisLock.
type RedisLockOption func(*RedisLock)

// WithLockTTL sets how long an unreleased lock survives a crashed holder.
func WithLockTTL(d time.Duration) RedisLockOption {
	return func(l *RedisLock) { l.ttl = d }
}

// WithLockRetry sets the polling interval while the lock is held elsewhere.
func WithLockRetry(d time.Duration) RedisLockOption {
	return func(l *RedisLock) { l.retry = d }
}

// NewRedisLock creates a RedisLock.
func NewRedisLock(client RedisClient, opts ...RedisLockOption) *RedisLock {
	l := &RedisLock{
		client: client,
		prefix: "mcctl:lock:",
		ttl:    10 * time.Minute,
		retry:  100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire polls SET NX until the key is free or ctx is done.
func (l *RedisLock) Acquire(ctx context.Context, key string) (func(), error) {
	redisKey := l.prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis lock %s: %w", redisKey, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("redis lock %s: %w", redisKey, ctx.Err())
		case <-ticker.C:
		}
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			_ = l.client.Eval(context.Background(), releaseScript, []string{redisKey}, token).Err()
		})
	}
	return release, nil
}

// hashLockKey produces a stable int64 hash from a string key for use with
// pg_advisory_lock. Uses FNV-1a.
func hashLockKey(key string) int64 {
	var h uint64 = 14695981039346656037 // FNV offset basis
	for i := 0; i < len(key); i++ {
		h ^= uint64(key[i])
		h *= 1099511628211 // FNV prime
	}
	return int64(h & 0x7FFFFFFFFFFFFFFF) //nolint:gosec // intentional truncation for advisory lock key
}
