package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrLocked is returned by TryLock when the lock is already held, meaning a
// fetch for the same account is in flight elsewhere.
var ErrLocked = errors.New("lock is already held")

// Locker serialises fetches per account. The Redis implementation covers
// multi-instance deployments; LocalLocker covers a single process without
// Redis.
type Locker interface {
	// TryLock acquires the named lock or returns ErrLocked. On success the
	// returned function releases the lock and MUST be called.
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// RedisLocker implements Locker with the SET NX EX pattern.
type RedisLocker struct {
	redis *Redis
}

// NewRedisLocker wraps an existing Redis connection.
func NewRedisLocker(r *Redis) *RedisLocker {
	return &RedisLocker{redis: r}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	// Random token ensures only the holder can release the lock.
	token := uuid.NewString()

	ok, err := l.redis.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("cache lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLocked
	}

	// unlock deletes the key only if the token still matches.
	unlockScript := `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		end
		return 0
	`
	return func() {
		// Background context so unlock works even if the request context is
		// already cancelled.
		_ = l.redis.client.Eval(context.Background(), unlockScript, []string{key}, token).Err()
	}, nil
}

// IsLocked reports whether the lock key currently exists.
func (l *RedisLocker) IsLocked(ctx context.Context, key string) bool {
	n, _ := l.redis.client.Exists(ctx, key).Result()
	return n > 0
}

// LocalLocker is an in-process Locker used when no Redis URL is configured.
// TTLs are ignored; locks live until released or the process exits.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalLocker creates an empty in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

func (l *LocalLocker) TryLock(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, ErrLocked
	}
	l.held[key] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}
