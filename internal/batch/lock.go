package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultLockKey is the Redis key guarding the tick.
const DefaultLockKey = "stockalert:tick-lock"

// TickLock prevents two ticks from running at the same time.
type TickLock interface {
	// Acquire tries to take the lock for at most ttl. ok is false when another holder has it.
	Acquire(ctx context.Context, ttl time.Duration) (token string, ok bool, err error)
	// Release frees the lock if token still owns it.
	Release(ctx context.Context, token string) error
}

// LocalLock is an in-process TickLock.
type LocalLock struct {
	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewLocalLock creates an in-process lock.
func NewLocalLock() *LocalLock {
	return &LocalLock{}
}

// Acquire takes the lock unless a live holder owns it.
func (l *LocalLock) Acquire(ctx context.Context, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if l.token != "" && now.Before(l.expires) {
		return "", false, nil
	}
	l.token = uuid.New().String()
	l.expires = now.Add(ttl)
	return l.token, true, nil
}

// Release frees the lock if token owns it.
func (l *LocalLock) Release(ctx context.Context, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.token == token {
		l.token = ""
	}
	return nil
}

// releaseScript deletes the key only if it still holds the caller's token.
var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// RedisLock is a TickLock shared by every replica using the same Redis.
type RedisLock struct {
	client redis.Cmdable
	key    string
}

// NewRedisLock creates a Redis-backed lock on key (DefaultLockKey when empty).
func NewRedisLock(client redis.Cmdable, key string) *RedisLock {
	if key == "" {
		key = DefaultLockKey
	}
	return &RedisLock{client: client, key: key}
}

// Acquire sets the key with NX and a ttl so a crashed holder cannot block later ticks.
func (l *RedisLock) Acquire(ctx context.Context, ttl time.Duration) (string, bool, error) {
	token := uuid.New().String()
	ok, err := l.client.SetNX(ctx, l.key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire tick lock: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release deletes the key if token still owns it.
func (l *RedisLock) Release(ctx context.Context, token string) error {
	err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release tick lock: %w", err)
	}
	return nil
}
