package sweep

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lock serializes sweep passes across engine instances.
type Lock interface {
	// Acquire reports whether this instance holds the lock for the pass.
	Acquire(ctx context.Context) (bool, error)
	// Release frees the lock if still held by this instance.
	Release(ctx context.Context)
}

// NoopLock always grants the lock. Single-instance deployments and tests.
type NoopLock struct{}

func (NoopLock) Acquire(context.Context) (bool, error) { return true, nil }
func (NoopLock) Release(context.Context)               {}

// releaseScript deletes the key only when this instance still owns it, so an
// expired-and-reacquired lock is never released out from under its new owner.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLock is a TTL lock on a single Redis key. The TTL bounds how long a
// crashed holder can block other instances.
type RedisLock struct {
	client redis.Cmdable
	key    string
	id     string
	ttl    time.Duration
}

// NewRedisLock builds a lock on the given key. The TTL should comfortably
// exceed one sweep pass.
func NewRedisLock(client redis.Cmdable, key string, ttl time.Duration) *RedisLock {
	return &RedisLock{
		client: client,
		key:    key,
		id:     uuid.NewString(),
		ttl:    ttl,
	}
}

func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.id, l.ttl).Result()
}

func (l *RedisLock) Release(ctx context.Context) {
	releaseScript.Run(ctx, l.client, []string{l.key}, l.id)
}
