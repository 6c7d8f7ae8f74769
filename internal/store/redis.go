package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/GiraffeSchool/student-signin-system/internal/ledger"
)

// Redis wraps redis client.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects to redis with short timeouts.
func NewRedis(addr string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
	return &Redis{Client: client}
}

// Ping verifies redis connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	if r == nil || r.Client == nil {
		return errors.New("redis not configured")
	}
	return r.Client.Ping(ctx).Err()
}

// Close closes the connection pool.
func (r *Redis) Close() error {
	if r == nil || r.Client == nil {
		return nil
	}
	return r.Client.Close()
}

// releaseScript deletes the lock only if it still holds our token, so a lock
// that expired and was taken by another instance is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a ledger.Locker shared by every instance pointing at the
// same Redis, built on SET NX PX.
type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	wait   time.Duration
	retry  time.Duration
}

var _ ledger.Locker = (*RedisLocker)(nil)

// NewLocker returns a locker whose keys expire after ttl and which waits at
// most wait for a busy key.
func (r *Redis) NewLocker(prefix string, ttl, wait time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &RedisLocker{client: r.Client, prefix: prefix, ttl: ttl, wait: wait, retry: 50 * time.Millisecond}
}

// Lock acquires key or fails with ledger.ErrLockBusy once the wait elapses.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	k := l.prefix + key
	owner := uuid.NewString()

	waitCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	for {
		ok, err := l.client.SetNX(waitCtx, k, owner, l.ttl).Result()
		if err != nil {
			if waitCtx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", ledger.ErrLockBusy, waitCtx.Err())
			}
			return nil, fmt.Errorf("redis lock %s: %w", k, err)
		}
		if ok {
			return func() {
				relCtx, relCancel := context.WithTimeout(context.Background(), time.Second)
				defer relCancel()
				_ = releaseScript.Run(relCtx, l.client, []string{k}, owner).Err()
			}, nil
		}

		select {
		case <-waitCtx.Done():
			return nil, fmt.Errorf("%w: %v", ledger.ErrLockBusy, waitCtx.Err())
		case <-time.After(l.retry):
		}
	}
}
