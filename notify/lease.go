package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lease guards a sweep across processes. Acquire reports ok=false when
// another holder owns the lease; release must be called once when ok. A
// release error means the lease stays held until it expires.
type Lease interface {
	Acquire(ctx context.Context) (release func() error, ok bool, err error)
}

// DefaultLeaseKey is the Redis key holding the sweep lease.
const DefaultLeaseKey = "insurance:notify:sweep-lease"

// releaseScript deletes the key only if it still holds our token, so an
// expired lease taken over by another process is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLease is a SET NX lease with a TTL. The TTL bounds how long a
// crashed holder blocks other sweeps.
type RedisLease struct {
	Client redis.UniversalClient
	Key    string
	TTL    time.Duration
}

func NewRedisLease(client redis.UniversalClient, ttl time.Duration) *RedisLease {
	return &RedisLease{Client: client, Key: DefaultLeaseKey, TTL: ttl}
}

func (l *RedisLease) Acquire(ctx context.Context) (func() error, bool, error) {
	token := uuid.NewString()
	ok, err := l.Client.SetNX(ctx, l.Key, token, l.TTL).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire sweep lease: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.Client, []string{l.Key}, token).Err(); err != nil {
			return fmt.Errorf("release sweep lease %s: %w", l.Key, err)
		}
		return nil
	}
	return release, true, nil
}
