package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
)

// ErrLockBusy indicates another process holds the critical section.
var ErrLockBusy = Errorf(ErrConstraint, "operation already in progress, retry later")

// PeriodLockKey builds redis keys for fiscal period state changes.
func PeriodLockKey(tenantID, periodID int64) string {
	return fmt.Sprintf("treasury:tenant:%d:period:%d:lock", tenantID, periodID)
}

// RedisLocker guards cross-process critical sections with redislock.
type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
}

// NewRedisLocker wraps the redislock client; ttl bounds how long a crashed holder blocks others.
func NewRedisLocker(client redislock.RedisClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{client: redislock.New(client), ttl: ttl}
}

// Lock obtains key without retrying. The returned func releases it.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	lock, err := l.client.Obtain(ctx, key, l.ttl, nil)
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, ErrLockBusy
		}
		return nil, fmt.Errorf("shared: obtain lock %s: %w", key, err)
	}
	return func() {
		_ = lock.Release(context.WithoutCancel(ctx))
	}, nil
}
