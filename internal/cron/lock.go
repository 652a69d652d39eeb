package cron

import (
	"context"
	"time"

	"github.com/angelmondragon/reviewflow-backend/pkg/redis"
)

const defaultLockTTL = 10 * time.Minute

// Lock coordinates exclusive cron runs across worker replicas.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// NewRedisLock builds the cycle lock on top of the shared redis lease.
func NewRedisLock(store redis.LockStore, key string, ttl time.Duration) (Lock, error) {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return redis.NewLock(store, key, ttl)
}
