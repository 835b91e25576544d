package scheduler

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

const lockKeyPrefix = "scheduler:lock:"

// RedisJobLock hands out per-job slots via SET NX with a minimum hold.
// Locks are never released early; the hold expiring is what opens the
// next tick, which keeps a fast-crashing worker from hammering a job.
type RedisJobLock struct {
	rdb     *redis.Client
	minHold time.Duration
	owner   string
}

// NewRedisJobLock constructs a RedisJobLock.
func NewRedisJobLock(rdb *redis.Client, minHold time.Duration) *RedisJobLock {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return &RedisJobLock{rdb: rdb, minHold: minHold, owner: host}
}

// TryAcquire claims the job slot for this tick. False means another worker
// got there first.
func (l *RedisJobLock) TryAcquire(ctx context.Context, job string) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, lockKeyPrefix+job, l.owner, l.minHold).Result()
	if err != nil {
		return false, fmt.Errorf("acquire scheduler lock for %s: %w", job, err)
	}
	return ok, nil
}
