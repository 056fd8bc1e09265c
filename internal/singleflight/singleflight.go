// Package singleflight enforces the one-running-job-per-user rule with a
// Redis lock. The jobs table is checked as well, but the lock closes the
// window between that check and the job row becoming visible.
package singleflight

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type Guard struct {
	rdb *redis.Client
	ttl time.Duration
}

// New creates a Guard. The TTL is a safety net: if a process dies holding a
// lock, the user is blocked for at most ttl rather than forever.
func New(rdb *redis.Client, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Guard{rdb: rdb, ttl: ttl}
}

func key(userID uuid.UUID) string {
	return fmt.Sprintf("scrape:inflight:%s", userID)
}

// Acquire takes the user's in-flight slot. Returns false when another job
// already holds it.
func (g *Guard) Acquire(ctx context.Context, userID uuid.UUID) (bool, error) {
	return g.rdb.SetNX(ctx, key(userID), time.Now().Unix(), g.ttl).Result()
}

// Release frees the slot. DEL on a missing key is a no-op, so a double
// release is harmless.
func (g *Guard) Release(ctx context.Context, userID uuid.UUID) error {
	return g.rdb.Del(ctx, key(userID)).Err()
}
