// Copyright (c) 2026 Machiyomi. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package pipeline

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taibuivan/machiyomi/internal/platform/constants"
	"github.com/taibuivan/machiyomi/pkg/uuidv7"
)

// # Cycle Leader Lock

// releaseScript deletes the lock key only when this holder still owns it, so
// a runner that overran its TTL cannot release a lock re-acquired elsewhere.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// CycleLock is a best-effort single-runner guard backed by Redis SET NX.
//
// # Contract
//
// Correctness never depends on the lock: every storage mutation in the
// pipeline is individually idempotent. The lock only prevents two runners
// from wasting the sources' rate budgets on the same cycle.
type CycleLock struct {
	client *redis.Client
	holder string
	ttl    time.Duration
}

// NewCycleLock builds a lock whose TTL should exceed the cycle budget.
func NewCycleLock(client *redis.Client, ttl time.Duration) *CycleLock {
	return &CycleLock{
		client: client,
		holder: uuidv7.New(),
		ttl:    ttl,
	}
}

// TryAcquire attempts to take the lock without blocking.
func (lock *CycleLock) TryAcquire(ctx context.Context) (bool, error) {
	return lock.client.SetNX(ctx, constants.RedisKeyCycleLock, lock.holder, lock.ttl).Result()
}

// Release frees the lock if this runner still holds it.
func (lock *CycleLock) Release(ctx context.Context) error {
	return lock.client.Eval(ctx, releaseScript, []string{constants.RedisKeyCycleLock}, lock.holder).Err()
}
