package domain

import (
	"context"
	"time"
)

// MarketCache is a read-through cache for market rows. Misses return
// ErrNotFound; the caller falls back to the store.
type MarketCache interface {
	Get(ctx context.Context, id string) (Market, error)
	Set(ctx context.Context, m Market) error
	Invalidate(ctx context.Context, id string) error
}

// LockManager provides distributed mutual exclusion. Acquire returns an
// unlock function on success and ErrLockHeld when another holder owns the
// key. Used to keep concurrent resolution coordinators off the same market.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}
