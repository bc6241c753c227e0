package domain

import (
	"context"
	"time"
)

// RequestCache holds read projections of requests for the API. Set ignores a
// projection older than the newest version the cache has seen for that id,
// whether from an earlier Set or from Invalidate.
type RequestCache interface {
	Set(ctx context.Context, req InsuranceRequest) error
	Get(ctx context.Context, id int64) (InsuranceRequest, error)
	// Invalidate drops the cached copy of id after version was committed.
	Invalidate(ctx context.Context, id int64, version int64) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Lease is a held lock.
type Lease interface {
	// Extend moves the expiry to ttl from now. It returns ErrLockHeld when
	// the lease lapsed and the key is free or owned by another holder.
	Extend(ctx context.Context, ttl time.Duration) error
	// Release frees the lock if this lease still owns it. It is idempotent.
	Release()
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
