package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/weathercover/internal/domain"
)

// RateLimiter implements domain.RateLimiter with an in-process sliding
// window per key.
type RateLimiter struct {
	mu   sync.Mutex
	hits map[string][]time.Time
	now  func() time.Time
}

// NewRateLimiter creates an empty RateLimiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{hits: make(map[string][]time.Time), now: time.Now}
}

// Allow reports whether one more hit on key fits in limit per window.
func (rl *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return false, nil
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cutoff := now.Add(-window)
	kept := rl.hits[key][:0]
	for _, t := range rl.hits[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= limit {
		rl.hits[key] = kept
		return false, nil
	}
	rl.hits[key] = append(kept, now)
	return true, nil
}

// RequestCache implements domain.RequestCache with a plain map. Entries are
// deep-copied in both directions. seen holds the newest version observed per
// id and outlives invalidation.
type RequestCache struct {
	mu   sync.RWMutex
	reqs map[int64]domain.InsuranceRequest
	seen map[int64]int64
}

// NewRequestCache creates an empty RequestCache.
func NewRequestCache() *RequestCache {
	return &RequestCache{
		reqs: make(map[int64]domain.InsuranceRequest),
		seen: make(map[int64]int64),
	}
}

func (c *RequestCache) Set(_ context.Context, req domain.InsuranceRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if req.Version < c.seen[req.ID] {
		return nil
	}
	c.seen[req.ID] = req.Version
	c.reqs[req.ID] = req.Clone()
	return nil
}

func (c *RequestCache) Get(_ context.Context, id int64) (domain.InsuranceRequest, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	req, ok := c.reqs[id]
	if !ok {
		return domain.InsuranceRequest{}, domain.ErrNotFound
	}
	return req.Clone(), nil
}

func (c *RequestCache) Invalidate(_ context.Context, id int64, version int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.reqs, id)
	if version > c.seen[id] {
		c.seen[id] = version
	}
	return nil
}

var (
	_ domain.RateLimiter  = (*RateLimiter)(nil)
	_ domain.RequestCache = (*RequestCache)(nil)
)
