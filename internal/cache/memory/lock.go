// Package memory provides in-process implementations of the cache interfaces
// for single-instance deployments without Redis.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/weathercover/internal/domain"
)

type heldLock struct {
	token   string
	expires time.Time
}

// LockManager implements domain.LockManager with a mutex-guarded map. Expired
// entries are treated as free, matching the TTL semantics of the Redis lock.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]heldLock
	now   func() time.Time
}

// NewLockManager creates an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{locks: make(map[string]heldLock), now: time.Now}
}

// Acquire takes key for ttl or returns domain.ErrLockHeld.
func (lm *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (domain.Lease, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	now := lm.now()
	if cur, ok := lm.locks[key]; ok && now.Before(cur.expires) {
		return nil, domain.ErrLockHeld
	}
	token := uuid.NewString()
	lm.locks[key] = heldLock{token: token, expires: now.Add(ttl)}
	return &lease{lm: lm, key: key, token: token}, nil
}

type lease struct {
	lm    *LockManager
	key   string
	token string
	once  sync.Once
}

// Extend renews the lease while it is still the unexpired owner of key.
func (l *lease) Extend(_ context.Context, ttl time.Duration) error {
	l.lm.mu.Lock()
	defer l.lm.mu.Unlock()

	now := l.lm.now()
	cur, ok := l.lm.locks[l.key]
	if !ok || cur.token != l.token || !now.Before(cur.expires) {
		return domain.ErrLockHeld
	}
	l.lm.locks[l.key] = heldLock{token: l.token, expires: now.Add(ttl)}
	return nil
}

func (l *lease) Release() {
	l.once.Do(func() {
		l.lm.mu.Lock()
		defer l.lm.mu.Unlock()
		if cur, ok := l.lm.locks[l.key]; ok && cur.token == l.token {
			delete(l.lm.locks, l.key)
		}
	})
}

var _ domain.LockManager = (*LockManager)(nil)
