package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/alanyoungcy/yieldbridge/internal/domain"
)

// LockManager is an in-process domain.LockManager for single-instance
// deployments without Redis. Expired locks may be taken over.
type LockManager struct {
	clock clockwork.Clock

	mu    sync.Mutex
	held  map[string]time.Time // key -> expiry
	token map[string]uint64
	next  uint64
}

// NewLockManager creates a LockManager.
func NewLockManager(clock clockwork.Clock) *LockManager {
	return &LockManager{
		clock: clock,
		held:  make(map[string]time.Time),
		token: make(map[string]uint64),
	}
}

// Acquire takes key for ttl or fails with domain.ErrLockHeld.
func (lm *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	now := lm.clock.Now()
	if exp, ok := lm.held[key]; ok && now.Before(exp) {
		return nil, fmt.Errorf("memory: acquire lock %s: %w", key, domain.ErrLockHeld)
	}
	lm.next++
	tok := lm.next
	lm.held[key] = now.Add(ttl)
	lm.token[key] = tok

	var once sync.Once
	return func() {
		once.Do(func() {
			lm.mu.Lock()
			defer lm.mu.Unlock()
			if lm.token[key] == tok {
				delete(lm.held, key)
				delete(lm.token, key)
			}
		})
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)
