package service

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Scheduler drives a periodic tick function. Start and Stop are called with
// the monitor's entry lock held and must not block on a running tick.
type Scheduler interface {
	Start(tick func(context.Context))
	Stop()
}

// TickerScheduler runs tick immediately and then on every interval of a
// clockwork ticker until stopped.
type TickerScheduler struct {
	clock    clockwork.Clock
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewTickerScheduler creates a TickerScheduler.
func NewTickerScheduler(clock clockwork.Clock, interval time.Duration) *TickerScheduler {
	return &TickerScheduler{clock: clock, interval: interval}
}

// Start launches the loop. Calling Start while running is a no-op.
func (s *TickerScheduler) Start(tick func(context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	go func() {
		ticker := s.clock.NewTicker(s.interval)
		defer ticker.Stop()

		tick(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				tick(ctx)
			}
		}
	}()
}

// Stop cancels the loop without waiting for an in-flight tick.
func (s *TickerScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}
