// Package scheduler provides periodic background sync for the coaching cache.
// Event-driven triggers (local edits, connectivity regained) cover most cases;
// the scheduler is the fallback that keeps a long-running daemon fresh even
// when nothing happens locally.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/claricoach/backend/internal/logging"
	syncpkg "github.com/claricoach/backend/internal/sync"
)

// DefaultInterval is how often the scheduler requests a sync when online.
const DefaultInterval = 15 * time.Minute

// Scheduler requests a sync pass at a fixed interval while the host is online.
// It never runs a pass itself: triggers go through the orchestrator, which
// applies its own debounce and single-flight rules.
type Scheduler struct {
	engine   syncpkg.Orchestrator
	online   func() bool
	interval time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup

	mu        sync.Mutex
	isRunning bool
	lastTick  time.Time
}

// New creates a Scheduler. online reports current connectivity; a nil online
// function means the host is assumed reachable. A non-positive interval falls
// back to DefaultInterval.
func New(engine syncpkg.Orchestrator, online func() bool, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		engine:   engine,
		online:   online,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the background tick loop. Calling Start on a running
// scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx)

	logging.Info("Background sync scheduler started", map[string]interface{}{
		"interval": s.interval.String(),
	})
}

// Stop halts the tick loop and waits for it to exit. Safe to call on a
// scheduler that was never started.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	logging.Info("Background sync scheduler stopped", nil)
}

// LastTick returns the time of the most recent sync request, or the zero time
// when no tick has fired yet.
func (s *Scheduler) LastTick() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTick
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if s.online != nil && !s.online() {
				logging.Debug("Skipping scheduled sync while offline", nil)
				continue
			}

			s.mu.Lock()
			s.lastTick = time.Now()
			s.mu.Unlock()

			logging.Debug("Requesting scheduled sync", nil)
			s.engine.TriggerSync()
		}
	}
}
