package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/claricoach/backend/internal/models"
	syncpkg "github.com/claricoach/backend/internal/sync"
)

// fakeEngine counts trigger requests.
type fakeEngine struct {
	triggers atomic.Int64
}

func (f *fakeEngine) TriggerSync() { f.triggers.Add(1) }

func (f *fakeEngine) PerformSync(ctx context.Context) (*syncpkg.Result, error) {
	return &syncpkg.Result{}, nil
}

func (f *fakeEngine) QueueProfileUpdate(p *models.ContextProfile) error { return nil }

func (f *fakeEngine) IsSyncing() bool { return false }

func (f *fakeEngine) LastSyncedAt() *time.Time { return nil }

func (f *fakeEngine) LastResult() *syncpkg.Result { return nil }

func (f *fakeEngine) Subscribe() <-chan struct{} { return make(chan struct{}) }

func waitForTriggers(t *testing.T, engine *fakeEngine, want int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if engine.triggers.Load() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected at least %d triggers, got %d", want, engine.triggers.Load())
}

func TestSchedulerTriggersPeriodically(t *testing.T) {
	engine := &fakeEngine{}
	s := New(engine, nil, 10*time.Millisecond)

	s.Start(context.Background())
	defer s.Stop()

	waitForTriggers(t, engine, 2)

	if s.LastTick().IsZero() {
		t.Error("expected LastTick to be recorded")
	}
}

func TestSchedulerSkipsWhileOffline(t *testing.T) {
	engine := &fakeEngine{}
	s := New(engine, func() bool { return false }, 10*time.Millisecond)

	s.Start(context.Background())
	defer s.Stop()

	time.Sleep(60 * time.Millisecond)

	if got := engine.triggers.Load(); got != 0 {
		t.Errorf("expected no triggers while offline, got %d", got)
	}
	if !s.LastTick().IsZero() {
		t.Error("expected no recorded tick while offline")
	}
}

func TestSchedulerResumesWhenOnline(t *testing.T) {
	engine := &fakeEngine{}
	var online atomic.Bool
	s := New(engine, online.Load, 10*time.Millisecond)

	s.Start(context.Background())
	defer s.Stop()

	time.Sleep(40 * time.Millisecond)
	online.Store(true)

	waitForTriggers(t, engine, 1)
}

func TestSchedulerStopIsIdempotent(t *testing.T) {
	engine := &fakeEngine{}
	s := New(engine, nil, time.Hour)

	s.Stop() // never started

	s.Start(context.Background())
	s.Start(context.Background()) // second Start is a no-op
	s.Stop()
	s.Stop()
}

func TestSchedulerDefaultInterval(t *testing.T) {
	s := New(&fakeEngine{}, nil, 0)
	if s.interval != DefaultInterval {
		t.Errorf("expected default interval %v, got %v", DefaultInterval, s.interval)
	}
}

func TestSchedulerStopsOnContextCancel(t *testing.T) {
	engine := &fakeEngine{}
	s := New(engine, nil, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()

	time.Sleep(30 * time.Millisecond)
	before := engine.triggers.Load()
	time.Sleep(50 * time.Millisecond)
	if after := engine.triggers.Load(); after != before {
		t.Errorf("expected no triggers after cancel, got %d more", after-before)
	}
}
