// Package connectivity reports whether the remote record store is reachable
// and announces online/offline transitions.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/claricoach/backend/internal/logging"
)

// Observer is the surface the sync engine consumes: current state plus a
// stream of transitions. The engine debounces the stream itself, so an
// implementation is free to be chatty.
type Observer interface {
	// IsConnected reports the last observed state.
	IsConnected() bool

	// Transitions returns a channel that receives the new state on every
	// online/offline flip. The channel is never closed while the observer
	// is running.
	Transitions() <-chan bool
}

// DefaultProbeInterval is how often the Monitor re-checks reachability.
const DefaultProbeInterval = 30 * time.Second

// Probe checks reachability once. A nil error means online.
type Probe func(ctx context.Context) error

// Monitor is a polling Observer built on a Probe, typically the remote
// client's health endpoint.
type Monitor struct {
	probe    Probe
	interval time.Duration

	mu        sync.RWMutex
	connected bool
	started   bool

	transitions chan bool
	stop        chan struct{}
	done        chan struct{}
	startOnce   sync.Once
	stopOnce    sync.Once
}

// NewMonitor creates a Monitor. An interval of zero uses
// DefaultProbeInterval. The monitor starts out offline until the first
// probe succeeds.
func NewMonitor(probe Probe, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	return &Monitor{
		probe:    probe,
		interval: interval,
		// Buffered so a slow consumer never stalls the probe loop; a
		// dropped transition is recovered by the next poll.
		transitions: make(chan bool, 8),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// IsConnected reports the last observed state.
func (m *Monitor) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// Transitions returns the transition stream.
func (m *Monitor) Transitions() <-chan bool {
	return m.transitions
}

// Start launches the probe loop. Safe to call once; further calls are no-ops.
func (m *Monitor) Start() {
	m.startOnce.Do(func() {
		m.mu.Lock()
		m.started = true
		m.mu.Unlock()
		go m.loop()
	})
}

// Stop terminates the probe loop and waits for it to exit. Safe to call on
// a monitor that was never started.
func (m *Monitor) Stop() {
	m.mu.RLock()
	started := m.started
	m.mu.RUnlock()
	if !started {
		return
	}
	m.stopOnce.Do(func() {
		close(m.stop)
	})
	<-m.done
}

func (m *Monitor) loop() {
	defer close(m.done)

	// Probe immediately so startup doesn't wait a full interval.
	m.check()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.check()
		}
	}
}

func (m *Monitor) check() {
	ctx, cancel := context.WithTimeout(context.Background(), m.interval)
	defer cancel()

	online := m.probe(ctx) == nil

	m.mu.Lock()
	changed := online != m.connected
	m.connected = online
	m.mu.Unlock()

	if !changed {
		return
	}

	logging.Info("Connectivity transition", map[string]interface{}{
		"online": online,
	})

	select {
	case m.transitions <- online:
	default:
		// Consumer is behind; the state is still readable via IsConnected.
	}
}
