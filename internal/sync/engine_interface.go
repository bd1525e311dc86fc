// Package sync provides synchronization interfaces and implementations.
package sync

import (
	"context"
	"time"

	"github.com/claricoach/backend/internal/models"
)

// Orchestrator defines the public sync surface consumed by the host
// processes and handlers. It allows mocking the engine in tests.
type Orchestrator interface {
	// TriggerSync schedules a debounced, fire-and-forget sync pass.
	TriggerSync()

	// PerformSync runs one full sync pass and waits for it. A concurrent
	// call while a pass is in flight is a no-op.
	PerformSync(ctx context.Context) (*Result, error)

	// QueueProfileUpdate records a local profile edit for durable delivery.
	QueueProfileUpdate(p *models.ContextProfile) error

	// IsSyncing reports whether a sync body is currently executing.
	IsSyncing() bool

	// LastSyncedAt returns when the last pass finished, nil before the first.
	LastSyncedAt() *time.Time

	// LastResult returns the statistics of the last completed pass, or nil.
	LastResult() *Result

	// Subscribe returns a channel signalled once per completed pass.
	Subscribe() <-chan struct{}
}

// Engine implements Orchestrator.
var _ Orchestrator = (*Engine)(nil)
