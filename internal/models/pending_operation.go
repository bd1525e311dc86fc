// Package models provides data model definitions for the ClariCoach core.
package models

import (
	"encoding/json"
	"time"
)

// Pending operation statuses. A pending entry is eligible for replay; a
// failed entry reached its retry cap and is retained for inspection only.
const (
	OperationStatusPending = "pending"
	OperationStatusFailed  = "failed"
)

// PendingOperation represents a durable write intent that has not yet been
// confirmed accepted by the remote authority. Entries survive process
// restarts; this is the only path by which an offline write becomes durable.
type PendingOperation struct {
	ID         UUID            `db:"id" json:"id"`
	Kind       string          `db:"kind" json:"kind"` // update_context_profile
	Payload    json.RawMessage `db:"payload" json:"payload"`
	RetryCount int             `db:"retry_count" json:"retry_count"`
	MaxRetries int             `db:"max_retries" json:"max_retries"`
	Status     string          `db:"status" json:"status"` // pending, failed
	LastError  string          `db:"last_error" json:"last_error,omitempty"`
	EnqueuedAt int64           `db:"enqueued_at" json:"enqueued_at"`
	UpdatedAt  int64           `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for PendingOperation.
func (PendingOperation) TableName() string {
	return "pending_operations"
}

// EnqueuedAtTime returns the EnqueuedAt as time.Time.
func (p *PendingOperation) EnqueuedAtTime() time.Time {
	return time.Unix(p.EnqueuedAt, 0)
}
