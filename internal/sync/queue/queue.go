// Package queue provides the durable pending-operation queue for offline
// writes. Entries live in the local database, so a write made offline
// survives any number of process restarts before it reaches the remote.
package queue

import (
	"encoding/json"
	"fmt"

	"github.com/claricoach/backend/internal/db"
	apperrors "github.com/claricoach/backend/internal/errors"
	"github.com/claricoach/backend/internal/logging"
	"github.com/claricoach/backend/internal/models"
)

// Operation kinds. The set is closed: replay dispatches on Kind with an
// exhaustive switch, and an unrecognized kind is dead-lettered rather than
// retried forever.
const (
	KindUpdateContextProfile = "update_context_profile"
)

// ProfileUpdatePayload is the serialized intent of an offline profile edit.
// It snapshots the full profile so replay does not depend on the cache row
// still being in the edited state.
type ProfileUpdatePayload struct {
	UserID         string `json:"user_id"`
	RemoteID       string `json:"remote_id"`
	Values         string `json:"values"`
	Goals          string `json:"goals"`
	Situation      string `json:"situation"`
	Insights       string `json:"insights"`
	LocalUpdatedAt int64  `json:"local_updated_at"`
}

// Queue is the durable FIFO of not-yet-confirmed writes.
type Queue struct {
	store *db.Store
}

// New creates a Queue backed by the given store.
func New(store *db.Store) *Queue {
	return &Queue{store: store}
}

// EnqueueProfileUpdate appends a profile-edit intent to the queue.
func (q *Queue) EnqueueProfileUpdate(p *models.ContextProfile) (*models.PendingOperation, error) {
	if p.LocalUpdatedAt == nil {
		return nil, apperrors.New(apperrors.ErrValidation,
			"cannot queue a profile update without a local edit timestamp")
	}

	payload, err := json.Marshal(&ProfileUpdatePayload{
		UserID:         p.UserID,
		RemoteID:       string(p.RemoteID),
		Values:         p.Values,
		Goals:          p.Goals,
		Situation:      p.Situation,
		Insights:       p.Insights,
		LocalUpdatedAt: *p.LocalUpdatedAt,
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to encode payload", err)
	}

	op := &models.PendingOperation{
		Kind:    KindUpdateContextProfile,
		Payload: payload,
	}
	if err := q.store.EnqueueOperation(op); err != nil {
		return nil, err
	}

	logging.Info("Queued pending operation", map[string]interface{}{
		"operation_id": op.ID,
		"kind":         op.Kind,
	})
	return op, nil
}

// DecodeProfileUpdate decodes the payload of an update_context_profile
// operation.
func DecodeProfileUpdate(op *models.PendingOperation) (*ProfileUpdatePayload, error) {
	if op.Kind != KindUpdateContextProfile {
		return nil, apperrors.New(apperrors.ErrOperationUnknown,
			fmt.Sprintf("operation %s has kind %q, not %q", op.ID, op.Kind, KindUpdateContextProfile))
	}
	var payload ProfileUpdatePayload
	if err := json.Unmarshal(op.Payload, &payload); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to decode payload", err)
	}
	return &payload, nil
}

// Pending returns the replay-eligible operations in FIFO enqueue order.
func (q *Queue) Pending() ([]*models.PendingOperation, error) {
	return q.store.ListPendingOperations()
}

// Len returns the number of replay-eligible operations.
func (q *Queue) Len() (int, error) {
	return q.store.CountPendingOperations()
}

// Ack removes an operation after the remote confirmed it.
func (q *Queue) Ack(op *models.PendingOperation) error {
	if err := q.store.RemoveOperation(op.ID); err != nil {
		return err
	}
	logging.Info("Pending operation delivered", map[string]interface{}{
		"operation_id": op.ID,
		"kind":         op.Kind,
		"retry_count":  op.RetryCount,
	})
	return nil
}

// Nack records a failed delivery attempt. The operation stays queued for
// the next sync pass until it exhausts MaxRetries, at which point it is
// dead-lettered: retained for inspection but excluded from replay.
func (q *Queue) Nack(op *models.PendingOperation, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	if op.RetryCount+1 >= op.MaxRetries {
		if err := q.store.IncrementRetry(op.ID, msg); err != nil {
			return err
		}
		if err := q.store.MarkOperationFailed(op.ID, msg); err != nil {
			return err
		}
		logging.ErrorWithCode("Pending operation dead-lettered after exhausting retries",
			string(apperrors.ErrReplayFailed),
			cause, map[string]interface{}{
				"operation_id": op.ID,
				"kind":         op.Kind,
				"retry_count":  op.RetryCount + 1,
				"max_retries":  op.MaxRetries,
			})
		return nil
	}

	if err := q.store.IncrementRetry(op.ID, msg); err != nil {
		return err
	}
	logging.Warn("Pending operation delivery failed, will retry", map[string]interface{}{
		"operation_id": op.ID,
		"kind":         op.Kind,
		"retry_count":  op.RetryCount + 1,
	})
	return nil
}

// DeadLetter moves an operation straight to failed regardless of its retry
// budget. Used for operations that can never succeed, such as an unknown
// kind left behind by a newer app version.
func (q *Queue) DeadLetter(op *models.PendingOperation, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := q.store.MarkOperationFailed(op.ID, msg); err != nil {
		return err
	}
	logging.ErrorWithCode("Pending operation dead-lettered",
		string(apperrors.ErrOperationUnknown), cause, map[string]interface{}{
			"operation_id": op.ID,
			"kind":         op.Kind,
		})
	return nil
}

// Failed returns dead-lettered operations, oldest first.
func (q *Queue) Failed() ([]*models.PendingOperation, error) {
	return q.store.ListFailedOperations()
}

// RequeueFailed resets all dead-lettered operations back to pending with a
// fresh retry budget. Returns the number of requeued entries.
func (q *Queue) RequeueFailed() (int, error) {
	n, err := q.store.RequeueFailedOperations()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logging.Info("Requeued dead-lettered operations", map[string]interface{}{
			"count": n,
		})
	}
	return n, nil
}
