// Package remote defines the client for the authoritative record store and
// implements it over HTTPS.
package remote

import (
	"context"

	"github.com/claricoach/backend/internal/models"
)

// RecordStore is the remote authority the sync engine reconciles against.
// Implementations must translate transport failures into ErrRemoteUnavailable
// and missing records into ErrNotFound so the engine can degrade per step.
type RecordStore interface {
	// FetchContextProfile returns the authoritative profile for a user.
	FetchContextProfile(ctx context.Context, userID string) (*models.ContextProfile, error)

	// PushContextProfile writes a locally-edited profile to the remote.
	PushContextProfile(ctx context.Context, p *models.ContextProfile) error

	// FetchConversations returns the authoritative conversation list for a user.
	FetchConversations(ctx context.Context, userID string) ([]*models.Conversation, error)

	// FetchMessages returns the authoritative messages of a conversation.
	FetchMessages(ctx context.Context, conversationID models.UUID) ([]*models.Message, error)

	// InsertConflictLog writes one audit record. Best-effort on the caller's
	// side; the implementation just reports the outcome.
	InsertConflictLog(ctx context.Context, rec *models.ConflictLog) error
}

// TokenProvider supplies the bearer token for each request. Returning an
// error aborts the request before it hits the wire.
type TokenProvider func() (string, error)
