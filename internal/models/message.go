// Package models provides data model definitions for the ClariCoach core.
package models

import "time"

// Message represents a cached message within a conversation.
// Messages are immutable once sent; a local copy that diverges from the
// remote indicates a stale cache, never a legitimate edit.
type Message struct {
	RemoteID       UUID   `db:"remote_id" json:"remote_id"`
	ConversationID UUID   `db:"conversation_id" json:"conversation_id"`
	Role           string `db:"role" json:"role"` // user, coach
	Content        string `db:"content" json:"content"`
	CreatedAt      int64  `db:"created_at" json:"created_at"`

	// Local cache bookkeeping.
	CachedAt int64 `db:"cached_at" json:"-"`
}

// TableName returns the table name for Message.
func (Message) TableName() string {
	return "messages"
}

// CreatedAtTime returns the CreatedAt as time.Time.
func (m *Message) CreatedAtTime() time.Time {
	return time.Unix(m.CreatedAt, 0)
}

// Equal reports whether the observable fields of two messages agree.
func (m *Message) Equal(other *Message) bool {
	if other == nil {
		return false
	}
	return m.RemoteID == other.RemoteID &&
		m.ConversationID == other.ConversationID &&
		m.Role == other.Role &&
		m.Content == other.Content &&
		m.CreatedAt == other.CreatedAt
}
