// Package models provides data model definitions for the ClariCoach core.
package models

import "time"

// Conversation represents a cached coaching conversation.
// RemoteID is assigned by the remote authority; CachedAt and LastSyncedAt are
// local-only bookkeeping and never leave the device.
type Conversation struct {
	RemoteID     UUID   `db:"remote_id" json:"remote_id"`
	UserID       string `db:"user_id" json:"user_id"`
	Title        string `db:"title" json:"title"`
	Domain       string `db:"domain" json:"domain"` // career, relationships, health, ...
	MessageCount int    `db:"message_count" json:"message_count"`
	LastMessageAt int64 `db:"last_message_at" json:"last_message_at"`
	CreatedAt    int64  `db:"created_at" json:"created_at"`
	UpdatedAt    int64  `db:"updated_at" json:"updated_at"`

	// Local cache bookkeeping.
	CachedAt     int64 `db:"cached_at" json:"-"`
	LastSyncedAt int64 `db:"last_synced_at" json:"-"`
}

// TableName returns the table name for Conversation.
func (Conversation) TableName() string {
	return "conversations"
}

// UpdatedAtTime returns the UpdatedAt as time.Time.
func (c *Conversation) UpdatedAtTime() time.Time {
	return time.Unix(c.UpdatedAt, 0)
}

// LastMessageAtTime returns the LastMessageAt as time.Time.
func (c *Conversation) LastMessageAtTime() time.Time {
	return time.Unix(c.LastMessageAt, 0)
}

// Equal reports whether the observable (remote-owned) fields of two
// conversations agree. Cache bookkeeping fields are not compared.
func (c *Conversation) Equal(other *Conversation) bool {
	if other == nil {
		return false
	}
	return c.RemoteID == other.RemoteID &&
		c.Title == other.Title &&
		c.Domain == other.Domain &&
		c.MessageCount == other.MessageCount &&
		c.LastMessageAt == other.LastMessageAt &&
		c.UpdatedAt == other.UpdatedAt
}
