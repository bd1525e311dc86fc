// Package models provides data model definitions for the ClariCoach core.
package models

import "time"

// SyncStatus tags the reconciliation state of a locally cached record.
type SyncStatus string

const (
	SyncStatusSynced      SyncStatus = "synced"
	SyncStatusPendingPush SyncStatus = "pending_push"
	SyncStatusConflict    SyncStatus = "conflict"
)

// ContextProfile represents the user's personal context profile.
// Exactly one profile exists per user. It is the only entity the user edits
// locally while offline, so its cache row carries a LocalUpdatedAt marker:
// nil until the user performs a local edit, cleared only by a successful sync
// that reconciles it with the remote.
type ContextProfile struct {
	RemoteID  UUID   `db:"remote_id" json:"remote_id"`
	UserID    string `db:"user_id" json:"user_id"`
	Values    string `db:"profile_values" json:"values"`
	Goals     string `db:"goals" json:"goals"`
	Situation string `db:"situation" json:"situation"`
	Insights  string `db:"insights" json:"insights"`
	CreatedAt int64  `db:"created_at" json:"created_at"`
	UpdatedAt int64  `db:"updated_at" json:"updated_at"`

	// Local cache bookkeeping.
	CachedAt       int64      `db:"cached_at" json:"-"`
	LastSyncedAt   int64      `db:"last_synced_at" json:"-"`
	LocalUpdatedAt *int64     `db:"local_updated_at" json:"-"`
	SyncStatus     SyncStatus `db:"sync_status" json:"-"`
}

// TableName returns the table name for ContextProfile.
func (ContextProfile) TableName() string {
	return "context_profiles"
}

// UpdatedAtTime returns the UpdatedAt as time.Time.
func (p *ContextProfile) UpdatedAtTime() time.Time {
	return time.Unix(p.UpdatedAt, 0)
}

// LocalUpdatedAtTime returns the LocalUpdatedAt as time.Time, or the zero
// time if the profile has never been edited locally.
func (p *ContextProfile) LocalUpdatedAtTime() time.Time {
	if p.LocalUpdatedAt == nil {
		return time.Time{}
	}
	return time.Unix(*p.LocalUpdatedAt, 0)
}

// MarkLocalEdit records a local edit at the given time and tags the row as
// awaiting a push to the remote.
func (p *ContextProfile) MarkLocalEdit(at time.Time) {
	ts := at.Unix()
	p.LocalUpdatedAt = &ts
	p.SyncStatus = SyncStatusPendingPush
}

// Equal reports whether the observable fields of two profiles agree.
// Cache bookkeeping fields are not compared.
func (p *ContextProfile) Equal(other *ContextProfile) bool {
	if other == nil {
		return false
	}
	return p.RemoteID == other.RemoteID &&
		p.Values == other.Values &&
		p.Goals == other.Goals &&
		p.Situation == other.Situation &&
		p.Insights == other.Insights &&
		p.UpdatedAt == other.UpdatedAt
}
