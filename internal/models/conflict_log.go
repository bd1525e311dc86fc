// Package models provides data model definitions for the ClariCoach core.
package models

import "time"

// ConflictLog records a non-trivial conflict resolution for audit.
// Losing a conflict log is acceptable; losing a sync is not, so these are
// written best-effort to the remote audit sink and never retried.
type ConflictLog struct {
	ID              UUID       `db:"id" json:"id"`
	RecordType      RecordType `db:"record_type" json:"record_type"`
	RecordID        UUID       `db:"record_id" json:"record_id"`
	ConflictType    string     `db:"conflict_type" json:"conflict_type"` // field_mismatch, timestamp_divergence
	Resolution      string     `db:"resolution" json:"resolution"`       // server_wins, local_wins
	LocalTimestamp  int64      `db:"local_timestamp" json:"local_timestamp"`
	RemoteTimestamp int64      `db:"remote_timestamp" json:"remote_timestamp"`
	DetectedAt      int64      `db:"detected_at" json:"detected_at"`
}

// TableName returns the table name for ConflictLog.
func (ConflictLog) TableName() string {
	return "conflict_log"
}

// DetectedAtTime returns the DetectedAt as time.Time.
func (c *ConflictLog) DetectedAtTime() time.Time {
	return time.Unix(c.DetectedAt, 0)
}
