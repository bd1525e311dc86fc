// Package conflict decides which side of a diverged local/remote record pair
// is authoritative.
//
// All resolution functions are pure: they compare, they never mutate either
// record, and they never log. Reporting a non-trivial resolution to the audit
// sink is the caller's job.
package conflict

import (
	"github.com/claricoach/backend/internal/models"
)

// Resolution is the outcome of comparing a local record against its remote
// counterpart.
type Resolution string

const (
	// ResolutionNoConflict means both sides already agree; no mutation needed.
	ResolutionNoConflict Resolution = "no_conflict"
	// ResolutionServerWins means the remote value replaces the local cache row.
	ResolutionServerWins Resolution = "server_wins"
	// ResolutionLocalWins means the local edit survives and must be pushed.
	ResolutionLocalWins Resolution = "local_wins"
)

// Conflict types recorded in the audit trail.
const (
	// ConflictTypeFieldMismatch: the records disagree on content for a kind
	// where the remote is always authoritative.
	ConflictTypeFieldMismatch = "field_mismatch"
	// ConflictTypeTimestampDivergence: both sides were edited and the later
	// timestamp decided the winner.
	ConflictTypeTimestampDivergence = "timestamp_divergence"
)

// Result describes one resolution decision.
type Result struct {
	RecordType      models.RecordType
	RecordID        models.UUID
	Resolution      Resolution
	ConflictType    string
	LocalTimestamp  int64
	RemoteTimestamp int64
}

// Auditable reports whether this result describes a genuine disagreement
// worth recording. Caching a record never seen locally is server-wins but
// not a conflict.
func (r Result) Auditable() bool {
	return r.Resolution != ResolutionNoConflict && r.ConflictType != ""
}

// ResolveConversation compares a cached conversation against the remote copy.
// Conversations are remote-owned: any divergence resolves server-wins, even
// when the local row carries a newer timestamp.
func ResolveConversation(local, remote *models.Conversation) Result {
	res := Result{
		RecordType:      models.RecordTypeConversation,
		RecordID:        remote.RemoteID,
		RemoteTimestamp: remote.UpdatedAt,
	}
	if local == nil {
		// Never cached; take the remote copy, nothing diverged.
		res.Resolution = ResolutionServerWins
		return res
	}
	res.LocalTimestamp = local.UpdatedAt
	if local.Equal(remote) {
		res.Resolution = ResolutionNoConflict
		return res
	}
	res.Resolution = ResolutionServerWins
	res.ConflictType = ConflictTypeFieldMismatch
	return res
}

// ResolveMessage compares a cached message against the remote copy.
// Messages are immutable on the remote, so a diverged local copy is a stale
// cache and the remote always wins.
func ResolveMessage(local, remote *models.Message) Result {
	res := Result{
		RecordType:      models.RecordTypeMessage,
		RecordID:        remote.RemoteID,
		RemoteTimestamp: remote.CreatedAt,
	}
	if local == nil {
		res.Resolution = ResolutionServerWins
		return res
	}
	res.LocalTimestamp = local.CreatedAt
	if local.Equal(remote) {
		res.Resolution = ResolutionNoConflict
		return res
	}
	res.Resolution = ResolutionServerWins
	res.ConflictType = ConflictTypeFieldMismatch
	return res
}

// ResolveContextProfile compares the cached profile against the remote copy
// using last-writer-wins. The local side only has a claim when the user
// actually edited the profile (LocalUpdatedAt set); a never-edited cache row
// is refreshed from the remote without ceremony.
func ResolveContextProfile(local, remote *models.ContextProfile) Result {
	res := Result{
		RecordType:      models.RecordTypeContextProfile,
		RecordID:        remote.RemoteID,
		RemoteTimestamp: remote.UpdatedAt,
	}
	if local == nil {
		res.Resolution = ResolutionServerWins
		return res
	}
	res.LocalTimestamp = local.UpdatedAt

	if local.LocalUpdatedAt == nil {
		// No local edit; the remote is authoritative by default.
		if local.Equal(remote) {
			res.Resolution = ResolutionNoConflict
		} else {
			res.Resolution = ResolutionServerWins
		}
		return res
	}

	res.LocalTimestamp = *local.LocalUpdatedAt
	switch {
	case *local.LocalUpdatedAt > remote.UpdatedAt:
		res.Resolution = ResolutionLocalWins
		res.ConflictType = ConflictTypeTimestampDivergence
	case *local.LocalUpdatedAt < remote.UpdatedAt:
		res.Resolution = ResolutionServerWins
		res.ConflictType = ConflictTypeTimestampDivergence
	default:
		res.Resolution = ResolutionNoConflict
	}
	return res
}
