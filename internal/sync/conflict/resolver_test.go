// Package conflict provides unit tests for the resolution policies.
package conflict

import (
	"testing"
	"time"

	"github.com/claricoach/backend/internal/models"
)

func baseConversation(updatedAt int64) *models.Conversation {
	return &models.Conversation{
		RemoteID:      "11111111-1111-4111-8111-111111111111",
		UserID:        "user-1",
		Title:         "Career direction",
		Domain:        "career",
		MessageCount:  4,
		LastMessageAt: updatedAt,
		CreatedAt:     updatedAt - 100,
		UpdatedAt:     updatedAt,
	}
}

func TestResolveConversation(t *testing.T) {
	now := time.Now().Unix()

	tests := []struct {
		name          string
		local         func() *models.Conversation
		remote        func() *models.Conversation
		wantRes       Resolution
		wantAuditable bool
	}{
		{
			name:    "identical records",
			local:   func() *models.Conversation { return baseConversation(now) },
			remote:  func() *models.Conversation { return baseConversation(now) },
			wantRes: ResolutionNoConflict,
		},
		{
			name:  "differing title, remote older, server still wins",
			local: func() *models.Conversation { return baseConversation(now) },
			remote: func() *models.Conversation {
				c := baseConversation(now - 3600)
				c.Title = "Career direction (server)"
				return c
			},
			wantRes:       ResolutionServerWins,
			wantAuditable: true,
		},
		{
			name:  "differing message count",
			local: func() *models.Conversation { return baseConversation(now) },
			remote: func() *models.Conversation {
				c := baseConversation(now)
				c.MessageCount = 5
				return c
			},
			wantRes:       ResolutionServerWins,
			wantAuditable: true,
		},
		{
			name:    "never cached locally",
			local:   func() *models.Conversation { return nil },
			remote:  func() *models.Conversation { return baseConversation(now) },
			wantRes: ResolutionServerWins,
			// Caching a brand-new record is not a conflict.
			wantAuditable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			local, remote := tt.local(), tt.remote()
			res := ResolveConversation(local, remote)
			if res.Resolution != tt.wantRes {
				t.Errorf("Resolution = %q, want %q", res.Resolution, tt.wantRes)
			}
			if res.Auditable() != tt.wantAuditable {
				t.Errorf("Auditable() = %v, want %v", res.Auditable(), tt.wantAuditable)
			}
			if res.RecordType != models.RecordTypeConversation {
				t.Errorf("RecordType = %q, want conversation", res.RecordType)
			}
			if res.RecordID != remote.RemoteID {
				t.Errorf("RecordID = %q, want %q", res.RecordID, remote.RemoteID)
			}
		})
	}
}

func TestResolveConversationIsPure(t *testing.T) {
	now := time.Now().Unix()
	local := baseConversation(now)
	remote := baseConversation(now - 3600)
	remote.Title = "Different"

	localBefore, remoteBefore := *local, *remote
	ResolveConversation(local, remote)
	if *local != localBefore || *remote != remoteBefore {
		t.Error("Expected resolution to leave both records unmodified")
	}
}

func baseMessage(createdAt int64) *models.Message {
	return &models.Message{
		RemoteID:       "22222222-2222-4222-8222-222222222222",
		ConversationID: "11111111-1111-4111-8111-111111111111",
		Role:           "coach",
		Content:        "What would success look like?",
		CreatedAt:      createdAt,
	}
}

func TestResolveMessage(t *testing.T) {
	now := time.Now().Unix()

	tests := []struct {
		name          string
		local         func() *models.Message
		remote        func() *models.Message
		wantRes       Resolution
		wantAuditable bool
	}{
		{
			name:    "identical records",
			local:   func() *models.Message { return baseMessage(now) },
			remote:  func() *models.Message { return baseMessage(now) },
			wantRes: ResolutionNoConflict,
		},
		{
			name:  "diverged content means stale cache, server wins",
			local: func() *models.Message { return baseMessage(now) },
			remote: func() *models.Message {
				m := baseMessage(now)
				m.Content = "What would success look like? (edited)"
				return m
			},
			wantRes:       ResolutionServerWins,
			wantAuditable: true,
		},
		{
			name:          "never cached locally",
			local:         func() *models.Message { return nil },
			remote:        func() *models.Message { return baseMessage(now) },
			wantRes:       ResolutionServerWins,
			wantAuditable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ResolveMessage(tt.local(), tt.remote())
			if res.Resolution != tt.wantRes {
				t.Errorf("Resolution = %q, want %q", res.Resolution, tt.wantRes)
			}
			if res.Auditable() != tt.wantAuditable {
				t.Errorf("Auditable() = %v, want %v", res.Auditable(), tt.wantAuditable)
			}
			if res.RecordType != models.RecordTypeMessage {
				t.Errorf("RecordType = %q, want message", res.RecordType)
			}
		})
	}
}

func baseProfile(updatedAt int64) *models.ContextProfile {
	return &models.ContextProfile{
		RemoteID:  "33333333-3333-4333-8333-333333333333",
		UserID:    "user-1",
		Values:    "autonomy, craft",
		Goals:     "switch teams",
		Situation: "mid-career",
		CreatedAt: updatedAt - 100,
		UpdatedAt: updatedAt,
	}
}

func TestResolveContextProfile(t *testing.T) {
	base := time.Now().Unix()

	withLocalEdit := func(p *models.ContextProfile, at int64) *models.ContextProfile {
		p.LocalUpdatedAt = &at
		p.SyncStatus = models.SyncStatusPendingPush
		return p
	}

	tests := []struct {
		name          string
		local         func() *models.ContextProfile
		remote        func() *models.ContextProfile
		wantRes       Resolution
		wantType      string
		wantAuditable bool
	}{
		{
			name:    "identical, never edited locally",
			local:   func() *models.ContextProfile { return baseProfile(base) },
			remote:  func() *models.ContextProfile { return baseProfile(base) },
			wantRes: ResolutionNoConflict,
		},
		{
			name:  "no local edit, remote diverged",
			local: func() *models.ContextProfile { return baseProfile(base) },
			remote: func() *models.ContextProfile {
				p := baseProfile(base + 50)
				p.Goals = "lead a team"
				return p
			},
			wantRes: ResolutionServerWins,
			// A plain cache refresh, not a conflict.
			wantAuditable: false,
		},
		{
			name: "local edit strictly newer than remote",
			local: func() *models.ContextProfile {
				return withLocalEdit(baseProfile(base), base+3600)
			},
			remote:        func() *models.ContextProfile { return baseProfile(base) },
			wantRes:       ResolutionLocalWins,
			wantType:      ConflictTypeTimestampDivergence,
			wantAuditable: true,
		},
		{
			name: "local edit older than remote",
			local: func() *models.ContextProfile {
				return withLocalEdit(baseProfile(base), base-3600)
			},
			remote:        func() *models.ContextProfile { return baseProfile(base) },
			wantRes:       ResolutionServerWins,
			wantType:      ConflictTypeTimestampDivergence,
			wantAuditable: true,
		},
		{
			name: "local edit timestamp exactly equal to remote",
			local: func() *models.ContextProfile {
				return withLocalEdit(baseProfile(base), base)
			},
			remote:  func() *models.ContextProfile { return baseProfile(base) },
			wantRes: ResolutionNoConflict,
		},
		{
			name:          "never cached locally",
			local:         func() *models.ContextProfile { return nil },
			remote:        func() *models.ContextProfile { return baseProfile(base) },
			wantRes:       ResolutionServerWins,
			wantAuditable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ResolveContextProfile(tt.local(), tt.remote())
			if res.Resolution != tt.wantRes {
				t.Errorf("Resolution = %q, want %q", res.Resolution, tt.wantRes)
			}
			if res.ConflictType != tt.wantType {
				t.Errorf("ConflictType = %q, want %q", res.ConflictType, tt.wantType)
			}
			if res.Auditable() != tt.wantAuditable {
				t.Errorf("Auditable() = %v, want %v", res.Auditable(), tt.wantAuditable)
			}
			if res.RecordType != models.RecordTypeContextProfile {
				t.Errorf("RecordType = %q, want context_profile", res.RecordType)
			}
		})
	}
}

func TestResolveContextProfileTimestamps(t *testing.T) {
	base := time.Now().Unix()
	localEdit := base + 100

	local := baseProfile(base)
	local.LocalUpdatedAt = &localEdit
	remote := baseProfile(base + 50)

	res := ResolveContextProfile(local, remote)
	if res.LocalTimestamp != localEdit {
		t.Errorf("LocalTimestamp = %d, want local edit time %d", res.LocalTimestamp, localEdit)
	}
	if res.RemoteTimestamp != base+50 {
		t.Errorf("RemoteTimestamp = %d, want %d", res.RemoteTimestamp, base+50)
	}
}
