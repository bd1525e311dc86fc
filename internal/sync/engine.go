// Package sync coordinates reconciliation between the local cache and the
// remote record store: it debounces connectivity transitions into single
// sync passes, drains the pending-operation queue, resolves conflicts per
// record kind, and announces completion.
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/claricoach/backend/internal/db"
	apperrors "github.com/claricoach/backend/internal/errors"
	"github.com/claricoach/backend/internal/logging"
	"github.com/claricoach/backend/internal/models"
	"github.com/claricoach/backend/internal/sync/audit"
	"github.com/claricoach/backend/internal/sync/conflict"
	"github.com/claricoach/backend/internal/sync/connectivity"
	"github.com/claricoach/backend/internal/sync/queue"
	"github.com/claricoach/backend/internal/sync/remote"
)

// DefaultDebounceWindow is how long the engine waits after a connectivity
// transition before starting a sync, so that connection flapping coalesces
// into one pass.
const DefaultDebounceWindow = time.Second

// CurrentUserFunc reports the signed-in user, or an ErrNoCurrentUser error
// when nobody is signed in. Steps that need a user degrade to no-ops in
// that case.
type CurrentUserFunc func() (string, error)

// Config tunes the engine. Zero values fall back to defaults.
type Config struct {
	// DebounceWindow overrides DefaultDebounceWindow.
	DebounceWindow time.Duration
	// PassTimeout bounds one whole sync pass. Zero means 5 minutes.
	PassTimeout time.Duration
}

// DefaultConfig returns the production configuration.
func DefaultConfig() Config {
	return Config{
		DebounceWindow: DefaultDebounceWindow,
		PassTimeout:    5 * time.Minute,
	}
}

// Result carries the statistics of one completed sync pass. Partial
// failures accumulate in Errors; they never abort the pass.
type Result struct {
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`

	// Skipped is true when another pass was already in flight and this
	// call was a no-op.
	Skipped bool `json:"skipped"`

	Replayed      int `json:"replayed"`
	ReplayFailed  int `json:"replay_failed"`
	Conversations int `json:"conversations"`
	Messages      int `json:"messages"`
	Conflicts     int `json:"conflicts"`

	Errors []string `json:"errors,omitempty"`
}

// addError records a degraded step.
func (r *Result) addError(step string, err error) {
	r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", step, err))
}

// Engine is the sync orchestrator. At most one sync body executes at a
// time, enforced by the isSyncing guard; concurrent triggers are cheap
// no-ops rather than blocking waits.
type Engine struct {
	store       *db.Store
	queue       *queue.Queue
	remote      remote.RecordStore
	audit       *audit.Logger
	currentUser CurrentUserFunc
	cfg         Config

	mu            sync.Mutex
	isSyncing     bool
	lastSyncedAt  *time.Time
	lastResult    *Result
	debounceTimer *time.Timer

	subMu       sync.Mutex
	subscribers []chan struct{}

	watchStop chan struct{}
	watchDone chan struct{}
	watchOnce sync.Once
}

// NewEngine creates an Engine.
func NewEngine(store *db.Store, q *queue.Queue, rs remote.RecordStore, auditLogger *audit.Logger, currentUser CurrentUserFunc, cfg Config) *Engine {
	if cfg.DebounceWindow <= 0 {
		cfg.DebounceWindow = DefaultDebounceWindow
	}
	if cfg.PassTimeout <= 0 {
		cfg.PassTimeout = 5 * time.Minute
	}
	return &Engine{
		store:       store,
		queue:       q,
		remote:      rs,
		audit:       auditLogger,
		currentUser: currentUser,
		cfg:         cfg,
	}
}

// =====================================================
// Public surface
// =====================================================

// TriggerSync schedules a sync after the debounce window. Each call cancels
// and restarts the window, so a burst of N triggers produces one pass.
// Fire-and-forget: failures surface only through LastResult and the
// completion broadcast.
func (e *Engine) TriggerSync() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.debounceTimer != nil {
		e.debounceTimer.Stop()
	}
	e.debounceTimer = time.AfterFunc(e.cfg.DebounceWindow, func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.PassTimeout)
		defer cancel()
		if _, err := e.PerformSync(ctx); err != nil {
			logging.Error("Triggered sync pass failed", err)
		}
	})
}

// PerformSync runs one full sync pass and waits for it. If a pass is
// already in flight, it returns immediately with a Skipped result.
func (e *Engine) PerformSync(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	if e.isSyncing {
		e.mu.Unlock()
		return &Result{Skipped: true}, nil
	}
	e.isSyncing = true
	e.mu.Unlock()

	result := e.runPass(ctx)

	// The pass always runs to completion; lastSyncedAt advances even on
	// partial failure so the UI never sticks on "syncing".
	now := time.Now()
	e.mu.Lock()
	e.isSyncing = false
	e.lastSyncedAt = &now
	e.lastResult = result
	e.mu.Unlock()

	e.broadcastCompleted()

	logging.Info("Sync pass completed", map[string]interface{}{
		"duration_ms":   result.Duration.Milliseconds(),
		"replayed":      result.Replayed,
		"conversations": result.Conversations,
		"messages":      result.Messages,
		"conflicts":     result.Conflicts,
		"degraded":      len(result.Errors),
	})
	return result, nil
}

// QueueProfileUpdate records a local profile edit: the cache row is updated
// immediately, and a durable pending operation carries the edit to the
// remote on the next sync pass.
func (e *Engine) QueueProfileUpdate(p *models.ContextProfile) error {
	p.MarkLocalEdit(time.Now())
	if err := e.store.SaveContextProfile(p); err != nil {
		return err
	}
	if _, err := e.queue.EnqueueProfileUpdate(p); err != nil {
		return err
	}
	e.TriggerSync()
	return nil
}

// IsSyncing reports whether a sync body is currently executing.
func (e *Engine) IsSyncing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isSyncing
}

// LastSyncedAt returns when the last sync pass finished, or nil before the
// first pass.
func (e *Engine) LastSyncedAt() *time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSyncedAt
}

// LastResult returns the statistics of the last completed pass, or nil.
func (e *Engine) LastResult() *Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastResult
}

// Subscribe returns a channel that receives one signal per completed sync
// pass. The channel is buffered; a subscriber that falls behind misses
// signals rather than stalling the engine.
func (e *Engine) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	e.subMu.Lock()
	e.subscribers = append(e.subscribers, ch)
	e.subMu.Unlock()
	return ch
}

func (e *Engine) broadcastCompleted() {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Watch consumes an observer's transition stream and triggers a debounced
// sync on every offline-to-online flip. Runs until Stop.
func (e *Engine) Watch(observer connectivity.Observer) {
	e.watchOnce.Do(func() {
		e.watchStop = make(chan struct{})
		e.watchDone = make(chan struct{})
		go func() {
			defer close(e.watchDone)
			for {
				select {
				case <-e.watchStop:
					return
				case online := <-observer.Transitions():
					if online {
						e.TriggerSync()
					}
				}
			}
		}()
	})
}

// Stop terminates the connectivity watch, cancels any armed debounce timer
// and waits for outstanding audit writes. An in-flight sync body is not
// cancelled; it runs to completion.
func (e *Engine) Stop() {
	if e.watchStop != nil {
		close(e.watchStop)
		<-e.watchDone
	}
	e.mu.Lock()
	if e.debounceTimer != nil {
		e.debounceTimer.Stop()
	}
	e.mu.Unlock()
	e.audit.Flush()
}

// =====================================================
// Sync pass
// =====================================================

// runPass executes the sync body. Every step degrades independently: a
// failed step records an error and the pass moves on.
func (e *Engine) runPass(ctx context.Context) *Result {
	result := &Result{StartTime: time.Now()}
	defer func() {
		result.EndTime = time.Now()
		result.Duration = result.EndTime.Sub(result.StartTime)
	}()

	// Step 1: drain the pending-operation queue, FIFO.
	e.drainQueue(ctx, result)

	// Steps 2-4 need a signed-in user.
	userID, err := e.currentUser()
	if err != nil {
		result.addError("current_user", err)
		return result
	}

	// Step 2: reconcile the context profile.
	e.syncContextProfile(ctx, userID, result)

	// Steps 3-4: reconcile conversations, then their messages.
	e.syncConversations(ctx, userID, result)

	return result
}

// errDeadLettered marks an operation moved to failed during replay; it has
// already left the replay set and must not be nacked on top of that.
var errDeadLettered = errors.New("operation dead-lettered")

// drainQueue replays pending operations in enqueue order. Each entry is
// independent: a rejected entry is retried on a later pass and never blocks
// the entries behind it.
func (e *Engine) drainQueue(ctx context.Context, result *Result) {
	pending, err := e.queue.Pending()
	if err != nil {
		result.addError("queue_list", err)
		return
	}

	for _, op := range pending {
		if ctx.Err() != nil {
			result.addError("queue_replay", ctx.Err())
			return
		}

		if err := e.replayOperation(ctx, op); err != nil {
			result.ReplayFailed++
			result.addError("queue_replay", err)
			// A dead-lettered entry already left the replay set; nacking
			// it too would charge a retry against a failed row.
			if !errors.Is(err, errDeadLettered) {
				if nackErr := e.queue.Nack(op, err); nackErr != nil {
					result.addError("queue_nack", nackErr)
				}
			}
			continue
		}

		if err := e.queue.Ack(op); err != nil {
			result.addError("queue_ack", err)
			continue
		}
		result.Replayed++
	}
}

// replayOperation delivers one pending operation to the remote. The kind
// switch is exhaustive; an unknown kind is dead-lettered immediately since
// no number of retries can ever make it deliverable.
func (e *Engine) replayOperation(ctx context.Context, op *models.PendingOperation) error {
	switch op.Kind {
	case queue.KindUpdateContextProfile:
		payload, err := queue.DecodeProfileUpdate(op)
		if err != nil {
			return err
		}
		return e.remote.PushContextProfile(ctx, &models.ContextProfile{
			RemoteID:  models.UUID(payload.RemoteID),
			UserID:    payload.UserID,
			Values:    payload.Values,
			Goals:     payload.Goals,
			Situation: payload.Situation,
			Insights:  payload.Insights,
			UpdatedAt: payload.LocalUpdatedAt,
		})
	default:
		err := apperrors.New(apperrors.ErrOperationUnknown,
			fmt.Sprintf("unknown operation kind %q", op.Kind))
		if dlErr := e.queue.DeadLetter(op, err); dlErr != nil {
			return dlErr
		}
		return fmt.Errorf("%w: unknown operation kind %q", errDeadLettered, op.Kind)
	}
}

// syncContextProfile fetches the authoritative profile and applies the
// last-writer-wins resolution against the freshly-read cache row.
func (e *Engine) syncContextProfile(ctx context.Context, userID string, result *Result) {
	remoteProfile, err := e.remote.FetchContextProfile(ctx, userID)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			// Nothing on the remote yet; the queue replay path creates it.
			return
		}
		result.addError("profile_fetch", err)
		return
	}

	// Fresh read right before comparison; no stale row survives across the
	// fetch suspension point.
	local, err := e.store.GetContextProfile(userID)
	if err != nil && !apperrors.Is(err, apperrors.ErrNotFound) {
		result.addError("profile_read", err)
		return
	}

	res := conflict.ResolveContextProfile(local, remoteProfile)
	if res.Auditable() {
		result.Conflicts++
		e.audit.LogConflict(res)
	}

	now := time.Now().Unix()
	switch res.Resolution {
	case conflict.ResolutionServerWins:
		remoteProfile.LocalUpdatedAt = nil
		remoteProfile.SyncStatus = models.SyncStatusSynced
		remoteProfile.LastSyncedAt = now
		if err := e.store.SaveContextProfile(remoteProfile); err != nil {
			result.addError("profile_apply", err)
		}

	case conflict.ResolutionLocalWins:
		if err := e.remote.PushContextProfile(ctx, local); err != nil {
			// The edit stays pending_push; the queued operation retries it.
			result.addError("profile_push", err)
			return
		}
		local.LocalUpdatedAt = nil
		local.SyncStatus = models.SyncStatusSynced
		local.LastSyncedAt = now
		if err := e.store.SaveContextProfile(local); err != nil {
			result.addError("profile_apply", err)
		}

	case conflict.ResolutionNoConflict:
		if local != nil {
			local.LocalUpdatedAt = nil
			local.SyncStatus = models.SyncStatusSynced
			local.LastSyncedAt = now
			if err := e.store.SaveContextProfile(local); err != nil {
				result.addError("profile_apply", err)
			}
		}
	}
}

// syncConversations reconciles the conversation list and the messages of
// each remote conversation. The remote list is authoritative: diverged rows
// are overwritten and rows absent from the remote are cascade-deleted.
func (e *Engine) syncConversations(ctx context.Context, userID string, result *Result) {
	remoteConversations, err := e.remote.FetchConversations(ctx, userID)
	if err != nil {
		result.addError("conversations_fetch", err)
		return
	}

	remoteIDs := make(map[models.UUID]bool, len(remoteConversations))
	for _, rc := range remoteConversations {
		remoteIDs[rc.RemoteID] = true

		local, err := e.store.GetConversation(rc.RemoteID)
		if err != nil && !apperrors.Is(err, apperrors.ErrNotFound) {
			result.addError("conversation_read", err)
			continue
		}
		if res := conflict.ResolveConversation(local, rc); res.Auditable() {
			result.Conflicts++
			e.audit.LogConflict(res)
		}
	}

	// One transaction per kind: readers never observe a half-updated list.
	if err := e.store.UpsertConversations(remoteConversations); err != nil {
		result.addError("conversations_apply", err)
		return
	}
	result.Conversations = len(remoteConversations)

	// Cascade-delete conversations the remote no longer has.
	locals, err := e.store.ListConversations(userID)
	if err != nil {
		result.addError("conversations_list", err)
	} else {
		for _, lc := range locals {
			if !remoteIDs[lc.RemoteID] {
				if err := e.store.DeleteConversation(lc.RemoteID); err != nil {
					result.addError("conversation_delete", err)
				}
			}
		}
	}

	for _, rc := range remoteConversations {
		if ctx.Err() != nil {
			result.addError("messages_fetch", ctx.Err())
			return
		}
		e.syncMessages(ctx, rc.RemoteID, result)
	}
}

// syncMessages reconciles the cached messages of one conversation.
func (e *Engine) syncMessages(ctx context.Context, conversationID models.UUID, result *Result) {
	remoteMessages, err := e.remote.FetchMessages(ctx, conversationID)
	if err != nil {
		result.addError("messages_fetch", err)
		return
	}

	locals, err := e.store.ListMessages(conversationID)
	if err != nil {
		result.addError("messages_read", err)
		return
	}
	localByID := make(map[models.UUID]*models.Message, len(locals))
	for _, m := range locals {
		localByID[m.RemoteID] = m
	}

	for _, rm := range remoteMessages {
		if res := conflict.ResolveMessage(localByID[rm.RemoteID], rm); res.Auditable() {
			result.Conflicts++
			e.audit.LogConflict(res)
		}
	}

	if err := e.store.UpsertMessages(remoteMessages); err != nil {
		result.addError("messages_apply", err)
		return
	}
	result.Messages += len(remoteMessages)
}
