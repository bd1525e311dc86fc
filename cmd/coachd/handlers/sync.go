// Package handlers provides REST API handlers for sync operations and
// remote credentials.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/claricoach/backend/internal/db"
	"github.com/claricoach/backend/internal/models"
	syncengine "github.com/claricoach/backend/internal/sync"
	"github.com/claricoach/backend/internal/sync/queue"
)

// SyncHandler exposes the orchestrator and queue over HTTP.
type SyncHandler struct {
	engine    syncengine.Orchestrator
	queue     *queue.Queue
	store     *db.Store
	machineID string
	userID    string
}

// NewSyncHandler creates a SyncHandler.
func NewSyncHandler(engine syncengine.Orchestrator, q *queue.Queue, store *db.Store, machineID, userID string) *SyncHandler {
	if machineID == "" {
		machineID = "default"
	}
	return &SyncHandler{
		engine:    engine,
		queue:     q,
		store:     store,
		machineID: machineID,
		userID:    userID,
	}
}

// RegisterRoutes attaches all sync endpoints to the mux.
func (h *SyncHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sync/trigger", h.Trigger)
	mux.HandleFunc("POST /api/sync/run", h.Run)
	mux.HandleFunc("GET /api/sync/status", h.Status)
	mux.HandleFunc("GET /api/sync/pending", h.Pending)
	mux.HandleFunc("GET /api/sync/failed", h.Failed)
	mux.HandleFunc("POST /api/sync/requeue-failed", h.RequeueFailed)
	mux.HandleFunc("GET /api/sync/credentials", h.GetCredentials)
	mux.HandleFunc("POST /api/sync/credentials", h.SetCredentials)
}

// Trigger handles POST /api/sync/trigger: schedules a debounced sync and
// returns immediately.
func (h *SyncHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	h.engine.TriggerSync()
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"triggered": true,
	})
}

// Run handles POST /api/sync/run: executes one full pass and returns its
// statistics. A pass already in flight yields a skipped result.
func (h *SyncHandler) Run(w http.ResponseWriter, r *http.Request) {
	result, err := h.engine.PerformSync(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Status handles GET /api/sync/status.
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	pending, err := h.queue.Len()
	if err != nil {
		writeError(w, err)
		return
	}

	status := map[string]interface{}{
		"is_syncing":    h.engine.IsSyncing(),
		"pending_count": pending,
	}
	if last := h.engine.LastSyncedAt(); last != nil {
		status["last_synced_at"] = last.Unix()
	}
	if result := h.engine.LastResult(); result != nil {
		status["last_result"] = result
	}
	writeJSON(w, http.StatusOK, status)
}

// Pending handles GET /api/sync/pending: lists replay-eligible operations.
func (h *SyncHandler) Pending(w http.ResponseWriter, r *http.Request) {
	ops, err := h.queue.Pending()
	if err != nil {
		writeError(w, err)
		return
	}
	if ops == nil {
		ops = []*models.PendingOperation{}
	}
	writeJSON(w, http.StatusOK, ops)
}

// Failed handles GET /api/sync/failed: lists dead-lettered operations.
func (h *SyncHandler) Failed(w http.ResponseWriter, r *http.Request) {
	ops, err := h.queue.Failed()
	if err != nil {
		writeError(w, err)
		return
	}
	if ops == nil {
		ops = []*models.PendingOperation{}
	}
	writeJSON(w, http.StatusOK, ops)
}

// RequeueFailed handles POST /api/sync/requeue-failed: gives dead-lettered
// operations a fresh retry budget.
func (h *SyncHandler) RequeueFailed(w http.ResponseWriter, r *http.Request) {
	n, err := h.queue.RequeueFailed()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"requeued": n,
	})
}

// GetCredentials handles GET /api/sync/credentials.
// The token is never returned, only whether one is stored.
func (h *SyncHandler) GetCredentials(w http.ResponseWriter, r *http.Request) {
	creds, err := h.store.GetRemoteCredential(h.userID)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"configured": false,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"configured": creds.IsEnabled && creds.HasToken(),
		"base_url":   creds.BaseURL,
		"has_token":  creds.HasToken(),
		"is_enabled": creds.IsEnabled,
		"updated_at": creds.UpdatedAt,
	})
}

// SetCredentials handles POST /api/sync/credentials: stores the remote base
// URL and an encrypted auth token, then schedules a sync.
func (h *SyncHandler) SetCredentials(w http.ResponseWriter, r *http.Request) {
	var request struct {
		BaseURL   string `json:"base_url"`
		Token     string `json:"token"`
		IsEnabled bool   `json:"is_enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if request.BaseURL == "" {
		http.Error(w, "base_url is required", http.StatusBadRequest)
		return
	}

	creds, err := h.store.GetRemoteCredential(h.userID)
	if err != nil {
		creds = &models.RemoteCredential{UserID: h.userID}
	}
	creds.BaseURL = request.BaseURL
	creds.IsEnabled = request.IsEnabled
	if request.Token != "" {
		if err := creds.SetToken(request.Token, h.machineID); err != nil {
			writeError(w, err)
			return
		}
	}

	if err := h.store.SaveRemoteCredential(creds); err != nil {
		writeError(w, err)
		return
	}

	if creds.IsEnabled {
		h.engine.TriggerSync()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"configured": creds.IsEnabled && creds.HasToken(),
	})
}
