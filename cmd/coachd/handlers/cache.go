// Package handlers provides REST API handlers for reading the local cache.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/claricoach/backend/internal/db"
	apperrors "github.com/claricoach/backend/internal/errors"
	"github.com/claricoach/backend/internal/models"
	syncengine "github.com/claricoach/backend/internal/sync"
)

// CacheHandler serves cached records to the UI shell. Reads hit the local
// store directly and never block on the network; the sync engine refreshes
// the cache in the background.
type CacheHandler struct {
	store  *db.Store
	engine syncengine.Orchestrator
	userID string
}

// NewCacheHandler creates a CacheHandler.
func NewCacheHandler(store *db.Store, engine syncengine.Orchestrator, userID string) *CacheHandler {
	return &CacheHandler{store: store, engine: engine, userID: userID}
}

// RegisterRoutes attaches all cache endpoints to the mux.
func (h *CacheHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/conversations", h.ListConversations)
	mux.HandleFunc("GET /api/conversations/{id}/messages", h.ListMessages)
	mux.HandleFunc("DELETE /api/conversations/{id}", h.DeleteConversation)
	mux.HandleFunc("GET /api/profile", h.GetProfile)
	mux.HandleFunc("PUT /api/profile", h.UpdateProfile)
}

// ListConversations handles GET /api/conversations.
func (h *CacheHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	conversations, err := h.store.ListConversations(h.userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if conversations == nil {
		conversations = []*models.Conversation{}
	}
	writeJSON(w, http.StatusOK, conversations)
}

// ListMessages handles GET /api/conversations/{id}/messages.
func (h *CacheHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	conversationID := models.UUID(r.PathValue("id"))
	messages, err := h.store.ListMessages(conversationID)
	if err != nil {
		writeError(w, err)
		return
	}
	if messages == nil {
		messages = []*models.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

// DeleteConversation handles DELETE /api/conversations/{id}: removes the
// cached conversation and its messages. The remote copy is untouched; the
// next sync pass re-caches it if it still exists there.
func (h *CacheHandler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	conversationID := models.UUID(r.PathValue("id"))
	if err := h.store.DeleteConversation(conversationID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deleted": true,
	})
}

// GetProfile handles GET /api/profile. The response carries a staleness
// flag; a stale profile additionally schedules a background refresh, so the
// read itself never waits on the network.
func (h *CacheHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.store.GetContextProfile(h.userID)
	if err != nil {
		writeError(w, err)
		return
	}
	stale := db.IsStale(profile.LastSyncedAt, db.ProfileStaleThreshold)
	if stale {
		h.engine.TriggerSync()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"profile": profile,
		"stale":   stale,
	})
}

// UpdateProfile handles PUT /api/profile: applies the edit to the cache
// immediately and queues it for durable delivery to the remote.
func (h *CacheHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Values    string `json:"values"`
		Goals     string `json:"goals"`
		Situation string `json:"situation"`
		Insights  string `json:"insights"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	profile, err := h.store.GetContextProfile(h.userID)
	if err != nil {
		if !apperrors.Is(err, apperrors.ErrNotFound) {
			writeError(w, err)
			return
		}
		// First edit on this device; the row is created locally and the
		// remote copy reconciles on the next pass.
		profile = &models.ContextProfile{UserID: h.userID}
	}
	profile.Values = request.Values
	profile.Goals = request.Goals
	profile.Situation = request.Situation
	profile.Insights = request.Insights

	if err := h.engine.QueueProfileUpdate(profile); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}
