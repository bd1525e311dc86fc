// Package handlers provides unit tests for the cache REST endpoints.
package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/claricoach/backend/internal/db"
	"github.com/claricoach/backend/internal/models"
	"github.com/claricoach/backend/internal/uuid"
)

func setupCacheHandler(t *testing.T) (*db.Store, *fakeOrchestrator, *http.ServeMux) {
	t.Helper()
	database, err := db.OpenInMemory()
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.NewMigrator(database.DB).Up(); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	store := db.NewStore(database.DB)
	t.Cleanup(func() { store.Close() })

	engine := &fakeOrchestrator{}
	mux := http.NewServeMux()
	NewCacheHandler(store, engine, "user-1").RegisterRoutes(mux)
	return store, engine, mux
}

func TestListConversationsEndpoint(t *testing.T) {
	store, _, mux := setupCacheHandler(t)

	now := time.Now().Unix()
	c := &models.Conversation{
		RemoteID:      models.UUID(uuid.New()),
		UserID:        "user-1",
		Title:         "Career direction",
		Domain:        "career",
		LastMessageAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := store.UpsertConversations([]*models.Conversation{c}); err != nil {
		t.Fatalf("UpsertConversations failed: %v", err)
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/conversations", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var conversations []*models.Conversation
	if err := json.NewDecoder(rec.Body).Decode(&conversations); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if len(conversations) != 1 || conversations[0].Title != "Career direction" {
		t.Errorf("Unexpected conversations: %+v", conversations)
	}
}

func TestListMessagesEndpoint(t *testing.T) {
	store, _, mux := setupCacheHandler(t)

	now := time.Now().Unix()
	c := &models.Conversation{
		RemoteID: models.UUID(uuid.New()), UserID: "user-1",
		Title: "Career", Domain: "career",
		LastMessageAt: now, CreatedAt: now, UpdatedAt: now,
	}
	if err := store.UpsertConversations([]*models.Conversation{c}); err != nil {
		t.Fatalf("UpsertConversations failed: %v", err)
	}
	if err := store.UpsertMessages([]*models.Message{
		{RemoteID: models.UUID(uuid.New()), ConversationID: c.RemoteID, Role: "user", Content: "hi", CreatedAt: 1},
	}); err != nil {
		t.Fatalf("UpsertMessages failed: %v", err)
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/conversations/"+string(c.RemoteID)+"/messages", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var messages []*models.Message
	if err := json.NewDecoder(rec.Body).Decode(&messages); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if len(messages) != 1 || messages[0].Content != "hi" {
		t.Errorf("Unexpected messages: %+v", messages)
	}
}

func TestGetProfileNotFound(t *testing.T) {
	_, _, mux := setupCacheHandler(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/profile", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for missing profile, got %d", rec.Code)
	}
}

func TestGetProfileReportsStale(t *testing.T) {
	store, engine, mux := setupCacheHandler(t)

	profile := &models.ContextProfile{
		RemoteID:     models.UUID(uuid.New()),
		UserID:       "user-1",
		Values:       "honesty",
		CreatedAt:    1,
		UpdatedAt:    1,
		LastSyncedAt: time.Now().Add(-2 * time.Hour).Unix(),
	}
	if err := store.SaveContextProfile(profile); err != nil {
		t.Fatalf("SaveContextProfile failed: %v", err)
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/profile", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var response struct {
		Profile *models.ContextProfile `json:"profile"`
		Stale   bool                   `json:"stale"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if !response.Stale {
		t.Error("Expected profile older than the staleness threshold to be reported stale")
	}
	if response.Profile == nil || response.Profile.Values != "honesty" {
		t.Errorf("Unexpected profile payload: %+v", response.Profile)
	}
	if engine.triggered != 1 {
		t.Errorf("Expected a stale read to schedule a refresh, got %d triggers", engine.triggered)
	}
}

func TestGetProfileFreshReadSkipsRefresh(t *testing.T) {
	store, engine, mux := setupCacheHandler(t)

	profile := &models.ContextProfile{
		RemoteID:     models.UUID(uuid.New()),
		UserID:       "user-1",
		CreatedAt:    1,
		UpdatedAt:    1,
		LastSyncedAt: time.Now().Unix(),
	}
	if err := store.SaveContextProfile(profile); err != nil {
		t.Fatalf("SaveContextProfile failed: %v", err)
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/profile", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var response struct {
		Stale bool `json:"stale"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if response.Stale {
		t.Error("Expected a recently synced profile to be reported fresh")
	}
	if engine.triggered != 0 {
		t.Errorf("Expected no refresh on a fresh read, got %d triggers", engine.triggered)
	}
}

func TestUpdateProfileQueuesEdit(t *testing.T) {
	_, engine, mux := setupCacheHandler(t)

	body := `{"values":"autonomy","goals":"switch teams","situation":"mid-career","insights":""}`
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/profile", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	if len(engine.queuedEdits) != 1 {
		t.Fatalf("Expected 1 queued edit, got %d", len(engine.queuedEdits))
	}
	if engine.queuedEdits[0].Goals != "switch teams" {
		t.Errorf("Expected edit payload forwarded, got %+v", engine.queuedEdits[0])
	}
}

func TestUpdateProfilePropagatesStorageError(t *testing.T) {
	database, err := db.OpenInMemory()
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.NewMigrator(database.DB).Up(); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	store := db.NewStore(database.DB)
	t.Cleanup(func() { store.Close() })

	engine := &fakeOrchestrator{}
	mux := http.NewServeMux()
	NewCacheHandler(store, engine, "user-1").RegisterRoutes(mux)

	profile := &models.ContextProfile{
		RemoteID:  models.UUID(uuid.New()),
		UserID:    "user-1",
		Values:    "honesty",
		CreatedAt: 1,
		UpdatedAt: 1,
	}
	if err := store.SaveContextProfile(profile); err != nil {
		t.Fatalf("SaveContextProfile failed: %v", err)
	}

	// Make the cached row unreadable so the lookup fails with a storage
	// error rather than a missing row.
	if _, err := database.DB.Exec(
		`UPDATE context_profiles SET local_updated_at = 'corrupt' WHERE user_id = ?`, "user-1"); err != nil {
		t.Fatalf("Failed to corrupt row: %v", err)
	}

	body := `{"values":"overwritten"}`
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/profile", strings.NewReader(body)))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("Expected 500 on storage failure, got %d: %s", rec.Code, rec.Body.String())
	}

	if len(engine.queuedEdits) != 0 {
		t.Errorf("Expected no queued edit on storage failure, got %d", len(engine.queuedEdits))
	}

	// The cached row must survive untouched rather than be replaced by a
	// fresh one with an empty remote_id.
	var remoteID string
	if err := database.DB.QueryRow(
		`SELECT remote_id FROM context_profiles WHERE user_id = ?`, "user-1").Scan(&remoteID); err != nil {
		t.Fatalf("Failed to read row back: %v", err)
	}
	if remoteID != string(profile.RemoteID) {
		t.Errorf("Expected cached remote_id %q preserved, got %q", profile.RemoteID, remoteID)
	}
}

func TestDeleteConversationEndpoint(t *testing.T) {
	store, _, mux := setupCacheHandler(t)

	now := time.Now().Unix()
	c := &models.Conversation{
		RemoteID: models.UUID(uuid.New()), UserID: "user-1",
		Title: "Career", Domain: "career",
		LastMessageAt: now, CreatedAt: now, UpdatedAt: now,
	}
	if err := store.UpsertConversations([]*models.Conversation{c}); err != nil {
		t.Fatalf("UpsertConversations failed: %v", err)
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/conversations/"+string(c.RemoteID), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	list, err := store.ListConversations("user-1")
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("Expected conversation removed from cache, got %d", len(list))
	}
}
