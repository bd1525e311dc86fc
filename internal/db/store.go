// Package db provides CRUD store operations for ClariCoach cached records.
package db

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/claricoach/backend/internal/errors"
	"github.com/claricoach/backend/internal/models"
	"github.com/claricoach/backend/internal/uuid"
)

// ProfileStaleThreshold is how long a cached context profile is trusted
// before a sync pass should refresh it from the remote.
const ProfileStaleThreshold = time.Hour

// DefaultMaxRetries is the retry cap assigned to new pending operations.
// An operation that fails this many replay attempts is dead-lettered.
const DefaultMaxRetries = 10

// Store provides CRUD operations over the local cache.
// Prepared statements are cached on first use to avoid repeated SQL parsing
// on the hot sync path.
type Store struct {
	db *sql.DB

	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewStore creates a new Store instance.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// PrepareStmt gets or creates a prepared statement from cache.
// Key is the query string, value is the prepared statement.
func (s *Store) PrepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := s.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := s.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	// Another goroutine may have raced us; keep the stored one.
	actual, loaded := s.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}

	return stmt, nil
}

// Close closes all cached prepared statements.
func (s *Store) Close() error {
	var firstErr error
	s.stmtCache.Range(func(key, value interface{}) bool {
		stmt := value.(*sql.Stmt)
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// IsStale reports whether a cache row last synced at the given Unix time
// has outlived the threshold. A zero lastSyncedAt means never synced, which
// is always stale.
func IsStale(lastSyncedAt int64, threshold time.Duration) bool {
	if lastSyncedAt == 0 {
		return true
	}
	return time.Since(time.Unix(lastSyncedAt, 0)) > threshold
}

// =====================================================
// Conversation Operations
// =====================================================

// UpsertConversations writes a batch of server-authoritative conversations
// into the cache in a single transaction. Existing rows are overwritten;
// cached_at and last_synced_at are bumped to now.
func (s *Store) UpsertConversations(conversations []*models.Conversation) error {
	if len(conversations) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	query := `INSERT INTO conversations (remote_id, user_id, title, domain, message_count,
				last_message_at, created_at, updated_at, cached_at, last_synced_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			  ON CONFLICT(remote_id) DO UPDATE SET
				user_id = excluded.user_id,
				title = excluded.title,
				domain = excluded.domain,
				message_count = excluded.message_count,
				last_message_at = excluded.last_message_at,
				created_at = excluded.created_at,
				updated_at = excluded.updated_at,
				cached_at = excluded.cached_at,
				last_synced_at = excluded.last_synced_at`

	stmt, err := tx.Prepare(query)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to prepare upsert", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, c := range conversations {
		c.CachedAt = now
		c.LastSyncedAt = now
		_, err := stmt.Exec(c.RemoteID, c.UserID, c.Title, c.Domain, c.MessageCount,
			c.LastMessageAt, c.CreatedAt, c.UpdatedAt, c.CachedAt, c.LastSyncedAt)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrStorage,
				fmt.Sprintf("failed to upsert conversation %s", c.RemoteID), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to commit transaction", err)
	}
	return nil
}

// GetConversation retrieves a cached conversation by remote ID.
func (s *Store) GetConversation(remoteID models.UUID) (*models.Conversation, error) {
	query := `SELECT remote_id, user_id, title, domain, message_count, last_message_at,
				created_at, updated_at, cached_at, last_synced_at
			  FROM conversations WHERE remote_id = ?`

	stmt, err := s.PrepareStmt(query)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to prepare query", err)
	}

	c := &models.Conversation{}
	err = stmt.QueryRow(remoteID).Scan(&c.RemoteID, &c.UserID, &c.Title, &c.Domain,
		&c.MessageCount, &c.LastMessageAt, &c.CreatedAt, &c.UpdatedAt,
		&c.CachedAt, &c.LastSyncedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.ErrNotFound,
			fmt.Sprintf("conversation not found: %s", remoteID))
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to get conversation", err)
	}
	return c, nil
}

// ListConversations returns all cached conversations for a user, most
// recently active first.
func (s *Store) ListConversations(userID string) ([]*models.Conversation, error) {
	query := `SELECT remote_id, user_id, title, domain, message_count, last_message_at,
				created_at, updated_at, cached_at, last_synced_at
			  FROM conversations WHERE user_id = ?
			  ORDER BY last_message_at DESC, remote_id ASC`

	stmt, err := s.PrepareStmt(query)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to prepare query", err)
	}

	rows, err := stmt.Query(userID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to list conversations", err)
	}
	defer rows.Close()

	var conversations []*models.Conversation
	for rows.Next() {
		c := &models.Conversation{}
		err := rows.Scan(&c.RemoteID, &c.UserID, &c.Title, &c.Domain, &c.MessageCount,
			&c.LastMessageAt, &c.CreatedAt, &c.UpdatedAt, &c.CachedAt, &c.LastSyncedAt)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to scan conversation", err)
		}
		conversations = append(conversations, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to iterate conversations", err)
	}
	return conversations, nil
}

// DeleteConversation removes a cached conversation and all of its messages
// in a single transaction. Deleting an absent conversation is a no-op.
func (s *Store) DeleteConversation(remoteID models.UUID) error {
	tx, err := s.db.Begin()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	// The schema also cascades, but the delete is explicit so the invariant
	// holds even on a database opened without foreign_keys=ON.
	if _, err := tx.Exec("DELETE FROM messages WHERE conversation_id = ?", remoteID); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to delete conversation messages", err)
	}
	if _, err := tx.Exec("DELETE FROM conversations WHERE remote_id = ?", remoteID); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to delete conversation", err)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to commit transaction", err)
	}
	return nil
}

// =====================================================
// Message Operations
// =====================================================

// UpsertMessages writes a batch of server-authoritative messages into the
// cache in a single transaction.
func (s *Store) UpsertMessages(messages []*models.Message) error {
	if len(messages) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	query := `INSERT INTO messages (remote_id, conversation_id, role, content, created_at, cached_at)
			  VALUES (?, ?, ?, ?, ?, ?)
			  ON CONFLICT(remote_id) DO UPDATE SET
				conversation_id = excluded.conversation_id,
				role = excluded.role,
				content = excluded.content,
				created_at = excluded.created_at,
				cached_at = excluded.cached_at`

	stmt, err := tx.Prepare(query)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to prepare upsert", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, m := range messages {
		m.CachedAt = now
		_, err := stmt.Exec(m.RemoteID, m.ConversationID, m.Role, m.Content, m.CreatedAt, m.CachedAt)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrStorage,
				fmt.Sprintf("failed to upsert message %s", m.RemoteID), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to commit transaction", err)
	}
	return nil
}

// ListMessages returns the cached messages of a conversation in send order.
func (s *Store) ListMessages(conversationID models.UUID) ([]*models.Message, error) {
	query := `SELECT remote_id, conversation_id, role, content, created_at, cached_at
			  FROM messages WHERE conversation_id = ?
			  ORDER BY created_at ASC, remote_id ASC`

	stmt, err := s.PrepareStmt(query)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to prepare query", err)
	}

	rows, err := stmt.Query(conversationID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to list messages", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		m := &models.Message{}
		err := rows.Scan(&m.RemoteID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt, &m.CachedAt)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to scan message", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to iterate messages", err)
	}
	return messages, nil
}

// =====================================================
// ContextProfile Operations
// =====================================================

// GetContextProfile retrieves the cached context profile for a user.
func (s *Store) GetContextProfile(userID string) (*models.ContextProfile, error) {
	query := `SELECT remote_id, user_id, profile_values, goals, situation, insights,
				created_at, updated_at, cached_at, last_synced_at, local_updated_at, sync_status
			  FROM context_profiles WHERE user_id = ?`

	stmt, err := s.PrepareStmt(query)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to prepare query", err)
	}

	p := &models.ContextProfile{}
	var localUpdatedAt sql.NullInt64
	err = stmt.QueryRow(userID).Scan(&p.RemoteID, &p.UserID, &p.Values, &p.Goals,
		&p.Situation, &p.Insights, &p.CreatedAt, &p.UpdatedAt,
		&p.CachedAt, &p.LastSyncedAt, &localUpdatedAt, &p.SyncStatus)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.ErrNotFound,
			fmt.Sprintf("context profile not found for user: %s", userID))
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to get context profile", err)
	}
	if localUpdatedAt.Valid {
		ts := localUpdatedAt.Int64
		p.LocalUpdatedAt = &ts
	}
	return p, nil
}

// SaveContextProfile writes the context profile into the cache, replacing
// any existing row for the same user. The caller controls all bookkeeping
// fields; a sync pass clears LocalUpdatedAt, a local edit sets it.
func (s *Store) SaveContextProfile(p *models.ContextProfile) error {
	if p.SyncStatus == "" {
		p.SyncStatus = models.SyncStatusSynced
	}
	p.CachedAt = time.Now().Unix()

	query := `INSERT INTO context_profiles (remote_id, user_id, profile_values, goals,
				situation, insights, created_at, updated_at, cached_at, last_synced_at,
				local_updated_at, sync_status)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			  ON CONFLICT(user_id) DO UPDATE SET
				remote_id = excluded.remote_id,
				profile_values = excluded.profile_values,
				goals = excluded.goals,
				situation = excluded.situation,
				insights = excluded.insights,
				created_at = excluded.created_at,
				updated_at = excluded.updated_at,
				cached_at = excluded.cached_at,
				last_synced_at = excluded.last_synced_at,
				local_updated_at = excluded.local_updated_at,
				sync_status = excluded.sync_status`

	stmt, err := s.PrepareStmt(query)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to prepare upsert", err)
	}

	var localUpdatedAt interface{}
	if p.LocalUpdatedAt != nil {
		localUpdatedAt = *p.LocalUpdatedAt
	}

	_, err = stmt.Exec(p.RemoteID, p.UserID, p.Values, p.Goals, p.Situation, p.Insights,
		p.CreatedAt, p.UpdatedAt, p.CachedAt, p.LastSyncedAt, localUpdatedAt, p.SyncStatus)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to save context profile", err)
	}
	return nil
}

// =====================================================
// Pending Operation Queue
// =====================================================

// EnqueueOperation appends a durable pending operation to the queue.
// ID, timestamps, status and the retry cap are assigned here.
func (s *Store) EnqueueOperation(op *models.PendingOperation) error {
	now := time.Now().Unix()
	if op.ID == "" {
		op.ID = models.UUID(uuid.New())
	}
	if op.MaxRetries == 0 {
		op.MaxRetries = DefaultMaxRetries
	}
	op.Status = models.OperationStatusPending
	op.EnqueuedAt = now
	op.UpdatedAt = now

	query := `INSERT INTO pending_operations (id, kind, payload, retry_count, max_retries,
				status, last_error, enqueued_at, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	stmt, err := s.PrepareStmt(query)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to prepare insert", err)
	}

	_, err = stmt.Exec(op.ID, op.Kind, []byte(op.Payload), op.RetryCount, op.MaxRetries,
		op.Status, op.LastError, op.EnqueuedAt, op.UpdatedAt)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to enqueue operation", err)
	}
	return nil
}

// ListPendingOperations returns replay-eligible operations in FIFO order.
// Failed (dead-lettered) entries are excluded.
func (s *Store) ListPendingOperations() ([]*models.PendingOperation, error) {
	query := `SELECT id, kind, payload, retry_count, max_retries, status, last_error,
				enqueued_at, updated_at
			  FROM pending_operations WHERE status = ?
			  ORDER BY enqueued_at ASC, id ASC`

	stmt, err := s.PrepareStmt(query)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to prepare query", err)
	}

	rows, err := stmt.Query(models.OperationStatusPending)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to list pending operations", err)
	}
	defer rows.Close()

	return scanOperations(rows)
}

// ListFailedOperations returns dead-lettered operations, oldest first.
func (s *Store) ListFailedOperations() ([]*models.PendingOperation, error) {
	query := `SELECT id, kind, payload, retry_count, max_retries, status, last_error,
				enqueued_at, updated_at
			  FROM pending_operations WHERE status = ?
			  ORDER BY enqueued_at ASC, id ASC`

	stmt, err := s.PrepareStmt(query)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to prepare query", err)
	}

	rows, err := stmt.Query(models.OperationStatusFailed)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to list failed operations", err)
	}
	defer rows.Close()

	return scanOperations(rows)
}

func scanOperations(rows *sql.Rows) ([]*models.PendingOperation, error) {
	var ops []*models.PendingOperation
	for rows.Next() {
		op := &models.PendingOperation{}
		var payload []byte
		err := rows.Scan(&op.ID, &op.Kind, &payload, &op.RetryCount, &op.MaxRetries,
			&op.Status, &op.LastError, &op.EnqueuedAt, &op.UpdatedAt)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to scan operation", err)
		}
		op.Payload = payload
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to iterate operations", err)
	}
	return ops, nil
}

// CountPendingOperations returns the number of replay-eligible operations.
func (s *Store) CountPendingOperations() (int, error) {
	stmt, err := s.PrepareStmt("SELECT COUNT(*) FROM pending_operations WHERE status = ?")
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorage, "failed to prepare query", err)
	}

	var count int
	if err := stmt.QueryRow(models.OperationStatusPending).Scan(&count); err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorage, "failed to count pending operations", err)
	}
	return count, nil
}

// RemoveOperation deletes an operation after the remote confirmed it.
func (s *Store) RemoveOperation(id models.UUID) error {
	stmt, err := s.PrepareStmt("DELETE FROM pending_operations WHERE id = ?")
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to prepare delete", err)
	}

	if _, err := stmt.Exec(id); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to remove operation", err)
	}
	return nil
}

// IncrementRetry bumps the retry counter of a pending operation and records
// the error that caused the failed attempt. The entry stays pending.
func (s *Store) IncrementRetry(id models.UUID, lastError string) error {
	query := `UPDATE pending_operations
			  SET retry_count = retry_count + 1, last_error = ?, updated_at = ?
			  WHERE id = ?`

	stmt, err := s.PrepareStmt(query)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to prepare update", err)
	}

	if _, err := stmt.Exec(lastError, time.Now().Unix(), id); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to increment retry count", err)
	}
	return nil
}

// MarkOperationFailed dead-letters an operation that exhausted its retries.
// The row is retained for inspection but excluded from replay.
func (s *Store) MarkOperationFailed(id models.UUID, lastError string) error {
	query := `UPDATE pending_operations
			  SET status = ?, last_error = ?, updated_at = ?
			  WHERE id = ?`

	stmt, err := s.PrepareStmt(query)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to prepare update", err)
	}

	if _, err := stmt.Exec(models.OperationStatusFailed, lastError, time.Now().Unix(), id); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to mark operation failed", err)
	}
	return nil
}

// RequeueFailedOperations resets all dead-lettered operations back to
// pending with a zero retry count. Returns the number of requeued entries.
func (s *Store) RequeueFailedOperations() (int, error) {
	query := `UPDATE pending_operations
			  SET status = ?, retry_count = 0, last_error = '', updated_at = ?
			  WHERE status = ?`

	stmt, err := s.PrepareStmt(query)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorage, "failed to prepare update", err)
	}

	result, err := stmt.Exec(models.OperationStatusPending, time.Now().Unix(), models.OperationStatusFailed)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorage, "failed to requeue failed operations", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorage, "failed to read affected rows", err)
	}
	return int(affected), nil
}

// =====================================================
// Remote Credential Operations
// =====================================================

// GetRemoteCredential retrieves the remote store credential for a user.
func (s *Store) GetRemoteCredential(userID string) (*models.RemoteCredential, error) {
	query := `SELECT id, user_id, base_url, token_encrypted, is_enabled, created_at, updated_at
			  FROM remote_credentials WHERE user_id = ?`

	stmt, err := s.PrepareStmt(query)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to prepare query", err)
	}

	c := &models.RemoteCredential{}
	err = stmt.QueryRow(userID).Scan(&c.ID, &c.UserID, &c.BaseURL, &c.TokenEncrypted,
		&c.IsEnabled, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.ErrNotFound,
			fmt.Sprintf("remote credential not found for user: %s", userID))
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to get remote credential", err)
	}
	return c, nil
}

// SaveRemoteCredential writes the remote store credential, replacing any
// existing row for the same user.
func (s *Store) SaveRemoteCredential(c *models.RemoteCredential) error {
	now := time.Now().Unix()
	if c.ID == "" {
		c.ID = models.UUID(uuid.New())
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	query := `INSERT INTO remote_credentials (id, user_id, base_url, token_encrypted,
				is_enabled, created_at, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?)
			  ON CONFLICT(user_id) DO UPDATE SET
				base_url = excluded.base_url,
				token_encrypted = excluded.token_encrypted,
				is_enabled = excluded.is_enabled,
				updated_at = excluded.updated_at`

	stmt, err := s.PrepareStmt(query)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to prepare upsert", err)
	}

	_, err = stmt.Exec(c.ID, c.UserID, c.BaseURL, c.TokenEncrypted, c.IsEnabled,
		c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to save remote credential", err)
	}
	return nil
}

// =====================================================
// Cache Maintenance
// =====================================================

// ClearAll removes every cached record, pending operation and credential.
// Used on sign-out. Clearing an empty cache succeeds.
func (s *Store) ClearAll() error {
	tx, err := s.db.Begin()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	// Messages before conversations so the FK is never violated mid-clear.
	tables := []string{
		"messages",
		"conversations",
		"context_profiles",
		"pending_operations",
		"remote_credentials",
	}
	for _, table := range tables {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return apperrors.Wrap(apperrors.ErrStorage,
				fmt.Sprintf("failed to clear table %s", table), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to commit transaction", err)
	}
	return nil
}
