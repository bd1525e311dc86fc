package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/claricoach/backend/internal/errors"
	"github.com/claricoach/backend/internal/models"
)

// DefaultRequestTimeout bounds each individual remote call.
const DefaultRequestTimeout = 15 * time.Second

// Client is an HTTPS RecordStore client. The wire format is plain JSON over
// a small REST surface; the engine never sees any of this, only the
// RecordStore interface.
type Client struct {
	baseURL string
	token   TokenProvider
	http    *http.Client
}

// NewClient creates a RecordStore client for the given base URL.
// A nil httpClient gets a default with DefaultRequestTimeout.
func NewClient(baseURL string, token TokenProvider, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultRequestTimeout}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
	}
}

// do executes one request and maps transport and status failures onto the
// engine's error taxonomy.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrInternal, "failed to encode request body", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.token != nil {
		token, err := c.token()
		if err != nil {
			return apperrors.Wrap(apperrors.ErrAuthFailed, "failed to obtain auth token", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrRemoteUnavailable, "remote request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return apperrors.New(apperrors.ErrNotFound,
			fmt.Sprintf("remote has no record at %s", path))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return apperrors.New(apperrors.ErrAuthFailed,
			fmt.Sprintf("remote rejected credentials (status %d)", resp.StatusCode))
	case resp.StatusCode >= 500:
		return apperrors.New(apperrors.ErrRemoteUnavailable,
			fmt.Sprintf("remote returned status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return apperrors.New(apperrors.ErrValidation,
			fmt.Sprintf("remote rejected request (status %d)", resp.StatusCode))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return apperrors.Wrap(apperrors.ErrRemoteUnavailable, "failed to decode response", err)
		}
	}
	return nil
}

// FetchContextProfile returns the authoritative profile for a user.
func (c *Client) FetchContextProfile(ctx context.Context, userID string) (*models.ContextProfile, error) {
	var p models.ContextProfile
	path := "/v1/users/" + url.PathEscape(userID) + "/context-profile"
	if err := c.do(ctx, http.MethodGet, path, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// PushContextProfile writes a locally-edited profile to the remote.
func (c *Client) PushContextProfile(ctx context.Context, p *models.ContextProfile) error {
	path := "/v1/users/" + url.PathEscape(p.UserID) + "/context-profile"
	return c.do(ctx, http.MethodPut, path, p, nil)
}

// FetchConversations returns the authoritative conversation list for a user.
func (c *Client) FetchConversations(ctx context.Context, userID string) ([]*models.Conversation, error) {
	var conversations []*models.Conversation
	path := "/v1/users/" + url.PathEscape(userID) + "/conversations"
	if err := c.do(ctx, http.MethodGet, path, nil, &conversations); err != nil {
		return nil, err
	}
	return conversations, nil
}

// FetchMessages returns the authoritative messages of a conversation.
func (c *Client) FetchMessages(ctx context.Context, conversationID models.UUID) ([]*models.Message, error) {
	var messages []*models.Message
	path := "/v1/conversations/" + url.PathEscape(string(conversationID)) + "/messages"
	if err := c.do(ctx, http.MethodGet, path, nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// InsertConflictLog writes one audit record.
func (c *Client) InsertConflictLog(ctx context.Context, rec *models.ConflictLog) error {
	return c.do(ctx, http.MethodPost, "/v1/conflict-logs", rec, nil)
}

// Ping probes the remote health endpoint. Used by the connectivity monitor.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/v1/health", nil, nil)
}
