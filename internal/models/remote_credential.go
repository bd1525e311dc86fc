// Package models provides data model definitions for the ClariCoach core.
package models

import (
	"time"

	"github.com/claricoach/backend/internal/crypto"
)

// RemoteCredential holds the encrypted auth token for the remote record store.
// TokenEncrypted is never exposed in JSON responses.
type RemoteCredential struct {
	ID             UUID   `db:"id" json:"id"`
	UserID         string `db:"user_id" json:"user_id"`
	BaseURL        string `db:"base_url" json:"base_url"`
	TokenEncrypted string `db:"token_encrypted" json:"-"` // Never expose
	IsEnabled      bool   `db:"is_enabled" json:"is_enabled"`
	CreatedAt      int64  `db:"created_at" json:"created_at"`
	UpdatedAt      int64  `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for RemoteCredential.
func (RemoteCredential) TableName() string {
	return "remote_credentials"
}

// CreatedAtTime returns the CreatedAt as time.Time.
func (r *RemoteCredential) CreatedAtTime() time.Time {
	return time.Unix(r.CreatedAt, 0)
}

// UpdatedAtTime returns the UpdatedAt as time.Time.
func (r *RemoteCredential) UpdatedAtTime() time.Time {
	return time.Unix(r.UpdatedAt, 0)
}

// SetToken encrypts and stores the auth token using AES-256-GCM.
// The key is derived from the machine ID so the token at rest is unreadable
// off-device.
func (r *RemoteCredential) SetToken(token, machineID string) error {
	encrypted, err := crypto.Encrypt([]byte(token), []byte(machineID))
	if err != nil {
		return err
	}
	r.TokenEncrypted = encrypted
	return nil
}

// Token decrypts and returns the auth token.
func (r *RemoteCredential) Token(machineID string) (string, error) {
	if r.TokenEncrypted == "" {
		return "", nil
	}
	plain, err := crypto.Decrypt(r.TokenEncrypted, []byte(machineID))
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// HasToken returns true if an encrypted token is stored.
func (r *RemoteCredential) HasToken() bool {
	return r.TokenEncrypted != ""
}
