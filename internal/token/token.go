// Package token persists the identity provider's session token per email so
// later purchase attempts can skip the interactive login.
package token

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// DefaultLifetime is how long a freshly issued token is trusted.
const DefaultLifetime = 6 * time.Hour

var ErrNotFound = errors.New("session token not found")

// SessionToken is keyed externally by Email; ID may change across upserts.
type SessionToken struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Value     string    `json:"token"`
	ExpiresAt time.Time `json:"expired_at"`
}

// New issues a token for email that expires lifetime after now.
func New(email, value string, now time.Time, lifetime time.Duration) *SessionToken {
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}
	return &SessionToken{
		ID:        uuid.New(),
		Email:     email,
		Value:     value,
		ExpiresAt: now.Add(lifetime),
	}
}

// Expired reports whether the token is unusable at now. A token whose expiry
// equals now is expired.
func (t *SessionToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Store holds at most one token per email.
type Store interface {
	// Get returns ErrNotFound when no token was ever saved for email.
	Get(ctx context.Context, email string) (*SessionToken, error)
	// Save upserts tok by email and returns the persisted record.
	Save(ctx context.Context, tok *SessionToken) (*SessionToken, error)
}
