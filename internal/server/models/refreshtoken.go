package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/modernapi/internal/common"
	"github.com/google/uuid"
)

// TokenState is derived from a refresh token's fields; it is never stored.
type TokenState string

const (
	TokenActive  TokenState = "active"
	TokenExpired TokenState = "expired"
	TokenRevoked TokenState = "revoked"
)

// RefreshToken is a persisted, revocable, long-lived opaque credential.
type RefreshToken struct {
	ID            string
	UserID        string
	Token         string
	ExpiresAt     time.Time
	Revoked       bool
	RevokedAt     *time.Time
	RevokedReason *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewRefreshToken builds an active token. expiresAt must be strictly after now.
func NewRefreshToken(userID, token string, expiresAt, now time.Time) (*RefreshToken, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, common.NewValidationError("user_id", "required")
	}
	if strings.TrimSpace(token) == "" {
		return nil, common.NewValidationError("token", "required")
	}
	if !expiresAt.After(now) {
		return nil, common.NewValidationError("expires_at", "must be in the future")
	}

	return &RefreshToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		Token:     token,
		ExpiresAt: expiresAt.UTC(),
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}, nil
}

// IsValid reports !Revoked && ExpiresAt > now.
func (t *RefreshToken) IsValid(now time.Time) bool {
	return !t.Revoked && t.ExpiresAt.After(now)
}

// IsExpired reports whether the token's lifetime has passed.
func (t *RefreshToken) IsExpired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// State returns the token's lifecycle state at now. Revocation wins over
// expiry.
func (t *RefreshToken) State(now time.Time) TokenState {
	switch {
	case t.Revoked:
		return TokenRevoked
	case t.IsExpired(now):
		return TokenExpired
	default:
		return TokenActive
	}
}

// Lifetime is the span the token was issued for.
func (t *RefreshToken) Lifetime() time.Duration {
	return t.ExpiresAt.Sub(t.CreatedAt)
}

// Revoke marks the token revoked. Revoked is terminal, so a second call
// returns common.ErrTokenAlreadyRevoked and leaves the token untouched.
func (t *RefreshToken) Revoke(reason string, now time.Time) error {
	if t.Revoked {
		return fmt.Errorf("token %s: %w", t.ID, common.ErrTokenAlreadyRevoked)
	}
	at := now.UTC()
	t.Revoked = true
	t.RevokedAt = &at
	t.RevokedReason = &reason
	t.UpdatedAt = at
	return nil
}

// Clone returns a deep copy.
func (t *RefreshToken) Clone() *RefreshToken {
	c := *t
	c.RevokedAt = clonePtr(t.RevokedAt)
	c.RevokedReason = clonePtr(t.RevokedReason)
	return &c
}
