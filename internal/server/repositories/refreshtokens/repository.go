// Package refreshtokens declares the refresh token store contract and its
// PostgreSQL implementation.
package refreshtokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/modernapi/internal/server/models"
)

// Repository persists refresh tokens. Revocation is last-writer-wins: there is
// no version check on this entity.
type Repository interface {
	// GetByToken returns common.ErrorNotFound when the token string is unknown.
	GetByToken(ctx context.Context, token string) (*models.RefreshToken, error)
	GetByID(ctx context.Context, id string) (*models.RefreshToken, error)
	// GetActiveByUser lists non-revoked tokens that are still valid at now,
	// newest first.
	GetActiveByUser(ctx context.Context, userID string, now time.Time) ([]*models.RefreshToken, error)
	Create(ctx context.Context, token *models.RefreshToken) error
	Update(ctx context.Context, token *models.RefreshToken) error
	// Revoke marks the token revoked only if it is not revoked yet and
	// reports whether this call made the change.
	Revoke(ctx context.Context, id, reason string, at time.Time) (bool, error)
	// RevokeAllForUser revokes every token of the user still active at at
	// and returns how many were revoked.
	RevokeAllForUser(ctx context.Context, userID, reason string, at time.Time) (int64, error)
	// RemoveExpired deletes tokens whose lifetime ended at or before now.
	RemoveExpired(ctx context.Context, now time.Time) (int64, error)
}
