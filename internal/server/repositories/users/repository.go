// Package users declares the user store contract and its PostgreSQL
// implementation.
package users

import (
	"context"
	"time"

	"github.com/dmitrijs2005/modernapi/internal/server/models"
)

// Repository persists the User aggregate. Lookups return common.ErrorNotFound
// for missing rows; store failures match common.ErrPersistence.
type Repository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	// GetByEmail matches on the normalized address.
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	// Create fails with common.ErrConflict when the email is taken.
	Create(ctx context.Context, user *models.User) error
	// Update writes the whole aggregate if user.Version still matches the
	// stored row and bumps the version. A stale version yields
	// common.ErrVersionConflict.
	Update(ctx context.Context, user *models.User) error
	// RecordAccessFailure counts one failed attempt against the stored row
	// and applies p in a single atomic step, so concurrent failures are all
	// counted. There is no version check: failed logins never conflict with
	// profile edits.
	RecordAccessFailure(ctx context.Context, userID string, p models.LockoutPolicy, now time.Time) (models.AccessFailure, error)
	// ResetAccessFailures clears the failure counter. A lockout in force is
	// left alone.
	ResetAccessFailures(ctx context.Context, userID string, now time.Time) error
}
