package services

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/modernapi/internal/logging"
	"github.com/dmitrijs2005/modernapi/internal/server/models"
	"github.com/dmitrijs2005/modernapi/internal/server/password"
	"github.com/dmitrijs2005/modernapi/internal/server/repositories/repomanager"
)

// PasswordVerifier checks credentials and keeps the failure counter and
// lockout state of the user in step with the outcome.
type PasswordVerifier struct {
	store  *repomanager.Store
	hasher password.Hasher
	policy models.LockoutPolicy
	events EventPublisher
	logger logging.Logger
	now    func() time.Time

	// dummyHash is verified against when the user does not exist, so unknown
	// and known emails take comparable time.
	dummyHash string
}

func NewPasswordVerifier(store *repomanager.Store, hasher password.Hasher, policy models.LockoutPolicy,
	events EventPublisher, logger logging.Logger, clock func() time.Time) *PasswordVerifier {
	if events == nil {
		events = nopPublisher{}
	}
	if logger == nil {
		logger = logging.Nop()
	}
	dummy, _ := hasher.Hash("modernapi-timing-equaliser")
	return &PasswordVerifier{
		store:     store,
		hasher:    hasher,
		policy:    policy,
		events:    events,
		logger:    logger.With("module", "password_verifier"),
		now:       defaultClock(clock),
		dummyHash: dummy,
	}
}

// VerifyPassword loads the user and delegates to Check. An unknown user is
// reported as a mismatch, not an error.
func (v *PasswordVerifier) VerifyPassword(ctx context.Context, userID, plain string) (bool, error) {
	user, err := v.store.Manager.Users(v.store.DB).GetByID(ctx, userID)
	if err != nil {
		if isNotFound(err) {
			v.BurnTime(plain)
			return false, nil
		}
		return false, fmt.Errorf("load user: %w", err)
	}
	return v.Check(ctx, user, plain)
}

// IsLockedOut reports whether the user is currently locked out. Unknown users
// are not.
func (v *PasswordVerifier) IsLockedOut(ctx context.Context, userID string) (bool, error) {
	user, err := v.store.Manager.Users(v.store.DB).GetByID(ctx, userID)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("load user: %w", err)
	}
	return user.IsLockedOut(v.now()), nil
}

// Check verifies plain against user's hash. While locked out every attempt
// fails and still counts. A mismatch records a failure and may start a
// lockout. A match clears the counter. Lockout state is persisted at once
// and user is updated in place from the stored result.
func (v *PasswordVerifier) Check(ctx context.Context, user *models.User, plain string) (bool, error) {
	now := v.now()

	if user.IsLockedOut(now) {
		return false, v.recordFailure(ctx, user, now)
	}

	if !v.hasher.Verify(plain, user.CredentialHash()) {
		return false, v.recordFailure(ctx, user, now)
	}

	if user.ResetAccessFailures(now) {
		if err := v.store.Manager.Users(v.store.DB).ResetAccessFailures(ctx, user.ID, now); err != nil {
			return false, fmt.Errorf("reset access failures: %w", err)
		}
	}
	return true, nil
}

// BurnTime runs a verification whose result is discarded.
func (v *PasswordVerifier) BurnTime(plain string) {
	_ = v.hasher.Verify(plain, v.dummyHash)
}

func (v *PasswordVerifier) recordFailure(ctx context.Context, user *models.User, now time.Time) error {
	// The store counts the failure; user may be stale under concurrent logins.
	f, err := v.store.Manager.Users(v.store.DB).RecordAccessFailure(ctx, user.ID, v.policy, now)
	if err != nil {
		return fmt.Errorf("record access failure: %w", err)
	}
	user.ApplyAccessFailure(f, now)

	events := user.PullEvents()
	for _, e := range events {
		if lo, ok := e.(models.UserLockedOut); ok {
			v.logger.Warn(ctx, "user locked out", "user_id", user.ID, "until", lo.Until)
		}
	}
	v.events.Dispatch(ctx, events...)
	return nil
}
