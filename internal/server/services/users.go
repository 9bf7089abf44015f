package services

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/modernapi/internal/common"
	"github.com/dmitrijs2005/modernapi/internal/dbx"
	"github.com/dmitrijs2005/modernapi/internal/logging"
	"github.com/dmitrijs2005/modernapi/internal/server/models"
	"github.com/dmitrijs2005/modernapi/internal/server/password"
	"github.com/dmitrijs2005/modernapi/internal/server/repositories/repomanager"
)

type UpdateProfileRequest struct {
	DisplayName string  `json:"displayName" validate:"required,max=100"`
	FirstName   *string `json:"firstName,omitempty" validate:"omitempty,max=100"`
	LastName    *string `json:"lastName,omitempty" validate:"omitempty,max=100"`
}

type ChangeEmailRequest struct {
	Email string `json:"email" validate:"required,email,max=256"`
}

// UserService manages the profile side of the User aggregate.
type UserService struct {
	store     *repomanager.Store
	events    EventPublisher
	metrics   Metrics
	logger    logging.Logger
	now       func() time.Time
	validator *requestValidator
}

func NewUserService(store *repomanager.Store, events EventPublisher, metrics Metrics, logger logging.Logger, clock func() time.Time) *UserService {
	if events == nil {
		events = nopPublisher{}
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &UserService{
		store:     store,
		events:    events,
		metrics:   metrics,
		logger:    logger.With("module", "user_service"),
		now:       defaultClock(clock),
		validator: newRequestValidator(password.Policy{}, 0),
	}
}

func (s *UserService) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	user, err := s.load(ctx, s.store.DB, userID)
	if err != nil {
		return nil, err
	}
	p := user.Profile()
	return &p, nil
}

func (s *UserService) UpdateProfile(ctx context.Context, userID string, req UpdateProfileRequest) (*models.Profile, error) {
	if err := s.validator.check(req, "", ""); err != nil {
		return nil, err
	}
	return s.mutate(ctx, userID, func(_ context.Context, _ dbx.DBTX, u *models.User) error {
		return u.UpdateProfile(req.DisplayName, req.FirstName, req.LastName, s.now())
	})
}

// ChangeEmail moves the account to a new address. The address must not be
// in use by another account.
func (s *UserService) ChangeEmail(ctx context.Context, userID string, req ChangeEmailRequest) (*models.Profile, error) {
	if err := s.validator.check(req, "", ""); err != nil {
		return nil, err
	}
	return s.mutate(ctx, userID, func(ctx context.Context, tx dbx.DBTX, u *models.User) error {
		if models.NormalizeEmail(req.Email) != u.NormalizedEmail {
			exists, err := s.store.Manager.Users(tx).ExistsByEmail(ctx, req.Email)
			if err != nil {
				return fmt.Errorf("check email: %w", err)
			}
			if exists {
				return fmt.Errorf("email already registered: %w", common.ErrConflict)
			}
		}
		return u.ChangeEmail(req.Email, s.now())
	})
}

func (s *UserService) VerifyEmail(ctx context.Context, userID string) (*models.Profile, error) {
	return s.mutate(ctx, userID, func(_ context.Context, _ dbx.DBTX, u *models.User) error {
		return u.VerifyEmail(s.now())
	})
}

// Deactivate disables the account and revokes all of its refresh tokens in
// the same transaction.
func (s *UserService) Deactivate(ctx context.Context, userID string) (*models.Profile, error) {
	var revoked int64
	p, err := s.mutate(ctx, userID, func(ctx context.Context, tx dbx.DBTX, u *models.User) error {
		now := s.now()
		if err := u.Deactivate(now); err != nil {
			return err
		}
		var err error
		revoked, err = s.store.Manager.RefreshTokens(tx).RevokeAllForUser(ctx, u.ID, common.RevokeReasonDeactivated, now)
		if err != nil {
			return fmt.Errorf("revoke refresh tokens: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveRevocations(common.RevokeReasonDeactivated, revoked)
	return p, nil
}

func (s *UserService) Reactivate(ctx context.Context, userID string) (*models.Profile, error) {
	return s.mutate(ctx, userID, func(_ context.Context, _ dbx.DBTX, u *models.User) error {
		return u.Reactivate(s.now())
	})
}

// mutate loads the user inside a transaction, applies fn and saves the
// result. Events are dispatched only after commit.
func (s *UserService) mutate(ctx context.Context, userID string, fn func(ctx context.Context, tx dbx.DBTX, u *models.User) error) (*models.Profile, error) {
	var user *models.User
	err := s.store.Tx.WithinTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		user, err = s.load(ctx, tx, userID)
		if err != nil {
			return err
		}
		if err := fn(ctx, tx, user); err != nil {
			return err
		}
		if err := s.store.Manager.Users(tx).Update(ctx, user); err != nil {
			return fmt.Errorf("update user: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	events := user.PullEvents()
	s.events.Dispatch(ctx, events...)
	for _, e := range events {
		s.logger.Info(ctx, "user changed", "user_id", user.ID, "event", e.EventName())
	}
	p := user.Profile()
	return &p, nil
}

func (s *UserService) load(ctx context.Context, db dbx.DBTX, userID string) (*models.User, error) {
	user, err := s.store.Manager.Users(db).GetByID(ctx, userID)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("user %s: %w", userID, common.ErrorNotFound)
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}
