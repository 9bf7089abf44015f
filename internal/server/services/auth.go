package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/modernapi/internal/common"
	"github.com/dmitrijs2005/modernapi/internal/dbx"
	"github.com/dmitrijs2005/modernapi/internal/logging"
	"github.com/dmitrijs2005/modernapi/internal/server/auth"
	"github.com/dmitrijs2005/modernapi/internal/server/config"
	"github.com/dmitrijs2005/modernapi/internal/server/models"
	"github.com/dmitrijs2005/modernapi/internal/server/password"
	"github.com/dmitrijs2005/modernapi/internal/server/repositories/repomanager"
)

const tokenTypeBearer = "Bearer"

type LoginRequest struct {
	Email      string `json:"email" validate:"required,email,max=256"`
	Password   string `json:"password" validate:"required"`
	RememberMe bool   `json:"rememberMe"`
}

type RegisterRequest struct {
	Email           string  `json:"email" validate:"required,email,max=256"`
	Password        string  `json:"password" validate:"required,max=128"`
	ConfirmPassword string  `json:"confirmPassword" validate:"required,eqfield=Password"`
	DisplayName     string  `json:"displayName" validate:"required,max=100"`
	FirstName       *string `json:"firstName,omitempty" validate:"omitempty,max=100"`
	LastName        *string `json:"lastName,omitempty" validate:"omitempty,max=100"`
}

type ChangePasswordRequest struct {
	CurrentPassword    string `json:"currentPassword" validate:"required"`
	NewPassword        string `json:"newPassword" validate:"required,max=128"`
	ConfirmNewPassword string `json:"confirmNewPassword" validate:"required,eqfield=NewPassword"`
}

// TokenBundle is handed to the client after login, registration or refresh.
type TokenBundle struct {
	AccessToken           string    `json:"accessToken"`
	AccessTokenExpiresAt  time.Time `json:"accessTokenExpiresAt"`
	RefreshToken          string    `json:"refreshToken"`
	RefreshTokenExpiresAt time.Time `json:"refreshTokenExpiresAt"`
	TokenType             string    `json:"tokenType"`
}

type AuthResult struct {
	Tokens TokenBundle    `json:"tokens"`
	User   models.Profile `json:"user"`
}

// Session describes an active refresh token without exposing its value.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// AuthOptions are the tunables of AuthService.
type AuthOptions struct {
	RefreshTokenTTL                time.Duration
	RememberMeRefreshTokenTTL      time.Duration
	RevokeSessionsOnPasswordChange bool
	PasswordPolicy                 password.Policy
}

// AuthOptionsFromConfig maps server configuration onto AuthOptions.
func AuthOptionsFromConfig(cfg *config.Config) AuthOptions {
	return AuthOptions{
		RefreshTokenTTL:                cfg.RefreshTokenValidityDuration,
		RememberMeRefreshTokenTTL:      cfg.RememberMeRefreshTokenValidityDuration,
		RevokeSessionsOnPasswordChange: cfg.RevokeSessionsOnPasswordChange,
		PasswordPolicy:                 password.DefaultPolicy,
	}
}

// AuthDeps are the collaborators of AuthService. Events, Metrics, Logger and
// Clock are optional.
type AuthDeps struct {
	Store    *repomanager.Store
	Verifier *PasswordVerifier
	Hasher   password.Hasher
	Issuer   *auth.Issuer
	Events   EventPublisher
	Metrics  Metrics
	Logger   logging.Logger
	Clock    func() time.Time
}

// AuthService orchestrates login, registration and the refresh token
// lifecycle.
type AuthService struct {
	store     *repomanager.Store
	verifier  *PasswordVerifier
	hasher    password.Hasher
	issuer    *auth.Issuer
	events    EventPublisher
	metrics   Metrics
	logger    logging.Logger
	now       func() time.Time
	opts      AuthOptions
	validator *requestValidator
}

func NewAuthService(d AuthDeps, opts AuthOptions) *AuthService {
	s := &AuthService{
		store:     d.Store,
		verifier:  d.Verifier,
		hasher:    d.Hasher,
		issuer:    d.Issuer,
		events:    d.Events,
		metrics:   d.Metrics,
		logger:    d.Logger,
		now:       defaultClock(d.Clock),
		opts:      opts,
		validator: newRequestValidator(opts.PasswordPolicy, password.MaxBytes(d.Hasher)),
	}
	if s.events == nil {
		s.events = nopPublisher{}
	}
	if s.metrics == nil {
		s.metrics = nopMetrics{}
	}
	if s.logger == nil {
		s.logger = logging.Nop()
	}
	s.logger = s.logger.With("module", "auth_service")
	return s
}

// Login authenticates by email and password. Unknown, deactivated, locked
// out and wrong-password cases are indistinguishable to the caller: all
// return common.ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (res *AuthResult, err error) {
	defer func() { s.metrics.ObserveAuth("login", result(err)) }()

	if err := s.validator.check(req, "", ""); err != nil {
		return nil, err
	}

	user, err := s.store.Manager.Users(s.store.DB).GetByEmail(ctx, req.Email)
	if err != nil {
		if isNotFound(err) {
			s.verifier.BurnTime(req.Password)
			return nil, common.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("load user: %w", err)
	}

	if !user.IsActive {
		s.verifier.BurnTime(req.Password)
		return nil, common.ErrInvalidCredentials
	}

	ok, err := s.verifier.Check(ctx, user, req.Password)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.logger.Info(ctx, "login rejected", "user_id", user.ID)
		return nil, common.ErrInvalidCredentials
	}

	ttl := s.opts.RefreshTokenTTL
	if req.RememberMe {
		ttl = s.opts.RememberMeRefreshTokenTTL
	}

	bundle, err := s.issueTokens(ctx, s.store.DB, user, ttl)
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "user logged in", "user_id", user.ID, "remember_me", req.RememberMe)
	return &AuthResult{Tokens: *bundle, User: user.Profile()}, nil
}

// Register creates an account and signs it in. The user row and the first
// refresh token are written in one transaction.
func (s *AuthService) Register(ctx context.Context, req RegisterRequest) (res *AuthResult, err error) {
	defer func() { s.metrics.ObserveAuth("register", result(err)) }()

	if err := s.validator.check(req, "password", req.Password); err != nil {
		return nil, err
	}

	exists, err := s.store.Manager.Users(s.store.DB).ExistsByEmail(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("check email: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("email already registered: %w", common.ErrConflict)
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user, err := models.NewUser(req.Email, req.DisplayName, req.FirstName, req.LastName, hash, s.now())
	if err != nil {
		return nil, err
	}

	var bundle *TokenBundle
	err = s.store.Tx.WithinTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.store.Manager.Users(tx).Create(ctx, user); err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		var err error
		bundle, err = s.issueTokens(ctx, tx, user, s.opts.RefreshTokenTTL)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.events.Dispatch(ctx, user.PullEvents()...)
	s.logger.Info(ctx, "user registered", "user_id", user.ID)
	return &AuthResult{Tokens: *bundle, User: user.Profile()}, nil
}

// RefreshToken rotates a refresh token: the presented token is revoked and a
// successor with the same lifetime is issued, atomically. A token that is
// unknown, revoked, expired, or lost a concurrent rotation yields
// common.ErrorUnauthorized.
func (s *AuthService) RefreshToken(ctx context.Context, token string) (bundle *TokenBundle, err error) {
	defer func() { s.metrics.ObserveAuth("refresh", result(err)) }()

	if token == "" {
		return nil, common.ErrorUnauthorized
	}

	current, err := s.store.Manager.RefreshTokens(s.store.DB).GetByToken(ctx, token)
	if err != nil {
		if isNotFound(err) {
			return nil, common.ErrorUnauthorized
		}
		return nil, fmt.Errorf("load refresh token: %w", err)
	}

	now := s.now()
	if !current.IsValid(now) {
		s.logger.Info(ctx, "refresh rejected", "token_id", current.ID, "state", string(current.State(now)))
		return nil, common.ErrorUnauthorized
	}

	ttl := current.Lifetime()
	if ttl <= 0 {
		ttl = s.opts.RefreshTokenTTL
	}

	err = s.store.Tx.WithinTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		revoked, err := s.store.Manager.RefreshTokens(tx).Revoke(ctx, current.ID, common.RevokeReasonRotated, now)
		if err != nil {
			return fmt.Errorf("revoke refresh token: %w", err)
		}
		if !revoked {
			return common.ErrorUnauthorized
		}

		user, err := s.store.Manager.Users(tx).GetByID(ctx, current.UserID)
		if err != nil {
			if isNotFound(err) {
				return common.ErrorUnauthorized
			}
			return fmt.Errorf("load user: %w", err)
		}
		if !user.IsActive {
			return common.ErrorUnauthorized
		}

		bundle, err = s.issueTokens(ctx, tx, user, ttl)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveRevocations(common.RevokeReasonRotated, 1)
	s.logger.Debug(ctx, "refresh token rotated", "user_id", current.UserID, "token_id", current.ID)
	return bundle, nil
}

// Logout revokes one refresh token. Logging out an already revoked token is
// a no-op; an unknown token is common.ErrorUnauthorized.
func (s *AuthService) Logout(ctx context.Context, token string) (err error) {
	defer func() { s.metrics.ObserveAuth("logout", result(err)) }()

	if token == "" {
		return common.ErrorUnauthorized
	}

	rt, err := s.store.Manager.RefreshTokens(s.store.DB).GetByToken(ctx, token)
	if err != nil {
		if isNotFound(err) {
			return common.ErrorUnauthorized
		}
		return fmt.Errorf("load refresh token: %w", err)
	}
	if rt.Revoked {
		return nil
	}

	revoked, err := s.store.Manager.RefreshTokens(s.store.DB).Revoke(ctx, rt.ID, common.RevokeReasonLogout, s.now())
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	if revoked {
		s.metrics.ObserveRevocations(common.RevokeReasonLogout, 1)
		s.logger.Info(ctx, "user logged out", "user_id", rt.UserID, "token_id", rt.ID)
	}
	return nil
}

// LogoutAllDevices revokes every active refresh token of the user and
// returns how many were revoked. Zero is not an error.
func (s *AuthService) LogoutAllDevices(ctx context.Context, userID string) (n int64, err error) {
	defer func() { s.metrics.ObserveAuth("logout_all", result(err)) }()

	n, err = s.RevokeSessions(ctx, userID, common.RevokeReasonLogoutAll)
	if err != nil {
		return 0, err
	}
	s.logger.Info(ctx, "user logged out everywhere", "user_id", userID, "revoked", n)
	return n, nil
}

// RevokeSessions revokes every active refresh token of the user, recording
// reason on each row.
func (s *AuthService) RevokeSessions(ctx context.Context, userID, reason string) (int64, error) {
	n, err := s.store.Manager.RefreshTokens(s.store.DB).RevokeAllForUser(ctx, userID, reason, s.now())
	if err != nil {
		return 0, fmt.Errorf("revoke refresh tokens: %w", err)
	}
	s.metrics.ObserveRevocations(reason, n)
	return n, nil
}

// ChangePassword replaces the password after checking the current one.
// Unless disabled in AuthOptions, all refresh tokens are revoked in the same
// transaction.
func (s *AuthService) ChangePassword(ctx context.Context, userID string, req ChangePasswordRequest) (err error) {
	defer func() { s.metrics.ObserveAuth("change_password", result(err)) }()

	if err := s.validator.check(req, "newPassword", req.NewPassword); err != nil {
		return err
	}

	user, err := s.store.Manager.Users(s.store.DB).GetByID(ctx, userID)
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("user %s: %w", userID, common.ErrorNotFound)
		}
		return fmt.Errorf("load user: %w", err)
	}
	if !user.IsActive {
		return fmt.Errorf("user %s is deactivated: %w", userID, common.ErrInvalidOperation)
	}

	ok, err := s.verifier.Check(ctx, user, req.CurrentPassword)
	if err != nil {
		return err
	}
	if !ok {
		return common.ErrorUnauthorized
	}

	hash, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	now := s.now()
	if err := user.SetPasswordHash(hash, now); err != nil {
		return err
	}

	var revoked int64
	err = s.store.Tx.WithinTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.store.Manager.Users(tx).Update(ctx, user); err != nil {
			return fmt.Errorf("update user: %w", err)
		}
		if !s.opts.RevokeSessionsOnPasswordChange {
			return nil
		}
		var err error
		revoked, err = s.store.Manager.RefreshTokens(tx).RevokeAllForUser(ctx, user.ID, common.RevokeReasonPasswordChanged, now)
		if err != nil {
			return fmt.Errorf("revoke refresh tokens: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.metrics.ObserveRevocations(common.RevokeReasonPasswordChanged, revoked)
	s.events.Dispatch(ctx, user.PullEvents()...)
	s.logger.Info(ctx, "password changed", "user_id", user.ID, "revoked_sessions", revoked)
	return nil
}

// ValidateRefreshToken reports whether token is currently usable. It never
// modifies state.
func (s *AuthService) ValidateRefreshToken(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	rt, err := s.store.Manager.RefreshTokens(s.store.DB).GetByToken(ctx, token)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("load refresh token: %w", err)
	}
	return rt.IsValid(s.now()), nil
}

// ListSessions returns the user's active refresh tokens, newest first.
func (s *AuthService) ListSessions(ctx context.Context, userID string) ([]Session, error) {
	tokens, err := s.store.Manager.RefreshTokens(s.store.DB).GetActiveByUser(ctx, userID, s.now())
	if err != nil {
		return nil, fmt.Errorf("list refresh tokens: %w", err)
	}
	sessions := make([]Session, 0, len(tokens))
	for _, t := range tokens {
		sessions = append(sessions, Session{ID: t.ID, CreatedAt: t.CreatedAt, ExpiresAt: t.ExpiresAt})
	}
	return sessions, nil
}

// Authenticate resolves a bearer access token to its claims.
func (s *AuthService) Authenticate(token string) (*auth.Claims, error) {
	claims, err := s.issuer.ParseAccessToken(token)
	if err != nil {
		if errors.Is(err, common.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, common.ErrInvalidToken
	}
	return claims, nil
}

func (s *AuthService) issueTokens(ctx context.Context, db dbx.DBTX, user *models.User, ttl time.Duration) (*TokenBundle, error) {
	access, accessExp, err := s.issuer.IssueAccessToken(user)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	rt, err := s.issuer.IssueRefreshToken(user.ID, ttl)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}
	if err := s.store.Manager.RefreshTokens(db).Create(ctx, rt); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}
	return &TokenBundle{
		AccessToken:           access,
		AccessTokenExpiresAt:  accessExp,
		RefreshToken:          rt.Token,
		RefreshTokenExpiresAt: rt.ExpiresAt,
		TokenType:             tokenTypeBearer,
	}, nil
}
