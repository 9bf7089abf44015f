package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/modernapi/internal/common"
	"github.com/google/uuid"
)

// DefaultRole is assigned to self-registered users.
const DefaultRole = "user"

// CredentialBearer is the part of a principal the password verifier needs.
type CredentialBearer interface {
	CredentialHash() string
	IsLockedOut(now time.Time) bool
}

// ProfileBearer exposes the public profile of a principal.
type ProfileBearer interface {
	Profile() Profile
}

// Profile is the read model returned to clients.
type Profile struct {
	ID              string     `json:"id"`
	Email           string     `json:"email"`
	DisplayName     string     `json:"displayName"`
	FirstName       *string    `json:"firstName,omitempty"`
	LastName        *string    `json:"lastName,omitempty"`
	Role            string     `json:"role"`
	IsActive        bool       `json:"isActive"`
	IsEmailVerified bool       `json:"isEmailVerified"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	DeactivatedAt   *time.Time `json:"deactivatedAt,omitempty"`
}

// LockoutPolicy controls when repeated failures lock an account.
type LockoutPolicy struct {
	MaxFailedAccessAttempts int
	LockoutDuration         time.Duration
}

// User is the identity aggregate. State changes go through its methods, which
// validate before mutating and record pending events.
type User struct {
	ID                string
	Email             string
	NormalizedEmail   string
	DisplayName       string
	FirstName         *string
	LastName          *string
	Role              string
	PasswordHash      string
	SecurityStamp     string
	AccessFailedCount int
	LockoutEnd        *time.Time
	IsActive          bool
	IsEmailVerified   bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
	DeactivatedAt     *time.Time
	Version           int64

	events []Event
}

var (
	_ CredentialBearer = (*User)(nil)
	_ ProfileBearer    = (*User)(nil)
)

// NormalizeEmail trims and lower-cases an address for uniqueness checks.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NewUser creates an active, unverified user and records UserRegistered.
func NewUser(email, displayName string, firstName, lastName *string, passwordHash string, now time.Time) (*User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, common.NewValidationError("email", "required")
	}
	if strings.TrimSpace(displayName) == "" {
		return nil, common.NewValidationError("displayName", "required")
	}
	if passwordHash == "" {
		return nil, common.NewValidationError("password", "required")
	}

	now = now.UTC()
	u := &User{
		ID:              uuid.NewString(),
		Email:           email,
		NormalizedEmail: NormalizeEmail(email),
		DisplayName:     strings.TrimSpace(displayName),
		FirstName:       trimmed(firstName),
		LastName:        trimmed(lastName),
		Role:            DefaultRole,
		PasswordHash:    passwordHash,
		SecurityStamp:   newSecurityStamp(),
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
		Version:         1,
	}
	u.raise(UserRegistered{base: newBase(u.ID, now), Email: u.Email, DisplayName: u.DisplayName})
	return u, nil
}

// CredentialHash returns the stored password hash.
func (u *User) CredentialHash() string { return u.PasswordHash }

// IsLockedOut reports whether a lockout is in force at now.
func (u *User) IsLockedOut(now time.Time) bool {
	return u.LockoutEnd != nil && u.LockoutEnd.After(now)
}

// AccessFailure is the lockout state after one failed attempt was counted.
type AccessFailure struct {
	Count      int
	LockoutEnd *time.Time
	// Locked is set when this attempt started a lockout.
	Locked bool
}

// Next counts one failure on top of count and lockoutEnd. Reaching the
// threshold starts a lockout and resets the counter.
func (p LockoutPolicy) Next(count int, lockoutEnd *time.Time, now time.Time) AccessFailure {
	count++
	if p.MaxFailedAccessAttempts > 0 && count >= p.MaxFailedAccessAttempts {
		end := now.UTC().Add(p.LockoutDuration)
		return AccessFailure{Count: 0, LockoutEnd: &end, Locked: true}
	}
	return AccessFailure{Count: count, LockoutEnd: clonePtr(lockoutEnd)}
}

// RecordAccessFailure increments the failure counter. Reaching the policy
// threshold starts a lockout and resets the counter.
func (u *User) RecordAccessFailure(p LockoutPolicy, now time.Time) {
	u.ApplyAccessFailure(p.Next(u.AccessFailedCount, u.LockoutEnd, now), now)
}

// ApplyAccessFailure adopts a failure already counted by the store and raises
// UserLockedOut when it started a lockout.
func (u *User) ApplyAccessFailure(f AccessFailure, now time.Time) {
	u.AccessFailedCount = f.Count
	u.LockoutEnd = clonePtr(f.LockoutEnd)
	if f.Locked && f.LockoutEnd != nil {
		u.raise(UserLockedOut{base: newBase(u.ID, now), Until: *f.LockoutEnd})
	}
	u.UpdatedAt = now.UTC()
}

// ResetAccessFailures clears the failure counter. It reports whether anything
// changed so callers can skip a write.
func (u *User) ResetAccessFailures(now time.Time) bool {
	if u.AccessFailedCount == 0 {
		return false
	}
	u.AccessFailedCount = 0
	u.UpdatedAt = now.UTC()
	return true
}

// UpdateProfile replaces the display and personal names.
func (u *User) UpdateProfile(displayName string, firstName, lastName *string, now time.Time) error {
	if err := u.ensureActive(); err != nil {
		return err
	}
	if strings.TrimSpace(displayName) == "" {
		return common.NewValidationError("displayName", "required")
	}
	u.DisplayName = strings.TrimSpace(displayName)
	u.FirstName = trimmed(firstName)
	u.LastName = trimmed(lastName)
	u.touch(now)
	u.raise(ProfileUpdated{base: newBase(u.ID, now)})
	return nil
}

// ChangeEmail sets a new address and clears the verified flag.
func (u *User) ChangeEmail(email string, now time.Time) error {
	if err := u.ensureActive(); err != nil {
		return err
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return common.NewValidationError("email", "required")
	}
	if NormalizeEmail(email) == u.NormalizedEmail {
		return common.NewValidationError("email", "must differ from the current address")
	}
	old := u.Email
	u.Email = email
	u.NormalizedEmail = NormalizeEmail(email)
	u.IsEmailVerified = false
	u.SecurityStamp = newSecurityStamp()
	u.touch(now)
	u.raise(EmailChanged{base: newBase(u.ID, now), OldEmail: old, NewEmail: email})
	return nil
}

// VerifyEmail marks the current address verified.
func (u *User) VerifyEmail(now time.Time) error {
	if err := u.ensureActive(); err != nil {
		return err
	}
	if u.IsEmailVerified {
		return fmt.Errorf("email already verified: %w", common.ErrInvalidOperation)
	}
	u.IsEmailVerified = true
	u.touch(now)
	u.raise(EmailVerified{base: newBase(u.ID, now), Email: u.Email})
	return nil
}

// SetPasswordHash stores a new credential and rotates the security stamp.
func (u *User) SetPasswordHash(hash string, now time.Time) error {
	if err := u.ensureActive(); err != nil {
		return err
	}
	if hash == "" {
		return common.NewValidationError("password", "required")
	}
	u.PasswordHash = hash
	u.SecurityStamp = newSecurityStamp()
	u.AccessFailedCount = 0
	u.LockoutEnd = nil
	u.touch(now)
	u.raise(PasswordChanged{base: newBase(u.ID, now), Email: u.Email})
	return nil
}

// Deactivate soft-disables the account.
func (u *User) Deactivate(now time.Time) error {
	if !u.IsActive {
		return fmt.Errorf("user already deactivated: %w", common.ErrInvalidOperation)
	}
	at := now.UTC()
	u.IsActive = false
	u.DeactivatedAt = &at
	u.touch(now)
	u.raise(UserDeactivated{base: newBase(u.ID, now)})
	return nil
}

// Reactivate re-enables a deactivated account.
func (u *User) Reactivate(now time.Time) error {
	if u.IsActive {
		return fmt.Errorf("user is active: %w", common.ErrInvalidOperation)
	}
	u.IsActive = true
	u.DeactivatedAt = nil
	u.touch(now)
	u.raise(UserReactivated{base: newBase(u.ID, now)})
	return nil
}

// Profile implements ProfileBearer.
func (u *User) Profile() Profile {
	return Profile{
		ID:              u.ID,
		Email:           u.Email,
		DisplayName:     u.DisplayName,
		FirstName:       u.FirstName,
		LastName:        u.LastName,
		Role:            u.Role,
		IsActive:        u.IsActive,
		IsEmailVerified: u.IsEmailVerified,
		CreatedAt:       u.CreatedAt,
		UpdatedAt:       u.UpdatedAt,
		DeactivatedAt:   u.DeactivatedAt,
	}
}

// Roles returns the role claims for access tokens.
func (u *User) Roles() []string {
	if u.Role == "" {
		return []string{DefaultRole}
	}
	return []string{u.Role}
}

func (u *User) ensureActive() error {
	if !u.IsActive {
		return fmt.Errorf("user %s is deactivated: %w", u.ID, common.ErrInvalidOperation)
	}
	return nil
}

func (u *User) touch(now time.Time) {
	u.UpdatedAt = now.UTC()
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func newSecurityStamp() string {
	s, err := common.MakeRandHexString(16)
	if err != nil {
		return uuid.NewString()
	}
	return s
}

// Clone returns a deep copy without pending events.
func (u *User) Clone() *User {
	c := *u
	c.FirstName = clonePtr(u.FirstName)
	c.LastName = clonePtr(u.LastName)
	c.LockoutEnd = clonePtr(u.LockoutEnd)
	c.DeactivatedAt = clonePtr(u.DeactivatedAt)
	c.events = nil
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
