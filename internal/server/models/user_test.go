package models

import (
	"testing"
	"time"

	"github.com/dmitrijs2005/modernapi/internal/common"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strptr(s string) *string { return &s }

func newTestUser(t *testing.T) *User {
	t.Helper()
	u, err := NewUser("  Alice@Example.com ", "Alice", strptr("Alice"), strptr(" "), "$argon2id$hash", t0)
	require.NoError(t, err)
	return u
}

func eventNames(events []Event) []string {
	names := make([]string, 0, len(events))
	for _, e := range events {
		names = append(names, e.EventName())
	}
	return names
}

func TestNewUser(t *testing.T) {
	u := newTestUser(t)

	assert.Equal(t, "Alice@Example.com", u.Email)
	assert.Equal(t, "alice@example.com", u.NormalizedEmail)
	assert.True(t, u.IsActive)
	assert.False(t, u.IsEmailVerified)
	assert.Nil(t, u.LastName, "blank names are dropped")
	assert.Equal(t, []string{DefaultRole}, u.Roles())
	assert.NotEmpty(t, u.SecurityStamp)
	assert.Equal(t, []string{"user.registered"}, eventNames(u.PendingEvents()))

	_, err := NewUser("", "Alice", nil, nil, "h", t0)
	assert.ErrorIs(t, err, common.ErrValidation)
	_, err = NewUser("a@b.c", " ", nil, nil, "h", t0)
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestUser_Lockout(t *testing.T) {
	u := newTestUser(t)
	p := LockoutPolicy{MaxFailedAccessAttempts: 3, LockoutDuration: 5 * time.Minute}

	u.RecordAccessFailure(p, t0)
	u.RecordAccessFailure(p, t0)
	assert.Equal(t, 2, u.AccessFailedCount)
	assert.False(t, u.IsLockedOut(t0))

	u.RecordAccessFailure(p, t0)
	assert.True(t, u.IsLockedOut(t0))
	assert.Equal(t, 0, u.AccessFailedCount, "counter resets when lockout starts")
	assert.False(t, u.IsLockedOut(t0.Add(5*time.Minute)), "lockout ends after the duration")

	assert.Contains(t, eventNames(u.PendingEvents()), "user.locked_out")

	u.RecordAccessFailure(p, t0)
	assert.True(t, u.ResetAccessFailures(t0))
	assert.False(t, u.ResetAccessFailures(t0), "nothing to reset")
}

func TestLockoutPolicy_Next(t *testing.T) {
	p := LockoutPolicy{MaxFailedAccessAttempts: 3, LockoutDuration: 5 * time.Minute}

	f := p.Next(1, nil, t0)
	assert.Equal(t, AccessFailure{Count: 2}, f)

	f = p.Next(2, nil, t0)
	require.NotNil(t, f.LockoutEnd)
	assert.True(t, f.Locked)
	assert.Zero(t, f.Count)
	assert.Equal(t, t0.Add(5*time.Minute), *f.LockoutEnd)

	f = LockoutPolicy{}.Next(41, nil, t0)
	assert.Equal(t, 42, f.Count, "a zero threshold never locks")
	assert.False(t, f.Locked)
}

func TestUser_ApplyAccessFailure(t *testing.T) {
	u := newTestUser(t)
	u.PullEvents()

	u.ApplyAccessFailure(AccessFailure{Count: 4}, t0)
	assert.Equal(t, 4, u.AccessFailedCount)
	assert.Empty(t, u.PendingEvents())

	end := t0.Add(time.Minute)
	u.ApplyAccessFailure(AccessFailure{LockoutEnd: &end, Locked: true}, t0)
	assert.True(t, u.IsLockedOut(t0))
	assert.Equal(t, []string{"user.locked_out"}, eventNames(u.PullEvents()))
}

func TestUser_DeactivatedRejectsProfileMutation(t *testing.T) {
	u := newTestUser(t)
	require.NoError(t, u.Deactivate(t0))
	require.NotNil(t, u.DeactivatedAt)

	assert.ErrorIs(t, u.UpdateProfile("Bob", nil, nil, t0), common.ErrInvalidOperation)
	assert.ErrorIs(t, u.ChangeEmail("bob@example.com", t0), common.ErrInvalidOperation)
	assert.ErrorIs(t, u.VerifyEmail(t0), common.ErrInvalidOperation)
	assert.ErrorIs(t, u.SetPasswordHash("h2", t0), common.ErrInvalidOperation)
	assert.ErrorIs(t, u.Deactivate(t0), common.ErrInvalidOperation)

	require.NoError(t, u.Reactivate(t0.Add(time.Hour)))
	assert.Nil(t, u.DeactivatedAt)
	assert.NoError(t, u.UpdateProfile("Bob", nil, nil, t0.Add(time.Hour)))
	assert.ErrorIs(t, u.Reactivate(t0), common.ErrInvalidOperation)
}

func TestUser_ChangeEmail(t *testing.T) {
	u := newTestUser(t)
	require.NoError(t, u.VerifyEmail(t0))
	stamp := u.SecurityStamp

	assert.ErrorIs(t, u.ChangeEmail("ALICE@example.com", t0), common.ErrValidation)

	require.NoError(t, u.ChangeEmail("alice@new.example", t0))
	assert.Equal(t, "alice@new.example", u.NormalizedEmail)
	assert.False(t, u.IsEmailVerified)
	assert.NotEqual(t, stamp, u.SecurityStamp)
}

func TestUser_SetPasswordHash(t *testing.T) {
	u := newTestUser(t)
	u.RecordAccessFailure(LockoutPolicy{MaxFailedAccessAttempts: 1, LockoutDuration: time.Hour}, t0)
	require.True(t, u.IsLockedOut(t0))

	require.NoError(t, u.SetPasswordHash("new-hash", t0))
	assert.Equal(t, "new-hash", u.CredentialHash())
	assert.False(t, u.IsLockedOut(t0))
	assert.ErrorIs(t, u.SetPasswordHash("", t0), common.ErrValidation)
}

func TestUser_PullEvents(t *testing.T) {
	u := newTestUser(t)
	require.NoError(t, u.UpdateProfile("Alice B", nil, nil, t0))

	got := u.PullEvents()
	if diff := cmp.Diff([]string{"user.registered", "user.profile_updated"}, eventNames(got)); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, u.ID, got[0].AggregateID())
	assert.Equal(t, t0, got[0].OccurredAt())
	assert.Empty(t, u.PendingEvents())
}

func TestUser_Profile(t *testing.T) {
	u := newTestUser(t)
	p := u.Profile()
	assert.Equal(t, u.ID, p.ID)
	assert.Equal(t, "Alice", p.DisplayName)
	assert.False(t, p.IsEmailVerified)
}

func TestUser_CloneDropsEventsAndPointers(t *testing.T) {
	u := newTestUser(t)
	c := u.Clone()

	assert.Empty(t, c.PendingEvents())
	assert.Len(t, u.PendingEvents(), 1)

	*c.FirstName = "Changed"
	assert.Equal(t, "Alice", *u.FirstName)
}
