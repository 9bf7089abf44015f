package services

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/modernapi/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestUserService_GetProfile(t *testing.T) {
	h := newHarness(t)
	reg := h.register(t, "ann@example.com")

	p, err := h.users.GetProfile(context.Background(), reg.User.ID)
	require.NoError(t, err)
	assert.Equal(t, reg.User, *p)

	_, err = h.users.GetProfile(context.Background(), "missing")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestUserService_UpdateProfile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	reg := h.register(t, "ben@example.com")
	h.clock.Advance(time.Second)

	p, err := h.users.UpdateProfile(ctx, reg.User.ID, UpdateProfileRequest{
		DisplayName: "  Benjamin ",
		FirstName:   strPtr("Ben"),
		LastName:    strPtr(" "),
	})
	require.NoError(t, err)
	assert.Equal(t, "Benjamin", p.DisplayName)
	require.NotNil(t, p.FirstName)
	assert.Equal(t, "Ben", *p.FirstName)
	assert.Nil(t, p.LastName)
	assert.Equal(t, h.clock.Now(), p.UpdatedAt)

	stored, err := h.store.Manager.Users(nil).GetByID(ctx, reg.User.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Version)
	assert.Contains(t, h.events.names(), "user.profile_updated")

	_, err = h.users.UpdateProfile(ctx, reg.User.ID, UpdateProfileRequest{})
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestUserService_ChangeEmail(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	reg := h.register(t, "cat@example.com")
	h.register(t, "taken@example.com")

	_, err := h.users.ChangeEmail(ctx, reg.User.ID, ChangeEmailRequest{Email: "TAKEN@example.com"})
	assert.ErrorIs(t, err, common.ErrConflict)

	_, err = h.users.ChangeEmail(ctx, reg.User.ID, ChangeEmailRequest{Email: "nope"})
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = h.users.ChangeEmail(ctx, reg.User.ID, ChangeEmailRequest{Email: "Cat@Example.com"})
	assert.ErrorIs(t, err, common.ErrValidation, "same address after normalization")

	_, err = h.users.VerifyEmail(ctx, reg.User.ID)
	require.NoError(t, err)

	p, err := h.users.ChangeEmail(ctx, reg.User.ID, ChangeEmailRequest{Email: "kitty@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "kitty@example.com", p.Email)
	assert.False(t, p.IsEmailVerified)

	h.login(t, "kitty@example.com")
	assert.Contains(t, h.events.names(), "user.email_changed")
}

func TestUserService_VerifyEmail(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	reg := h.register(t, "dan@example.com")

	p, err := h.users.VerifyEmail(ctx, reg.User.ID)
	require.NoError(t, err)
	assert.True(t, p.IsEmailVerified)

	_, err = h.users.VerifyEmail(ctx, reg.User.ID)
	assert.ErrorIs(t, err, common.ErrInvalidOperation)
}

func TestUserService_DeactivateAndReactivate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	reg := h.register(t, "eve@example.com")
	h.login(t, "eve@example.com")

	p, err := h.users.Deactivate(ctx, reg.User.ID)
	require.NoError(t, err)
	assert.False(t, p.IsActive)
	require.NotNil(t, p.DeactivatedAt)

	sessions, err := h.auth.ListSessions(ctx, reg.User.ID)
	require.NoError(t, err)
	assert.Empty(t, sessions)
	assert.Equal(t, int64(2), h.metrics.revocations[common.RevokeReasonDeactivated])

	_, err = h.users.Deactivate(ctx, reg.User.ID)
	assert.ErrorIs(t, err, common.ErrInvalidOperation)

	_, err = h.users.UpdateProfile(ctx, reg.User.ID, UpdateProfileRequest{DisplayName: "Eve"})
	assert.ErrorIs(t, err, common.ErrInvalidOperation)

	p, err = h.users.Reactivate(ctx, reg.User.ID)
	require.NoError(t, err)
	assert.True(t, p.IsActive)
	assert.Nil(t, p.DeactivatedAt)

	_, err = h.users.Reactivate(ctx, reg.User.ID)
	assert.ErrorIs(t, err, common.ErrInvalidOperation)

	// old sessions stay revoked, but the user can sign in again
	h.login(t, "eve@example.com")
	assert.Subset(t, h.events.names(), []string{"user.deactivated", "user.reactivated"})
}
