package models

import (
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/modernapi/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestNewRefreshToken_ExpiryGuard(t *testing.T) {
	tests := []struct {
		name      string
		expiresAt time.Time
		wantErr   bool
	}{
		{name: "equal to now", expiresAt: t0, wantErr: true},
		{name: "one second ago", expiresAt: t0.Add(-time.Second), wantErr: true},
		{name: "one nanosecond ahead", expiresAt: t0.Add(time.Nanosecond)},
		{name: "seven days", expiresAt: t0.Add(7 * 24 * time.Hour)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok, err := NewRefreshToken("u1", "tok", tt.expiresAt, t0)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, common.ErrValidation))
				assert.Nil(t, tok)
				return
			}
			require.NoError(t, err)
			assert.True(t, tok.IsValid(t0), "fresh token must be valid")
			assert.NotEmpty(t, tok.ID)
		})
	}
}

func TestNewRefreshToken_RequiredFields(t *testing.T) {
	_, err := NewRefreshToken("", "tok", t0.Add(time.Hour), t0)
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = NewRefreshToken("u1", " ", t0.Add(time.Hour), t0)
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestRefreshToken_IsValidMatchesDefinition(t *testing.T) {
	offsets := []time.Duration{-time.Hour, -time.Second, 0, time.Second, time.Hour}

	for _, revoked := range []bool{false, true} {
		for _, off := range offsets {
			tok := &RefreshToken{ExpiresAt: t0.Add(off), Revoked: revoked}
			want := !revoked && tok.ExpiresAt.After(t0)
			assert.Equal(t, want, tok.IsValid(t0), "revoked=%v offset=%v", revoked, off)
		}
	}
}

func TestRefreshToken_Revoke(t *testing.T) {
	tok, err := NewRefreshToken("u1", "tok", t0.Add(time.Hour), t0)
	require.NoError(t, err)

	later := t0.Add(time.Minute)
	require.NoError(t, tok.Revoke(common.RevokeReasonLogout, later))

	assert.False(t, tok.IsValid(later))
	assert.Equal(t, TokenRevoked, tok.State(later))
	require.NotNil(t, tok.RevokedAt)
	assert.Equal(t, later, *tok.RevokedAt)
	require.NotNil(t, tok.RevokedReason)
	assert.Equal(t, common.RevokeReasonLogout, *tok.RevokedReason)

	err = tok.Revoke("again", later.Add(time.Minute))
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrTokenAlreadyRevoked)
	assert.ErrorIs(t, err, common.ErrInvalidOperation)
	assert.Equal(t, common.RevokeReasonLogout, *tok.RevokedReason, "terminal state is not rewritten")
}

func TestRefreshToken_State(t *testing.T) {
	tok, err := NewRefreshToken("u1", "tok", t0.Add(time.Hour), t0)
	require.NoError(t, err)

	assert.Equal(t, TokenActive, tok.State(t0))
	assert.Equal(t, TokenExpired, tok.State(t0.Add(time.Hour)))
	assert.Equal(t, time.Hour, tok.Lifetime())
}
