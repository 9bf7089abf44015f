package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/modernapi/internal/common"
	"github.com/dmitrijs2005/modernapi/internal/dbx"
	"github.com/dmitrijs2005/modernapi/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

func seedUser(t *testing.T, s *Store, email string) *models.User {
	t.Helper()
	u, err := models.NewUser(email, "Name", nil, nil, "hash", t0)
	require.NoError(t, err)
	require.NoError(t, s.Users(nil).Create(context.Background(), u))
	return u
}

func seedToken(t *testing.T, s *Store, userID, tok string, exp time.Time) *models.RefreshToken {
	t.Helper()
	rt, err := models.NewRefreshToken(userID, tok, exp, t0)
	require.NoError(t, err)
	require.NoError(t, s.RefreshTokens(nil).Create(context.Background(), rt))
	return rt
}

func TestUsers_CreateAndLookup(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	u := seedUser(t, s, "Alice@Example.com")

	got, err := s.Users(nil).GetByEmail(ctx, "alice@example.COM")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Empty(t, got.PendingEvents(), "stored copies carry no events")

	ok, err := s.Users(nil).ExistsByEmail(ctx, " ALICE@example.com")
	require.NoError(t, err)
	assert.True(t, ok)

	dup, err := models.NewUser("alice@example.com", "Other", nil, nil, "hash", t0)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Users(nil).Create(ctx, dup), common.ErrConflict)

	_, err = s.Users(nil).GetByID(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestUsers_ReturnedCopiesAreIsolated(t *testing.T) {
	s := NewStore()
	u := seedUser(t, s, "a@example.com")

	got, err := s.Users(nil).GetByID(context.Background(), u.ID)
	require.NoError(t, err)
	got.DisplayName = "mutated"

	again, err := s.Users(nil).GetByID(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Name", again.DisplayName)
}

func TestUsers_UpdateVersionCheck(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	u := seedUser(t, s, "a@example.com")

	first, _ := s.Users(nil).GetByID(ctx, u.ID)
	second, _ := s.Users(nil).GetByID(ctx, u.ID)

	require.NoError(t, first.UpdateProfile("First", nil, nil, t0))
	require.NoError(t, s.Users(nil).Update(ctx, first))
	assert.Equal(t, int64(2), first.Version)

	require.NoError(t, second.UpdateProfile("Second", nil, nil, t0))
	err := s.Users(nil).Update(ctx, second)
	assert.ErrorIs(t, err, common.ErrVersionConflict)
	assert.ErrorIs(t, err, common.ErrPersistence)

	stored, _ := s.Users(nil).GetByID(ctx, u.ID)
	assert.Equal(t, "First", stored.DisplayName)
}

func TestUsers_AccessFailuresIgnoreVersion(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	u := seedUser(t, s, "a@example.com")
	p := models.LockoutPolicy{MaxFailedAccessAttempts: 2, LockoutDuration: time.Minute}

	f, err := s.Users(nil).RecordAccessFailure(ctx, u.ID, p, t0)
	require.NoError(t, err)
	assert.Equal(t, models.AccessFailure{Count: 1}, f)

	stored, _ := s.Users(nil).GetByID(ctx, u.ID)
	assert.Equal(t, 1, stored.AccessFailedCount)
	assert.Equal(t, int64(1), stored.Version)

	f, err = s.Users(nil).RecordAccessFailure(ctx, u.ID, p, t0)
	require.NoError(t, err)
	assert.True(t, f.Locked)

	require.NoError(t, s.Users(nil).ResetAccessFailures(ctx, u.ID, t0))
	stored, _ = s.Users(nil).GetByID(ctx, u.ID)
	assert.Zero(t, stored.AccessFailedCount)
	assert.True(t, stored.IsLockedOut(t0), "reset keeps the lockout")

	_, err = s.Users(nil).RecordAccessFailure(ctx, "ghost", p, t0)
	assert.ErrorIs(t, err, common.ErrorNotFound)
	assert.ErrorIs(t, s.Users(nil).ResetAccessFailures(ctx, "ghost", t0), common.ErrorNotFound)
}

func TestUsers_ConcurrentAccessFailures(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	u := seedUser(t, s, "b@example.com")
	p := models.LockoutPolicy{MaxFailedAccessAttempts: 100, LockoutDuration: time.Minute}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Users(nil).RecordAccessFailure(ctx, u.ID, p, t0)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stored, _ := s.Users(nil).GetByID(ctx, u.ID)
	assert.Equal(t, 50, stored.AccessFailedCount)
}

func TestRefreshTokens_Lifecycle(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	repo := s.RefreshTokens(nil)
	u := seedUser(t, s, "a@example.com")

	a := seedToken(t, s, u.ID, "a", t0.Add(time.Hour))
	b := seedToken(t, s, u.ID, "b", t0.Add(2*time.Hour))
	seedToken(t, s, u.ID, "c", t0.Add(time.Minute))

	dup, _ := models.NewRefreshToken(u.ID, "a", t0.Add(time.Hour), t0)
	assert.ErrorIs(t, repo.Create(ctx, dup), common.ErrConflict)

	orphan, _ := models.NewRefreshToken("ghost", "z", t0.Add(time.Hour), t0)
	assert.ErrorIs(t, repo.Create(ctx, orphan), common.ErrorNotFound)

	ok, err := repo.Revoke(ctx, a.ID, common.RevokeReasonLogout, t0)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.Revoke(ctx, a.ID, common.RevokeReasonLogout, t0)
	require.NoError(t, err)
	assert.False(t, ok, "second revoke loses")

	active, err := repo.GetActiveByUser(ctx, u.ID, t0.Add(30*time.Minute))
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, b.ID, active[0].ID)

	n, err := repo.RevokeAllForUser(ctx, u.ID, common.RevokeReasonLogoutAll, t0.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = repo.RevokeAllForUser(ctx, u.ID, common.RevokeReasonLogoutAll, t0.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = repo.RemoveExpired(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n, "a and c have expired")

	_, err = repo.GetByToken(ctx, "a")
	assert.ErrorIs(t, err, common.ErrorNotFound)
	got, err := repo.GetByToken(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, common.RevokeReasonLogoutAll, *got.RevokedReason)
}

func TestWithinTx_RollsBackOnError(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	u := seedUser(t, s, "a@example.com")
	old := seedToken(t, s, u.ID, "old", t0.Add(time.Hour))

	boom := errors.New("insert failed")
	err := s.WithinTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		ok, err := s.RefreshTokens(tx).Revoke(ctx, old.ID, common.RevokeReasonRotated, t0)
		require.NoError(t, err)
		require.True(t, ok)

		inTx, err := s.RefreshTokens(tx).GetByID(ctx, old.ID)
		require.NoError(t, err)
		assert.True(t, inTx.Revoked, "the transaction sees its own writes")

		outside, err := s.RefreshTokens(nil).GetByID(context.Background(), old.ID)
		require.NoError(t, err)
		assert.False(t, outside.Revoked, "uncommitted writes are invisible")
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.RefreshTokens(nil).GetByID(ctx, old.ID)
	require.NoError(t, err)
	assert.False(t, got.Revoked, "revocation must be rolled back")
}

func TestWithinTx_CancelledContextDoesNotCommit(t *testing.T) {
	s := NewStore()
	ctx, cancel := context.WithCancel(context.Background())

	err := s.WithinTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		u, err := models.NewUser("a@example.com", "A", nil, nil, "h", t0)
		require.NoError(t, err)
		require.NoError(t, s.Users(tx).Create(ctx, u))
		cancel()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)

	ok, err := s.Users(nil).ExistsByEmail(context.Background(), "a@example.com")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWithinTx_Nested(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	err := s.WithinTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		return s.WithinTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
			u, _ := models.NewUser("a@example.com", "A", nil, nil, "h", t0)
			return s.Users(tx).Create(ctx, u)
		})
	})
	require.NoError(t, err)

	ok, _ := s.Users(nil).ExistsByEmail(ctx, "a@example.com")
	assert.True(t, ok)
}

func TestWithinTx_ConcurrentRevokeHasOneWinner(t *testing.T) {
	s := NewStore()
	u := seedUser(t, s, "a@example.com")
	tok := seedToken(t, s, u.ID, "shared", t0.Add(time.Hour))

	const workers = 16
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.WithinTx(context.Background(), func(ctx context.Context, tx dbx.DBTX) error {
				ok, err := s.RefreshTokens(tx).Revoke(ctx, tok.ID, common.RevokeReasonRotated, t0)
				if err != nil {
					return err
				}
				if ok {
					wins.Add(1)
				}
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestStore_PingAndMigrations(t *testing.T) {
	s := NewStore()
	assert.NoError(t, s.PingContext(context.Background()))
	assert.NoError(t, s.RunMigrations(context.Background(), nil))
}
