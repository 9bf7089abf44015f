package services

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/modernapi/internal/common"
	"github.com/dmitrijs2005/modernapi/internal/server/repositories/repomanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tokenColumns = []string{"id", "user_id", "token", "expires_at", "revoked", "revoked_at", "revoked_reason", "created_at", "updated_at"}

func newSQLHarness(t *testing.T) (*harness, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := repomanager.NewSQLStore(db, repomanager.NewPostgresRepositoryManager())
	return newHarnessWith(t, store, testOptions()), mock
}

func TestSQL_RegisterCommitsUserAndToken(t *testing.T) {
	h, mock := newSQLHarness(t)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("zoe@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO users`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO refresh_tokens`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res := h.register(t, "zoe@example.com")
	assert.NotEmpty(t, res.Tokens.RefreshToken)
	assert.Equal(t, []string{"user.registered"}, h.events.names())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQL_RegisterRollsBackWhenTokenInsertFails(t *testing.T) {
	h, mock := newSQLHarness(t)

	mock.ExpectQuery(`SELECT EXISTS`).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO users`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO refresh_tokens`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := h.auth.Register(context.Background(), RegisterRequest{
		Email:           "zoe@example.com",
		Password:        goodPassword,
		ConfirmPassword: goodPassword,
		DisplayName:     "Zoe",
	})
	assert.ErrorIs(t, err, common.ErrPersistence)
	assert.Empty(t, h.events.names(), "no events for a rolled back registration")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQL_RefreshRollsBackRevocationWhenUserIsGone(t *testing.T) {
	h, mock := newSQLHarness(t)
	h.clock.Advance(time.Hour)

	mock.ExpectQuery(`FROM refresh_tokens\s+WHERE token = \$1`).
		WithArgs("tok").
		WillReturnRows(sqlmock.NewRows(tokenColumns).
			AddRow("rt-1", "u-1", "tok", t0.Add(7*24*time.Hour), false, nil, nil, t0, t0))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE refresh_tokens`).
		WithArgs("rt-1", common.RevokeReasonRotated, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`FROM users WHERE id = \$1`).
		WithArgs("u-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := h.auth.RefreshToken(context.Background(), "tok")
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQL_RefreshLosingRaceIsUnauthorized(t *testing.T) {
	h, mock := newSQLHarness(t)

	mock.ExpectQuery(`FROM refresh_tokens\s+WHERE token = \$1`).
		WillReturnRows(sqlmock.NewRows(tokenColumns).
			AddRow("rt-1", "u-1", "tok", t0.Add(time.Hour), false, nil, nil, t0, t0))
	mock.ExpectBegin()
	// another request revoked it between the read and the update
	mock.ExpectExec(`UPDATE refresh_tokens`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := h.auth.RefreshToken(context.Background(), "tok")
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
	require.NoError(t, mock.ExpectationsWereMet())
}
