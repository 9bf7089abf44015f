package refreshtokens

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/modernapi/internal/common"
	"github.com/dmitrijs2005/modernapi/internal/dbx"
	"github.com/dmitrijs2005/modernapi/internal/server/models"
)

const tokenColumns = `id, user_id, token, expires_at, revoked, revoked_at, revoked_reason, created_at, updated_at`

// PostgresRepository implements Repository over dbx.DBTX (satisfied by
// *sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) GetByToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	query := `SELECT ` + tokenColumns + ` FROM refresh_tokens WHERE token = $1`
	return r.getOne(ctx, query, token)
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.RefreshToken, error) {
	query := `SELECT ` + tokenColumns + ` FROM refresh_tokens WHERE id = $1`
	return r.getOne(ctx, query, id)
}

func (r *PostgresRepository) GetActiveByUser(ctx context.Context, userID string, now time.Time) ([]*models.RefreshToken, error) {
	query :=
		`SELECT ` + tokenColumns + ` FROM refresh_tokens
		 WHERE user_id = $1 AND revoked = FALSE AND expires_at > $2
		 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID, now)
	if err != nil {
		return nil, dbError(err)
	}
	defer rows.Close()

	var tokens []*models.RefreshToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, dbError(err)
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError(err)
	}
	return tokens, nil
}

func (r *PostgresRepository) Create(ctx context.Context, t *models.RefreshToken) error {
	query :=
		`INSERT INTO refresh_tokens (` + tokenColumns + `)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.ExecContext(ctx, query,
		t.ID, t.UserID, t.Token, t.ExpiresAt, t.Revoked, t.RevokedAt, t.RevokedReason, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		switch {
		case dbx.IsUniqueViolation(err):
			return fmt.Errorf("refresh token: %w", common.ErrConflict)
		case dbx.IsForeignKeyViolation(err):
			return fmt.Errorf("user %s: %w", t.UserID, common.ErrorNotFound)
		}
		return dbError(err)
	}
	return nil
}

func (r *PostgresRepository) Update(ctx context.Context, t *models.RefreshToken) error {
	query :=
		`UPDATE refresh_tokens
		 SET expires_at = $2, revoked = $3, revoked_at = $4, revoked_reason = $5, updated_at = $6
		 WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, t.ID, t.ExpiresAt, t.Revoked, t.RevokedAt, t.RevokedReason, t.UpdatedAt)
	if err != nil {
		return dbError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return dbError(err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) Revoke(ctx context.Context, id, reason string, at time.Time) (bool, error) {
	query :=
		`UPDATE refresh_tokens
		 SET revoked = TRUE, revoked_at = $3, revoked_reason = $2, updated_at = $3
		 WHERE id = $1 AND revoked = FALSE`

	res, err := r.db.ExecContext(ctx, query, id, reason, at)
	if err != nil {
		return false, dbError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, dbError(err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) RevokeAllForUser(ctx context.Context, userID, reason string, at time.Time) (int64, error) {
	query :=
		`UPDATE refresh_tokens
		 SET revoked = TRUE, revoked_at = $3, revoked_reason = $2, updated_at = $3
		 WHERE user_id = $1 AND revoked = FALSE AND expires_at > $3`

	res, err := r.db.ExecContext(ctx, query, userID, reason, at)
	if err != nil {
		return 0, dbError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, dbError(err)
	}
	return n, nil
}

func (r *PostgresRepository) RemoveExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `DELETE FROM refresh_tokens WHERE expires_at <= $1`

	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, dbError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, dbError(err)
	}
	return n, nil
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg any) (*models.RefreshToken, error) {
	t, err := scanToken(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, dbError(err)
	}
	return t, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanToken(row rowScanner) (*models.RefreshToken, error) {
	var (
		t         models.RefreshToken
		revokedAt sql.NullTime
		reason    sql.NullString
	)
	if err := row.Scan(&t.ID, &t.UserID, &t.Token, &t.ExpiresAt, &t.Revoked, &revokedAt, &reason, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	if revokedAt.Valid {
		at := revokedAt.Time.UTC()
		t.RevokedAt = &at
	}
	if reason.Valid {
		t.RevokedReason = &reason.String
	}
	t.ExpiresAt = t.ExpiresAt.UTC()
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}

func dbError(err error) error {
	return fmt.Errorf("db error: %w: %w", common.ErrPersistence, err)
}
