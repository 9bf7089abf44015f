package users

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

const userColumns = `id, email, normalized_email, display_name, first_name, last_name, role,
		password_hash, security_stamp, access_failed_count, lockout_end, is_active,
		is_email_verified, created_at, updated_at, deactivated_at, version`

// PostgresRepository implements Repository over dbx.DBTX (satisfied by
// *sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.getOne(ctx, query, id)
}

func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE normalized_email = $1`
	return r.getOne(ctx, query, models.NormalizeEmail(email))
}

func (r *PostgresRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM users WHERE normalized_email = $1)`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, models.NormalizeEmail(email)).Scan(&exists); err != nil {
		return false, dbError(err)
	}
	return exists, nil
}

func (r *PostgresRepository) Create(ctx context.Context, u *models.User) error {
	query :=
		`INSERT INTO users (` + userColumns + `)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	_, err := r.db.ExecContext(ctx, query,
		u.ID, u.Email, u.NormalizedEmail, u.DisplayName, u.FirstName, u.LastName, u.Role,
		u.PasswordHash, u.SecurityStamp, u.AccessFailedCount, u.LockoutEnd, u.IsActive,
		u.IsEmailVerified, u.CreatedAt, u.UpdatedAt, u.DeactivatedAt, u.Version)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return fmt.Errorf("email %q: %w", u.Email, common.ErrConflict)
		}
		return dbError(err)
	}
	return nil
}

func (r *PostgresRepository) Update(ctx context.Context, u *models.User) error {
	query :=
		`UPDATE users SET
		   email = $3, normalized_email = $4, display_name = $5, first_name = $6, last_name = $7,
		   role = $8, password_hash = $9, security_stamp = $10, access_failed_count = $11,
		   lockout_end = $12, is_active = $13, is_email_verified = $14, updated_at = $15,
		   deactivated_at = $16, version = version + 1
		 WHERE id = $1 AND version = $2`

	res, err := r.db.ExecContext(ctx, query,
		u.ID, u.Version,
		u.Email, u.NormalizedEmail, u.DisplayName, u.FirstName, u.LastName,
		u.Role, u.PasswordHash, u.SecurityStamp, u.AccessFailedCount,
		u.LockoutEnd, u.IsActive, u.IsEmailVerified, u.UpdatedAt,
		u.DeactivatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return fmt.Errorf("email %q: %w", u.Email, common.ErrConflict)
		}
		return dbError(err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return dbError(err)
	}
	if n == 0 {
		return fmt.Errorf("user %s version %d: %w", u.ID, u.Version, common.ErrVersionConflict)
	}

	u.Version++
	return nil
}

func (r *PostgresRepository) RecordAccessFailure(ctx context.Context, userID string, p models.LockoutPolicy, now time.Time) (models.AccessFailure, error) {
	// Both CASE arms read the pre-update row.
	query :=
		`UPDATE users SET
		   access_failed_count = CASE WHEN $2 > 0 AND access_failed_count + 1 >= $2 THEN 0 ELSE access_failed_count + 1 END,
		   lockout_end = CASE WHEN $2 > 0 AND access_failed_count + 1 >= $2 THEN $3 ELSE lockout_end END,
		   updated_at = $4
		 WHERE id = $1
		 RETURNING access_failed_count, lockout_end`

	end := now.UTC().Add(p.LockoutDuration)

	var (
		f          models.AccessFailure
		lockoutEnd sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, userID, p.MaxFailedAccessAttempts, end, now.UTC()).Scan(&f.Count, &lockoutEnd)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.AccessFailure{}, common.ErrorNotFound
		}
		return models.AccessFailure{}, dbError(err)
	}
	if lockoutEnd.Valid {
		t := lockoutEnd.Time.UTC()
		f.LockoutEnd = &t
	}
	f.Locked = p.MaxFailedAccessAttempts > 0 && f.Count == 0
	return f, nil
}

func (r *PostgresRepository) ResetAccessFailures(ctx context.Context, userID string, now time.Time) error {
	query := `UPDATE users SET access_failed_count = 0, updated_at = $2 WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, userID, now.UTC())
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

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg any) (*models.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, dbError(err)
	}
	return u, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u                   models.User
		firstName, lastName sql.NullString
		lockoutEnd          sql.NullTime
		deactivatedAt       sql.NullTime
	)

	err := row.Scan(&u.ID, &u.Email, &u.NormalizedEmail, &u.DisplayName, &firstName, &lastName, &u.Role,
		&u.PasswordHash, &u.SecurityStamp, &u.AccessFailedCount, &lockoutEnd, &u.IsActive,
		&u.IsEmailVerified, &u.CreatedAt, &u.UpdatedAt, &deactivatedAt, &u.Version)
	if err != nil {
		return nil, err
	}

	if firstName.Valid {
		u.FirstName = &firstName.String
	}
	if lastName.Valid {
		u.LastName = &lastName.String
	}
	if lockoutEnd.Valid {
		t := lockoutEnd.Time.UTC()
		u.LockoutEnd = &t
	}
	if deactivatedAt.Valid {
		t := deactivatedAt.Time.UTC()
		u.DeactivatedAt = &t
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()

	return &u, nil
}

func dbError(err error) error {
	return fmt.Errorf("db error: %w: %w", common.ErrPersistence, err)
}
