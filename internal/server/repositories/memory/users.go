package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/modernapi/internal/common"
	"github.com/dmitrijs2005/modernapi/internal/server/models"
)

type UserRepository struct {
	store *Store
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	var out *models.User
	err := r.store.read(ctx, func(st *state) error {
		u, ok := st.users[id]
		if !ok {
			return common.ErrorNotFound
		}
		out = u.Clone()
		return nil
	})
	return out, err
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var out *models.User
	err := r.store.read(ctx, func(st *state) error {
		u := st.byEmail(models.NormalizeEmail(email))
		if u == nil {
			return common.ErrorNotFound
		}
		out = u.Clone()
		return nil
	})
	return out, err
}

func (r *UserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.store.read(ctx, func(st *state) error {
		exists = st.byEmail(models.NormalizeEmail(email)) != nil
		return nil
	})
	return exists, err
}

func (r *UserRepository) Create(ctx context.Context, u *models.User) error {
	return r.store.write(ctx, func(st *state) error {
		if _, ok := st.users[u.ID]; ok {
			return fmt.Errorf("user %s: %w", u.ID, common.ErrConflict)
		}
		if st.byEmail(u.NormalizedEmail) != nil {
			return fmt.Errorf("email %q: %w", u.Email, common.ErrConflict)
		}
		st.users[u.ID] = u.Clone()
		return nil
	})
}

func (r *UserRepository) Update(ctx context.Context, u *models.User) error {
	return r.store.write(ctx, func(st *state) error {
		cur, ok := st.users[u.ID]
		if !ok || cur.Version != u.Version {
			return fmt.Errorf("user %s version %d: %w", u.ID, u.Version, common.ErrVersionConflict)
		}
		if other := st.byEmail(u.NormalizedEmail); other != nil && other.ID != u.ID {
			return fmt.Errorf("email %q: %w", u.Email, common.ErrConflict)
		}
		next := u.Clone()
		next.Version++
		st.users[u.ID] = next
		u.Version = next.Version
		return nil
	})
}

func (r *UserRepository) RecordAccessFailure(ctx context.Context, userID string, p models.LockoutPolicy, now time.Time) (models.AccessFailure, error) {
	var f models.AccessFailure
	err := r.store.write(ctx, func(st *state) error {
		cur, ok := st.users[userID]
		if !ok {
			return common.ErrorNotFound
		}
		f = p.Next(cur.AccessFailedCount, cur.LockoutEnd, now)
		cur.AccessFailedCount = f.Count
		if f.LockoutEnd != nil {
			end := *f.LockoutEnd
			cur.LockoutEnd = &end
		}
		cur.UpdatedAt = now.UTC()
		return nil
	})
	return f, err
}

func (r *UserRepository) ResetAccessFailures(ctx context.Context, userID string, now time.Time) error {
	return r.store.write(ctx, func(st *state) error {
		cur, ok := st.users[userID]
		if !ok {
			return common.ErrorNotFound
		}
		cur.AccessFailedCount = 0
		cur.UpdatedAt = now.UTC()
		return nil
	})
}

func (st *state) byEmail(normalized string) *models.User {
	for _, u := range st.users {
		if u.NormalizedEmail == normalized {
			return u
		}
	}
	return nil
}
