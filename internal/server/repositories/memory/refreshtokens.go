package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dmitrijs2005/modernapi/internal/common"
	"github.com/dmitrijs2005/modernapi/internal/server/models"
)

type RefreshTokenRepository struct {
	store *Store
}

func (r *RefreshTokenRepository) GetByToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	var out *models.RefreshToken
	err := r.store.read(ctx, func(st *state) error {
		for _, t := range st.tokens {
			if t.Token == token {
				out = t.Clone()
				return nil
			}
		}
		return common.ErrorNotFound
	})
	return out, err
}

func (r *RefreshTokenRepository) GetByID(ctx context.Context, id string) (*models.RefreshToken, error) {
	var out *models.RefreshToken
	err := r.store.read(ctx, func(st *state) error {
		t, ok := st.tokens[id]
		if !ok {
			return common.ErrorNotFound
		}
		out = t.Clone()
		return nil
	})
	return out, err
}

func (r *RefreshTokenRepository) GetActiveByUser(ctx context.Context, userID string, now time.Time) ([]*models.RefreshToken, error) {
	var out []*models.RefreshToken
	err := r.store.read(ctx, func(st *state) error {
		for _, t := range st.tokens {
			if t.UserID == userID && t.IsValid(now) {
				out = append(out, t.Clone())
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, err
}

func (r *RefreshTokenRepository) Create(ctx context.Context, t *models.RefreshToken) error {
	return r.store.write(ctx, func(st *state) error {
		if _, ok := st.users[t.UserID]; !ok {
			return fmt.Errorf("user %s: %w", t.UserID, common.ErrorNotFound)
		}
		for _, existing := range st.tokens {
			if existing.Token == t.Token || existing.ID == t.ID {
				return fmt.Errorf("refresh token: %w", common.ErrConflict)
			}
		}
		st.tokens[t.ID] = t.Clone()
		return nil
	})
}

func (r *RefreshTokenRepository) Update(ctx context.Context, t *models.RefreshToken) error {
	return r.store.write(ctx, func(st *state) error {
		cur, ok := st.tokens[t.ID]
		if !ok {
			return common.ErrorNotFound
		}
		next := t.Clone()
		next.UserID, next.Token, next.CreatedAt = cur.UserID, cur.Token, cur.CreatedAt
		st.tokens[t.ID] = next
		return nil
	})
}

func (r *RefreshTokenRepository) Revoke(ctx context.Context, id, reason string, at time.Time) (bool, error) {
	var changed bool
	err := r.store.write(ctx, func(st *state) error {
		t, ok := st.tokens[id]
		if !ok || t.Revoked {
			return nil
		}
		changed = t.Revoke(reason, at) == nil
		return nil
	})
	return changed, err
}

func (r *RefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID, reason string, at time.Time) (int64, error) {
	var n int64
	err := r.store.write(ctx, func(st *state) error {
		for _, t := range st.tokens {
			if t.UserID == userID && t.IsValid(at) {
				if t.Revoke(reason, at) == nil {
					n++
				}
			}
		}
		return nil
	})
	return n, err
}

func (r *RefreshTokenRepository) RemoveExpired(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := r.store.write(ctx, func(st *state) error {
		for id, t := range st.tokens {
			if t.IsExpired(now) {
				delete(st.tokens, id)
				n++
			}
		}
		return nil
	})
	return n, err
}
