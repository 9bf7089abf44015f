// Package memory is an in-process storage driver. It implements the same
// repository contracts as the PostgreSQL driver and gives transactions the
// same observable behaviour: writers are serialised, a transaction works on
// a private copy that becomes visible only on commit, and a failed or
// cancelled transaction leaves no trace.
package memory

import (
	"context"
	"database/sql"
	"sync"

	"github.com/dmitrijs2005/modernapi/internal/dbx"
	"github.com/dmitrijs2005/modernapi/internal/server/models"
	"github.com/dmitrijs2005/modernapi/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/modernapi/internal/server/repositories/users"
)

type state struct {
	users  map[string]*models.User
	tokens map[string]*models.RefreshToken
}

func newState() *state {
	return &state{
		users:  make(map[string]*models.User),
		tokens: make(map[string]*models.RefreshToken),
	}
}

func (s *state) clone() *state {
	c := &state{
		users:  make(map[string]*models.User, len(s.users)),
		tokens: make(map[string]*models.RefreshToken, len(s.tokens)),
	}
	for k, u := range s.users {
		c.users[k] = u.Clone()
	}
	for k, t := range s.tokens {
		c.tokens[k] = t.Clone()
	}
	return c
}

// Store holds the committed state and hands out repositories over it.
type Store struct {
	mu        sync.RWMutex
	committed *state

	// writeMu is held for the whole of a transaction and for every
	// standalone write.
	writeMu sync.Mutex
}

var _ dbx.TxRunner = (*Store)(nil)

func NewStore() *Store {
	return &Store{committed: newState()}
}

type txKey struct{}

type txState struct {
	store *Store
	work  *state
}

func (s *Store) txFrom(ctx context.Context) *state {
	if tx, ok := ctx.Value(txKey{}).(*txState); ok && tx.store == s {
		return tx.work
	}
	return nil
}

// WithinTx runs fn against a private copy of the state and publishes it only
// when fn succeeds and ctx is still live. Nested calls join the outer
// transaction. The DBTX handed to fn is nil; memory repositories ignore it.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) error {
	if s.txFrom(ctx) != nil {
		return fn(ctx, nil)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	work := s.committed.clone()
	s.mu.RUnlock()

	if err := fn(context.WithValue(ctx, txKey{}, &txState{store: s, work: work}), nil); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.committed = work
	s.mu.Unlock()
	return nil
}

func (s *Store) read(ctx context.Context, fn func(st *state) error) error {
	if work := s.txFrom(ctx); work != nil {
		return fn(work)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.committed)
}

func (s *Store) write(ctx context.Context, fn func(st *state) error) error {
	if work := s.txFrom(ctx); work != nil {
		return fn(work)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.committed)
}

// Users implements repomanager.RepositoryManager; db is ignored.
func (s *Store) Users(_ dbx.DBTX) users.Repository {
	return &UserRepository{store: s}
}

// RefreshTokens implements repomanager.RepositoryManager; db is ignored.
func (s *Store) RefreshTokens(_ dbx.DBTX) refreshtokens.Repository {
	return &RefreshTokenRepository{store: s}
}

// RunMigrations is a no-op: the in-memory schema needs no setup.
func (s *Store) RunMigrations(context.Context, *sql.DB) error {
	return nil
}

// PingContext always succeeds.
func (s *Store) PingContext(context.Context) error {
	return nil
}
