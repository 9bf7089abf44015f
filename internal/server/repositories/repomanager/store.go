package repomanager

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/modernapi/internal/common"
	"github.com/dmitrijs2005/modernapi/internal/dbx"
	"github.com/dmitrijs2005/modernapi/internal/server/repositories/memory"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Store bundles everything services need from the storage layer.
type Store struct {
	Manager RepositoryManager
	// DB is the non-transactional handle. It is nil for the memory driver,
	// whose repositories ignore it.
	DB     dbx.DBTX
	Tx     dbx.TxRunner
	Pinger Pinger
	// SQL is the underlying pool, nil for the memory driver.
	SQL *sql.DB
}

// sqlOpen is a seam for tests.
var sqlOpen = sql.Open

// Open connects to the configured driver. For postgres it verifies the
// connection; migrations are run separately via Migrate.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	switch driver {
	case DriverMemory:
		return NewMemoryStore(), nil
	case DriverPostgres:
		db, err := sqlOpen("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(5)
		db.SetConnMaxIdleTime(5 * time.Minute)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping database: %w", err)
		}
		return NewSQLStore(db, NewPostgresRepositoryManager()), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q: %w", driver, common.ErrMisconfigured)
	}
}

// NewSQLStore wraps an open pool.
func NewSQLStore(db *sql.DB, m RepositoryManager) *Store {
	return &Store{
		Manager: m,
		DB:      db,
		Tx:      dbx.NewSQLTxRunner(db, nil),
		Pinger:  db,
		SQL:     db,
	}
}

// NewMemoryStore returns a Store backed by a fresh in-memory driver.
func NewMemoryStore() *Store {
	m := memory.NewStore()
	return &Store{Manager: m, Tx: m, Pinger: m}
}

// Migrate brings the schema up to date.
func (s *Store) Migrate(ctx context.Context) error {
	return s.Manager.RunMigrations(ctx, s.SQL)
}

func (s *Store) Close() error {
	if s.SQL != nil {
		return s.SQL.Close()
	}
	return nil
}
