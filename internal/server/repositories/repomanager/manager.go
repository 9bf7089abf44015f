// Package repomanager vends repository implementations for the configured
// storage driver and owns schema migration.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/modernapi/internal/dbx"
	"github.com/dmitrijs2005/modernapi/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/modernapi/internal/server/repositories/users"
)

// RepositoryManager builds repositories bound to a DBTX, so the same code
// path works against a pool or a transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
}

// Pinger reports store reachability.
type Pinger interface {
	PingContext(ctx context.Context) error
}
