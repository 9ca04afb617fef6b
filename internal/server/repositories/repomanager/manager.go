package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/zapzap/internal/dbx"
	"github.com/dmitrijs2005/zapzap/internal/server/repositories/syncstate"
	"github.com/dmitrijs2005/zapzap/internal/server/repositories/tips"
	"github.com/dmitrijs2005/zapzap/internal/server/repositories/users"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Tips(db dbx.DBTX) tips.Repository
	Users(db dbx.DBTX) users.Repository
	SyncState(db dbx.DBTX) syncstate.Repository
}
