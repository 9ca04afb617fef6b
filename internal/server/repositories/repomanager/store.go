package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/zapzap/internal/dbx"
	"github.com/dmitrijs2005/zapzap/internal/server/repositories/syncstate"
	"github.com/dmitrijs2005/zapzap/internal/server/repositories/tips"
	"github.com/dmitrijs2005/zapzap/internal/server/repositories/users"
)

// Repos is a set of repositories sharing one database handle.
type Repos interface {
	Tips() tips.Repository
	Users() users.Repository
	SyncState() syncstate.Repository
}

// Store gives services access to repositories, either directly or inside a
// transaction.
//
// Atomic commits when fn returns nil and rolls back otherwise. Row locks
// taken through Repos inside fn are held until Atomic returns.
type Store interface {
	Repos() Repos
	Atomic(ctx context.Context, fn func(ctx context.Context, r Repos) error) error
}

type boundRepos struct {
	m  RepositoryManager
	db dbx.DBTX
}

func (b boundRepos) Tips() tips.Repository           { return b.m.Tips(b.db) }
func (b boundRepos) Users() users.Repository         { return b.m.Users(b.db) }
func (b boundRepos) SyncState() syncstate.Repository { return b.m.SyncState(b.db) }

// SQLStore is a Store over *sql.DB.
type SQLStore struct {
	db *sql.DB
	m  RepositoryManager
}

func NewSQLStore(db *sql.DB, m RepositoryManager) *SQLStore {
	return &SQLStore{db: db, m: m}
}

func (s *SQLStore) Repos() Repos {
	return boundRepos{m: s.m, db: s.db}
}

func (s *SQLStore) Atomic(ctx context.Context, fn func(ctx context.Context, r Repos) error) error {
	return dbx.WithTx(ctx, s.db, dbx.ReadCommitted, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, boundRepos{m: s.m, db: tx})
	})
}
