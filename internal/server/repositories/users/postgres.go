package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/zapzap/internal/common"
	"github.com/dmitrijs2005/zapzap/internal/dbx"
	"github.com/dmitrijs2005/zapzap/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.User, error) {
	query :=
		`SELECT id, username, wallet_address, created_at FROM users
		 WHERE id = $1
		 `

	user := &models.User{}
	var address sql.NullString
	err := r.db.QueryRowContext(ctx, query, id).Scan(&user.ID, &user.UserName, &address, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	user.PayoutAddress = address.String
	return user, nil
}

func (r *PostgresRepository) SetPayoutAddress(ctx context.Context, id string, address string) error {
	query :=
		`UPDATE users SET wallet_address = $2
		 WHERE id = $1
		 `

	res, err := r.db.ExecContext(ctx, query, id, address)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}

	return nil
}
