package syncstate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/zapzap/internal/dbx"
)

// checkpointRowID is the id of the only row of sync_state.
const checkpointRowID = 1

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Get(ctx context.Context) (time.Time, error) {
	query := `SELECT last_timestamp FROM sync_state WHERE id = $1`

	var ts int64
	if err := r.db.QueryRowContext(ctx, query, checkpointRowID).Scan(&ts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Unix(0, 0).UTC(), nil
		}
		return time.Time{}, fmt.Errorf("db error: %w", err)
	}

	return time.Unix(ts, 0).UTC(), nil
}

func (r *PostgresRepository) Set(ctx context.Context, ts time.Time) error {
	query := `INSERT INTO sync_state (id, last_timestamp) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET last_timestamp = EXCLUDED.last_timestamp`

	if _, err := r.db.ExecContext(ctx, query, checkpointRowID, ts.Unix()); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
