// Package syncstate stores the reconciliation checkpoint: a single row
// holding the unix timestamp of the last completed sweep.
package syncstate

import (
	"context"
	"time"
)

type Repository interface {
	// Get returns the checkpoint, or the unix epoch when none was saved yet.
	Get(ctx context.Context) (time.Time, error)
	// Set stores ts as the new checkpoint.
	Set(ctx context.Context, ts time.Time) error
}
