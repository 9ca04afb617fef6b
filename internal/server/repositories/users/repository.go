package users

import (
	"context"

	"github.com/dmitrijs2005/zapzap/internal/server/models"
)

type Repository interface {
	Get(ctx context.Context, id string) (*models.User, error)
	SetPayoutAddress(ctx context.Context, id string, address string) error
}
