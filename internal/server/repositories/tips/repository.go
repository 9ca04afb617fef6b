package tips

import (
	"context"

	"github.com/dmitrijs2005/zapzap/internal/server/models"
)

// Repository persists tips. The Lock* methods take an exclusive row lock that
// is held until the surrounding transaction ends; they must be called on a
// transactional handle.
type Repository interface {
	Create(ctx context.Context, tip *models.Tip) (*models.Tip, error)
	Get(ctx context.Context, id string) (*models.Tip, error)
	GetByPaymentID(ctx context.Context, paymentID string) (*models.Tip, error)
	LockByID(ctx context.Context, id string) (*models.Tip, error)
	LockByPaymentID(ctx context.Context, paymentID string) (*models.Tip, error)
	MarkReceived(ctx context.Context, id string) error
	MarkForwarded(ctx context.Context, id string, forwardPaymentID string) error
	RecipientID(ctx context.Context, tipID string) (string, error)
	ListPendingForward(ctx context.Context, recipientID string) ([]*models.Tip, error)
}
