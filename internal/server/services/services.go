// Package services contains the tip payment lifecycle: invoice issuing,
// settlement, forwarding, reconciliation and the payout-address trigger.
//
// Tip rows are the only source of truth. Every flag transition runs inside
// repomanager.Store.Atomic after taking the row lock, and no lock is held
// across a call to the payment node or to the payout resolver.
package services

import (
	"context"

	"github.com/dmitrijs2005/zapzap/internal/lightning"
	"github.com/dmitrijs2005/zapzap/internal/server/models"
)

// NodeSource hands out the current payment node handle. It fails with
// common.ErrNotConnected while the node is unreachable.
type NodeSource interface {
	Node() (lightning.Node, error)
}

// DestinationResolver resolves a payout address.
type DestinationResolver interface {
	Resolve(ctx context.Context, address string, amountSats int64) (lightning.Destination, error)
}

// Publisher pushes status changes to clients. Delivery is best-effort.
type Publisher interface {
	Publish(paymentID string, status models.PaymentStatus) int
}

// TipForwarder forwards one received tip to its recipient.
type TipForwarder interface {
	Forward(ctx context.Context, tipID string) (string, error)
}

// Dispatcher schedules forwarding of a tip without waiting for it.
type Dispatcher interface {
	Dispatch(ctx context.Context, tipID string)
}
