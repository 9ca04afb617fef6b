// Package lightning describes the narrow surface of the external payment
// node used by the server: invoice creation, outbound payments, settled
// receive history and the live event stream.
//
// Concrete node bindings live in sub-packages and are reached only through
// a Connector; the connection supervisor owns the resulting Session.
package lightning

import (
	"context"
	"errors"
	"time"
)

// ErrUnsupportedDestination is returned by bindings that cannot pay a
// destination kind.
var ErrUnsupportedDestination = errors.New("unsupported destination")

// Invoice is a receivable payment request registered on the node.
type Invoice struct {
	PaymentID string
	Bolt11    string
	// FeeSats is what the node charges to receive the payment.
	FeeSats int64
}

// DestinationKind tells the node how to interpret Destination.Value.
type DestinationKind int

const (
	// DestinationInvoice is a BOLT11 payment request.
	DestinationInvoice DestinationKind = iota + 1
	// DestinationOffer is a BOLT12 offer.
	DestinationOffer
	// DestinationAddress is a human-readable address the node resolves itself.
	DestinationAddress
)

func (k DestinationKind) String() string {
	switch k {
	case DestinationInvoice:
		return "invoice"
	case DestinationOffer:
		return "offer"
	case DestinationAddress:
		return "address"
	default:
		return "unknown"
	}
}

// Destination is a concrete target of an outbound payment.
type Destination struct {
	Kind  DestinationKind
	Value string
}

// PaymentStatus of an entry in the node's history.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentComplete PaymentStatus = "complete"
	PaymentFailed   PaymentStatus = "failed"
)

// Payment is one received payment from the node's history.
type Payment struct {
	PaymentID string
	Timestamp time.Time
	Status    PaymentStatus
}

// EventType of a node event.
type EventType string

const (
	EventPaymentReceived EventType = "payment_received"
	EventPaymentSent     EventType = "payment_sent"
	EventPaymentFailed   EventType = "payment_failed"
	EventSynced          EventType = "synced"
)

// Event is one entry of the node's event stream.
type Event struct {
	Type        EventType
	PaymentID   string
	Destination string
}

// EventHandler receives node events. A session delivers events one at a
// time, in arrival order.
type EventHandler interface {
	OnEvent(ctx context.Context, ev Event)
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(ctx context.Context, ev Event)

func (f EventHandlerFunc) OnEvent(ctx context.Context, ev Event) { f(ctx, ev) }

// Node is the request/response part of the payment node.
type Node interface {
	CreateInvoice(ctx context.Context, amountSats int64, description string) (*Invoice, error)
	SendPayment(ctx context.Context, dest Destination, amountSats int64) (string, error)
	ListSettledReceives(ctx context.Context, since time.Time) ([]Payment, error)
}

// Session is a live connection to the node. Done is closed when the
// connection is lost or closed; Err then reports why.
type Session interface {
	Node
	Done() <-chan struct{}
	Err() error
	Close() error
}

// ConnectOptions tune a connection attempt.
type ConnectOptions struct {
	// RestoreOnly forbids creating a new node or wallet: the attempt fails
	// unless existing credentials can be restored.
	RestoreOnly bool
}

// Connector opens sessions. Events of the session are delivered to handler
// until the session ends.
type Connector interface {
	Connect(ctx context.Context, opts ConnectOptions, handler EventHandler) (Session, error)
}
