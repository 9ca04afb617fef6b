// Package models defines server-side data models persisted in the database.
package models

import "time"

// Tip is one payment from a payer to the author of a post.
//
// Received flips false->true once, when the node reports settlement of
// PaymentID. Forwarded flips false->true once, only after Received, when the
// onward payment to the recipient succeeded; ForwardPaymentID is set in the
// same transition.
type Tip struct {
	ID string
	// PostID links the tip to the post whose author receives the funds.
	PostID string
	// SenderID is empty for anonymous tips.
	SenderID   string
	AmountSats int64
	Comment    string

	// PaymentID is the node's settlement key of the invoice.
	PaymentID string
	// Invoice is the payment request handed to the payer.
	Invoice string
	// ForwardPaymentID identifies the onward payment, empty until forwarded.
	ForwardPaymentID string

	Received  bool
	Forwarded bool
	CreatedAt time.Time
}

// Status reports the externally visible state of the tip.
func (t *Tip) Status() PaymentStatus {
	switch {
	case t.Forwarded:
		return StatusForwarded
	case t.Received:
		return StatusReceived
	default:
		return StatusPending
	}
}
