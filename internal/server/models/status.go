package models

import "time"

// PaymentStatus is the state pushed to clients watching a payment.
type PaymentStatus string

const (
	StatusPending   PaymentStatus = "pending"
	StatusConnected PaymentStatus = "connected"
	StatusReceived  PaymentStatus = "received"
	StatusForwarded PaymentStatus = "forwarded"
)

// StatusEvent is one line of the client-facing NDJSON stream.
type StatusEvent struct {
	PaymentID string        `json:"paymentId"`
	Status    PaymentStatus `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
}

// SyncState is the reconciliation checkpoint. LastTimestamp bounds how far
// back the sweep queries the node's history; it is never used to decide the
// state of a single tip.
type SyncState struct {
	LastTimestamp time.Time
}
