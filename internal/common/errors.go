// Package common defines shared constants and sentinel errors used across
// the server layers of ZapZap. Callers should use errors.Is to match these
// values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// Validation errors.
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrInvalidAddress = errors.New("invalid payout address")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	// Payment lifecycle errors.
	//
	// ErrNotConnected means the payment node is unreachable; background
	// callers wait for the connection supervisor instead of failing.
	ErrNotConnected = errors.New("payment node not connected")
	// ErrNoDestination means the recipient has not registered a payout
	// address yet. The tip is held until the address is set.
	ErrNoDestination = errors.New("recipient has no payout address")
	// ErrNotResolvable means the payout address could not be resolved to a
	// payment destination. Treated as "hold, retry later".
	ErrNotResolvable = errors.New("payout address not resolvable")
	// ErrSendFailed means the onward payment failed; the tip stays eligible
	// for another forwarding attempt.
	ErrSendFailed = errors.New("send failed")
	// ErrDuplicateEvent marks a settlement that was already applied.
	ErrDuplicateEvent = errors.New("duplicate settlement event")
	// ErrNotReceived means forwarding was requested for an unpaid tip.
	ErrNotReceived = errors.New("tip not received yet")
	// ErrStateConflict means a guarded flag update matched no row because
	// another transaction changed the tip first.
	ErrStateConflict = errors.New("tip state conflict")
)
