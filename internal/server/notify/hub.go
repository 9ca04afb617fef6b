// Package notify fans payment status changes out to connected clients.
//
// The registry is process-local and best-effort: a subscriber that cannot
// keep up is dropped, and nothing here influences the state of a tip.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/zapzap/internal/logging"
	"github.com/dmitrijs2005/zapzap/internal/server/models"
	"github.com/google/uuid"
)

// Subscription is one client waiting for updates of one payment.
type Subscription struct {
	ID          string
	PaymentID   string
	ConnectedAt time.Time

	ch     chan models.StatusEvent
	closed bool
}

// Events is closed when the subscription is removed from the hub.
func (s *Subscription) Events() <-chan models.StatusEvent { return s.ch }

// Hub is a registry of subscriptions keyed by payment id.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[string]*Subscription

	buffer     int
	staleAfter time.Duration
	now        func() time.Time
	log        logging.Logger
}

func NewHub(buffer int, staleAfter time.Duration, log logging.Logger) *Hub {
	if buffer < 1 {
		buffer = 1
	}
	return &Hub{
		subs:       map[string]map[string]*Subscription{},
		buffer:     buffer,
		staleAfter: staleAfter,
		now:        time.Now,
		log:        log.With("module", "notify"),
	}
}

// Subscribe registers a subscriber for paymentID. The "connected"
// acknowledgement is already queued on the returned subscription.
func (h *Hub) Subscribe(paymentID string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	sub := &Subscription{
		ID:          uuid.NewString(),
		PaymentID:   paymentID,
		ConnectedAt: now,
		ch:          make(chan models.StatusEvent, h.buffer),
	}
	sub.ch <- models.StatusEvent{PaymentID: paymentID, Status: models.StatusConnected, Timestamp: now}

	bucket, ok := h.subs[paymentID]
	if !ok {
		bucket = map[string]*Subscription{}
		h.subs[paymentID] = bucket
	}
	bucket[sub.ID] = sub
	return sub
}

// Unsubscribe removes sub. Removing an already removed subscription is a
// no-op.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub)
}

func (h *Hub) removeLocked(sub *Subscription) {
	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.ch)

	if bucket, ok := h.subs[sub.PaymentID]; ok {
		delete(bucket, sub.ID)
		if len(bucket) == 0 {
			delete(h.subs, sub.PaymentID)
		}
	}
}

// Publish delivers status to every subscriber of paymentID without
// blocking. A subscriber with a full buffer is considered dead and removed.
// It returns the number of subscribers that received the event.
func (h *Hub) Publish(paymentID string, status models.PaymentStatus) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	bucket := h.subs[paymentID]
	if len(bucket) == 0 {
		return 0
	}

	ev := models.StatusEvent{PaymentID: paymentID, Status: status, Timestamp: h.now()}
	delivered := 0
	for _, sub := range bucket {
		select {
		case sub.ch <- ev:
			delivered++
		default:
			h.log.Warn(context.Background(), "dropping slow subscriber", "payment_id", paymentID, "subscriber", sub.ID)
			h.removeLocked(sub)
		}
	}
	return delivered
}

// Cleanup removes subscribers connected longer than the staleness
// threshold and returns how many were removed.
func (h *Hub) Cleanup() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	cutoff := h.now().Add(-h.staleAfter)
	removed := 0
	for paymentID, bucket := range h.subs {
		for _, sub := range bucket {
			if sub.ConnectedAt.Before(cutoff) {
				h.removeLocked(sub)
				removed++
			}
		}
		if len(bucket) == 0 {
			delete(h.subs, paymentID)
		}
	}
	return removed
}

// Len returns the number of live subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for _, bucket := range h.subs {
		n += len(bucket)
	}
	return n
}

// Run calls Cleanup every interval until ctx is cancelled. Remaining
// subscribers are closed on exit so that streams end.
func (h *Hub) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-t.C:
			if n := h.Cleanup(); n > 0 {
				h.log.Info(ctx, "removed stale subscribers", "count", n)
			}
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, bucket := range h.subs {
		for _, sub := range bucket {
			h.removeLocked(sub)
		}
	}
}
