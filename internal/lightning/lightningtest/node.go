// Package lightningtest provides an in-process payment node for tests and
// the "fake" node kind.
package lightningtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/zapzap/internal/lightning"
	"github.com/google/uuid"
)

// ErrConnectRefused is returned by Connect while FailConnect is positive.
var ErrConnectRefused = errors.New("lightningtest: connect refused")

// ErrClosed is the session error after Drop or Close.
var ErrClosed = errors.New("lightningtest: session closed")

// Sent records one SendPayment call.
type Sent struct {
	Destination lightning.Destination
	AmountSats  int64
	PaymentID   string
}

// Node is a scriptable node. The zero value is not usable; call New.
type Node struct {
	mu sync.Mutex

	// FeeSats is reported for every created invoice.
	FeeSats int64
	// SendDelay is slept inside SendPayment before it completes.
	SendDelay time.Duration

	failConnect int
	connects    int
	sendErr     func(dest lightning.Destination) error
	sent        []Sent
	invoices    map[string]int64
	settled     []lightning.Payment
	session     *session
}

func New() *Node {
	return &Node{invoices: map[string]int64{}}
}

// FailConnect makes the next n Connect calls fail.
func (n *Node) FailConnect(count int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failConnect = count
}

// SetSendError installs a hook deciding the outcome of SendPayment.
func (n *Node) SetSendError(fn func(dest lightning.Destination) error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sendErr = fn
}

// Connects returns the number of Connect attempts so far.
func (n *Node) Connects() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.connects
}

// Sent returns a copy of all successful payments.
func (n *Node) Sent() []Sent {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Sent, len(n.sent))
	copy(out, n.sent)
	return out
}

func (n *Node) Connect(ctx context.Context, opts lightning.ConnectOptions, handler lightning.EventHandler) (lightning.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	n.connects++
	if n.failConnect > 0 {
		n.failConnect--
		return nil, ErrConnectRefused
	}

	s := &session{node: n, handler: handler, done: make(chan struct{})}
	n.session = s
	return s, nil
}

// Settle records a settled receive in the history without emitting an
// event, as if the event was missed while disconnected.
func (n *Node) Settle(paymentID string, at time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.settled = append(n.settled, lightning.Payment{
		PaymentID: paymentID,
		Timestamp: at,
		Status:    lightning.PaymentComplete,
	})
}

// Emit delivers ev to the handler of the current session, synchronously.
// It returns false when no session is open.
func (n *Node) Emit(ctx context.Context, ev lightning.Event) bool {
	n.mu.Lock()
	s := n.session
	n.mu.Unlock()

	if s == nil || s.closed() {
		return false
	}
	s.handler.OnEvent(ctx, ev)
	return true
}

// Receive settles paymentID now and emits the matching event.
func (n *Node) Receive(ctx context.Context, paymentID string) bool {
	n.Settle(paymentID, time.Now())
	return n.Emit(ctx, lightning.Event{Type: lightning.EventPaymentReceived, PaymentID: paymentID})
}

// Drop ends the current session as a lost connection.
func (n *Node) Drop() {
	n.mu.Lock()
	s := n.session
	n.session = nil
	n.mu.Unlock()

	if s != nil {
		s.end(ErrClosed)
	}
}

type session struct {
	node    *Node
	handler lightning.EventHandler

	once sync.Once
	done chan struct{}
	err  error
}

func (s *session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *session) end(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}

func (s *session) Done() <-chan struct{} { return s.done }

func (s *session) Err() error {
	if !s.closed() {
		return nil
	}
	return s.err
}

func (s *session) Close() error {
	s.end(ErrClosed)
	return nil
}

func (s *session) CreateInvoice(ctx context.Context, amountSats int64, description string) (*lightning.Invoice, error) {
	if s.closed() {
		return nil, ErrClosed
	}

	n := s.node
	n.mu.Lock()
	defer n.mu.Unlock()

	id := uuid.NewString()
	n.invoices[id] = amountSats
	return &lightning.Invoice{
		PaymentID: id,
		Bolt11:    fmt.Sprintf("lnbcrt%dn1%s", amountSats, id),
		FeeSats:   n.FeeSats,
	}, nil
}

func (s *session) SendPayment(ctx context.Context, dest lightning.Destination, amountSats int64) (string, error) {
	if s.closed() {
		return "", ErrClosed
	}

	n := s.node
	n.mu.Lock()
	delay, hook := n.SendDelay, n.sendErr
	n.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if hook != nil {
		if err := hook(dest); err != nil {
			return "", err
		}
	}

	id := uuid.NewString()
	n.mu.Lock()
	n.sent = append(n.sent, Sent{Destination: dest, AmountSats: amountSats, PaymentID: id})
	n.mu.Unlock()
	return id, nil
}

func (s *session) ListSettledReceives(ctx context.Context, since time.Time) ([]lightning.Payment, error) {
	if s.closed() {
		return nil, ErrClosed
	}

	n := s.node
	n.mu.Lock()
	defer n.mu.Unlock()

	var out []lightning.Payment
	for _, p := range n.settled {
		if !p.Timestamp.Before(since) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}
