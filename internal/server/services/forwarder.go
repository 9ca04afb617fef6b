package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/zapzap/internal/common"
	"github.com/dmitrijs2005/zapzap/internal/lightning"
	"github.com/dmitrijs2005/zapzap/internal/logging"
	"github.com/dmitrijs2005/zapzap/internal/server/metrics"
	"github.com/dmitrijs2005/zapzap/internal/server/models"
	"github.com/dmitrijs2005/zapzap/internal/server/payout"
	"github.com/dmitrijs2005/zapzap/internal/server/repositories/repomanager"
	"golang.org/x/sync/singleflight"
)

// Forwarder pays received tips out to their recipients.
//
// A forward runs in two short transactions around the external send: the
// first checks the flags and reads the payout address, the second re-checks
// forwarded under the row lock and records the forwarding payment id.
// Concurrent calls for the same tip inside one process share one attempt.
// The shared attempt is detached from the callers' contexts and bounded by
// timeout instead.
type Forwarder struct {
	store    repomanager.Store
	nodes    NodeSource
	resolver DestinationResolver
	hub      Publisher
	metrics  *metrics.Metrics
	timeout  time.Duration
	log      logging.Logger

	group singleflight.Group
	wg    sync.WaitGroup
}

var _ TipForwarder = (*Forwarder)(nil)

func NewForwarder(store repomanager.Store, nodes NodeSource, resolver DestinationResolver, hub Publisher,
	m *metrics.Metrics, timeout time.Duration, log logging.Logger) *Forwarder {
	return &Forwarder{
		store:    store,
		nodes:    nodes,
		resolver: resolver,
		hub:      hub,
		metrics:  m,
		timeout:  timeout,
		log:      log.With("module", "forwarder"),
	}
}

var errEmptyPaymentID = errors.New("empty forwarding payment id")

// NormalizeAddress trims and lower-cases a payout address. It is applied
// once before resolving and sending.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// Forward sends the tip to its recipient and returns the forwarding payment
// id. An already forwarded tip returns its stored id without sending.
//
// Errors: common.ErrNotReceived, common.ErrNoDestination,
// common.ErrNotResolvable and common.ErrNotConnected leave the tip waiting
// for a later trigger; common.ErrSendFailed means the node refused the
// payment.
//
// A caller whose ctx ends gets ctx.Err(); the attempt it started or joined
// keeps running for the other callers.
func (f *Forwarder) Forward(ctx context.Context, tipID string) (string, error) {
	f.wg.Add(1)

	ch := f.group.DoChan(tipID, func() (any, error) {
		shared := context.WithoutCancel(ctx)
		if f.timeout > 0 {
			var cancel context.CancelFunc
			shared, cancel = context.WithTimeout(shared, f.timeout)
			defer cancel()
		}
		return f.forward(shared, tipID)
	})

	select {
	case res := <-ch:
		f.wg.Done()
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		go func() {
			<-ch
			f.wg.Done()
		}()
		return "", ctx.Err()
	}
}

// Wait blocks until every attempt started by Forward has finished.
func (f *Forwarder) Wait() {
	f.wg.Wait()
}

type forwardPlan struct {
	tip     *models.Tip
	address string
	done    bool
}

func (f *Forwarder) plan(ctx context.Context, tipID string) (*forwardPlan, error) {
	var p forwardPlan

	err := f.store.Atomic(ctx, func(ctx context.Context, r repomanager.Repos) error {
		tip, err := r.Tips().LockByID(ctx, tipID)
		if err != nil {
			return err
		}
		p.tip = tip

		if !tip.Received {
			return common.ErrNotReceived
		}
		if tip.Forwarded {
			p.done = true
			return nil
		}

		recipientID, err := r.Tips().RecipientID(ctx, tipID)
		if err != nil {
			return fmt.Errorf("recipient of tip: %w", err)
		}
		user, err := r.Users().Get(ctx, recipientID)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				// recipient not registered yet
				return nil
			}
			return fmt.Errorf("recipient profile: %w", err)
		}
		p.address = user.PayoutAddress
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (f *Forwarder) forward(ctx context.Context, tipID string) (string, error) {
	p, err := f.plan(ctx, tipID)
	if err != nil {
		return "", err
	}
	if p.done {
		return p.tip.ForwardPaymentID, nil
	}

	log := f.log.With("tip_id", tipID, "payment_id", p.tip.PaymentID)

	address := NormalizeAddress(p.address)
	if address == "" {
		f.metrics.Forwards.WithLabelValues(metrics.ForwardHeld).Inc()
		log.Info(ctx, "recipient has no payout address, holding tip")
		return "", common.ErrNoDestination
	}

	node, err := f.nodes.Node()
	if err != nil {
		f.metrics.Forwards.WithLabelValues(metrics.ForwardHeld).Inc()
		return "", err
	}

	dest, err := f.destination(ctx, log, address, p.tip.AmountSats)
	if err != nil {
		f.metrics.Forwards.WithLabelValues(metrics.ForwardHeld).Inc()
		return "", err
	}

	sentID, err := node.SendPayment(ctx, dest, p.tip.AmountSats)
	if err != nil {
		f.metrics.Forwards.WithLabelValues(metrics.ForwardFailed).Inc()
		log.Error(ctx, "forwarding payment failed", "destination", dest.Kind.String(), "error", err)
		return "", fmt.Errorf("%w: %w", common.ErrSendFailed, err)
	}
	if sentID == "" {
		// Nothing to reconcile against, so the tip stays eligible.
		f.metrics.Forwards.WithLabelValues(metrics.ForwardFailed).Inc()
		log.Error(ctx, "node accepted payment without payment id", "destination", dest.Kind.String())
		return "", fmt.Errorf("%w: %w", common.ErrSendFailed, errEmptyPaymentID)
	}

	// The funds have left; recording must not be abandoned with the caller.
	storedID, err := f.record(context.WithoutCancel(ctx), tipID, sentID)
	if err != nil {
		log.Error(ctx, "payment sent but not recorded", "forward_payment_id", sentID, "error", err)
		return "", err
	}
	if storedID != sentID {
		log.Error(ctx, "tip was forwarded concurrently", "forward_payment_id", sentID, "stored_payment_id", storedID)
		return storedID, nil
	}

	f.metrics.Forwards.WithLabelValues(metrics.ForwardSucceeded).Inc()
	log.Info(ctx, "tip forwarded", "forward_payment_id", sentID, "destination", dest.Kind.String(),
		"amount_sats", p.tip.AmountSats)
	f.hub.Publish(p.tip.PaymentID, models.StatusForwarded)
	return sentID, nil
}

// destination resolves address. When resolution fails for a user@domain
// address, the node is asked to pay the address itself.
func (f *Forwarder) destination(ctx context.Context, log logging.Logger, address string, amountSats int64) (lightning.Destination, error) {
	dest, err := f.resolver.Resolve(ctx, address, amountSats)
	if err == nil {
		return dest, nil
	}
	if !errors.Is(err, common.ErrNotResolvable) {
		return lightning.Destination{}, err
	}
	if _, _, ok := payout.SplitAddress(address); !ok {
		log.Warn(ctx, "payout address not resolvable", "address", address, "error", err)
		return lightning.Destination{}, err
	}

	log.Info(ctx, "payout address not resolvable, paying address directly", "address", address, "error", err)
	return lightning.Destination{Kind: lightning.DestinationAddress, Value: address}, nil
}

func (f *Forwarder) record(ctx context.Context, tipID, sentID string) (string, error) {
	var stored string

	err := f.store.Atomic(ctx, func(ctx context.Context, r repomanager.Repos) error {
		tip, err := r.Tips().LockByID(ctx, tipID)
		if err != nil {
			return err
		}
		if tip.Forwarded {
			stored = tip.ForwardPaymentID
			return nil
		}
		if err := r.Tips().MarkForwarded(ctx, tipID, sentID); err != nil {
			return err
		}
		stored = sentID
		return nil
	})
	return stored, err
}
