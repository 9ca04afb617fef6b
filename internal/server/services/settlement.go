package services

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/zapzap/internal/common"
	"github.com/dmitrijs2005/zapzap/internal/lightning"
	"github.com/dmitrijs2005/zapzap/internal/logging"
	"github.com/dmitrijs2005/zapzap/internal/server/metrics"
	"github.com/dmitrijs2005/zapzap/internal/server/models"
	"github.com/dmitrijs2005/zapzap/internal/server/repositories/repomanager"
)

// Outcome of applying one settlement.
type Outcome int

const (
	// OutcomeApplied means the tip flipped to received in this call.
	OutcomeApplied Outcome = iota + 1
	// OutcomeDuplicate means the tip was already received.
	OutcomeDuplicate
	// OutcomeUnknown means no tip owns the payment id.
	OutcomeUnknown
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// SettlementService applies settlements reported by the node. Both the live
// event stream and the reconciliation sweep go through ApplySettlement.
type SettlementService struct {
	store      repomanager.Store
	hub        Publisher
	dispatcher Dispatcher
	metrics    *metrics.Metrics
	log        logging.Logger
}

var _ lightning.EventHandler = (*SettlementService)(nil)

func NewSettlementService(store repomanager.Store, hub Publisher, d Dispatcher, m *metrics.Metrics, log logging.Logger) *SettlementService {
	return &SettlementService{
		store:      store,
		hub:        hub,
		dispatcher: d,
		metrics:    m,
		log:        log.With("module", "settlement"),
	}
}

// ApplySettlement marks the tip owning paymentID as received. The decision
// is taken under the tip's row lock, so concurrent calls for the same
// payment apply it exactly once. Only the applying call dispatches
// forwarding.
func (s *SettlementService) ApplySettlement(ctx context.Context, paymentID string) (Outcome, error) {
	var (
		tip     *models.Tip
		outcome Outcome
	)

	err := s.store.Atomic(ctx, func(ctx context.Context, r repomanager.Repos) error {
		t, err := r.Tips().LockByPaymentID(ctx, paymentID)
		if errors.Is(err, common.ErrorNotFound) {
			outcome = OutcomeUnknown
			return nil
		}
		if err != nil {
			return err
		}

		tip = t
		if t.Received {
			outcome = OutcomeDuplicate
			return nil
		}
		if err := r.Tips().MarkReceived(ctx, t.ID); err != nil {
			return err
		}
		tip.Received = true
		outcome = OutcomeApplied
		return nil
	})
	if err != nil {
		return 0, err
	}

	switch outcome {
	case OutcomeUnknown:
		s.metrics.SettlementsUnknown.Inc()
		s.log.Info(ctx, "settlement for unknown payment discarded", "payment_id", paymentID)

	case OutcomeDuplicate:
		s.metrics.SettlementsDuplicate.Inc()
		s.log.Debug(ctx, "settlement already applied", "payment_id", paymentID, "tip_id", tip.ID,
			"error", common.ErrDuplicateEvent)
		s.hub.Publish(paymentID, tip.Status())

	case OutcomeApplied:
		s.metrics.SettlementsApplied.Inc()
		s.log.Info(ctx, "tip received", "payment_id", paymentID, "tip_id", tip.ID, "amount_sats", tip.AmountSats)
		s.hub.Publish(paymentID, models.StatusReceived)
		s.dispatcher.Dispatch(ctx, tip.ID)
	}

	return outcome, nil
}

// OnEvent handles one node event. Only received payments change state.
func (s *SettlementService) OnEvent(ctx context.Context, ev lightning.Event) {
	switch ev.Type {
	case lightning.EventPaymentReceived:
	case lightning.EventPaymentFailed:
		s.log.Warn(ctx, "node reported failed payment", "payment_id", ev.PaymentID, "destination", ev.Destination)
		return
	default:
		s.log.Debug(ctx, "node event ignored", "type", ev.Type, "payment_id", ev.PaymentID)
		return
	}

	if ev.PaymentID == "" {
		s.log.Warn(ctx, "received payment event without payment id")
		return
	}

	if _, err := s.ApplySettlement(ctx, ev.PaymentID); err != nil {
		s.log.Error(ctx, "failed to apply settlement", "payment_id", ev.PaymentID, "error", err)
	}
}
