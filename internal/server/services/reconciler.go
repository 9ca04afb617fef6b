package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/zapzap/internal/common"
	"github.com/dmitrijs2005/zapzap/internal/lightning"
	"github.com/dmitrijs2005/zapzap/internal/logging"
	"github.com/dmitrijs2005/zapzap/internal/server/metrics"
	"github.com/dmitrijs2005/zapzap/internal/server/repositories/repomanager"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

// SweepReport describes one completed sweep.
type SweepReport struct {
	ID         string    `json:"id"`
	Since      time.Time `json:"since"`
	Until      time.Time `json:"until"`
	PaymentIDs []string  `json:"payment_ids"`
	Applied    int       `json:"applied"`
	Duplicates int       `json:"duplicates"`
	Unknown    int       `json:"unknown"`
}

// Archiver keeps sweep reports.
type Archiver interface {
	Archive(ctx context.Context, report *SweepReport) error
}

// Settler applies one settlement.
type Settler interface {
	ApplySettlement(ctx context.Context, paymentID string) (Outcome, error)
}

// Reconciler replays settled receives the live stream may have missed.
type Reconciler struct {
	store    repomanager.Store
	nodes    NodeSource
	settler  Settler
	archiver Archiver
	metrics  *metrics.Metrics
	log      logging.Logger
	now      func() time.Time

	mu sync.Mutex
}

func NewReconciler(store repomanager.Store, nodes NodeSource, settler Settler, archiver Archiver,
	m *metrics.Metrics, log logging.Logger) *Reconciler {
	return &Reconciler{
		store:    store,
		nodes:    nodes,
		settler:  settler,
		archiver: archiver,
		metrics:  m,
		log:      log.With("module", "reconciler"),
		now:      time.Now,
	}
}

// Sweep lists the node's settled receives since the stored checkpoint and
// applies each of them. It returns the number of tips that became received.
//
// The checkpoint moves to the sweep's start time only after every entry was
// applied without error, so a failed or interrupted sweep is repeated over
// the same window next time. Sweeps never run concurrently.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	since, err := r.store.Repos().SyncState().Get(ctx)
	if err != nil {
		return 0, fmt.Errorf("read checkpoint: %w", err)
	}

	node, err := r.nodes.Node()
	if err != nil {
		return 0, err
	}

	until := r.now()
	payments, err := node.ListSettledReceives(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("list settled receives: %w", err)
	}

	report := &SweepReport{ID: uuid.NewString(), Since: since, Until: until}

	var errs error
	for _, p := range payments {
		if p.Status != lightning.PaymentComplete {
			continue
		}
		report.PaymentIDs = append(report.PaymentIDs, p.PaymentID)

		out, err := r.settler.ApplySettlement(ctx, p.PaymentID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("payment %s: %w", p.PaymentID, err))
			continue
		}
		switch out {
		case OutcomeApplied:
			report.Applied++
		case OutcomeDuplicate:
			report.Duplicates++
		case OutcomeUnknown:
			report.Unknown++
		}
	}
	r.metrics.SweepItems.Add(float64(len(report.PaymentIDs)))

	if errs != nil {
		r.log.Error(ctx, "sweep finished with errors, checkpoint kept",
			"since", since, "failed", len(multierr.Errors(errs)), "error", errs)
		return report.Applied, errs
	}

	if err := r.store.Repos().SyncState().Set(ctx, until); err != nil {
		return report.Applied, fmt.Errorf("store checkpoint: %w", err)
	}
	r.metrics.SweepRuns.Inc()

	r.log.Info(ctx, "sweep finished", "since", since, "until", until,
		"payments", len(report.PaymentIDs), "applied", report.Applied, "duplicates", report.Duplicates)

	if r.archiver != nil {
		if err := r.archiver.Archive(ctx, report); err != nil {
			r.log.Warn(ctx, "failed to archive sweep report", "report_id", report.ID, "error", err)
		}
	}

	return report.Applied, nil
}

// Run sweeps every interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.Trigger(ctx)
		}
	}
}

// Trigger runs one sweep and only logs its outcome.
func (r *Reconciler) Trigger(ctx context.Context) {
	if _, err := r.Sweep(ctx); err != nil {
		if errors.Is(err, common.ErrNotConnected) {
			r.log.Info(ctx, "sweep skipped, node not connected")
			return
		}
		r.log.Error(ctx, "sweep failed", "error", err)
	}
}
