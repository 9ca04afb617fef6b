package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dmitrijs2005/zapzap/internal/common"
	"github.com/dmitrijs2005/zapzap/internal/logging"
)

// AsyncForwarder runs each forward on its own goroutine, detached from the
// caller's cancellation and bounded by a timeout.
type AsyncForwarder struct {
	fwd     TipForwarder
	timeout time.Duration
	log     logging.Logger

	wg sync.WaitGroup
}

var _ Dispatcher = (*AsyncForwarder)(nil)

func NewAsyncForwarder(fwd TipForwarder, timeout time.Duration, log logging.Logger) *AsyncForwarder {
	return &AsyncForwarder{fwd: fwd, timeout: timeout, log: log.With("module", "dispatch")}
}

func (a *AsyncForwarder) Dispatch(ctx context.Context, tipID string) {
	ctx = context.WithoutCancel(ctx)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		if a.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, a.timeout)
			defer cancel()
		}
		a.run(ctx, tipID)
	}()
}

func (a *AsyncForwarder) run(ctx context.Context, tipID string) {
	id, err := a.fwd.Forward(ctx, tipID)
	switch {
	case err == nil:
		a.log.Debug(ctx, "dispatched forward finished", "tip_id", tipID, "forward_payment_id", id)
	case errors.Is(err, common.ErrNoDestination),
		errors.Is(err, common.ErrNotResolvable),
		errors.Is(err, common.ErrNotConnected):
		a.log.Info(ctx, "forward held", "tip_id", tipID, "reason", err)
	default:
		a.log.Error(ctx, "forward failed", "tip_id", tipID, "error", err)
	}
}

// Wait blocks until every dispatched forward has returned.
func (a *AsyncForwarder) Wait() {
	a.wg.Wait()
}
