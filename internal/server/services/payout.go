package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dmitrijs2005/zapzap/internal/common"
	"github.com/dmitrijs2005/zapzap/internal/logging"
	"github.com/dmitrijs2005/zapzap/internal/server/payout"
	"github.com/dmitrijs2005/zapzap/internal/server/repositories/repomanager"
	"go.uber.org/multierr"
)

// PayoutService stores recipients' payout addresses and re-submits their
// held tips once an address is known.
type PayoutService struct {
	store repomanager.Store
	fwd   TipForwarder
	log   logging.Logger

	wg sync.WaitGroup
}

func NewPayoutService(store repomanager.Store, fwd TipForwarder, log logging.Logger) *PayoutService {
	return &PayoutService{store: store, fwd: fwd, log: log.With("module", "payout")}
}

// SetPayoutAddress validates and stores the address of userID. Accepted
// forms are a BOLT12 offer and user@domain.
func (s *PayoutService) SetPayoutAddress(ctx context.Context, userID, address string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return common.ErrInvalidAddress
	}
	if _, _, ok := payout.SplitAddress(address); !ok && !payout.IsOffer(address) {
		return fmt.Errorf("%w: %q", common.ErrInvalidAddress, address)
	}

	if err := s.store.Repos().Users().SetPayoutAddress(ctx, userID, address); err != nil {
		return err
	}
	s.log.Info(ctx, "payout address updated", "user_id", userID)
	return nil
}

// ForwardPending forwards every received but not forwarded tip of userID.
// Each tip is attempted independently; failures are combined into the
// returned error. The count is the number of tips forwarded.
func (s *PayoutService) ForwardPending(ctx context.Context, userID string) (int, error) {
	pending, err := s.store.Repos().Tips().ListPendingForward(ctx, userID)
	if err != nil {
		return 0, err
	}

	var (
		errs error
		done int
	)
	for _, tip := range pending {
		if _, err := s.fwd.Forward(ctx, tip.ID); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("tip %s: %w", tip.ID, err))
			continue
		}
		done++
	}
	return done, errs
}

// TriggerForwardPending runs ForwardPending in the background.
func (s *PayoutService) TriggerForwardPending(ctx context.Context, userID string) {
	ctx = context.WithoutCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		n, err := s.ForwardPending(ctx, userID)
		if err != nil {
			level := s.log.Error
			if allHeld(err) {
				level = s.log.Info
			}
			level(ctx, "pending tips not fully forwarded", "user_id", userID, "forwarded", n, "error", err)
			return
		}
		if n > 0 {
			s.log.Info(ctx, "pending tips forwarded", "user_id", userID, "forwarded", n)
		}
	}()
}

// Wait blocks until background triggers have finished.
func (s *PayoutService) Wait() {
	s.wg.Wait()
}

func allHeld(err error) bool {
	for _, e := range multierr.Errors(err) {
		if !errors.Is(e, common.ErrNoDestination) && !errors.Is(e, common.ErrNotResolvable) &&
			!errors.Is(e, common.ErrNotConnected) {
			return false
		}
	}
	return true
}
