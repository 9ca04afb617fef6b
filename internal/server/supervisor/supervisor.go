// Package supervisor owns the connection to the payment node.
//
// It is the only holder of the live lightning.Session. Other components ask
// for the current handle through Node, which fails with
// common.ErrNotConnected while the supervisor is not ready.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/zapzap/internal/common"
	"github.com/dmitrijs2005/zapzap/internal/lightning"
	"github.com/dmitrijs2005/zapzap/internal/logging"
	"github.com/sethvargo/go-retry"
)

// Supervisor connects, watches the session and reconnects with a fixed
// delay until its context is cancelled.
type Supervisor struct {
	connector lightning.Connector
	delay     time.Duration
	log       logging.Logger

	mu        sync.RWMutex
	session   lightning.Session
	ready     bool
	listeners []func(ready bool)

	wg sync.WaitGroup
}

func New(connector lightning.Connector, delay time.Duration, log logging.Logger) *Supervisor {
	return &Supervisor{
		connector: connector,
		delay:     delay,
		log:       log.With("module", "supervisor"),
	}
}

// OnReadyChange registers fn to be called on every readiness transition.
// Listeners must be registered before Start.
func (s *Supervisor) OnReadyChange(fn func(ready bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Start makes the first restore-only connection attempt synchronously and
// then hands over to a background loop that keeps the connection alive.
// A failed first attempt is not an error: the loop retries. Start reports
// whether the node is ready on return.
func (s *Supervisor) Start(ctx context.Context, handler lightning.EventHandler) bool {
	err := s.connect(ctx, handler)
	if err != nil {
		s.log.Warn(ctx, "initial node connection failed, retrying in background", "error", err, "delay", s.delay)
	}

	s.wg.Add(1)
	go s.run(ctx, handler, err != nil)

	return err == nil
}

// Wait blocks until the background loop has exited and the session is
// closed.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

func (s *Supervisor) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// Node returns the current node handle.
func (s *Supervisor) Node() (lightning.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.ready || s.session == nil {
		return nil, common.ErrNotConnected
	}
	return s.session, nil
}

func (s *Supervisor) connect(ctx context.Context, handler lightning.EventHandler) error {
	sess, err := s.connector.Connect(ctx, lightning.ConnectOptions{RestoreOnly: true}, handler)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.session = sess
	s.mu.Unlock()

	s.log.Info(ctx, "connected to payment node")
	s.setReady(true)
	return nil
}

func (s *Supervisor) disconnect(sess lightning.Session) {
	s.mu.Lock()
	if s.session == sess {
		s.session = nil
	}
	s.mu.Unlock()

	s.setReady(false)
	_ = sess.Close()
}

func (s *Supervisor) setReady(v bool) {
	s.mu.Lock()
	if s.ready == v {
		s.mu.Unlock()
		return
	}
	s.ready = v
	listeners := make([]func(bool), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(v)
	}
}

func (s *Supervisor) current() lightning.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

func (s *Supervisor) backoff() retry.Backoff {
	return retry.BackoffFunc(func() (time.Duration, bool) {
		return s.delay, false
	})
}

func (s *Supervisor) run(ctx context.Context, handler lightning.EventHandler, wait bool) {
	defer s.wg.Done()

	for {
		sess := s.current()
		if sess == nil {
			if wait && !sleep(ctx, s.delay) {
				return
			}

			err := retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
				if err := s.connect(ctx, handler); err != nil {
					s.log.Warn(ctx, "node connection attempt failed", "error", err)
					return retry.RetryableError(err)
				}
				return nil
			})
			if err != nil {
				return
			}
			sess = s.current()
		}

		select {
		case <-ctx.Done():
			s.disconnect(sess)
			s.log.Info(context.WithoutCancel(ctx), "node connection closed")
			return
		case <-sess.Done():
			s.log.Warn(ctx, "node connection lost", "error", sess.Err())
			s.disconnect(sess)
			wait = false
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
