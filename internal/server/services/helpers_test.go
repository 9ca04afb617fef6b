package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/zapzap/internal/common"
	"github.com/dmitrijs2005/zapzap/internal/lightning"
	"github.com/dmitrijs2005/zapzap/internal/lightning/lightningtest"
	"github.com/dmitrijs2005/zapzap/internal/logging"
	"github.com/dmitrijs2005/zapzap/internal/server/metrics"
	"github.com/dmitrijs2005/zapzap/internal/server/models"
	"github.com/dmitrijs2005/zapzap/internal/server/notify"
	"github.com/dmitrijs2005/zapzap/internal/server/repositories/memstore"
	"github.com/stretchr/testify/require"
)

const (
	recipientID = "u-recipient"
	postID      = "post-1"
)

// nodeHandle is a NodeSource that can be switched off.
type nodeHandle struct {
	mu   sync.Mutex
	node lightning.Node
}

func (h *nodeHandle) Node() (lightning.Node, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.node == nil {
		return nil, common.ErrNotConnected
	}
	return h.node, nil
}

func (h *nodeHandle) set(n lightning.Node) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.node = n
}

type fakeResolver struct {
	mu    sync.Mutex
	calls []string
	fn    func(address string) (lightning.Destination, error)
}

func (r *fakeResolver) Resolve(ctx context.Context, address string, amountSats int64) (lightning.Destination, error) {
	r.mu.Lock()
	r.calls = append(r.calls, address)
	fn := r.fn
	r.mu.Unlock()

	if fn != nil {
		return fn(address)
	}
	return lightning.Destination{Kind: lightning.DestinationOffer, Value: "lno1" + address}, nil
}

type recordingDispatcher struct {
	mu  sync.Mutex
	ids []string
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, tipID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = append(d.ids, tipID)
}

func (d *recordingDispatcher) dispatched() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.ids...)
}

type env struct {
	store    *memstore.Store
	node     *lightningtest.Node
	nodes    *nodeHandle
	hub      *notify.Hub
	resolver *fakeResolver
	metrics  *metrics.Metrics

	tips      *TipService
	forwarder *Forwarder
	async     *AsyncForwarder
	settle    *SettlementService
	payout    *PayoutService
}

// newEnv wires the services over memstore and the fake node. When dispatch
// is nil settlements dispatch through a real AsyncForwarder.
func newEnv(t *testing.T, dispatch Dispatcher) *env {
	t.Helper()

	e := &env{
		store:    memstore.New(),
		node:     lightningtest.New(),
		nodes:    &nodeHandle{},
		hub:      notify.NewHub(8, 30*time.Minute, logging.Nop()),
		resolver: &fakeResolver{},
		metrics:  metrics.Nop(),
	}
	log := logging.Nop()

	e.store.AddUser(models.User{ID: recipientID, UserName: "author"})
	e.store.AddPost(models.Post{ID: postID, AuthorID: recipientID})

	e.tips = NewTipService(e.store, e.nodes, log)
	e.forwarder = NewForwarder(e.store, e.nodes, e.resolver, e.hub, e.metrics, 5*time.Second, log)
	e.async = NewAsyncForwarder(e.forwarder, 5*time.Second, log)
	if dispatch == nil {
		dispatch = e.async
	}
	e.settle = NewSettlementService(e.store, e.hub, dispatch, e.metrics, log)
	e.payout = NewPayoutService(e.store, e.forwarder, log)

	sess, err := e.node.Connect(context.Background(), lightning.ConnectOptions{}, e.settle)
	require.NoError(t, err)
	e.nodes.set(sess)

	t.Cleanup(func() {
		e.async.Wait()
		e.payout.Wait()
		e.forwarder.Wait()
	})
	return e
}

func (e *env) createTip(t *testing.T, amount int64) *models.Tip {
	t.Helper()
	tip, _, err := e.tips.CreateTip(context.Background(), CreateTipRequest{PostID: postID, AmountSats: amount})
	require.NoError(t, err)
	return tip
}

func (e *env) tip(t *testing.T, id string) *models.Tip {
	t.Helper()
	tip, err := e.store.Repos().Tips().Get(context.Background(), id)
	require.NoError(t, err)
	return tip
}

func (e *env) markReceived(t *testing.T, tip *models.Tip) {
	t.Helper()
	_, err := e.settle.ApplySettlement(context.Background(), tip.PaymentID)
	require.NoError(t, err)
}

func (e *env) setAddress(t *testing.T, address string) {
	t.Helper()
	require.NoError(t, e.payout.SetPayoutAddress(context.Background(), recipientID, address))
}

func statuses(sub *notify.Subscription) []models.PaymentStatus {
	var out []models.PaymentStatus
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return out
			}
			out = append(out, ev.Status)
		default:
			return out
		}
	}
}
