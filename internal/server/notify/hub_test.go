package notify

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/zapzap/internal/logging"
	"github.com/dmitrijs2005/zapzap/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestHub(buffer int) (*Hub, *clock) {
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	h := NewHub(buffer, 30*time.Minute, logging.Nop())
	h.now = c.now
	return h, c
}

func drain(ch <-chan models.StatusEvent) []models.PaymentStatus {
	var out []models.PaymentStatus
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev.Status)
		default:
			return out
		}
	}
}

func TestSubscribe_SendsConnectedAck(t *testing.T) {
	h, _ := newTestHub(4)

	sub := h.Subscribe("p1")
	ev := <-sub.Events()
	assert.Equal(t, models.StatusConnected, ev.Status)
	assert.Equal(t, "p1", ev.PaymentID)
	assert.Equal(t, 1, h.Len())
}

func TestPublish_FanOutPerPayment(t *testing.T) {
	h, _ := newTestHub(4)

	a := h.Subscribe("p1")
	b := h.Subscribe("p1")
	other := h.Subscribe("p2")

	assert.Equal(t, 2, h.Publish("p1", models.StatusReceived))
	assert.Equal(t, 0, h.Publish("nobody", models.StatusReceived))

	assert.Equal(t, []models.PaymentStatus{models.StatusConnected, models.StatusReceived}, drain(a.Events()))
	assert.Equal(t, []models.PaymentStatus{models.StatusConnected, models.StatusReceived}, drain(b.Events()))
	assert.Equal(t, []models.PaymentStatus{models.StatusConnected}, drain(other.Events()))
}

func TestPublish_SlowSubscriberDropped(t *testing.T) {
	h, _ := newTestHub(1)

	slow := h.Subscribe("p1")
	fast := h.Subscribe("p1")
	<-fast.Events()

	assert.Equal(t, 1, h.Publish("p1", models.StatusReceived))
	assert.Equal(t, 1, h.Len())

	// the ack is still readable, then the channel is closed
	ev, ok := <-slow.Events()
	require.True(t, ok)
	assert.Equal(t, models.StatusConnected, ev.Status)
	_, ok = <-slow.Events()
	assert.False(t, ok)

	assert.Equal(t, models.StatusReceived, (<-fast.Events()).Status)
}

func TestCleanup_RemovesStaleAfterThirtyOneMinutes(t *testing.T) {
	h, c := newTestHub(4)

	old := h.Subscribe("p1")
	c.t = c.t.Add(20 * time.Minute)
	young := h.Subscribe("p2")

	c.t = c.t.Add(11 * time.Minute)
	assert.Equal(t, 1, h.Cleanup())
	assert.Equal(t, 1, h.Len())

	assert.NotPanics(t, func() {
		assert.Equal(t, 0, h.Publish("p1", models.StatusReceived))
	})
	assert.Equal(t, []models.PaymentStatus{models.StatusConnected}, drain(old.Events()))
	_, ok := <-old.Events()
	assert.False(t, ok)

	assert.Equal(t, 1, h.Publish("p2", models.StatusForwarded))
	assert.Equal(t, []models.PaymentStatus{models.StatusConnected, models.StatusForwarded}, drain(young.Events()))

	h.mu.Lock()
	_, hasKey := h.subs["p1"]
	h.mu.Unlock()
	assert.False(t, hasKey)
}

func TestUnsubscribe_Idempotent(t *testing.T) {
	h, _ := newTestHub(2)

	sub := h.Subscribe("p1")
	h.Unsubscribe(sub)
	assert.NotPanics(t, func() { h.Unsubscribe(sub) })
	assert.Equal(t, 0, h.Len())
}

func TestRun_ClosesSubscribersOnCancel(t *testing.T) {
	h, _ := newTestHub(2)
	sub := h.Subscribe("p1")
	<-sub.Events()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx, time.Hour)
		close(done)
	}()
	cancel()
	<-done

	_, ok := <-sub.Events()
	assert.False(t, ok)
	assert.Equal(t, 0, h.Len())
}
