package services

import (
	"context"
	"sync"
	"testing"

	"github.com/dmitrijs2005/zapzap/internal/lightning"
	"github.com/dmitrijs2005/zapzap/internal/server/models"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplySettlement_DuplicatesApplyOnce(t *testing.T) {
	d := &recordingDispatcher{}
	e := newEnv(t, d)
	tip := e.createTip(t, 1000)

	var outcomes []Outcome
	for i := 0; i < 5; i++ {
		out, err := e.settle.ApplySettlement(context.Background(), tip.PaymentID)
		require.NoError(t, err)
		outcomes = append(outcomes, out)
	}

	assert.Equal(t, []Outcome{OutcomeApplied, OutcomeDuplicate, OutcomeDuplicate, OutcomeDuplicate, OutcomeDuplicate}, outcomes)
	assert.Equal(t, []string{tip.ID}, d.dispatched())
	assert.True(t, e.tip(t, tip.ID).Received)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.SettlementsApplied))
	assert.Equal(t, 4.0, testutil.ToFloat64(e.metrics.SettlementsDuplicate))
}

func TestApplySettlement_ConcurrentDuplicatesDispatchOnce(t *testing.T) {
	d := &recordingDispatcher{}
	e := newEnv(t, d)
	tip := e.createTip(t, 1000)

	const workers = 16
	results := make(chan Outcome, workers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			out, err := e.settle.ApplySettlement(context.Background(), tip.PaymentID)
			assert.NoError(t, err)
			results <- out
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	applied := 0
	for out := range results {
		if out == OutcomeApplied {
			applied++
		}
	}
	assert.Equal(t, 1, applied)
	assert.Len(t, d.dispatched(), 1)
}

func TestApplySettlement_UnknownPaymentDiscarded(t *testing.T) {
	d := &recordingDispatcher{}
	e := newEnv(t, d)

	out, err := e.settle.ApplySettlement(context.Background(), "foreign")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnknown, out)
	assert.Empty(t, d.dispatched())
}

func TestApplySettlement_DuplicateReemitsStatus(t *testing.T) {
	e := newEnv(t, &recordingDispatcher{})
	tip := e.createTip(t, 1000)
	e.markReceived(t, tip)

	// a client that reconnected after the first push
	sub := e.hub.Subscribe(tip.PaymentID)
	out, err := e.settle.ApplySettlement(context.Background(), tip.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, out)
	assert.Equal(t, []models.PaymentStatus{models.StatusConnected, models.StatusReceived}, statuses(sub))
}

func TestOnEvent_OnlyReceivedPaymentsApply(t *testing.T) {
	d := &recordingDispatcher{}
	e := newEnv(t, d)
	tip := e.createTip(t, 1000)

	ctx := context.Background()
	e.settle.OnEvent(ctx, lightning.Event{Type: lightning.EventPaymentSent, PaymentID: tip.PaymentID})
	e.settle.OnEvent(ctx, lightning.Event{Type: lightning.EventPaymentReceived})
	assert.False(t, e.tip(t, tip.ID).Received)

	require.True(t, e.node.Receive(ctx, tip.PaymentID))
	assert.True(t, e.tip(t, tip.ID).Received)
	assert.Equal(t, []string{tip.ID}, d.dispatched())
}
