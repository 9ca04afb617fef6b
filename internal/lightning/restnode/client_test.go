package restnode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/zapzap/internal/lightning"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gateway struct {
	initialized bool
	events      chan string

	mu       sync.Mutex
	payments []paymentRequest
	query    string
}

func newGateway(t *testing.T) (*gateway, *httptest.Server) {
	g := &gateway{initialized: true, events: make(chan string, 8)}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/node/connect", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(apiKeyHeader) != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "bad api key"})
			return
		}
		_ = json.NewEncoder(w).Encode(connectResponse{NodeID: "node-1", Initialized: g.initialized})
	})
	mux.HandleFunc("GET /v1/events", func(w http.ResponseWriter, r *http.Request) {
		fl := w.(http.Flusher)
		w.WriteHeader(http.StatusOK)
		fl.Flush()
		for {
			select {
			case line, ok := <-g.events:
				if !ok {
					return
				}
				fmt.Fprintln(w, line)
				fl.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
	mux.HandleFunc("POST /v1/invoices", func(w http.ResponseWriter, r *http.Request) {
		var req invoiceRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(invoiceResponse{PaymentID: "pay-1", Invoice: fmt.Sprintf("lnbc%d", req.AmountSats), FeeSats: 2})
	})
	mux.HandleFunc("POST /v1/payments", func(w http.ResponseWriter, r *http.Request) {
		var req paymentRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Destination == "broke@example.com" {
			w.WriteHeader(http.StatusBadGateway)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "no route"})
			return
		}
		if req.Destination == "blank@example.com" {
			_ = json.NewEncoder(w).Encode(paymentResponse{})
			return
		}
		g.mu.Lock()
		g.payments = append(g.payments, req)
		g.mu.Unlock()
		_ = json.NewEncoder(w).Encode(paymentResponse{PaymentID: "out-1"})
	})
	mux.HandleFunc("GET /v1/payments", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		g.query = r.URL.RawQuery
		g.mu.Unlock()
		_, _ = w.Write([]byte(`{"payments":[
			{"payment_id":"a","timestamp":1700000000,"status":"complete"},
			{"payment_id":"b","timestamp":1700000100,"status":"pending"}]}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return g, srv
}

type recorder struct {
	ch chan lightning.Event
}

func (r *recorder) OnEvent(ctx context.Context, ev lightning.Event) { r.ch <- ev }

func TestConnect_StreamsEvents(t *testing.T) {
	g, srv := newGateway(t)
	rec := &recorder{ch: make(chan lightning.Event, 4)}

	s, err := New(srv.URL, "secret", time.Second).Connect(context.Background(), lightning.ConnectOptions{RestoreOnly: true}, rec)
	require.NoError(t, err)
	assert.Equal(t, "node-1", s.(*Session).NodeID())

	g.events <- `{"type":"payment_received","payment_id":"p1"}`
	g.events <- `not json`
	g.events <- `{"type":"payment_sent","payment_id":"p2","destination":"a@b.c"}`

	first := <-rec.ch
	assert.Equal(t, lightning.Event{Type: lightning.EventPaymentReceived, PaymentID: "p1"}, first)
	second := <-rec.ch
	assert.Equal(t, "a@b.c", second.Destination)

	close(g.events)
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end with the stream")
	}
	assert.Error(t, s.Err())
}

func TestConnect_RestoreOnlyUninitialized(t *testing.T) {
	g, srv := newGateway(t)
	g.initialized = false

	_, err := New(srv.URL, "secret", time.Second).Connect(context.Background(), lightning.ConnectOptions{RestoreOnly: true}, nil)
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestConnect_BadKey(t *testing.T) {
	_, srv := newGateway(t)

	_, err := New(srv.URL, "wrong", time.Second).Connect(context.Background(), lightning.ConnectOptions{}, nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "bad api key", apiErr.Message)
}

func TestSession_Calls(t *testing.T) {
	g, srv := newGateway(t)

	s, err := New(srv.URL+"/", "secret", time.Second).Connect(context.Background(), lightning.ConnectOptions{}, nil)
	require.NoError(t, err)
	defer s.Close()

	inv, err := s.CreateInvoice(context.Background(), 1000, "tip")
	require.NoError(t, err)
	assert.Equal(t, &lightning.Invoice{PaymentID: "pay-1", Bolt11: "lnbc1000", FeeSats: 2}, inv)

	id, err := s.SendPayment(context.Background(), lightning.Destination{Kind: lightning.DestinationOffer, Value: "lno1abc"}, 998)
	require.NoError(t, err)
	assert.Equal(t, "out-1", id)
	g.mu.Lock()
	assert.Equal(t, []paymentRequest{{DestinationType: "bolt12", Destination: "lno1abc", AmountSats: 998}}, g.payments)
	g.mu.Unlock()

	_, err = s.SendPayment(context.Background(), lightning.Destination{Kind: lightning.DestinationAddress, Value: "broke@example.com"}, 1)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "no route", apiErr.Message)

	id, err = s.SendPayment(context.Background(), lightning.Destination{Kind: lightning.DestinationAddress, Value: "blank@example.com"}, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "payment without payment id")
	assert.Empty(t, id)

	_, err = s.SendPayment(context.Background(), lightning.Destination{Value: "x"}, 1)
	assert.ErrorIs(t, err, lightning.ErrUnsupportedDestination)

	list, err := s.ListSettledReceives(context.Background(), time.Unix(1699999999, 0))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "a", list[0].PaymentID)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), list[0].Timestamp)
	g.mu.Lock()
	assert.Contains(t, g.query, "from_timestamp=1699999999")
	g.mu.Unlock()
}

func TestSession_CloseEndsStream(t *testing.T) {
	_, srv := newGateway(t)

	s, err := New(srv.URL, "secret", time.Second).Connect(context.Background(), lightning.ConnectOptions{}, nil)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Err(), context.Canceled)
}
