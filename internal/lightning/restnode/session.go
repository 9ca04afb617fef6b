package restnode

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/dmitrijs2005/zapzap/internal/lightning"
)

type connectRequest struct {
	RestoreOnly bool `json:"restore_only"`
}

type connectResponse struct {
	NodeID      string `json:"node_id"`
	Initialized bool   `json:"initialized"`
}

type invoiceRequest struct {
	AmountSats  int64  `json:"amount_sats"`
	Description string `json:"description"`
}

type invoiceResponse struct {
	PaymentID string `json:"payment_id"`
	Invoice   string `json:"invoice"`
	FeeSats   int64  `json:"fee_sats"`
}

type paymentRequest struct {
	DestinationType string `json:"destination_type"`
	Destination     string `json:"destination"`
	AmountSats      int64  `json:"amount_sats"`
}

type paymentResponse struct {
	PaymentID string `json:"payment_id"`
}

type historyResponse struct {
	Payments []struct {
		PaymentID string `json:"payment_id"`
		Timestamp int64  `json:"timestamp"`
		Status    string `json:"status"`
	} `json:"payments"`
}

type wireEvent struct {
	Type        string `json:"type"`
	PaymentID   string `json:"payment_id"`
	Destination string `json:"destination"`
}

func destinationType(k lightning.DestinationKind) (string, error) {
	switch k {
	case lightning.DestinationInvoice:
		return "bolt11", nil
	case lightning.DestinationOffer:
		return "bolt12", nil
	case lightning.DestinationAddress:
		return "address", nil
	default:
		return "", lightning.ErrUnsupportedDestination
	}
}

// Connect registers with the gateway and opens the event stream. Events are
// handed to handler one by one from a single reader goroutine.
func (cn *Connector) Connect(ctx context.Context, opts lightning.ConnectOptions, handler lightning.EventHandler) (lightning.Session, error) {
	var info connectResponse
	err := cn.c.do(ctx, http.MethodPost, "/v1/node/connect", connectRequest{RestoreOnly: opts.RestoreOnly}, &info)
	if err != nil {
		return nil, err
	}
	if opts.RestoreOnly && !info.Initialized {
		return nil, ErrNotInitialized
	}

	// The stream outlives ctx, which only bounds the connect call.
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	req, err := cn.c.newRequest(streamCtx, http.MethodGet, "/v1/events", nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := cn.stream.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open event stream: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		resp.Body.Close()
		cancel()
		return nil, err
	}

	s := &Session{
		c:      cn.c,
		nodeID: info.NodeID,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.read(streamCtx, resp.Body, handler)
	return s, nil
}

// Session is one connection to the gateway.
type Session struct {
	c      *client
	nodeID string
	cancel context.CancelFunc

	mu   sync.Mutex
	err  error
	done chan struct{}
}

var _ lightning.Session = (*Session)(nil)

// NodeID reported by the gateway on connect.
func (s *Session) NodeID() string { return s.nodeID }

func (s *Session) read(ctx context.Context, body io.ReadCloser, handler lightning.EventHandler) {
	defer body.Close()

	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var err error
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev wireEvent
		if jerr := json.Unmarshal(line, &ev); jerr != nil {
			continue
		}
		if handler != nil {
			handler.OnEvent(ctx, lightning.Event{
				Type:        lightning.EventType(ev.Type),
				PaymentID:   ev.PaymentID,
				Destination: ev.Destination,
			})
		}
	}
	err = sc.Err()
	if err == nil {
		err = io.EOF
	}
	if ctx.Err() != nil {
		err = context.Canceled
	}
	s.finish(fmt.Errorf("event stream closed: %w", err))
}

func (s *Session) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return
	default:
	}
	s.err = err
	close(s.done)
}

func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the event stream and waits for the reader to exit.
func (s *Session) Close() error {
	s.cancel()
	<-s.done
	return nil
}

func (s *Session) CreateInvoice(ctx context.Context, amountSats int64, description string) (*lightning.Invoice, error) {
	var out invoiceResponse
	err := s.c.do(ctx, http.MethodPost, "/v1/invoices", invoiceRequest{AmountSats: amountSats, Description: description}, &out)
	if err != nil {
		return nil, err
	}
	if out.PaymentID == "" {
		return nil, errors.New("restnode: invoice without payment id")
	}
	return &lightning.Invoice{PaymentID: out.PaymentID, Bolt11: out.Invoice, FeeSats: out.FeeSats}, nil
}

func (s *Session) SendPayment(ctx context.Context, dest lightning.Destination, amountSats int64) (string, error) {
	kind, err := destinationType(dest.Kind)
	if err != nil {
		return "", err
	}

	var out paymentResponse
	err = s.c.do(ctx, http.MethodPost, "/v1/payments", paymentRequest{
		DestinationType: kind,
		Destination:     dest.Value,
		AmountSats:      amountSats,
	}, &out)
	if err != nil {
		return "", err
	}
	if out.PaymentID == "" {
		return "", errors.New("restnode: payment without payment id")
	}
	return out.PaymentID, nil
}

func (s *Session) ListSettledReceives(ctx context.Context, since time.Time) ([]lightning.Payment, error) {
	q := url.Values{}
	q.Set("type", "received")
	q.Set("status", "complete")
	q.Set("from_timestamp", strconv.FormatInt(since.Unix(), 10))

	var out historyResponse
	if err := s.c.do(ctx, http.MethodGet, "/v1/payments?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}

	result := make([]lightning.Payment, 0, len(out.Payments))
	for _, p := range out.Payments {
		if lightning.PaymentStatus(p.Status) != lightning.PaymentComplete {
			continue
		}
		result = append(result, lightning.Payment{
			PaymentID: p.PaymentID,
			Timestamp: time.Unix(p.Timestamp, 0).UTC(),
			Status:    lightning.PaymentComplete,
		})
	}
	return result, nil
}
