// Package restnode binds lightning.Connector to a payment node gateway that
// exposes a JSON REST API and an NDJSON event stream.
//
// Endpoints used:
//
//	POST /v1/node/connect   {"restore_only": bool}
//	POST /v1/invoices       {"amount_sats", "description"}
//	POST /v1/payments       {"destination_type", "destination", "amount_sats"}
//	GET  /v1/payments?type=received&status=complete&from_timestamp=<unix>
//	GET  /v1/events         one JSON event per line
//
// Every request carries the API key in the X-Api-Key header.
package restnode

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const apiKeyHeader = "X-Api-Key"

// ErrNotInitialized is returned by a restore-only connect when the gateway
// has no node to restore.
var ErrNotInitialized = errors.New("restnode: node not initialized")

// APIError is a non-2xx answer of the gateway.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("restnode: status %d: %s", e.StatusCode, e.Message)
}

type client struct {
	baseURL string
	apiKey  string
	hc      *http.Client
}

func (c *client) url(path string) string {
	return strings.TrimRight(c.baseURL, "/") + path
}

func (c *client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), rd)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}

// Connector opens sessions against one gateway.
type Connector struct {
	c *client
	// stream has no overall timeout; the event stream lives as long as the
	// session.
	stream *http.Client
}

// New returns a Connector for the gateway at baseURL. requestTimeout bounds
// every request except the event stream.
func New(baseURL, apiKey string, requestTimeout time.Duration) *Connector {
	return &Connector{
		c: &client{
			baseURL: baseURL,
			apiKey:  apiKey,
			hc:      &http.Client{Timeout: requestTimeout},
		},
		stream: &http.Client{},
	}
}
