// Package payout turns a recipient's payout address into a payment
// destination.
//
// Supported inputs are raw BOLT12 offers (lno1...) and human-readable
// user@domain addresses. An address is resolved first through the DNS TXT
// record {user}.user._bitcoin-payment.{domain} carrying a bitcoin: URI with
// an lno parameter, then through the LNURL-pay document at
// https://{domain}/.well-known/lnurlp/{user}. Nothing is cached.
package payout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/zapzap/internal/common"
	"github.com/dmitrijs2005/zapzap/internal/lightning"
	"github.com/dmitrijs2005/zapzap/internal/logging"
	"go.uber.org/multierr"
)

const offerPrefix = "lno1"

var addressRe = regexp.MustCompile(`^[^@\s]+@[a-zA-Z0-9.-]+$`)

var (
	errNoOffer    = errors.New("no offer in TXT records")
	errBadLNURL   = errors.New("invalid lnurl-pay response")
	errOutOfRange = errors.New("amount outside sendable range")
)

// Resolver resolves payout addresses. The zero value is not usable; call
// New.
type Resolver struct {
	lookupTXT func(ctx context.Context, name string) ([]string, error)
	client    *http.Client
	// wellKnown builds the LNURL-pay document URL.
	wellKnown func(user, domain string) string
	timeout   time.Duration
	log       logging.Logger
}

func New(timeout time.Duration, log logging.Logger) *Resolver {
	return &Resolver{
		lookupTXT: net.DefaultResolver.LookupTXT,
		client:    &http.Client{Timeout: timeout},
		wellKnown: func(user, domain string) string {
			return "https://" + domain + "/.well-known/lnurlp/" + url.PathEscape(user)
		},
		timeout: timeout,
		log:     log.With("module", "payout"),
	}
}

// IsOffer reports whether s is a raw BOLT12 offer.
func IsOffer(s string) bool {
	return strings.HasPrefix(strings.ToLower(s), offerPrefix)
}

// SplitAddress splits user@domain.
func SplitAddress(s string) (user, domain string, ok bool) {
	if !addressRe.MatchString(s) {
		return "", "", false
	}
	user, domain, _ = strings.Cut(s, "@")
	return user, domain, true
}

// Resolve returns the destination to pay amountSats to address. Any failure
// is reported as common.ErrNotResolvable.
func (r *Resolver) Resolve(ctx context.Context, address string, amountSats int64) (lightning.Destination, error) {
	address = strings.TrimSpace(address)

	if IsOffer(address) {
		return lightning.Destination{Kind: lightning.DestinationOffer, Value: address}, nil
	}

	user, domain, ok := SplitAddress(address)
	if !ok {
		return lightning.Destination{}, fmt.Errorf("%w: unsupported address format %q", common.ErrNotResolvable, address)
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	offer, dnsErr := r.offerFromDNS(ctx, user, domain)
	if dnsErr == nil {
		return lightning.Destination{Kind: lightning.DestinationOffer, Value: offer}, nil
	}
	r.log.Debug(ctx, "dns offer lookup failed", "address", address, "error", dnsErr)

	invoice, lnurlErr := r.invoiceFromLNURL(ctx, user, domain, amountSats)
	if lnurlErr == nil {
		return lightning.Destination{Kind: lightning.DestinationInvoice, Value: invoice}, nil
	}
	r.log.Debug(ctx, "lnurl-pay lookup failed", "address", address, "error", lnurlErr)

	return lightning.Destination{}, fmt.Errorf("%w: %w", common.ErrNotResolvable, multierr.Combine(dnsErr, lnurlErr))
}

func (r *Resolver) offerFromDNS(ctx context.Context, user, domain string) (string, error) {
	records, err := r.lookupTXT(ctx, user+".user._bitcoin-payment."+domain)
	if err != nil {
		return "", err
	}

	for _, rec := range records {
		if offer := offerFromURI(rec); offer != "" {
			return offer, nil
		}
	}
	return "", errNoOffer
}

// offerFromURI extracts the lno parameter of a bitcoin: payment URI.
func offerFromURI(s string) string {
	s = strings.TrimSpace(s)
	if len(s) < len("bitcoin:") || !strings.EqualFold(s[:len("bitcoin:")], "bitcoin:") {
		return ""
	}

	_, query, _ := strings.Cut(s, "?")
	vals, err := url.ParseQuery(query)
	if err != nil {
		return ""
	}
	for k, v := range vals {
		if strings.EqualFold(k, "lno") && len(v) > 0 && IsOffer(v[0]) {
			return v[0]
		}
	}
	return ""
}

type payParams struct {
	Callback    string `json:"callback"`
	MinSendable int64  `json:"minSendable"`
	MaxSendable int64  `json:"maxSendable"`
	Tag         string `json:"tag"`
	Status      string `json:"status"`
	Reason      string `json:"reason"`
}

type payResponse struct {
	PR     string `json:"pr"`
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (r *Resolver) invoiceFromLNURL(ctx context.Context, user, domain string, amountSats int64) (string, error) {
	var params payParams
	if err := r.getJSON(ctx, r.wellKnown(user, domain), &params); err != nil {
		return "", err
	}
	if strings.EqualFold(params.Status, "ERROR") {
		return "", fmt.Errorf("%w: %s", errBadLNURL, params.Reason)
	}
	if params.Callback == "" || params.MinSendable <= 0 || params.MaxSendable < params.MinSendable {
		return "", fmt.Errorf("%w: missing callback or sendable range", errBadLNURL)
	}

	msat := amountSats * 1000
	if msat < params.MinSendable || msat > params.MaxSendable {
		return "", fmt.Errorf("%w: %d msat not in [%d, %d]", errOutOfRange, msat, params.MinSendable, params.MaxSendable)
	}

	cb, err := url.Parse(params.Callback)
	if err != nil {
		return "", fmt.Errorf("%w: bad callback: %w", errBadLNURL, err)
	}
	q := cb.Query()
	q.Set("amount", strconv.FormatInt(msat, 10))
	cb.RawQuery = q.Encode()

	var pay payResponse
	if err := r.getJSON(ctx, cb.String(), &pay); err != nil {
		return "", err
	}
	if strings.EqualFold(pay.Status, "ERROR") || pay.PR == "" {
		return "", fmt.Errorf("%w: no invoice: %s", errBadLNURL, pay.Reason)
	}
	return pay.PR, nil
}

func (r *Resolver) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s: unexpected status %d", u, resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
