package payout

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dmitrijs2005/zapzap/internal/common"
	"github.com/dmitrijs2005/zapzap/internal/lightning"
	"github.com/dmitrijs2005/zapzap/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver(t *testing.T, txt map[string][]string, handler http.Handler) *Resolver {
	t.Helper()

	r := New(time.Second, logging.Nop())
	r.lookupTXT = func(ctx context.Context, name string) ([]string, error) {
		if recs, ok := txt[name]; ok {
			return recs, nil
		}
		return nil, errors.New("no such host")
	}

	if handler != nil {
		srv := httptest.NewServer(handler)
		t.Cleanup(srv.Close)
		r.wellKnown = func(user, domain string) string {
			return srv.URL + "/.well-known/lnurlp/" + user
		}
	}
	return r
}

func lnurlServer(minMsat, maxMsat int64) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/lnurlp/alice", func(w http.ResponseWriter, r *http.Request) {
		base := "http://" + r.Host
		_ = json.NewEncoder(w).Encode(map[string]any{
			"callback":    base + "/cb?user=alice",
			"minSendable": minMsat,
			"maxSendable": maxMsat,
			"tag":         "payRequest",
		})
	})
	mux.HandleFunc("/cb", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("user") != "alice" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"pr": "lnbc" + r.URL.Query().Get("amount")})
	})
	mux.HandleFunc("/.well-known/lnurlp/broken", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"tag":"payRequest"}`))
	})
	return mux
}

func TestResolve_RawOffer(t *testing.T) {
	r := newTestResolver(t, nil, nil)

	got, err := r.Resolve(context.Background(), "  LNO1qqsabc ", 10)
	require.NoError(t, err)
	assert.Equal(t, lightning.Destination{Kind: lightning.DestinationOffer, Value: "LNO1qqsabc"}, got)
}

func TestResolve_DNSOffer(t *testing.T) {
	r := newTestResolver(t, map[string][]string{
		"alice.user._bitcoin-payment.example.com": {"v=spf1 -all", "bitcoin:?lno=lno1zzz"},
	}, nil)

	got, err := r.Resolve(context.Background(), "alice@example.com", 10)
	require.NoError(t, err)
	assert.Equal(t, lightning.Destination{Kind: lightning.DestinationOffer, Value: "lno1zzz"}, got)
}

func TestResolve_FallsBackToLNURL(t *testing.T) {
	r := newTestResolver(t, map[string][]string{
		"alice.user._bitcoin-payment.example.com": {"bitcoin:bc1qxyz?amount=1"},
	}, lnurlServer(1000, 1_000_000))

	got, err := r.Resolve(context.Background(), "alice@example.com", 500)
	require.NoError(t, err)
	assert.Equal(t, lightning.Destination{Kind: lightning.DestinationInvoice, Value: "lnbc500000"}, got)
}

func TestResolve_NotResolvable(t *testing.T) {
	tests := []struct {
		name    string
		address string
		amount  int64
	}{
		{name: "bad format", address: "not an address", amount: 10},
		{name: "amount above max", address: "alice@example.com", amount: 5000},
		{name: "missing fields", address: "broken@example.com", amount: 10},
		{name: "unknown user", address: "bob@example.com", amount: 10},
	}

	r := newTestResolver(t, nil, lnurlServer(1000, 1_000_000))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(context.Background(), tt.address, tt.amount)
			assert.ErrorIs(t, err, common.ErrNotResolvable)
		})
	}
}

func TestOfferFromURI(t *testing.T) {
	assert.Equal(t, "lno1abc", offerFromURI("BITCOIN:?LNO=lno1abc"))
	assert.Equal(t, "lno1abc", offerFromURI("bitcoin:bc1q?amount=1&lno=lno1abc"))
	assert.Equal(t, "", offerFromURI("bitcoin:?lno=notanoffer"))
	assert.Equal(t, "", offerFromURI("lno1abc"))
}

func TestSplitAddress(t *testing.T) {
	u, d, ok := SplitAddress("alice@pay.example.com")
	assert.True(t, ok)
	assert.Equal(t, "alice", u)
	assert.Equal(t, "pay.example.com", d)

	_, _, ok = SplitAddress("alice@exa mple.com")
	assert.False(t, ok)
}
