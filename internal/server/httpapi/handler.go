// Package httpapi is the client-facing HTTP surface: tip creation, payment
// status streams, payout address updates, health and metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/zapzap/internal/common"
	"github.com/dmitrijs2005/zapzap/internal/lightning"
	"github.com/dmitrijs2005/zapzap/internal/logging"
	"github.com/dmitrijs2005/zapzap/internal/server/auth"
	"github.com/dmitrijs2005/zapzap/internal/server/models"
	"github.com/dmitrijs2005/zapzap/internal/server/notify"
	"github.com/dmitrijs2005/zapzap/internal/server/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type TipService interface {
	CreateTip(ctx context.Context, req services.CreateTipRequest) (*models.Tip, *lightning.Invoice, error)
	Get(ctx context.Context, id string) (*models.Tip, error)
}

type PayoutService interface {
	SetPayoutAddress(ctx context.Context, userID, address string) error
	TriggerForwardPending(ctx context.Context, userID string)
}

type Subscriptions interface {
	Subscribe(paymentID string) *notify.Subscription
	Unsubscribe(sub *notify.Subscription)
}

type Readiness interface {
	Ready() bool
}

// Deps are the collaborators of the HTTP handlers.
type Deps struct {
	Tips      TipService
	Payouts   PayoutService
	Hub       Subscriptions
	Node      Readiness
	Gatherer  prometheus.Gatherer
	SecretKey []byte
	Log       logging.Logger
}

type handler struct {
	Deps
}

// NewHandler returns the routed HTTP handler with request logging applied.
func NewHandler(d Deps) http.Handler {
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}
	h := &handler{Deps: d}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /tips", h.createTip)
	mux.HandleFunc("GET /tips/{id}", h.getTip)
	mux.HandleFunc("PUT /users/me/payout-address", h.setPayoutAddress)
	mux.HandleFunc("GET /payments/{paymentID}/events", h.streamEvents)
	mux.HandleFunc("GET /healthz", h.health)
	mux.Handle("GET /metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))

	return loggingMiddleware(d.Log, mux)
}

type createTipRequest struct {
	PostID     string `json:"post_id"`
	SenderID   string `json:"sender_user_id,omitempty"`
	AmountSats int64  `json:"amount_sats"`
	Comment    string `json:"comment,omitempty"`
}

type createTipResponse struct {
	TipID      string `json:"tip_id"`
	Invoice    string `json:"invoice"`
	PaymentID  string `json:"payment_id"`
	FeeSats    int64  `json:"fee_sats"`
	AmountSats int64  `json:"amount_sats"`
}

type tipResponse struct {
	ID               string               `json:"id"`
	PostID           string               `json:"post_id"`
	SenderID         string               `json:"sender_user_id,omitempty"`
	AmountSats       int64                `json:"amount_sats"`
	Comment          string               `json:"comment,omitempty"`
	PaymentID        string               `json:"payment_id"`
	Invoice          string               `json:"invoice"`
	Status           models.PaymentStatus `json:"status"`
	ForwardPaymentID string               `json:"forward_payment_id,omitempty"`
	CreatedAt        time.Time            `json:"created_at"`
}

func (h *handler) createTip(w http.ResponseWriter, r *http.Request) {
	var req createTipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if strings.TrimSpace(req.PostID) == "" {
		writeJSONError(w, http.StatusBadRequest, "post_id is required")
		return
	}

	tip, inv, err := h.Tips.CreateTip(r.Context(), services.CreateTipRequest{
		PostID:     req.PostID,
		SenderID:   req.SenderID,
		AmountSats: req.AmountSats,
		Comment:    req.Comment,
	})
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createTipResponse{
		TipID:      tip.ID,
		Invoice:    inv.Bolt11,
		PaymentID:  inv.PaymentID,
		FeeSats:    inv.FeeSats,
		AmountSats: tip.AmountSats,
	})
}

func (h *handler) getTip(w http.ResponseWriter, r *http.Request) {
	tip, err := h.Tips.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusOK, tipResponse{
		ID:               tip.ID,
		PostID:           tip.PostID,
		SenderID:         tip.SenderID,
		AmountSats:       tip.AmountSats,
		Comment:          tip.Comment,
		PaymentID:        tip.PaymentID,
		Invoice:          tip.Invoice,
		Status:           tip.Status(),
		ForwardPaymentID: tip.ForwardPaymentID,
		CreatedAt:        tip.CreatedAt,
	})
}

func (h *handler) setPayoutAddress(w http.ResponseWriter, r *http.Request) {
	userID, err := h.authenticate(r)
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}

	var body struct {
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if err := h.Payouts.SetPayoutAddress(r.Context(), userID, body.Address); err != nil {
		h.writeError(r.Context(), w, err)
		return
	}

	h.Payouts.TriggerForwardPending(r.Context(), userID)
	w.WriteHeader(http.StatusNoContent)
}

// streamEvents writes one JSON object per line for every status change of
// the payment until the client goes away or the hub drops the subscription.
func (h *handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	paymentID := r.PathValue("paymentID")

	sub := h.Hub.Subscribe(paymentID)
	defer h.Hub.Unsubscribe(sub)

	log := h.Log.With("payment_id", paymentID, "subscriber", sub.ID)
	log.Info(r.Context(), "client subscribed")

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	enc := json.NewEncoder(w)

	for {
		select {
		case <-r.Context().Done():
			log.Info(context.WithoutCancel(r.Context()), "client disconnected")
			return
		case ev, ok := <-sub.Events():
			if !ok {
				log.Info(r.Context(), "subscription closed")
				return
			}
			if err := enc.Encode(ev); err != nil {
				log.Warn(r.Context(), "write event", "error", err)
				return
			}
			if err := rc.Flush(); err != nil {
				log.Warn(r.Context(), "flush event", "error", err)
				return
			}
		}
	}
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"node_ready": h.Node.Ready()})
}

// authenticate extracts the user id from a Bearer access token.
func (h *handler) authenticate(r *http.Request) (string, error) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return "", common.ErrorUnauthorized
	}
	return auth.GetUserIDFromToken(strings.TrimSpace(token), h.SecretKey)
}

func (h *handler) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, common.ErrorNotFound):
		writeJSONError(w, http.StatusNotFound, "not found")
	case errors.Is(err, common.ErrorUnauthorized),
		errors.Is(err, common.ErrInvalidToken),
		errors.Is(err, common.ErrTokenExpired):
		writeJSONError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, common.ErrNotConnected):
		writeJSONError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, common.ErrInvalidAmount), errors.Is(err, common.ErrInvalidAddress):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	default:
		h.Log.Error(ctx, "request failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, common.ErrorInternal.Error())
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
