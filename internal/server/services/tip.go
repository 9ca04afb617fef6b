package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/zapzap/internal/common"
	"github.com/dmitrijs2005/zapzap/internal/lightning"
	"github.com/dmitrijs2005/zapzap/internal/logging"
	"github.com/dmitrijs2005/zapzap/internal/server/models"
	"github.com/dmitrijs2005/zapzap/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

// CreateTipRequest is a payer's request to tip a post.
type CreateTipRequest struct {
	PostID     string
	SenderID   string
	AmountSats int64
	Comment    string
}

// TipService issues invoices and records tips.
type TipService struct {
	store repomanager.Store
	nodes NodeSource
	log   logging.Logger
}

func NewTipService(store repomanager.Store, nodes NodeSource, log logging.Logger) *TipService {
	return &TipService{store: store, nodes: nodes, log: log.With("module", "tips")}
}

// Issue registers a receivable invoice on the node. It does not persist
// anything; the caller must store the payment id before handing the invoice
// to the payer.
func (s *TipService) Issue(ctx context.Context, amountSats int64, description string) (*lightning.Invoice, error) {
	if amountSats <= 0 {
		return nil, common.ErrInvalidAmount
	}

	node, err := s.nodes.Node()
	if err != nil {
		return nil, err
	}

	inv, err := node.CreateInvoice(ctx, amountSats, description)
	if err != nil {
		return nil, fmt.Errorf("create invoice: %w", err)
	}
	return inv, nil
}

// CreateTip issues an invoice for req and stores the tip. The stored amount
// is the requested amount minus the node's receive fee, which is what will
// be forwarded.
func (s *TipService) CreateTip(ctx context.Context, req CreateTipRequest) (*models.Tip, *lightning.Invoice, error) {
	if strings.TrimSpace(req.PostID) == "" {
		return nil, nil, common.ErrorNotFound
	}

	description := "Tip for post " + req.PostID
	if c := strings.TrimSpace(req.Comment); c != "" {
		description += ": " + c
	}

	inv, err := s.Issue(ctx, req.AmountSats, description)
	if err != nil {
		return nil, nil, err
	}

	net := req.AmountSats - inv.FeeSats
	if net <= 0 {
		return nil, nil, fmt.Errorf("%w: fee %d exceeds amount %d", common.ErrInvalidAmount, inv.FeeSats, req.AmountSats)
	}

	tip, err := s.store.Repos().Tips().Create(ctx, &models.Tip{
		ID:         uuid.NewString(),
		PostID:     req.PostID,
		SenderID:   req.SenderID,
		AmountSats: net,
		Comment:    req.Comment,
		PaymentID:  inv.PaymentID,
		Invoice:    inv.Bolt11,
	})
	if err != nil {
		return nil, nil, err
	}

	s.log.Info(ctx, "tip created", "tip_id", tip.ID, "payment_id", tip.PaymentID, "amount_sats", tip.AmountSats)
	return tip, inv, nil
}

func (s *TipService) Get(ctx context.Context, id string) (*models.Tip, error) {
	return s.store.Repos().Tips().Get(ctx, id)
}

func (s *TipService) GetByPaymentID(ctx context.Context, paymentID string) (*models.Tip, error) {
	return s.store.Repos().Tips().GetByPaymentID(ctx, paymentID)
}
