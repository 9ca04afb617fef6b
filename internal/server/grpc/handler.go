package grpc

import (
	"context"
	"errors"
	"strings"

	"github.com/dmitrijs2005/zapzap/internal/common"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type opsHandler struct {
	s *GRPCServer
}

func (h *opsHandler) Sweep(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.Int64Value, error) {

	h.s.logger.Info(ctx, "Sweep requested", "by", ctx.Value(UserIDKey))

	n, err := h.s.sweeper.Sweep(ctx)
	if err != nil {
		h.s.logger.Error(ctx, "sweep failed", "error", err)
		return nil, toStatus(err)
	}

	return wrapperspb.Int64(int64(n)), nil

}

func (h *opsHandler) Forward(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {

	tipID := strings.TrimSpace(req.GetValue())
	if tipID == "" {
		return nil, status.Error(codes.InvalidArgument, "tip id is required")
	}

	h.s.logger.Info(ctx, "Forward requested", "tip_id", tipID, "by", ctx.Value(UserIDKey))

	id, err := h.s.forwarder.Forward(ctx, tipID)
	if err != nil {
		return nil, toStatus(err)
	}

	return wrapperspb.String(id), nil

}

func (h *opsHandler) Status(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {

	paymentID := strings.TrimSpace(req.GetValue())
	if paymentID == "" {
		return nil, status.Error(codes.InvalidArgument, "payment id is required")
	}

	tip, err := h.s.tips.GetByPaymentID(ctx, paymentID)
	if err != nil {
		return nil, toStatus(err)
	}

	out, err := structpb.NewStruct(map[string]any{
		"tip_id":             tip.ID,
		"payment_id":         tip.PaymentID,
		"status":             string(tip.Status()),
		"amount_sats":        tip.AmountSats,
		"received":           tip.Received,
		"forwarded":          tip.Forwarded,
		"forward_payment_id": tip.ForwardPaymentID,
	})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil

}

func toStatus(err error) error {
	switch {
	case errors.Is(err, common.ErrorNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, common.ErrNotConnected):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, common.ErrNotReceived),
		errors.Is(err, common.ErrNoDestination),
		errors.Is(err, common.ErrNotResolvable):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, common.ErrSendFailed):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, common.ErrorInternal.Error())
	}
}
