// Package grpc serves the operator surface: the ops service and the standard
// health service, whose "zapzap.node" entry follows the payment node
// connection.
package grpc

import (
	"context"
	"net"

	"github.com/dmitrijs2005/zapzap/internal/common"
	"github.com/dmitrijs2005/zapzap/internal/logging"
	"github.com/dmitrijs2005/zapzap/internal/server/models"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

type Forwarder interface {
	Forward(ctx context.Context, tipID string) (string, error)
}

type TipLookup interface {
	GetByPaymentID(ctx context.Context, paymentID string) (*models.Tip, error)
}

type GRPCServer struct {
	address   string
	sweeper   Sweeper
	forwarder Forwarder
	tips      TipLookup
	health    *health.Server
	logger    logging.Logger
	jwtSecret []byte
}

func NewGRPCServer(a string, l logging.Logger, sw Sweeper, fw Forwarder, tips TipLookup, secretKey string) *GRPCServer {
	hs := health.NewServer()
	hs.SetServingStatus(common.NodeHealthService, healthpb.HealthCheckResponse_NOT_SERVING)

	return &GRPCServer{
		address:   a,
		logger:    l.With("module", "grpc_server"),
		sweeper:   sw,
		forwarder: fw,
		tips:      tips,
		health:    hs,
		jwtSecret: []byte(secretKey),
	}
}

// SetNodeServing reports the payment node connection through the health
// service.
func (s *GRPCServer) SetNodeServing(ready bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ready {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(common.NodeHealthService, st)
}

// NodeServing reports the current health status of the payment node entry.
func (s *GRPCServer) NodeServing() bool {
	resp, err := s.health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: common.NodeHealthService})
	return err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
}

func (s *GRPCServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis until ctx is cancelled.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.accessTokenInterceptor))

	RegisterOpsServer(srv, &opsHandler{s: s})
	healthpb.RegisterHealthServer(srv, s.health)

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		s.health.Shutdown()
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	// starts accepting incoming connections
	if err := srv.Serve(lis); err != nil {
		return err
	}

	return nil
}
