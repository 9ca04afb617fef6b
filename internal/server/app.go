// Package server wires the ZapZap components together and runs them: the
// payment node supervisor, the settlement and forwarding services, the
// reconciliation sweep, the notification hub and the HTTP and gRPC servers.
package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/zapzap/internal/lightning"
	"github.com/dmitrijs2005/zapzap/internal/lightning/lightningtest"
	"github.com/dmitrijs2005/zapzap/internal/lightning/restnode"
	"github.com/dmitrijs2005/zapzap/internal/logging"
	"github.com/dmitrijs2005/zapzap/internal/server/archive"
	"github.com/dmitrijs2005/zapzap/internal/server/config"
	"github.com/dmitrijs2005/zapzap/internal/server/httpapi"
	"github.com/dmitrijs2005/zapzap/internal/server/metrics"
	"github.com/dmitrijs2005/zapzap/internal/server/notify"
	"github.com/dmitrijs2005/zapzap/internal/server/payout"
	"github.com/dmitrijs2005/zapzap/internal/server/repositories/memstore"
	"github.com/dmitrijs2005/zapzap/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/zapzap/internal/server/services"
	"github.com/dmitrijs2005/zapzap/internal/server/supervisor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	gs "github.com/dmitrijs2005/zapzap/internal/server/grpc"
)

type App struct {
	config *config.Config
	logger logging.Logger

	store   repomanager.Store
	closers []func() error

	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	hub        *notify.Hub
	supervisor *supervisor.Supervisor

	tips       *services.TipService
	settlement *services.SettlementService
	forwarder  *services.Forwarder
	async      *services.AsyncForwarder
	reconciler *services.Reconciler
	payouts    *services.PayoutService

	httpServer *httpapi.Server
	grpcServer *gs.GRPCServer

	triggers sync.WaitGroup

	// readyGen counts readiness transitions so a catch-up sweep that
	// outlived its connection does not report the node as serving.
	readyMu  sync.Mutex
	readyGen uint64
}

// openPostgres is a seam for tests.
var openPostgres = repomanager.OpenPostgres

func NewApp(ctx context.Context, c *config.Config) (*App, error) {

	logger := logging.New(os.Stdout, c.LogFormat, c.LogLevel)

	app := &App{config: c, logger: logger}

	if err := app.initStore(ctx); err != nil {
		return nil, err
	}

	archiver, err := app.newArchiver(ctx)
	if err != nil {
		app.close()
		return nil, err
	}

	app.registry = prometheus.NewRegistry()
	app.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	app.metrics = metrics.New(app.registry)

	app.hub = notify.NewHub(c.HubBufferSize, c.HubStaleAfter, logger)
	metrics.WatchSubscribers(app.registry, app.hub.Len)

	app.supervisor = supervisor.New(app.newConnector(), c.ReconnectDelay, logger)

	resolver := payout.New(c.ResolverTimeout, logger)
	app.forwarder = services.NewForwarder(app.store, app.supervisor, resolver, app.hub, app.metrics, c.ForwardTimeout, logger)
	app.async = services.NewAsyncForwarder(app.forwarder, c.ForwardTimeout, logger)

	app.tips = services.NewTipService(app.store, app.supervisor, logger)
	app.settlement = services.NewSettlementService(app.store, app.hub, app.async, app.metrics, logger)
	app.reconciler = services.NewReconciler(app.store, app.supervisor, app.settlement, archiver, app.metrics, logger)
	app.payouts = services.NewPayoutService(app.store, app.forwarder, logger)

	app.httpServer = httpapi.NewServer(c.EndpointAddrHTTP, httpapi.NewHandler(httpapi.Deps{
		Tips:      app.tips,
		Payouts:   app.payouts,
		Hub:       app.hub,
		Node:      app.supervisor,
		Gatherer:  app.registry,
		SecretKey: []byte(c.SecretKey),
		Log:       logger.With("module", "http"),
	}), logger)

	app.grpcServer = gs.NewGRPCServer(c.EndpointAddrGRPC, logger, app.reconciler, app.forwarder, app.tips, c.SecretKey)

	return app, nil
}

func (app *App) initStore(ctx context.Context) error {
	switch app.config.Storage {
	case config.StorageMemory:
		app.logger.Warn(ctx, "using in-memory storage, data is lost on exit")
		app.store = memstore.New()
		return nil
	default:
		db, err := openPostgres(ctx, app.config.DatabaseDSN)
		if err != nil {
			return fmt.Errorf("db init error: %w", err)
		}

		m := repomanager.NewPostgresRepositoryManager()
		if err := m.RunMigrations(ctx, db); err != nil {
			_ = db.Close()
			return fmt.Errorf("db migration error: %w", err)
		}

		app.store = repomanager.NewSQLStore(db, m)
		app.closers = append(app.closers, db.Close)
		return nil
	}
}

func (app *App) newArchiver(ctx context.Context) (services.Archiver, error) {
	if app.config.S3Bucket == "" {
		return archive.Nop{}, nil
	}

	a, err := archive.NewS3Archiver(ctx, archive.Options{
		Region:       app.config.S3Region,
		RootUser:     app.config.S3RootUser,
		RootPassword: app.config.S3RootPassword,
		BaseEndpoint: app.config.S3BaseEndpoint,
		Bucket:       app.config.S3Bucket,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 init error: %w", err)
	}
	return a, nil
}

func (app *App) newConnector() lightning.Connector {
	if app.config.NodeKind == config.NodeKindFake {
		return lightningtest.New()
	}
	return restnode.New(app.config.NodeURL, app.config.NodeAPIKey, app.config.NodeRequestTimeout)
}

func (app *App) initSignalHandler(ctx context.Context, cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		defer signal.Stop(sigs)
		select {
		case <-sigs:
			cancelFunc()
		case <-ctx.Done():
		}
	}()
}

// onNodeReady runs on every readiness transition of the node connection.
// Each transition to ready starts a catch-up sweep; the node is reported as
// serving over gRPC health only once that sweep has finished.
func (app *App) onNodeReady(ctx context.Context) func(bool) {
	return func(ready bool) {
		app.metrics.SetNodeReady(ready)

		app.readyMu.Lock()
		app.readyGen++
		gen := app.readyGen
		if !ready {
			app.grpcServer.SetNodeServing(false)
		}
		app.readyMu.Unlock()

		if !ready || ctx.Err() != nil {
			return
		}

		app.triggers.Add(1)
		go func() {
			defer app.triggers.Done()
			app.reconciler.Trigger(ctx)

			app.readyMu.Lock()
			defer app.readyMu.Unlock()
			if gen == app.readyGen {
				app.grpcServer.SetNodeServing(true)
			}
		}()
	}
}

// Run starts every component and blocks until ctx is cancelled, a signal
// arrives or a server fails. In-flight forwarding attempts are drained
// before Run returns.
func (app *App) Run(ctx context.Context) error {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(ctx, cancelFunc)

	g, ctx := errgroup.WithContext(ctx)

	app.supervisor.OnReadyChange(app.onNodeReady(ctx))
	if !app.supervisor.Start(ctx, app.settlement) {
		app.logger.Warn(ctx, "payment node not ready, serving in degraded mode")
	}

	g.Go(func() error {
		app.supervisor.Wait()
		return nil
	})

	g.Go(func() error {
		app.hub.Run(ctx, app.config.HubCleanupInterval)
		return nil
	})

	if app.config.SweepInterval > 0 {
		g.Go(func() error {
			app.reconciler.Run(ctx, app.config.SweepInterval)
			return nil
		})
	}

	g.Go(func() error {
		return app.httpServer.Run(ctx)
	})

	g.Go(func() error {
		return app.grpcServer.Run(ctx)
	})

	err := g.Wait()

	app.logger.Info(context.Background(), "Draining in-flight work...")
	app.triggers.Wait()
	app.async.Wait()
	app.payouts.Wait()
	app.forwarder.Wait()
	app.close()

	app.logger.Info(context.Background(), "App stopped")
	return err
}

func (app *App) close() {
	for _, c := range app.closers {
		if err := c(); err != nil {
			app.logger.Error(context.Background(), "close error", "error", err)
		}
	}
	app.closers = nil
}
