package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/location-coordinator/core"
	"github.com/signalsfoundry/location-coordinator/internal/config"
	"github.com/signalsfoundry/location-coordinator/internal/driver"
	"github.com/signalsfoundry/location-coordinator/internal/driver/cloud"
	"github.com/signalsfoundry/location-coordinator/internal/driver/gnss"
	"github.com/signalsfoundry/location-coordinator/internal/logging"
	"github.com/signalsfoundry/location-coordinator/internal/nbi"
	"github.com/signalsfoundry/location-coordinator/internal/observability"
	"github.com/signalsfoundry/location-coordinator/internal/publish"
	"github.com/signalsfoundry/location-coordinator/kb"
	"github.com/signalsfoundry/location-coordinator/model"
	"github.com/signalsfoundry/location-coordinator/timectrl"
)

const (
	shutdownTimeout    = 10 * time.Second
	natsConnectTimeout = 15 * time.Second
)

// daemon holds the wired components of one locationd instance.
type daemon struct {
	cfg       config.Config
	log       logging.Logger
	catalog   *kb.Catalog
	coord     *core.Coordinator
	service   *nbi.LocationService
	publisher publish.Publisher
	collector *observability.LocationCollector
	server    *grpc.Server
	health    *health.Server

	unsubscribe func()
}

// newDaemon wires every component from cfg. reg receives the Prometheus
// metrics; nil means the default registry.
func newDaemon(ctx context.Context, cfg config.Config, log logging.Logger, reg prometheus.Registerer) (*daemon, error) {
	d := &daemon{cfg: cfg, log: log, catalog: kb.NewCatalog()}

	if cfg.ModulesFile != "" {
		n, err := kb.LoadCatalogFile(d.catalog, cfg.ModulesFile)
		if err != nil {
			return nil, fmt.Errorf("load modules: %w", err)
		}
		log.Info(ctx, "loaded module catalogue", logging.String("path", cfg.ModulesFile), logging.Int("count", n))
	}

	constellation, err := gnss.NewConstellation(cfg.Simulation.GNSS.TLEs)
	if err != nil {
		return nil, fmt.Errorf("gnss constellation: %w", err)
	}
	if constellation.Len() == 0 {
		log.Warn(ctx, "no TLEs configured; the simulated GNSS receiver will never fix")
	}
	receiver := gnss.NewReceiver(constellation, timectrl.Wall{}, cfg.Simulation.Receiver(), log)

	services, err := cloud.NewService(cfg.Simulation.Service(), log)
	if err != nil {
		return nil, fmt.Errorf("cloud services: %w", err)
	}

	d.collector, err = observability.NewLocationCollector(reg)
	if err != nil {
		return nil, fmt.Errorf("metrics collector: %w", err)
	}

	router := driver.NewRouter(
		driver.Route(model.LocationTypeGNSS, receiver),
		driver.RouteCloud(services),
	)
	d.coord = core.New(d.catalog, router,
		core.WithLogger(log),
		core.WithObserver(d.collector),
		core.WithConfig(cfg.Location.Core()),
		core.WithTracer(otel.Tracer("github.com/signalsfoundry/location-coordinator/core")),
	)

	d.publisher = publish.Noop{}
	if cfg.NATS.Enabled {
		d.publisher, err = connectNATS(ctx, cfg.NATS, log)
		if err != nil {
			return nil, err
		}
	}

	d.service = nbi.NewLocationService(d.coord, d.catalog, log,
		nbi.WithPublisher(d.publisher),
		nbi.WithFixRecorder(d.collector),
	)
	d.unsubscribe = d.catalog.Subscribe(d.onCatalogEvent)

	d.server = grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			nbi.RequestIDUnaryServerInterceptor(log),
			nbi.TracingUnaryServerInterceptor(),
			d.collector.UnaryServerInterceptor(),
			nbi.AccessLogUnaryServerInterceptor(log),
		),
	)
	d.service.Register(d.server)

	d.health = health.NewServer()
	healthpb.RegisterHealthServer(d.server, d.health)
	d.health.SetServingStatus(nbi.LocationServiceName, healthpb.HealthCheckResponse_SERVING)

	return d, nil
}

// connectNATS retries the initial connection so the daemon tolerates a
// broker that starts after it.
func connectNATS(ctx context.Context, cfg publish.NATSConfig, log logging.Logger) (*publish.NATSPublisher, error) {
	pub, err := backoff.Retry(ctx, func() (*publish.NATSPublisher, error) {
		p, err := publish.NewNATSPublisher(cfg, log)
		if err != nil {
			log.Warn(ctx, "nats not reachable yet", logging.Err(err))
		}
		return p, err
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(natsConnectTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("nats publisher: %w", err)
	}
	log.Info(ctx, "publishing fixes to nats", logging.String("url", cfg.ApplyDefaults().URL))
	return pub, nil
}

// onCatalogEvent stops async acquisitions on modules that leave the
// catalogue. Blocking attempts run to their own end.
func (d *daemon) onCatalogEvent(ev kb.Event) {
	if ev.Type != kb.EventModuleRemoved {
		return
	}
	h := ev.Module.Handle
	d.coord.StopLocationAsync(h)
	d.service.ForgetModule(h)
	d.log.Info(context.Background(), "module removed from catalogue", logging.Handle(h))
}

// reload re-reads the module catalogue file.
func (d *daemon) reload(ctx context.Context) {
	if d.cfg.ModulesFile == "" {
		return
	}
	n, err := kb.LoadCatalogFile(d.catalog, d.cfg.ModulesFile)
	if err != nil {
		d.log.Error(ctx, "module catalogue reload failed; keeping previous catalogue",
			logging.String("path", d.cfg.ModulesFile), logging.Err(err))
		return
	}
	d.log.Info(ctx, "module catalogue reloaded", logging.Int("count", n))
}

func (d *daemon) shutdown(ctx context.Context) {
	d.health.Shutdown()

	// Blocking GetLocation calls may hold the server for the whole
	// acquisition budget; cut them off when ctx expires.
	stopped := make(chan struct{})
	go func() {
		d.server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		d.server.Stop()
		<-stopped
	}

	if d.unsubscribe != nil {
		d.unsubscribe()
	}
	if err := d.coord.Close(ctx); err != nil {
		d.log.Warn(ctx, "coordinator did not drain", logging.Err(err))
	}
	if err := d.publisher.Close(); err != nil {
		d.log.Warn(ctx, "publisher close failed", logging.Err(err))
	}
}

func serveMetrics(addr string, collector *observability.LocationCollector) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// run serves until ctx is done or a component fails.
func run(ctx context.Context, cfg config.Config, log logging.Logger, lis net.Listener) error {
	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	d, err := newDaemon(ctx, cfg, log, nil)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info(gctx, "serving location gRPC", logging.String("addr", lis.Addr().String()))
		if err := d.server.Serve(lis); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		metricsSrv = serveMetrics(cfg.MetricsAddr, d.collector)
		g.Go(func() error {
			log.Info(gctx, "serving Prometheus metrics", logging.String("addr", cfg.MetricsAddr))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		watchReload(gctx, d)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info(context.Background(), "shutting down locationd")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(sctx)
		}
		d.shutdown(sctx)
		return nil
	})

	return g.Wait()
}
