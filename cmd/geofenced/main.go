// Command geofenced serves the department-area registry, zone resolution,
// position tracking and presence registration over HTTP, with gRPC health
// and Prometheus metrics alongside.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/geofence/core"
	"github.com/signalsfoundry/geofence/internal/api"
	"github.com/signalsfoundry/geofence/internal/config"
	"github.com/signalsfoundry/geofence/internal/drawing"
	"github.com/signalsfoundry/geofence/internal/logging"
	"github.com/signalsfoundry/geofence/internal/mapsync"
	"github.com/signalsfoundry/geofence/internal/observability"
	"github.com/signalsfoundry/geofence/internal/position"
	"github.com/signalsfoundry/geofence/internal/presence"
	"github.com/signalsfoundry/geofence/internal/surface"
	"github.com/signalsfoundry/geofence/internal/tracking"
	"github.com/signalsfoundry/geofence/model"
	"github.com/signalsfoundry/geofence/timectrl"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	flag.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP address of the API")
	flag.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "TCP address of the gRPC health server")
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "HTTP address for Prometheus /metrics (empty disables)")
	flag.StringVar(&cfg.AreasFile, "areas", cfg.AreasFile, "YAML file of areas to seed the registry with")
	flag.StringVar(&cfg.Source, "source", cfg.Source, "position source: push or simulated")
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, listeners{}); err != nil {
		log.Error(context.Background(), "geofenced exited", logging.Err(err))
		os.Exit(1)
	}
}

// listeners lets tests hand in pre-bound sockets. A nil listener is opened
// from the matching config address.
type listeners struct {
	HTTP    net.Listener
	GRPC    net.Listener
	Metrics net.Listener
}

// app is the wired component graph.
type app struct {
	registry *core.AreaRegistry
	resolver *core.ZoneResolver
	tracker  *tracking.Tracker
	presence *presence.Workflow
	adapter  *mapsync.Adapter
	surface  *surface.GeoJSON
	capture  *drawing.Capture
	health   *observability.HealthReporter
	api      *api.Server

	push  *position.PushSource
	clock *timectrl.TimeController

	stopFollow func()
}

func build(cfg config.Config, log logging.Logger, collector *observability.Collector) (*app, error) {
	a := &app{}
	a.registry = core.NewAreaRegistry(core.WithAreaMetrics(collector))
	if err := seedAreas(a.registry, cfg.AreasFile, log); err != nil {
		return nil, err
	}
	a.resolver = core.NewZoneResolver(a.registry)

	var source position.Source
	switch cfg.Source {
	case config.SourceSimulated:
		a.clock = timectrl.NewTimeController(time.Now().UTC(), time.Second, timectrl.RealTime)
		source = position.NewSimulatedSource(a.clock, tourOf(a.registry.List(), a.clock.Now()))
	default:
		a.push = position.NewPushSource(nil)
		source = a.push
	}

	a.health = observability.NewHealthReporter(collector)
	a.tracker = tracking.New(source, a.resolver,
		tracking.WithLogger(log),
		tracking.WithMetrics(collector),
		tracking.WithTimeout(cfg.PositionTimeout),
		tracking.WithStateListener(func(s tracking.State) {
			a.health.SetTrackerServing(s == tracking.Active)
		}),
	)

	a.surface = surface.New()
	a.adapter = mapsync.NewAdapter(a.surface, a.resolver,
		mapsync.WithLogger(log),
		mapsync.WithMetrics(collector),
	)
	a.presence = presence.NewWorkflow(presence.NewLog(),
		presence.WithLogger(log),
		presence.WithMetrics(collector),
		presence.WithMaxObservationAge(cfg.ObservationMaxAge),
		presence.WithCommitHook(func(r model.Registration) {
			a.adapter.ShowRegistration(context.Background(), r)
		}),
	)
	a.capture = drawing.NewCapture(a.registry, log)
	a.adapter.Attach(a.surface, func(boundary []model.Coordinate) {
		if err := a.capture.PolygonDrawn(boundary); err != nil {
			log.Warn(context.Background(), "drawn polygon rejected", logging.Err(err))
		}
	})
	a.stopFollow = a.adapter.Follow(a.registry)

	srv, err := api.NewServer(api.Deps{
		Registry:   a.registry,
		Resolver:   a.resolver,
		Tracker:    a.tracker,
		Push:       a.push,
		Presence:   a.presence,
		Adapter:    a.adapter,
		Surface:    a.surface,
		Capture:    a.capture,
		Metrics:    collector,
		Logger:     log,
		AdminToken: cfg.AdminToken,
	})
	if err != nil {
		a.stopFollow()
		return nil, err
	}
	a.api = srv
	return a, nil
}

func seedAreas(reg *core.AreaRegistry, path string, log logging.Logger) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open areas file: %w", err)
	}
	defer f.Close()

	areas, err := core.LoadAreas(reg, f)
	if err != nil {
		return fmt.Errorf("load areas from %s: %w", path, err)
	}
	log.Info(context.Background(), "seeded areas", logging.String("path", path), logging.Int("count", len(areas)))
	return nil
}

// tourOf walks the simulated device through the centre of every usable area,
// one minute per leg.
func tourOf(areas []model.Area, start time.Time) position.Motion {
	var stops []model.Coordinate
	for _, a := range areas {
		b, ok := core.Bounds(a.Boundary)
		if !ok {
			continue
		}
		c := b.Center()
		stops = append(stops, model.Coordinate{Lat: c.Y(), Lng: c.X()})
	}
	if len(stops) == 0 {
		return position.StaticMotion{At: surface.DefaultCenter}
	}
	return position.WaypointMotion{Start: start, Waypoints: stops, Leg: time.Minute, Loop: true}
}

func run(ctx context.Context, cfg config.Config, log logging.Logger, lis listeners) error {
	log = logging.OrNoop(log)

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewCollector(nil)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	a, err := build(cfg, log, collector)
	if err != nil {
		return err
	}
	defer a.stopFollow()

	if lis.HTTP == nil {
		if lis.HTTP, err = net.Listen("tcp", cfg.HTTPAddr); err != nil {
			return fmt.Errorf("listen http %s: %w", cfg.HTTPAddr, err)
		}
	}
	if lis.GRPC == nil {
		if lis.GRPC, err = net.Listen("tcp", cfg.GRPCAddr); err != nil {
			return fmt.Errorf("listen grpc %s: %w", cfg.GRPCAddr, err)
		}
	}
	if lis.Metrics == nil && cfg.MetricsAddr != "" {
		if lis.Metrics, err = net.Listen("tcp", cfg.MetricsAddr); err != nil {
			return fmt.Errorf("listen metrics %s: %w", cfg.MetricsAddr, err)
		}
	}

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			observability.RequestIDUnaryServerInterceptor(log),
			observability.TracingUnaryServerInterceptor(),
			collector.UnaryServerInterceptor(),
		),
	)
	healthpb.RegisterHealthServer(grpcServer, a.health.Server())

	httpServer := &http.Server{Handler: a.api.Router(), ReadHeaderTimeout: 10 * time.Second}

	var metricsServer *http.Server
	if lis.Metrics != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info(gctx, "serving gRPC health", logging.String("addr", lis.GRPC.Addr().String()))
		return grpcServer.Serve(lis.GRPC)
	})
	g.Go(func() error {
		log.Info(gctx, "serving HTTP API", logging.String("addr", lis.HTTP.Addr().String()))
		if err := httpServer.Serve(lis.HTTP); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if metricsServer != nil {
		g.Go(func() error {
			log.Info(gctx, "serving Prometheus metrics", logging.String("addr", lis.Metrics.Addr().String()))
			if err := metricsServer.Serve(lis.Metrics); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	if a.clock != nil {
		g.Go(func() error {
			<-a.clock.Start(gctx, 0)
			return nil
		})
	}
	g.Go(func() error {
		backoff := tracking.NewBackOff(cfg.RestartInitial, cfg.RestartMax)
		tracking.Supervise(gctx, a.tracker, a.api.Observe, backoff, log)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info(context.Background(), "shutting down geofenced")
		a.health.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		if metricsServer != nil {
			_ = metricsServer.Shutdown(shutdownCtx)
		}
		grpcServer.GracefulStop()
		return nil
	})

	return g.Wait()
}
