// Package observability holds the service's Prometheus collector, tracing
// setup, gRPC interceptors and health reporting.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/geofence/model"
)

// Collector bundles the service's Prometheus metrics. It satisfies the
// metrics recorder interfaces of the registry, tracker, presence workflow
// and map sync adapter, so components drive it directly.
type Collector struct {
	gatherer prometheus.Gatherer

	HTTPRequests  *prometheus.CounterVec
	HTTPDurations *prometheus.HistogramVec
	RPCRequests   *prometheus.CounterVec
	RPCDurations  *prometheus.HistogramVec

	Areas      prometheus.Gauge
	InertAreas prometheus.Gauge

	Observations  *prometheus.CounterVec
	TrackerErrors *prometheus.CounterVec
	TrackerActive prometheus.Gauge

	Registrations *prometheus.CounterVec

	OverlayFailures *prometheus.CounterVec
	SyncDuration    prometheus.Histogram
}

var latencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5}

// NewCollector registers all metrics against reg, defaulting to the global
// Prometheus registry when nil. Registering twice on the same registry
// reuses the existing collectors.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Collector{gatherer: gatherer}
	var err error

	if c.HTTPRequests, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geofence_http_requests_total",
		Help: "Total number of handled HTTP requests, labeled by method, route, and status code.",
	}, []string{"method", "route", "code"}), "geofence_http_requests_total"); err != nil {
		return nil, err
	}
	if c.HTTPDurations, err = registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "geofence_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: latencyBuckets,
	}, []string{"method", "route"}), "geofence_http_request_duration_seconds"); err != nil {
		return nil, err
	}
	if c.RPCRequests, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geofence_grpc_requests_total",
		Help: "Total number of handled gRPC calls, labeled by service, method, and status code.",
	}, []string{"service", "method", "code"}), "geofence_grpc_requests_total"); err != nil {
		return nil, err
	}
	if c.RPCDurations, err = registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "geofence_grpc_request_duration_seconds",
		Help:    "gRPC call latency in seconds.",
		Buckets: latencyBuckets,
	}, []string{"service", "method"}), "geofence_grpc_request_duration_seconds"); err != nil {
		return nil, err
	}
	if c.Areas, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "geofence_areas",
		Help: "Current number of areas in the registry.",
	}), "geofence_areas"); err != nil {
		return nil, err
	}
	if c.InertAreas, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "geofence_areas_inert",
		Help: "Current number of areas whose boundary is not a valid polygon.",
	}), "geofence_areas_inert"); err != nil {
		return nil, err
	}
	if c.Observations, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geofence_observations_total",
		Help: "Position samples processed by the tracker, labeled by result (inside, outside, invalid).",
	}, []string{"result"}), "geofence_observations_total"); err != nil {
		return nil, err
	}
	if c.TrackerErrors, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geofence_tracker_errors_total",
		Help: "Tracker failures, labeled by reason.",
	}, []string{"reason"}), "geofence_tracker_errors_total"); err != nil {
		return nil, err
	}
	if c.TrackerActive, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "geofence_tracker_active",
		Help: "1 while the tracker is receiving samples, 0 otherwise.",
	}), "geofence_tracker_active"); err != nil {
		return nil, err
	}
	if c.Registrations, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geofence_registrations_total",
		Help: "Presence registration attempts, labeled by outcome.",
	}, []string{"outcome"}), "geofence_registrations_total"); err != nil {
		return nil, err
	}
	if c.OverlayFailures, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geofence_mapsync_overlay_failures_total",
		Help: "Rendering surface calls that failed during map sync, labeled by operation.",
	}, []string{"op"}), "geofence_mapsync_overlay_failures_total"); err != nil {
		return nil, err
	}
	if c.SyncDuration, err = registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "geofence_mapsync_sync_duration_seconds",
		Help:    "Duration of map sync reconciliation passes.",
		Buckets: latencyBuckets,
	}), "geofence_mapsync_sync_duration_seconds"); err != nil {
		return nil, err
	}

	return c, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *Collector) Gatherer() prometheus.Gatherer {
	if c == nil || c.gatherer == nil {
		return prometheus.DefaultGatherer
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.Gatherer(), promhttp.HandlerOpts{})
}

// SetAreaCounts implements core.AreaMetricsRecorder.
func (c *Collector) SetAreaCounts(total, inert int) {
	if c == nil {
		return
	}
	c.Areas.Set(float64(total))
	c.InertAreas.Set(float64(inert))
}

// ObserveSample implements tracking.MetricsRecorder.
func (c *Collector) ObserveSample(result string) {
	if c == nil {
		return
	}
	c.Observations.WithLabelValues(result).Inc()
}

// TrackerError implements tracking.MetricsRecorder.
func (c *Collector) TrackerError(kind model.ErrorKind) {
	if c == nil {
		return
	}
	c.TrackerErrors.WithLabelValues(string(kind)).Inc()
}

// SetTrackerActive flips the tracker_active gauge.
func (c *Collector) SetTrackerActive(active bool) {
	if c == nil {
		return
	}
	if active {
		c.TrackerActive.Set(1)
	} else {
		c.TrackerActive.Set(0)
	}
}

// RecordRegistration implements presence.MetricsRecorder.
func (c *Collector) RecordRegistration(outcome string) {
	if c == nil {
		return
	}
	c.Registrations.WithLabelValues(outcome).Inc()
}

// OverlayFailure implements mapsync.MetricsRecorder.
func (c *Collector) OverlayFailure(op string) {
	if c == nil {
		return
	}
	c.OverlayFailures.WithLabelValues(op).Inc()
}

// ObserveSync implements mapsync.MetricsRecorder.
func (c *Collector) ObserveSync(d time.Duration) {
	if c == nil {
		return
	}
	c.SyncDuration.Observe(d.Seconds())
}

// ObserveHTTP records one handled HTTP request.
func (c *Collector) ObserveHTTP(method, route string, code int, d time.Duration) {
	if c == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	c.HTTPRequests.WithLabelValues(method, route, fmt.Sprint(code)).Inc()
	c.HTTPDurations.WithLabelValues(method, route).Observe(d.Seconds())
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *Collector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		code := status.Code(err).String()

		c.RPCRequests.WithLabelValues(service, method, code).Inc()
		c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
		return resp, err
	}
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components. It tolerates empty strings and partial paths, returning
// "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return h, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
