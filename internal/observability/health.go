package observability

import (
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// TrackerHealthService is the gRPC health service name reporting whether
// position tracking is live.
const TrackerHealthService = "geofence.tracker"

// HealthReporter publishes service health through the standard gRPC health
// protocol. The overall server ("") is SERVING for the life of the process;
// TrackerHealthService follows the tracker.
type HealthReporter struct {
	server    *health.Server
	collector *Collector
}

// NewHealthReporter creates a reporter with the tracker NOT_SERVING.
// collector may be nil.
func NewHealthReporter(collector *Collector) *HealthReporter {
	srv := health.NewServer()
	srv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	srv.SetServingStatus(TrackerHealthService, healthpb.HealthCheckResponse_NOT_SERVING)
	return &HealthReporter{server: srv, collector: collector}
}

// Server returns the health service to register on a gRPC server.
func (h *HealthReporter) Server() *health.Server {
	return h.server
}

// SetTrackerServing updates the tracker health status and gauge.
func (h *HealthReporter) SetTrackerServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.server.SetServingStatus(TrackerHealthService, status)
	h.collector.SetTrackerActive(serving)
}

// Shutdown marks every service NOT_SERVING ahead of a graceful stop.
func (h *HealthReporter) Shutdown() {
	h.server.Shutdown()
}
