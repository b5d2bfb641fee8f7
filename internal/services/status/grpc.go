package status

import (
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/LeonardoBeccarini/sdcc_node/internal/model"
)

// Service names reported by the gRPC health server. The empty name is the
// node as a whole.
const (
	ServiceStation = "station"
	ServiceBus     = "bus"
	ServiceNode    = ""
)

// GRPCReporter mirrors snapshots into a standard gRPC health server.
type GRPCReporter struct {
	srv *grpchealth.Server
}

func NewGRPCReporter(srv *grpchealth.Server) *GRPCReporter {
	r := &GRPCReporter{srv: srv}
	for _, name := range []string{ServiceStation, ServiceBus, ServiceNode} {
		srv.SetServingStatus(name, healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return r
}

func (r *GRPCReporter) Update(s model.Snapshot) {
	r.srv.SetServingStatus(ServiceStation, serving(s.Station == model.LinkUp))
	r.srv.SetServingStatus(ServiceBus, serving(s.Bus == model.LinkUp))
	r.srv.SetServingStatus(ServiceNode, serving(s.Station == model.LinkUp && s.Bus == model.LinkUp))
}

func serving(ok bool) healthpb.HealthCheckResponse_ServingStatus {
	if ok {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}
