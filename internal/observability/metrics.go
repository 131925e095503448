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

	"github.com/signalsfoundry/location-coordinator/core"
	"github.com/signalsfoundry/location-coordinator/model"
)

// LocationCollector bundles Prometheus metrics for acquisition attempts and
// the gRPC surface. It implements core.Observer.
type LocationCollector struct {
	gatherer prometheus.Gatherer

	Attempts          *prometheus.CounterVec
	AttemptDurations  *prometheus.HistogramVec
	ActiveAttempts    prometheus.Gauge
	StatusTransitions *prometheus.CounterVec
	FixesPublished    *prometheus.CounterVec

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec
}

var _ core.Observer = (*LocationCollector)(nil)

// NewLocationCollector registers the metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewLocationCollector(reg prometheus.Registerer) (*LocationCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	attempts, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "location_attempts_total",
		Help: "Finished location attempts, labeled by mechanism, mode and outcome.",
	}, []string{"type", "mode", "outcome"}), "location_attempts_total")
	if err != nil {
		return nil, err
	}

	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "location_attempt_duration_seconds",
		Help:    "Time from claim to release of a location attempt.",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 240},
	}, []string{"type", "outcome"}), "location_attempt_duration_seconds")
	if err != nil {
		return nil, err
	}

	active, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "location_active_attempts",
		Help: "Location attempts currently holding a module handle.",
	}), "location_active_attempts")
	if err != nil {
		return nil, err
	}

	transitions, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "location_status_transitions_total",
		Help: "Status values written to module handles.",
	}, []string{"status"}), "location_status_transitions_total")
	if err != nil {
		return nil, err
	}

	published, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "location_fixes_published_total",
		Help: "Async fixes handed to the publisher, labeled by result.",
	}, []string{"result"}), "location_fixes_published_total")
	if err != nil {
		return nil, err
	}

	requests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "location_rpc_requests_total",
		Help: "Total number of handled RPCs, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"}), "location_rpc_requests_total")
	if err != nil {
		return nil, err
	}

	rpcDurations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "location_rpc_duration_seconds",
		Help:    "RPC latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5, 30, 120, 240},
	}, []string{"service", "method"}), "location_rpc_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &LocationCollector{
		gatherer:          gatherer,
		Attempts:          attempts,
		AttemptDurations:  durations,
		ActiveAttempts:    active,
		StatusTransitions: transitions,
		FixesPublished:    published,
		RPCRequests:       requests,
		RPCDurations:      rpcDurations,
	}, nil
}

// AttemptStarted implements core.Observer.
func (c *LocationCollector) AttemptStarted(model.LocationType, core.Mode) {
	if c == nil {
		return
	}
	c.ActiveAttempts.Inc()
}

// StatusChanged implements core.Observer.
func (c *LocationCollector) StatusChanged(_ model.ModuleHandle, st model.LocationStatus) {
	if c == nil {
		return
	}
	c.StatusTransitions.WithLabelValues(st.String()).Inc()
}

// AttemptFinished implements core.Observer.
func (c *LocationCollector) AttemptFinished(mech model.LocationType, mode core.Mode, outcome core.Outcome, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.ActiveAttempts.Dec()
	c.Attempts.WithLabelValues(mech.String(), mode.String(), string(outcome)).Inc()
	c.AttemptDurations.WithLabelValues(mech.String(), string(outcome)).Observe(elapsed.Seconds())
}

// FixPublished records the result of handing a fix to the publisher.
func (c *LocationCollector) FixPublished(err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.FixesPublished.WithLabelValues(result).Inc()
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *LocationCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
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

		if c.RPCRequests != nil {
			c.RPCRequests.WithLabelValues(service, method, code).Inc()
		}
		if c.RPCDurations != nil {
			c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
		}

		return resp, err
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *LocationCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
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
