// Package nbi exposes the location coordinator over gRPC.
package nbi

import (
	"context"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/location-coordinator/core"
	"github.com/signalsfoundry/location-coordinator/internal/logging"
	"github.com/signalsfoundry/location-coordinator/internal/nbi/types"
	"github.com/signalsfoundry/location-coordinator/internal/publish"
	"github.com/signalsfoundry/location-coordinator/model"
)

// Coordinator is the subset of core.Coordinator the service drives.
type Coordinator interface {
	AcquireLocationBlocking(ctx context.Context, req core.Request, keepGoing core.KeepGoingFunc) (model.Location, error)
	StartLocationAsync(ctx context.Context, req core.Request, cb core.Callback) error
	GetLocationStatus(h model.ModuleHandle) model.LocationStatus
	StopLocationAsync(h model.ModuleHandle)
}

// ModuleLister lists the module catalogue.
type ModuleLister interface {
	List() []model.ModuleDescriptor
}

// FixRecorder observes publish results. *observability.LocationCollector
// satisfies it.
type FixRecorder interface {
	FixPublished(err error)
}

// publishTimeout bounds a single hand-off to the publisher.
const publishTimeout = 5 * time.Second

// LocationService implements LocationServiceServer on top of a Coordinator.
type LocationService struct {
	coord     Coordinator
	modules   ModuleLister
	publisher publish.Publisher
	fixes     FixRecorder
	log       logging.Logger

	mu   sync.RWMutex
	last map[model.ModuleHandle]model.Location
}

var _ LocationServiceServer = (*LocationService)(nil)

// ServiceOption configures a LocationService.
type ServiceOption func(*LocationService)

// WithPublisher publishes every async fix through p.
func WithPublisher(p publish.Publisher) ServiceOption {
	return func(s *LocationService) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithFixRecorder reports publish results to r.
func WithFixRecorder(r FixRecorder) ServiceOption {
	return func(s *LocationService) {
		s.fixes = r
	}
}

// NewLocationService wires a LocationService to the coordinator and
// module catalogue.
func NewLocationService(coord Coordinator, modules ModuleLister, log logging.Logger, opts ...ServiceOption) *LocationService {
	if log == nil {
		log = logging.Noop()
	}
	s := &LocationService{
		coord:     coord,
		modules:   modules,
		publisher: publish.Noop{},
		log:       log,
		last:      make(map[model.ModuleHandle]model.Location),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *LocationService) ensureReady() error {
	if s == nil || s.coord == nil {
		return status.Error(codes.Unavailable, "location service is not initialised")
	}
	return nil
}

// GetLocation blocks until a fix, an error, the RPC deadline or the
// optional timeout_seconds.
func (s *LocationService) GetLocation(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	req, err := types.RequestFromStruct(in)
	if err != nil {
		return nil, ToStatusError(err)
	}
	timeout, err := types.TimeoutSecondsFromStruct(in)
	if err != nil {
		return nil, ToStatusError(err)
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
		defer cancel()
	}

	ctx, span := StartChildSpan(ctx, "LocationService.GetLocation", "module", handleID(req.Handle))
	defer span.End()

	loc, err := s.coord.AcquireLocationBlocking(ctx, req, nil)
	if err != nil {
		logging.FromContext(ctx, s.log).Info(ctx, "blocking acquisition failed",
			logging.Handle(req.Handle),
			logging.Err(err),
		)
		span.RecordError(err)
		return nil, ToStatusError(err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		types.FieldHandle:   structpb.NewNumberValue(float64(req.Handle)),
		types.FieldLocation: structpb.NewStructValue(types.LocationToStruct(loc)),
	}}, nil
}

// StartLocation begins an async acquisition. The fix is kept as the
// module's last location and handed to the publisher.
func (s *LocationService) StartLocation(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	req, err := types.RequestFromStruct(in)
	if err != nil {
		return nil, ToStatusError(err)
	}

	// The callback runs after this RPC returns; keep only its request ID.
	requestID := logging.RequestIDFromContext(ctx)
	if err := s.coord.StartLocationAsync(ctx, req, func(h model.ModuleHandle, loc model.Location) {
		s.deliver(requestID, h, loc)
	}); err != nil {
		return nil, ToStatusError(err)
	}

	logging.FromContext(ctx, s.log).Debug(ctx, "async acquisition started", logging.Handle(req.Handle))
	return types.StatusToStruct(req.Handle, s.coord.GetLocationStatus(req.Handle)), nil
}

func (s *LocationService) deliver(requestID string, h model.ModuleHandle, loc model.Location) {
	s.mu.Lock()
	s.last[h] = loc
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if requestID != "" {
		ctx = logging.ContextWithRequestID(ctx, requestID)
	}

	err := s.publisher.Publish(ctx, h, loc)
	if s.fixes != nil {
		s.fixes.FixPublished(err)
	}
	if err != nil {
		s.log.Warn(ctx, "failed to publish fix", logging.Handle(h), logging.Err(err))
	}
}

// GetStatus returns the module's current status.
func (s *LocationService) GetStatus(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	h, err := types.HandleFromStruct(in)
	if err != nil {
		return nil, ToStatusError(err)
	}
	return types.StatusToStruct(h, s.coord.GetLocationStatus(h)), nil
}

// StopLocation stops an async acquisition. Stopping an idle module is not
// an error.
func (s *LocationService) StopLocation(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	h, err := types.HandleFromStruct(in)
	if err != nil {
		return nil, ToStatusError(err)
	}
	s.coord.StopLocationAsync(h)
	logging.FromContext(ctx, s.log).Debug(ctx, "async acquisition stop requested", logging.Handle(h))
	return types.StatusToStruct(h, s.coord.GetLocationStatus(h)), nil
}

// GetLastLocation returns the last fix delivered to an async caller.
func (s *LocationService) GetLastLocation(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	h, err := types.HandleFromStruct(in)
	if err != nil {
		return nil, ToStatusError(err)
	}

	s.mu.RLock()
	loc, ok := s.last[h]
	s.mu.RUnlock()

	out := &structpb.Struct{Fields: map[string]*structpb.Value{
		types.FieldHandle: structpb.NewNumberValue(float64(h)),
		types.FieldFound:  structpb.NewBoolValue(ok),
	}}
	if ok {
		out.Fields[types.FieldLocation] = structpb.NewStructValue(types.LocationToStruct(loc))
	}
	return out, nil
}

// ListModules returns the module catalogue in handle order.
func (s *LocationService) ListModules(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	var mods []*structpb.Value
	if s.modules != nil {
		for _, d := range s.modules.List() {
			mods = append(mods, types.ModuleToStruct(d))
		}
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		types.FieldModules: structpb.NewListValue(&structpb.ListValue{Values: mods}),
	}}, nil
}

// ForgetModule drops the stored last fix for h, e.g. after the module
// leaves the catalogue.
func (s *LocationService) ForgetModule(h model.ModuleHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.last, h)
}

// Register attaches the service to a gRPC server.
func (s *LocationService) Register(server grpc.ServiceRegistrar) {
	RegisterLocationServiceServer(server, s)
}
