package nbi

import (
	"context"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/location-coordinator/model"
)

// LocationServiceName is the fully-qualified gRPC service name.
const LocationServiceName = "signalsfoundry.location.v1.LocationService"

// Method names on LocationService.
const (
	MethodGetLocation     = "GetLocation"
	MethodStartLocation   = "StartLocation"
	MethodGetStatus       = "GetStatus"
	MethodStopLocation    = "StopLocation"
	MethodGetLastLocation = "GetLastLocation"
	MethodListModules     = "ListModules"
)

// LocationServiceServer is the server API for LocationService. Every
// method exchanges google.protobuf.Struct payloads.
type LocationServiceServer interface {
	GetLocation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StartLocation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StopLocation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetLastLocation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListModules(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(LocationServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func fullMethod(method string) string {
	return "/" + LocationServiceName + "/" + method
}

func unaryHandler(method string, call unaryCall) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(LocationServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(LocationServiceServer), ctx, req.(*structpb.Struct))
		})
	}
}

// LocationServiceDesc describes LocationService for grpc.Server.RegisterService.
var LocationServiceDesc = grpc.ServiceDesc{
	ServiceName: LocationServiceName,
	HandlerType: (*LocationServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: MethodGetLocation, Handler: unaryHandler(MethodGetLocation, LocationServiceServer.GetLocation)},
		{MethodName: MethodStartLocation, Handler: unaryHandler(MethodStartLocation, LocationServiceServer.StartLocation)},
		{MethodName: MethodGetStatus, Handler: unaryHandler(MethodGetStatus, LocationServiceServer.GetStatus)},
		{MethodName: MethodStopLocation, Handler: unaryHandler(MethodStopLocation, LocationServiceServer.StopLocation)},
		{MethodName: MethodGetLastLocation, Handler: unaryHandler(MethodGetLastLocation, LocationServiceServer.GetLastLocation)},
		{MethodName: MethodListModules, Handler: unaryHandler(MethodListModules, LocationServiceServer.ListModules)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "signalsfoundry/location/v1/location.proto",
}

// RegisterLocationServiceServer registers srv on s.
func RegisterLocationServiceServer(s grpc.ServiceRegistrar, srv LocationServiceServer) {
	s.RegisterService(&LocationServiceDesc, srv)
}

// LocationClient calls LocationService over a client connection.
type LocationClient struct {
	cc grpc.ClientConnInterface
}

// NewLocationClient wraps cc.
func NewLocationClient(cc grpc.ClientConnInterface) *LocationClient {
	return &LocationClient{cc: cc}
}

// Call invokes method with in and returns the response payload.
func (c *LocationClient) Call(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if in == nil {
		in = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func handleID(h model.ModuleHandle) string {
	return strconv.Itoa(int(h))
}
