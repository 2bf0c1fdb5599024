// Package registry exposes the vehicle registry over gRPC.
//
// Messages are google.protobuf.Struct values keyed by snake_case field names,
// so the service descriptor is declared here instead of generated.
package registry

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "registry.v1.VehicleRegistryService"

// Full method names.
const (
	RegisterVehicleFullMethodName        = "/" + ServiceName + "/RegisterVehicle"
	TransferOwnershipFullMethodName      = "/" + ServiceName + "/TransferOwnership"
	IsRegisteredFullMethodName           = "/" + ServiceName + "/IsRegistered"
	GetVehicleFullMethodName             = "/" + ServiceName + "/GetVehicle"
	ListVehiclesFullMethodName           = "/" + ServiceName + "/ListVehicles"
	ListOwnershipEventsFullMethodName    = "/" + ServiceName + "/ListOwnershipEvents"
	VerifyOwnershipHistoryFullMethodName = "/" + ServiceName + "/VerifyOwnershipHistory"
)

// VehicleRegistryServer is the server API for the registry service.
type VehicleRegistryServer interface {
	RegisterVehicle(context.Context, *structpb.Struct) (*structpb.Struct, error)
	TransferOwnership(context.Context, *structpb.Struct) (*structpb.Struct, error)
	IsRegistered(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetVehicle(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListVehicles(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListOwnershipEvents(context.Context, *structpb.Struct) (*structpb.Struct, error)
	VerifyOwnershipHistory(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// IsReadMethod reports whether fullMethod only reads registry state. Reads
// are open to anonymous callers.
func IsReadMethod(fullMethod string) bool {
	switch fullMethod {
	case IsRegisteredFullMethodName,
		GetVehicleFullMethodName,
		ListVehiclesFullMethodName,
		ListOwnershipEventsFullMethodName,
		VerifyOwnershipHistoryFullMethodName:
		return true
	default:
		return false
	}
}

// RequiresCaller reports whether fullMethod needs an authenticated caller.
func RequiresCaller(fullMethod string) bool {
	switch fullMethod {
	case RegisterVehicleFullMethodName, TransferOwnershipFullMethodName:
		return true
	default:
		return false
	}
}

// RegisterVehicleRegistryServer registers srv on s.
func RegisterVehicleRegistryServer(s grpc.ServiceRegistrar, srv VehicleRegistryServer) {
	s.RegisterService(&VehicleRegistryServiceDesc, srv)
}

type unaryCall func(VehicleRegistryServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryCall) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(VehicleRegistryServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(VehicleRegistryServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// VehicleRegistryServiceDesc is the grpc.ServiceDesc for the registry service.
var VehicleRegistryServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*VehicleRegistryServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "RegisterVehicle",
			Handler:    unaryHandler(RegisterVehicleFullMethodName, VehicleRegistryServer.RegisterVehicle),
		},
		{
			MethodName: "TransferOwnership",
			Handler:    unaryHandler(TransferOwnershipFullMethodName, VehicleRegistryServer.TransferOwnership),
		},
		{
			MethodName: "IsRegistered",
			Handler:    unaryHandler(IsRegisteredFullMethodName, VehicleRegistryServer.IsRegistered),
		},
		{
			MethodName: "GetVehicle",
			Handler:    unaryHandler(GetVehicleFullMethodName, VehicleRegistryServer.GetVehicle),
		},
		{
			MethodName: "ListVehicles",
			Handler:    unaryHandler(ListVehiclesFullMethodName, VehicleRegistryServer.ListVehicles),
		},
		{
			MethodName: "ListOwnershipEvents",
			Handler:    unaryHandler(ListOwnershipEventsFullMethodName, VehicleRegistryServer.ListOwnershipEvents),
		},
		{
			MethodName: "VerifyOwnershipHistory",
			Handler:    unaryHandler(VerifyOwnershipHistoryFullMethodName, VehicleRegistryServer.VerifyOwnershipHistory),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "registry/v1/registry.proto",
}
