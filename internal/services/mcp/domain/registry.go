package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	apperrors "github.com/louisbranch/vehicle-registry/internal/platform/errors"
	"github.com/louisbranch/vehicle-registry/internal/platform/id"
	"github.com/louisbranch/vehicle-registry/internal/platform/timeouts"
	registryapi "github.com/louisbranch/vehicle-registry/internal/services/registry/api/grpc/registry"
	grpcmeta "github.com/louisbranch/vehicle-registry/internal/services/registry/api/grpc/metadata"
	registrydomain "github.com/louisbranch/vehicle-registry/internal/services/registry/domain"
)

// RegistryReader is the read side of the registry gRPC client.
type RegistryReader interface {
	IsRegistered(ctx context.Context, vehicleID string, opts ...grpc.CallOption) (bool, error)
	GetVehicle(ctx context.Context, vehicleID string, opts ...grpc.CallOption) (registrydomain.Vehicle, error)
	ListVehicles(ctx context.Context, req registryapi.ListRequest, opts ...grpc.CallOption) (registryapi.ListResponse, error)
	ListOwnershipEvents(ctx context.Context, vehicleID string, opts ...grpc.CallOption) ([]registrydomain.OwnershipEvent, error)
	VerifyOwnershipHistory(ctx context.Context, vehicleID string, opts ...grpc.CallOption) (registrydomain.Verification, error)
}

var _ RegistryReader = (*registryapi.Client)(nil)

// RegisterTools adds every registry tool to server.
func RegisterTools(server *mcp.Server, reader RegistryReader) {
	mcp.AddTool(server, VehicleIsRegisteredTool(), VehicleIsRegisteredHandler(reader))
	mcp.AddTool(server, VehicleGetTool(), VehicleGetHandler(reader))
	mcp.AddTool(server, VehicleListTool(), VehicleListHandler(reader))
	mcp.AddTool(server, VehicleOwnershipHistoryTool(), VehicleOwnershipHistoryHandler(reader))
}

// newCallContext bounds a registry call and tags it with a fresh request id.
func newCallContext(ctx context.Context) (context.Context, context.CancelFunc, error) {
	requestID, err := id.NewID()
	if err != nil {
		return nil, nil, fmt.Errorf("generate request id: %w", err)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeouts.GRPCRequest)
	return metadata.AppendToOutgoingContext(callCtx, grpcmeta.RequestIDHeader, requestID), cancel, nil
}

// callError names the failed tool and keeps the registry code when present.
func callError(tool string, err error) error {
	if appErr := apperrors.FromGRPCStatus(err); appErr != nil {
		return fmt.Errorf("%s failed: %s (%s)", tool, appErr.Message, appErr.Code)
	}
	return fmt.Errorf("%s failed: %w", tool, err)
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
