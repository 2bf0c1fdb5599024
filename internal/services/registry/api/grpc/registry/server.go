package registry

import (
	"context"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	apperrors "github.com/louisbranch/vehicle-registry/internal/platform/errors"
	"github.com/louisbranch/vehicle-registry/internal/platform/grpc/pagination"
	"github.com/louisbranch/vehicle-registry/internal/platform/requestctx"
	grpcmeta "github.com/louisbranch/vehicle-registry/internal/services/registry/api/grpc/metadata"
	"github.com/louisbranch/vehicle-registry/internal/services/registry/filter"
	"github.com/louisbranch/vehicle-registry/internal/services/registry/service"
	"github.com/louisbranch/vehicle-registry/internal/services/registry/storage"
)

const orderByID = "id"

// Server exposes registry.v1 gRPC operations.
type Server struct {
	registry *service.Service
}

var _ VehicleRegistryServer = (*Server)(nil)

// NewServer creates a gRPC server over the registry service.
func NewServer(registry *service.Service) *Server {
	return &Server{registry: registry}
}

// RegisterVehicle registers a vehicle on behalf of the authenticated caller.
func (s *Server) RegisterVehicle(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	caller, err := callerFromContext(ctx)
	if err != nil {
		return nil, handleError(ctx, err)
	}
	var input service.RegisterInput
	for _, f := range []struct {
		name string
		dst  *string
	}{
		{fieldID, &input.ID},
		{fieldOwner, &input.Owner},
		{fieldModel, &input.Model},
		{fieldManufacturer, &input.Manufacturer},
		{fieldDocumentRef, &input.DocumentRef},
	} {
		if *f.dst, err = stringField(in, f.name); err != nil {
			return nil, handleError(ctx, invalidRequest(err))
		}
	}

	vehicle, err := s.registry.Register(ctx, caller, input)
	if err != nil {
		return nil, handleError(ctx, err)
	}
	return response(map[string]any{fieldVehicle: vehicleValue(vehicle)})
}

// TransferOwnership moves a vehicle from the authenticated caller to new_owner.
func (s *Server) TransferOwnership(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	caller, err := callerFromContext(ctx)
	if err != nil {
		return nil, handleError(ctx, err)
	}
	vehicleID, err := stringField(in, fieldID)
	if err != nil {
		return nil, handleError(ctx, invalidRequest(err))
	}
	newOwner, err := stringField(in, fieldNewOwner)
	if err != nil {
		return nil, handleError(ctx, invalidRequest(err))
	}

	vehicle, err := s.registry.TransferOwnership(ctx, caller, vehicleID, newOwner)
	if err != nil {
		return nil, handleError(ctx, err)
	}
	return response(map[string]any{fieldVehicle: vehicleValue(vehicle)})
}

// IsRegistered reports whether an id is registered.
func (s *Server) IsRegistered(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	vehicleID, err := stringField(in, fieldID)
	if err != nil {
		return nil, handleError(ctx, invalidRequest(err))
	}
	registered, err := s.registry.IsRegistered(ctx, vehicleID)
	if err != nil {
		return nil, handleError(ctx, err)
	}
	return response(map[string]any{fieldRegistered: registered})
}

// GetVehicle returns one vehicle record.
func (s *Server) GetVehicle(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	vehicleID, err := stringField(in, fieldID)
	if err != nil {
		return nil, handleError(ctx, invalidRequest(err))
	}
	vehicle, err := s.registry.GetVehicle(ctx, vehicleID)
	if err != nil {
		return nil, handleError(ctx, err)
	}
	return response(map[string]any{fieldVehicle: vehicleValue(vehicle)})
}

// ListVehicles returns a page of vehicles ordered by id.
func (s *Server) ListVehicles(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	pageSize, err := intField(in, fieldPageSize)
	if err != nil {
		return nil, handleError(ctx, invalidRequest(err))
	}
	pageToken, err := stringField(in, fieldPageToken)
	if err != nil {
		return nil, handleError(ctx, invalidRequest(err))
	}
	filterStr, err := stringField(in, fieldFilter)
	if err != nil {
		return nil, handleError(ctx, invalidRequest(err))
	}
	orderBy, err := stringField(in, fieldOrderBy)
	if err != nil {
		return nil, handleError(ctx, invalidRequest(err))
	}
	if _, err := pagination.NormalizeOrderBy(orderBy, pagination.OrderByConfig{
		Default: orderByID,
		Allowed: []string{orderByID, orderByID + " asc"},
	}); err != nil {
		return nil, handleError(ctx, invalidRequest(err))
	}

	afterID, err := pagination.DecodePageToken(pageToken)
	if err != nil {
		return nil, handleError(ctx, apperrors.Wrap(apperrors.CodeInvalidPageToken, err.Error(), err))
	}
	vehicleFilter, err := filter.ParseVehicleFilter(filterStr)
	if err != nil {
		return nil, handleError(ctx, &apperrors.Error{
			Code:     apperrors.CodeInvalidListFilter,
			Message:  fmt.Sprintf("invalid filter: %v", err),
			Metadata: map[string]string{"Reason": err.Error()},
			Cause:    err,
		})
	}

	page, err := s.registry.ListVehicles(ctx, storage.ListQuery{
		PageSize: int(pageSize),
		AfterID:  afterID,
		Filter:   vehicleFilter,
	})
	if err != nil {
		return nil, handleError(ctx, err)
	}
	vehicles := make([]any, 0, len(page.Vehicles))
	for _, vehicle := range page.Vehicles {
		vehicles = append(vehicles, vehicleValue(vehicle))
	}
	return response(map[string]any{
		fieldVehicles:      vehicles,
		fieldNextPageToken: pagination.EncodePageToken(page.NextAfterID),
	})
}

// ListOwnershipEvents returns the ownership history of a vehicle.
func (s *Server) ListOwnershipEvents(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	vehicleID, err := stringField(in, fieldID)
	if err != nil {
		return nil, handleError(ctx, invalidRequest(err))
	}
	events, err := s.registry.ListOwnershipEvents(ctx, vehicleID)
	if err != nil {
		return nil, handleError(ctx, err)
	}
	values := make([]any, 0, len(events))
	for _, event := range events {
		values = append(values, eventValue(event))
	}
	return response(map[string]any{fieldEvents: values})
}

// VerifyOwnershipHistory checks the history chain of a vehicle.
func (s *Server) VerifyOwnershipHistory(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	vehicleID, err := stringField(in, fieldID)
	if err != nil {
		return nil, handleError(ctx, invalidRequest(err))
	}
	result, err := s.registry.VerifyOwnershipHistory(ctx, vehicleID)
	if err != nil {
		return nil, handleError(ctx, err)
	}
	return response(verificationValue(result))
}

func (s *Server) ready() error {
	if s == nil || s.registry == nil {
		return status.Error(codes.Internal, "registry service is not configured")
	}
	return nil
}

func callerFromContext(ctx context.Context) (string, error) {
	caller, ok := requestctx.CallerFromContext(ctx)
	if !ok {
		return "", apperrors.New(apperrors.CodeUnauthenticated, "caller token is required")
	}
	return caller, nil
}

func invalidRequest(err error) error {
	return &apperrors.Error{
		Code:     apperrors.CodeInvalidInput,
		Message:  err.Error(),
		Metadata: map[string]string{"Reason": err.Error()},
		Cause:    err,
	}
}

func handleError(ctx context.Context, err error) error {
	return apperrors.HandleError(err, grpcmeta.LocaleFromContext(ctx))
}

func response(fields map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}
