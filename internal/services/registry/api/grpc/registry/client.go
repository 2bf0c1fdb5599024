package registry

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/louisbranch/vehicle-registry/internal/services/registry/domain"
	"github.com/louisbranch/vehicle-registry/internal/services/registry/service"
)

// Client is a typed client for the registry gRPC service. Errors are the
// gRPC status errors returned by the server; use apperrors.FromGRPCStatus to
// recover the registry code.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient creates a Client over conn.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// ListRequest selects one page of vehicles.
type ListRequest struct {
	PageSize  int
	PageToken string
	// Filter is an AIP-160 expression over owner, manufacturer and model.
	Filter string
}

// ListResponse is one page of vehicles.
type ListResponse struct {
	Vehicles      []domain.Vehicle
	NextPageToken string
}

// RegisterVehicle registers a vehicle. The call must carry the admin's token.
func (c *Client) RegisterVehicle(ctx context.Context, input service.RegisterInput, opts ...grpc.CallOption) (domain.Vehicle, error) {
	out, err := c.invoke(ctx, RegisterVehicleFullMethodName, map[string]any{
		fieldID:           input.ID,
		fieldOwner:        input.Owner,
		fieldModel:        input.Model,
		fieldManufacturer: input.Manufacturer,
		fieldDocumentRef:  input.DocumentRef,
	}, opts...)
	if err != nil {
		return domain.Vehicle{}, err
	}
	return vehicleFromStruct(out.GetFields()[fieldVehicle].GetStructValue())
}

// TransferOwnership moves vehicleID to newOwner. The call must carry the
// current owner's token.
func (c *Client) TransferOwnership(ctx context.Context, vehicleID, newOwner string, opts ...grpc.CallOption) (domain.Vehicle, error) {
	out, err := c.invoke(ctx, TransferOwnershipFullMethodName, map[string]any{
		fieldID:       vehicleID,
		fieldNewOwner: newOwner,
	}, opts...)
	if err != nil {
		return domain.Vehicle{}, err
	}
	return vehicleFromStruct(out.GetFields()[fieldVehicle].GetStructValue())
}

// IsRegistered reports whether vehicleID is registered.
func (c *Client) IsRegistered(ctx context.Context, vehicleID string, opts ...grpc.CallOption) (bool, error) {
	out, err := c.invoke(ctx, IsRegisteredFullMethodName, map[string]any{fieldID: vehicleID}, opts...)
	if err != nil {
		return false, err
	}
	return out.GetFields()[fieldRegistered].GetBoolValue(), nil
}

// GetVehicle returns the record for vehicleID.
func (c *Client) GetVehicle(ctx context.Context, vehicleID string, opts ...grpc.CallOption) (domain.Vehicle, error) {
	out, err := c.invoke(ctx, GetVehicleFullMethodName, map[string]any{fieldID: vehicleID}, opts...)
	if err != nil {
		return domain.Vehicle{}, err
	}
	return vehicleFromStruct(out.GetFields()[fieldVehicle].GetStructValue())
}

// ListVehicles returns one page of vehicles.
func (c *Client) ListVehicles(ctx context.Context, req ListRequest, opts ...grpc.CallOption) (ListResponse, error) {
	in := map[string]any{}
	if req.PageSize > 0 {
		in[fieldPageSize] = req.PageSize
	}
	if req.PageToken != "" {
		in[fieldPageToken] = req.PageToken
	}
	if req.Filter != "" {
		in[fieldFilter] = req.Filter
	}
	out, err := c.invoke(ctx, ListVehiclesFullMethodName, in, opts...)
	if err != nil {
		return ListResponse{}, err
	}

	values := out.GetFields()[fieldVehicles].GetListValue().GetValues()
	resp := ListResponse{
		Vehicles:      make([]domain.Vehicle, 0, len(values)),
		NextPageToken: out.GetFields()[fieldNextPageToken].GetStringValue(),
	}
	for _, value := range values {
		vehicle, err := vehicleFromStruct(value.GetStructValue())
		if err != nil {
			return ListResponse{}, err
		}
		resp.Vehicles = append(resp.Vehicles, vehicle)
	}
	return resp, nil
}

// ListOwnershipEvents returns the ownership history of vehicleID, oldest first.
func (c *Client) ListOwnershipEvents(ctx context.Context, vehicleID string, opts ...grpc.CallOption) ([]domain.OwnershipEvent, error) {
	out, err := c.invoke(ctx, ListOwnershipEventsFullMethodName, map[string]any{fieldID: vehicleID}, opts...)
	if err != nil {
		return nil, err
	}
	values := out.GetFields()[fieldEvents].GetListValue().GetValues()
	events := make([]domain.OwnershipEvent, 0, len(values))
	for _, value := range values {
		event, err := eventFromStruct(value.GetStructValue())
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

// VerifyOwnershipHistory checks the ownership history of vehicleID.
func (c *Client) VerifyOwnershipHistory(ctx context.Context, vehicleID string, opts ...grpc.CallOption) (domain.Verification, error) {
	out, err := c.invoke(ctx, VerifyOwnershipHistoryFullMethodName, map[string]any{fieldID: vehicleID}, opts...)
	if err != nil {
		return domain.Verification{}, err
	}
	return verificationFromStruct(out), nil
}

func (c *Client) invoke(ctx context.Context, method string, fields map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if c == nil || c.conn == nil {
		return nil, fmt.Errorf("registry client is not connected")
	}
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
