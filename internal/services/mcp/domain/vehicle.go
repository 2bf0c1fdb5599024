package domain

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	registryapi "github.com/louisbranch/vehicle-registry/internal/services/registry/api/grpc/registry"
	registrydomain "github.com/louisbranch/vehicle-registry/internal/services/registry/domain"
)

// VehicleIDInput represents the MCP tool input for single-vehicle lookups.
type VehicleIDInput struct {
	ID string `json:"id" jsonschema:"vehicle identifier"`
}

// VehicleIsRegisteredResult represents the MCP tool output for existence checks.
type VehicleIsRegisteredResult struct {
	ID         string `json:"id" jsonschema:"vehicle identifier"`
	Registered bool   `json:"registered" jsonschema:"whether the vehicle is registered"`
}

// VehicleResult represents one vehicle record.
type VehicleResult struct {
	ID           string `json:"id" jsonschema:"vehicle identifier"`
	Owner        string `json:"owner" jsonschema:"checksummed address of the current owner"`
	Model        string `json:"model" jsonschema:"vehicle model"`
	Manufacturer string `json:"manufacturer" jsonschema:"vehicle manufacturer"`
	RegisteredAt string `json:"registered_at" jsonschema:"RFC3339 timestamp of registration"`
	DocumentRef  string `json:"document_ref,omitempty" jsonschema:"optional reference to registration documents"`
}

// VehicleListInput represents the MCP tool input for listing vehicles.
type VehicleListInput struct {
	PageSize  int    `json:"page_size,omitempty" jsonschema:"maximum vehicles to return (default 50, max 200)"`
	PageToken string `json:"page_token,omitempty" jsonschema:"token from a previous page"`
	Filter    string `json:"filter,omitempty" jsonschema:"AIP-160 filter over owner, manufacturer and model, e.g. manufacturer = \"Honda\""`
}

// VehicleListResult represents the MCP tool output for listing vehicles.
type VehicleListResult struct {
	Vehicles      []VehicleResult `json:"vehicles" jsonschema:"vehicles ordered by id"`
	NextPageToken string          `json:"next_page_token,omitempty" jsonschema:"token for the next page, empty on the last page"`
}

// OwnershipEventResult represents one ownership history entry.
type OwnershipEventResult struct {
	Seq           int64  `json:"seq" jsonschema:"position in the history, starting at 1"`
	Kind          string `json:"kind" jsonschema:"registered or transferred"`
	PreviousOwner string `json:"previous_owner,omitempty" jsonschema:"owner before the event"`
	NewOwner      string `json:"new_owner" jsonschema:"owner after the event"`
	Actor         string `json:"actor" jsonschema:"principal that performed the event"`
	OccurredAt    string `json:"occurred_at" jsonschema:"RFC3339 timestamp of the event"`
	Hash          string `json:"hash" jsonschema:"chain hash of the event"`
}

// VehicleOwnershipHistoryResult represents the MCP tool output for ownership history.
type VehicleOwnershipHistoryResult struct {
	ID       string                 `json:"id" jsonschema:"vehicle identifier"`
	Events   []OwnershipEventResult `json:"events" jsonschema:"ownership events, oldest first"`
	Verified bool                   `json:"verified" jsonschema:"whether the history chain verified against the current record"`
	Reason   string                 `json:"reason,omitempty" jsonschema:"why verification failed"`
}

// VehicleIsRegisteredTool defines the MCP tool schema for existence checks.
func VehicleIsRegisteredTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "vehicle_is_registered",
		Description: "Reports whether a vehicle id is registered",
	}
}

// VehicleGetTool defines the MCP tool schema for reading a vehicle.
func VehicleGetTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "vehicle_get",
		Description: "Returns the registry record of a vehicle, including its current owner",
	}
}

// VehicleListTool defines the MCP tool schema for listing vehicles.
func VehicleListTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "vehicle_list",
		Description: "Lists registered vehicles ordered by id, optionally filtered by owner, manufacturer or model",
	}
}

// VehicleOwnershipHistoryTool defines the MCP tool schema for ownership history.
func VehicleOwnershipHistoryTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "vehicle_ownership_history",
		Description: "Returns the ownership history of a vehicle and whether its hash chain verifies",
	}
}

// VehicleIsRegisteredHandler executes an existence check.
func VehicleIsRegisteredHandler(reader RegistryReader) mcp.ToolHandlerFor[VehicleIDInput, VehicleIsRegisteredResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input VehicleIDInput) (*mcp.CallToolResult, VehicleIsRegisteredResult, error) {
		callCtx, cancel, err := newCallContext(ctx)
		if err != nil {
			return nil, VehicleIsRegisteredResult{}, err
		}
		defer cancel()

		registered, err := reader.IsRegistered(callCtx, input.ID)
		if err != nil {
			return nil, VehicleIsRegisteredResult{}, callError("vehicle is registered", err)
		}
		return nil, VehicleIsRegisteredResult{ID: registrydomain.NormalizeVehicleID(input.ID), Registered: registered}, nil
	}
}

// VehicleGetHandler executes a vehicle read.
func VehicleGetHandler(reader RegistryReader) mcp.ToolHandlerFor[VehicleIDInput, VehicleResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input VehicleIDInput) (*mcp.CallToolResult, VehicleResult, error) {
		callCtx, cancel, err := newCallContext(ctx)
		if err != nil {
			return nil, VehicleResult{}, err
		}
		defer cancel()

		vehicle, err := reader.GetVehicle(callCtx, input.ID)
		if err != nil {
			return nil, VehicleResult{}, callError("vehicle get", err)
		}
		return nil, vehicleResult(vehicle), nil
	}
}

// VehicleListHandler executes a vehicle listing.
func VehicleListHandler(reader RegistryReader) mcp.ToolHandlerFor[VehicleListInput, VehicleListResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input VehicleListInput) (*mcp.CallToolResult, VehicleListResult, error) {
		callCtx, cancel, err := newCallContext(ctx)
		if err != nil {
			return nil, VehicleListResult{}, err
		}
		defer cancel()

		page, err := reader.ListVehicles(callCtx, registryapi.ListRequest{
			PageSize:  input.PageSize,
			PageToken: input.PageToken,
			Filter:    input.Filter,
		})
		if err != nil {
			return nil, VehicleListResult{}, callError("vehicle list", err)
		}
		result := VehicleListResult{
			Vehicles:      make([]VehicleResult, 0, len(page.Vehicles)),
			NextPageToken: page.NextPageToken,
		}
		for _, vehicle := range page.Vehicles {
			result.Vehicles = append(result.Vehicles, vehicleResult(vehicle))
		}
		return nil, result, nil
	}
}

// VehicleOwnershipHistoryHandler lists and verifies a vehicle's ownership history.
func VehicleOwnershipHistoryHandler(reader RegistryReader) mcp.ToolHandlerFor[VehicleIDInput, VehicleOwnershipHistoryResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input VehicleIDInput) (*mcp.CallToolResult, VehicleOwnershipHistoryResult, error) {
		callCtx, cancel, err := newCallContext(ctx)
		if err != nil {
			return nil, VehicleOwnershipHistoryResult{}, err
		}
		defer cancel()

		events, verification, err := readVerifiedHistory(callCtx, reader, input.ID)
		if err != nil {
			return nil, VehicleOwnershipHistoryResult{}, err
		}

		result := VehicleOwnershipHistoryResult{
			ID:       registrydomain.NormalizeVehicleID(input.ID),
			Events:   make([]OwnershipEventResult, 0, len(events)),
			Verified: verification.Valid,
			Reason:   verification.Reason,
		}
		for _, event := range events {
			result.Events = append(result.Events, OwnershipEventResult{
				Seq:           event.Seq,
				Kind:          string(event.Kind),
				PreviousOwner: event.PreviousOwner.String(),
				NewOwner:      event.NewOwner.String(),
				Actor:         event.Actor.String(),
				OccurredAt:    formatTimestamp(event.OccurredAt),
				Hash:          event.Hash,
			})
		}
		return nil, result, nil
	}
}

const historyReadAttempts = 3

// readVerifiedHistory lists the events and verifies the chain as two calls.
// History is append-only, so equal event counts mean both calls saw the same
// chain; a transfer landing in between triggers another read.
func readVerifiedHistory(ctx context.Context, reader RegistryReader, vehicleID string) ([]registrydomain.OwnershipEvent, registrydomain.Verification, error) {
	for range historyReadAttempts {
		events, err := reader.ListOwnershipEvents(ctx, vehicleID)
		if err != nil {
			return nil, registrydomain.Verification{}, callError("vehicle ownership history", err)
		}
		verification, err := reader.VerifyOwnershipHistory(ctx, vehicleID)
		if err != nil {
			return nil, registrydomain.Verification{}, callError("vehicle ownership history", err)
		}
		if verification.Events == len(events) {
			return events, verification, nil
		}
	}
	return nil, registrydomain.Verification{}, fmt.Errorf("vehicle ownership history failed: history of %s kept changing during %d reads", vehicleID, historyReadAttempts)
}

func vehicleResult(vehicle registrydomain.Vehicle) VehicleResult {
	return VehicleResult{
		ID:           vehicle.ID,
		Owner:        vehicle.Owner.String(),
		Model:        vehicle.Model,
		Manufacturer: vehicle.Manufacturer,
		RegisteredAt: formatTimestamp(vehicle.RegisteredAt),
		DocumentRef:  vehicle.DocumentRef,
	}
}
