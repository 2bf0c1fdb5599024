package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	apperrors "github.com/louisbranch/vehicle-registry/internal/platform/errors"
	registryapi "github.com/louisbranch/vehicle-registry/internal/services/registry/api/grpc/registry"
	grpcmeta "github.com/louisbranch/vehicle-registry/internal/services/registry/api/grpc/metadata"
	registrydomain "github.com/louisbranch/vehicle-registry/internal/services/registry/domain"
)

var (
	admin = registrydomain.MustParseAddress("0x" + strings.Repeat("ad", 20))
	alice = registrydomain.MustParseAddress("0x" + strings.Repeat("a1", 20))
	bob   = registrydomain.MustParseAddress("0x" + strings.Repeat("b0", 20))
)

type fakeReader struct {
	vehicles     map[string]registrydomain.Vehicle
	events       map[string][]registrydomain.OwnershipEvent
	lastRequest  string
	lastList     registryapi.ListRequest
	listResponse registryapi.ListResponse
	err          error
	// afterEvents runs after each ListOwnershipEvents answer.
	afterEvents func()
}

func (f *fakeReader) record(ctx context.Context) {
	md, _ := metadata.FromOutgoingContext(ctx)
	if values := md.Get(grpcmeta.RequestIDHeader); len(values) > 0 {
		f.lastRequest = values[0]
	}
}

func (f *fakeReader) IsRegistered(ctx context.Context, vehicleID string, _ ...grpc.CallOption) (bool, error) {
	f.record(ctx)
	if f.err != nil {
		return false, f.err
	}
	_, ok := f.vehicles[vehicleID]
	return ok, nil
}

func (f *fakeReader) GetVehicle(ctx context.Context, vehicleID string, _ ...grpc.CallOption) (registrydomain.Vehicle, error) {
	f.record(ctx)
	if f.err != nil {
		return registrydomain.Vehicle{}, f.err
	}
	vehicle, ok := f.vehicles[vehicleID]
	if !ok {
		return registrydomain.Vehicle{}, notFoundStatus(vehicleID)
	}
	return vehicle, nil
}

func (f *fakeReader) ListVehicles(ctx context.Context, req registryapi.ListRequest, _ ...grpc.CallOption) (registryapi.ListResponse, error) {
	f.record(ctx)
	f.lastList = req
	return f.listResponse, f.err
}

func (f *fakeReader) ListOwnershipEvents(ctx context.Context, vehicleID string, _ ...grpc.CallOption) ([]registrydomain.OwnershipEvent, error) {
	f.record(ctx)
	if f.err != nil {
		return nil, f.err
	}
	events, ok := f.events[vehicleID]
	if !ok {
		return nil, notFoundStatus(vehicleID)
	}
	events = append([]registrydomain.OwnershipEvent(nil), events...)
	if f.afterEvents != nil {
		f.afterEvents()
	}
	return events, nil
}

// transfer appends a transfer of vehicleID to the fixture and moves its owner.
func (f *fakeReader) transfer(vehicleID string, to registrydomain.Address) {
	history := f.events[vehicleID]
	head := history[len(history)-1]
	next := registrydomain.NextEvent(head, registrydomain.OwnershipChange{
		EventID:    fmt.Sprintf("evt-%d", head.Seq+1),
		VehicleID:  vehicleID,
		NewOwner:   to,
		Actor:      head.NewOwner,
		OccurredAt: head.OccurredAt.Add(time.Hour),
	})
	f.events[vehicleID] = append(history, next)
	vehicle := f.vehicles[vehicleID]
	vehicle.Owner = to
	f.vehicles[vehicleID] = vehicle
}

func (f *fakeReader) VerifyOwnershipHistory(ctx context.Context, vehicleID string, _ ...grpc.CallOption) (registrydomain.Verification, error) {
	vehicle := f.vehicles[vehicleID]
	return registrydomain.VerifyHistory(vehicle, f.events[vehicleID]), nil
}

func notFoundStatus(vehicleID string) error {
	return apperrors.WithMetadata(apperrors.CodeNotFound, "vehicle "+vehicleID+" not found", map[string]string{"VehicleID": vehicleID}).ToGRPCStatus("")
}

func newFixtureReader() *fakeReader {
	registeredAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	vehicle := registrydomain.Vehicle{
		ID:           "VIN123",
		Owner:        bob,
		Model:        "Civic",
		Manufacturer: "Honda",
		RegisteredAt: registeredAt,
	}
	genesis := registrydomain.GenesisEvent(registrydomain.OwnershipChange{
		EventID:    "evt-1",
		VehicleID:  "VIN123",
		NewOwner:   alice,
		Actor:      admin,
		OccurredAt: registeredAt,
	})
	transfer := registrydomain.NextEvent(genesis, registrydomain.OwnershipChange{
		EventID:    "evt-2",
		VehicleID:  "VIN123",
		NewOwner:   bob,
		Actor:      alice,
		OccurredAt: registeredAt.Add(time.Hour),
	})
	return &fakeReader{
		vehicles: map[string]registrydomain.Vehicle{"VIN123": vehicle},
		events:   map[string][]registrydomain.OwnershipEvent{"VIN123": {genesis, transfer}},
	}
}

func connect(t *testing.T, reader RegistryReader) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	server := mcp.NewServer(&mcp.Implementation{Name: "registry-test", Version: "v0.0.1"}, nil)
	RegisterTools(server, reader)

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	serverSession, err := server.Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatalf("connect server: %v", err)
	}
	client := mcp.NewClient(&mcp.Implementation{Name: "client", Version: "v0.0.1"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("connect client: %v", err)
	}
	t.Cleanup(func() {
		_ = session.Close()
		_ = serverSession.Wait()
	})
	return session
}

func callTool[T any](t *testing.T, session *mcp.ClientSession, name string, args map[string]any) T {
	t.Helper()
	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("call %s: %v", name, err)
	}
	if res.IsError {
		t.Fatalf("call %s returned tool error: %s", name, toolText(res))
	}
	payload, err := json.Marshal(res.StructuredContent)
	if err != nil {
		t.Fatalf("marshal structured content: %v", err)
	}
	var out T
	if err := json.Unmarshal(payload, &out); err != nil {
		t.Fatalf("decode %s result: %v", name, err)
	}
	return out
}

func toolText(res *mcp.CallToolResult) string {
	var parts []string
	for _, content := range res.Content {
		if text, ok := content.(*mcp.TextContent); ok {
			parts = append(parts, text.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func TestListsRegistryTools(t *testing.T) {
	session := connect(t, newFixtureReader())
	res, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("list tools: %v", err)
	}
	names := map[string]bool{}
	for _, tool := range res.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{"vehicle_is_registered", "vehicle_get", "vehicle_list", "vehicle_ownership_history"} {
		if !names[want] {
			t.Fatalf("missing tool %q in %v", want, names)
		}
	}
	if len(res.Tools) != 4 {
		t.Fatalf("tools = %d, want 4", len(res.Tools))
	}
}

func TestVehicleIsRegisteredTool(t *testing.T) {
	reader := newFixtureReader()
	session := connect(t, reader)

	got := callTool[VehicleIsRegisteredResult](t, session, "vehicle_is_registered", map[string]any{"id": "VIN123"})
	if !got.Registered || got.ID != "VIN123" {
		t.Fatalf("result = %+v", got)
	}
	if reader.lastRequest == "" {
		t.Fatal("expected request id on outgoing call")
	}
	got = callTool[VehicleIsRegisteredResult](t, session, "vehicle_is_registered", map[string]any{"id": "VIN999"})
	if got.Registered {
		t.Fatalf("result = %+v, want unregistered", got)
	}
}

func TestVehicleGetTool(t *testing.T) {
	session := connect(t, newFixtureReader())

	got := callTool[VehicleResult](t, session, "vehicle_get", map[string]any{"id": "VIN123"})
	want := VehicleResult{
		ID:           "VIN123",
		Owner:        bob.String(),
		Model:        "Civic",
		Manufacturer: "Honda",
		RegisteredAt: "2026-01-02T03:04:05Z",
	}
	if got != want {
		t.Fatalf("vehicle = %+v, want %+v", got, want)
	}

	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: "vehicle_get", Arguments: map[string]any{"id": "VIN404"}})
	if err != nil {
		t.Fatalf("call vehicle_get: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected tool error for missing vehicle")
	}
	if text := toolText(res); !strings.Contains(text, string(apperrors.CodeNotFound)) {
		t.Fatalf("error text = %q, want code %s", text, apperrors.CodeNotFound)
	}
}

func TestVehicleListTool(t *testing.T) {
	reader := newFixtureReader()
	reader.listResponse = registryapi.ListResponse{
		Vehicles:      []registrydomain.Vehicle{reader.vehicles["VIN123"]},
		NextPageToken: "next",
	}
	session := connect(t, reader)

	got := callTool[VehicleListResult](t, session, "vehicle_list", map[string]any{
		"page_size": 1,
		"filter":    `manufacturer = "Honda"`,
	})
	if len(got.Vehicles) != 1 || got.Vehicles[0].ID != "VIN123" || got.NextPageToken != "next" {
		t.Fatalf("result = %+v", got)
	}
	if reader.lastList.PageSize != 1 || reader.lastList.Filter != `manufacturer = "Honda"` {
		t.Fatalf("list request = %+v", reader.lastList)
	}

	reader.listResponse = registryapi.ListResponse{}
	empty := callTool[VehicleListResult](t, session, "vehicle_list", map[string]any{})
	if empty.Vehicles == nil || len(empty.Vehicles) != 0 {
		t.Fatalf("empty result = %+v, want empty list", empty)
	}
}

func TestVehicleOwnershipHistoryTool(t *testing.T) {
	reader := newFixtureReader()
	session := connect(t, reader)

	got := callTool[VehicleOwnershipHistoryResult](t, session, "vehicle_ownership_history", map[string]any{"id": "VIN123"})
	if !got.Verified {
		t.Fatalf("expected verified history, reason %q", got.Reason)
	}
	if len(got.Events) != 2 {
		t.Fatalf("events = %d, want 2", len(got.Events))
	}
	if got.Events[1].PreviousOwner != alice.String() || got.Events[1].NewOwner != bob.String() || got.Events[1].Kind != "transferred" {
		t.Fatalf("transfer event = %+v", got.Events[1])
	}

	tampered := reader.vehicles["VIN123"]
	tampered.Owner = alice
	reader.vehicles["VIN123"] = tampered
	got = callTool[VehicleOwnershipHistoryResult](t, session, "vehicle_ownership_history", map[string]any{"id": "VIN123"})
	if got.Verified || got.Reason == "" {
		t.Fatalf("expected failed verification, got %+v", got)
	}
}

func TestVehicleOwnershipHistoryRereadsAfterConcurrentTransfer(t *testing.T) {
	reader := newFixtureReader()
	reads := 0
	reader.afterEvents = func() {
		reads++
		if reads == 1 {
			reader.transfer("VIN123", alice)
		}
	}
	session := connect(t, reader)

	got := callTool[VehicleOwnershipHistoryResult](t, session, "vehicle_ownership_history", map[string]any{"id": "VIN123"})
	if reads != 2 {
		t.Fatalf("event reads = %d, want 2", reads)
	}
	if !got.Verified || len(got.Events) != 3 {
		t.Fatalf("history = %d events verified %v, want 3 verified", len(got.Events), got.Verified)
	}
	if last := got.Events[2]; last.NewOwner != alice.String() || last.Seq != 3 {
		t.Fatalf("last event = %+v", last)
	}
}

func TestVehicleOwnershipHistoryGivesUpOnChurn(t *testing.T) {
	reader := newFixtureReader()
	owners := []registrydomain.Address{alice, bob}
	reads := 0
	reader.afterEvents = func() {
		reader.transfer("VIN123", owners[reads%len(owners)])
		reads++
	}
	session := connect(t, reader)

	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: "vehicle_ownership_history", Arguments: map[string]any{"id": "VIN123"}})
	if err != nil {
		t.Fatalf("call vehicle_ownership_history: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected tool error while history keeps changing")
	}
	if reads != historyReadAttempts {
		t.Fatalf("event reads = %d, want %d", reads, historyReadAttempts)
	}
	if text := toolText(res); !strings.Contains(text, "kept changing") {
		t.Fatalf("error text = %q", text)
	}
}

func TestCallErrorWithoutRegistryDetails(t *testing.T) {
	err := callError("vehicle get", errors.New("connection refused"))
	if !strings.Contains(err.Error(), "vehicle get failed: connection refused") {
		t.Fatalf("error = %v", err)
	}
}
