package registry

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	grpcmetadata "google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	apperrors "github.com/louisbranch/vehicle-registry/internal/platform/errors"
	"github.com/louisbranch/vehicle-registry/internal/services/registry/api/grpc/auth"
	"github.com/louisbranch/vehicle-registry/internal/services/registry/api/grpc/interceptors"
	grpcmeta "github.com/louisbranch/vehicle-registry/internal/services/registry/api/grpc/metadata"
	"github.com/louisbranch/vehicle-registry/internal/services/registry/domain"
	"github.com/louisbranch/vehicle-registry/internal/services/registry/service"
	"github.com/louisbranch/vehicle-registry/internal/services/registry/storage/memory"
	"github.com/louisbranch/vehicle-registry/internal/services/registry/storage/storagetest"
)

var fixedNow = time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC)

type harness struct {
	client *Client
	signer auth.SignerConfig
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	svc, err := service.New(memory.New(), storagetest.Admin.String(),
		service.WithClock(func() time.Time { return fixedNow }),
		service.WithLogf(func(string, ...any) {}),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	verifier, err := auth.NewVerifier(auth.Config{Issuer: "test", Audience: "registry", Key: pub})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		grpcmeta.UnaryServerInterceptor(nil),
		auth.UnaryServerInterceptor(verifier, RequiresCaller),
		interceptors.AuditInterceptor(func(string, ...any) {}, IsReadMethod),
	))
	RegisterVehicleRegistryServer(grpcServer, NewServer(svc))

	listener := bufconn.Listen(1 << 20)
	go func() {
		_ = grpcServer.Serve(listener)
	}()
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufconn: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
		grpcServer.Stop()
	})

	return &harness{
		client: NewClient(conn),
		signer: auth.SignerConfig{Issuer: "test", Audience: "registry", Key: priv},
	}
}

func (h *harness) as(t *testing.T, caller domain.Address) grpc.CallOption {
	t.Helper()
	token, err := auth.MintToken(h.signer, caller, time.Hour)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return grpc.PerRPCCredentials(auth.BearerToken(token))
}

func (h *harness) register(t *testing.T, id string, owner domain.Address, manufacturer string) domain.Vehicle {
	t.Helper()
	vehicle, err := h.client.RegisterVehicle(context.Background(), service.RegisterInput{
		ID:           id,
		Owner:        owner.String(),
		Model:        "Model " + id,
		Manufacturer: manufacturer,
		DocumentRef:  "ipfs://" + id,
	}, h.as(t, storagetest.Admin))
	if err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
	return vehicle
}

func requireCode(t *testing.T, err error, want codes.Code, wantReason apperrors.Code) {
	t.Helper()
	if status.Code(err) != want {
		t.Fatalf("code = %v, want %v (err %v)", status.Code(err), want, err)
	}
	if wantReason == "" {
		return
	}
	appErr := apperrors.FromGRPCStatus(err)
	if appErr == nil {
		t.Fatalf("expected registry error details on %v", err)
	}
	if appErr.Code != wantReason {
		t.Fatalf("reason = %v, want %v", appErr.Code, wantReason)
	}
}

func TestRegisterGetAndTransfer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	registered := h.register(t, "VIN123", storagetest.Alice, "Honda")
	if registered.Owner != storagetest.Alice {
		t.Fatalf("owner = %s, want %s", registered.Owner, storagetest.Alice)
	}
	if !registered.RegisteredAt.Equal(fixedNow) {
		t.Fatalf("registered at = %v, want %v", registered.RegisteredAt, fixedNow)
	}

	got, err := h.client.GetVehicle(ctx, "VIN123")
	if err != nil {
		t.Fatalf("get vehicle: %v", err)
	}
	if got.ID != "VIN123" || got.Model != "Model VIN123" || got.Manufacturer != "Honda" || got.DocumentRef != "ipfs://VIN123" {
		t.Fatalf("vehicle = %+v", got)
	}

	ok, err := h.client.IsRegistered(ctx, "VIN123")
	if err != nil || !ok {
		t.Fatalf("is registered = %v, %v; want true", ok, err)
	}
	ok, err = h.client.IsRegistered(ctx, "VIN999")
	if err != nil || ok {
		t.Fatalf("is registered = %v, %v; want false", ok, err)
	}

	transferred, err := h.client.TransferOwnership(ctx, "VIN123", storagetest.Bob.String(), h.as(t, storagetest.Alice))
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if transferred.Owner != storagetest.Bob {
		t.Fatalf("owner = %s, want %s", transferred.Owner, storagetest.Bob)
	}
	if transferred.Model != got.Model || !transferred.RegisteredAt.Equal(got.RegisteredAt) {
		t.Fatalf("transfer changed immutable fields: %+v", transferred)
	}

	_, err = h.client.TransferOwnership(ctx, "VIN123", storagetest.Carol.String(), h.as(t, storagetest.Alice))
	requireCode(t, err, codes.PermissionDenied, apperrors.CodeNotCurrentOwner)
	if !errors.Is(apperrors.FromGRPCStatus(err), service.ErrUnauthorized) {
		t.Fatal("expected unauthorized kind from status")
	}
}

func TestRegisterFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	input := service.RegisterInput{ID: "VIN1", Owner: storagetest.Alice.String(), Model: "Civic", Manufacturer: "Honda"}

	_, err := h.client.RegisterVehicle(ctx, input)
	requireCode(t, err, codes.Unauthenticated, apperrors.CodeUnauthenticated)

	_, err = h.client.RegisterVehicle(ctx, input, h.as(t, storagetest.Alice))
	requireCode(t, err, codes.PermissionDenied, apperrors.CodeNotAdmin)

	bad := input
	bad.Owner = "alice"
	_, err = h.client.RegisterVehicle(ctx, bad, h.as(t, storagetest.Admin))
	requireCode(t, err, codes.InvalidArgument, apperrors.CodeInvalidAddress)

	if _, err := h.client.RegisterVehicle(ctx, input, h.as(t, storagetest.Admin)); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err = h.client.RegisterVehicle(ctx, input, h.as(t, storagetest.Admin))
	requireCode(t, err, codes.AlreadyExists, apperrors.CodeAlreadyRegistered)

	_, err = h.client.TransferOwnership(ctx, "VIN1", storagetest.Bob.String())
	requireCode(t, err, codes.Unauthenticated, apperrors.CodeUnauthenticated)
}

func TestReadFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.client.GetVehicle(ctx, "VIN404")
	requireCode(t, err, codes.NotFound, apperrors.CodeNotFound)

	_, err = h.client.IsRegistered(ctx, "")
	requireCode(t, err, codes.InvalidArgument, apperrors.CodeInvalidVehicleID)

	_, err = h.client.ListOwnershipEvents(ctx, "VIN404")
	requireCode(t, err, codes.NotFound, apperrors.CodeNotFound)

	_, err = h.client.VerifyOwnershipHistory(ctx, "VIN404")
	requireCode(t, err, codes.NotFound, apperrors.CodeNotFound)
}

func TestLocalizedErrors(t *testing.T) {
	h := newHarness(t)
	ctx := grpcmetadata.AppendToOutgoingContext(context.Background(), grpcmeta.LocaleHeader, "pt-BR")

	_, err := h.client.GetVehicle(ctx, "VIN404")
	st, _ := status.FromError(err)
	var localized *errdetails.LocalizedMessage
	for _, detail := range st.Details() {
		if msg, ok := detail.(*errdetails.LocalizedMessage); ok {
			localized = msg
		}
	}
	if localized == nil {
		t.Fatal("expected localized message detail")
	}
	if localized.GetLocale() != "pt-BR" {
		t.Fatalf("locale = %q, want pt-BR", localized.GetLocale())
	}
	if localized.GetMessage() != "Veículo VIN404 não encontrado." {
		t.Fatalf("message = %q", localized.GetMessage())
	}
}

func TestListVehiclesPagingAndFilter(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i, manufacturer := range []string{"Honda", "Ford", "Honda"} {
		h.register(t, fmt.Sprintf("VIN%d", i+1), storagetest.Alice, manufacturer)
	}

	first, err := h.client.ListVehicles(ctx, ListRequest{PageSize: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(first.Vehicles) != 2 || first.Vehicles[0].ID != "VIN1" || first.Vehicles[1].ID != "VIN2" {
		t.Fatalf("first page = %+v", first.Vehicles)
	}
	if first.NextPageToken == "" {
		t.Fatal("expected next page token")
	}
	second, err := h.client.ListVehicles(ctx, ListRequest{PageSize: 2, PageToken: first.NextPageToken})
	if err != nil {
		t.Fatalf("list second page: %v", err)
	}
	if len(second.Vehicles) != 1 || second.Vehicles[0].ID != "VIN3" || second.NextPageToken != "" {
		t.Fatalf("second page = %+v", second)
	}

	hondas, err := h.client.ListVehicles(ctx, ListRequest{Filter: `manufacturer = "Honda"`})
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if len(hondas.Vehicles) != 2 {
		t.Fatalf("filtered vehicles = %d, want 2", len(hondas.Vehicles))
	}

	_, err = h.client.ListVehicles(ctx, ListRequest{Filter: `color = "red"`})
	requireCode(t, err, codes.InvalidArgument, apperrors.CodeInvalidListFilter)

	_, err = h.client.ListVehicles(ctx, ListRequest{PageToken: "%%%"})
	requireCode(t, err, codes.InvalidArgument, apperrors.CodeInvalidPageToken)
}

func TestOwnershipHistoryOverGRPC(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "VIN7", storagetest.Alice, "Honda")
	if _, err := h.client.TransferOwnership(ctx, "VIN7", storagetest.Bob.String(), h.as(t, storagetest.Alice)); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	events, err := h.client.ListOwnershipEvents(ctx, "VIN7")
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].Kind != domain.EventRegistered || events[0].Actor != storagetest.Admin {
		t.Fatalf("genesis = %+v", events[0])
	}
	if events[1].PreviousOwner != storagetest.Alice || events[1].NewOwner != storagetest.Bob {
		t.Fatalf("transfer event = %+v", events[1])
	}
	if got := domain.HashEvent(events[1]); got != events[1].Hash {
		t.Fatalf("decoded event hash = %s, want %s", got, events[1].Hash)
	}

	result, err := h.client.VerifyOwnershipHistory(ctx, "VIN7")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !result.Valid || result.Events != 2 || result.HeadHash != events[1].Hash {
		t.Fatalf("verification = %+v", result)
	}
}

func TestServerRejectsMalformedFields(t *testing.T) {
	svc, err := service.New(memory.New(), storagetest.Admin.String(), service.WithLogf(func(string, ...any) {}))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	server := NewServer(svc)
	ctx := context.Background()

	in, _ := structpb.NewStruct(map[string]any{"id": 5})
	_, err = server.GetVehicle(ctx, in)
	requireCode(t, err, codes.InvalidArgument, apperrors.CodeInvalidInput)

	in, _ = structpb.NewStruct(map[string]any{"page_size": 1.5})
	_, err = server.ListVehicles(ctx, in)
	requireCode(t, err, codes.InvalidArgument, apperrors.CodeInvalidInput)

	in, _ = structpb.NewStruct(map[string]any{"order_by": "owner"})
	_, err = server.ListVehicles(ctx, in)
	requireCode(t, err, codes.InvalidArgument, apperrors.CodeInvalidInput)

	in, _ = structpb.NewStruct(map[string]any{"id": "VIN1"})
	_, err = server.RegisterVehicle(ctx, in)
	requireCode(t, err, codes.Unauthenticated, apperrors.CodeUnauthenticated)

	_, err = (&Server{}).GetVehicle(ctx, in)
	requireCode(t, err, codes.Internal, "")
}

func TestMethodClassification(t *testing.T) {
	for _, method := range []string{RegisterVehicleFullMethodName, TransferOwnershipFullMethodName} {
		if IsReadMethod(method) || !RequiresCaller(method) {
			t.Fatalf("%s should be a write requiring a caller", method)
		}
	}
	for _, method := range []string{IsRegisteredFullMethodName, GetVehicleFullMethodName, ListVehiclesFullMethodName, ListOwnershipEventsFullMethodName, VerifyOwnershipHistoryFullMethodName} {
		if !IsReadMethod(method) || RequiresCaller(method) {
			t.Fatalf("%s should be an anonymous read", method)
		}
	}
	if len(VehicleRegistryServiceDesc.Methods) != 7 {
		t.Fatalf("methods = %d, want 7", len(VehicleRegistryServiceDesc.Methods))
	}
}
