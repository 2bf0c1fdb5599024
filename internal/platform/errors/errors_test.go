package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestGRPCCodeMapping(t *testing.T) {
	tests := []struct {
		code Code
		want codes.Code
	}{
		{CodeInvalidInput, codes.InvalidArgument},
		{CodeInvalidAddress, codes.InvalidArgument},
		{CodeUnauthorized, codes.PermissionDenied},
		{CodeNotCurrentOwner, codes.PermissionDenied},
		{CodeUnauthenticated, codes.Unauthenticated},
		{CodeAlreadyRegistered, codes.AlreadyExists},
		{CodeNotFound, codes.NotFound},
		{CodeHistoryCorrupted, codes.DataLoss},
		{CodeUnknown, codes.Internal},
	}
	for _, tt := range tests {
		if got := tt.code.GRPCCode(); got != tt.want {
			t.Fatalf("%s.GRPCCode() = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestErrorIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("register: %w", New(CodeNotAdmin, "caller is not admin"))

	if !stderrors.Is(err, New(CodeNotAdmin, "")) {
		t.Fatal("expected match on exact code")
	}
	if !stderrors.Is(err, New(CodeUnauthorized, "")) {
		t.Fatal("expected match on kind")
	}
	if stderrors.Is(err, New(CodeNotCurrentOwner, "")) {
		t.Fatal("sibling codes must not match")
	}
	if stderrors.Is(err, New(CodeNotFound, "")) {
		t.Fatal("unexpected match on unrelated kind")
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(fmt.Errorf("wrap: %w", New(CodeNotFound, "missing"))); got != CodeNotFound {
		t.Fatalf("CodeOf = %s, want %s", got, CodeNotFound)
	}
	if got := CodeOf(stderrors.New("plain")); got != CodeUnknown {
		t.Fatalf("CodeOf(plain) = %s, want %s", got, CodeUnknown)
	}
}

func TestWrapUnwraps(t *testing.T) {
	cause := stderrors.New("disk full")
	err := Wrap(CodeUnknown, "insert vehicle", cause)
	if !stderrors.Is(err, cause) {
		t.Fatal("expected wrapped cause")
	}
}

func TestToGRPCStatusDetails(t *testing.T) {
	err := WithMetadata(CodeNotFound, "vehicle VIN-1 not found", map[string]string{"VehicleID": "VIN-1"}).ToGRPCStatus("pt-BR")

	st, ok := status.FromError(err)
	if !ok {
		t.Fatalf("expected status error, got %T", err)
	}
	if st.Code() != codes.NotFound {
		t.Fatalf("code = %v, want NotFound", st.Code())
	}
	if st.Message() != "vehicle VIN-1 not found" {
		t.Fatalf("message = %q", st.Message())
	}

	var info *errdetails.ErrorInfo
	var localized *errdetails.LocalizedMessage
	for _, detail := range st.Details() {
		switch d := detail.(type) {
		case *errdetails.ErrorInfo:
			info = d
		case *errdetails.LocalizedMessage:
			localized = d
		}
	}
	if info == nil || info.GetReason() != string(CodeNotFound) || info.GetDomain() != Domain {
		t.Fatalf("error info = %v", info)
	}
	if localized == nil || localized.GetLocale() != "pt-BR" {
		t.Fatalf("localized = %v", localized)
	}
	if localized.GetMessage() != "Veículo VIN-1 não encontrado." {
		t.Fatalf("localized message = %q", localized.GetMessage())
	}
}
