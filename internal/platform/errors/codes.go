// Package errors provides structured registry errors with i18n support.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Input errors
	CodeInvalidInput      Code = "VEHICLE_INVALID_INPUT"
	CodeInvalidVehicleID  Code = "VEHICLE_INVALID_ID"
	CodeInvalidAddress    Code = "VEHICLE_INVALID_ADDRESS"
	CodeInvalidPageToken  Code = "VEHICLE_INVALID_PAGE_TOKEN"
	CodeInvalidListFilter Code = "VEHICLE_INVALID_FILTER"

	// Authorization errors
	CodeUnauthorized    Code = "VEHICLE_UNAUTHORIZED"
	CodeNotAdmin        Code = "VEHICLE_CALLER_NOT_ADMIN"
	CodeNotCurrentOwner Code = "VEHICLE_CALLER_NOT_OWNER"
	CodeUnauthenticated Code = "VEHICLE_UNAUTHENTICATED"

	// Registry state errors
	CodeAlreadyRegistered Code = "VEHICLE_ALREADY_REGISTERED"
	CodeNotFound          Code = "VEHICLE_NOT_FOUND"
	CodeHistoryCorrupted  Code = "VEHICLE_HISTORY_CORRUPTED"
)

// GRPCCode maps registry codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	case CodeInvalidInput,
		CodeInvalidVehicleID,
		CodeInvalidAddress,
		CodeInvalidPageToken,
		CodeInvalidListFilter:
		return codes.InvalidArgument

	case CodeUnauthorized,
		CodeNotAdmin,
		CodeNotCurrentOwner:
		return codes.PermissionDenied

	case CodeUnauthenticated:
		return codes.Unauthenticated

	case CodeAlreadyRegistered:
		return codes.AlreadyExists

	case CodeNotFound:
		return codes.NotFound

	case CodeHistoryCorrupted:
		return codes.DataLoss

	default:
		return codes.Internal
	}
}

// Kind collapses a code to one of the four registry error kinds. Codes outside
// those kinds report CodeUnknown.
func (c Code) Kind() Code {
	switch c {
	case CodeInvalidInput, CodeInvalidVehicleID, CodeInvalidAddress, CodeInvalidPageToken, CodeInvalidListFilter:
		return CodeInvalidInput
	case CodeUnauthorized, CodeNotAdmin, CodeNotCurrentOwner, CodeUnauthenticated:
		return CodeUnauthorized
	case CodeAlreadyRegistered:
		return CodeAlreadyRegistered
	case CodeNotFound:
		return CodeNotFound
	default:
		return CodeUnknown
	}
}
