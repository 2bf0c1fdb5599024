package service

import (
	"errors"
	"fmt"
	"strconv"

	apperrors "github.com/louisbranch/vehicle-registry/internal/platform/errors"
	"github.com/louisbranch/vehicle-registry/internal/services/registry/domain"
	"github.com/louisbranch/vehicle-registry/internal/services/registry/storage"
)

// Error kinds. Match with errors.Is; every registry error carries a more
// specific code of one of these kinds.
var (
	ErrInvalidInput  = apperrors.New(apperrors.CodeInvalidInput, "invalid input")
	ErrUnauthorized  = apperrors.New(apperrors.CodeUnauthorized, "unauthorized")
	ErrAlreadyExists = apperrors.New(apperrors.CodeAlreadyRegistered, "vehicle already registered")
	ErrNotFound      = apperrors.New(apperrors.CodeNotFound, "vehicle not found")
)

func invalidInput(reason string) error {
	return apperrors.WithMetadata(apperrors.CodeInvalidInput, reason, map[string]string{"Reason": reason})
}

func invalidVehicleID(id string) error {
	return apperrors.WithMetadata(
		apperrors.CodeInvalidVehicleID,
		fmt.Sprintf("invalid vehicle id %q", id),
		map[string]string{"MaxLength": strconv.Itoa(domain.MaxVehicleIDLength)},
	)
}

func invalidAddress(field string, cause error) error {
	return &apperrors.Error{
		Code:     apperrors.CodeInvalidAddress,
		Message:  fmt.Sprintf("%s: %v", field, cause),
		Metadata: map[string]string{"Field": field},
		Cause:    cause,
	}
}

func notFound(id string) error {
	return apperrors.WithMetadata(apperrors.CodeNotFound, fmt.Sprintf("vehicle %s not found", id), map[string]string{"VehicleID": id})
}

func alreadyRegistered(id string) error {
	return apperrors.WithMetadata(apperrors.CodeAlreadyRegistered, fmt.Sprintf("vehicle %s already registered", id), map[string]string{"VehicleID": id})
}

// storeError maps storage sentinels to registry errors for id and wraps the rest.
func notCurrentOwner(caller domain.Address, id string) error {
	return apperrors.WithMetadata(
		apperrors.CodeNotCurrentOwner,
		fmt.Sprintf("caller %s does not own vehicle %s", caller, id),
		map[string]string{"VehicleID": id},
	)
}

func storeError(op, id string, err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return notFound(id)
	case errors.Is(err, storage.ErrAlreadyExists):
		return alreadyRegistered(id)
	default:
		return fmt.Errorf("%s %s: %w", op, id, err)
	}
}
