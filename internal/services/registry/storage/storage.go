// Package storage defines persistence contracts for registry state.
package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/louisbranch/vehicle-registry/internal/services/registry/domain"
)

var (
	// ErrNotFound indicates a requested vehicle is missing.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists indicates a vehicle id is already registered.
	ErrAlreadyExists = errors.New("record already exists")
	// ErrOwnerChanged indicates the owner of record no longer matches the
	// expected owner of an ownership change.
	ErrOwnerChanged = errors.New("owner of record changed")
)

// CheckExpectedOwner compares the owner of record with change.ExpectedOwner.
// Backends call it inside the same atomic step that writes the new owner.
func CheckExpectedOwner(current domain.Vehicle, change domain.OwnershipChange) error {
	if change.ExpectedOwner.IsZero() || current.Owner == change.ExpectedOwner {
		return nil
	}
	return ErrOwnerChanged
}

// VehicleFilter restricts a listing to exact field matches. Empty fields match
// every vehicle.
type VehicleFilter struct {
	Owner        domain.Address
	Manufacturer string
	Model        string
}

// Matches reports whether vehicle satisfies every set field of f.
func (f VehicleFilter) Matches(vehicle domain.Vehicle) bool {
	if f.Owner != "" && vehicle.Owner != f.Owner {
		return false
	}
	if f.Manufacturer != "" && vehicle.Manufacturer != f.Manufacturer {
		return false
	}
	if f.Model != "" && vehicle.Model != f.Model {
		return false
	}
	return true
}

// ListQuery selects one page of vehicles ordered by id.
type ListQuery struct {
	PageSize int
	// AfterID resumes after the last id of a previous page.
	AfterID string
	Filter  VehicleFilter
}

// VehiclePage stores one page of vehicles. NextAfterID is empty on the last page.
type VehiclePage struct {
	Vehicles    []domain.Vehicle
	NextAfterID string
}

// VehicleStore persists vehicles and their ownership history. Each mutating
// call is atomic: the record change and its history event commit together.
type VehicleStore interface {
	GetVehicle(ctx context.Context, id string) (domain.Vehicle, error)
	HasVehicle(ctx context.Context, id string) (bool, error)
	// InsertVehicle stores vehicle with genesis as its first history event.
	InsertVehicle(ctx context.Context, vehicle domain.Vehicle, genesis domain.OwnershipEvent) error
	// UpdateOwner replaces only the owner of change.VehicleID and chains a
	// transfer event after the current history head. It returns
	// ErrOwnerChanged, writing nothing, when change.ExpectedOwner is set and
	// no longer owns the vehicle.
	UpdateOwner(ctx context.Context, change domain.OwnershipChange) (domain.Vehicle, error)
	ListVehicles(ctx context.Context, query ListQuery) (VehiclePage, error)
	ListOwnershipEvents(ctx context.Context, id string) ([]domain.OwnershipEvent, error)
	Close() error
}

// ValidateInsert checks the arguments every backend requires for InsertVehicle.
func ValidateInsert(vehicle domain.Vehicle, genesis domain.OwnershipEvent) error {
	if strings.TrimSpace(vehicle.ID) == "" {
		return errors.New("vehicle id is required")
	}
	if vehicle.Owner.IsZero() {
		return errors.New("vehicle owner is required")
	}
	if genesis.VehicleID != vehicle.ID || genesis.Seq != 1 || genesis.Kind != domain.EventRegistered {
		return errors.New("genesis event does not match vehicle")
	}
	if genesis.NewOwner != vehicle.Owner {
		return errors.New("genesis owner does not match vehicle owner")
	}
	return nil
}

// ValidateChange checks the arguments every backend requires for UpdateOwner.
func ValidateChange(change domain.OwnershipChange) error {
	if strings.TrimSpace(change.VehicleID) == "" {
		return errors.New("vehicle id is required")
	}
	if change.NewOwner.IsZero() {
		return errors.New("new owner is required")
	}
	if change.EventID == "" {
		return errors.New("event id is required")
	}
	return nil
}
