// Package service implements the registry operations: registration by the
// administrator, transfer by the current owner, and unrestricted reads.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	apperrors "github.com/louisbranch/vehicle-registry/internal/platform/errors"
	"github.com/louisbranch/vehicle-registry/internal/platform/grpc/pagination"
	"github.com/louisbranch/vehicle-registry/internal/platform/id"
	"github.com/louisbranch/vehicle-registry/internal/services/registry/domain"
	"github.com/louisbranch/vehicle-registry/internal/services/registry/storage"
)

const (
	defaultListPageSize = 50
	maxListPageSize     = 200
	// maxDocumentRefLength bounds the optional document reference in bytes.
	maxDocumentRefLength = 2048
	// maxNameLength bounds model and manufacturer in bytes.
	maxNameLength = 256
)

// Service is the only mutation entry point of the registry.
type Service struct {
	store storage.VehicleStore
	admin domain.Address
	clock func() time.Time
	newID func() (string, error)
	logf  func(string, ...any)
	locks *keyedMutex
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the clock that stamps registrations and transfers.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithIDGenerator overrides the ownership event id generator.
func WithIDGenerator(newID func() (string, error)) Option {
	return func(s *Service) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// WithLogf overrides the log function for registry event lines.
func WithLogf(logf func(string, ...any)) Option {
	return func(s *Service) {
		if logf != nil {
			s.logf = logf
		}
	}
}

// New builds a Service over store. admin is fixed for the Service lifetime.
func New(store storage.VehicleStore, admin string, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("vehicle store is required")
	}
	adminAddr, err := domain.ParseAddress(admin)
	if err != nil {
		return nil, fmt.Errorf("admin address: %w", err)
	}
	if adminAddr.IsZero() {
		return nil, fmt.Errorf("admin address must not be the zero address")
	}

	s := &Service{
		store: store,
		admin: adminAddr,
		clock: time.Now,
		newID: id.NewID,
		logf:  log.Printf,
		locks: newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Admin returns the configured administrator address.
func (s *Service) Admin() domain.Address {
	return s.admin
}

// RegisterInput is the caller-supplied part of a registration.
type RegisterInput struct {
	ID           string
	Owner        string
	Model        string
	Manufacturer string
	DocumentRef  string
}

// Register creates a vehicle owned by input.Owner. Only the admin may register,
// and an id can be registered once.
func (s *Service) Register(ctx context.Context, caller string, input RegisterInput) (domain.Vehicle, error) {
	vehicleID, err := parseVehicleID(input.ID)
	if err != nil {
		return domain.Vehicle{}, err
	}
	model, err := parseName("model", input.Model)
	if err != nil {
		return domain.Vehicle{}, err
	}
	manufacturer, err := parseName("manufacturer", input.Manufacturer)
	if err != nil {
		return domain.Vehicle{}, err
	}
	// The document reference is opaque and stored exactly as given.
	documentRef := input.DocumentRef
	if len(documentRef) > maxDocumentRefLength {
		return domain.Vehicle{}, invalidInput(fmt.Sprintf("document reference exceeds %d bytes", maxDocumentRefLength))
	}
	if !utf8.ValidString(documentRef) {
		return domain.Vehicle{}, invalidInput("document reference is not valid UTF-8")
	}
	owner, err := parsePrincipal("owner", input.Owner)
	if err != nil {
		return domain.Vehicle{}, err
	}
	callerAddr, err := parseCaller(caller)
	if err != nil {
		return domain.Vehicle{}, err
	}
	if callerAddr != s.admin {
		return domain.Vehicle{}, apperrors.New(apperrors.CodeNotAdmin, fmt.Sprintf("caller %s is not the registry admin", callerAddr))
	}

	unlock := s.locks.Lock(vehicleID)
	defer unlock()

	eventID, err := s.newID()
	if err != nil {
		return domain.Vehicle{}, fmt.Errorf("register vehicle %s: %w", vehicleID, err)
	}
	vehicle := domain.Vehicle{
		ID:           vehicleID,
		Owner:        owner,
		Model:        model,
		Manufacturer: manufacturer,
		RegisteredAt: domain.Timestamp(s.clock()),
		DocumentRef:  documentRef,
	}
	genesis := domain.GenesisEvent(domain.OwnershipChange{
		EventID:    eventID,
		VehicleID:  vehicleID,
		NewOwner:   owner,
		Actor:      callerAddr,
		OccurredAt: vehicle.RegisteredAt,
	})
	if err := s.store.InsertVehicle(ctx, vehicle, genesis); err != nil {
		return domain.Vehicle{}, storeError("register vehicle", vehicleID, err)
	}

	s.logf("VehicleRegistered id=%s owner=%s model=%q manufacturer=%q", vehicle.ID, vehicle.Owner, vehicle.Model, vehicle.Manufacturer)
	return vehicle, nil
}

// TransferOwnership moves vehicle id to newOwner. Only the owner of record at
// the time of the call may transfer. Transferring to oneself is allowed and
// recorded in the history.
func (s *Service) TransferOwnership(ctx context.Context, caller, vehicleID, newOwner string) (domain.Vehicle, error) {
	vehicleID, err := parseVehicleID(vehicleID)
	if err != nil {
		return domain.Vehicle{}, err
	}
	next, err := parsePrincipal("new_owner", newOwner)
	if err != nil {
		return domain.Vehicle{}, err
	}
	callerAddr, err := parseCaller(caller)
	if err != nil {
		return domain.Vehicle{}, err
	}

	unlock := s.locks.Lock(vehicleID)
	defer unlock()

	current, err := s.store.GetVehicle(ctx, vehicleID)
	if err != nil {
		return domain.Vehicle{}, storeError("transfer vehicle", vehicleID, err)
	}
	if current.Owner != callerAddr {
		return domain.Vehicle{}, notCurrentOwner(callerAddr, vehicleID)
	}

	eventID, err := s.newID()
	if err != nil {
		return domain.Vehicle{}, fmt.Errorf("transfer vehicle %s: %w", vehicleID, err)
	}
	// The lock only covers this process; the store re-checks the owner in the
	// same atomic write.
	updated, err := s.store.UpdateOwner(ctx, domain.OwnershipChange{
		EventID:       eventID,
		VehicleID:     vehicleID,
		ExpectedOwner: callerAddr,
		NewOwner:      next,
		Actor:         callerAddr,
		OccurredAt:    domain.Timestamp(s.clock()),
	})
	if errors.Is(err, storage.ErrOwnerChanged) {
		return domain.Vehicle{}, notCurrentOwner(callerAddr, vehicleID)
	}
	if err != nil {
		return domain.Vehicle{}, storeError("transfer vehicle", vehicleID, err)
	}

	s.logf("OwnershipTransferred id=%s from=%s to=%s", vehicleID, current.Owner, updated.Owner)
	return updated, nil
}

// IsRegistered reports whether id is registered.
func (s *Service) IsRegistered(ctx context.Context, vehicleID string) (bool, error) {
	vehicleID, err := parseVehicleID(vehicleID)
	if err != nil {
		return false, err
	}
	ok, err := s.store.HasVehicle(ctx, vehicleID)
	if err != nil {
		return false, fmt.Errorf("check vehicle %s: %w", vehicleID, err)
	}
	return ok, nil
}

// GetVehicle returns the full record for id.
func (s *Service) GetVehicle(ctx context.Context, vehicleID string) (domain.Vehicle, error) {
	vehicleID, err := parseVehicleID(vehicleID)
	if err != nil {
		return domain.Vehicle{}, err
	}
	vehicle, err := s.store.GetVehicle(ctx, vehicleID)
	if err != nil {
		return domain.Vehicle{}, storeError("get vehicle", vehicleID, err)
	}
	return vehicle, nil
}

// ListVehicles returns one page of vehicles ordered by id. A non-positive page
// size selects the default.
func (s *Service) ListVehicles(ctx context.Context, query storage.ListQuery) (storage.VehiclePage, error) {
	query.PageSize = pagination.ClampPageSize(int32(min(query.PageSize, maxListPageSize)), pagination.PageSizeConfig{
		Default: defaultListPageSize,
		Max:     maxListPageSize,
	})
	page, err := s.store.ListVehicles(ctx, query)
	if err != nil {
		return storage.VehiclePage{}, fmt.Errorf("list vehicles: %w", err)
	}
	return page, nil
}

// ListOwnershipEvents returns the ownership history of id, oldest first.
func (s *Service) ListOwnershipEvents(ctx context.Context, vehicleID string) ([]domain.OwnershipEvent, error) {
	vehicleID, err := parseVehicleID(vehicleID)
	if err != nil {
		return nil, err
	}
	events, err := s.store.ListOwnershipEvents(ctx, vehicleID)
	if err != nil {
		return nil, storeError("list ownership events", vehicleID, err)
	}
	return events, nil
}

// VerifyOwnershipHistory recomputes the history chain of id against its
// current record.
func (s *Service) VerifyOwnershipHistory(ctx context.Context, vehicleID string) (domain.Verification, error) {
	vehicleID, err := parseVehicleID(vehicleID)
	if err != nil {
		return domain.Verification{}, err
	}

	// Hold the id lock so no transfer lands between the two reads.
	unlock := s.locks.Lock(vehicleID)
	defer unlock()

	vehicle, err := s.store.GetVehicle(ctx, vehicleID)
	if err != nil {
		return domain.Verification{}, storeError("verify ownership history", vehicleID, err)
	}
	events, err := s.store.ListOwnershipEvents(ctx, vehicleID)
	if err != nil {
		return domain.Verification{}, storeError("verify ownership history", vehicleID, err)
	}
	result := domain.VerifyHistory(vehicle, events)
	if !result.Valid {
		s.logf("OwnershipHistoryBroken id=%s seq=%d reason=%q", vehicleID, result.BrokenSeq, result.Reason)
	}
	return result, nil
}

func parseVehicleID(raw string) (string, error) {
	vehicleID := domain.NormalizeVehicleID(raw)
	if !domain.ValidVehicleID(vehicleID) {
		return "", invalidVehicleID(raw)
	}
	return vehicleID, nil
}

func parseName(field, raw string) (string, error) {
	name := strings.TrimSpace(raw)
	switch {
	case name == "":
		return "", invalidInput(field + " is required")
	case len(name) > maxNameLength:
		return "", invalidInput(fmt.Sprintf("%s exceeds %d bytes", field, maxNameLength))
	case !utf8.ValidString(name):
		return "", invalidInput(field + " is not valid UTF-8")
	}
	return name, nil
}

func parsePrincipal(field, raw string) (domain.Address, error) {
	addr, err := domain.ParseAddress(raw)
	if err != nil {
		return "", invalidAddress(field, err)
	}
	if addr.IsZero() {
		return "", invalidAddress(field, fmt.Errorf("zero address is not a valid owner"))
	}
	return addr, nil
}

func parseCaller(raw string) (domain.Address, error) {
	addr, err := domain.ParseAddress(raw)
	if err != nil {
		return "", invalidAddress("caller", err)
	}
	return addr, nil
}
