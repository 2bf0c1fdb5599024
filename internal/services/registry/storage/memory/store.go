// Package memory provides an in-process registry store.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/louisbranch/vehicle-registry/internal/services/registry/domain"
	"github.com/louisbranch/vehicle-registry/internal/services/registry/storage"
)

// Store keeps vehicles and their history in maps guarded by one RWMutex.
type Store struct {
	mu       sync.RWMutex
	vehicles map[string]domain.Vehicle
	events   map[string][]domain.OwnershipEvent
}

// New returns an empty store.
func New() *Store {
	return &Store{
		vehicles: make(map[string]domain.Vehicle),
		events:   make(map[string][]domain.OwnershipEvent),
	}
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

// GetVehicle returns a copy of the vehicle stored under id.
func (s *Store) GetVehicle(ctx context.Context, id string) (domain.Vehicle, error) {
	if err := ctx.Err(); err != nil {
		return domain.Vehicle{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	vehicle, ok := s.vehicles[id]
	if !ok {
		return domain.Vehicle{}, storage.ErrNotFound
	}
	return vehicle, nil
}

// HasVehicle reports whether id is registered.
func (s *Store) HasVehicle(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.vehicles[id]
	return ok, nil
}

// InsertVehicle stores vehicle and its genesis event.
func (s *Store) InsertVehicle(ctx context.Context, vehicle domain.Vehicle, genesis domain.OwnershipEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := storage.ValidateInsert(vehicle, genesis); err != nil {
		return fmt.Errorf("insert vehicle: %w", err)
	}
	vehicle.RegisteredAt = domain.Timestamp(vehicle.RegisteredAt)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vehicles[vehicle.ID]; ok {
		return storage.ErrAlreadyExists
	}
	s.vehicles[vehicle.ID] = vehicle
	s.events[vehicle.ID] = []domain.OwnershipEvent{genesis}
	return nil
}

// UpdateOwner replaces the owner and appends a chained transfer event.
func (s *Store) UpdateOwner(ctx context.Context, change domain.OwnershipChange) (domain.Vehicle, error) {
	if err := ctx.Err(); err != nil {
		return domain.Vehicle{}, err
	}
	if err := storage.ValidateChange(change); err != nil {
		return domain.Vehicle{}, fmt.Errorf("update owner: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	vehicle, ok := s.vehicles[change.VehicleID]
	if !ok {
		return domain.Vehicle{}, storage.ErrNotFound
	}
	history := s.events[change.VehicleID]
	if len(history) == 0 {
		return domain.Vehicle{}, fmt.Errorf("update owner: vehicle %s has no history", change.VehicleID)
	}
	if err := storage.CheckExpectedOwner(vehicle, change); err != nil {
		return domain.Vehicle{}, err
	}

	vehicle.Owner = change.NewOwner
	s.vehicles[change.VehicleID] = vehicle
	s.events[change.VehicleID] = append(history, domain.NextEvent(history[len(history)-1], change))
	return vehicle, nil
}

// ListVehicles returns one page of vehicles ordered by id.
func (s *Store) ListVehicles(ctx context.Context, query storage.ListQuery) (storage.VehiclePage, error) {
	if err := ctx.Err(); err != nil {
		return storage.VehiclePage{}, err
	}
	if query.PageSize <= 0 {
		return storage.VehiclePage{}, fmt.Errorf("page size must be greater than zero")
	}
	after := strings.TrimSpace(query.AfterID)

	s.mu.RLock()
	matched := make([]domain.Vehicle, 0, len(s.vehicles))
	for id, vehicle := range s.vehicles {
		if after != "" && id <= after {
			continue
		}
		if query.Filter.Matches(vehicle) {
			matched = append(matched, vehicle)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	page := storage.VehiclePage{}
	if len(matched) > query.PageSize {
		matched = matched[:query.PageSize]
		page.NextAfterID = matched[query.PageSize-1].ID
	}
	page.Vehicles = matched
	return page, nil
}

// ListOwnershipEvents returns a copy of the history for id, oldest first.
func (s *Store) ListOwnershipEvents(ctx context.Context, id string) ([]domain.OwnershipEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.vehicles[id]; !ok {
		return nil, storage.ErrNotFound
	}
	return slices.Clone(s.events[id]), nil
}

var _ storage.VehicleStore = (*Store)(nil)
