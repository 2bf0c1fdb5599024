// Package bbolt provides a BoltDB-backed registry store.
package bbolt

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/vehicle-registry/internal/platform/timeouts"
	"github.com/louisbranch/vehicle-registry/internal/services/registry/domain"
	"github.com/louisbranch/vehicle-registry/internal/services/registry/storage"
	"go.etcd.io/bbolt"
)

const (
	vehicleBucket = "vehicles"
	// eventBucket holds one nested bucket per vehicle id, keyed by sequence.
	eventBucket = "ownership_events"
)

// Store provides a BoltDB-backed vehicle store.
type Store struct {
	db *bbolt.DB
}

type vehicleRecord struct {
	ID             string `json:"id"`
	Owner          string `json:"owner"`
	Model          string `json:"model"`
	Manufacturer   string `json:"manufacturer"`
	RegisteredAtMs int64  `json:"registered_at_ms"`
	DocumentRef    string `json:"document_ref,omitempty"`
}

type eventRecord struct {
	ID            string `json:"id"`
	VehicleID     string `json:"vehicle_id"`
	Seq           int64  `json:"seq"`
	Kind          string `json:"kind"`
	PreviousOwner string `json:"previous_owner,omitempty"`
	NewOwner      string `json:"new_owner"`
	Actor         string `json:"actor"`
	OccurredAtMs  int64  `json:"occurred_at_ms"`
	PrevHash      string `json:"prev_hash,omitempty"`
	Hash          string `json:"hash"`
}

// Open opens a BoltDB-backed store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	db, err := bbolt.Open(cleanPath, 0o600, &bbolt.Options{Timeout: timeouts.StoreOpen})
	if err != nil {
		return nil, fmt.Errorf("open storage db: %w", err)
	}

	store := &Store{db: db}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying BoltDB database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// GetVehicle fetches a vehicle by id.
func (s *Store) GetVehicle(ctx context.Context, id string) (domain.Vehicle, error) {
	if err := ctx.Err(); err != nil {
		return domain.Vehicle{}, err
	}
	if s == nil || s.db == nil {
		return domain.Vehicle{}, fmt.Errorf("storage is not configured")
	}

	var vehicle domain.Vehicle
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		vehicle, err = loadVehicle(tx, id)
		return err
	})
	if err != nil {
		return domain.Vehicle{}, err
	}
	return vehicle, nil
}

// HasVehicle reports whether id is registered.
func (s *Store) HasVehicle(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s == nil || s.db == nil {
		return false, fmt.Errorf("storage is not configured")
	}

	var exists bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(vehicleBucket))
		if bucket == nil {
			return fmt.Errorf("vehicle bucket is missing")
		}
		exists = bucket.Get(vehicleKey(id)) != nil
		return nil
	})
	return exists, err
}

// InsertVehicle stores vehicle and its genesis event in one update.
func (s *Store) InsertVehicle(ctx context.Context, vehicle domain.Vehicle, genesis domain.OwnershipEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}
	if err := storage.ValidateInsert(vehicle, genesis); err != nil {
		return fmt.Errorf("insert vehicle: %w", err)
	}

	payload, err := json.Marshal(toVehicleRecord(vehicle))
	if err != nil {
		return fmt.Errorf("marshal vehicle: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(vehicleBucket))
		if bucket == nil {
			return fmt.Errorf("vehicle bucket is missing")
		}
		if bucket.Get(vehicleKey(vehicle.ID)) != nil {
			return storage.ErrAlreadyExists
		}
		if err := bucket.Put(vehicleKey(vehicle.ID), payload); err != nil {
			return fmt.Errorf("put vehicle: %w", err)
		}
		return appendEvent(tx, genesis)
	})
}

// UpdateOwner replaces the owner and chains a transfer event in one update.
func (s *Store) UpdateOwner(ctx context.Context, change domain.OwnershipChange) (domain.Vehicle, error) {
	if err := ctx.Err(); err != nil {
		return domain.Vehicle{}, err
	}
	if s == nil || s.db == nil {
		return domain.Vehicle{}, fmt.Errorf("storage is not configured")
	}
	if err := storage.ValidateChange(change); err != nil {
		return domain.Vehicle{}, fmt.Errorf("update owner: %w", err)
	}

	var updated domain.Vehicle
	err := s.db.Update(func(tx *bbolt.Tx) error {
		vehicle, err := loadVehicle(tx, change.VehicleID)
		if err != nil {
			return err
		}
		if err := storage.CheckExpectedOwner(vehicle, change); err != nil {
			return err
		}
		head, err := historyHead(tx, change.VehicleID)
		if err != nil {
			return err
		}

		vehicle.Owner = change.NewOwner
		payload, err := json.Marshal(toVehicleRecord(vehicle))
		if err != nil {
			return fmt.Errorf("marshal vehicle: %w", err)
		}
		if err := tx.Bucket([]byte(vehicleBucket)).Put(vehicleKey(vehicle.ID), payload); err != nil {
			return fmt.Errorf("put vehicle: %w", err)
		}
		if err := appendEvent(tx, domain.NextEvent(head, change)); err != nil {
			return err
		}
		updated = vehicle
		return nil
	})
	if err != nil {
		return domain.Vehicle{}, err
	}
	return updated, nil
}

// ListVehicles returns one page of vehicles ordered by id. Keys are stored in
// byte order, which matches string order of ids.
func (s *Store) ListVehicles(ctx context.Context, query storage.ListQuery) (storage.VehiclePage, error) {
	if err := ctx.Err(); err != nil {
		return storage.VehiclePage{}, err
	}
	if s == nil || s.db == nil {
		return storage.VehiclePage{}, fmt.Errorf("storage is not configured")
	}
	if query.PageSize <= 0 {
		return storage.VehiclePage{}, fmt.Errorf("page size must be greater than zero")
	}
	after := strings.TrimSpace(query.AfterID)

	page := storage.VehiclePage{Vehicles: make([]domain.Vehicle, 0, query.PageSize)}
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(vehicleBucket))
		if bucket == nil {
			return fmt.Errorf("vehicle bucket is missing")
		}
		cursor := bucket.Cursor()
		key, value := cursor.First()
		if after != "" {
			key, value = cursor.Seek(vehicleKey(after))
			if key != nil && bytes.Equal(key, vehicleKey(after)) {
				key, value = cursor.Next()
			}
		}
		for ; key != nil; key, value = cursor.Next() {
			vehicle, err := decodeVehicle(value)
			if err != nil {
				return err
			}
			if !query.Filter.Matches(vehicle) {
				continue
			}
			if len(page.Vehicles) == query.PageSize {
				page.NextAfterID = page.Vehicles[query.PageSize-1].ID
				return nil
			}
			page.Vehicles = append(page.Vehicles, vehicle)
		}
		return nil
	})
	if err != nil {
		return storage.VehiclePage{}, fmt.Errorf("list vehicles: %w", err)
	}
	return page, nil
}

// ListOwnershipEvents returns the history for id, oldest first.
func (s *Store) ListOwnershipEvents(ctx context.Context, id string) ([]domain.OwnershipEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	var events []domain.OwnershipEvent
	err := s.db.View(func(tx *bbolt.Tx) error {
		if _, err := loadVehicle(tx, id); err != nil {
			return err
		}
		history := tx.Bucket([]byte(eventBucket)).Bucket(vehicleKey(id))
		if history == nil {
			return fmt.Errorf("history for vehicle %s is missing", id)
		}
		return history.ForEach(func(_, value []byte) error {
			event, err := decodeEvent(value)
			if err != nil {
				return err
			}
			events = append(events, event)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{vehicleBucket, eventBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}
		return nil
	})
}

func loadVehicle(tx *bbolt.Tx, id string) (domain.Vehicle, error) {
	bucket := tx.Bucket([]byte(vehicleBucket))
	if bucket == nil {
		return domain.Vehicle{}, fmt.Errorf("vehicle bucket is missing")
	}
	payload := bucket.Get(vehicleKey(id))
	if payload == nil {
		return domain.Vehicle{}, storage.ErrNotFound
	}
	return decodeVehicle(payload)
}

func historyHead(tx *bbolt.Tx, id string) (domain.OwnershipEvent, error) {
	history := tx.Bucket([]byte(eventBucket)).Bucket(vehicleKey(id))
	if history == nil {
		return domain.OwnershipEvent{}, fmt.Errorf("history for vehicle %s is missing", id)
	}
	_, value := history.Cursor().Last()
	if value == nil {
		return domain.OwnershipEvent{}, fmt.Errorf("history for vehicle %s is empty", id)
	}
	return decodeEvent(value)
}

func appendEvent(tx *bbolt.Tx, event domain.OwnershipEvent) error {
	history, err := tx.Bucket([]byte(eventBucket)).CreateBucketIfNotExists(vehicleKey(event.VehicleID))
	if err != nil {
		return fmt.Errorf("create history bucket: %w", err)
	}
	key := seqKey(event.Seq)
	if history.Get(key) != nil {
		return fmt.Errorf("ownership event %d for vehicle %s already exists", event.Seq, event.VehicleID)
	}
	payload, err := json.Marshal(toEventRecord(event))
	if err != nil {
		return fmt.Errorf("marshal ownership event: %w", err)
	}
	if err := history.Put(key, payload); err != nil {
		return fmt.Errorf("append ownership event: %w", err)
	}
	return nil
}

func vehicleKey(id string) []byte {
	return []byte(id)
}

func seqKey(seq int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(seq))
	return key
}

func toVehicleRecord(vehicle domain.Vehicle) vehicleRecord {
	return vehicleRecord{
		ID:             vehicle.ID,
		Owner:          vehicle.Owner.String(),
		Model:          vehicle.Model,
		Manufacturer:   vehicle.Manufacturer,
		RegisteredAtMs: vehicle.RegisteredAt.UTC().UnixMilli(),
		DocumentRef:    vehicle.DocumentRef,
	}
}

func decodeVehicle(payload []byte) (domain.Vehicle, error) {
	var record vehicleRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return domain.Vehicle{}, fmt.Errorf("unmarshal vehicle: %w", err)
	}
	return domain.Vehicle{
		ID:           record.ID,
		Owner:        domain.Address(record.Owner),
		Model:        record.Model,
		Manufacturer: record.Manufacturer,
		RegisteredAt: time.UnixMilli(record.RegisteredAtMs).UTC(),
		DocumentRef:  record.DocumentRef,
	}, nil
}

func toEventRecord(event domain.OwnershipEvent) eventRecord {
	return eventRecord{
		ID:            event.ID,
		VehicleID:     event.VehicleID,
		Seq:           event.Seq,
		Kind:          string(event.Kind),
		PreviousOwner: event.PreviousOwner.String(),
		NewOwner:      event.NewOwner.String(),
		Actor:         event.Actor.String(),
		OccurredAtMs:  event.OccurredAt.UTC().UnixMilli(),
		PrevHash:      event.PrevHash,
		Hash:          event.Hash,
	}
}

func decodeEvent(payload []byte) (domain.OwnershipEvent, error) {
	var record eventRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return domain.OwnershipEvent{}, fmt.Errorf("unmarshal ownership event: %w", err)
	}
	return domain.OwnershipEvent{
		ID:            record.ID,
		VehicleID:     record.VehicleID,
		Seq:           record.Seq,
		Kind:          domain.EventKind(record.Kind),
		PreviousOwner: domain.Address(record.PreviousOwner),
		NewOwner:      domain.Address(record.NewOwner),
		Actor:         domain.Address(record.Actor),
		OccurredAt:    time.UnixMilli(record.OccurredAtMs).UTC(),
		PrevHash:      record.PrevHash,
		Hash:          record.Hash,
	}, nil
}

var _ storage.VehicleStore = (*Store)(nil)
