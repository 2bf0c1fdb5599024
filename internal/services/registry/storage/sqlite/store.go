// Package sqlite provides a SQLite-backed registry store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/vehicle-registry/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/vehicle-registry/internal/services/registry/domain"
	"github.com/louisbranch/vehicle-registry/internal/services/registry/storage"
	"github.com/louisbranch/vehicle-registry/internal/services/registry/storage/sqlite/migrations"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Store persists registry state in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite registry store and applies embedded migrations.
// Write transactions take the database lock up front so concurrent writers
// queue on the busy timeout instead of failing on lock upgrade.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlitemigrate.ApplyMigrations(context.Background(), sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

const vehicleColumns = `id, owner, model, manufacturer, registered_at, document_ref`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVehicle(row rowScanner) (domain.Vehicle, error) {
	var (
		vehicle      domain.Vehicle
		owner        string
		registeredAt int64
	)
	if err := row.Scan(
		&vehicle.ID,
		&owner,
		&vehicle.Model,
		&vehicle.Manufacturer,
		&registeredAt,
		&vehicle.DocumentRef,
	); err != nil {
		return domain.Vehicle{}, err
	}
	vehicle.Owner = domain.Address(owner)
	vehicle.RegisteredAt = fromMillis(registeredAt)
	return vehicle, nil
}

// GetVehicle returns one vehicle by id.
func (s *Store) GetVehicle(ctx context.Context, id string) (domain.Vehicle, error) {
	if err := ctx.Err(); err != nil {
		return domain.Vehicle{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.Vehicle{}, fmt.Errorf("storage is not configured")
	}

	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+vehicleColumns+` FROM vehicles WHERE id = ?`, id)
	vehicle, err := scanVehicle(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Vehicle{}, storage.ErrNotFound
		}
		return domain.Vehicle{}, fmt.Errorf("get vehicle: %w", err)
	}
	return vehicle, nil
}

// HasVehicle reports whether id is registered without loading the record.
func (s *Store) HasVehicle(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s == nil || s.sqlDB == nil {
		return false, fmt.Errorf("storage is not configured")
	}

	var exists bool
	if err := s.sqlDB.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM vehicles WHERE id = ?)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("has vehicle: %w", err)
	}
	return exists, nil
}

// InsertVehicle stores vehicle and its genesis event in one transaction.
func (s *Store) InsertVehicle(ctx context.Context, vehicle domain.Vehicle, genesis domain.OwnershipEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if err := storage.ValidateInsert(vehicle, genesis); err != nil {
		return fmt.Errorf("insert vehicle: %w", err)
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert vehicle: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO vehicles (`+vehicleColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		vehicle.ID,
		vehicle.Owner.String(),
		vehicle.Model,
		vehicle.Manufacturer,
		toMillis(vehicle.RegisteredAt),
		vehicle.DocumentRef,
	); err != nil {
		if isVehicleUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("insert vehicle: %w", err)
	}
	if err := insertEvent(ctx, tx, genesis); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert vehicle: %w", err)
	}
	return nil
}

// UpdateOwner replaces the owner and appends a chained transfer event in one
// transaction.
func (s *Store) UpdateOwner(ctx context.Context, change domain.OwnershipChange) (domain.Vehicle, error) {
	if err := ctx.Err(); err != nil {
		return domain.Vehicle{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.Vehicle{}, fmt.Errorf("storage is not configured")
	}
	if err := storage.ValidateChange(change); err != nil {
		return domain.Vehicle{}, fmt.Errorf("update owner: %w", err)
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Vehicle{}, fmt.Errorf("begin update owner: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	vehicle, err := scanVehicle(tx.QueryRowContext(ctx, `SELECT `+vehicleColumns+` FROM vehicles WHERE id = ?`, change.VehicleID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Vehicle{}, storage.ErrNotFound
		}
		return domain.Vehicle{}, fmt.Errorf("update owner: load vehicle: %w", err)
	}

	head, err := scanEvent(tx.QueryRowContext(
		ctx,
		`SELECT `+eventColumns+` FROM ownership_events WHERE vehicle_id = ? ORDER BY seq DESC LIMIT 1`,
		change.VehicleID,
	))
	if err != nil {
		return domain.Vehicle{}, fmt.Errorf("update owner: load history head: %w", err)
	}

	if err := storage.CheckExpectedOwner(vehicle, change); err != nil {
		return domain.Vehicle{}, err
	}

	query := `UPDATE vehicles SET owner = ? WHERE id = ?`
	args := []any{change.NewOwner.String(), change.VehicleID}
	if !change.ExpectedOwner.IsZero() {
		query += ` AND owner = ?`
		args = append(args, change.ExpectedOwner.String())
	}
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return domain.Vehicle{}, fmt.Errorf("update owner: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return domain.Vehicle{}, fmt.Errorf("update owner: rows affected: %w", err)
	}
	if affected != 1 {
		return domain.Vehicle{}, storage.ErrOwnerChanged
	}
	if err := insertEvent(ctx, tx, domain.NextEvent(head, change)); err != nil {
		return domain.Vehicle{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Vehicle{}, fmt.Errorf("commit update owner: %w", err)
	}

	vehicle.Owner = change.NewOwner
	return vehicle, nil
}

// ListVehicles returns one page of vehicles ordered by id.
func (s *Store) ListVehicles(ctx context.Context, query storage.ListQuery) (storage.VehiclePage, error) {
	if err := ctx.Err(); err != nil {
		return storage.VehiclePage{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.VehiclePage{}, fmt.Errorf("storage is not configured")
	}
	if query.PageSize <= 0 {
		return storage.VehiclePage{}, fmt.Errorf("page size must be greater than zero")
	}

	var (
		clauses []string
		args    []any
	)
	if after := strings.TrimSpace(query.AfterID); after != "" {
		clauses = append(clauses, "id > ?")
		args = append(args, after)
	}
	if query.Filter.Owner != "" {
		clauses = append(clauses, "owner = ?")
		args = append(args, query.Filter.Owner.String())
	}
	if query.Filter.Manufacturer != "" {
		clauses = append(clauses, "manufacturer = ?")
		args = append(args, query.Filter.Manufacturer)
	}
	if query.Filter.Model != "" {
		clauses = append(clauses, "model = ?")
		args = append(args, query.Filter.Model)
	}

	stmt := `SELECT ` + vehicleColumns + ` FROM vehicles`
	if len(clauses) > 0 {
		stmt += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	stmt += ` ORDER BY id ASC LIMIT ?`
	args = append(args, query.PageSize+1)

	rows, err := s.sqlDB.QueryContext(ctx, stmt, args...)
	if err != nil {
		return storage.VehiclePage{}, fmt.Errorf("list vehicles: %w", err)
	}
	defer rows.Close()

	page := storage.VehiclePage{Vehicles: make([]domain.Vehicle, 0, query.PageSize)}
	for rows.Next() {
		vehicle, err := scanVehicle(rows)
		if err != nil {
			return storage.VehiclePage{}, fmt.Errorf("list vehicles: %w", err)
		}
		page.Vehicles = append(page.Vehicles, vehicle)
	}
	if err := rows.Err(); err != nil {
		return storage.VehiclePage{}, fmt.Errorf("list vehicles: %w", err)
	}
	if len(page.Vehicles) > query.PageSize {
		page.NextAfterID = page.Vehicles[query.PageSize-1].ID
		page.Vehicles = page.Vehicles[:query.PageSize]
	}
	return page, nil
}

// ListOwnershipEvents returns the history of id, oldest first.
func (s *Store) ListOwnershipEvents(ctx context.Context, id string) ([]domain.OwnershipEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	// One transaction keeps the existence check and the history consistent.
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin list ownership events: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM vehicles WHERE id = ?)`, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("list ownership events: %w", err)
	}
	if !exists {
		return nil, storage.ErrNotFound
	}

	rows, err := tx.QueryContext(ctx, `SELECT `+eventColumns+` FROM ownership_events WHERE vehicle_id = ? ORDER BY seq ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("list ownership events: %w", err)
	}
	defer rows.Close()

	var events []domain.OwnershipEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("list ownership events: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list ownership events: %w", err)
	}
	return events, nil
}

const eventColumns = `id, vehicle_id, seq, kind, previous_owner, new_owner, actor, occurred_at, prev_hash, hash`

func scanEvent(row rowScanner) (domain.OwnershipEvent, error) {
	var (
		event         domain.OwnershipEvent
		kind          string
		previousOwner string
		newOwner      string
		actor         string
		occurredAt    int64
	)
	if err := row.Scan(
		&event.ID,
		&event.VehicleID,
		&event.Seq,
		&kind,
		&previousOwner,
		&newOwner,
		&actor,
		&occurredAt,
		&event.PrevHash,
		&event.Hash,
	); err != nil {
		return domain.OwnershipEvent{}, err
	}
	event.Kind = domain.EventKind(kind)
	event.PreviousOwner = domain.Address(previousOwner)
	event.NewOwner = domain.Address(newOwner)
	event.Actor = domain.Address(actor)
	event.OccurredAt = fromMillis(occurredAt)
	return event, nil
}

func insertEvent(ctx context.Context, tx *sql.Tx, event domain.OwnershipEvent) error {
	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO ownership_events (`+eventColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.VehicleID,
		event.Seq,
		string(event.Kind),
		event.PreviousOwner.String(),
		event.NewOwner.String(),
		event.Actor.String(),
		toMillis(event.OccurredAt),
		event.PrevHash,
		event.Hash,
	); err != nil {
		return fmt.Errorf("append ownership event: %w", err)
	}
	return nil
}

func isVehicleUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint failed") &&
		strings.Contains(message, "vehicles.id")
}

var _ storage.VehicleStore = (*Store)(nil)
