// Package storagetest provides a conformance suite that every VehicleStore
// backend runs against itself.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/louisbranch/vehicle-registry/internal/services/registry/domain"
	"github.com/louisbranch/vehicle-registry/internal/services/registry/storage"
)

// Principals used by the suite.
var (
	Admin = domain.MustParseAddress("0x" + strings.Repeat("ad", 20))
	Alice = domain.MustParseAddress("0x" + strings.Repeat("a1", 20))
	Bob   = domain.MustParseAddress("0x" + strings.Repeat("b0", 20))
	Carol = domain.MustParseAddress("0x" + strings.Repeat("c4", 20))
)

// Opener returns a fresh, empty store. The suite closes it.
type Opener func(t *testing.T) storage.VehicleStore

// NewVehicle builds a registration for id owned by owner, with its genesis event.
func NewVehicle(id string, owner domain.Address, at time.Time) (domain.Vehicle, domain.OwnershipEvent) {
	at = domain.Timestamp(at)
	vehicle := domain.Vehicle{
		ID:           id,
		Owner:        owner,
		Model:        "Model " + id,
		Manufacturer: "Maker",
		RegisteredAt: at,
		DocumentRef:  "ipfs://doc-" + id,
	}
	genesis := domain.GenesisEvent(domain.OwnershipChange{
		EventID:    "evt-" + id + "-1",
		VehicleID:  id,
		NewOwner:   owner,
		Actor:      Admin,
		OccurredAt: at,
	})
	return vehicle, genesis
}

// RunVehicleStoreConformance runs the shared VehicleStore contract tests.
func RunVehicleStoreConformance(t *testing.T, open Opener) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, store storage.VehicleStore)
	}{
		{"InsertGetRoundTrip", testInsertGetRoundTrip},
		{"HasVehicle", testHasVehicle},
		{"GetMissing", testGetMissing},
		{"InsertDuplicate", testInsertDuplicate},
		{"InsertRejectsMismatchedGenesis", testInsertRejectsMismatchedGenesis},
		{"UpdateOwnerMissing", testUpdateOwnerMissing},
		{"UpdateOwnerChangesOnlyOwner", testUpdateOwnerChangesOnlyOwner},
		{"UpdateOwnerRejectsStaleExpectedOwner", testUpdateOwnerRejectsStaleExpectedOwner},
		{"OwnershipHistoryChains", testOwnershipHistoryChains},
		{"ListOwnershipEventsMissing", testListOwnershipEventsMissing},
		{"ListVehiclesPages", testListVehiclesPages},
		{"ListVehiclesFilters", testListVehiclesFilters},
		{"ConcurrentInsertSameID", testConcurrentInsertSameID},
		{"ConcurrentUpdatesKeepChain", testConcurrentUpdatesKeepChain},
		{"ConcurrentGuardedUpdatesHaveOneWinner", testConcurrentGuardedUpdatesHaveOneWinner},
		{"CanceledContext", testCanceledContext},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := open(t)
			t.Cleanup(func() {
				if err := store.Close(); err != nil {
					t.Errorf("close store: %v", err)
				}
			})
			tt.fn(t, store)
		})
	}
}

var baseTime = time.Date(2026, time.March, 14, 10, 30, 15, 987654321, time.UTC)

func mustInsert(t *testing.T, store storage.VehicleStore, id string, owner domain.Address) domain.Vehicle {
	t.Helper()
	vehicle, genesis := NewVehicle(id, owner, baseTime)
	if err := store.InsertVehicle(context.Background(), vehicle, genesis); err != nil {
		t.Fatalf("insert vehicle %s: %v", id, err)
	}
	return vehicle
}

func transfer(id string, seq int, newOwner, actor domain.Address) domain.OwnershipChange {
	return domain.OwnershipChange{
		EventID:    fmt.Sprintf("evt-%s-%d", id, seq),
		VehicleID:  id,
		NewOwner:   newOwner,
		Actor:      actor,
		OccurredAt: baseTime.Add(time.Duration(seq) * time.Minute),
	}
}

func assertSameVehicle(t *testing.T, got, want domain.Vehicle) {
	t.Helper()
	if got.ID != want.ID {
		t.Fatalf("id = %q, want %q", got.ID, want.ID)
	}
	if got.Owner != want.Owner {
		t.Fatalf("owner = %s, want %s", got.Owner, want.Owner)
	}
	if got.Model != want.Model {
		t.Fatalf("model = %q, want %q", got.Model, want.Model)
	}
	if got.Manufacturer != want.Manufacturer {
		t.Fatalf("manufacturer = %q, want %q", got.Manufacturer, want.Manufacturer)
	}
	if got.DocumentRef != want.DocumentRef {
		t.Fatalf("document ref = %q, want %q", got.DocumentRef, want.DocumentRef)
	}
	if !got.RegisteredAt.Equal(want.RegisteredAt) {
		t.Fatalf("registered at = %v, want %v", got.RegisteredAt, want.RegisteredAt)
	}
}

func testInsertGetRoundTrip(t *testing.T, store storage.VehicleStore) {
	want := mustInsert(t, store, "V1", Alice)

	got, err := store.GetVehicle(context.Background(), "V1")
	if err != nil {
		t.Fatalf("get vehicle: %v", err)
	}
	assertSameVehicle(t, got, want)
	if got.RegisteredAt.Location() != time.UTC {
		t.Fatalf("registered at location = %v, want UTC", got.RegisteredAt.Location())
	}
}

func testHasVehicle(t *testing.T, store storage.VehicleStore) {
	ok, err := store.HasVehicle(context.Background(), "V1")
	if err != nil {
		t.Fatalf("has vehicle: %v", err)
	}
	if ok {
		t.Fatal("expected V1 to be absent")
	}
	mustInsert(t, store, "V1", Alice)
	ok, err = store.HasVehicle(context.Background(), "V1")
	if err != nil {
		t.Fatalf("has vehicle: %v", err)
	}
	if !ok {
		t.Fatal("expected V1 to be present")
	}
}

func testGetMissing(t *testing.T, store storage.VehicleStore) {
	_, err := store.GetVehicle(context.Background(), "V99")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("get missing error = %v, want %v", err, storage.ErrNotFound)
	}
}

func testInsertDuplicate(t *testing.T, store storage.VehicleStore) {
	original := mustInsert(t, store, "V1", Alice)

	dup, genesis := NewVehicle("V1", Bob, baseTime.Add(time.Hour))
	dup.Model = "Other"
	err := store.InsertVehicle(context.Background(), dup, genesis)
	if !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("duplicate insert error = %v, want %v", err, storage.ErrAlreadyExists)
	}

	got, err := store.GetVehicle(context.Background(), "V1")
	if err != nil {
		t.Fatalf("get vehicle: %v", err)
	}
	assertSameVehicle(t, got, original)

	events, err := store.ListOwnershipEvents(context.Background(), "V1")
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events after duplicate = %d, want 1", len(events))
	}
}

func testInsertRejectsMismatchedGenesis(t *testing.T, store storage.VehicleStore) {
	vehicle, _ := NewVehicle("V1", Alice, baseTime)
	_, other := NewVehicle("V2", Alice, baseTime)
	if err := store.InsertVehicle(context.Background(), vehicle, other); err == nil {
		t.Fatal("expected mismatched genesis error")
	}
	if ok, _ := store.HasVehicle(context.Background(), "V1"); ok {
		t.Fatal("rejected insert must not store the vehicle")
	}
}

func testUpdateOwnerMissing(t *testing.T, store storage.VehicleStore) {
	_, err := store.UpdateOwner(context.Background(), transfer("V99", 2, Bob, Alice))
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("update missing error = %v, want %v", err, storage.ErrNotFound)
	}
	if ok, _ := store.HasVehicle(context.Background(), "V99"); ok {
		t.Fatal("update must not create a vehicle")
	}
}

func testUpdateOwnerChangesOnlyOwner(t *testing.T, store storage.VehicleStore) {
	before := mustInsert(t, store, "V1", Alice)

	updated, err := store.UpdateOwner(context.Background(), transfer("V1", 2, Bob, Alice))
	if err != nil {
		t.Fatalf("update owner: %v", err)
	}
	want := before
	want.Owner = Bob
	assertSameVehicle(t, updated, want)

	got, err := store.GetVehicle(context.Background(), "V1")
	if err != nil {
		t.Fatalf("get vehicle: %v", err)
	}
	assertSameVehicle(t, got, want)
}

func testUpdateOwnerRejectsStaleExpectedOwner(t *testing.T, store storage.VehicleStore) {
	mustInsert(t, store, "V1", Alice)
	toBob := transfer("V1", 2, Bob, Alice)
	toBob.ExpectedOwner = Alice
	if _, err := store.UpdateOwner(context.Background(), toBob); err != nil {
		t.Fatalf("transfer to bob: %v", err)
	}

	stale := transfer("V1", 3, Carol, Alice)
	stale.ExpectedOwner = Alice
	_, err := store.UpdateOwner(context.Background(), stale)
	if !errors.Is(err, storage.ErrOwnerChanged) {
		t.Fatalf("stale update error = %v, want %v", err, storage.ErrOwnerChanged)
	}

	got, err := store.GetVehicle(context.Background(), "V1")
	if err != nil {
		t.Fatalf("get vehicle: %v", err)
	}
	if got.Owner != Bob {
		t.Fatalf("owner = %s, want %s", got.Owner, Bob)
	}
	events, err := store.ListOwnershipEvents(context.Background(), "V1")
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
}

func testOwnershipHistoryChains(t *testing.T, store storage.VehicleStore) {
	mustInsert(t, store, "V1", Alice)
	if _, err := store.UpdateOwner(context.Background(), transfer("V1", 2, Bob, Alice)); err != nil {
		t.Fatalf("transfer to bob: %v", err)
	}
	if _, err := store.UpdateOwner(context.Background(), transfer("V1", 3, Bob, Bob)); err != nil {
		t.Fatalf("self transfer: %v", err)
	}
	if _, err := store.UpdateOwner(context.Background(), transfer("V1", 4, Carol, Bob)); err != nil {
		t.Fatalf("transfer to carol: %v", err)
	}

	events, err := store.ListOwnershipEvents(context.Background(), "V1")
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("events = %d, want 4", len(events))
	}
	for i, event := range events {
		if event.Seq != int64(i+1) {
			t.Fatalf("event %d seq = %d", i, event.Seq)
		}
	}
	if events[1].PreviousOwner != Alice || events[1].NewOwner != Bob {
		t.Fatalf("second event = %+v", events[1])
	}

	vehicle, err := store.GetVehicle(context.Background(), "V1")
	if err != nil {
		t.Fatalf("get vehicle: %v", err)
	}
	result := domain.VerifyHistory(vehicle, events)
	if !result.Valid {
		t.Fatalf("history invalid at %d: %s", result.BrokenSeq, result.Reason)
	}
	if result.HeadHash != events[3].Hash {
		t.Fatalf("head hash = %s, want %s", result.HeadHash, events[3].Hash)
	}
}

func testListOwnershipEventsMissing(t *testing.T, store storage.VehicleStore) {
	_, err := store.ListOwnershipEvents(context.Background(), "V99")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("list missing events error = %v, want %v", err, storage.ErrNotFound)
	}
}

func testListVehiclesPages(t *testing.T, store storage.VehicleStore) {
	for _, id := range []string{"V3", "V1", "V5", "V2", "V4"} {
		mustInsert(t, store, id, Alice)
	}

	var seen []string
	after := ""
	for range 5 {
		page, err := store.ListVehicles(context.Background(), storage.ListQuery{PageSize: 2, AfterID: after})
		if err != nil {
			t.Fatalf("list vehicles: %v", err)
		}
		for _, v := range page.Vehicles {
			seen = append(seen, v.ID)
		}
		if page.NextAfterID == "" {
			break
		}
		if len(page.Vehicles) != 2 {
			t.Fatalf("page size = %d, want 2 before last page", len(page.Vehicles))
		}
		after = page.NextAfterID
	}
	if got := strings.Join(seen, ","); got != "V1,V2,V3,V4,V5" {
		t.Fatalf("listed ids = %s, want V1,V2,V3,V4,V5", got)
	}
}

func testListVehiclesFilters(t *testing.T, store storage.VehicleStore) {
	mustInsert(t, store, "V1", Alice)
	mustInsert(t, store, "V2", Bob)
	mustInsert(t, store, "V3", Alice)
	if _, err := store.UpdateOwner(context.Background(), transfer("V3", 2, Carol, Alice)); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	page, err := store.ListVehicles(context.Background(), storage.ListQuery{
		PageSize: 10,
		Filter:   storage.VehicleFilter{Owner: Alice},
	})
	if err != nil {
		t.Fatalf("list by owner: %v", err)
	}
	if len(page.Vehicles) != 1 || page.Vehicles[0].ID != "V1" {
		t.Fatalf("owner filter = %+v, want only V1", page.Vehicles)
	}
	if page.NextAfterID != "" {
		t.Fatalf("next after id = %q, want empty", page.NextAfterID)
	}

	page, err = store.ListVehicles(context.Background(), storage.ListQuery{
		PageSize: 10,
		Filter:   storage.VehicleFilter{Manufacturer: "Maker", Model: "Model V2"},
	})
	if err != nil {
		t.Fatalf("list by model: %v", err)
	}
	if len(page.Vehicles) != 1 || page.Vehicles[0].ID != "V2" {
		t.Fatalf("model filter = %+v, want only V2", page.Vehicles)
	}
}

func testConcurrentInsertSameID(t *testing.T, store storage.VehicleStore) {
	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			vehicle, genesis := NewVehicle("V1", Alice, baseTime.Add(time.Duration(i)*time.Second))
			err := store.InsertVehicle(context.Background(), vehicle, genesis)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, storage.ErrAlreadyExists):
				conflicts++
			default:
				t.Errorf("insert: %v", err)
			}
		}()
	}
	wg.Wait()
	if successes != 1 || conflicts != workers-1 {
		t.Fatalf("successes = %d conflicts = %d, want 1 and %d", successes, conflicts, workers-1)
	}
}

func testConcurrentUpdatesKeepChain(t *testing.T, store storage.VehicleStore) {
	mustInsert(t, store, "V1", Alice)

	const workers = 8
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			change := transfer("V1", 100+i, Bob, Alice)
			if _, err := store.UpdateOwner(context.Background(), change); err != nil {
				t.Errorf("update owner: %v", err)
			}
		}()
	}
	wg.Wait()

	events, err := store.ListOwnershipEvents(context.Background(), "V1")
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != workers+1 {
		t.Fatalf("events = %d, want %d", len(events), workers+1)
	}
	for i := 1; i < len(events); i++ {
		if events[i].PrevHash != events[i-1].Hash {
			t.Fatalf("event %d does not link to event %d", events[i].Seq, events[i-1].Seq)
		}
	}
}

func testCanceledContext(t *testing.T, store storage.VehicleStore) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	vehicle, genesis := NewVehicle("V1", Alice, baseTime)
	if err := store.InsertVehicle(ctx, vehicle, genesis); !errors.Is(err, context.Canceled) {
		t.Fatalf("insert with canceled context error = %v, want %v", err, context.Canceled)
	}
	if _, err := store.GetVehicle(ctx, "V1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("get with canceled context error = %v, want %v", err, context.Canceled)
	}
}

func testConcurrentGuardedUpdatesHaveOneWinner(t *testing.T, store storage.VehicleStore) {
	mustInsert(t, store, "V1", Alice)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		stale     int
	)
	recipients := []domain.Address{Bob, Carol}
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			change := transfer("V1", 200+i, recipients[i%len(recipients)], Alice)
			change.ExpectedOwner = Alice
			_, err := store.UpdateOwner(context.Background(), change)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, storage.ErrOwnerChanged):
				stale++
			default:
				t.Errorf("update owner: %v", err)
			}
		}()
	}
	wg.Wait()
	if successes != 1 || stale != workers-1 {
		t.Fatalf("successes = %d stale = %d, want 1 and %d", successes, stale, workers-1)
	}

	events, err := store.ListOwnershipEvents(context.Background(), "V1")
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	vehicle, err := store.GetVehicle(context.Background(), "V1")
	if err != nil {
		t.Fatalf("get vehicle: %v", err)
	}
	if report := domain.VerifyHistory(vehicle, events); !report.Valid {
		t.Fatalf("history invalid: %s", report.Reason)
	}
}
