package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	apperrors "github.com/louisbranch/vehicle-registry/internal/platform/errors"
	"github.com/louisbranch/vehicle-registry/internal/services/registry/domain"
	"github.com/louisbranch/vehicle-registry/internal/services/registry/storage"
	"github.com/louisbranch/vehicle-registry/internal/services/registry/storage/memory"
)

func TestConcurrentRegistrationsOfSameID(t *testing.T) {
	svc, _ := newTestService(t)
	const workers = 16

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	owners := []domain.Address{alice, bob, carol}
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Register(context.Background(), admin.String(), RegisterInput{
				ID:           "V1",
				Owner:        owners[i%len(owners)].String(),
				Model:        "M",
				Manufacturer: "Mk",
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrAlreadyExists):
				conflicts++
			default:
				t.Errorf("register: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 || conflicts != workers-1 {
		t.Fatalf("successes = %d conflicts = %d, want 1 and %d", successes, conflicts, workers-1)
	}
}

func TestConcurrentTransfersFromSameOwner(t *testing.T) {
	svc, _ := newTestService(t)
	registerV1(t, svc)

	// Alice races herself to hand V1 to several recipients. Only the first
	// transfer wins; every later one sees a new owner and is rejected.
	recipients := []domain.Address{bob, carol, bob, carol, bob, carol}
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		successes    int
		unauthorized int
	)
	for _, to := range recipients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.TransferOwnership(context.Background(), alice.String(), "V1", to.String())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrUnauthorized):
				unauthorized++
			default:
				t.Errorf("transfer: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 || unauthorized != len(recipients)-1 {
		t.Fatalf("successes = %d unauthorized = %d", successes, unauthorized)
	}
	result, err := svc.VerifyOwnershipHistory(context.Background(), "V1")
	if err != nil || !result.Valid || result.Events != 2 {
		t.Fatalf("verification = %+v, %v", result, err)
	}
}

func TestConcurrentReadsSeeWholeRecords(t *testing.T) {
	svc, _ := newTestService(t)
	before := registerV1(t, svc)

	stop := make(chan struct{})
	var readers sync.WaitGroup
	for range 4 {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				got, err := svc.GetVehicle(context.Background(), "V1")
				if err != nil {
					t.Errorf("get: %v", err)
					return
				}
				if got.Model != before.Model || got.Manufacturer != before.Manufacturer || !got.RegisteredAt.Equal(before.RegisteredAt) {
					t.Errorf("torn read: %+v", got)
					return
				}
				if got.Owner != alice && got.Owner != bob {
					t.Errorf("unexpected owner %s", got.Owner)
					return
				}
			}
		}()
	}

	owner := alice
	for range 50 {
		next := bob
		if owner == bob {
			next = alice
		}
		if _, err := svc.TransferOwnership(context.Background(), owner.String(), "V1", next.String()); err != nil {
			t.Fatalf("transfer: %v", err)
		}
		owner = next
	}
	close(stop)
	readers.Wait()
}

// barrierStore holds every GetVehicle until all parties have read.
type barrierStore struct {
	storage.VehicleStore
	reads *sync.WaitGroup
}

func (s barrierStore) GetVehicle(ctx context.Context, id string) (domain.Vehicle, error) {
	vehicle, err := s.VehicleStore.GetVehicle(ctx, id)
	s.reads.Done()
	s.reads.Wait()
	return vehicle, err
}

func TestTransfersFromServicesSharingAStore(t *testing.T) {
	shared := memory.New()
	seed, err := New(shared, admin.String(), WithLogf(func(string, ...any) {}))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	registerV1(t, seed)

	// Each service has its own lock table, as separate processes would.
	var reads sync.WaitGroup
	reads.Add(2)
	recipients := []domain.Address{bob, carol}
	errs := make([]error, len(recipients))
	var wg sync.WaitGroup
	for i, to := range recipients {
		svc, err := New(barrierStore{VehicleStore: shared, reads: &reads}, admin.String(), WithLogf(func(string, ...any) {}))
		if err != nil {
			t.Fatalf("new service: %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.TransferOwnership(context.Background(), alice.String(), "V1", to.String())
		}()
	}
	wg.Wait()

	var successes int
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case apperrors.CodeOf(err) == apperrors.CodeNotCurrentOwner:
		default:
			t.Fatalf("transfer: %v", err)
		}
	}
	if successes != 1 {
		t.Fatalf("successes = %d, want 1 (errors %v)", successes, errs)
	}
	result, err := seed.VerifyOwnershipHistory(context.Background(), "V1")
	if err != nil || !result.Valid || result.Events != 2 {
		t.Fatalf("verification = %+v, %v", result, err)
	}
}
