package domain

import (
	"strings"
	"testing"
	"time"
)

var (
	testAdmin = MustParseAddress("0x" + strings.Repeat("ad", 20))
	testAlice = MustParseAddress("0x" + strings.Repeat("a1", 20))
	testBob   = MustParseAddress("0x" + strings.Repeat("b0", 20))
	testCarol = MustParseAddress("0x" + strings.Repeat("c4", 20))
)

func buildHistory(t *testing.T) (Vehicle, []OwnershipEvent) {
	t.Helper()
	registeredAt := Timestamp(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	vehicle := Vehicle{
		ID:           "V1",
		Owner:        testAlice,
		Model:        "M",
		Manufacturer: "Mk",
		RegisteredAt: registeredAt,
	}

	genesis := GenesisEvent(OwnershipChange{
		EventID:    "evt-1",
		VehicleID:  "V1",
		NewOwner:   testAlice,
		Actor:      testAdmin,
		OccurredAt: registeredAt,
	})
	toBob := NextEvent(genesis, OwnershipChange{
		EventID:    "evt-2",
		NewOwner:   testBob,
		Actor:      testAlice,
		OccurredAt: registeredAt.Add(time.Hour),
	})
	toCarol := NextEvent(toBob, OwnershipChange{
		EventID:    "evt-3",
		NewOwner:   testCarol,
		Actor:      testBob,
		OccurredAt: registeredAt.Add(2 * time.Hour),
	})
	vehicle.Owner = testCarol
	return vehicle, []OwnershipEvent{genesis, toBob, toCarol}
}

func TestChainLinksEvents(t *testing.T) {
	_, events := buildHistory(t)

	if events[0].Seq != 1 || events[0].PrevHash != "" || events[0].Kind != EventRegistered {
		t.Fatalf("genesis = %+v", events[0])
	}
	for i := 1; i < len(events); i++ {
		if events[i].PrevHash != events[i-1].Hash {
			t.Fatalf("event %d prev hash = %s, want %s", i+1, events[i].PrevHash, events[i-1].Hash)
		}
		if events[i].PreviousOwner != events[i-1].NewOwner {
			t.Fatalf("event %d previous owner = %s, want %s", i+1, events[i].PreviousOwner, events[i-1].NewOwner)
		}
		if events[i].Seq != int64(i+1) {
			t.Fatalf("event %d seq = %d", i+1, events[i].Seq)
		}
	}
	if len(events[2].Hash) != 64 {
		t.Fatalf("hash length = %d, want 64", len(events[2].Hash))
	}
}

func TestHashEventIgnoresHashField(t *testing.T) {
	_, events := buildHistory(t)
	event := events[1]
	event.Hash = "tampered"
	if HashEvent(event) != events[1].Hash {
		t.Fatal("hash must not depend on the Hash field")
	}
}

func TestVerifyHistoryValid(t *testing.T) {
	vehicle, events := buildHistory(t)
	got := VerifyHistory(vehicle, events)
	if !got.Valid {
		t.Fatalf("VerifyHistory invalid: seq %d: %s", got.BrokenSeq, got.Reason)
	}
	if got.Events != 3 {
		t.Fatalf("events = %d, want 3", got.Events)
	}
	if got.HeadHash != events[2].Hash {
		t.Fatalf("head hash = %s, want %s", got.HeadHash, events[2].Hash)
	}
}

func TestVerifyHistoryDetectsTampering(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(Vehicle, []OwnershipEvent) (Vehicle, []OwnershipEvent)
		wantSeq int64
	}{
		{
			name: "empty",
			mutate: func(v Vehicle, _ []OwnershipEvent) (Vehicle, []OwnershipEvent) {
				return v, nil
			},
			wantSeq: 1,
		},
		{
			name: "edited owner",
			mutate: func(v Vehicle, events []OwnershipEvent) (Vehicle, []OwnershipEvent) {
				events[1].NewOwner = testCarol
				return v, events
			},
			wantSeq: 2,
		},
		{
			name: "dropped event",
			mutate: func(v Vehicle, events []OwnershipEvent) (Vehicle, []OwnershipEvent) {
				return v, []OwnershipEvent{events[0], events[2]}
			},
			wantSeq: 2,
		},
		{
			name: "rehashed forgery",
			mutate: func(v Vehicle, events []OwnershipEvent) (Vehicle, []OwnershipEvent) {
				events[1].NewOwner = testCarol
				events[1].Hash = HashEvent(events[1])
				return v, events
			},
			wantSeq: 3,
		},
		{
			name: "record owner diverges",
			mutate: func(v Vehicle, events []OwnershipEvent) (Vehicle, []OwnershipEvent) {
				v.Owner = testBob
				return v, events
			},
			wantSeq: 3,
		},
		{
			name: "genesis time differs",
			mutate: func(v Vehicle, events []OwnershipEvent) (Vehicle, []OwnershipEvent) {
				v.RegisteredAt = v.RegisteredAt.Add(time.Second)
				return v, events
			},
			wantSeq: 1,
		},
		{
			name: "foreign vehicle",
			mutate: func(v Vehicle, events []OwnershipEvent) (Vehicle, []OwnershipEvent) {
				v.ID = "V2"
				return v, events
			},
			wantSeq: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vehicle, events := buildHistory(t)
			vehicle, events = tt.mutate(vehicle, events)
			got := VerifyHistory(vehicle, events)
			if got.Valid {
				t.Fatal("expected invalid history")
			}
			if got.BrokenSeq != tt.wantSeq {
				t.Fatalf("broken seq = %d, want %d (%s)", got.BrokenSeq, tt.wantSeq, got.Reason)
			}
			if got.Reason == "" {
				t.Fatal("expected reason")
			}
		})
	}
}
