package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// EventKind names an ownership history entry.
type EventKind string

const (
	EventRegistered  EventKind = "registered"
	EventTransferred EventKind = "transferred"
)

// OwnershipEvent is one append-only history entry. Hash covers PrevHash and
// every other field, so editing or dropping an entry breaks the chain.
type OwnershipEvent struct {
	ID            string
	VehicleID     string
	Seq           int64
	Kind          EventKind
	PreviousOwner Address
	NewOwner      Address
	Actor         Address
	OccurredAt    time.Time
	PrevHash      string
	Hash          string
}

// OwnershipChange is an ownership event before it is placed on a chain.
type OwnershipChange struct {
	EventID   string
	VehicleID string
	// ExpectedOwner, when set, must still be the owner of record when the
	// store applies the change.
	ExpectedOwner Address
	NewOwner      Address
	Actor         Address
	OccurredAt    time.Time
}

// GenesisEvent builds the first event of a vehicle's history.
func GenesisEvent(change OwnershipChange) OwnershipEvent {
	event := OwnershipEvent{
		ID:         change.EventID,
		VehicleID:  change.VehicleID,
		Seq:        1,
		Kind:       EventRegistered,
		NewOwner:   change.NewOwner,
		Actor:      change.Actor,
		OccurredAt: Timestamp(change.OccurredAt),
	}
	event.Hash = HashEvent(event)
	return event
}

// NextEvent chains a transfer after head.
func NextEvent(head OwnershipEvent, change OwnershipChange) OwnershipEvent {
	event := OwnershipEvent{
		ID:            change.EventID,
		VehicleID:     head.VehicleID,
		Seq:           head.Seq + 1,
		Kind:          EventTransferred,
		PreviousOwner: head.NewOwner,
		NewOwner:      change.NewOwner,
		Actor:         change.Actor,
		OccurredAt:    Timestamp(change.OccurredAt),
		PrevHash:      head.Hash,
	}
	event.Hash = HashEvent(event)
	return event
}

type hashedFields struct {
	ID            string    `json:"id"`
	VehicleID     string    `json:"vehicle_id"`
	Seq           int64     `json:"seq"`
	Kind          EventKind `json:"kind"`
	PreviousOwner Address   `json:"previous_owner"`
	NewOwner      Address   `json:"new_owner"`
	Actor         Address   `json:"actor"`
	OccurredAtMs  int64     `json:"occurred_at_ms"`
	PrevHash      string    `json:"prev_hash"`
}

// HashEvent returns the hex sha256 over the event's fields, excluding Hash.
func HashEvent(event OwnershipEvent) string {
	payload, err := json.Marshal(hashedFields{
		ID:            event.ID,
		VehicleID:     event.VehicleID,
		Seq:           event.Seq,
		Kind:          event.Kind,
		PreviousOwner: event.PreviousOwner,
		NewOwner:      event.NewOwner,
		Actor:         event.Actor,
		OccurredAtMs:  event.OccurredAt.UnixMilli(),
		PrevHash:      event.PrevHash,
	})
	if err != nil {
		// Only strings and integers are marshaled.
		panic(fmt.Sprintf("marshal ownership event: %v", err))
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Verification is the result of checking a vehicle's ownership history.
type Verification struct {
	Valid     bool
	Events    int
	HeadHash  string
	BrokenSeq int64
	Reason    string
}

// VerifyHistory checks that events form an unbroken chain for vehicle that
// starts at registration and ends at the current owner.
func VerifyHistory(vehicle Vehicle, events []OwnershipEvent) Verification {
	result := Verification{Events: len(events)}
	fail := func(seq int64, format string, args ...any) Verification {
		result.BrokenSeq = seq
		result.Reason = fmt.Sprintf(format, args...)
		return result
	}

	if len(events) == 0 {
		return fail(1, "history is empty")
	}

	var head OwnershipEvent
	for i, event := range events {
		wantSeq := int64(i + 1)
		switch {
		case event.Seq != wantSeq:
			return fail(wantSeq, "sequence %d found where %d was expected", event.Seq, wantSeq)
		case event.VehicleID != vehicle.ID:
			return fail(wantSeq, "event belongs to vehicle %q", event.VehicleID)
		case HashEvent(event) != event.Hash:
			return fail(wantSeq, "hash mismatch")
		}

		if i == 0 {
			switch {
			case event.Kind != EventRegistered:
				return fail(wantSeq, "first event is %s, want %s", event.Kind, EventRegistered)
			case event.PrevHash != "" || event.PreviousOwner != "":
				return fail(wantSeq, "genesis event links to a previous entry")
			case !event.OccurredAt.Equal(vehicle.RegisteredAt):
				return fail(wantSeq, "genesis time differs from registration time")
			}
		} else {
			switch {
			case event.Kind != EventTransferred:
				return fail(wantSeq, "event is %s, want %s", event.Kind, EventTransferred)
			case event.PrevHash != head.Hash:
				return fail(wantSeq, "previous hash does not match sequence %d", head.Seq)
			case event.PreviousOwner != head.NewOwner:
				return fail(wantSeq, "previous owner does not match sequence %d", head.Seq)
			case event.Actor != event.PreviousOwner:
				return fail(wantSeq, "transfer was not made by the owner of record")
			}
		}
		head = event
	}

	if head.NewOwner != vehicle.Owner {
		return fail(head.Seq, "latest owner %s does not match record owner %s", head.NewOwner, vehicle.Owner)
	}
	result.Valid = true
	result.HeadHash = head.Hash
	return result
}
