package registryctl

import (
	"time"

	"github.com/louisbranch/vehicle-registry/internal/services/registry/domain"
)

type vehicleView struct {
	ID           string `json:"id"`
	Owner        string `json:"owner"`
	Model        string `json:"model"`
	Manufacturer string `json:"manufacturer"`
	RegisteredAt string `json:"registered_at"`
	DocumentRef  string `json:"document_ref,omitempty"`
}

type existsView struct {
	ID         string `json:"id"`
	Registered bool   `json:"registered"`
}

type listView struct {
	Vehicles      []vehicleView `json:"vehicles"`
	NextPageToken string        `json:"next_page_token,omitempty"`
}

type eventView struct {
	Seq           int64  `json:"seq"`
	Kind          string `json:"kind"`
	PreviousOwner string `json:"previous_owner,omitempty"`
	NewOwner      string `json:"new_owner"`
	Actor         string `json:"actor"`
	OccurredAt    string `json:"occurred_at"`
	PrevHash      string `json:"prev_hash,omitempty"`
	Hash          string `json:"hash"`
}

type verificationView struct {
	Valid     bool   `json:"valid"`
	Events    int    `json:"events"`
	HeadHash  string `json:"head_hash,omitempty"`
	BrokenSeq int64  `json:"broken_seq,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

func newVehicleView(vehicle domain.Vehicle) vehicleView {
	return vehicleView{
		ID:           vehicle.ID,
		Owner:        vehicle.Owner.String(),
		Model:        vehicle.Model,
		Manufacturer: vehicle.Manufacturer,
		RegisteredAt: formatTime(vehicle.RegisteredAt),
		DocumentRef:  vehicle.DocumentRef,
	}
}

func newEventView(event domain.OwnershipEvent) eventView {
	return eventView{
		Seq:           event.Seq,
		Kind:          string(event.Kind),
		PreviousOwner: event.PreviousOwner.String(),
		NewOwner:      event.NewOwner.String(),
		Actor:         event.Actor.String(),
		OccurredAt:    formatTime(event.OccurredAt),
		PrevHash:      event.PrevHash,
		Hash:          event.Hash,
	}
}

func newVerificationView(v domain.Verification) verificationView {
	return verificationView{
		Valid:     v.Valid,
		Events:    v.Events,
		HeadHash:  v.HeadHash,
		BrokenSeq: v.BrokenSeq,
		Reason:    v.Reason,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
