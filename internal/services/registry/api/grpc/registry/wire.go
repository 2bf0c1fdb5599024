package registry

import (
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/louisbranch/vehicle-registry/internal/services/registry/domain"
)

// Field names shared by requests and responses.
const (
	fieldID            = "id"
	fieldOwner         = "owner"
	fieldNewOwner      = "new_owner"
	fieldModel         = "model"
	fieldManufacturer  = "manufacturer"
	fieldDocumentRef   = "document_ref"
	fieldRegisteredAt  = "registered_at"
	fieldVehicle       = "vehicle"
	fieldVehicles      = "vehicles"
	fieldRegistered    = "registered"
	fieldPageSize      = "page_size"
	fieldPageToken     = "page_token"
	fieldNextPageToken = "next_page_token"
	fieldFilter        = "filter"
	fieldOrderBy       = "order_by"
	fieldEvents        = "events"
	fieldValid         = "valid"
	fieldEventCount    = "event_count"
	fieldHeadHash      = "head_hash"
	fieldBrokenSeq     = "broken_seq"
	fieldReason        = "reason"
)

func vehicleValue(vehicle domain.Vehicle) map[string]any {
	return map[string]any{
		fieldID:           vehicle.ID,
		fieldOwner:        vehicle.Owner.String(),
		fieldModel:        vehicle.Model,
		fieldManufacturer: vehicle.Manufacturer,
		fieldRegisteredAt: formatTime(vehicle.RegisteredAt),
		fieldDocumentRef:  vehicle.DocumentRef,
	}
}

func eventValue(event domain.OwnershipEvent) map[string]any {
	return map[string]any{
		fieldID:          event.ID,
		"vehicle_id":     event.VehicleID,
		"seq":            event.Seq,
		"kind":           string(event.Kind),
		"previous_owner": event.PreviousOwner.String(),
		fieldNewOwner:    event.NewOwner.String(),
		"actor":          event.Actor.String(),
		"occurred_at":    formatTime(event.OccurredAt),
		"prev_hash":      event.PrevHash,
		"hash":           event.Hash,
	}
}

func verificationValue(result domain.Verification) map[string]any {
	return map[string]any{
		fieldValid:      result.Valid,
		fieldEventCount: result.Events,
		fieldHeadHash:   result.HeadHash,
		fieldBrokenSeq:  result.BrokenSeq,
		fieldReason:     result.Reason,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// stringField returns the string field name of s. Absent and null fields
// read as empty.
func stringField(s *structpb.Struct, name string) (string, error) {
	value, ok := s.GetFields()[name]
	if !ok {
		return "", nil
	}
	switch kind := value.GetKind().(type) {
	case *structpb.Value_StringValue:
		return kind.StringValue, nil
	case *structpb.Value_NullValue:
		return "", nil
	default:
		return "", fmt.Errorf("%s must be a string", name)
	}
}

// intField returns the integral number field name of s.
func intField(s *structpb.Struct, name string) (int64, error) {
	value, ok := s.GetFields()[name]
	if !ok {
		return 0, nil
	}
	switch kind := value.GetKind().(type) {
	case *structpb.Value_NumberValue:
		n := kind.NumberValue
		if n != math.Trunc(n) || n > math.MaxInt32 || n < math.MinInt32 {
			return 0, fmt.Errorf("%s must be a 32-bit integer", name)
		}
		return int64(n), nil
	case *structpb.Value_NullValue:
		return 0, nil
	default:
		return 0, fmt.Errorf("%s must be a number", name)
	}
}

func vehicleFromStruct(s *structpb.Struct) (domain.Vehicle, error) {
	if s == nil {
		return domain.Vehicle{}, fmt.Errorf("vehicle is missing")
	}
	fields := s.GetFields()
	owner, err := domain.ParseAddress(fields[fieldOwner].GetStringValue())
	if err != nil {
		return domain.Vehicle{}, fmt.Errorf("vehicle owner: %w", err)
	}
	registeredAt, err := parseTime(fields[fieldRegisteredAt].GetStringValue())
	if err != nil {
		return domain.Vehicle{}, fmt.Errorf("vehicle registered_at: %w", err)
	}
	return domain.Vehicle{
		ID:           fields[fieldID].GetStringValue(),
		Owner:        owner,
		Model:        fields[fieldModel].GetStringValue(),
		Manufacturer: fields[fieldManufacturer].GetStringValue(),
		RegisteredAt: registeredAt,
		DocumentRef:  fields[fieldDocumentRef].GetStringValue(),
	}, nil
}

func eventFromStruct(s *structpb.Struct) (domain.OwnershipEvent, error) {
	fields := s.GetFields()
	parseOptional := func(name string) (domain.Address, error) {
		raw := fields[name].GetStringValue()
		if raw == "" {
			return "", nil
		}
		return domain.ParseAddress(raw)
	}
	previous, err := parseOptional("previous_owner")
	if err != nil {
		return domain.OwnershipEvent{}, fmt.Errorf("event previous_owner: %w", err)
	}
	next, err := parseOptional(fieldNewOwner)
	if err != nil {
		return domain.OwnershipEvent{}, fmt.Errorf("event new_owner: %w", err)
	}
	actor, err := parseOptional("actor")
	if err != nil {
		return domain.OwnershipEvent{}, fmt.Errorf("event actor: %w", err)
	}
	occurredAt, err := parseTime(fields["occurred_at"].GetStringValue())
	if err != nil {
		return domain.OwnershipEvent{}, fmt.Errorf("event occurred_at: %w", err)
	}
	return domain.OwnershipEvent{
		ID:            fields[fieldID].GetStringValue(),
		VehicleID:     fields["vehicle_id"].GetStringValue(),
		Seq:           int64(fields["seq"].GetNumberValue()),
		Kind:          domain.EventKind(fields["kind"].GetStringValue()),
		PreviousOwner: previous,
		NewOwner:      next,
		Actor:         actor,
		OccurredAt:    occurredAt,
		PrevHash:      fields["prev_hash"].GetStringValue(),
		Hash:          fields["hash"].GetStringValue(),
	}, nil
}

func verificationFromStruct(s *structpb.Struct) domain.Verification {
	fields := s.GetFields()
	return domain.Verification{
		Valid:     fields[fieldValid].GetBoolValue(),
		Events:    int(fields[fieldEventCount].GetNumberValue()),
		HeadHash:  fields[fieldHeadHash].GetStringValue(),
		BrokenSeq: int64(fields[fieldBrokenSeq].GetNumberValue()),
		Reason:    fields[fieldReason].GetStringValue(),
	}
}
