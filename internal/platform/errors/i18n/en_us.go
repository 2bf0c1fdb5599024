package i18n

// Error codes must match the codes defined in internal/platform/errors/codes.go.
// These are duplicated as strings to avoid an import cycle.
const (
	CodeInvalidInput      = "VEHICLE_INVALID_INPUT"
	CodeInvalidVehicleID  = "VEHICLE_INVALID_ID"
	CodeInvalidAddress    = "VEHICLE_INVALID_ADDRESS"
	CodeInvalidPageToken  = "VEHICLE_INVALID_PAGE_TOKEN"
	CodeInvalidListFilter = "VEHICLE_INVALID_FILTER"
	CodeUnauthorized      = "VEHICLE_UNAUTHORIZED"
	CodeNotAdmin          = "VEHICLE_CALLER_NOT_ADMIN"
	CodeNotCurrentOwner   = "VEHICLE_CALLER_NOT_OWNER"
	CodeUnauthenticated   = "VEHICLE_UNAUTHENTICATED"
	CodeAlreadyRegistered = "VEHICLE_ALREADY_REGISTERED"
	CodeNotFound          = "VEHICLE_NOT_FOUND"
	CodeHistoryCorrupted  = "VEHICLE_HISTORY_CORRUPTED"
)

var enUSCatalog = &Catalog{
	locale: "en-US",
	messages: map[Code]string{
		CodeInvalidInput:      "The request is invalid: {{.Reason}}",
		CodeInvalidVehicleID:  "Vehicle ID must be non-empty and at most {{.MaxLength}} bytes.",
		CodeInvalidAddress:    "{{.Field}} is not a valid address.",
		CodeInvalidPageToken:  "The page token is invalid.",
		CodeInvalidListFilter: "The filter is invalid: {{.Reason}}",
		CodeUnauthorized:      "You are not allowed to perform this action.",
		CodeNotAdmin:          "Only the registry administrator can register vehicles.",
		CodeNotCurrentOwner:   "Only the current owner can transfer vehicle {{.VehicleID}}.",
		CodeUnauthenticated:   "A valid caller token is required.",
		CodeAlreadyRegistered: "Vehicle {{.VehicleID}} is already registered.",
		CodeNotFound:          "Vehicle {{.VehicleID}} not found.",
		CodeHistoryCorrupted:  "Ownership history for vehicle {{.VehicleID}} failed verification.",
	},
}
