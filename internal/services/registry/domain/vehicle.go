// Package domain defines registry records, principals and the ownership
// history chain shared by the service and every store backend.
package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

// MaxVehicleIDLength bounds vehicle identifiers in bytes.
const MaxVehicleIDLength = 128

// Vehicle is one registered asset.
type Vehicle struct {
	ID           string
	Owner        Address
	Model        string
	Manufacturer string
	RegisteredAt time.Time
	DocumentRef  string
}

// NormalizeVehicleID trims surrounding whitespace from id.
func NormalizeVehicleID(id string) string {
	return strings.TrimSpace(id)
}

// ValidVehicleID reports whether a normalized id is usable as a key.
func ValidVehicleID(id string) bool {
	if id == "" || len(id) > MaxVehicleIDLength || !utf8.ValidString(id) {
		return false
	}
	for _, r := range id {
		if r < 0x20 || r == 0x7f {
			return false
		}
	}
	return true
}

// Timestamp truncates t to millisecond precision in UTC, the resolution every
// store persists.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}
