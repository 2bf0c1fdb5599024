package domain

import (
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Address is a 20-byte account address in EIP-55 checksummed form.
type Address string

// ZeroAddress is the null identity. It never owns a vehicle.
const ZeroAddress Address = "0x0000000000000000000000000000000000000000"

var (
	// ErrAddressFormat reports input that is not 0x followed by 40 hex digits.
	ErrAddressFormat = errors.New("address must be 0x followed by 40 hex digits")
	// ErrAddressChecksum reports mixed-case input with a bad EIP-55 checksum.
	ErrAddressChecksum = errors.New("address checksum mismatch")
)

// ParseAddress validates raw and returns its checksummed form. All-lower and
// all-upper hex are accepted as is; mixed case must carry a valid checksum.
func ParseAddress(raw string) (Address, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) != 42 || (raw[:2] != "0x" && raw[:2] != "0X") {
		return "", ErrAddressFormat
	}
	body := raw[2:]
	if _, err := hex.DecodeString(body); err != nil {
		return "", ErrAddressFormat
	}

	checksummed := checksum(strings.ToLower(body))
	lower := strings.ToLower(body)
	upper := strings.ToUpper(body)
	if body != lower && body != upper && "0x"+body != string(checksummed) {
		return "", ErrAddressChecksum
	}
	return checksummed, nil
}

// MustParseAddress is ParseAddress for constants and tests.
func MustParseAddress(raw string) Address {
	addr, err := ParseAddress(raw)
	if err != nil {
		panic(err)
	}
	return addr
}

// IsZero reports whether a is empty or the null identity.
func (a Address) IsZero() bool {
	return a == "" || a == ZeroAddress
}

// String returns the checksummed address.
func (a Address) String() string {
	return string(a)
}

func checksum(lowerHex string) Address {
	hasher := sha3.NewLegacyKeccak256()
	hasher.Write([]byte(lowerHex))
	digest := hasher.Sum(nil)

	out := []byte(lowerHex)
	for i, c := range out {
		if c < 'a' || c > 'f' {
			continue
		}
		nibble := digest[i/2]
		if i%2 == 0 {
			nibble >>= 4
		} else {
			nibble &= 0x0f
		}
		if nibble >= 8 {
			out[i] = c - 'a' + 'A'
		}
	}
	return Address("0x" + string(out))
}
