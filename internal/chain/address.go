package chain

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// AddressLength is the byte length of a ledger account identifier.
const AddressLength = 20

// Address is a fixed-length binary account identifier.
type Address [AddressLength]byte

// ZeroAddress is the sentinel asset identifier for the chain's native asset.
var ZeroAddress Address

// ParseAddress parses a 0x-prefixed hex account identifier.
func ParseAddress(s string) (Address, error) {
	var a Address
	trimmed := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(trimmed) != AddressLength*2 {
		return a, fmt.Errorf("invalid address %q: want %d hex characters, got %d", s, AddressLength*2, len(trimmed))
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return a, fmt.Errorf("invalid address %q: %w", s, err)
	}
	copy(a[:], raw)
	return a, nil
}

// MustParseAddress is ParseAddress for known-good literals; panics on error.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Hex returns the 0x-prefixed lowercase hex form.
func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

func (a Address) String() string {
	return a.Hex()
}

// IsZero reports whether the address is the native-asset sentinel.
func (a Address) IsZero() bool {
	return a == ZeroAddress
}
