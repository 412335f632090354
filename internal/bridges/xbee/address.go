package xbee

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Address64 is a radio's factory-assigned 64-bit serial address.
type Address64 [8]byte

// Address16 values with special meaning.
const (
	// Unknown16 tells the radio to discover the 16-bit address itself.
	Unknown16 uint16 = 0xFFFE
)

// Broadcast64 addresses every radio on the network.
var Broadcast64 = Address64{0, 0, 0, 0, 0, 0, 0xFF, 0xFF}

// ParseAddress64 parses 16 hex digits. Spaces, colons and dashes are
// ignored, so "00 13 A2 00 40 3D B1 5B" and "0013a200403db15b" are equal.
func ParseAddress64(s string) (Address64, error) {
	var a Address64

	clean := strings.Map(func(r rune) rune {
		switch r {
		case ' ', ':', '-':
			return -1
		}
		return r
	}, strings.TrimPrefix(strings.TrimSpace(s), "0x"))

	if len(clean) != 2*len(a) {
		return a, fmt.Errorf("%w: %q: need 16 hex digits", ErrInvalidAddress, s)
	}
	if _, err := hex.Decode(a[:], []byte(clean)); err != nil {
		return a, fmt.Errorf("%w: %q: %w", ErrInvalidAddress, s, err)
	}
	return a, nil
}

// String returns the address as 16 upper-case hex digits.
func (a Address64) String() string {
	return strings.ToUpper(hex.EncodeToString(a[:]))
}

// MarshalText encodes the address as hex.
func (a Address64) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText parses the forms accepted by ParseAddress64.
func (a *Address64) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress64(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
