package ledger

import (
	"crypto/rand"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// AddressLength is the number of bytes in an account identity.
const AddressLength = 20

// Address identifies an account. The canonical text form is "0x" followed by
// 40 lower-case hex digits.
type Address [AddressLength]byte

// ParseAddress parses an account identity. The "0x" prefix is required and
// hex digits may use either case.
func ParseAddress(s string) (Address, error) {
	var a Address
	if len(s) != 2+2*AddressLength || (s[:2] != "0x" && s[:2] != "0X") {
		return a, fmt.Errorf("invalid address %q: want 0x followed by %d hex digits", s, 2*AddressLength)
	}
	if _, err := hex.Decode(a[:], []byte(s[2:])); err != nil {
		return Address{}, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return a, nil
}

// MustParseAddress is like ParseAddress but panics on error.
// Intended for fixtures and tests.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// NewRandomAddress returns a fresh identity drawn from crypto/rand.
func NewRandomAddress() (Address, error) {
	var a Address
	if _, err := rand.Read(a[:]); err != nil {
		return Address{}, fmt.Errorf("generate address: %w", err)
	}
	return a, nil
}

// String returns the canonical lower-case form.
func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

// Short returns an abbreviated form such as 0x1234...abcd for display.
func (a Address) Short() string {
	s := a.String()
	return s[:6] + "..." + s[len(s)-4:]
}

// IsZero reports whether a is the all-zero address.
func (a Address) IsZero() bool {
	return a == Address{}
}

func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Address) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("address: %w", err)
	}
	parsed, err := ParseAddress(strings.TrimSpace(s))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Value implements driver.Valuer.
func (a Address) Value() (driver.Value, error) {
	return a.String(), nil
}

// Scan implements sql.Scanner.
func (a *Address) Scan(src any) error {
	var s string
	switch v := src.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("scan address: unsupported type %T", src)
	}
	parsed, err := ParseAddress(s)
	if err != nil {
		return fmt.Errorf("scan address: %w", err)
	}
	*a = parsed
	return nil
}
