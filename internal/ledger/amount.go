package ledger

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// etherExponent is the number of wei decimal places in one ether.
const etherExponent = 18

// maxDigits is the number of decimal digits in 2^256-1. Inputs are bounded
// by it before any decimal arithmetic runs.
const maxDigits = 78

var maxAmount = decimal.NewFromBigInt(
	new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1)), 0,
)

// Amount is a non-negative integer quantity of wei, at most 2^256-1.
// The zero value is 0 wei.
type Amount struct {
	d decimal.Decimal
}

// Zero is 0 wei.
var Zero = Amount{}

// NewAmount returns an Amount of n wei.
func NewAmount(n uint64) Amount {
	return Amount{d: decimal.NewFromBigInt(new(big.Int).SetUint64(n), 0)}
}

// ParseAmount parses a base-10 integer count of wei.
func ParseAmount(s string) (Amount, error) {
	if s == "" {
		return Amount{}, fmt.Errorf("invalid amount: empty")
	}
	if !isDigits(s) {
		return Amount{}, fmt.Errorf("invalid amount %s: want a base-10 integer of wei", clip(s))
	}
	if len(strings.TrimLeft(s, "0")) > maxDigits {
		return Amount{}, fmt.Errorf("invalid amount %s: exceeds 2^256-1", clip(s))
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("invalid amount %s: %w", clip(s), err)
	}
	return fromDecimal(d)
}

// MustParseAmount is like ParseAmount but panics on error.
func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

// ParseEther parses a decimal ether value such as "0.001" into wei.
// Only plain digits with an optional fraction are accepted. Values with
// precision finer than one wei are rejected.
func ParseEther(s string) (Amount, error) {
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" && frac == "" || !isDigits(whole) || !isDigits(frac) {
		return Amount{}, fmt.Errorf("invalid ether amount %s: want decimal digits", clip(s))
	}
	frac = strings.TrimRight(frac, "0")
	if len(frac) > etherExponent {
		return Amount{}, fmt.Errorf("invalid ether amount %s: finer than 1 wei", clip(s))
	}
	wei := strings.TrimLeft(whole+frac+strings.Repeat("0", etherExponent-len(frac)), "0")
	if wei == "" {
		return Zero, nil
	}
	a, err := ParseAmount(wei)
	if err != nil {
		return Amount{}, fmt.Errorf("invalid ether amount %s: exceeds 2^256-1 wei", clip(s))
	}
	return a, nil
}

// isDigits reports whether s holds only ASCII digits. The empty string does.
func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// clip quotes s for an error message, eliding the middle of long input.
func clip(s string) string {
	const keep = 16
	if len(s) <= 2*keep {
		return strconv.Quote(s)
	}
	return strconv.Quote(s[:keep]) + "..." + strconv.Quote(s[len(s)-keep:])
}

func fromDecimal(d decimal.Decimal) (Amount, error) {
	// A large exponent would make IsInteger and Cmp rescale to a huge big.Int.
	if exp := d.Exponent(); exp > maxDigits || exp < -maxDigits {
		return Amount{}, fmt.Errorf("invalid amount: exponent %d out of range", exp)
	}
	if !d.IsInteger() {
		return Amount{}, fmt.Errorf("invalid amount %s: fractional wei", clip(d.String()))
	}
	if d.Sign() < 0 {
		return Amount{}, fmt.Errorf("invalid amount %s: negative", clip(d.String()))
	}
	if d.Cmp(maxAmount) > 0 {
		return Amount{}, fmt.Errorf("invalid amount %s: exceeds 2^256-1", clip(d.String()))
	}
	return Amount{d: d.Truncate(0)}, nil
}

// Add returns a+b. It fails if the sum exceeds 2^256-1.
func (a Amount) Add(b Amount) (Amount, error) {
	return fromDecimal(a.d.Add(b.d))
}

// Sub returns a-b. It fails if b > a.
func (a Amount) Sub(b Amount) (Amount, error) {
	if a.d.Cmp(b.d) < 0 {
		return Amount{}, fmt.Errorf("amount underflow: %s - %s", a, b)
	}
	return Amount{d: a.d.Sub(b.d)}, nil
}

// Cmp compares a and b and returns -1, 0 or +1.
func (a Amount) Cmp(b Amount) int {
	return a.d.Cmp(b.d)
}

// Equal reports whether a and b denote the same number of wei.
func (a Amount) Equal(b Amount) bool {
	return a.d.Equal(b.d)
}

// IsZero reports whether a is 0 wei.
func (a Amount) IsZero() bool {
	return a.d.IsZero()
}

// BigInt returns the amount as a new big.Int.
func (a Amount) BigInt() *big.Int {
	return a.d.BigInt()
}

// String returns the base-10 wei count.
func (a Amount) String() string {
	return a.d.BigInt().String()
}

// Ether returns the amount in ether with trailing zeros trimmed.
func (a Amount) Ether() string {
	return a.d.Shift(-etherExponent).String()
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts a quoted wei string or a bare JSON integer. Both go
// through ParseAmount, so exponent forms and fractions are rejected.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("amount: %w", err)
		}
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	*a = parsed
	return nil
}

func (a Amount) MarshalYAML() (any, error) {
	return a.String(), nil
}

// Value implements driver.Valuer. Amounts are stored as decimal text.
func (a Amount) Value() (driver.Value, error) {
	return a.String(), nil
}

// Scan implements sql.Scanner.
func (a *Amount) Scan(src any) error {
	var d decimal.Decimal
	if err := d.Scan(src); err != nil {
		return fmt.Errorf("scan amount: %w", err)
	}
	parsed, err := fromDecimal(d)
	if err != nil {
		return fmt.Errorf("scan amount: %w", err)
	}
	*a = parsed
	return nil
}
