// Package amount implements the fixed-point quantity used for every token and
// native-coin value in a sale. An Amount counts the smallest indivisible unit
// (wei for native coin, 10^-18 of a token for the sale token) in 256 bits.
//
// All arithmetic is checked: overflow, underflow and lossy division are
// reported as errors instead of being wrapped or rounded.
package amount

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// Decimals is the number of fractional digits of one whole unit.
const Decimals = 18

// Errors.
var (
	ErrOverflow       = errors.New("amount overflows 256 bits")
	ErrUnderflow      = errors.New("amount underflows zero")
	ErrInexact        = errors.New("amount conversion loses precision")
	ErrDivisionByZero = errors.New("division by zero")
	ErrSyntax         = errors.New("invalid amount syntax")
)

var (
	one        = new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(Decimals))
	oneBig     = new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)
	maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

// Amount is an unsigned 256-bit count of base units. The zero value is 0.
type Amount struct {
	u uint256.Int
}

// Zero returns a zero amount.
func Zero() Amount { return Amount{} }

// New returns n base units.
func New(n uint64) Amount {
	var a Amount
	a.u.SetUint64(n)
	return a
}

// One returns one whole unit (10^18 base units).
func One() Amount {
	var a Amount
	a.u.Set(one)
	return a
}

// Whole returns n whole units, i.e. n * 10^18 base units.
// n * 10^18 always fits in 256 bits for any uint64 n.
func Whole(n uint64) Amount {
	var a Amount
	a.u.Mul(uint256.NewInt(n), one)
	return a
}

// FromBig converts a big.Int. Negative values and values above 2^256-1 are rejected.
func FromBig(b *big.Int) (Amount, error) {
	if b == nil {
		return Amount{}, nil
	}
	if b.Sign() < 0 {
		return Amount{}, ErrUnderflow
	}
	u, overflow := uint256.FromBig(b)
	if overflow {
		return Amount{}, ErrOverflow
	}
	return Amount{u: *u}, nil
}

// MustParse parses a decimal string and panics on error. Intended for constants and tests.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Parse reads a decimal number of whole units such as "1", "0.5" or
// "1000.000000000000000001". At most 18 fractional digits are accepted.
func Parse(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "_", "")
	if s == "" {
		return Amount{}, fmt.Errorf("%w: empty string", ErrSyntax)
	}

	intPart, fracPart, hasDot := strings.Cut(s, ".")
	if hasDot && fracPart == "" && intPart == "" {
		return Amount{}, fmt.Errorf("%w: %q", ErrSyntax, s)
	}
	if intPart == "" {
		intPart = "0"
	}
	if !isDigits(intPart) || (hasDot && fracPart != "" && !isDigits(fracPart)) {
		return Amount{}, fmt.Errorf("%w: %q", ErrSyntax, s)
	}
	if len(fracPart) > Decimals {
		return Amount{}, fmt.Errorf("%w: %q has more than %d fractional digits", ErrInexact, s, Decimals)
	}

	digits := intPart + fracPart + strings.Repeat("0", Decimals-len(fracPart))
	b, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return Amount{}, fmt.Errorf("%w: %q", ErrSyntax, s)
	}
	return FromBig(b)
}

// ParseUnits reads an integer count of base units, in decimal or 0x-prefixed hex.
func ParseUnits(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, fmt.Errorf("%w: empty string", ErrSyntax)
	}
	base := 10
	digits := s
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		base = 16
		digits = s[2:]
	} else if !isDigits(s) {
		return Amount{}, fmt.Errorf("%w: %q", ErrSyntax, s)
	}
	b, ok := new(big.Int).SetString(digits, base)
	if !ok || b.Sign() < 0 {
		return Amount{}, fmt.Errorf("%w: %q", ErrSyntax, s)
	}
	return FromBig(b)
}

// --- arithmetic ---

// Add returns a+b.
func (a Amount) Add(b Amount) (Amount, error) {
	var r Amount
	if _, overflow := r.u.AddOverflow(&a.u, &b.u); overflow {
		return Amount{}, ErrOverflow
	}
	return r, nil
}

// Sub returns a-b.
func (a Amount) Sub(b Amount) (Amount, error) {
	var r Amount
	if _, underflow := r.u.SubOverflow(&a.u, &b.u); underflow {
		return Amount{}, ErrUnderflow
	}
	return r, nil
}

// Mul returns a*b in base units (no rescaling).
func (a Amount) Mul(b Amount) (Amount, error) {
	var r Amount
	if _, overflow := r.u.MulOverflow(&a.u, &b.u); overflow {
		return Amount{}, ErrOverflow
	}
	return r, nil
}

// MulDivExact returns a*mul/div computed with a 512-bit intermediate. The
// result must be an exact integer that fits in 256 bits.
func (a Amount) MulDivExact(mul, div Amount) (Amount, error) {
	if div.IsZero() {
		return Amount{}, ErrDivisionByZero
	}
	p := new(big.Int).Mul(a.u.ToBig(), mul.u.ToBig())
	q, r := new(big.Int).QuoRem(p, div.u.ToBig(), new(big.Int))
	if r.Sign() != 0 {
		return Amount{}, ErrInexact
	}
	if q.Cmp(maxUint256) > 0 {
		return Amount{}, ErrOverflow
	}
	return FromBig(q)
}

// MulUnit multiplies a base-unit quantity by a per-whole-unit rate:
// a * rate / 10^18. Used to turn a token quantity into a payment.
func (a Amount) MulUnit(rate Amount) (Amount, error) {
	return a.MulDivExact(rate, One())
}

// DivUnit divides by a per-whole-unit rate: a * 10^18 / rate. Used to turn a
// payment into a token quantity.
func (a Amount) DivUnit(rate Amount) (Amount, error) {
	return a.MulDivExact(One(), rate)
}

// --- comparison ---

// Cmp compares a and b and returns -1, 0 or +1.
func (a Amount) Cmp(b Amount) int { return a.u.Cmp(&b.u) }

// Eq reports whether a == b.
func (a Amount) Eq(b Amount) bool { return a.u.Eq(&b.u) }

// Lt reports whether a < b.
func (a Amount) Lt(b Amount) bool { return a.u.Lt(&b.u) }

// Gt reports whether a > b.
func (a Amount) Gt(b Amount) bool { return a.u.Gt(&b.u) }

// IsZero reports whether a == 0.
func (a Amount) IsZero() bool { return a.u.IsZero() }

// --- conversion ---

// Big returns a as a new big.Int.
func (a Amount) Big() *big.Int { return a.u.ToBig() }

// String returns the decimal count of base units.
func (a Amount) String() string { return a.u.Dec() }

// Format renders a as a decimal number of whole units with trailing
// fractional zeros trimmed: 1500000000000000000 → "1.5".
func (a Amount) Format() string {
	q, r := new(big.Int).QuoRem(a.u.ToBig(), oneBig, new(big.Int))
	if r.Sign() == 0 {
		return q.String()
	}
	rs := r.String()
	frac := strings.Repeat("0", Decimals-len(rs)) + rs
	return q.String() + "." + strings.TrimRight(frac, "0")
}

// MarshalText encodes a as decimal base units.
func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText decodes decimal (or 0x hex) base units.
func (a *Amount) UnmarshalText(text []byte) error {
	v, err := ParseUnits(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// MarshalJSON encodes a as a JSON string so values above 2^53 survive.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON accepts a quoted or bare decimal string of base units.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*a = Amount{}
		return nil
	}
	return a.UnmarshalText([]byte(s))
}

// Value implements driver.Valuer; amounts are stored as decimal TEXT.
func (a Amount) Value() (driver.Value, error) {
	return a.String(), nil
}

// Scan implements sql.Scanner.
func (a *Amount) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*a = Amount{}
		return nil
	case string:
		return a.UnmarshalText([]byte(v))
	case []byte:
		return a.UnmarshalText(v)
	case int64:
		if v < 0 {
			return ErrUnderflow
		}
		*a = New(uint64(v))
		return nil
	default:
		return fmt.Errorf("cannot scan %T into amount", src)
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
