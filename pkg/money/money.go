package money

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"

	"sweepstakes-wallet/pkg/apperror"

	"github.com/shopspring/decimal"
)

// Scale is the canonical number of fractional digits for every amount.
const Scale = 4

const (
	// maxIntegerDigits is the digit count of the largest representable amount.
	maxIntegerDigits = 12
	// minExponent bounds the precision accepted before rounding to Scale.
	minExponent = -32
	maxRawLen   = 64
)

var (
	maxMagnitude = decimal.RequireFromString("999999999999.9999")
	hundred      = decimal.NewFromInt(100)
)

// Money is a signed fixed-point amount normalized to Scale digits.
// Rounding is half-up (ties away from zero) on every derived value.
// The zero value is 0.0000.
type Money struct {
	d decimal.Decimal
}

// Zero returns 0.0000.
func Zero() Money {
	return Money{}
}

// Normalize parses a decimal string and rounds it to Scale digits.
func Normalize(raw string) (Money, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Money{}, apperror.ErrInvalidAmount("amount is required")
	}
	if len(s) > maxRawLen {
		return Money{}, apperror.ErrInvalidAmount(fmt.Sprintf("amount longer than %d characters", maxRawLen))
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, apperror.ErrInvalidAmount(fmt.Sprintf("unparsable amount %q", raw))
	}
	return FromDecimal(d)
}

// NormalizeNonNegative is Normalize that also rejects amounts below zero.
func NormalizeNonNegative(raw string) (Money, error) {
	m, err := Normalize(raw)
	if err != nil {
		return Money{}, err
	}
	if m.IsNegative() {
		return Money{}, apperror.ErrInvalidAmount("amount must not be negative")
	}
	return m, nil
}

// NormalizePositive is Normalize that also rejects zero and negative amounts.
// A value that rounds to zero (e.g. "0.00004") is rejected too.
func NormalizePositive(raw string) (Money, error) {
	m, err := Normalize(raw)
	if err != nil {
		return Money{}, err
	}
	if !m.IsPositive() {
		return Money{}, apperror.ErrInvalidAmount("amount must be greater than zero")
	}
	return m, nil
}

// FromDecimal rounds d to Scale digits and checks the representable range.
// The exponent is checked first so rounding never has to expand a huge
// coefficient.
func FromDecimal(d decimal.Decimal) (Money, error) {
	if d.IsZero() {
		return Money{}, nil
	}
	exp := int64(d.Exponent())
	if int64(d.NumDigits())+exp > maxIntegerDigits {
		return Money{}, apperror.ErrAmountOutOfRange(fmt.Sprintf("more than %d integer digits", maxIntegerDigits))
	}
	if exp < minExponent {
		return Money{}, apperror.ErrInvalidAmount(fmt.Sprintf("more than %d fractional digits", -minExponent))
	}
	r := d.Round(Scale)
	if r.Abs().GreaterThan(maxMagnitude) {
		return Money{}, apperror.ErrAmountOutOfRange(r.StringFixed(Scale))
	}
	return Money{d: r}, nil
}

// MustParse is Normalize for constants and tests. It panics on bad input.
func MustParse(raw string) Money {
	m, err := Normalize(raw)
	if err != nil {
		panic(err)
	}
	return m
}

// Decimal exposes the underlying value, already at Scale digits.
func (m Money) Decimal() decimal.Decimal {
	return m.d
}

// Add returns m + o.
func (m Money) Add(o Money) (Money, error) {
	return FromDecimal(m.norm().Add(o.norm()))
}

// Sub returns m - o.
func (m Money) Sub(o Money) (Money, error) {
	return FromDecimal(m.norm().Sub(o.norm()))
}

// Mul returns m * factor rounded to Scale digits.
func (m Money) Mul(factor decimal.Decimal) (Money, error) {
	return FromDecimal(m.norm().Mul(factor))
}

// Percentage returns pct percent of m. The rate is taken at Scale+2 digits
// before multiplying.
func (m Money) Percentage(pct decimal.Decimal) (Money, error) {
	rate := pct.DivRound(hundred, Scale+2)
	return FromDecimal(m.norm().Mul(rate))
}

// Neg returns -m.
func (m Money) Neg() Money {
	return Money{d: m.norm().Neg()}
}

// Abs returns |m|.
func (m Money) Abs() Money {
	return Money{d: m.norm().Abs()}
}

// Cmp returns -1, 0 or +1.
func (m Money) Cmp(o Money) int {
	return m.norm().Cmp(o.norm())
}

// Equal reports whether m and o are the same amount.
func (m Money) Equal(o Money) bool {
	return m.Cmp(o) == 0
}

// GreaterThan reports m > o.
func (m Money) GreaterThan(o Money) bool {
	return m.Cmp(o) > 0
}

// LessThan reports m < o.
func (m Money) LessThan(o Money) bool {
	return m.Cmp(o) < 0
}

// IsWithinRange reports min <= m <= max.
func (m Money) IsWithinRange(min, max Money) bool {
	return m.Cmp(min) >= 0 && m.Cmp(max) <= 0
}

func (m Money) IsZero() bool     { return m.d.IsZero() }
func (m Money) IsNegative() bool { return m.d.IsNegative() }
func (m Money) IsPositive() bool { return m.d.IsPositive() }

// String renders the amount with exactly Scale fractional digits.
func (m Money) String() string {
	return m.d.StringFixed(Scale)
}

// MarshalJSON encodes the amount as a string to avoid float decoding downstream.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

// UnmarshalJSON accepts a JSON string ("12.5"), a JSON number (12.5) or null.
func (m *Money) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	var raw string
	switch {
	case bytes.Equal(data, []byte("null")):
		*m = Money{}
		return nil
	case len(data) > 0 && data[0] == '"':
		if err := json.Unmarshal(data, &raw); err != nil {
			return apperror.ErrInvalidAmount("amount is not a valid JSON string")
		}
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return apperror.ErrInvalidAmount("amount must be a string or a number")
		}
		raw = n.String()
	}
	v, err := Normalize(raw)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Value implements driver.Valuer for NUMERIC columns.
func (m Money) Value() (driver.Value, error) {
	return m.String(), nil
}

// Scan implements sql.Scanner for NUMERIC columns.
func (m *Money) Scan(src any) error {
	var d decimal.Decimal
	if err := d.Scan(src); err != nil {
		return fmt.Errorf("scan money: %w", err)
	}
	v, err := FromDecimal(d)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// norm guards against values built outside the constructors.
func (m Money) norm() decimal.Decimal {
	return m.d.Round(Scale)
}

// Sum adds all amounts.
func Sum(amounts ...Money) (Money, error) {
	total := Zero()
	for _, a := range amounts {
		var err error
		if total, err = total.Add(a); err != nil {
			return Money{}, err
		}
	}
	return total, nil
}
