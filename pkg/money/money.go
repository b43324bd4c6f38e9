// Package money implements the fixed-point amount used by the ledger.
//
// Amounts are kept as int64 minor units (paise) so arithmetic in SQL and Go
// stays exact. Parsing and formatting go through shopspring/decimal.
package money

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits carried by an Amount.
const Scale = 2

// Amount is a non-negative quantity of currency in minor units.
type Amount int64

// Zero is the empty amount.
const Zero Amount = 0

var (
	// ErrMalformed is returned for text that is not a decimal number.
	ErrMalformed = errors.New("money: malformed amount")
	// ErrNegative is returned for amounts below zero.
	ErrNegative = errors.New("money: negative amount")
	// ErrPrecision is returned when more than Scale fractional digits are given.
	ErrPrecision = errors.New("money: too many fractional digits")
	// ErrOverflow is returned when the amount does not fit into minor units.
	ErrOverflow = errors.New("money: amount out of range")
)

var maxMinor = decimal.NewFromInt(math.MaxInt64)

// Parse reads a user supplied amount such as "50", "50.5", " ₹50.00 ".
// The result is normalised to minor units. Negative values, excess
// precision and non-numeric input are rejected.
func Parse(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "₹")
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrMalformed
	}
	// decimal accepts exponents; amounts typed by people never need them.
	if strings.ContainsAny(s, "eE") {
		return 0, ErrMalformed
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	return FromDecimal(d)
}

// MustParse is Parse for constants and tests. It panics on invalid input.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// FromDecimal converts an arbitrary decimal into an Amount.
func FromDecimal(d decimal.Decimal) (Amount, error) {
	if d.IsNegative() {
		return 0, ErrNegative
	}
	minor := d.Shift(Scale)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, ErrPrecision
	}
	if minor.GreaterThan(maxMinor) {
		return 0, ErrOverflow
	}
	return Amount(minor.IntPart()), nil
}

// FromMinor wraps a raw minor-unit value read from storage.
func FromMinor(minor int64) Amount {
	return Amount(minor)
}

// Minor returns the amount in minor units.
func (a Amount) Minor() int64 {
	return int64(a)
}

// Decimal returns the amount as a decimal in major units.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -Scale)
}

// String formats the amount with exactly Scale fractional digits.
func (a Amount) String() string {
	return a.Decimal().StringFixed(Scale)
}

// Add returns a+b.
func (a Amount) Add(b Amount) Amount {
	return a + b
}

// Sub returns a-b. Callers guard against going negative.
func (a Amount) Sub(b Amount) Amount {
	return a - b
}

// LessThan reports whether a < b.
func (a Amount) LessThan(b Amount) bool {
	return a < b
}

// IsZero reports whether the amount is zero.
func (a Amount) IsZero() bool {
	return a == 0
}
