/*
Package commission provides the core types and algorithms for the
commission and settlement engine.

PURPOSE:
  This package contains the domain model shared by the transaction ledger
  and the settlement batcher: exact monetary arithmetic, deterministic
  commission computation, entity definitions, and the error taxonomy.

KEY CONCEPTS IN THIS FILE (money.go):
  - Money: A fixed-point decimal monetary amount
  - Minor-unit rounding: the single rounding rule for the whole system

DESIGN PRINCIPLES:
  1. Exactness: Uses decimal.Decimal, never floating point
  2. Determinism: Totals must be re-derivable for audit, so every
     rounding happens with the same rule at the same place
  3. Immutability: Money values are values; operations return new ones

ROUNDING RULE:
  All commission amounts are rounded half away from zero to the
  currency's minor unit (decimal.Round semantics). This is applied once,
  at commission computation time, and never again: stored amounts are
  already exact and settlement totals are plain sums of stored amounts.

SEE ALSO:
  - calc.go: Commission computation
  - types.go: Transaction/Settlement entities using Money
*/
package commission

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Fixed-point decimal monetary amount
// =============================================================================

// Money is an exact monetary amount. The zero value is zero money.
type Money struct {
	Value decimal.Decimal
}

// MinorDigits is the number of decimal digits of the currency's minor
// unit. The reference deployment settles whole currency units, so the
// default is 0; a cents-based currency would use 2.
const MinorDigits int32 = 0

func NewMoney(units int64) Money {
	return Money{Value: decimal.NewFromInt(units)}
}

func NewMoneyFromDecimal(d decimal.Decimal) Money {
	return Money{Value: d}
}

// ParseMoney parses a decimal string ("120000", "120000.50").
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, err
	}
	return Money{Value: d}, nil
}

// MustParseMoney is ParseMoney for trusted literals; invalid input
// yields zero money.
func MustParseMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		return Money{}
	}
	return m
}

func (m Money) Zero() Money              { return Money{} }
func (m Money) Add(o Money) Money        { return Money{Value: m.Value.Add(o.Value)} }
func (m Money) Sub(o Money) Money        { return Money{Value: m.Value.Sub(o.Value)} }
func (m Money) Mul(r decimal.Decimal) Money { return Money{Value: m.Value.Mul(r)} }
func (m Money) Neg() Money               { return Money{Value: m.Value.Neg()} }
func (m Money) IsZero() bool             { return m.Value.IsZero() }
func (m Money) IsPositive() bool         { return m.Value.IsPositive() }
func (m Money) IsNegative() bool         { return m.Value.IsNegative() }
func (m Money) Equal(o Money) bool       { return m.Value.Equal(o.Value) }
func (m Money) GreaterThan(o Money) bool { return m.Value.GreaterThan(o.Value) }
func (m Money) LessThan(o Money) bool    { return m.Value.LessThan(o.Value) }

// RoundMinor rounds to the currency's minor unit, half away from zero.
func (m Money) RoundMinor() Money {
	return Money{Value: m.Value.Round(MinorDigits)}
}

// String renders the amount in canonical decimal form, suitable for
// storage and for exact re-parsing.
func (m Money) String() string { return m.Value.String() }

// Float64 is for display surfaces only; financial logic never uses it.
func (m Money) Float64() float64 {
	f, _ := m.Value.Float64()
	return f
}

// MarshalJSON renders Money as a JSON number string to avoid any
// float64 round-trip in API payloads.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.Value.String() + `"`), nil
}

func (m *Money) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return err
	}
	m.Value = d
	return nil
}
