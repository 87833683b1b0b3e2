package domain

import (
	"fmt"

	gomoney "github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Money is a decimal amount in a single configured currency.
//
// Amounts are kept at full decimal precision until a caller explicitly
// rounds to the currency's minor unit (RoundMinor). The ledger stores
// amounts as decimal strings, never as floats.
type Money struct {
	Amount   decimal.Decimal
	Currency string
}

// NewMoney builds a Money in the given currency.
func NewMoney(amount decimal.Decimal, currency string) Money {
	return Money{Amount: amount, Currency: currency}
}

// MoneyFromString parses a decimal string amount.
// Returns an error for anything decimal.NewFromString rejects.
func MoneyFromString(s, currency string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return Money{Amount: d, Currency: currency}, nil
}

// MinorUnitScale returns the number of decimal places of the currency's
// minor unit (2 for USD, 0 for JPY). Unknown currency codes default to 2.
func MinorUnitScale(currency string) int32 {
	if c := gomoney.GetCurrency(currency); c != nil {
		return int32(c.Fraction)
	}
	return 2
}

// Scale returns the minor-unit scale for this Money's currency.
func (m Money) Scale() int32 {
	return MinorUnitScale(m.Currency)
}

// RoundMinor rounds half-up to the currency's minor unit.
func (m Money) RoundMinor() Money {
	return Money{Amount: m.Amount.Round(m.Scale()), Currency: m.Currency}
}

// TruncateMinor rounds toward zero to the currency's minor unit.
// Used by the largest-remainder allocation rounding.
func (m Money) TruncateMinor() Money {
	return Money{Amount: m.Amount.Truncate(m.Scale()), Currency: m.Currency}
}

// MinorUnit returns one minor unit of the currency (0.01 for USD).
func (m Money) MinorUnit() Money {
	one := decimal.New(1, -m.Scale())
	return Money{Amount: one, Currency: m.Currency}
}

// Add returns m + other. Panics if currencies differ: the engine is
// single-currency and a mismatch is a programming error, not input error.
func (m Money) Add(other Money) Money {
	m.mustMatch(other)
	return Money{Amount: m.Amount.Add(other.Amount), Currency: m.Currency}
}

// Sub returns m - other.
func (m Money) Sub(other Money) Money {
	m.mustMatch(other)
	return Money{Amount: m.Amount.Sub(other.Amount), Currency: m.Currency}
}

// Neg returns -m.
func (m Money) Neg() Money {
	return Money{Amount: m.Amount.Neg(), Currency: m.Currency}
}

// Mul returns m scaled by a dimensionless factor.
func (m Money) Mul(factor decimal.Decimal) Money {
	return Money{Amount: m.Amount.Mul(factor), Currency: m.Currency}
}

// IsZero reports whether the amount is exactly zero.
func (m Money) IsZero() bool {
	return m.Amount.IsZero()
}

// IsNegative reports whether the amount is below zero.
func (m Money) IsNegative() bool {
	return m.Amount.IsNegative()
}

// Cmp compares amounts: -1 if m < other, 0 if equal, +1 if m > other.
func (m Money) Cmp(other Money) int {
	m.mustMatch(other)
	return m.Amount.Cmp(other.Amount)
}

// Equal reports amount and currency equality.
func (m Money) Equal(other Money) bool {
	return m.Currency == other.Currency && m.Amount.Equal(other.Amount)
}

// String renders the amount fixed to the minor-unit scale, e.g. "12000.00".
func (m Money) String() string {
	return m.Amount.StringFixed(m.Scale())
}

// Display renders the amount with the currency's grapheme via go-money,
// e.g. "$12,000.00". Falls back to String for unknown currencies.
func (m Money) Display() string {
	c := gomoney.GetCurrency(m.Currency)
	if c == nil {
		return m.String()
	}
	minor := m.RoundMinor().Amount.Shift(m.Scale())
	return gomoney.New(minor.IntPart(), m.Currency).Display()
}

func (m Money) mustMatch(other Money) {
	if m.Currency != other.Currency {
		panic(fmt.Sprintf("currency mismatch: %s vs %s", m.Currency, other.Currency))
	}
}
