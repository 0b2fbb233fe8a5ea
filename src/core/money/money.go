package money

import (
	"fmt"
	"math"
	"strconv"
)

// Money is an amount of US dollars in micro-dollar units (1e-6 USD).
// Integer arithmetic keeps the balance ledger exact: the per-impression
// price of $0.001 cannot be represented as a binary float, but it is
// exactly 1000 micros.
type Money int64

const (
	Micro  Money = 1
	Dollar Money = 1_000_000
)

// FromDollars converts a dollar amount to Money, rounding to the nearest
// micro-dollar.
func FromDollars(d float64) Money {
	return Money(math.Round(d * float64(Dollar)))
}

// Dollars returns the amount as a dollar float for JSON boundaries.
func (m Money) Dollars() float64 {
	return float64(m) / float64(Dollar)
}

func (m Money) String() string {
	return "$" + strconv.FormatFloat(m.Dollars(), 'f', -1, 64)
}

// MulCount multiplies a unit price by a count of items.
func (m Money) MulCount(n int64) Money {
	return m * Money(n)
}

// GoString implements fmt.GoStringer so test failures print readable amounts.
func (m Money) GoString() string {
	return fmt.Sprintf("money.Money(%d /* %s */)", int64(m), m)
}
