// Package xdecimal provides the fixed-point numeric primitives used on every
// money path in the exchange core: Price and Quantity. Both are thin,
// type-safe wrappers around shopspring/decimal's arbitrary-precision decimal,
// which stores an exact integer coefficient plus a power-of-ten exponent —
// there is no binary float anywhere on these types, satisfying the
// "no floating point" rule for P and Q (spec.md §3, §9).
//
// A market's tick size and lot size are just particular Price/Quantity
// values; scale is enforced by callers via IsMultipleOf, not baked into the
// type, since different markets use different scales.
package xdecimal

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Decimal is the shared underlying representation for Price and Quantity.
type Decimal = decimal.Decimal

// Zero is the additive identity, exported for readability at call sites.
var Zero = decimal.Zero

// Price is a strictly positive fixed-point value (spec.md §3: "Strictly
// positive"). The zero value is not a valid Price; construct one with
// NewPrice or ParsePrice.
type Price struct{ d decimal.Decimal }

// Quantity is a non-negative fixed-point value, zero only in terminal
// remaining-quantity state (spec.md §3).
type Quantity struct{ d decimal.Decimal }

// ErrNonPositivePrice is returned when a Price is constructed from a
// non-positive value.
var ErrNonPositivePrice = fmt.Errorf("xdecimal: price must be strictly positive")

// ErrNegativeQuantity is returned when a Quantity is constructed from a
// negative value.
var ErrNegativeQuantity = fmt.Errorf("xdecimal: quantity must be non-negative")

// NewPrice validates and wraps d as a Price.
func NewPrice(d decimal.Decimal) (Price, error) {
	if !d.IsPositive() {
		return Price{}, ErrNonPositivePrice
	}
	return Price{d: d}, nil
}

// MustPrice panics on an invalid price. Reserved for constants and tests.
func MustPrice(d decimal.Decimal) Price {
	p, err := NewPrice(d)
	if err != nil {
		panic(err)
	}
	return p
}

// ParsePrice parses s and validates it as a Price.
func ParsePrice(s string) (Price, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Price{}, fmt.Errorf("xdecimal: parse price: %w", err)
	}
	return NewPrice(d)
}

// NewQuantity validates and wraps d as a Quantity.
func NewQuantity(d decimal.Decimal) (Quantity, error) {
	if d.IsNegative() {
		return Quantity{}, ErrNegativeQuantity
	}
	return Quantity{d: d}, nil
}

// MustQuantity panics on an invalid quantity. Reserved for constants and tests.
func MustQuantity(d decimal.Decimal) Quantity {
	q, err := NewQuantity(d)
	if err != nil {
		panic(err)
	}
	return q
}

// ParseQuantity parses s and validates it as a Quantity.
func ParseQuantity(s string) (Quantity, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Quantity{}, fmt.Errorf("xdecimal: parse quantity: %w", err)
	}
	return NewQuantity(d)
}

// ZeroQuantity is the terminal remaining-quantity value.
var ZeroQuantity = Quantity{d: decimal.Zero}

func (p Price) Decimal() decimal.Decimal    { return p.d }
func (q Quantity) Decimal() decimal.Decimal { return q.d }

func (p Price) String() string    { return p.d.String() }
func (q Quantity) String() string { return q.d.String() }

func (p Price) Equal(o Price) bool { return p.d.Equal(o.d) }
func (p Price) Cmp(o Price) int    { return p.d.Cmp(o.d) }
func (p Price) GTE(o Price) bool   { return p.d.Cmp(o.d) >= 0 }
func (p Price) LTE(o Price) bool   { return p.d.Cmp(o.d) <= 0 }
func (p Price) GT(o Price) bool    { return p.d.Cmp(o.d) > 0 }
func (p Price) LT(o Price) bool    { return p.d.Cmp(o.d) < 0 }

func (q Quantity) Equal(o Quantity) bool { return q.d.Equal(o.d) }
func (q Quantity) Cmp(o Quantity) int    { return q.d.Cmp(o.d) }
func (q Quantity) IsZero() bool          { return q.d.IsZero() }
func (q Quantity) GT(o Quantity) bool    { return q.d.Cmp(o.d) > 0 }
func (q Quantity) GTE(o Quantity) bool   { return q.d.Cmp(o.d) >= 0 }
func (q Quantity) LT(o Quantity) bool    { return q.d.Cmp(o.d) < 0 }

// Sub returns q - o. Callers on a money path must never let this go
// negative; checked call sites use SubChecked instead.
func (q Quantity) Sub(o Quantity) Quantity {
	return Quantity{d: q.d.Sub(o.d)}
}

// SubChecked returns q - o, erroring (rather than silently going negative)
// if o > q. Quantity arithmetic overflow/underflow is a fatal integrity
// error per spec.md §7 ("overflow ... halt, fatal").
func (q Quantity) SubChecked(o Quantity) (Quantity, error) {
	if o.d.GreaterThan(q.d) {
		return Quantity{}, fmt.Errorf("xdecimal: quantity underflow: %s - %s", q.d, o.d)
	}
	return Quantity{d: q.d.Sub(o.d)}, nil
}

func (q Quantity) Add(o Quantity) Quantity {
	return Quantity{d: q.d.Add(o.d)}
}

// MinQuantity returns the smaller of two quantities — used by the taker loop to
// compute match quantity (spec.md §4.4 step 3).
func MinQuantity(a, b Quantity) Quantity {
	if a.d.Cmp(b.d) <= 0 {
		return a
	}
	return b
}

// Notional returns price * quantity, the trade value used for fee
// calculation and min-notional checks.
func Notional(p Price, q Quantity) decimal.Decimal {
	return p.d.Mul(q.d)
}

// IsMultipleOf reports whether q is an exact integer multiple of step (used
// for tick-size / lot-size validation at admit time).
func IsMultipleOf(q decimal.Decimal, step decimal.Decimal) bool {
	if step.IsZero() {
		return true
	}
	_, rem := q.QuoRem(step, 0)
	return rem.IsZero()
}
