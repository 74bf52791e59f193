// Package fees implements the fee engine (spec.md §4.7): tiered maker/taker
// rates selected by an account's rolling 30-day traded volume, with
// banker's-rounding applied at the point fees are charged.
package fees

import (
	"matchcore/internal/xdecimal"

	"github.com/shopspring/decimal"
)

// Tier is one entry in a market's fee schedule (spec.md §4.7): the highest
// tier whose VolumeThreshold is <= the account's rolling volume is active.
// Rates may be negative, meaning the account is credited (a maker rebate).
type Tier struct {
	VolumeThreshold decimal.Decimal
	MakerRate       decimal.Decimal
	TakerRate       decimal.Decimal
}

// Tiers is an ordered fee schedule, ascending by VolumeThreshold.
type Tiers []Tier

// DefaultTiers returns the standard four-tier schedule, carried over from
// original_source's libs/types/src/fee.rs default_fee_tiers(): tier
// thresholds and rates are adopted verbatim since spec.md doesn't pin
// concrete numbers.
func DefaultTiers() Tiers {
	mustDec := func(s string) decimal.Decimal {
		d, err := decimal.NewFromString(s)
		if err != nil {
			panic(err)
		}
		return d
	}
	return Tiers{
		{
			VolumeThreshold: decimal.Zero,
			MakerRate:       mustDec("0.0002"),
			TakerRate:       mustDec("0.0005"),
		},
		{
			VolumeThreshold: decimal.NewFromInt(1_000_000),
			MakerRate:       mustDec("0.00015"),
			TakerRate:       mustDec("0.00045"),
		},
		{
			VolumeThreshold: decimal.NewFromInt(10_000_000),
			MakerRate:       mustDec("0.0001"),
			TakerRate:       mustDec("0.0004"),
		},
		{
			VolumeThreshold: decimal.NewFromInt(50_000_000),
			MakerRate:       mustDec("-0.00005"),
			TakerRate:       mustDec("0.00035"),
		},
	}
}

// ActiveTier returns the highest tier whose VolumeThreshold <= volume. Tiers
// must be sorted ascending by VolumeThreshold; DefaultTiers satisfies this,
// and a table assigned to market.Config.FeeTiers must as well.
func (t Tiers) ActiveTier(volume decimal.Decimal) Tier {
	active := t[0]
	for _, tier := range t {
		if tier.VolumeThreshold.GreaterThan(volume) {
			break
		}
		active = tier
	}
	return active
}

// Precision is the number of decimal places fees round to. A real
// deployment would key this off the quote asset's precision; the core
// pins a single value since per-asset precision tables are outside the
// matching/settlement core's concern.
const Precision = 8

// feePrecision is kept as an internal alias so existing call sites in this
// file read naturally.
const feePrecision = Precision

// Calculate returns the maker and taker fee for a fill of the given
// notional value, using banker's rounding (round-half-to-even) to the
// asset precision as spec.md §4.7 requires ("fees round to asset precision
// using banker's rounding").
func Calculate(tier Tier, notional decimal.Decimal) (makerFee, takerFee decimal.Decimal) {
	makerFee = notional.Mul(tier.MakerRate).RoundBank(feePrecision)
	takerFee = notional.Mul(tier.TakerRate).RoundBank(feePrecision)
	return
}

// CalculateFromQty is a convenience wrapper computing notional internally.
func CalculateFromQty(tier Tier, price xdecimal.Price, qty xdecimal.Quantity) (makerFee, takerFee decimal.Decimal) {
	return Calculate(tier, xdecimal.Notional(price, qty))
}
