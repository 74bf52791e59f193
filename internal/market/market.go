// Package market holds the (base-asset, quote-asset) market identity and the
// per-market configuration read once at startup (spec.md §3 "Market",
// §6 "Configuration").
package market

import (
	"fmt"
	"strings"

	"matchcore/internal/fees"
	"matchcore/internal/xdecimal"
)

// ID identifies a (base-asset, quote-asset) trading pair in "BASE/QUOTE"
// form. This format is carried over from original_source's
// libs/types/src/ids.rs MarketId, which asserts the symbol contains '/'.
type ID string

// NewID builds a market ID from base and quote asset symbols.
func NewID(base, quote string) ID {
	if base == "" || quote == "" {
		panic("market: base and quote must both be non-empty")
	}
	return ID(base + "/" + quote)
}

// Split returns the (base, quote) pair encoded in the id.
func (m ID) Split() (base, quote string) {
	parts := strings.SplitN(string(m), "/", 2)
	if len(parts) != 2 {
		panic(fmt.Sprintf("market: malformed market id %q", string(m)))
	}
	return parts[0], parts[1]
}

func (m ID) String() string { return string(m) }

// SelfTradePolicy governs what happens when a taker would cross its own
// resting order (spec.md §4.4 step 2).
type SelfTradePolicy int

const (
	// CancelTaker cancels the incoming (taker) order, leaving the maker
	// resting untouched. This is the spec's default.
	CancelTaker SelfTradePolicy = iota
	CancelMaker
	CancelBoth
	RejectSelfTrade
)

func (p SelfTradePolicy) String() string {
	switch p {
	case CancelTaker:
		return "CANCEL_TAKER"
	case CancelMaker:
		return "CANCEL_MAKER"
	case CancelBoth:
		return "CANCEL_BOTH"
	case RejectSelfTrade:
		return "REJECT"
	default:
		return "UNKNOWN"
	}
}

// FeeAsset selects which leg of a trade fees are denominated in. Resolves
// the fee-asset Open Question in spec.md §9: default quote-denominated,
// with an explicit per-market override for base-denominated fees
// (SPEC_FULL.md §4).
type FeeAsset int

const (
	FeeAssetQuote FeeAsset = iota
	FeeAssetBase
)

// Config is the per-market configuration, constructed once at startup and
// never mutated during operation (spec.md §6).
type Config struct {
	ID ID

	// TickSize is the minimum price increment; every admitted limit
	// price must be an exact multiple of it.
	TickSize xdecimal.Decimal
	// LotSize is the minimum quantity increment.
	LotSize xdecimal.Decimal
	// MinNotional is the minimum price*quantity value for an admitted
	// order.
	MinNotional xdecimal.Decimal

	SelfTradePolicy SelfTradePolicy
	FeeAsset        FeeAsset

	// SettlementRetryLimit bounds settlement's optimistic-CAS retry loop
	// (spec.md §4.6, default 8).
	SettlementRetryLimit int

	FeeTiers fees.Tiers

	// DepthSnapshotLevels bounds how many price levels a depth snapshot
	// returns (spec.md §4.3).
	DepthSnapshotLevels int
}

// DefaultSettlementRetryLimit is the spec's documented default (§6, §4.6).
const DefaultSettlementRetryLimit = 8

// NewConfig builds a Config with the spec's documented defaults for
// anything the caller doesn't override: self-trade policy CANCEL_TAKER,
// settlement retry limit 8, quote-denominated fees, the standard fee tier
// table.
func NewConfig(id ID, tickSize, lotSize, minNotional xdecimal.Decimal) Config {
	return Config{
		ID:                   id,
		TickSize:             tickSize,
		LotSize:              lotSize,
		MinNotional:          minNotional,
		SelfTradePolicy:      CancelTaker,
		FeeAsset:             FeeAssetQuote,
		SettlementRetryLimit: DefaultSettlementRetryLimit,
		FeeTiers:             fees.DefaultTiers(),
		DepthSnapshotLevels:  50,
	}
}
