package matching

import (
	"matchcore/internal/order"
	"matchcore/internal/xdecimal"
)

// Crosses reports whether an incoming order with the given side and price
// crosses a resting level at restingPrice (spec.md §4.4 "Crossing
// condition"): a BUY crosses if its price >= the resting price; a SELL
// crosses if its price <= the resting price.
//
// Kept as an isolated pure function, mirroring original_source's
// services/matching-engine/src/matching/crossing.rs, which separates
// crossing detection from the taker loop for independent testability.
func Crosses(side order.Side, incomingPrice, restingPrice xdecimal.Price) bool {
	if side == order.Buy {
		return incomingPrice.GTE(restingPrice)
	}
	return incomingPrice.LTE(restingPrice)
}
