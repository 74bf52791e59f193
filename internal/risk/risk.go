// Package risk defines the pinned external risk-check boundary (spec.md
// §6 "Risk predicate"). The matching core treats risk as an opaque
// synchronous predicate it calls once per admit; building an actual
// margin/position/leverage engine is explicitly out of scope (spec.md
// Non-goals), so this package ships only the interface and a pass-through
// default suitable for tests and standalone operation.
package risk

import (
	"matchcore/internal/event"
	"matchcore/internal/id"
	"matchcore/internal/market"
	"matchcore/internal/order"
	"matchcore/internal/xdecimal"
)

// Checker is the pinned boundary the matching engine calls synchronously
// during Admit, before any book mutation (spec.md §4.4 "Admit
// preconditions"). Implementations must not block on I/O for long: the
// engine is single-writer-per-market and a slow check stalls that
// market's entire event stream.
type Checker interface {
	Check(account id.AccountID, marketID market.ID, side order.Side, price *xdecimal.Price, qty xdecimal.Quantity) event.RiskDecision
}

// AlwaysPass is the default Checker: every order passes. Used by tests
// and by deployments that perform risk checks upstream of the matching
// core (spec.md §6: "the matching core never implements margin math
// itself").
type AlwaysPass struct{}

// Check always returns RiskPass.
func (AlwaysPass) Check(account id.AccountID, _ market.ID, _ order.Side, _ *xdecimal.Price, _ xdecimal.Quantity) event.RiskDecision {
	return event.RiskDecision{AccountID: account, Result: event.RiskPass}
}
