// Package order defines the Order record and its enums (spec.md §3
// "Order"), generalized from the teacher's internal/engine/order.go and
// internal/engine/types.go.
package order

import (
	"matchcore/internal/id"
	"matchcore/internal/market"
	"matchcore/internal/xdecimal"
)

type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "BUY"
	}
	return "SELL"
}

// Opposite returns the other side — used throughout the matching engine to
// pick which side of the book an order rests on vs. crosses against.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

type Type int

const (
	// Limit orders rest on the book until filled or canceled (spec.md §3).
	Limit Type = iota
	// Market orders carry no limit price and sweep available liquidity
	// (spec.md §3; semantics pinned in SPEC_FULL.md §1).
	Market
)

// TimeInForce is the order's time-in-force policy (spec.md §3, glossary).
type TimeInForce int

const (
	GTC TimeInForce = iota
	IOC
	FOK
	PostOnly
)

func (t TimeInForce) String() string {
	switch t {
	case GTC:
		return "GTC"
	case IOC:
		return "IOC"
	case FOK:
		return "FOK"
	case PostOnly:
		return "POST_ONLY"
	default:
		return "UNKNOWN"
	}
}

// State is the order's lifecycle state (spec.md §3 invariants: terminal
// states {FILLED, CANCELED, REJECTED} are absorbing).
type State int

const (
	New State = iota
	PartiallyFilled
	Filled
	Canceled
	Rejected
)

func (s State) String() string {
	switch s {
	case New:
		return "NEW"
	case PartiallyFilled:
		return "PARTIALLY_FILLED"
	case Filled:
		return "FILLED"
	case Canceled:
		return "CANCELED"
	case Rejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether s is one of the absorbing terminal states.
func (s State) IsTerminal() bool {
	return s == Filled || s == Canceled || s == Rejected
}

// RejectReason is a closed, wire-and-journal-stable enum of why an order
// was rejected or force-canceled (spec.md §4.4, §7). It is not a Go error
// because it must serialize identically across processes and replay runs.
type RejectReason int

const (
	ReasonNone RejectReason = iota
	ReasonInvalidPrice
	ReasonInvalidQuantity
	ReasonUnknownMarket
	ReasonMarketClosed
	ReasonRiskInsufficientMargin
	ReasonRiskPositionLimit
	ReasonRiskLeverageExceeded
	ReasonPostOnlyReject
	ReasonFOKInsufficient
	ReasonIOCRemainder
	ReasonMarketRemainder
	ReasonSelfTrade
	ReasonCanceledByOwner
	ReasonCanceledByAdmin
)

func (r RejectReason) String() string {
	switch r {
	case ReasonNone:
		return ""
	case ReasonInvalidPrice:
		return "INVALID_PRICE"
	case ReasonInvalidQuantity:
		return "INVALID_QUANTITY"
	case ReasonUnknownMarket:
		return "UNKNOWN_MARKET"
	case ReasonMarketClosed:
		return "MARKET_CLOSED"
	case ReasonRiskInsufficientMargin:
		return "RISK_INSUFFICIENT_MARGIN"
	case ReasonRiskPositionLimit:
		return "RISK_POSITION_LIMIT_EXCEEDED"
	case ReasonRiskLeverageExceeded:
		return "RISK_LEVERAGE_EXCEEDED"
	case ReasonPostOnlyReject:
		return "POST_ONLY_REJECT"
	case ReasonFOKInsufficient:
		return "FOK_INSUFFICIENT"
	case ReasonIOCRemainder:
		return "IOC_REMAINDER"
	case ReasonMarketRemainder:
		return "MARKET_REMAINDER"
	case ReasonSelfTrade:
		return "SELF_TRADE"
	case ReasonCanceledByOwner:
		return "CANCELED_BY_OWNER"
	case ReasonCanceledByAdmin:
		return "CANCELED_BY_ADMIN"
	default:
		return "UNKNOWN"
	}
}

// Order is a resting or in-flight order (spec.md §3).
type Order struct {
	OrderID      id.OrderID
	AccountID    id.AccountID
	MarketID     market.ID
	Side         Side
	Type         Type
	Price        *xdecimal.Price // nil for market orders
	OriginalQty  xdecimal.Quantity
	RemainingQty xdecimal.Quantity
	TIF          TimeInForce
	State        State
	// PlacedAt is the ns timestamp supplied by ingestion — the engine
	// never samples a clock internally (spec.md §3, §4.4 determinism
	// rules).
	PlacedAt int64
	Sequence uint64
}

// IsFilled reports whether the order has no remaining quantity.
func (o *Order) IsFilled() bool { return o.RemainingQty.IsZero() }

// FilledQty returns the cumulative filled quantity so far.
func (o *Order) FilledQty() xdecimal.Quantity {
	return o.OriginalQty.Sub(o.RemainingQty)
}

// ApplyFill reduces RemainingQty by qty and updates State per spec.md §3
// invariants (state=FILLED iff remaining=0; state=PARTIALLY_FILLED iff
// 0<remaining<original).
func (o *Order) ApplyFill(qty xdecimal.Quantity) error {
	remaining, err := o.RemainingQty.SubChecked(qty)
	if err != nil {
		return err
	}
	o.RemainingQty = remaining
	if remaining.IsZero() {
		o.State = Filled
	} else {
		o.State = PartiallyFilled
	}
	return nil
}
