// Package event defines the closed tagged union of events the matching core
// emits (spec.md §3 "Event"). Per the re-architecture notes in spec.md §9
// ("Dynamic dispatch over event types ... favor exhaustive case analysis
// over vtables so journal encoding can stay stable"), Event is a single
// struct carrying a Kind tag plus one populated payload field, switched over
// exhaustively by callers — not an interface hierarchy. This keeps the
// journal's wire encoding (internal/journal) a flat, stable case statement
// instead of a registry of concrete types.
package event

import (
	"matchcore/internal/id"
	"matchcore/internal/market"
	"matchcore/internal/order"
	"matchcore/internal/xdecimal"

	"github.com/shopspring/decimal"
)

type Kind uint8

const (
	KindOrderPlaced Kind = iota
	KindOrderPartiallyFilled
	KindOrderFilled
	KindOrderCanceled
	KindTradeExecuted
	KindBalanceChanged
	KindRiskDecision
	KindSettlementFailed
)

func (k Kind) String() string {
	switch k {
	case KindOrderPlaced:
		return "OrderPlaced"
	case KindOrderPartiallyFilled:
		return "OrderPartiallyFilled"
	case KindOrderFilled:
		return "OrderFilled"
	case KindOrderCanceled:
		return "OrderCanceled"
	case KindTradeExecuted:
		return "TradeExecuted"
	case KindBalanceChanged:
		return "BalanceChanged"
	case KindRiskDecision:
		return "RiskDecision"
	case KindSettlementFailed:
		return "SettlementFailed"
	default:
		return "Unknown"
	}
}

// Event is every event's envelope: every variant carries Sequence,
// MarketID, and Timestamp (spec.md §3: "Every event carries sequence,
// market_id, and timestamp"). Events are immutable once constructed —
// nothing in this package exposes a setter after construction.
type Event struct {
	Kind      Kind
	Sequence  uint64
	MarketID  market.ID
	Timestamp int64

	OrderPlaced          *OrderPlaced
	OrderPartiallyFilled *OrderPartiallyFilled
	OrderFilled          *OrderFilled
	OrderCanceled        *OrderCanceled
	TradeExecuted        *TradeExecuted
	BalanceChanged       *BalanceChanged
	RiskDecision         *RiskDecision
	SettlementFailed     *SettlementFailed
}

type OrderPlaced struct {
	OrderID      id.OrderID
	AccountID    id.AccountID
	Side         order.Side
	Type         order.Type
	Price        *xdecimal.Price
	OriginalQty  xdecimal.Quantity
	RemainingQty xdecimal.Quantity
	TIF          order.TimeInForce
}

type OrderPartiallyFilled struct {
	OrderID         id.OrderID
	FilledQty       xdecimal.Quantity
	RemainingQty    xdecimal.Quantity
	LastFillPrice   xdecimal.Price
}

type OrderFilled struct {
	OrderID   id.OrderID
	FilledQty xdecimal.Quantity
}

type OrderCanceled struct {
	OrderID          id.OrderID
	Reason           order.RejectReason
	FilledQty        xdecimal.Quantity
	UnfilledQty      xdecimal.Quantity
	RequestedByAdmin bool
}

// TradeExecuted mirrors spec.md §3 "Trade" — trade_id, sequence, market_id,
// maker/taker order+account ids, side (taker's side), price, quantity,
// maker/taker fee, executed_at.
type TradeExecuted struct {
	TradeID         id.TradeID
	MakerOrderID    id.OrderID
	TakerOrderID    id.OrderID
	MakerAccountID  id.AccountID
	TakerAccountID  id.AccountID
	Side            order.Side // taker's side
	Price           xdecimal.Price
	Quantity        xdecimal.Quantity
	MakerFee        decimal.Decimal
	TakerFee        decimal.Decimal
	FeeAsset        market.FeeAsset
}

type BalanceChanged struct {
	AccountID id.AccountID
	Asset     string
	Total     decimal.Decimal
	Available decimal.Decimal
	Locked    decimal.Decimal
	Version   uint64
}

// RiskCheckResult mirrors spec.md §6 "Risk predicate" result union.
type RiskCheckResult int

const (
	RiskPass RiskCheckResult = iota
	RiskInsufficientMargin
	RiskPositionLimitExceeded
	RiskLeverageExceeded
)

type RiskDecision struct {
	AccountID id.AccountID
	Result    RiskCheckResult
	Detail    string
}

// SettlementFailed is emitted when settlement exhausts its retry budget
// (spec.md §4.6): "a fatal operational alarm but must not corrupt the
// book".
type SettlementFailed struct {
	TradeID id.TradeID
	Attempts int
	Reason   string
}
