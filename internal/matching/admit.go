package matching

import (
	"time"

	"matchcore/internal/event"
	"matchcore/internal/id"
	"matchcore/internal/order"
	"matchcore/internal/xdecimal"
)

// SubmitRequest is an incoming order submission (spec.md §4.4 "Admit").
// PlacedAt is supplied by the caller (the wire/ingestion layer), never
// sampled by the engine — the determinism contract forbids reading a
// clock inside matching (spec.md §4.4 "Determinism rules").
type SubmitRequest struct {
	OrderID   id.OrderID // zero value: engine assigns a fresh id.NewOrderID()
	AccountID id.AccountID
	Side      order.Side
	Type      order.Type
	Price     *xdecimal.Price // nil for Market
	Qty       xdecimal.Quantity
	TIF       order.TimeInForce
	PlacedAt  int64
}

// Submit admits req, runs it through the taker loop, and returns the
// resulting order record plus every event produced, in emission order
// (spec.md §4.4). The returned error is non-nil only for a caller
// programming error (malformed request); ordinary business rejections
// are expressed as an OrderCanceled event with a RejectReason, not a Go
// error, since those are first-class outcomes the caller must journal.
func (e *Engine) Submit(req SubmitRequest) (*order.Order, []event.Event, error) {
	start := time.Now()
	orderID := req.OrderID
	if orderID.IsNil() {
		orderID = id.NewOrderID()
	}
	o := &order.Order{
		OrderID:      orderID,
		AccountID:    req.AccountID,
		MarketID:     e.marketID,
		Side:         req.Side,
		Type:         req.Type,
		Price:        req.Price,
		OriginalQty:  req.Qty,
		RemainingQty: req.Qty,
		TIF:          req.TIF,
		State:        order.New,
		PlacedAt:     req.PlacedAt,
	}
	e.orders[o.OrderID] = o

	if e.metrics != nil {
		defer func() {
			e.metrics.MatchLatency.Observe(time.Since(start).Seconds())
			e.metrics.OrdersAdmitted.WithLabelValues(o.State.String()).Inc()
		}()
	}

	var events []event.Event

	if reason, ok := e.validate(o); !ok {
		events = append(events, e.reject(o, reason, req.PlacedAt))
		return o, events, nil
	}

	decision := e.risk.Check(o.AccountID, e.marketID, o.Side, o.Price, o.RemainingQty)
	riskEvt := e.emit(event.KindRiskDecision, req.PlacedAt)
	riskEvt.RiskDecision = &decision
	events = append(events, riskEvt)
	if decision.Result != event.RiskPass {
		events = append(events, e.reject(o, riskReason(decision.Result), req.PlacedAt))
		return o, events, nil
	}

	if o.Type == order.Limit {
		if err := e.lockForAdmission(o); err != nil {
			events = append(events, e.reject(o, order.ReasonRiskInsufficientMargin, req.PlacedAt))
			return o, events, nil
		}
	}

	placed := e.emit(event.KindOrderPlaced, req.PlacedAt)
	placed.OrderPlaced = &event.OrderPlaced{
		OrderID:      o.OrderID,
		AccountID:    o.AccountID,
		Side:         o.Side,
		Type:         o.Type,
		Price:        o.Price,
		OriginalQty:  o.OriginalQty,
		RemainingQty: o.RemainingQty,
		TIF:          o.TIF,
	}
	o.Sequence = placed.Sequence
	events = append(events, placed)

	matchEvents := e.run(o)
	events = append(events, matchEvents...)
	return o, events, nil
}

// validate applies admission preconditions that don't require consulting
// risk or funds (spec.md §4.4 "Admit preconditions"): price/quantity
// well-formedness against the market's tick/lot/min-notional.
func (e *Engine) validate(o *order.Order) (order.RejectReason, bool) {
	if o.Type == order.Market {
		if o.Price != nil {
			return order.ReasonInvalidPrice, false
		}
	} else {
		if o.Price == nil {
			return order.ReasonInvalidPrice, false
		}
		if !xdecimal.IsMultipleOf(o.Price.Decimal(), e.cfg.TickSize) {
			return order.ReasonInvalidPrice, false
		}
	}

	if o.OriginalQty.IsZero() {
		return order.ReasonInvalidQuantity, false
	}
	if !xdecimal.IsMultipleOf(o.OriginalQty.Decimal(), e.cfg.LotSize) {
		return order.ReasonInvalidQuantity, false
	}

	if o.Type == order.Limit {
		notional := xdecimal.Notional(*o.Price, o.OriginalQty)
		if notional.LessThan(e.cfg.MinNotional) {
			return order.ReasonInvalidQuantity, false
		}
	}

	return order.ReasonNone, true
}

func riskReason(r event.RiskCheckResult) order.RejectReason {
	switch r {
	case event.RiskInsufficientMargin:
		return order.ReasonRiskInsufficientMargin
	case event.RiskPositionLimitExceeded:
		return order.ReasonRiskPositionLimit
	case event.RiskLeverageExceeded:
		return order.ReasonRiskLeverageExceeded
	default:
		return order.ReasonRiskInsufficientMargin
	}
}
