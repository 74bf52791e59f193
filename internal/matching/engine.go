// Package matching implements the core matching algorithm (spec.md §4.4):
// a single per-market Engine owning one OrderBook, admitting orders,
// walking the taker loop under price-time priority, and handing matched
// trades to settlement. Exactly one goroutine may call an Engine's
// methods at a time (spec.md §5 "single writer per market"); the Engine
// itself holds no internal lock, trusting that contract the way the
// teacher's engine.go trusted its caller's single event-loop goroutine.
package matching

import (
	"matchcore/internal/book"
	"matchcore/internal/event"
	"matchcore/internal/fees"
	"matchcore/internal/id"
	"matchcore/internal/ledger"
	"matchcore/internal/market"
	"matchcore/internal/metrics"
	"matchcore/internal/order"
	"matchcore/internal/risk"
	"matchcore/internal/sequence"
	"matchcore/internal/settlement"
	"matchcore/internal/xdecimal"

	"github.com/rs/zerolog"
)

// Engine is the matching core for one market.
type Engine struct {
	marketID   market.ID
	base       string
	quote      string
	cfg        market.Config
	book       *book.OrderBook
	orders     map[id.OrderID]*order.Order
	seq        *sequence.Generator
	ledger     *ledger.Ledger
	risk       risk.Checker
	settler    *settlement.Coordinator
	volume     *fees.Tracker
	metrics    *metrics.Metrics
	log        zerolog.Logger
}

// New builds an Engine for one market. startSequence is 0 on a cold
// start, or last_replayed+1 when recovering from a snapshot (spec.md
// §4.9 step 3).
func New(cfg market.Config, l *ledger.Ledger, checker risk.Checker, m *metrics.Metrics, log zerolog.Logger, startSequence uint64) *Engine {
	base, quote := cfg.ID.Split()
	settleRetry := cfg.SettlementRetryLimit
	return &Engine{
		marketID: cfg.ID,
		base:     base,
		quote:    quote,
		cfg:      cfg,
		book:     book.New(),
		orders:   make(map[id.OrderID]*order.Order),
		seq:      sequence.New(startSequence),
		ledger:   l,
		risk:     checker,
		settler:  settlement.New(l, settleRetry, log, m),
		volume:   fees.NewTracker(),
		metrics:  m,
		log:      log.With().Str("market", string(cfg.ID)).Logger(),
	}
}

// MarketID returns the market this engine serves.
func (e *Engine) MarketID() market.ID { return e.marketID }

// NextSequence exposes the engine's current sequence cursor — used by
// snapshot capture (spec.md §4.9) to record "next sequence" alongside
// book and balance state.
func (e *Engine) NextSequence() uint64 { return e.seq.Peek() }

// Order looks up an order this engine has ever admitted, resting or
// terminal. Returns false if the id is unknown to this market.
func (e *Engine) Order(orderID id.OrderID) (*order.Order, bool) {
	o, ok := e.orders[orderID]
	return o, ok
}

func (e *Engine) emit(kind event.Kind, at int64) event.Event {
	return event.Event{
		Kind:      kind,
		Sequence:  e.seq.Next(),
		MarketID:  e.marketID,
		Timestamp: at,
	}
}

// Cancel removes orderID from the book; if the order has already reached
// a terminal state it changes nothing and returns no events (spec.md §4.4 "Cancel is
// idempotent: canceling an already-terminal order is a no-op that still
// returns success"). byAdmin distinguishes an operator-forced cancel from
// an owner-initiated one in the emitted event.
func (e *Engine) Cancel(orderID id.OrderID, requestedBy id.AccountID, byAdmin bool, at int64) ([]event.Event, error) {
	o, ok := e.orders[orderID]
	if !ok {
		return nil, ErrUnknownOrder
	}
	if !byAdmin && o.AccountID != requestedBy {
		return nil, ErrNotOwner
	}
	if o.State.IsTerminal() {
		return nil, nil // idempotent no-op
	}

	if _, _, err := e.book.Cancel(orderID); err != nil {
		// Order was admitted but never rested (e.g. IOC/FOK/Market that
		// already fully resolved) — nothing to remove from the book, but
		// the order record may still be non-terminal briefly between
		// admission and loop completion. Treat as a logic error: every
		// non-terminal order in e.orders must be resting.
		e.log.Error().Str("order_id", orderID.String()).Err(err).Msg("cancel: non-terminal order missing from book")
		return nil, err
	}
	e.unlockRemainder(o)

	reason := order.ReasonCanceledByOwner
	if byAdmin {
		reason = order.ReasonCanceledByAdmin
	}
	ev := e.cancelRemainder(o, reason, at, byAdmin)
	return []event.Event{ev}, nil
}

// cancelRemainder finalizes o as CANCELED with the given reason and
// returns the OrderCanceled event. Callers must already have removed o
// from the book and unlocked any reserved funds.
func (e *Engine) cancelRemainder(o *order.Order, reason order.RejectReason, at int64, byAdmin bool) event.Event {
	filled := o.FilledQty()
	unfilled := o.RemainingQty
	o.State = order.Canceled
	o.RemainingQty = xdecimal.ZeroQuantity
	ev := e.emit(event.KindOrderCanceled, at)
	ev.OrderCanceled = &event.OrderCanceled{
		OrderID:          o.OrderID,
		Reason:           reason,
		FilledQty:        filled,
		UnfilledQty:      unfilled,
		RequestedByAdmin: byAdmin,
	}
	return ev
}

// reject finalizes o as REJECTED before it was ever placed on the book
// (admission failed). No OrderPlaced precedes this event.
func (e *Engine) reject(o *order.Order, reason order.RejectReason, at int64) event.Event {
	o.State = order.Rejected
	ev := e.emit(event.KindOrderCanceled, at)
	ev.OrderCanceled = &event.OrderCanceled{
		OrderID:     o.OrderID,
		Reason:      reason,
		FilledQty:   xdecimal.ZeroQuantity,
		UnfilledQty: o.RemainingQty,
	}
	return ev
}
