// Package book implements the price-level FIFO and the two-sided order book
// (spec.md §3 "PriceLevel", "OrderBook"; §4.2, §4.3), generalized from the
// teacher's internal/engine/orderbook.go.
package book

import (
	"container/list"
	"errors"

	"matchcore/internal/id"
	"matchcore/internal/xdecimal"
)

// ErrDuplicateOrder is returned by Insert when an order id is already
// resting at the level — spec.md §4.2 calls this fatal, since it breaks
// the FIFO/index invariant.
var ErrDuplicateOrder = errors.New("book: duplicate order id in price level")

// ErrNotFound is returned by Remove when the order id isn't resting at the
// level.
var ErrNotFound = errors.New("book: order not found in price level")

// Entry is one resting order's footprint at a price level (spec.md §3).
type Entry struct {
	OrderID      id.OrderID
	AccountID    id.AccountID
	RemainingQty xdecimal.Quantity
}

// PriceLevel is a FIFO queue of resting entries at one price (spec.md §3,
// §4.2). Insertion order is priority order: no aging, no randomization
// (spec.md §4.2 "Tie-break at a single price level is strictly insertion
// order").
//
// Backed by container/list plus an id->element index: Insert and
// FrontPartialFill are O(1); Remove-by-id is O(1) once the element is
// located via the index (better than the O(log n) the spec requires as a
// minimum).
type PriceLevel struct {
	Price   xdecimal.Price
	orders  *list.List // of *Entry
	index   map[id.OrderID]*list.Element
	totalQty xdecimal.Quantity
}

// NewPriceLevel creates an empty price level at price.
func NewPriceLevel(price xdecimal.Price) *PriceLevel {
	return &PriceLevel{
		Price:  price,
		orders: list.New(),
		index:  make(map[id.OrderID]*list.Element),
	}
}

// Insert appends entry at the tail (spec.md §4.2 "insert(order) — append at
// tail").
func (l *PriceLevel) Insert(e Entry) error {
	if _, exists := l.index[e.OrderID]; exists {
		return ErrDuplicateOrder
	}
	elem := l.orders.PushBack(&e)
	l.index[e.OrderID] = elem
	l.totalQty = l.totalQty.Add(e.RemainingQty)
	return nil
}

// Remove removes the entry with orderID, wherever it sits in the queue
// (spec.md §4.2 "remove(order_id) — removes by id").
func (l *PriceLevel) Remove(orderID id.OrderID) (Entry, error) {
	elem, ok := l.index[orderID]
	if !ok {
		return Entry{}, ErrNotFound
	}
	entry := elem.Value.(*Entry)
	l.orders.Remove(elem)
	delete(l.index, orderID)
	l.totalQty = l.totalQty.Sub(entry.RemainingQty)
	return *entry, nil
}

// Front returns the head entry (earliest-priority resting order) without
// removing it.
func (l *PriceLevel) Front() (*Entry, bool) {
	elem := l.orders.Front()
	if elem == nil {
		return nil, false
	}
	return elem.Value.(*Entry), true
}

// FrontPartialFill reduces the head entry's remaining quantity by q,
// removing it if it reaches zero (spec.md §4.2). q must be <= the head's
// remaining quantity; callers (the matching loop) always compute q as
// min(taker remaining, maker remaining), so this never underflows in
// practice, but the check is kept to fail loudly rather than silently
// corrupt the level if that invariant is ever violated.
func (l *PriceLevel) FrontPartialFill(q xdecimal.Quantity) error {
	elem := l.orders.Front()
	if elem == nil {
		return ErrNotFound
	}
	entry := elem.Value.(*Entry)
	remaining, err := entry.RemainingQty.SubChecked(q)
	if err != nil {
		return err
	}
	entry.RemainingQty = remaining
	l.totalQty = l.totalQty.Sub(q)
	if remaining.IsZero() {
		l.orders.Remove(elem)
		delete(l.index, entry.OrderID)
	}
	return nil
}

// TotalQuantity returns the level's cached aggregate remaining quantity,
// O(1) (spec.md §4.2).
func (l *PriceLevel) TotalQuantity() xdecimal.Quantity { return l.totalQty }

// IsEmpty reports whether the level has no resting orders.
func (l *PriceLevel) IsEmpty() bool { return l.orders.Len() == 0 }

// Len returns the number of resting orders at this level.
func (l *PriceLevel) Len() int { return l.orders.Len() }

// Entries returns the resting entries in FIFO (priority) order. Used for
// depth snapshots and tests; callers must not mutate the returned entries.
func (l *PriceLevel) Entries() []Entry {
	out := make([]Entry, 0, l.orders.Len())
	for e := l.orders.Front(); e != nil; e = e.Next() {
		out = append(out, *e.Value.(*Entry))
	}
	return out
}
