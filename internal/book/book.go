package book

import (
	"matchcore/internal/id"
	"matchcore/internal/order"
	"matchcore/internal/xdecimal"

	"github.com/tidwall/btree"
)

// sides are sorted maps of price -> *PriceLevel, ordered so that
// iteration always yields "best first": bids descending (highest price
// first), asks ascending (lowest price first) (spec.md §3 "OrderBook").
// tidwall/btree.BTreeG gives deterministic sorted iteration, which the
// matching engine's determinism contract requires (spec.md §4.4:
// "iteration over books uses sorted-map order; HashMap-equivalent
// structures are forbidden on any path that influences trade order") —
// the same discipline the teacher's engine/orderbook.go already applies.
type sideTree = btree.BTreeG[*PriceLevel]

// OrderBook is the two-sided book for one market (spec.md §3, §4.3).
type OrderBook struct {
	bids *sideTree
	asks *sideTree

	// location lets Cancel and fill bookkeeping find an order's side and
	// price without scanning either tree.
	location map[id.OrderID]orderLocation
}

type orderLocation struct {
	side  order.Side
	price xdecimal.Price
}

// New creates an empty order book.
func New() *OrderBook {
	bids := btree.NewBTreeG(func(a, b *PriceLevel) bool {
		return a.Price.GT(b.Price) // descending: best bid = highest price first
	})
	asks := btree.NewBTreeG(func(a, b *PriceLevel) bool {
		return a.Price.LT(b.Price) // ascending: best ask = lowest price first
	})
	return &OrderBook{
		bids:     bids,
		asks:     asks,
		location: make(map[id.OrderID]orderLocation),
	}
}

func (b *OrderBook) treeFor(side order.Side) *sideTree {
	if side == order.Buy {
		return b.bids
	}
	return b.asks
}

// levelAt returns the level at price on side, creating it if absent.
func (b *OrderBook) levelAt(side order.Side, price xdecimal.Price) *PriceLevel {
	tree := b.treeFor(side)
	probe := &PriceLevel{Price: price}
	if lvl, ok := tree.Get(probe); ok {
		return lvl
	}
	lvl := NewPriceLevel(price)
	tree.Set(lvl)
	return lvl
}

// Rest inserts a resting order onto side at price (spec.md §4.2 Insert,
// §4.3). Error is ErrDuplicateOrder if the order id is already resting
// anywhere in the book.
func (b *OrderBook) Rest(side order.Side, price xdecimal.Price, e Entry) error {
	if _, exists := b.location[e.OrderID]; exists {
		return ErrDuplicateOrder
	}
	lvl := b.levelAt(side, price)
	if err := lvl.Insert(e); err != nil {
		return err
	}
	b.location[e.OrderID] = orderLocation{side: side, price: price}
	return nil
}

// Cancel removes orderID from wherever it rests, evicting the price level
// if it becomes empty (spec.md §3 invariant: "no empty level is ever
// observable"). Returns the removed entry and the side it rested on.
func (b *OrderBook) Cancel(orderID id.OrderID) (Entry, order.Side, error) {
	loc, ok := b.location[orderID]
	if !ok {
		return Entry{}, 0, ErrNotFound
	}
	tree := b.treeFor(loc.side)
	probe := &PriceLevel{Price: loc.price}
	lvl, ok := tree.Get(probe)
	if !ok {
		return Entry{}, 0, ErrNotFound
	}
	entry, err := lvl.Remove(orderID)
	if err != nil {
		return Entry{}, 0, err
	}
	delete(b.location, orderID)
	if lvl.IsEmpty() {
		tree.Delete(lvl)
	}
	return entry, loc.side, nil
}

// FillHead partially or fully fills the head of the level at (side, price)
// by qty, evicting the order from the index and the level from the book if
// exhausted. Returns the order id that was at the head (for event
// emission) and whether it was fully consumed.
func (b *OrderBook) FillHead(side order.Side, price xdecimal.Price, qty xdecimal.Quantity) (id.OrderID, bool, error) {
	tree := b.treeFor(side)
	probe := &PriceLevel{Price: price}
	lvl, ok := tree.Get(probe)
	if !ok {
		return id.OrderID{}, false, ErrNotFound
	}
	head, ok := lvl.Front()
	if !ok {
		return id.OrderID{}, false, ErrNotFound
	}
	orderID := head.OrderID
	if err := lvl.FrontPartialFill(qty); err != nil {
		return id.OrderID{}, false, err
	}
	consumed := false
	if _, stillThere := lvl.index[orderID]; !stillThere {
		consumed = true
		delete(b.location, orderID)
	}
	if lvl.IsEmpty() {
		tree.Delete(lvl)
	}
	return orderID, consumed, nil
}

// BestBid returns the best (highest) bid price and its aggregate resting
// quantity (spec.md §4.3 "best_bid()").
func (b *OrderBook) BestBid() (xdecimal.Price, xdecimal.Quantity, bool) {
	return bestOf(b.bids)
}

// BestAsk returns the best (lowest) ask price and its aggregate resting
// quantity (spec.md §4.3 "best_ask()").
func (b *OrderBook) BestAsk() (xdecimal.Price, xdecimal.Quantity, bool) {
	return bestOf(b.asks)
}

func bestOf(tree *sideTree) (xdecimal.Price, xdecimal.Quantity, bool) {
	lvl, ok := tree.Min()
	if !ok {
		return xdecimal.Price{}, xdecimal.Quantity{}, false
	}
	return lvl.Price, lvl.TotalQuantity(), true
}

// BestLevel returns the best price level on side, for the matching loop to
// walk without a second lookup.
func (b *OrderBook) BestLevel(side order.Side) (*PriceLevel, bool) {
	return b.treeFor(side).Min()
}

// DepthSnapshot returns up to n price levels on side, best-first, in exact
// order (spec.md §4.3 "Depth snapshot is the first N levels on each side,
// exact order").
func (b *OrderBook) DepthSnapshot(side order.Side, n int) []*PriceLevel {
	tree := b.treeFor(side)
	out := make([]*PriceLevel, 0, n)
	tree.Scan(func(lvl *PriceLevel) bool {
		if len(out) >= n {
			return false
		}
		out = append(out, lvl)
		return true
	})
	return out
}

// Levels returns every price level on side, best-first, exact order. Used
// by snapshot capture (spec.md §4.9: "full book ... in FIFO order").
func (b *OrderBook) Levels(side order.Side) []*PriceLevel {
	tree := b.treeFor(side)
	out := make([]*PriceLevel, 0, tree.Len())
	tree.Scan(func(lvl *PriceLevel) bool {
		out = append(out, lvl)
		return true
	})
	return out
}

// Has reports whether orderID currently rests anywhere in the book.
func (b *OrderBook) Has(orderID id.OrderID) bool {
	_, ok := b.location[orderID]
	return ok
}
