package book

import (
	"testing"

	"matchcore/internal/id"
	"matchcore/internal/order"
	"matchcore/internal/xdecimal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func price(t *testing.T, s string) xdecimal.Price {
	t.Helper()
	p, err := xdecimal.ParsePrice(s)
	require.NoError(t, err)
	return p
}

func qty(t *testing.T, s string) xdecimal.Quantity {
	t.Helper()
	q, err := xdecimal.ParseQuantity(s)
	require.NoError(t, err)
	return q
}

func restN(t *testing.T, b *OrderBook, side order.Side, p xdecimal.Price, quantities ...string) {
	t.Helper()
	for _, q := range quantities {
		require.NoError(t, b.Rest(side, p, Entry{
			OrderID:      id.NewOrderID(),
			AccountID:    id.NewAccountID(),
			RemainingQty: qty(t, q),
		}))
	}
}

func levelQuantities(t *testing.T, lvl *PriceLevel) []string {
	t.Helper()
	var out []string
	for _, e := range lvl.Entries() {
		out = append(out, e.RemainingQty.String())
	}
	return out
}

func TestOrderBook_RestKeepsFIFOWithinLevel(t *testing.T) {
	b := New()
	restN(t, b, order.Buy, price(t, "99.00"), "100", "90", "80")
	restN(t, b, order.Sell, price(t, "100.00"), "100", "90", "80")

	asks := b.Levels(order.Sell)
	require.Len(t, asks, 1)
	assert.Equal(t, []string{"100", "90", "80"}, levelQuantities(t, asks[0]))

	bids := b.Levels(order.Buy)
	require.Len(t, bids, 1)
	assert.Equal(t, []string{"100", "90", "80"}, levelQuantities(t, bids[0]))
}

func TestOrderBook_MultipleLevelsBestFirstOrder(t *testing.T) {
	b := New()
	restN(t, b, order.Buy, price(t, "99.00"), "100", "90", "80")
	restN(t, b, order.Buy, price(t, "98.00"), "50")
	restN(t, b, order.Sell, price(t, "100.00"), "100", "90")
	restN(t, b, order.Sell, price(t, "101.00"), "20")

	asks := b.Levels(order.Sell)
	require.Len(t, asks, 2)
	assert.True(t, asks[0].Price.Equal(price(t, "100.00")), "asks must be ascending: lowest price first")
	assert.True(t, asks[1].Price.Equal(price(t, "101.00")))

	bids := b.Levels(order.Buy)
	require.Len(t, bids, 2)
	assert.True(t, bids[0].Price.Equal(price(t, "99.00")), "bids must be descending: highest price first")
	assert.True(t, bids[1].Price.Equal(price(t, "98.00")))
}

func TestOrderBook_FillHeadConsumesFIFOHeadAndEvictsEmptyLevel(t *testing.T) {
	b := New()
	p := price(t, "100.00")
	first := id.NewOrderID()
	require.NoError(t, b.Rest(order.Sell, p, Entry{OrderID: first, AccountID: id.NewAccountID(), RemainingQty: qty(t, "10")}))
	second := id.NewOrderID()
	require.NoError(t, b.Rest(order.Sell, p, Entry{OrderID: second, AccountID: id.NewAccountID(), RemainingQty: qty(t, "5")}))

	filledID, consumed, err := b.FillHead(order.Sell, p, qty(t, "10"))
	require.NoError(t, err)
	assert.Equal(t, first, filledID, "FIFO: the earliest resting order fills first regardless of size")
	assert.True(t, consumed)
	assert.False(t, b.Has(first))
	assert.True(t, b.Has(second))

	_, consumed, err = b.FillHead(order.Sell, p, qty(t, "5"))
	require.NoError(t, err)
	assert.True(t, consumed)
	assert.Empty(t, b.Levels(order.Sell), "level must be evicted once its last order is fully consumed")
}

func TestOrderBook_FillHeadPartialLeavesRemainder(t *testing.T) {
	b := New()
	p := price(t, "100.00")
	head := id.NewOrderID()
	require.NoError(t, b.Rest(order.Sell, p, Entry{OrderID: head, AccountID: id.NewAccountID(), RemainingQty: qty(t, "90")}))

	filledID, consumed, err := b.FillHead(order.Sell, p, qty(t, "20"))
	require.NoError(t, err)
	assert.Equal(t, head, filledID)
	assert.False(t, consumed)

	levels := b.Levels(order.Sell)
	require.Len(t, levels, 1)
	assert.Equal(t, []string{"70"}, levelQuantities(t, levels[0]))
}

func TestOrderBook_CancelRemovesFromWhereverItRests(t *testing.T) {
	b := New()
	p := price(t, "50.00")
	target := id.NewOrderID()
	require.NoError(t, b.Rest(order.Buy, p, Entry{OrderID: target, AccountID: id.NewAccountID(), RemainingQty: qty(t, "10")}))

	entry, side, err := b.Cancel(target)
	require.NoError(t, err)
	assert.Equal(t, order.Buy, side)
	assert.True(t, entry.RemainingQty.Equal(qty(t, "10")))
	assert.False(t, b.Has(target))
	assert.Empty(t, b.Levels(order.Buy))

	_, _, err = b.Cancel(target)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOrderBook_RestDuplicateOrderIDRejected(t *testing.T) {
	b := New()
	p := price(t, "50.00")
	dup := id.NewOrderID()
	require.NoError(t, b.Rest(order.Buy, p, Entry{OrderID: dup, AccountID: id.NewAccountID(), RemainingQty: qty(t, "10")}))
	err := b.Rest(order.Buy, p, Entry{OrderID: dup, AccountID: id.NewAccountID(), RemainingQty: qty(t, "5")})
	assert.ErrorIs(t, err, ErrDuplicateOrder)
}

func TestOrderBook_BestBidAskAggregatesQuantity(t *testing.T) {
	b := New()
	restN(t, b, order.Buy, price(t, "99.00"), "100", "50")
	restN(t, b, order.Sell, price(t, "100.00"), "30")

	bestBidPrice, bestBidQty, ok := b.BestBid()
	require.True(t, ok)
	assert.True(t, bestBidPrice.Equal(price(t, "99.00")))
	assert.True(t, bestBidQty.Equal(qty(t, "150")))

	bestAskPrice, bestAskQty, ok := b.BestAsk()
	require.True(t, ok)
	assert.True(t, bestAskPrice.Equal(price(t, "100.00")))
	assert.True(t, bestAskQty.Equal(qty(t, "30")))
}

func TestOrderBook_DepthSnapshotBoundsLevelCount(t *testing.T) {
	b := New()
	restN(t, b, order.Sell, price(t, "100.00"), "1")
	restN(t, b, order.Sell, price(t, "101.00"), "1")
	restN(t, b, order.Sell, price(t, "102.00"), "1")

	depth := b.DepthSnapshot(order.Sell, 2)
	require.Len(t, depth, 2)
	assert.True(t, depth[0].Price.Equal(price(t, "100.00")))
	assert.True(t, depth[1].Price.Equal(price(t, "101.00")))
}
