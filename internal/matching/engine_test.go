package matching

import (
	"testing"

	"matchcore/internal/event"
	"matchcore/internal/id"
	"matchcore/internal/ledger"
	"matchcore/internal/market"
	"matchcore/internal/metrics"
	"matchcore/internal/order"
	"matchcore/internal/risk"
	"matchcore/internal/xdecimal"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(id market.ID) market.Config {
	dec := func(s string) decimal.Decimal {
		d, err := decimal.NewFromString(s)
		if err != nil {
			panic(err)
		}
		return d
	}
	return market.NewConfig(id, dec("0.01"), dec("0.0001"), dec("1"))
}

func newTestEngine(t *testing.T, cfg market.Config, l *ledger.Ledger) *Engine {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	return New(cfg, l, risk.AlwaysPass{}, m, zerolog.Nop(), 0)
}

func fund(l *ledger.Ledger, acct id.AccountID, asset, amt string) {
	d, err := decimal.NewFromString(amt)
	if err != nil {
		panic(err)
	}
	l.Deposit(acct, asset, d)
}

func limitPrice(s string) *xdecimal.Price {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	p := xdecimal.MustPrice(d)
	return &p
}

func limitQty(s string) xdecimal.Quantity {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return xdecimal.MustQuantity(d)
}

func kinds(events []event.Event) []event.Kind {
	out := make([]event.Kind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

func TestEngine_RestingLimitOrderThenFullCross(t *testing.T) {
	cfg := testConfig(market.NewID("BTC", "USD"))
	l := ledger.New()
	seller := id.NewAccountID()
	buyer := id.NewAccountID()
	fund(l, seller, "BTC", "10")
	fund(l, buyer, "USD", "100000")

	e := newTestEngine(t, cfg, l)

	_, sellEvents, err := e.Submit(SubmitRequest{
		AccountID: seller, Side: order.Sell, Type: order.Limit,
		Price: limitPrice("100.00"), Qty: limitQty("2"), TIF: order.GTC, PlacedAt: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, []event.Kind{event.KindRiskDecision, event.KindOrderPlaced}, kinds(sellEvents), "a resting order with no cross produces only risk+placed")

	buyOrder, buyEvents, err := e.Submit(SubmitRequest{
		AccountID: buyer, Side: order.Buy, Type: order.Limit,
		Price: limitPrice("100.00"), Qty: limitQty("2"), TIF: order.GTC, PlacedAt: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, order.Filled, buyOrder.State)

	var sawTrade, sawBuyerFilled bool
	for _, ev := range buyEvents {
		if ev.Kind == event.KindTradeExecuted {
			sawTrade = true
			assert.True(t, ev.TradeExecuted.Price.Equal(*limitPrice("100.00")))
			assert.True(t, ev.TradeExecuted.Quantity.Equal(limitQty("2")))
		}
		if ev.Kind == event.KindOrderFilled && ev.OrderFilled.OrderID == buyOrder.OrderID {
			sawBuyerFilled = true
		}
	}
	assert.True(t, sawTrade)
	assert.True(t, sawBuyerFilled)

	bidPrice, _, ok := e.book.BestBid()
	_ = bidPrice
	assert.False(t, ok, "the resting ask was fully consumed, book must be flat on both sides now")

	sellerBTC := l.Get(seller, "BTC")
	assert.True(t, sellerBTC.Total.Equal(decimal.NewFromInt(8)), "seller had 10 BTC, sold 2")
	buyerBTC := l.Get(buyer, "BTC")
	buyerWant, err := decimal.NewFromString("1.999")
	require.NoError(t, err)
	assert.True(t, buyerBTC.Available.Equal(buyerWant), "buyer receives 2 BTC minus its taker fee, netted from the BTC credit leg")
}

func TestEngine_IOCCancelsUnfilledRemainder(t *testing.T) {
	cfg := testConfig(market.NewID("BTC", "USD"))
	l := ledger.New()
	seller := id.NewAccountID()
	buyer := id.NewAccountID()
	fund(l, seller, "BTC", "1")
	fund(l, buyer, "USD", "100000")
	e := newTestEngine(t, cfg, l)

	_, _, err := e.Submit(SubmitRequest{
		AccountID: seller, Side: order.Sell, Type: order.Limit,
		Price: limitPrice("100.00"), Qty: limitQty("1"), TIF: order.GTC, PlacedAt: 1,
	})
	require.NoError(t, err)

	buyOrder, events, err := e.Submit(SubmitRequest{
		AccountID: buyer, Side: order.Buy, Type: order.Limit,
		Price: limitPrice("100.00"), Qty: limitQty("5"), TIF: order.IOC, PlacedAt: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, order.Canceled, buyOrder.State, "IOC remainder after partial fill must cancel, not rest")

	var canceled *event.OrderCanceled
	for _, ev := range events {
		if ev.Kind == event.KindOrderCanceled {
			canceled = ev.OrderCanceled
		}
	}
	require.NotNil(t, canceled)
	assert.Equal(t, order.ReasonIOCRemainder, canceled.Reason)
	assert.True(t, canceled.UnfilledQty.Equal(limitQty("4")))
}

func TestEngine_FOKRejectsWhenDepthInsufficient(t *testing.T) {
	cfg := testConfig(market.NewID("BTC", "USD"))
	l := ledger.New()
	seller := id.NewAccountID()
	buyer := id.NewAccountID()
	fund(l, seller, "BTC", "1")
	fund(l, buyer, "USD", "100000")
	e := newTestEngine(t, cfg, l)

	_, _, err := e.Submit(SubmitRequest{
		AccountID: seller, Side: order.Sell, Type: order.Limit,
		Price: limitPrice("100.00"), Qty: limitQty("1"), TIF: order.GTC, PlacedAt: 1,
	})
	require.NoError(t, err)

	buyOrder, events, err := e.Submit(SubmitRequest{
		AccountID: buyer, Side: order.Buy, Type: order.Limit,
		Price: limitPrice("100.00"), Qty: limitQty("5"), TIF: order.FOK, PlacedAt: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, order.Canceled, buyOrder.State, "post-admission FOK rejection cancels, it does not mark Rejected (that's reserved for pre-admission failures)")

	for _, ev := range events {
		assert.NotEqual(t, event.KindTradeExecuted, ev.Kind, "FOK must reject atomically, never partially fill")
	}
	var canceled *event.OrderCanceled
	for _, ev := range events {
		if ev.Kind == event.KindOrderCanceled {
			canceled = ev.OrderCanceled
		}
	}
	require.NotNil(t, canceled)
	assert.Equal(t, order.ReasonFOKInsufficient, canceled.Reason)

	restingAskPrice, restingAskQty, ok := e.book.BestAsk()
	require.True(t, ok)
	assert.True(t, restingAskPrice.Equal(*limitPrice("100.00")))
	assert.True(t, restingAskQty.Equal(limitQty("1")), "the untouched resting ask must be unaffected by the rejected FOK")
}

func TestEngine_PostOnlyRejectsWhenItWouldCross(t *testing.T) {
	cfg := testConfig(market.NewID("BTC", "USD"))
	l := ledger.New()
	seller := id.NewAccountID()
	buyer := id.NewAccountID()
	fund(l, seller, "BTC", "1")
	fund(l, buyer, "USD", "100000")
	e := newTestEngine(t, cfg, l)

	_, _, err := e.Submit(SubmitRequest{
		AccountID: seller, Side: order.Sell, Type: order.Limit,
		Price: limitPrice("100.00"), Qty: limitQty("1"), TIF: order.GTC, PlacedAt: 1,
	})
	require.NoError(t, err)

	buyOrder, events, err := e.Submit(SubmitRequest{
		AccountID: buyer, Side: order.Buy, Type: order.Limit,
		Price: limitPrice("101.00"), Qty: limitQty("1"), TIF: order.PostOnly, PlacedAt: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, order.Canceled, buyOrder.State)

	var canceled *event.OrderCanceled
	for _, ev := range events {
		if ev.Kind == event.KindOrderCanceled {
			canceled = ev.OrderCanceled
		}
	}
	require.NotNil(t, canceled)
	assert.Equal(t, order.ReasonPostOnlyReject, canceled.Reason)
}

func TestEngine_MarketOrderSweepsAndSettlesFromAvailable(t *testing.T) {
	cfg := testConfig(market.NewID("BTC", "USD"))
	l := ledger.New()
	seller := id.NewAccountID()
	buyer := id.NewAccountID()
	fund(l, seller, "BTC", "1")
	fund(l, buyer, "USD", "100000")
	e := newTestEngine(t, cfg, l)

	_, _, err := e.Submit(SubmitRequest{
		AccountID: seller, Side: order.Sell, Type: order.Limit,
		Price: limitPrice("100.00"), Qty: limitQty("1"), TIF: order.GTC, PlacedAt: 1,
	})
	require.NoError(t, err)

	marketOrder, events, err := e.Submit(SubmitRequest{
		AccountID: buyer, Side: order.Buy, Type: order.Market,
		Qty: limitQty("1"), TIF: order.GTC, PlacedAt: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, order.Filled, marketOrder.State)

	var settlementFailed bool
	for _, ev := range events {
		if ev.Kind == event.KindSettlementFailed {
			settlementFailed = true
		}
	}
	assert.False(t, settlementFailed, "a market order never locks funds, so its debit leg must settle from available")

	buyerUSD := l.Get(buyer, "USD")
	assert.True(t, buyerUSD.Locked.IsZero())
	assert.True(t, buyerUSD.Total.LessThan(decimal.NewFromInt(100000)), "the market buy must have actually debited quote")
}

func TestEngine_SelfTradeCancelTakerDefault(t *testing.T) {
	cfg := testConfig(market.NewID("BTC", "USD"))
	l := ledger.New()
	acct := id.NewAccountID()
	fund(l, acct, "BTC", "5")
	fund(l, acct, "USD", "100000")
	e := newTestEngine(t, cfg, l)

	_, _, err := e.Submit(SubmitRequest{
		AccountID: acct, Side: order.Sell, Type: order.Limit,
		Price: limitPrice("100.00"), Qty: limitQty("1"), TIF: order.GTC, PlacedAt: 1,
	})
	require.NoError(t, err)

	takerOrder, events, err := e.Submit(SubmitRequest{
		AccountID: acct, Side: order.Buy, Type: order.Limit,
		Price: limitPrice("100.00"), Qty: limitQty("1"), TIF: order.GTC, PlacedAt: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, order.Canceled, takerOrder.State, "CANCEL_TAKER is the default self-trade policy")

	var canceled *event.OrderCanceled
	for _, ev := range events {
		if ev.Kind == event.KindOrderCanceled {
			canceled = ev.OrderCanceled
		}
	}
	require.NotNil(t, canceled)
	assert.Equal(t, order.ReasonSelfTrade, canceled.Reason)

	askPrice, askQty, ok := e.book.BestAsk()
	require.True(t, ok, "the resting maker order must survive a CANCEL_TAKER self-trade")
	assert.True(t, askPrice.Equal(*limitPrice("100.00")))
	assert.True(t, askQty.Equal(limitQty("1")))
}

func TestEngine_CancelIsIdempotentOnTerminalOrder(t *testing.T) {
	cfg := testConfig(market.NewID("BTC", "USD"))
	l := ledger.New()
	acct := id.NewAccountID()
	fund(l, acct, "USD", "1000")
	e := newTestEngine(t, cfg, l)

	placed, _, err := e.Submit(SubmitRequest{
		AccountID: acct, Side: order.Buy, Type: order.Limit,
		Price: limitPrice("10.00"), Qty: limitQty("1"), TIF: order.GTC, PlacedAt: 1,
	})
	require.NoError(t, err)

	events, err := e.Cancel(placed.OrderID, acct, false, 2)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, order.Canceled, placed.State)

	again, err := e.Cancel(placed.OrderID, acct, false, 3)
	require.NoError(t, err)
	assert.Nil(t, again, "canceling an already-terminal order is a no-op, not an error")
}

func TestEngine_CancelRejectsNonOwner(t *testing.T) {
	cfg := testConfig(market.NewID("BTC", "USD"))
	l := ledger.New()
	owner := id.NewAccountID()
	stranger := id.NewAccountID()
	fund(l, owner, "USD", "1000")
	e := newTestEngine(t, cfg, l)

	placed, _, err := e.Submit(SubmitRequest{
		AccountID: owner, Side: order.Buy, Type: order.Limit,
		Price: limitPrice("10.00"), Qty: limitQty("1"), TIF: order.GTC, PlacedAt: 1,
	})
	require.NoError(t, err)

	_, err = e.Cancel(placed.OrderID, stranger, false, 2)
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestEngine_RejectsSubMinNotional(t *testing.T) {
	cfg := testConfig(market.NewID("BTC", "USD"))
	l := ledger.New()
	acct := id.NewAccountID()
	fund(l, acct, "USD", "1000")
	e := newTestEngine(t, cfg, l)

	placed, events, err := e.Submit(SubmitRequest{
		AccountID: acct, Side: order.Buy, Type: order.Limit,
		Price: limitPrice("0.01"), Qty: limitQty("0.0001"), TIF: order.GTC, PlacedAt: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, order.Rejected, placed.State)
	require.Len(t, events, 1, "admission failures never emit a risk decision, only the rejection")
	assert.Equal(t, order.ReasonInvalidQuantity, events[0].OrderCanceled.Reason)
}

func TestEngine_PriceTimePriorityFIFOAtSameLevel(t *testing.T) {
	cfg := testConfig(market.NewID("BTC", "USD"))
	l := ledger.New()
	first := id.NewAccountID()
	second := id.NewAccountID()
	taker := id.NewAccountID()
	fund(l, first, "BTC", "5")
	fund(l, second, "BTC", "5")
	fund(l, taker, "USD", "100000")
	e := newTestEngine(t, cfg, l)

	firstOrder, _, err := e.Submit(SubmitRequest{
		AccountID: first, Side: order.Sell, Type: order.Limit,
		Price: limitPrice("100.00"), Qty: limitQty("1"), TIF: order.GTC, PlacedAt: 1,
	})
	require.NoError(t, err)
	_, _, err = e.Submit(SubmitRequest{
		AccountID: second, Side: order.Sell, Type: order.Limit,
		Price: limitPrice("100.00"), Qty: limitQty("1"), TIF: order.GTC, PlacedAt: 2,
	})
	require.NoError(t, err)

	_, events, err := e.Submit(SubmitRequest{
		AccountID: taker, Side: order.Buy, Type: order.Limit,
		Price: limitPrice("100.00"), Qty: limitQty("1"), TIF: order.GTC, PlacedAt: 3,
	})
	require.NoError(t, err)

	for _, ev := range events {
		if ev.Kind == event.KindTradeExecuted {
			assert.Equal(t, firstOrder.OrderID, ev.TradeExecuted.MakerOrderID, "the earlier-resting order at the same price must fill first")
		}
	}
}
