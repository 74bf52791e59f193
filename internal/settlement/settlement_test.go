package settlement

import (
	"testing"

	"matchcore/internal/id"
	"matchcore/internal/ledger"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func amount(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func newTestLedger(t *testing.T, taker, maker id.AccountID) *ledger.Ledger {
	t.Helper()
	l := ledger.New()
	l.Deposit(taker, "USD", amount("10000"))
	takerRead := l.Get(taker, "USD")
	require.NoError(t, l.Lock(takerRead, amount("1000")))

	l.Deposit(maker, "BTC", amount("5"))
	makerRead := l.Get(maker, "BTC")
	require.NoError(t, l.Lock(makerRead, amount("1")))
	return l
}

// TestSettle_FeeAlwaysNetsFromCredit covers a BUY taker against a SELL
// maker: each side's fee is denominated in its own credit asset (base for
// the buyer, quote for the seller) and must come out of that credit, never
// inflate the debit — admission locks exactly the notional with no fee
// headroom, so an inflated debit would exceed what was ever reserved.
func TestSettle_FeeAlwaysNetsFromCredit(t *testing.T) {
	taker := id.NewAccountID()
	maker := id.NewAccountID()
	l := newTestLedger(t, taker, maker)
	c := New(l, 8, zerolog.Nop(), nil)

	plan := Plan{
		TradeID: id.NewTradeID(),
		Taker: Leg{
			Account: taker, DebitAsset: "USD", DebitQty: amount("1000"),
			CreditAsset: "BTC", CreditQty: amount("1"),
			Fee: amount("0.002"), FeeAsset: "BTC",
		},
		Maker: Leg{
			Account: maker, DebitAsset: "BTC", DebitQty: amount("1"),
			CreditAsset: "USD", CreditQty: amount("1000"),
			Fee: amount("1"), FeeAsset: "USD",
		},
	}

	_, err := c.Settle(plan)
	require.NoError(t, err)

	takerUSD := l.Get(taker, "USD")
	assert.True(t, takerUSD.Total.Equal(amount("9000")), "taker pays exactly the locked notional, nothing added for the fee")
	assert.True(t, takerUSD.Invariant())

	takerBTC := l.Get(taker, "BTC")
	assert.True(t, takerBTC.Total.Equal(amount("0.998")), "taker receives notional minus its base-denominated fee: 1-0.002")

	makerBTC := l.Get(maker, "BTC")
	assert.True(t, makerBTC.Total.Equal(amount("4")))

	makerUSD := l.Get(maker, "USD")
	assert.True(t, makerUSD.Total.Equal(amount("999")), "maker receives notional minus fee: 1000-1")
	assert.True(t, makerUSD.Invariant())
}

func TestSettle_MarketTakerDebitsFromAvailableNotLocked(t *testing.T) {
	taker := id.NewAccountID()
	maker := id.NewAccountID()
	l := ledger.New()
	l.Deposit(taker, "USD", amount("10000")) // never locked: a market order reserves nothing at admission
	l.Deposit(maker, "BTC", amount("5"))
	makerRead := l.Get(maker, "BTC")
	require.NoError(t, l.Lock(makerRead, amount("1")))

	c := New(l, 8, zerolog.Nop(), nil)
	plan := Plan{
		TradeID: id.NewTradeID(),
		Taker: Leg{
			Account: taker, DebitAsset: "USD", DebitQty: amount("1000"),
			CreditAsset: "BTC", CreditQty: amount("1"), FeeAsset: "USD",
			DebitFromAvailable: true,
		},
		Maker: Leg{
			Account: maker, DebitAsset: "BTC", DebitQty: amount("1"),
			CreditAsset: "USD", CreditQty: amount("1000"), FeeAsset: "USD",
		},
	}

	_, err := c.Settle(plan)
	require.NoError(t, err)

	takerUSD := l.Get(taker, "USD")
	assert.True(t, takerUSD.Total.Equal(amount("9000")))
	assert.True(t, takerUSD.Locked.IsZero(), "a market taker never had anything locked to begin with")
	assert.True(t, takerUSD.Invariant())
}

func TestSettle_InsufficientLockedIsNotRetryable(t *testing.T) {
	taker := id.NewAccountID()
	maker := id.NewAccountID()
	l := ledger.New()
	l.Deposit(taker, "USD", amount("10"))
	read := l.Get(taker, "USD")
	require.NoError(t, l.Lock(read, amount("10")))

	c := New(l, 8, zerolog.Nop(), nil)
	plan := Plan{
		TradeID: id.NewTradeID(),
		Taker: Leg{
			Account: taker, DebitAsset: "USD", DebitQty: amount("1000"),
			CreditAsset: "BTC", CreditQty: amount("1"), FeeAsset: "USD",
		},
		Maker: Leg{Account: maker, DebitAsset: "BTC", CreditAsset: "USD", CreditQty: amount("1000"), FeeAsset: "USD"},
	}

	_, err := c.Settle(plan)
	require.Error(t, err)
	var failed *ErrSettlementFailed
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, 1, failed.Attempts, "an insufficient-locked error is not a version conflict and must not be retried")
}
