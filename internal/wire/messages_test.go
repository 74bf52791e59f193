package wire

import (
	"testing"

	"matchcore/internal/event"
	"matchcore/internal/id"
	"matchcore/internal/market"
	"matchcore/internal/order"
	"matchcore/internal/xdecimal"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitOrder_EncodeParseRoundTrip(t *testing.T) {
	acct := id.NewAccountID()
	msg := SubmitOrderMessage{
		baseMessage: baseMessage{TypeOf: SubmitOrder},
		MarketID:    market.NewID("BTC", "USD"),
		AccountID:   acct,
		Side:        order.Sell,
		Type:        order.Limit,
		TIF:         order.GTC,
		HasPrice:    true,
		Price:       "100.50",
		Qty:         "2.25",
		PlacedAt:    1700000000,
	}
	encoded := EncodeSubmitOrder(msg)

	parsed, err := ParseMessage(encoded)
	require.NoError(t, err)
	submit, ok := parsed.(*SubmitOrderMessage)
	require.True(t, ok)
	assert.Equal(t, msg.MarketID, submit.MarketID)
	assert.Equal(t, msg.AccountID, submit.AccountID)
	assert.Equal(t, msg.Side, submit.Side)
	assert.Equal(t, msg.Type, submit.Type)
	assert.Equal(t, msg.TIF, submit.TIF)
	assert.Equal(t, msg.HasPrice, submit.HasPrice)
	assert.Equal(t, msg.Price, submit.Price)
	assert.Equal(t, msg.Qty, submit.Qty)
	assert.Equal(t, msg.PlacedAt, submit.PlacedAt)

	req, err := submit.ToSubmitRequest()
	require.NoError(t, err)
	assert.True(t, req.Qty.Equal(xdecimal.MustQuantity(decimal.RequireFromString("2.25"))))
	require.NotNil(t, req.Price)
	assert.True(t, req.Price.Equal(xdecimal.MustPrice(decimal.RequireFromString("100.50"))))
}

func TestSubmitOrder_MarketOrderHasNoPrice(t *testing.T) {
	msg := SubmitOrderMessage{
		baseMessage: baseMessage{TypeOf: SubmitOrder},
		MarketID:    market.NewID("BTC", "USD"),
		AccountID:   id.NewAccountID(),
		Side:        order.Buy,
		Type:        order.Market,
		TIF:         order.GTC,
		HasPrice:    false,
		Price:       "",
		Qty:         "1",
		PlacedAt:    5,
	}
	encoded := EncodeSubmitOrder(msg)
	parsed, err := ParseMessage(encoded)
	require.NoError(t, err)
	submit := parsed.(*SubmitOrderMessage)
	assert.False(t, submit.HasPrice)

	req, err := submit.ToSubmitRequest()
	require.NoError(t, err)
	assert.Nil(t, req.Price)
}

func TestCancelOrder_EncodeParseRoundTrip(t *testing.T) {
	msg := CancelOrderMessage{
		baseMessage: baseMessage{TypeOf: CancelOrder},
		MarketID:    market.NewID("ETH", "USD"),
		OrderID:     id.NewOrderID(),
		AccountID:   id.NewAccountID(),
		ByAdmin:     true,
	}
	encoded := EncodeCancelOrder(msg)

	parsed, err := ParseMessage(encoded)
	require.NoError(t, err)
	cancel, ok := parsed.(*CancelOrderMessage)
	require.True(t, ok)
	assert.Equal(t, msg.MarketID, cancel.MarketID)
	assert.Equal(t, msg.OrderID, cancel.OrderID)
	assert.Equal(t, msg.AccountID, cancel.AccountID)
	assert.Equal(t, msg.ByAdmin, cancel.ByAdmin)
}

func TestParseMessage_RejectsUnknownType(t *testing.T) {
	_, err := ParseMessage([]byte{0xFF, 0xFF})
	assert.ErrorIs(t, err, ErrInvalidMessageType)
}

func TestParseMessage_RejectsTooShort(t *testing.T) {
	_, err := ParseMessage([]byte{0x00})
	assert.ErrorIs(t, err, ErrMessageTooShort)
}

func TestEventReport_EncodeParseRoundTrip(t *testing.T) {
	ev := event.Event{
		Kind:      event.KindOrderFilled,
		Sequence:  7,
		MarketID:  market.NewID("BTC", "USD"),
		Timestamp: 123,
		OrderFilled: &event.OrderFilled{
			OrderID:   id.NewOrderID(),
			FilledQty: xdecimal.MustQuantity(decimal.RequireFromString("3")),
		},
	}
	report, err := EncodeEventReport(ev)
	require.NoError(t, err)

	kind, decoded, errText, err := ParseReport(report)
	require.NoError(t, err)
	assert.Equal(t, ReportEvent, kind)
	assert.Empty(t, errText)
	assert.Equal(t, ev.Kind, decoded.Kind)
	assert.Equal(t, ev.Sequence, decoded.Sequence)
	assert.Equal(t, ev.OrderFilled.OrderID, decoded.OrderFilled.OrderID)
}

func TestErrorReport_EncodeParseRoundTrip(t *testing.T) {
	report := EncodeErrorReport("unknown order id")
	kind, _, errText, err := ParseReport(report)
	require.NoError(t, err)
	assert.Equal(t, ReportError, kind)
	assert.Equal(t, "unknown order id", errText)
}
