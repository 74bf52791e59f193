package matching

import (
	"testing"

	"matchcore/internal/order"
	"matchcore/internal/xdecimal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustPrice(t *testing.T, s string) xdecimal.Price {
	t.Helper()
	p, err := xdecimal.ParsePrice(s)
	require.NoError(t, err)
	return p
}

func TestCrosses_Buy(t *testing.T) {
	assert.True(t, Crosses(order.Buy, mustPrice(t, "100"), mustPrice(t, "99")))
	assert.True(t, Crosses(order.Buy, mustPrice(t, "100"), mustPrice(t, "100")))
	assert.False(t, Crosses(order.Buy, mustPrice(t, "100"), mustPrice(t, "101")))
}

func TestCrosses_Sell(t *testing.T) {
	assert.True(t, Crosses(order.Sell, mustPrice(t, "99"), mustPrice(t, "100")))
	assert.True(t, Crosses(order.Sell, mustPrice(t, "100"), mustPrice(t, "100")))
	assert.False(t, Crosses(order.Sell, mustPrice(t, "101"), mustPrice(t, "100")))
}
