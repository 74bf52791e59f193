package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"matchcore/internal/id"
	"matchcore/internal/ledger"
	"matchcore/internal/market"
	"matchcore/internal/order"
	"matchcore/internal/xdecimal"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustPrice(s string) xdecimal.Price {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return xdecimal.MustPrice(d)
}

func mustQty(s string) xdecimal.Quantity {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return xdecimal.MustQuantity(d)
}

func sampleSnapshot() Snapshot {
	acct := id.NewAccountID()
	return Snapshot{
		MarketID:     market.NewID("BTC", "USD"),
		NextSequence: 42,
		Orders: []RestingOrder{
			{
				OrderID:      id.NewOrderID(),
				AccountID:    acct,
				Side:         order.Buy,
				Type:         order.Limit,
				Price:        ptr(mustPrice("100")),
				OriginalQty:  mustQty("5"),
				RemainingQty: mustQty("2"),
				TIF:          order.GTC,
				PlacedAt:     1700000000,
				Sequence:     1,
			},
		},
		Balances: []BalanceRow{
			{AccountID: acct, Asset: "USD", Total: decimal.NewFromInt(1000), Available: decimal.NewFromInt(800), Locked: decimal.NewFromInt(200), Version: 3},
		},
		Volumes: []VolumeBucket{
			{AccountID: acct.String(), DayEpoch: 19600, Notional: decimal.NewFromInt(500)},
		},
	}
}

func ptr[T any](v T) *T { return &v }

func TestEncodeDecode_RoundTrip(t *testing.T) {
	snap := sampleSnapshot()
	raw, err := encode(snap)
	require.NoError(t, err)

	decoded, err := decode(raw)
	require.NoError(t, err)
	assert.Equal(t, snap.MarketID, decoded.MarketID)
	assert.Equal(t, snap.NextSequence, decoded.NextSequence)
	require.Len(t, decoded.Orders, 1)
	assert.Equal(t, snap.Orders[0].OrderID, decoded.Orders[0].OrderID)
	assert.True(t, decoded.Orders[0].RemainingQty.Equal(snap.Orders[0].RemainingQty))
	require.Len(t, decoded.Balances, 1)
	assert.True(t, decoded.Balances[0].Total.Equal(snap.Balances[0].Total))
	require.Len(t, decoded.Volumes, 1)
	assert.True(t, decoded.Volumes[0].Notional.Equal(snap.Volumes[0].Notional))
}

func TestWriteReadFile_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snap.bin")
	snap := sampleSnapshot()

	require.NoError(t, WriteFile(path, snap))
	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, snap.MarketID, got.MarketID)
	assert.Equal(t, snap.NextSequence, got.NextSequence)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, magic, string(raw[:len(magic)]), "file must start with the snapshot magic")
}

func TestReadFile_RejectsCorruptCRC(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snap.bin")
	require.NoError(t, WriteFile(path, sampleSnapshot()))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	_, err = ReadFile(path)
	assert.Error(t, err)
}

func TestRestore_RebuildsBookAndOrderIndex(t *testing.T) {
	snap := sampleSnapshot()
	b, orders := Restore(snap)

	require.Len(t, orders, 1)
	restored := orders[snap.Orders[0].OrderID]
	require.NotNil(t, restored)
	assert.Equal(t, order.PartiallyFilled, restored.State, "remaining < original means partially filled")
	assert.True(t, b.Has(snap.Orders[0].OrderID))

	bidPrice, bidQty, ok := b.BestBid()
	require.True(t, ok)
	assert.True(t, bidPrice.Equal(mustPrice("100")))
	assert.True(t, bidQty.Equal(mustQty("2")))
}

func TestRestoreLedger_RebuildsBalancesAndVolumes(t *testing.T) {
	snap := sampleSnapshot()
	l := ledger.New()
	tracker := RestoreLedger(snap, l)

	bal := l.Get(snap.Balances[0].AccountID, "USD")
	assert.True(t, bal.Total.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, uint64(3), bal.Version)

	vol := tracker.Volume(snap.Volumes[0].AccountID, snap.Volumes[0].DayEpoch)
	assert.True(t, vol.Equal(decimal.NewFromInt(500)))
}
