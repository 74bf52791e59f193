// Package snapshot implements point-in-time capture and recovery of a
// market's state (spec.md §4.9): the full book, every touched balance and
// its version, and the 30-day volume counters, canonically encoded,
// zstd-compressed, and CRC32C-footed.
package snapshot

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"matchcore/internal/book"
	"matchcore/internal/fees"
	"matchcore/internal/id"
	"matchcore/internal/ledger"
	"matchcore/internal/market"
	"matchcore/internal/order"
	"matchcore/internal/xdecimal"

	"github.com/klauspost/compress/zstd"
	"github.com/shopspring/decimal"
)

const magic = "XSNP"
const formatVersion = uint32(1)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// RestingOrder is one order's full footprint in the captured book,
// enough to rebuild both the book and the order index on recovery.
type RestingOrder struct {
	OrderID      id.OrderID
	AccountID    id.AccountID
	Side         order.Side
	Type         order.Type
	Price        *xdecimal.Price
	OriginalQty  xdecimal.Quantity
	RemainingQty xdecimal.Quantity
	TIF          order.TimeInForce
	PlacedAt     int64
	Sequence     uint64
}

// BalanceRow is one (account, asset) balance at snapshot time.
type BalanceRow struct {
	AccountID id.AccountID
	Asset     string
	Total     decimal.Decimal
	Available decimal.Decimal
	Locked    decimal.Decimal
	Version   uint64
}

// VolumeBucket is one account's one-day notional bucket, needed to
// reconstruct the rolling 30-day fee-tier window exactly (spec.md §4.7,
// §4.9 "snapshot captures ... 30-day volume counters").
type VolumeBucket struct {
	AccountID string
	DayEpoch  int64
	Notional  decimal.Decimal
}

// Snapshot is the full point-in-time capture for one market.
type Snapshot struct {
	MarketID     market.ID
	NextSequence uint64
	Orders       []RestingOrder // resting orders, best-first per side, then FIFO within a level
	Balances     []BalanceRow
	Volumes      []VolumeBucket
}

// Capture builds a Snapshot from live engine state. Callers pass in the
// pieces rather than an *matching.Engine directly so this package has no
// import-cycle dependency on matching. matching.Engine has no
// Snapshot-producing method, and its book, order index and volume tracker
// are unexported, so a caller must hold those pieces itself.
func Capture(marketID market.ID, nextSeq uint64, b *book.OrderBook, orders map[id.OrderID]*order.Order, balances []BalanceRow, volumes []VolumeBucket) Snapshot {
	var resting []RestingOrder
	for _, side := range []order.Side{order.Buy, order.Sell} {
		for _, lvl := range b.Levels(side) {
			for _, e := range lvl.Entries() {
				o, ok := orders[e.OrderID]
				if !ok {
					continue
				}
				resting = append(resting, RestingOrder{
					OrderID:      o.OrderID,
					AccountID:    o.AccountID,
					Side:         o.Side,
					Type:         o.Type,
					Price:        o.Price,
					OriginalQty:  o.OriginalQty,
					RemainingQty: o.RemainingQty,
					TIF:          o.TIF,
					PlacedAt:     o.PlacedAt,
					Sequence:     o.Sequence,
				})
			}
		}
	}
	return Snapshot{
		MarketID:     marketID,
		NextSequence: nextSeq,
		Orders:       resting,
		Balances:     balances,
		Volumes:      volumes,
	}
}

// WriteFile canonically encodes snap, compresses it with zstd, and writes
// it to path with a CRC32C footer over the compressed bytes. Compression
// has no bearing on determinism, since decompression is exact.
func WriteFile(path string, snap Snapshot) error {
	raw, err := encode(snap)
	if err != nil {
		return fmt.Errorf("snapshot: encode: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return fmt.Errorf("snapshot: new zstd writer: %w", err)
	}
	compressed := enc.EncodeAll(raw, nil)
	enc.Close()

	var out bytes.Buffer
	out.WriteString(magic)
	binary.Write(&out, binary.BigEndian, formatVersion)
	binary.Write(&out, binary.BigEndian, uint64(len(compressed)))
	out.Write(compressed)
	crc := crc32.Checksum(compressed, crcTable)
	binary.Write(&out, binary.BigEndian, crc)

	return os.WriteFile(path, out.Bytes(), 0o644)
}

// ReadFile is WriteFile's inverse, validating the CRC footer before
// decompressing and decoding.
func ReadFile(path string) (Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: read %s: %w", path, err)
	}
	r := bytes.NewReader(raw)

	magicBuf := make([]byte, len(magic))
	if _, err := io.ReadFull(r, magicBuf); err != nil || string(magicBuf) != magic {
		return Snapshot{}, fmt.Errorf("snapshot: bad magic")
	}
	var version uint32
	binary.Read(r, binary.BigEndian, &version)
	var n uint64
	binary.Read(r, binary.BigEndian, &n)
	compressed := make([]byte, n)
	if _, err := io.ReadFull(r, compressed); err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: truncated body: %w", err)
	}
	var storedCRC uint32
	if err := binary.Read(r, binary.BigEndian, &storedCRC); err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: truncated footer: %w", err)
	}
	if crc32.Checksum(compressed, crcTable) != storedCRC {
		return Snapshot{}, fmt.Errorf("snapshot: crc mismatch")
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: new zstd reader: %w", err)
	}
	defer dec.Close()
	body, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: decompress: %w", err)
	}
	return decode(body)
}

// Restore rebuilds a live book and order index from a Snapshot, and
// returns the balance/volume rows for the caller to push back into a
// Ledger and a fees.Tracker (kept out of this package to avoid a
// dependency from snapshot on ledger's optimistic-write API; recovery
// wires them together explicitly).
func Restore(snap Snapshot) (*book.OrderBook, map[id.OrderID]*order.Order) {
	b := book.New()
	orders := make(map[id.OrderID]*order.Order)
	for _, ro := range snap.Orders {
		o := &order.Order{
			OrderID:      ro.OrderID,
			AccountID:    ro.AccountID,
			MarketID:     snap.MarketID,
			Side:         ro.Side,
			Type:         ro.Type,
			Price:        ro.Price,
			OriginalQty:  ro.OriginalQty,
			RemainingQty: ro.RemainingQty,
			TIF:          ro.TIF,
			State:        order.PartiallyFilled,
			PlacedAt:     ro.PlacedAt,
			Sequence:     ro.Sequence,
		}
		if ro.RemainingQty.Equal(ro.OriginalQty) {
			o.State = order.New
		}
		orders[o.OrderID] = o
		b.Rest(o.Side, *o.Price, book.Entry{OrderID: o.OrderID, AccountID: o.AccountID, RemainingQty: o.RemainingQty})
	}
	return b, orders
}

// RestoreLedger replays snap's balance rows into l, and snap's volume
// buckets into a fresh fees.Tracker, returning it.
func RestoreLedger(snap Snapshot, l *ledger.Ledger) *fees.Tracker {
	for _, row := range snap.Balances {
		l.Restore(ledger.Balance{
			AccountID: row.AccountID,
			Asset:     row.Asset,
			Total:     row.Total,
			Available: row.Available,
			Locked:    row.Locked,
			Version:   row.Version,
		})
	}
	tracker := fees.NewTracker()
	for _, vb := range snap.Volumes {
		tracker.Record(vb.AccountID, vb.DayEpoch, vb.Notional)
	}
	return tracker
}
