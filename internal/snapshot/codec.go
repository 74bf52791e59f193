package snapshot

import (
	"bytes"
	"encoding/binary"
	"io"

	"matchcore/internal/id"
	"matchcore/internal/market"
	"matchcore/internal/order"
	"matchcore/internal/xdecimal"

	"github.com/shopspring/decimal"
)

// encode/decode mirror internal/journal's codec style (flat field
// sequence over a small error-accumulating writer/reader) rather than a
// general-purpose serialization library, since the snapshot format needs
// the same canonical-bytes-in, canonical-bytes-out guarantee the journal
// does and the shapes being encoded are unrelated enough not to share a
// single codec package.

type w struct {
	buf bytes.Buffer
	err error
}

func (x *w) u8(v uint8) {
	if x.err != nil {
		return
	}
	x.err = binary.Write(&x.buf, binary.BigEndian, v)
}
func (x *w) u32(v uint32) {
	if x.err != nil {
		return
	}
	x.err = binary.Write(&x.buf, binary.BigEndian, v)
}
func (x *w) u64(v uint64) {
	if x.err != nil {
		return
	}
	x.err = binary.Write(&x.buf, binary.BigEndian, v)
}
func (x *w) i64(v int64) {
	if x.err != nil {
		return
	}
	x.err = binary.Write(&x.buf, binary.BigEndian, v)
}
func (x *w) bytes16(b [16]byte) {
	if x.err != nil {
		return
	}
	x.buf.Write(b[:])
}
func (x *w) str(s string) {
	x.u64(uint64(len(s)))
	if x.err != nil {
		return
	}
	x.buf.WriteString(s)
}
func (x *w) dec(d decimal.Decimal) { x.str(d.String()) }
func (x *w) optPrice(p *xdecimal.Price) {
	if p == nil {
		x.u8(0)
		return
	}
	x.u8(1)
	x.dec(p.Decimal())
}

type r struct {
	br  *bytes.Reader
	err error
}

func (x *r) u8() uint8 {
	var v uint8
	if x.err != nil {
		return 0
	}
	x.err = binary.Read(x.br, binary.BigEndian, &v)
	return v
}
func (x *r) u32() uint32 {
	var v uint32
	if x.err != nil {
		return 0
	}
	x.err = binary.Read(x.br, binary.BigEndian, &v)
	return v
}
func (x *r) u64() uint64 {
	var v uint64
	if x.err != nil {
		return 0
	}
	x.err = binary.Read(x.br, binary.BigEndian, &v)
	return v
}
func (x *r) i64() int64 {
	var v int64
	if x.err != nil {
		return 0
	}
	x.err = binary.Read(x.br, binary.BigEndian, &v)
	return v
}
func (x *r) bytes16() [16]byte {
	var b [16]byte
	if x.err != nil {
		return b
	}
	_, x.err = io.ReadFull(x.br, b[:])
	return b
}
func (x *r) str() string {
	n := x.u64()
	if x.err != nil {
		return ""
	}
	b := make([]byte, n)
	_, x.err = io.ReadFull(x.br, b)
	return string(b)
}
func (x *r) dec() decimal.Decimal {
	s := x.str()
	if x.err != nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		x.err = err
	}
	return d
}
func (x *r) optPrice() *xdecimal.Price {
	if x.u8() == 0 {
		return nil
	}
	p := xdecimal.MustPrice(x.dec())
	return &p
}

func encode(s Snapshot) ([]byte, error) {
	out := &w{}
	out.str(s.MarketID.String())
	out.u64(s.NextSequence)

	out.u64(uint64(len(s.Orders)))
	for _, o := range s.Orders {
		out.bytes16(o.OrderID.Bytes())
		out.bytes16(o.AccountID.Bytes())
		out.u8(uint8(o.Side))
		out.u8(uint8(o.Type))
		out.optPrice(o.Price)
		out.dec(o.OriginalQty.Decimal())
		out.dec(o.RemainingQty.Decimal())
		out.u8(uint8(o.TIF))
		out.i64(o.PlacedAt)
		out.u64(o.Sequence)
	}

	out.u64(uint64(len(s.Balances)))
	for _, b := range s.Balances {
		out.bytes16(b.AccountID.Bytes())
		out.str(b.Asset)
		out.dec(b.Total)
		out.dec(b.Available)
		out.dec(b.Locked)
		out.u64(b.Version)
	}

	out.u64(uint64(len(s.Volumes)))
	for _, v := range s.Volumes {
		out.str(v.AccountID)
		out.i64(v.DayEpoch)
		out.dec(v.Notional)
	}

	if out.err != nil {
		return nil, out.err
	}
	return out.buf.Bytes(), nil
}

func decode(raw []byte) (Snapshot, error) {
	in := &r{br: bytes.NewReader(raw)}
	var s Snapshot
	s.MarketID = market.ID(in.str())
	s.NextSequence = in.u64()

	numOrders := in.u64()
	for i := uint64(0); i < numOrders && in.err == nil; i++ {
		var o RestingOrder
		o.OrderID = id.OrderIDFromBytes(in.bytes16())
		o.AccountID = id.AccountIDFromBytes(in.bytes16())
		o.Side = order.Side(in.u8())
		o.Type = order.Type(in.u8())
		o.Price = in.optPrice()
		o.OriginalQty = xdecimal.MustQuantity(in.dec())
		o.RemainingQty = xdecimal.MustQuantity(in.dec())
		o.TIF = order.TimeInForce(in.u8())
		o.PlacedAt = in.i64()
		o.Sequence = in.u64()
		s.Orders = append(s.Orders, o)
	}

	numBalances := in.u64()
	for i := uint64(0); i < numBalances && in.err == nil; i++ {
		var b BalanceRow
		b.AccountID = id.AccountIDFromBytes(in.bytes16())
		b.Asset = in.str()
		b.Total = in.dec()
		b.Available = in.dec()
		b.Locked = in.dec()
		b.Version = in.u64()
		s.Balances = append(s.Balances, b)
	}

	numVolumes := in.u64()
	for i := uint64(0); i < numVolumes && in.err == nil; i++ {
		var v VolumeBucket
		v.AccountID = in.str()
		v.DayEpoch = in.i64()
		v.Notional = in.dec()
		s.Volumes = append(s.Volumes, v)
	}

	if in.err != nil {
		return Snapshot{}, in.err
	}
	return s, nil
}
