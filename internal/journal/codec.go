package journal

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"matchcore/internal/event"
	"matchcore/internal/id"
	"matchcore/internal/market"
	"matchcore/internal/order"
	"matchcore/internal/xdecimal"

	"github.com/shopspring/decimal"
)

// Encode canonically serializes ev into a flat byte payload: envelope
// fields, then a Kind-tagged case over exactly the one populated variant
// (spec.md §9 "exhaustive case analysis over vtables" — the codec mirrors
// the Event type's own no-interface design, switching on Kind rather than
// dispatching through per-variant Marshal methods). Every numeric field
// is fixed-width big-endian; every decimal and id is written as its
// canonical string/byte form so replay produces byte-identical frames
// from byte-identical inputs.
func Encode(ev event.Event) ([]byte, error) {
	var buf bytes.Buffer
	w := &errWriter{w: &buf}

	w.u8(uint8(ev.Kind))
	w.u64(ev.Sequence)
	w.str(ev.MarketID.String())
	w.i64(ev.Timestamp)

	switch ev.Kind {
	case event.KindOrderPlaced:
		p := ev.OrderPlaced
		w.id16(p.OrderID.Bytes())
		w.id16(p.AccountID.Bytes())
		w.u8(uint8(p.Side))
		w.u8(uint8(p.Type))
		w.optPrice(p.Price)
		w.qty(p.OriginalQty)
		w.qty(p.RemainingQty)
		w.u8(uint8(p.TIF))
	case event.KindOrderPartiallyFilled:
		f := ev.OrderPartiallyFilled
		w.id16(f.OrderID.Bytes())
		w.qty(f.FilledQty)
		w.qty(f.RemainingQty)
		w.price(f.LastFillPrice)
	case event.KindOrderFilled:
		f := ev.OrderFilled
		w.id16(f.OrderID.Bytes())
		w.qty(f.FilledQty)
	case event.KindOrderCanceled:
		c := ev.OrderCanceled
		w.id16(c.OrderID.Bytes())
		w.u8(uint8(c.Reason))
		w.qty(c.FilledQty)
		w.qty(c.UnfilledQty)
		w.bool(c.RequestedByAdmin)
	case event.KindTradeExecuted:
		t := ev.TradeExecuted
		w.id16(t.TradeID.Bytes())
		w.id16(t.MakerOrderID.Bytes())
		w.id16(t.TakerOrderID.Bytes())
		w.id16(t.MakerAccountID.Bytes())
		w.id16(t.TakerAccountID.Bytes())
		w.u8(uint8(t.Side))
		w.price(t.Price)
		w.qty(t.Quantity)
		w.dec(t.MakerFee)
		w.dec(t.TakerFee)
		w.u8(uint8(t.FeeAsset))
	case event.KindBalanceChanged:
		b := ev.BalanceChanged
		w.id16(b.AccountID.Bytes())
		w.str(b.Asset)
		w.dec(b.Total)
		w.dec(b.Available)
		w.dec(b.Locked)
		w.u64(b.Version)
	case event.KindRiskDecision:
		r := ev.RiskDecision
		w.id16(r.AccountID.Bytes())
		w.u8(uint8(r.Result))
		w.str(r.Detail)
	case event.KindSettlementFailed:
		s := ev.SettlementFailed
		w.id16(s.TradeID.Bytes())
		w.i64(int64(s.Attempts))
		w.str(s.Reason)
	default:
		return nil, fmt.Errorf("journal: unknown event kind %d", ev.Kind)
	}

	if w.err != nil {
		return nil, w.err
	}
	return buf.Bytes(), nil
}

// Decode is Encode's inverse.
func Decode(payload []byte) (event.Event, error) {
	r := &errReader{r: bytes.NewReader(payload)}

	var ev event.Event
	ev.Kind = event.Kind(r.u8())
	ev.Sequence = r.u64()
	ev.MarketID = market.ID(r.str())
	ev.Timestamp = r.i64()

	switch ev.Kind {
	case event.KindOrderPlaced:
		p := &event.OrderPlaced{}
		p.OrderID = id.OrderIDFromBytes(r.id16())
		p.AccountID = id.AccountIDFromBytes(r.id16())
		p.Side = order.Side(r.u8())
		p.Type = order.Type(r.u8())
		p.Price = r.optPrice()
		p.OriginalQty = r.qty()
		p.RemainingQty = r.qty()
		p.TIF = order.TimeInForce(r.u8())
		ev.OrderPlaced = p
	case event.KindOrderPartiallyFilled:
		f := &event.OrderPartiallyFilled{}
		f.OrderID = id.OrderIDFromBytes(r.id16())
		f.FilledQty = r.qty()
		f.RemainingQty = r.qty()
		f.LastFillPrice = r.price()
		ev.OrderPartiallyFilled = f
	case event.KindOrderFilled:
		f := &event.OrderFilled{}
		f.OrderID = id.OrderIDFromBytes(r.id16())
		f.FilledQty = r.qty()
		ev.OrderFilled = f
	case event.KindOrderCanceled:
		c := &event.OrderCanceled{}
		c.OrderID = id.OrderIDFromBytes(r.id16())
		c.Reason = order.RejectReason(r.u8())
		c.FilledQty = r.qty()
		c.UnfilledQty = r.qty()
		c.RequestedByAdmin = r.bool()
		ev.OrderCanceled = c
	case event.KindTradeExecuted:
		t := &event.TradeExecuted{}
		t.TradeID = id.TradeIDFromBytes(r.id16())
		t.MakerOrderID = id.OrderIDFromBytes(r.id16())
		t.TakerOrderID = id.OrderIDFromBytes(r.id16())
		t.MakerAccountID = id.AccountIDFromBytes(r.id16())
		t.TakerAccountID = id.AccountIDFromBytes(r.id16())
		t.Side = order.Side(r.u8())
		t.Price = r.price()
		t.Quantity = r.qty()
		t.MakerFee = r.dec()
		t.TakerFee = r.dec()
		t.FeeAsset = market.FeeAsset(r.u8())
		ev.TradeExecuted = t
	case event.KindBalanceChanged:
		b := &event.BalanceChanged{}
		b.AccountID = id.AccountIDFromBytes(r.id16())
		b.Asset = r.str()
		b.Total = r.dec()
		b.Available = r.dec()
		b.Locked = r.dec()
		b.Version = r.u64()
		ev.BalanceChanged = b
	case event.KindRiskDecision:
		rd := &event.RiskDecision{}
		rd.AccountID = id.AccountIDFromBytes(r.id16())
		rd.Result = event.RiskCheckResult(r.u8())
		rd.Detail = r.str()
		ev.RiskDecision = rd
	case event.KindSettlementFailed:
		s := &event.SettlementFailed{}
		s.TradeID = id.TradeIDFromBytes(r.id16())
		s.Attempts = int(r.i64())
		s.Reason = r.str()
		ev.SettlementFailed = s
	default:
		return event.Event{}, fmt.Errorf("journal: unknown event kind %d", ev.Kind)
	}

	if r.err != nil {
		return event.Event{}, r.err
	}
	return ev, nil
}

// errWriter/errReader accumulate the first error encountered across a
// sequence of writes/reads, so codec bodies above can read as a flat list
// of field calls instead of an if-err-returned chain per field.

type errWriter struct {
	w   io.Writer
	err error
}

func (w *errWriter) u8(v uint8) {
	if w.err != nil {
		return
	}
	w.err = binary.Write(w.w, binary.BigEndian, v)
}
func (w *errWriter) u64(v uint64) {
	if w.err != nil {
		return
	}
	w.err = binary.Write(w.w, binary.BigEndian, v)
}
func (w *errWriter) i64(v int64) {
	if w.err != nil {
		return
	}
	w.err = binary.Write(w.w, binary.BigEndian, v)
}
func (w *errWriter) bool(v bool) {
	if v {
		w.u8(1)
	} else {
		w.u8(0)
	}
}
func (w *errWriter) id16(b [16]byte) {
	if w.err != nil {
		return
	}
	_, w.err = w.w.Write(b[:])
}
func (w *errWriter) str(s string) {
	if w.err != nil {
		return
	}
	w.u64(uint64(len(s)))
	if w.err != nil {
		return
	}
	_, w.err = w.w.Write([]byte(s))
}
func (w *errWriter) dec(d decimal.Decimal) { w.str(d.String()) }
func (w *errWriter) price(p xdecimal.Price) { w.dec(p.Decimal()) }
func (w *errWriter) qty(q xdecimal.Quantity) { w.dec(q.Decimal()) }
func (w *errWriter) optPrice(p *xdecimal.Price) {
	if p == nil {
		w.bool(false)
		return
	}
	w.bool(true)
	w.price(*p)
}

type errReader struct {
	r   io.Reader
	err error
}

func (r *errReader) u8() uint8 {
	var v uint8
	if r.err != nil {
		return 0
	}
	r.err = binary.Read(r.r, binary.BigEndian, &v)
	return v
}
func (r *errReader) u64() uint64 {
	var v uint64
	if r.err != nil {
		return 0
	}
	r.err = binary.Read(r.r, binary.BigEndian, &v)
	return v
}
func (r *errReader) i64() int64 {
	var v int64
	if r.err != nil {
		return 0
	}
	r.err = binary.Read(r.r, binary.BigEndian, &v)
	return v
}
func (r *errReader) bool() bool { return r.u8() != 0 }
func (r *errReader) id16() [16]byte {
	var b [16]byte
	if r.err != nil {
		return b
	}
	_, r.err = io.ReadFull(r.r, b[:])
	return b
}
func (r *errReader) str() string {
	n := r.u64()
	if r.err != nil {
		return ""
	}
	b := make([]byte, n)
	_, r.err = io.ReadFull(r.r, b)
	return string(b)
}
func (r *errReader) dec() decimal.Decimal {
	s := r.str()
	if r.err != nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		r.err = err
		return decimal.Zero
	}
	return d
}
func (r *errReader) price() xdecimal.Price { return xdecimal.MustPrice(r.dec()) }
func (r *errReader) qty() xdecimal.Quantity { return xdecimal.MustQuantity(r.dec()) }
func (r *errReader) optPrice() *xdecimal.Price {
	if !r.bool() {
		return nil
	}
	p := r.price()
	return &p
}
