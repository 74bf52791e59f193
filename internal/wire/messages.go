// Package wire implements the TCP gateway: the binary request/report
// protocol and the connection-handling server, generalized from the
// teacher's internal/net package to carry matching-core submit/cancel
// requests and journal-encoded event reports instead of the teacher's
// fixed equities order shape.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"matchcore/internal/event"
	"matchcore/internal/id"
	"matchcore/internal/journal"
	"matchcore/internal/market"
	"matchcore/internal/matching"
	"matchcore/internal/order"
	"matchcore/internal/xdecimal"
)

var (
	ErrInvalidMessageType = errors.New("wire: invalid message type")
	ErrMessageTooShort    = errors.New("wire: message too short")
)

type MessageType uint16

const (
	Heartbeat MessageType = iota
	SubmitOrder
	CancelOrder
)

// Message is any client-to-gateway request.
type Message interface {
	GetType() MessageType
}

type baseMessage struct{ TypeOf MessageType }

func (m baseMessage) GetType() MessageType { return m.TypeOf }

const baseHeaderLen = 2

// ParseMessage decodes a raw inbound frame (2-byte type tag followed by a
// type-specific body).
func ParseMessage(msg []byte) (Message, error) {
	if len(msg) < baseHeaderLen {
		return nil, ErrMessageTooShort
	}
	typeOf := MessageType(binary.BigEndian.Uint16(msg[0:2]))
	body := msg[2:]
	switch typeOf {
	case SubmitOrder:
		return parseSubmitOrder(body)
	case CancelOrder:
		return parseCancelOrder(body)
	default:
		return nil, ErrInvalidMessageType
	}
}

// SubmitOrderMessage is the wire form of matching.SubmitRequest.
type SubmitOrderMessage struct {
	baseMessage
	MarketID  market.ID
	AccountID id.AccountID
	Side      order.Side
	Type      order.Type
	TIF       order.TimeInForce
	HasPrice  bool
	Price     string
	Qty       string
	PlacedAt  int64
}

// ToSubmitRequest converts the wire message into the engine-facing
// request, parsing its decimal fields.
func (m *SubmitOrderMessage) ToSubmitRequest() (matching.SubmitRequest, error) {
	qty, err := xdecimal.ParseQuantity(m.Qty)
	if err != nil {
		return matching.SubmitRequest{}, fmt.Errorf("wire: parse quantity: %w", err)
	}
	var price *xdecimal.Price
	if m.HasPrice {
		p, err := xdecimal.ParsePrice(m.Price)
		if err != nil {
			return matching.SubmitRequest{}, fmt.Errorf("wire: parse price: %w", err)
		}
		price = &p
	}
	return matching.SubmitRequest{
		AccountID: m.AccountID,
		Side:      m.Side,
		Type:      m.Type,
		Price:     price,
		Qty:       qty,
		TIF:       m.TIF,
		PlacedAt:  m.PlacedAt,
	}, nil
}

const submitFixedLen = 16 + 1 + 1 + 1 + 1 + 8 // account + side + type + tif + hasPrice + placedAt, before the two length-prefixed decimal strings

func parseSubmitOrder(msg []byte) (*SubmitOrderMessage, error) {
	if len(msg) < 4 {
		return nil, ErrMessageTooShort
	}
	marketLen := binary.BigEndian.Uint32(msg[0:4])
	if len(msg) < 4+int(marketLen)+submitFixedLen+8 {
		return nil, ErrMessageTooShort
	}
	m := &SubmitOrderMessage{baseMessage: baseMessage{TypeOf: SubmitOrder}}
	m.MarketID = market.ID(msg[4 : 4+marketLen])
	msg = msg[4+marketLen:]

	var accountBytes [16]byte
	copy(accountBytes[:], msg[0:16])
	m.AccountID = id.AccountIDFromBytes(accountBytes)
	off := 16
	m.Side = order.Side(msg[off])
	off++
	m.Type = order.Type(msg[off])
	off++
	m.TIF = order.TimeInForce(msg[off])
	off++
	m.HasPrice = msg[off] != 0
	off++
	m.PlacedAt = int64(binary.BigEndian.Uint64(msg[off : off+8]))
	off += 8

	priceLen := binary.BigEndian.Uint32(msg[off : off+4])
	off += 4
	if len(msg) < off+int(priceLen) {
		return nil, ErrMessageTooShort
	}
	m.Price = string(msg[off : off+int(priceLen)])
	off += int(priceLen)

	if len(msg) < off+4 {
		return nil, ErrMessageTooShort
	}
	qtyLen := binary.BigEndian.Uint32(msg[off : off+4])
	off += 4
	if len(msg) < off+int(qtyLen) {
		return nil, ErrMessageTooShort
	}
	m.Qty = string(msg[off : off+int(qtyLen)])

	return m, nil
}

// EncodeSubmitOrder is the client-side counterpart to parseSubmitOrder.
func EncodeSubmitOrder(m SubmitOrderMessage) []byte {
	price := m.Price
	marketID := string(m.MarketID)
	buf := make([]byte, 0, baseHeaderLen+4+len(marketID)+submitFixedLen+4+len(price)+4+len(m.Qty))
	header := make([]byte, 2)
	binary.BigEndian.PutUint16(header, uint16(SubmitOrder))
	buf = append(buf, header...)

	marketLen := make([]byte, 4)
	binary.BigEndian.PutUint32(marketLen, uint32(len(marketID)))
	buf = append(buf, marketLen...)
	buf = append(buf, []byte(marketID)...)

	accountBytes := m.AccountID.Bytes()
	buf = append(buf, accountBytes[:]...)
	buf = append(buf, byte(m.Side), byte(m.Type), byte(m.TIF))
	if m.HasPrice {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	placedAt := make([]byte, 8)
	binary.BigEndian.PutUint64(placedAt, uint64(m.PlacedAt))
	buf = append(buf, placedAt...)

	priceLen := make([]byte, 4)
	binary.BigEndian.PutUint32(priceLen, uint32(len(price)))
	buf = append(buf, priceLen...)
	buf = append(buf, []byte(price)...)

	qtyLen := make([]byte, 4)
	binary.BigEndian.PutUint32(qtyLen, uint32(len(m.Qty)))
	buf = append(buf, qtyLen...)
	buf = append(buf, []byte(m.Qty)...)
	return buf
}

// CancelOrderMessage is the wire form of a cancel request.
type CancelOrderMessage struct {
	baseMessage
	MarketID  market.ID
	OrderID   id.OrderID
	AccountID id.AccountID
	ByAdmin   bool
}

const cancelMessageLen = 16 + 16 + 1

func parseCancelOrder(msg []byte) (*CancelOrderMessage, error) {
	if len(msg) < 4 {
		return nil, ErrMessageTooShort
	}
	marketLen := binary.BigEndian.Uint32(msg[0:4])
	if len(msg) < 4+int(marketLen)+cancelMessageLen {
		return nil, ErrMessageTooShort
	}
	marketID := market.ID(msg[4 : 4+marketLen])
	msg = msg[4+marketLen:]

	var orderBytes, accountBytes [16]byte
	copy(orderBytes[:], msg[0:16])
	copy(accountBytes[:], msg[16:32])
	return &CancelOrderMessage{
		baseMessage: baseMessage{TypeOf: CancelOrder},
		MarketID:    marketID,
		OrderID:     id.OrderIDFromBytes(orderBytes),
		AccountID:   id.AccountIDFromBytes(accountBytes),
		ByAdmin:     msg[32] != 0,
	}, nil
}

// EncodeCancelOrder is the client-side counterpart to parseCancelOrder.
func EncodeCancelOrder(m CancelOrderMessage) []byte {
	marketID := string(m.MarketID)
	buf := make([]byte, 0, baseHeaderLen+4+len(marketID)+cancelMessageLen)
	header := make([]byte, 2)
	binary.BigEndian.PutUint16(header, uint16(CancelOrder))
	buf = append(buf, header...)

	marketLen := make([]byte, 4)
	binary.BigEndian.PutUint32(marketLen, uint32(len(marketID)))
	buf = append(buf, marketLen...)
	buf = append(buf, []byte(marketID)...)

	body := make([]byte, cancelMessageLen)
	orderBytes := m.OrderID.Bytes()
	accountBytes := m.AccountID.Bytes()
	copy(body[0:16], orderBytes[:])
	copy(body[16:32], accountBytes[:])
	if m.ByAdmin {
		body[32] = 1
	}
	buf = append(buf, body...)
	return buf
}

// ReportKind distinguishes an event report from a gateway-level error
// report (a parse failure, an unknown order on cancel) that never made it
// into an engine event.
type ReportKind uint8

const (
	ReportEvent ReportKind = iota
	ReportError
)

// EncodeEventReport wraps one engine event in the journal's canonical
// encoding, reusing Encode/Decode so the wire format and the journal
// format never drift apart — a client and a replay reader parse the same
// bytes.
func EncodeEventReport(ev event.Event) ([]byte, error) {
	payload, err := journal.Encode(ev)
	if err != nil {
		return nil, fmt.Errorf("wire: encode event report: %w", err)
	}
	buf := make([]byte, 0, 1+4+len(payload))
	buf = append(buf, byte(ReportEvent))
	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(payload)))
	buf = append(buf, length...)
	buf = append(buf, payload...)
	return buf, nil
}

// EncodeErrorReport wraps a gateway-level error string.
func EncodeErrorReport(msg string) []byte {
	buf := make([]byte, 0, 1+4+len(msg))
	buf = append(buf, byte(ReportError))
	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(msg)))
	buf = append(buf, length...)
	buf = append(buf, []byte(msg)...)
	return buf
}

// ParseReport decodes whatever EncodeEventReport/EncodeErrorReport wrote —
// used by cmd/client to render gateway responses.
func ParseReport(msg []byte) (kind ReportKind, event_ event.Event, errText string, err error) {
	if len(msg) < 5 {
		return 0, event.Event{}, "", ErrMessageTooShort
	}
	kind = ReportKind(msg[0])
	length := binary.BigEndian.Uint32(msg[1:5])
	if uint32(len(msg)-5) < length {
		return 0, event.Event{}, "", ErrMessageTooShort
	}
	body := msg[5 : 5+length]
	switch kind {
	case ReportEvent:
		ev, err := journal.Decode(body)
		return kind, ev, "", err
	case ReportError:
		return kind, event.Event{}, string(body), nil
	default:
		return 0, event.Event{}, "", ErrInvalidMessageType
	}
}
