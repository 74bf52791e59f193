// Package replay implements the recovery/replay driver (spec.md §4.9
// step 2, §4.10 "Replay determinism"): re-admitting journaled orders
// through the normal Submit path in sequence order and verifying the
// events produced against what was journaled. The check covers each
// event's sequence, kind, market and timestamp, a cancel's reason, and a
// trade's price and quantity; other payload fields are not compared.
package replay

import (
	"fmt"
	"io"

	"matchcore/internal/event"
	"matchcore/internal/id"
	"matchcore/internal/journal"
	"matchcore/internal/matching"
	"matchcore/internal/order"

	"github.com/rs/zerolog"
)

// Mismatch describes one point where replayed output diverged from the
// journal (spec.md §4.10: "halt on the first mismatch; never paper over
// a divergence").
type Mismatch struct {
	Sequence uint64
	Expected event.Event
	Got      event.Event
	Reason   string
}

func (m Mismatch) Error() string {
	return fmt.Sprintf("replay: mismatch at sequence %d: %s", m.Sequence, m.Reason)
}

// Result summarizes a replay run.
type Result struct {
	RecordsReplayed int
	EventsVerified  int
}

// Driver replays a journal file against a fresh Engine rebuilt from a
// snapshot (or from empty state, for a from-scratch replay test).
type Driver struct {
	engine *matching.Engine
	log    zerolog.Logger
	owners map[id.OrderID]id.AccountID // populated as OrderPlaced records are resubmitted
}

// New builds a replay driver over engine, which must already reflect
// whatever snapshot the journal picks up after (or be empty, to replay a
// journal from its start).
func New(engine *matching.Engine, log zerolog.Logger) *Driver {
	return &Driver{
		engine: engine,
		log:    log.With().Str("component", "replay").Logger(),
		owners: make(map[id.OrderID]id.AccountID),
	}
}

// Run reads every record from r in order. For each OrderPlaced it
// re-admits the order via Submit; for each owner- or admin-requested
// OrderCanceled it re-issues the cancel via Engine.Cancel — every other
// record (trades, fills, balance changes, TIF/self-trade/post-only
// cancels) is reproduced as a side effect of one of those two calls, never
// replayed directly. It compares the engine's freshly-produced events
// against the journaled events at the same sequence range, and stops at
// the first mismatch or the first corrupt record, returning whatever it
// verified so far plus the error. Once the journal is exhausted, any
// record left in pending means something in the journal was never
// reproduced by a replayed command — surfaced as an error rather than
// silently dropped (spec.md §4.10).
func (d *Driver) Run(r *journal.Reader) (Result, error) {
	var res Result
	pending := map[uint64]event.Event{} // sequence -> journaled event, for lookup as replay produces its own

	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return res, fmt.Errorf("replay: read journal: %w", err)
		}
		pending[rec.Sequence] = rec.Event
		res.RecordsReplayed++

		produced, replayed, err := d.dispatch(rec.Event)
		if err != nil {
			return res, err
		}
		if !replayed {
			continue
		}

		// One dispatched call can produce events (trades, balance
		// changes, fill reports) whose sequences run well past the
		// record that just triggered it — they were journaled right
		// after it, but this reader hasn't reached them yet. Read ahead
		// until every sequence the call produced has a journaled
		// counterpart in pending, so the comparison below never sees a
		// false "no journaled event at this sequence" for an event that
		// is simply still further down the file.
		maxSeq := rec.Sequence
		for _, ev := range produced {
			if ev.Sequence > maxSeq {
				maxSeq = ev.Sequence
			}
		}
		for rec.Sequence < maxSeq {
			rec, err = r.Next()
			if err != nil {
				if err == io.EOF {
					return res, fmt.Errorf("replay: journal ended before expected sequence %d", maxSeq)
				}
				return res, fmt.Errorf("replay: read journal: %w", err)
			}
			pending[rec.Sequence] = rec.Event
			res.RecordsReplayed++
		}

		for _, ev := range produced {
			expected, ok := pending[ev.Sequence]
			if !ok {
				return res, Mismatch{Sequence: ev.Sequence, Got: ev, Reason: "no journaled event at this sequence"}
			}
			if mismatch := compare(expected, ev); mismatch != "" {
				return res, Mismatch{Sequence: ev.Sequence, Expected: expected, Got: ev, Reason: mismatch}
			}
			delete(pending, ev.Sequence)
			res.EventsVerified++
		}
	}

	if len(pending) != 0 {
		var minSeq uint64
		first := true
		for seq := range pending {
			if first || seq < minSeq {
				minSeq = seq
				first = false
			}
		}
		return res, Mismatch{Sequence: minSeq, Expected: pending[minSeq], Reason: "record was never reproduced by any replayed command"}
	}
	return res, nil
}

// dispatch resubmits or re-cancels rec, reporting the events the replayed
// call produced. replayed is false for records that are never directly
// replayed (they're consequences of some other order's admission or
// cancel and are verified when that call's output is compared).
func (d *Driver) dispatch(rec event.Event) (produced []event.Event, replayed bool, err error) {
	switch rec.Kind {
	case event.KindOrderPlaced:
		placed := rec.OrderPlaced
		d.owners[placed.OrderID] = placed.AccountID
		produced, err = d.resubmit(placed, rec.Timestamp)
		return produced, true, err

	case event.KindOrderCanceled:
		reason := rec.OrderCanceled.Reason
		if reason != order.ReasonCanceledByOwner && reason != order.ReasonCanceledByAdmin {
			// Every other cancel reason (IOC/FOK remainder, post-only
			// reject, self-trade) is derived internally by run() as a
			// consequence of admission and is already reproduced by the
			// OrderPlaced resubmit for that order.
			return nil, false, nil
		}
		owner := d.owners[rec.OrderCanceled.OrderID]
		byAdmin := reason == order.ReasonCanceledByAdmin
		produced, err = d.engine.Cancel(rec.OrderCanceled.OrderID, owner, byAdmin, rec.Timestamp)
		if err != nil {
			return nil, true, fmt.Errorf("replay: re-cancel order %s: %w", rec.OrderCanceled.OrderID, err)
		}
		return produced, true, nil

	default:
		return nil, false, nil
	}
}

func (d *Driver) resubmit(p *event.OrderPlaced, at int64) ([]event.Event, error) {
	req := matching.SubmitRequest{
		OrderID:   p.OrderID,
		AccountID: p.AccountID,
		Side:      p.Side,
		Type:      p.Type,
		Price:     p.Price,
		Qty:       p.OriginalQty,
		TIF:       p.TIF,
		PlacedAt:  at,
	}
	_, events, err := d.engine.Submit(req)
	return events, err
}

// compare reports a human-readable description of the first field that
// differs between expected and got, or "" if they match. Sequence and
// Timestamp are compared as part of the envelope; a divergence there is
// as fatal as a payload divergence, since both are supposed to be
// perfectly reproducible under replay (spec.md §4.4 determinism rules).
func compare(expected, got event.Event) string {
	if expected.Kind != got.Kind {
		return fmt.Sprintf("kind: expected %s, got %s", expected.Kind, got.Kind)
	}
	if expected.MarketID != got.MarketID {
		return fmt.Sprintf("market_id: expected %s, got %s", expected.MarketID, got.MarketID)
	}
	if expected.Timestamp != got.Timestamp {
		return fmt.Sprintf("timestamp: expected %d, got %d", expected.Timestamp, got.Timestamp)
	}
	switch expected.Kind {
	case event.KindOrderCanceled:
		if expected.OrderCanceled.Reason != got.OrderCanceled.Reason {
			return fmt.Sprintf("cancel reason: expected %s, got %s", expected.OrderCanceled.Reason, got.OrderCanceled.Reason)
		}
	case event.KindTradeExecuted:
		if !expected.TradeExecuted.Price.Equal(got.TradeExecuted.Price) || !expected.TradeExecuted.Quantity.Equal(got.TradeExecuted.Quantity) {
			return "trade price/quantity diverged"
		}
	}
	return ""
}
