package matching

import (
	"time"

	"matchcore/internal/book"
	"matchcore/internal/event"
	"matchcore/internal/fees"
	"matchcore/internal/id"
	"matchcore/internal/market"
	"matchcore/internal/order"
	"matchcore/internal/settlement"
	"matchcore/internal/xdecimal"

	"github.com/shopspring/decimal"
)

// run walks an admitted order through TIF resolution and the taker loop
// (spec.md §4.4 steps 2-7).
func (e *Engine) run(o *order.Order) []event.Event {
	var events []event.Event

	if o.TIF == order.PostOnly && e.wouldCross(o) {
		e.unlockRemainder(o)
		events = append(events, e.cancelRemainder(o, order.ReasonPostOnlyReject, o.PlacedAt, false))
		return events
	}

	if o.TIF == order.FOK {
		var limitPrice *xdecimal.Price
		if o.Type == order.Limit {
			limitPrice = o.Price
		}
		available, selfTrade := e.scanDepth(o.Side, limitPrice, o.RemainingQty, o.AccountID)
		blockedBySelfTrade := e.cfg.SelfTradePolicy == market.RejectSelfTrade && selfTrade
		if available.LT(o.RemainingQty) || blockedBySelfTrade {
			e.unlockRemainder(o)
			reason := order.ReasonFOKInsufficient
			if blockedBySelfTrade {
				reason = order.ReasonSelfTrade
			}
			events = append(events, e.cancelRemainder(o, reason, o.PlacedAt, false))
			return events
		}
	} else if e.cfg.SelfTradePolicy == market.RejectSelfTrade {
		var limitPrice *xdecimal.Price
		if o.Type == order.Limit {
			limitPrice = o.Price
		}
		if _, selfTrade := e.scanDepth(o.Side, limitPrice, o.RemainingQty, o.AccountID); selfTrade {
			e.unlockRemainder(o)
			events = append(events, e.cancelRemainder(o, order.ReasonSelfTrade, o.PlacedAt, false))
			return events
		}
	}

	loopEvents, stopReason := e.matchLoop(o)
	events = append(events, loopEvents...)

	if o.RemainingQty.IsZero() {
		return events
	}

	if stopReason == order.ReasonSelfTrade {
		e.unlockRemainder(o)
		events = append(events, e.cancelRemainder(o, order.ReasonSelfTrade, o.PlacedAt, false))
		return events
	}

	switch {
	case o.Type == order.Market:
		events = append(events, e.cancelRemainder(o, order.ReasonMarketRemainder, o.PlacedAt, false))
	case o.TIF == order.IOC:
		e.unlockRemainder(o)
		events = append(events, e.cancelRemainder(o, order.ReasonIOCRemainder, o.PlacedAt, false))
	case o.TIF == order.FOK:
		// Unreachable in practice: the pre-loop depth scan guarantees a
		// full fill. Guarded rather than assumed, so a future change to
		// the scan can't silently leave a partially-filled FOK resting.
		e.unlockRemainder(o)
		events = append(events, e.cancelRemainder(o, order.ReasonFOKInsufficient, o.PlacedAt, false))
	default:
		entry := restEntry(o)
		if err := e.book.Rest(o.Side, *o.Price, entry); err != nil {
			e.log.Error().Err(err).Str("order_id", o.OrderID.String()).Msg("rest failed")
		}
	}
	return events
}

// wouldCross reports whether o would immediately cross the opposite
// book's best price — used for the POST_ONLY check (spec.md §4.4,
// glossary "POST_ONLY"). A market order always reports true: it carries
// no price to rest at, so POST_ONLY + MARKET can never be satisfied
// (SPEC_FULL.md §1 market-order resolution).
func (e *Engine) wouldCross(o *order.Order) bool {
	if o.Type == order.Market {
		return true
	}
	lvl, ok := e.book.BestLevel(o.Side.Opposite())
	if !ok {
		return false
	}
	return Crosses(o.Side, *o.Price, lvl.Price)
}

// scanDepth walks the opposite side's resting depth without mutating the
// book, accumulating quantity until either qty is satisfied or the
// crossing depth is exhausted. Used by the FOK precheck (spec.md §4.4
// "FOK: reject if the full quantity cannot fill immediately at admission
// time") and by the REJECT self-trade policy, which must know before
// committing any fill whether the walk would ever touch the taker's own
// resting order.
func (e *Engine) scanDepth(takerSide order.Side, limitPrice *xdecimal.Price, qty xdecimal.Quantity, account id.AccountID) (available xdecimal.Quantity, selfTrade bool) {
	opposite := takerSide.Opposite()
	remaining := qty
	available = xdecimal.ZeroQuantity
	for _, lvl := range e.book.Levels(opposite) {
		if limitPrice != nil && !Crosses(takerSide, *limitPrice, lvl.Price) {
			break
		}
		for _, ent := range lvl.Entries() {
			if ent.AccountID == account {
				selfTrade = true
				switch e.cfg.SelfTradePolicy {
				case market.CancelMaker:
					// matchLoop cancels this entry instead of filling against it.
					continue
				case market.CancelTaker, market.CancelBoth:
					// matchLoop stops at this entry, so nothing past it fills.
					return available, selfTrade
				}
			}
			take := xdecimal.MinQuantity(remaining, ent.RemainingQty)
			available = available.Add(take)
			remaining = remaining.Sub(take)
			if remaining.IsZero() {
				return available, selfTrade
			}
		}
	}
	return available, selfTrade
}

// matchLoop is the taker loop proper (spec.md §4.4 step 3-5): repeatedly
// take the best opposite level's head while it crosses, applying
// self-trade policy at each head before committing a fill. Returns every
// event produced and, if the loop stopped early because of a
// CANCEL_TAKER/CANCEL_BOTH self-trade, order.ReasonSelfTrade — the caller
// (run) uses that to cancel the taker's remainder instead of resting or
// IOC-canceling it with a generic reason.
func (e *Engine) matchLoop(taker *order.Order) ([]event.Event, order.RejectReason) {
	var events []event.Event
	opposite := taker.Side.Opposite()

	for !taker.RemainingQty.IsZero() {
		lvl, ok := e.book.BestLevel(opposite)
		if !ok {
			break
		}
		if taker.Type == order.Limit && !Crosses(taker.Side, *taker.Price, lvl.Price) {
			break
		}
		head, ok := lvl.Front()
		if !ok {
			break
		}

		if head.AccountID == taker.AccountID {
			switch e.cfg.SelfTradePolicy {
			case market.CancelTaker:
				return events, order.ReasonSelfTrade
			case market.CancelMaker:
				events = append(events, e.cancelRestingOrder(head.OrderID, order.ReasonSelfTrade, taker.PlacedAt))
				continue
			case market.CancelBoth:
				events = append(events, e.cancelRestingOrder(head.OrderID, order.ReasonSelfTrade, taker.PlacedAt))
				return events, order.ReasonSelfTrade
			case market.RejectSelfTrade:
				// The pre-loop scanDepth should already have screened this
				// order out entirely. Reaching here means the book
				// changed between the scan and the loop, which single
				// writer-per-market rules out — fail safe rather than
				// silently self-trade.
				events = append(events, e.cancelRestingOrder(head.OrderID, order.ReasonSelfTrade, taker.PlacedAt))
				return events, order.ReasonSelfTrade
			}
		}

		fillQty := xdecimal.MinQuantity(taker.RemainingQty, head.RemainingQty)
		events = append(events, e.executeFill(taker, head.OrderID, fillQty, lvl.Price)...)
	}

	return events, order.ReasonNone
}

// cancelRestingOrder removes a resting maker order from the book,
// releases its reservation, and returns its OrderCanceled event.
func (e *Engine) cancelRestingOrder(orderID id.OrderID, reason order.RejectReason, at int64) event.Event {
	if _, _, err := e.book.Cancel(orderID); err != nil {
		e.log.Error().Err(err).Str("order_id", orderID.String()).Msg("cancel resting order failed")
	}
	maker := e.orders[orderID]
	e.unlockRemainder(maker)
	return e.cancelRemainder(maker, reason, at, false)
}

const nsPerDay = int64(24 * time.Hour)

func dayEpoch(placedAtNs int64) int64 { return placedAtNs / nsPerDay }

// executeFill commits one match between taker and the resting maker
// order, in order: consume the maker's book entry, update both order
// records, compute each side's own fee from its own rolling-volume tier,
// settle the balance movement, then emit TradeExecuted, BalanceChanged
// (per leg), and each side's fill event (spec.md §4.4 step 6, §4.6, §4.7).
func (e *Engine) executeFill(taker *order.Order, makerOrderID id.OrderID, fillQty xdecimal.Quantity, fillPrice xdecimal.Price) []event.Event {
	var events []event.Event
	maker := e.orders[makerOrderID]

	if _, _, err := e.book.FillHead(maker.Side, fillPrice, fillQty); err != nil {
		e.log.Error().Err(err).Str("order_id", makerOrderID.String()).Msg("fill head failed")
		return events
	}
	if err := maker.ApplyFill(fillQty); err != nil {
		e.log.Error().Err(err).Msg("maker fill underflow")
		return events
	}
	if err := taker.ApplyFill(fillQty); err != nil {
		e.log.Error().Err(err).Msg("taker fill underflow")
		return events
	}

	tradeID := id.NewTradeID()
	day := dayEpoch(taker.PlacedAt)
	notional := xdecimal.Notional(fillPrice, fillQty)

	makerTier := e.cfg.FeeTiers.ActiveTier(e.volume.Volume(maker.AccountID.String(), day))
	takerTier := e.cfg.FeeTiers.ActiveTier(e.volume.Volume(taker.AccountID.String(), day))
	e.volume.Record(maker.AccountID.String(), day, notional)
	e.volume.Record(taker.AccountID.String(), day, notional)

	makerFeeQuote, _ := fees.Calculate(makerTier, notional)
	_, takerFeeQuote := fees.Calculate(takerTier, notional)

	// The fee rate always applies to notional (price*qty), which is
	// quote-denominated by construction. Settlement nets the fee out of
	// the credit leg (never the debit, which admission locks with zero
	// headroom), so each side's fee must be converted into that side's
	// own credit asset: base for a buyer, quote for a seller.
	// e.cfg.FeeAsset only names what the trade reports as its nominal
	// fee currency on the TradeExecuted event; it plays no part in this
	// conversion, since which asset a side is credited in is fixed by
	// its side, not by market config.
	reportedFeeAsset := e.quote
	if e.cfg.FeeAsset == market.FeeAssetBase {
		reportedFeeAsset = e.base
	}

	makerFeeAmt := makerFeeQuote
	if maker.Side == order.Buy {
		makerFeeAmt = makerFeeQuote.DivRound(fillPrice.Decimal(), int32(fees.Precision))
	}
	takerFeeAmt := takerFeeQuote
	if taker.Side == order.Buy {
		takerFeeAmt = takerFeeQuote.DivRound(fillPrice.Decimal(), int32(fees.Precision))
	}

	plan := settlement.Plan{
		TradeID:  tradeID,
		MarketID: e.marketID,
		Maker:    e.leg(maker, notional, fillQty, makerFeeAmt, reportedFeeAsset),
		Taker:    e.leg(taker, notional, fillQty, takerFeeAmt, reportedFeeAsset),
	}

	result, err := e.settler.Settle(plan)
	if err != nil {
		ev := e.emit(event.KindSettlementFailed, taker.PlacedAt)
		attempts := 0
		if sf, ok := err.(*settlement.ErrSettlementFailed); ok {
			attempts = sf.Attempts
		}
		ev.SettlementFailed = &event.SettlementFailed{TradeID: tradeID, Attempts: attempts, Reason: err.Error()}
		events = append(events, ev)
		e.log.Error().Err(err).Str("trade_id", tradeID.String()).Msg("settlement failed, book already reflects the fill")
		return events
	}

	// A limit buy locked price*qty at its own limit; a fill at a lower maker
	// price leaves the difference locked, so release it here to keep the
	// reserve equal to what the unfilled remainder needs.
	if taker.Type == order.Limit && taker.Side == order.Buy && fillPrice.LT(*taker.Price) {
		excess := taker.Price.Decimal().Sub(fillPrice.Decimal()).Mul(fillQty.Decimal())
		if err := e.casUnlock(taker, e.quote, excess); err != nil {
			e.log.Error().Err(err).Str("order_id", taker.OrderID.String()).Msg("unlock price-improvement excess failed")
		}
	}

	tradeEvt := e.emit(event.KindTradeExecuted, taker.PlacedAt)
	tradeEvt.TradeExecuted = &event.TradeExecuted{
		TradeID:        tradeID,
		MakerOrderID:   maker.OrderID,
		TakerOrderID:   taker.OrderID,
		MakerAccountID: maker.AccountID,
		TakerAccountID: taker.AccountID,
		Side:           taker.Side,
		Price:          fillPrice,
		Quantity:       fillQty,
		MakerFee:       makerFeeAmt,
		TakerFee:       takerFeeAmt,
		FeeAsset:       e.cfg.FeeAsset,
	}
	events = append(events, tradeEvt)
	if e.metrics != nil {
		e.metrics.TradesExecuted.Inc()
	}

	for _, delta := range result.Deltas {
		bc := e.emit(event.KindBalanceChanged, taker.PlacedAt)
		bc.BalanceChanged = &event.BalanceChanged{
			AccountID: delta.Account,
			Asset:     delta.Asset,
			Total:     delta.After.Total,
			Available: delta.After.Available,
			Locked:    delta.After.Locked,
			Version:   delta.After.Version,
		}
		events = append(events, bc)
	}

	events = append(events, e.fillEvent(maker, fillQty, fillPrice))
	events = append(events, e.fillEvent(taker, fillQty, fillPrice))
	return events
}

// leg builds a settlement.Leg for ord's side of one fill. A market order
// never locked a reservation at admission (funds.go lockForAdmission
// skips it), so its debit leg must draw straight from available rather
// than locked.
func (e *Engine) leg(ord *order.Order, notional decimal.Decimal, qty xdecimal.Quantity, fee decimal.Decimal, feeAsset string) settlement.Leg {
	fromAvailable := ord.Type == order.Market
	if ord.Side == order.Buy {
		return settlement.Leg{
			Account:            ord.AccountID,
			DebitAsset:         e.quote,
			DebitQty:           notional,
			CreditAsset:        e.base,
			CreditQty:          qty.Decimal(),
			Fee:                fee,
			FeeAsset:           feeAsset,
			DebitFromAvailable: fromAvailable,
		}
	}
	return settlement.Leg{
		Account:            ord.AccountID,
		DebitAsset:         e.base,
		DebitQty:           qty.Decimal(),
		CreditAsset:        e.quote,
		CreditQty:          notional,
		Fee:                fee,
		FeeAsset:           feeAsset,
		DebitFromAvailable: fromAvailable,
	}
}

// fillEvent reports a single order's reaction to being filled by qty at
// price: OrderFilled if that exhausted it, OrderPartiallyFilled otherwise
// (spec.md §3 OrderPlaced/Filled/PartiallyFilled lifecycle).
func (e *Engine) fillEvent(o *order.Order, qty xdecimal.Quantity, price xdecimal.Price) event.Event {
	if o.IsFilled() {
		ev := e.emit(event.KindOrderFilled, o.PlacedAt)
		ev.OrderFilled = &event.OrderFilled{OrderID: o.OrderID, FilledQty: o.FilledQty()}
		return ev
	}
	ev := e.emit(event.KindOrderPartiallyFilled, o.PlacedAt)
	ev.OrderPartiallyFilled = &event.OrderPartiallyFilled{
		OrderID:       o.OrderID,
		FilledQty:     qty,
		RemainingQty:  o.RemainingQty,
		LastFillPrice: price,
	}
	return ev
}

func restEntry(o *order.Order) book.Entry {
	return book.Entry{OrderID: o.OrderID, AccountID: o.AccountID, RemainingQty: o.RemainingQty}
}
