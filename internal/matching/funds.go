package matching

import (
	"fmt"

	"matchcore/internal/ledger"
	"matchcore/internal/order"

	"github.com/shopspring/decimal"
)

// reserveAsset returns which asset a resting limit order locks, and how
// much of it to lock for a given quantity: a BUY locks quote (price*qty),
// a SELL locks base (qty) — spec.md §4.5, "an open limit order's
// unmatched remainder is exactly its locked reserve". Market orders never
// reach here: they carry no price to size a quote-side reservation
// against and settle opportunistically (SPEC_FULL.md §4).
func (e *Engine) reserveAsset(o *order.Order, qty decimal.Decimal) (asset string, amount decimal.Decimal) {
	if o.Side == order.Buy {
		return e.quote, o.Price.Decimal().Mul(qty)
	}
	return e.base, qty
}

// lockForAdmission reserves funds for a newly-admitted resting limit
// order, covering its full original quantity. Returns an error if the
// account's available balance is insufficient or retries are exhausted
// on a version conflict.
func (e *Engine) lockForAdmission(o *order.Order) error {
	if o.Type == order.Market {
		return nil
	}
	asset, amount := e.reserveAsset(o, o.OriginalQty.Decimal())
	return e.casLock(o, asset, amount)
}

// unlockRemainder releases the reservation backing o's current
// RemainingQty — called when a resting order is canceled or a
// partially-filled order's remainder is abandoned (IOC/FOK/self-trade
// paths). Matched quantity is never unlocked here: settlement already
// moved it via DeductLocked.
func (e *Engine) unlockRemainder(o *order.Order) {
	if o.Type == order.Market || o.RemainingQty.IsZero() {
		return
	}
	asset, amount := e.reserveAsset(o, o.RemainingQty.Decimal())
	if err := e.casUnlock(o, asset, amount); err != nil {
		// Funds reservation is an accounting side effect of book state,
		// not a book invariant; log and move on rather than corrupt the
		// match outcome over a ledger race that retries should make rare.
		e.log.Error().Err(err).Str("order_id", o.OrderID.String()).Msg("unlock remainder failed")
	}
}

const fundsRetryLimit = 8

func (e *Engine) casLock(o *order.Order, asset string, amount decimal.Decimal) error {
	var lastErr error
	for i := 0; i < fundsRetryLimit; i++ {
		read := e.ledger.Get(o.AccountID, asset)
		err := e.ledger.Lock(read, amount)
		if err == nil {
			return nil
		}
		if err != ledger.ErrVersionConflict {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("matching: lock retries exhausted: %w", lastErr)
}

func (e *Engine) casUnlock(o *order.Order, asset string, amount decimal.Decimal) error {
	var lastErr error
	for i := 0; i < fundsRetryLimit; i++ {
		read := e.ledger.Get(o.AccountID, asset)
		err := e.ledger.Unlock(read, amount)
		if err == nil {
			return nil
		}
		if err != ledger.ErrVersionConflict {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("matching: unlock retries exhausted: %w", lastErr)
}
