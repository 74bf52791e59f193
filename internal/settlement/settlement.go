// Package settlement implements the settlement coordinator (spec.md §4.6):
// turning one matched trade into atomic balance deltas on both sides via
// the ledger's optimistic-CAS primitives, with bounded retry on version
// conflicts.
package settlement

import (
	"fmt"

	"matchcore/internal/id"
	"matchcore/internal/ledger"
	"matchcore/internal/market"
	"matchcore/internal/metrics"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Leg describes one side's asset movement for a trade (spec.md §4.6
// "Settlement legs"). A BUY taker pays quote and receives base; a SELL
// taker pays base and receives quote; the maker leg is the mirror image.
//
// Fee is always denominated in CreditAsset and always netted out of the
// credit leg (spec.md §4.6's literal formula: "credit(base_q -
// maker_fee_base)"), never added to the debit: admission locks exactly
// the notional with no fee headroom (internal/matching/funds.go), so
// inflating the debit by the fee would demand more than was ever
// reserved. FeeAsset records which asset the fee is reported in on the
// TradeExecuted event; the caller is responsible for expressing Fee in
// CreditAsset's units regardless of what FeeAsset names.
type Leg struct {
	Account     id.AccountID
	DebitAsset  string
	DebitQty    decimal.Decimal // deducted from locked (already reserved at order placement)
	CreditAsset string
	CreditQty   decimal.Decimal // credited to available
	Fee         decimal.Decimal // always in CreditAsset's units
	FeeAsset    string          // reported fee currency; informational only

	// DebitFromAvailable routes the debit leg through available instead of
	// locked: a market order never reserves funds at admission (its
	// notional isn't known until it matches), so there is nothing sitting
	// in locked for it to draw down.
	DebitFromAvailable bool
}

// Plan is the full set of balance movements for one trade: maker and
// taker legs. Built by the caller (the matching engine, which knows the
// trade's price/quantity/side/fees) and handed to the Coordinator for
// atomic application.
type Plan struct {
	TradeID  id.TradeID
	MarketID market.ID
	Maker    Leg
	Taker    Leg
}

// BalanceDelta reports the resulting balance after one leg's application,
// for the caller to turn into a BalanceChanged event with a market
// sequence number.
type BalanceDelta struct {
	Account id.AccountID
	Asset   string
	After   ledger.Balance
}

// Result is the outcome of settling one Plan: either the four resulting
// balances (debit+credit x maker+taker), or a permanent failure after
// retries are exhausted.
type Result struct {
	Deltas []BalanceDelta
}

// ErrSettlementFailed wraps the last error seen after exhausting retries
// (spec.md §4.6 "On exhaustion, emit SettlementFailed and leave balances
// exactly as they were before this trade was attempted").
type ErrSettlementFailed struct {
	TradeID  id.TradeID
	Attempts int
	Last     error
}

func (e *ErrSettlementFailed) Error() string {
	return fmt.Sprintf("settlement: trade %s failed after %d attempts: %v", e.TradeID, e.Attempts, e.Last)
}

func (e *ErrSettlementFailed) Unwrap() error { return e.Last }

// Coordinator applies settlement plans against a Ledger with bounded
// retry on optimistic version conflicts (spec.md §4.6). It holds no
// per-trade state between calls — every Settle call is independent —
// matching the teacher's stateless-handler style for request/response
// style components.
type Coordinator struct {
	ledger     *ledger.Ledger
	retryLimit int
	log        zerolog.Logger
	metrics    *metrics.Metrics
}

// New creates a Coordinator with the given retry limit (spec.md §4.6
// default: market.DefaultSettlementRetryLimit, overridable per market). m
// may be nil, matching the engine's own tolerance for a metrics-less test
// harness.
func New(l *ledger.Ledger, retryLimit int, log zerolog.Logger, m *metrics.Metrics) *Coordinator {
	if retryLimit <= 0 {
		retryLimit = market.DefaultSettlementRetryLimit
	}
	return &Coordinator{ledger: l, retryLimit: retryLimit, log: log.With().Str("component", "settlement").Logger(), metrics: m}
}

// Settle applies plan's two legs atomically from the caller's point of
// view: each leg is a debit-then-credit pair, applied in the order taker
// debit, taker credit, maker debit, maker credit, so no side is credited
// before its own debit has gone through. Each individual ledger
// call is retried up to the coordinator's limit on ErrVersionConflict;
// exhausting retries on any call aborts the whole plan and returns
// ErrSettlementFailed without applying the remaining calls.
func (c *Coordinator) Settle(plan Plan) (Result, error) {
	var deltas []BalanceDelta

	apply := func(leg Leg) error {
		var debitAfter ledger.Balance
		var err error
		if leg.DebitFromAvailable {
			debitAfter, err = c.retryDeductAvailable(plan.TradeID, leg.Account, leg.DebitAsset, leg.DebitQty)
		} else {
			debitAfter, err = c.retryDeductLocked(plan.TradeID, leg.Account, leg.DebitAsset, leg.DebitQty)
		}
		if err != nil {
			return err
		}
		deltas = append(deltas, BalanceDelta{Account: leg.Account, Asset: leg.DebitAsset, After: debitAfter})

		creditQty := leg.CreditQty.Sub(leg.Fee)
		creditAfter, err := c.retryCredit(plan.TradeID, leg.Account, leg.CreditAsset, creditQty)
		if err != nil {
			return err
		}
		deltas = append(deltas, BalanceDelta{Account: leg.Account, Asset: leg.CreditAsset, After: creditAfter})
		return nil
	}

	if err := apply(plan.Taker); err != nil {
		return Result{}, err
	}
	if err := apply(plan.Maker); err != nil {
		return Result{}, err
	}
	return Result{Deltas: deltas}, nil
}

func (c *Coordinator) retryDeductLocked(trade id.TradeID, account id.AccountID, asset string, qty decimal.Decimal) (ledger.Balance, error) {
	var lastErr error
	attempted := 0
	for attempt := 1; attempt <= c.retryLimit; attempt++ {
		attempted = attempt
		read := c.ledger.Get(account, asset)
		err := c.ledger.DeductLocked(read, qty)
		if err == nil {
			return c.ledger.Get(account, asset), nil
		}
		lastErr = err
		if err != ledger.ErrVersionConflict {
			break // insufficient-locked is not retryable: the trade itself is inconsistent
		}
		if c.metrics != nil {
			c.metrics.SettlementRetries.Inc()
		}
		c.log.Debug().Str("trade_id", trade.String()).Int("attempt", attempt).Msg("deduct_locked version conflict, retrying")
	}
	if c.metrics != nil {
		c.metrics.SettlementFailures.Inc()
	}
	return ledger.Balance{}, &ErrSettlementFailed{TradeID: trade, Attempts: attempted, Last: lastErr}
}

func (c *Coordinator) retryDeductAvailable(trade id.TradeID, account id.AccountID, asset string, qty decimal.Decimal) (ledger.Balance, error) {
	var lastErr error
	attempted := 0
	for attempt := 1; attempt <= c.retryLimit; attempt++ {
		attempted = attempt
		read := c.ledger.Get(account, asset)
		err := c.ledger.DeductAvailable(read, qty)
		if err == nil {
			return c.ledger.Get(account, asset), nil
		}
		lastErr = err
		if err != ledger.ErrVersionConflict {
			break
		}
		if c.metrics != nil {
			c.metrics.SettlementRetries.Inc()
		}
		c.log.Debug().Str("trade_id", trade.String()).Int("attempt", attempt).Msg("deduct_available version conflict, retrying")
	}
	if c.metrics != nil {
		c.metrics.SettlementFailures.Inc()
	}
	return ledger.Balance{}, &ErrSettlementFailed{TradeID: trade, Attempts: attempted, Last: lastErr}
}

func (c *Coordinator) retryCredit(trade id.TradeID, account id.AccountID, asset string, qty decimal.Decimal) (ledger.Balance, error) {
	var lastErr error
	attempted := 0
	for attempt := 1; attempt <= c.retryLimit; attempt++ {
		attempted = attempt
		read := c.ledger.Get(account, asset)
		err := c.ledger.Credit(read, qty)
		if err == nil {
			return c.ledger.Get(account, asset), nil
		}
		lastErr = err
		if err != ledger.ErrVersionConflict {
			break
		}
		if c.metrics != nil {
			c.metrics.SettlementRetries.Inc()
		}
		c.log.Debug().Str("trade_id", trade.String()).Int("attempt", attempt).Msg("credit version conflict, retrying")
	}
	if c.metrics != nil {
		c.metrics.SettlementFailures.Inc()
	}
	return ledger.Balance{}, &ErrSettlementFailed{TradeID: trade, Attempts: attempted, Last: lastErr}
}
