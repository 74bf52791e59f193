// Package ledger implements the account balance model (spec.md §3
// "Balance", §4.5 "Account ledger and balance model"): per (account,
// asset) balances mutated only through Lock/Unlock/DeductLocked/
// DeductAvailable/Credit, each preserving available+locked=total and
// advancing an optimistic version counter, plus Deposit and the
// recovery-only Restore, which bypass the version check.
package ledger

import (
	"errors"
	"fmt"
	"sync"

	"matchcore/internal/id"

	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientAvailable is returned by Lock when available < q.
	ErrInsufficientAvailable = errors.New("ledger: insufficient available balance")
	// ErrInsufficientLocked is returned by Unlock/DeductLocked when locked < q.
	ErrInsufficientLocked = errors.New("ledger: insufficient locked balance")
	// ErrVersionConflict is returned by CAS when the stored version has
	// moved since the balance was read (spec.md §4.5 "Conflict -> caller
	// retries with fresh read").
	ErrVersionConflict = errors.New("ledger: optimistic version conflict")
)

// Balance is a snapshot of one (account, asset) balance (spec.md §3):
// available + locked = total, all >= 0, with a monotone version for
// optimistic concurrency.
type Balance struct {
	AccountID id.AccountID
	Asset     string
	Total     decimal.Decimal
	Available decimal.Decimal
	Locked    decimal.Decimal
	Version   uint64
}

func zeroBalance(account id.AccountID, asset string) Balance {
	return Balance{AccountID: account, Asset: asset, Total: decimal.Zero, Available: decimal.Zero, Locked: decimal.Zero, Version: 0}
}

// Invariant reports whether b satisfies the balance invariant (spec.md §8
// property 4): available + locked == total, all >= 0.
func (b Balance) Invariant() bool {
	if b.Available.IsNegative() || b.Locked.IsNegative() || b.Total.IsNegative() {
		return false
	}
	return b.Available.Add(b.Locked).Equal(b.Total)
}

// key identifies one account/asset balance row.
type key struct {
	account id.AccountID
	asset   string
}

// Ledger is the account balance store. Balances are created lazily on
// first touch (spec.md §3 Lifecycle: "Balances are created on first
// deposit and never destroyed") and mutated via optimistic CAS: callers
// read a Balance, compute the next state, and call CAS; a version
// mismatch means a concurrent writer won the race and the caller must
// retry from a fresh Get (spec.md §4.5).
//
// A single mutex guards the map itself (not the balances' business logic)
// — acceptable because map access is microseconds and every actual balance
// mutation still goes through the optimistic version check, so the lock
// never serializes on business logic, only map bookkeeping. This is the
// "owned per-shard state plus optimistic-versioned balance records"
// strategy from spec.md §9, applied to the one genuinely cross-market
// shared resource (an account's balances span every market it trades).
type Ledger struct {
	mu       sync.Mutex
	balances map[key]Balance
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{balances: make(map[key]Balance)}
}

// Get returns a copy of the current balance for (account, asset), creating
// a zero balance if none exists yet.
func (l *Ledger) Get(account id.AccountID, asset string) Balance {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := key{account, asset}
	b, ok := l.balances[k]
	if !ok {
		b = zeroBalance(account, asset)
	}
	return b
}

// Deposit credits an external deposit directly to available/total,
// creating the balance row if needed, bypassing CAS since deposits are not
// contended against trading activity by construction (an account is never
// trading until it has a balance to trade with). Returns the resulting
// balance.
func (l *Ledger) Deposit(account id.AccountID, asset string, amount decimal.Decimal) Balance {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := key{account, asset}
	b, ok := l.balances[k]
	if !ok {
		b = zeroBalance(account, asset)
	}
	b.Available = b.Available.Add(amount)
	b.Total = b.Total.Add(amount)
	b.Version++
	l.balances[k] = b
	return b
}

// cas writes next if the stored version for (account, asset) still equals
// expectedVersion. Returns ErrVersionConflict otherwise.
func (l *Ledger) cas(next Balance, expectedVersion uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := key{next.AccountID, next.Asset}
	cur, ok := l.balances[k]
	if !ok {
		cur = zeroBalance(next.AccountID, next.Asset)
	}
	if cur.Version != expectedVersion {
		return ErrVersionConflict
	}
	next.Version = expectedVersion + 1
	l.balances[k] = next
	return nil
}

// Lock moves q from available to locked (spec.md §4.5 "lock(q):
// available -= q; locked += q. Requires available >= q"), applied via CAS
// against read.Version.
func (l *Ledger) Lock(read Balance, q decimal.Decimal) error {
	if read.Available.LessThan(q) {
		return ErrInsufficientAvailable
	}
	next := read
	next.Available = read.Available.Sub(q)
	next.Locked = read.Locked.Add(q)
	return l.cas(next, read.Version)
}

// Unlock is Lock's inverse (spec.md §4.5).
func (l *Ledger) Unlock(read Balance, q decimal.Decimal) error {
	if read.Locked.LessThan(q) {
		return ErrInsufficientLocked
	}
	next := read
	next.Locked = read.Locked.Sub(q)
	next.Available = read.Available.Add(q)
	return l.cas(next, read.Version)
}

// DeductLocked removes q from locked and total (spec.md §4.5
// "deduct_locked(q): locked -= q; total -= q").
func (l *Ledger) DeductLocked(read Balance, q decimal.Decimal) error {
	if read.Locked.LessThan(q) {
		return ErrInsufficientLocked
	}
	next := read
	next.Locked = read.Locked.Sub(q)
	next.Total = read.Total.Sub(q)
	return l.cas(next, read.Version)
}

// DeductAvailable removes q from available and total directly, without
// touching locked. Used for a market order's settlement leg: a market
// order never locks a reservation at admission (its notional isn't known
// until it matches), so its debit leg has nothing resting in locked to
// draw down and must come straight out of available instead (spec.md
// §4.6, SPEC_FULL.md §4 market-order settlement path).
func (l *Ledger) DeductAvailable(read Balance, q decimal.Decimal) error {
	if read.Available.LessThan(q) {
		return ErrInsufficientAvailable
	}
	next := read
	next.Available = read.Available.Sub(q)
	next.Total = read.Total.Sub(q)
	return l.cas(next, read.Version)
}

// Credit adds q to available and total (spec.md §4.5 "credit(q): available
// += q; total += q"). A negative q is accepted as long as neither
// available nor total goes below zero; Credit returns an error otherwise,
// before attempting the CAS.
func (l *Ledger) Credit(read Balance, q decimal.Decimal) error {
	next := read
	next.Available = read.Available.Add(q)
	next.Total = read.Total.Add(q)
	if next.Available.IsNegative() || next.Total.IsNegative() {
		return fmt.Errorf("ledger: credit would drive balance negative (account=%s asset=%s)", read.AccountID, read.Asset)
	}
	return l.cas(next, read.Version)
}

// Restore directly installs b, bypassing CAS. Only valid during recovery
// (spec.md §4.9 step 1: "load the snapshot's balances verbatim") before
// any concurrent writer has touched the ledger; using it after normal
// operation has begun would silently discard intervening versions.
func (l *Ledger) Restore(b Balance) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[key{b.AccountID, b.Asset}] = b
}

// TotalAcrossAssets sums every account's Total for one asset — used by the
// conservation-of-value test (spec.md §8 property 5).
func (l *Ledger) TotalAcrossAssets(asset string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	sum := decimal.Zero
	for k, b := range l.balances {
		if k.asset == asset {
			sum = sum.Add(b.Total)
		}
	}
	return sum
}
