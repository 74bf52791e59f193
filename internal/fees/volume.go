package fees

import (
	"sync"

	rbt "github.com/emirpasic/gods/v2/trees/redblacktree"
	"github.com/shopspring/decimal"
)

// windowDays is the rolling window the fee engine measures volume over
// (spec.md §4.7: "account's rolling 30-day volume").
const windowDays = 30

func dayComparator(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// accountVolume is a day-bucketed accumulator of traded notional for one
// account, keyed by day-epoch (days since Unix epoch). Using a red-black
// tree keeps both "evict buckets older than the window" and "sum the live
// window" as sorted-order traversals rather than hash-map iteration,
// matching the engine's preference for sorted containers wherever a
// traversal order could otherwise be a source of nondeterminism (see
// book.OrderBook, which uses tidwall/btree for the same reason) — even
// though volume tracking itself never influences trade
// order.
type accountVolume struct {
	buckets *rbt.Tree[int64, decimal.Decimal]
}

func newAccountVolume() *accountVolume {
	return &accountVolume{buckets: rbt.NewWith[int64, decimal.Decimal](dayComparator)}
}

func (v *accountVolume) add(day int64, notional decimal.Decimal) {
	cur, found := v.buckets.Get(day)
	if !found {
		cur = decimal.Zero
	}
	v.buckets.Put(day, cur.Add(notional))
}

// evictBefore removes every bucket strictly older than cutoffDay.
func (v *accountVolume) evictBefore(cutoffDay int64) {
	for _, day := range v.buckets.Keys() {
		if day < cutoffDay {
			v.buckets.Remove(day)
			continue
		}
		// Keys() is sorted ascending; once we hit a day >= cutoff we're done.
		break
	}
}

func (v *accountVolume) sum() decimal.Decimal {
	total := decimal.Zero
	for _, notional := range v.buckets.Values() {
		total = total.Add(notional)
	}
	return total
}

// Tracker maintains rolling 30-day traded-notional volume per account,
// used to select each account's active fee tier (spec.md §4.7).
//
// Tracker is safe for concurrent use (a mutex guards its map). Each
// matching.Engine builds its own Tracker and records fills into it, so the
// volume a Tracker holds is an account's volume on that one market.
type Tracker struct {
	mu      sync.Mutex
	perAcct map[string]*accountVolume // keyed by account id string form
}

// NewTracker constructs an empty volume tracker. It reads no clock: Record
// and Volume take the day-epoch (days since Unix epoch) from the caller,
// so that admission timestamps — not wall-clock — drive bucketing, keeping the fee engine deterministic under replay
// (spec.md §4.4 "Determinism rules": "No system time is read inside the
// engine").
func NewTracker() *Tracker {
	return &Tracker{perAcct: make(map[string]*accountVolume)}
}

// Record adds notional to account's bucket for dayEpoch and evicts any
// bucket older than the 30-day window relative to dayEpoch.
func (t *Tracker) Record(account string, dayEpoch int64, notional decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()

	av, ok := t.perAcct[account]
	if !ok {
		av = newAccountVolume()
		t.perAcct[account] = av
	}
	av.add(dayEpoch, notional)
	av.evictBefore(dayEpoch - windowDays)
}

// Volume returns account's current rolling 30-day volume as of dayEpoch.
func (t *Tracker) Volume(account string, dayEpoch int64) decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()

	av, ok := t.perAcct[account]
	if !ok {
		return decimal.Zero
	}
	av.evictBefore(dayEpoch - windowDays)
	return av.sum()
}
