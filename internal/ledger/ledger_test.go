package ledger

import (
	"testing"

	"matchcore/internal/id"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestLedger_DepositThenLockUnlock(t *testing.T) {
	l := New()
	acct := id.NewAccountID()

	b := l.Deposit(acct, "USD", d("100"))
	assert.True(t, b.Total.Equal(d("100")))
	assert.True(t, b.Available.Equal(d("100")))
	assert.True(t, b.Invariant())

	read := l.Get(acct, "USD")
	require.NoError(t, l.Lock(read, d("40")))

	after := l.Get(acct, "USD")
	assert.True(t, after.Available.Equal(d("60")))
	assert.True(t, after.Locked.Equal(d("40")))
	assert.True(t, after.Invariant())

	require.NoError(t, l.Unlock(after, d("40")))
	restored := l.Get(acct, "USD")
	assert.True(t, restored.Available.Equal(d("100")))
	assert.True(t, restored.Locked.IsZero())
}

func TestLedger_LockInsufficientAvailable(t *testing.T) {
	l := New()
	acct := id.NewAccountID()
	l.Deposit(acct, "USD", d("10"))
	read := l.Get(acct, "USD")
	err := l.Lock(read, d("11"))
	assert.ErrorIs(t, err, ErrInsufficientAvailable)
}

func TestLedger_CASRejectsStaleVersion(t *testing.T) {
	l := New()
	acct := id.NewAccountID()
	l.Deposit(acct, "USD", d("100"))
	stale := l.Get(acct, "USD")

	// A concurrent writer moves the version forward.
	require.NoError(t, l.Lock(l.Get(acct, "USD"), d("10")))

	err := l.Lock(stale, d("5"))
	assert.ErrorIs(t, err, ErrVersionConflict)
}

func TestLedger_DeductLockedThenCredit(t *testing.T) {
	l := New()
	acct := id.NewAccountID()
	l.Deposit(acct, "BTC", d("1"))
	read := l.Get(acct, "BTC")
	require.NoError(t, l.Lock(read, d("1")))

	read = l.Get(acct, "BTC")
	require.NoError(t, l.DeductLocked(read, d("1")))

	after := l.Get(acct, "BTC")
	assert.True(t, after.Total.IsZero())
	assert.True(t, after.Locked.IsZero())
	assert.True(t, after.Invariant())

	require.NoError(t, l.Credit(after, d("0.5")))
	credited := l.Get(acct, "BTC")
	assert.True(t, credited.Total.Equal(d("0.5")))
	assert.True(t, credited.Available.Equal(d("0.5")))
}

func TestLedger_DeductAvailableDoesNotTouchLocked(t *testing.T) {
	l := New()
	acct := id.NewAccountID()
	l.Deposit(acct, "USD", d("100"))
	read := l.Get(acct, "USD")
	require.NoError(t, l.Lock(read, d("20")))

	read = l.Get(acct, "USD")
	require.NoError(t, l.DeductAvailable(read, d("30")))

	after := l.Get(acct, "USD")
	assert.True(t, after.Available.Equal(d("50")), "80 available minus 30 deducted")
	assert.True(t, after.Locked.Equal(d("20")), "locked must be untouched")
	assert.True(t, after.Total.Equal(d("70")))
	assert.True(t, after.Invariant())
}

func TestLedger_DeductAvailableInsufficientFunds(t *testing.T) {
	l := New()
	acct := id.NewAccountID()
	l.Deposit(acct, "USD", d("10"))
	read := l.Get(acct, "USD")
	err := l.DeductAvailable(read, d("11"))
	assert.ErrorIs(t, err, ErrInsufficientAvailable)
}

func TestLedger_CreditRejectsNegativeResult(t *testing.T) {
	l := New()
	acct := id.NewAccountID()
	read := l.Get(acct, "USD")
	err := l.Credit(read, d("-1"))
	assert.Error(t, err)
}

func TestLedger_RestoreBypassesCAS(t *testing.T) {
	l := New()
	acct := id.NewAccountID()
	l.Restore(Balance{AccountID: acct, Asset: "USD", Total: d("500"), Available: d("300"), Locked: d("200"), Version: 7})

	got := l.Get(acct, "USD")
	assert.True(t, got.Invariant())
	assert.Equal(t, uint64(7), got.Version)
	assert.True(t, got.Total.Equal(d("500")))
}

func TestLedger_TotalAcrossAssetsConservesValue(t *testing.T) {
	l := New()
	a1, a2 := id.NewAccountID(), id.NewAccountID()
	l.Deposit(a1, "USD", d("100"))
	l.Deposit(a2, "USD", d("50"))
	l.Deposit(a1, "BTC", d("2"))

	assert.True(t, l.TotalAcrossAssets("USD").Equal(d("150")))
	assert.True(t, l.TotalAcrossAssets("BTC").Equal(d("2")))
}
