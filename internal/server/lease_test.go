package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLeaseTableRenewAndExpiry(t *testing.T) {
	lt := NewLeaseTable(50*time.Millisecond, 10*time.Millisecond)

	l := lt.Get(1, "a.txt")
	require.Equal(t, LeaseFree, l.State)
	require.True(t, lt.Expired(l, time.Now()))

	due := lt.Renew(1, "a.txt", false)
	l = lt.Get(1, "a.txt")
	require.Equal(t, LeaseRead, l.State)
	require.WithinDuration(t, due, l.Due, time.Millisecond)
	require.False(t, lt.Expired(l, time.Now()))

	require.True(t, lt.Expired(l, due.Add(100*time.Millisecond)))
}

func TestLeaseTableUpgradeToWrite(t *testing.T) {
	lt := NewLeaseTable(time.Second, time.Millisecond)
	lt.Renew(1, "a.txt", false)
	lt.Renew(1, "a.txt", true)
	l := lt.Get(1, "a.txt")
	require.Equal(t, LeaseWrite, l.State)
}

func TestLeaseTableWaitUntilExpired(t *testing.T) {
	lt := NewLeaseTable(50*time.Millisecond, 10*time.Millisecond)
	lt.Renew(1, "a.txt", true)
	l := lt.Get(1, "a.txt")
	wantRemaining := time.Until(l.Due.Add(10 * time.Millisecond))

	start := time.Now()
	lt.WaitUntilExpired(l)
	require.GreaterOrEqual(t, time.Since(start), wantRemaining)
	require.True(t, lt.Expired(l, time.Now()))
}

func TestLeaseTableWaitUntilExpiredReturnsImmediatelyIfAlreadyExpired(t *testing.T) {
	lt := NewLeaseTable(time.Millisecond, 0)
	l := lt.Get(1, "a.txt") // never renewed: LeaseFree, already "expired"

	start := time.Now()
	lt.WaitUntilExpired(l)
	require.Less(t, time.Since(start), 10*time.Millisecond)
}

func TestLeaseTableRelease(t *testing.T) {
	lt := NewLeaseTable(time.Second, time.Millisecond)
	lt.Renew(1, "a.txt", false)
	lt.Release(1, "a.txt")
	l := lt.Get(1, "a.txt")
	require.Equal(t, LeaseFree, l.State)
}
