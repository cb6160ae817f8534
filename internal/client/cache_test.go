package client

import (
	"testing"
	"time"

	"github.com/dreamware/giga/internal/index"
	"github.com/dreamware/giga/internal/rpc"
	"github.com/stretchr/testify/require"
)

func TestLookupCacheEntryValid(t *testing.T) {
	now := time.Now()
	e := LookupCacheEntry{Info: rpc.LookupInfo{LeaseDueUnixMillis: now.Add(time.Second).UnixMilli()}}
	require.True(t, e.Valid(now, 0))
	require.False(t, e.Valid(now.Add(2*time.Second), 0))
}

func TestLookupCacheGetPutInvalidate(t *testing.T) {
	c := NewLookupCache(8)
	_, ok := c.Get(1, "a")
	require.False(t, ok)

	c.Put(1, "a", LookupCacheEntry{Info: rpc.LookupInfo{Inode: 42}})
	e, ok := c.Get(1, "a")
	require.True(t, ok)
	require.Equal(t, int64(42), e.Info.Inode)

	c.Invalidate(1, "a")
	_, ok = c.Get(1, "a")
	require.False(t, ok)
}

func TestIndexCacheMergeCreatesThenMerges(t *testing.T) {
	c := NewIndexCache(8)

	a := index.New(1, 0, 4)
	first, err := c.Merge(1, a.Encode())
	require.NoError(t, err)
	require.True(t, first.IsSet(0))

	b := index.New(1, 0, 4)
	require.NoError(t, b.SetBit(index.ChildIndex(0)))
	merged, err := c.Merge(1, b.Encode())
	require.NoError(t, err)
	require.True(t, merged.IsSet(0))
	require.True(t, merged.IsSet(index.ChildIndex(0)))

	cached, ok := c.Get(1)
	require.True(t, ok)
	require.True(t, cached.IsSet(index.ChildIndex(0)))
}
