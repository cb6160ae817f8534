package index

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewStartsWithRootPartition(t *testing.T) {
	d := New(1, 0, 8)
	require.True(t, d.IsSet(0))
	require.Equal(t, uint8(0), d.Radix())
	require.Equal(t, 0, d.GetIndex("anything"))
}

func TestChildAndParentIndexRoundTrip(t *testing.T) {
	cases := []int{0, 1, 2, 3, 4, 7, 15}
	for _, p := range cases {
		c := ChildIndex(p)
		require.Equal(t, p, parentIndex(c), "parentIndex(ChildIndex(%d)) should be %d", p, p)
	}
}

func TestGetIndexDescendsToExistingAncestor(t *testing.T) {
	d := New(1, 0, 8)
	// Set partitions 1 and 3 so the radix reaches 2 while partition 2
	// stays unset.
	require.NoError(t, d.SetBit(1))
	require.NoError(t, d.SetBit(ChildIndex(1))) // 3
	require.True(t, d.IsSet(3))
	require.False(t, d.IsSet(2))

	// A name whose hash routes to an unset partition must resolve to a
	// set ancestor, never to the unset partition itself.
	for c := 'a'; c <= 'z'; c++ {
		require.True(t, d.IsSet(d.GetIndex(string(c))))
	}
}

func TestIsSplittable(t *testing.T) {
	d := New(1, 0, 8)
	require.True(t, d.IsSplittable(0))
	require.NoError(t, d.SetBit(ChildIndex(0)))
	require.False(t, d.IsSplittable(0))
}

func TestServerForIndexWraps(t *testing.T) {
	d := New(1, 2, 8)
	require.Equal(t, int16(2), d.ServerForIndex(0, 4))
	require.Equal(t, int16(3), d.ServerForIndex(1, 4))
	require.Equal(t, int16(0), d.ServerForIndex(2, 4))
	require.Equal(t, int16(1), d.ServerForIndex(3, 4))
}

func TestUpdateMergesBitmapsAndIsIdempotent(t *testing.T) {
	a := New(1, 0, 8)
	b := New(1, 0, 8)
	require.NoError(t, b.SetBit(ChildIndex(0)))

	require.NoError(t, a.Update(b))
	require.True(t, a.IsSet(ChildIndex(0)))

	// Merging again changes nothing.
	before := a.Encode()
	require.NoError(t, a.Update(b))
	require.Equal(t, before, a.Encode())
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	d := New(7, 3, 8)
	require.NoError(t, d.SetBit(ChildIndex(0)))
	require.NoError(t, d.SetBit(ChildIndex(1)))

	enc := d.Encode()
	got, err := Decode(enc)
	require.NoError(t, err)
	require.Equal(t, d.DirID(), got.DirID())
	require.Equal(t, d.Zeroth(), got.Zeroth())
	require.Equal(t, d.Radix(), got.Radix())
	require.Equal(t, d.Encode(), got.Encode())
}

func TestMigrationPredicateMatchesHashPrefix(t *testing.T) {
	h := NameHash("some-file-name.txt")
	for radix := uint8(1); radix < 10; radix++ {
		idx := hashPrefix(h, radix)
		require.True(t, MigrationPredicate(h, radix, idx))
		other := (idx + 1) % (1 << radix)
		if other != idx {
			require.False(t, MigrationPredicate(h, radix, other))
		}
	}
}

func TestNameHashIsDeterministic(t *testing.T) {
	h1 := NameHash("foo.txt")
	h2 := NameHash("foo.txt")
	require.Equal(t, h1, h2)
	require.NotEqual(t, h1, NameHash("bar.txt"))
}
