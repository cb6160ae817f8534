package server

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dreamware/giga/internal/index"
	"github.com/dreamware/giga/internal/metadb"
	"github.com/dreamware/giga/internal/ordstore"
	"github.com/dreamware/giga/internal/rpc"
	"github.com/stretchr/testify/require"
)

// newTestCluster spins up n metadata servers behind httptest.Servers,
// sharing one membership table so each can reach the others.
func newTestCluster(t *testing.T, n int) []*Server {
	t.Helper()
	addrs := make([]string, n)
	membership := rpc.NewMembership(addrs)
	servers := make([]*Server, n)
	for i := 0; i < n; i++ {
		s := New(Config{
			ID:          int16(i),
			NumServers:  n,
			Store:       ordstore.NewMemStore(),
			Pool:        rpc.NewPool(membership, 1),
			LeaseWindow: time.Second,
			Epsilon:     10 * time.Millisecond,
			MaxPartSize: 1 << 11,
		})
		srv := httptest.NewServer(s.Mux())
		t.Cleanup(srv.Close)
		servers[i] = s
		addrs[i] = srv.Listener.Addr().String()
		membership.Set(addrs)
	}
	return servers
}

func TestCrossServerSplitMigratesEntries(t *testing.T) {
	servers := newTestCluster(t, 2)
	zeroth := servers[0]

	di := index.New(1, 0, 4)
	require.NoError(t, zeroth.DB.InsertMapping(1, di.Encode()))
	zeroth.storeIndex(1, di)

	const n = 40
	for i := 0; i < n; i++ {
		env := zeroth.Mknod(rpc.MknodRequest{OID: rpc.OIDWire{DirID: 1, Name: nameFor(i)}, Mode: 0o644})
		require.Nil(t, env.Error, "mknod %d", i)
	}

	cur, err := zeroth.loadIndex(1)
	require.NoError(t, err)
	require.NoError(t, zeroth.Split.runSplit(1, 0, cur))

	// After the split, partition 1 (the new child) must live on server 1
	// and contain at least one of the migrated entries.
	other := servers[1]
	var migrated int
	require.NoError(t, other.DB.ListEntries(1, 1, func(d *metadb.Dentry) (bool, error) {
		migrated++
		return true, nil
	}))
	require.Greater(t, migrated, 0)

	var remaining int
	require.NoError(t, zeroth.DB.ListEntries(1, 0, func(d *metadb.Dentry) (bool, error) {
		remaining++
		return true, nil
	}))
	require.Equal(t, n, remaining+migrated)
}

func nameFor(i int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, 0, 8)
	for i > 0 || len(b) == 0 {
		b = append(b, letters[i%len(letters)])
		i /= len(letters)
	}
	return string(b) + ".txt"
}
