// Package integration exercises the metadata cluster end to end, wiring
// real internal/server instances behind httptest.Servers and driving
// them through internal/client exactly as cmd/metactl would.
package integration

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/dreamware/giga/internal/client"
	"github.com/dreamware/giga/internal/config"
	"github.com/dreamware/giga/internal/index"
	"github.com/dreamware/giga/internal/ordstore"
	"github.com/dreamware/giga/internal/rpc"
	"github.com/dreamware/giga/internal/server"
	"github.com/stretchr/testify/require"
)

type testNode struct {
	srv *server.Server
	ts  *httptest.Server
}

// startCluster spins up n metadata servers sharing one membership
// table, each backed by its own store, with directory 0 seeded on
// server 0 only, unless server 0's store already holds it (so later lookups must route and, where relevant,
// redirect rather than find every directory pre-populated everywhere).
func startCluster(t *testing.T, n int, stores []ordstore.Store, maxPartSize int) ([]*testNode, *rpc.Membership) {
	t.Helper()
	addrs := make([]string, n)
	membership := rpc.NewMembership(addrs)
	nodes := make([]*testNode, n)
	for i := 0; i < n; i++ {
		s := server.New(server.Config{
			ID:          int16(i),
			NumServers:  n,
			Store:       stores[i],
			Pool:        rpc.NewPool(membership, 1),
			LeaseWindow: time.Second,
			Epsilon:     10 * time.Millisecond,
			MaxPartSize: maxPartSize,
		})
		if i == 0 {
			// A restarted server's store already holds the root's index.
			if _, err := s.DB.GetMapping(0); err != nil {
				di := index.New(0, 0, index.DefaultMaxRadix)
				require.NoError(t, s.DB.InsertMapping(0, di.Encode()))
			}
		}
		ts := httptest.NewServer(s.Mux())
		t.Cleanup(ts.Close)
		nodes[i] = &testNode{srv: s, ts: ts}
		addrs[i] = ts.Listener.Addr().String()
		membership.Set(addrs)
	}
	return nodes, membership
}

func memStores(n int) []ordstore.Store {
	stores := make([]ordstore.Store, n)
	for i := range stores {
		stores[i] = ordstore.NewMemStore()
	}
	return stores
}

func newClusterClient(membership *rpc.Membership, n int) *client.Client {
	pool := rpc.NewPool(membership, 3)
	return client.New(pool, n, config.Default())
}

// S1: single-server mknod+getattr.
func TestSingleServerMknodGetattr(t *testing.T) {
	_, membership := startCluster(t, 1, memStores(1), 1<<11)
	c := newClusterClient(membership, 1)
	ctx := context.Background()

	_, err := c.Mkdir(ctx, 0, "a", 0o755, 0, 0)
	require.NoError(t, err)

	aDir, err := c.Resolve(ctx, "/a")
	require.NoError(t, err)

	_, err = c.Mknod(ctx, aDir.Inode, "f", 0o644, 0, 0)
	require.NoError(t, err)

	info, err := c.Resolve(ctx, "/a/f")
	require.NoError(t, err)
	require.Equal(t, uint32(0o644), info.Mode&0o777)

	stat, err := c.Mknod(ctx, aDir.Inode, "g", 0o600, 0, 0)
	require.NoError(t, err)
	require.Zero(t, stat.Size)
	require.False(t, stat.IsDir)
}

// S3: triggered split. With MaxPartSize=8, the 9th create under /d
// triggers a split: the directory's stored index gains a bit, and a
// listing still returns every created name.
func TestTriggeredSplit(t *testing.T) {
	nodes, membership := startCluster(t, 1, memStores(1), 8)
	c := newClusterClient(membership, 1)
	ctx := context.Background()

	dStat, err := c.Mkdir(ctx, 0, "d", 0o755, 0, 0)
	require.NoError(t, err)

	names := make([]string, 9)
	for i := range names {
		names[i] = nameFor(i)
		_, err := c.Mknod(ctx, dStat.Inode, names[i], 0o644, 0, 0)
		require.NoError(t, err)
	}

	// The split runs asynchronously once Mknod sees the partition over
	// MaxPartSize; wait for the stored index to record it.
	require.Eventually(t, func() bool {
		di, err := nodes[0].srv.DB.GetMapping(dStat.Inode)
		if err != nil {
			return false
		}
		decoded, err := index.Decode(di)
		require.NoError(t, err)
		return decoded.Radix() > 0
	}, 2*time.Second, 20*time.Millisecond)

	all, err := c.Readdir(ctx, dStat.Inode)
	require.NoError(t, err)
	require.Len(t, all, 9)
}

// S5: pre-split and bulk insert. A presplit into 4 partitions followed
// by a buffered bulk load must land every file, and a listing across all
// partitions the presplit installed must return each of them.
func TestPresplitAndBulkLoad(t *testing.T) {
	_, membership := startCluster(t, 4, memStores(4), 1<<11)
	c := newClusterClient(membership, 4)
	batch := client.NewBatchClient(c, 4)
	ctx := context.Background()

	dirID, err := batch.MkdirPresplit(ctx, 0, "big", 0o755, 0, 0)
	require.NoError(t, err)

	names := make([]string, 400)
	for i := range names {
		names[i] = nameFor(i)
	}
	require.NoError(t, batch.LoadFiles(ctx, dirID, names, 0o644, 0, 0))

	all, err := c.Readdir(ctx, dirID)
	require.NoError(t, err)
	require.Len(t, all, 400)
}

// S6: restart durability. A server holding many dentries under a
// directory, killed and restarted against the same on-disk store, comes
// back with the same inode counter and directory listing.
func TestRestartDurability(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "metaserver.db")
	store, err := ordstore.OpenBoltStore(dbPath)
	require.NoError(t, err)

	nodes, membership := startCluster(t, 1, []ordstore.Store{store}, 1<<11)
	c := newClusterClient(membership, 1)
	ctx := context.Background()

	dStat, err := c.Mkdir(ctx, 0, "d", 0o755, 0, 0)
	require.NoError(t, err)

	const count = 200
	names := make([]string, count)
	for i := range names {
		names[i] = nameFor(i)
		_, err := c.Mknod(ctx, dStat.Inode, names[i], 0o644, 0, 0)
		require.NoError(t, err)
	}

	before, err := c.Readdir(ctx, dStat.Inode)
	require.NoError(t, err)
	require.Len(t, before, count)

	nextInodeBeforeRestart, err := nodes[0].srv.DB.ReserveNextInodeNo()
	require.NoError(t, err)

	require.NoError(t, nodes[0].srv.Close())
	nodes[0].ts.Close()

	reopened, err := ordstore.OpenBoltStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	restarted, membership2 := startCluster(t, 1, []ordstore.Store{reopened}, 1<<11)
	c2 := newClusterClient(membership2, 1)

	nextInodeAfterRestart, err := restarted[0].srv.DB.ReserveNextInodeNo()
	require.NoError(t, err)
	require.Equal(t, nextInodeBeforeRestart+1, nextInodeAfterRestart)

	dAfter, err := c2.Resolve(ctx, "/d")
	require.NoError(t, err)
	require.Equal(t, dStat.Inode, dAfter.Inode)

	after, err := c2.Readdir(ctx, dAfter.Inode)
	require.NoError(t, err)
	require.ElementsMatch(t, before, after)
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
