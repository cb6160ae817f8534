package metadb

import (
	"testing"

	"github.com/dreamware/giga/internal/ordstore"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T, numServers int) *MetaDB {
	t.Helper()
	return New(ordstore.NewMemStore(), numServers, 0)
}

func TestNewFileAndGetEntry(t *testing.T) {
	db := newTestDB(t, 1)
	created, err := db.NewFile(1, 0, "a.txt", 0o644, 1000, 1000)
	require.NoError(t, err)
	require.NotZero(t, created.Stat.Inode)

	got, err := db.GetEntry(1, 0, "a.txt")
	require.NoError(t, err)
	require.Equal(t, created.Stat.Inode, got.Stat.Inode)
}

func TestNewFileRejectsDuplicate(t *testing.T) {
	db := newTestDB(t, 1)
	_, err := db.NewFile(1, 0, "a.txt", 0o644, 0, 0)
	require.NoError(t, err)
	_, err = db.NewFile(1, 0, "a.txt", 0o644, 0, 0)
	require.ErrorIs(t, err, ErrAlreadyExists)
}

func TestGetEntryNotFound(t *testing.T) {
	db := newTestDB(t, 1)
	_, err := db.GetEntry(1, 0, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestReserveNextInodeNoUsesServerStride(t *testing.T) {
	db := newTestDB(t, 3)
	i1, err := db.ReserveNextInodeNo()
	require.NoError(t, err)
	i2, err := db.ReserveNextInodeNo()
	require.NoError(t, err)
	require.Equal(t, int64(3), i2-i1)
}

func TestInodeCounterSurvivesReload(t *testing.T) {
	store := ordstore.NewMemStore()
	db1 := New(store, 2, 0)
	first, err := db1.ReserveNextInodeNo()
	require.NoError(t, err)

	db2 := New(store, 2, 0)
	second, err := db2.ReserveNextInodeNo()
	require.NoError(t, err)
	require.Greater(t, second, first)
}

// Two servers in the same cluster, each with its own store (the normal
// case: no shared store until a split ships entries between them), must
// never hand out the same inode number even before either one has ever
// reserved one.
func TestReserveNextInodeNoSeedsFromServerIDAcrossCluster(t *testing.T) {
	const numServers = 4
	dbs := make([]*MetaDB, numServers)
	for id := int16(0); id < numServers; id++ {
		dbs[id] = New(ordstore.NewMemStore(), numServers, id)
	}

	seen := make(map[int64]int16)
	for id, db := range dbs {
		for i := 0; i < 10; i++ {
			inode, err := db.ReserveNextInodeNo()
			require.NoError(t, err)
			if owner, ok := seen[inode]; ok {
				t.Fatalf("inode %d reserved by both server %d and server %d", inode, owner, id)
			}
			seen[inode] = int16(id)
			require.Equal(t, int64(id), inode%numServers)
		}
	}
}

func TestNewDirectoryRecordsZeroth(t *testing.T) {
	db := newTestDB(t, 1)
	d, err := db.NewDirectory(1, 0, "sub", 0o755, 0, 0, 5)
	require.NoError(t, err)
	require.True(t, d.Stat.IsDir())
	require.Equal(t, int16(5), d.Stat.ZerothServer)
}

func TestSetFileModeAndPutEntryWithMode(t *testing.T) {
	db := newTestDB(t, 1)
	_, err := db.NewFile(1, 0, "f", 0o600, 0, 0)
	require.NoError(t, err)

	got, err := db.SetFileMode(1, 0, "f", 0o640)
	require.NoError(t, err)
	require.Equal(t, uint32(0o640), got.Stat.Mode)

	require.NoError(t, db.PutEntryWithMode(1, 0, got, 0o600))
	reread, err := db.GetEntry(1, 0, "f")
	require.NoError(t, err)
	require.Equal(t, uint32(0o600), reread.Stat.Mode)
}

func TestWriteDataAndFetchData(t *testing.T) {
	db := newTestDB(t, 1)
	_, err := db.NewFile(1, 0, "f", 0o644, 0, 0)
	require.NoError(t, err)

	_, err = db.WriteData(1, 0, "f", []byte("abcdefgh"))
	require.NoError(t, err)

	got, err := db.FetchData(1, 0, "f", 2, 4)
	require.NoError(t, err)
	require.Equal(t, []byte("cdef"), got)
}

func TestWriteDataRejectsOversizedPayload(t *testing.T) {
	db := newTestDB(t, 1)
	_, err := db.NewFile(1, 0, "f", 0o644, 0, 0)
	require.NoError(t, err)
	_, err = db.WriteData(1, 0, "f", make([]byte, DefaultEmbeddedCap+1))
	require.Error(t, err)
}

func TestListEntriesEnumeratesPartition(t *testing.T) {
	db := newTestDB(t, 1)
	names := []string{"c", "a", "b"}
	for _, n := range names {
		_, err := db.NewFile(1, 0, n, 0o644, 0, 0)
		require.NoError(t, err)
	}
	seen := map[string]bool{}
	err := db.ListEntries(1, 0, func(d *Dentry) (bool, error) {
		seen[d.Name] = true
		return true, nil
	})
	require.NoError(t, err)
	require.Len(t, seen, 3)
	for _, n := range names {
		require.True(t, seen[n])
	}
}

func TestMappingInsertAndUpdate(t *testing.T) {
	db := newTestDB(t, 1)
	_, err := db.GetMapping(1)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.InsertMapping(1, []byte("v1")))
	require.ErrorIs(t, db.InsertMapping(1, []byte("v2")), ErrAlreadyExists)

	require.NoError(t, db.UpdateMapping(1, []byte("v2")))
	got, err := db.GetMapping(1)
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), got)
}
