package metadb

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/dreamware/giga/internal/index"
	"github.com/dreamware/giga/internal/ordstore"
)

// ErrNotFound is returned when a lookup finds no dentry at the given
// (dirID, partition, name).
var ErrNotFound = errors.New("metadb: entry not found")

// ErrAlreadyExists is returned by the creation operations when an entry
// of the same name already exists in the partition.
var ErrAlreadyExists = errors.New("metadb: entry already exists")

// MetaDB layers the dentry schema (§4.3) on top of an ordstore.Store: a
// 16-byte key per entry, a FileStat-plus-name-plus-data value, and a
// per-server inode counter that starts at the server's id and advances by
// the number of servers in the cluster, so concurrently-reserving servers
// never collide.
type MetaDB struct {
	store      ordstore.Store
	numServers int
	serverID   int16
	// inodeCounter mirrors the persisted counter value in memory so
	// ReserveNextInodeNo doesn't round-trip the store on every call once
	// it has loaded the current value once.
	inodeCounter atomic.Int64
	loaded       atomic.Bool
}

// New wraps store with the dentry schema. numServers seeds the inode
// counter's stride: server i hands out inode numbers i+numServers,
// i+2*numServers, ... so no two servers ever hand out the same inode
// without coordinating. serverID is that i: the counter's stored value on
// a fresh store is serverID itself, not 0, so two servers that have never
// reserved an inode don't share a stride; each reservation adds
// numServers before returning.
func New(store ordstore.Store, numServers int, serverID int16) *MetaDB {
	return &MetaDB{store: store, numServers: numServers, serverID: serverID}
}

func dentryKey(dirID int64, partition int16, name string) ordstore.Key {
	return ordstore.NewKey(dirID, partition, index.NameHash(name))
}

// GetEntry fetches the dentry for name inside (dirID, partition).
func (m *MetaDB) GetEntry(dirID int64, partition int16, name string) (*Dentry, error) {
	v, err := m.store.Get(dentryKey(dirID, partition, name))
	if errors.Is(err, ordstore.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return DecodeDentry(v)
}

// PutEntry writes d unconditionally, creating or overwriting.
func (m *MetaDB) PutEntry(dirID int64, partition int16, d *Dentry) error {
	return m.store.Put(dentryKey(dirID, partition, d.Name), EncodeDentry(d))
}

// UpdateEntry fetches the current dentry, applies mutate, and writes the
// result back. Returns ErrNotFound if no entry exists.
func (m *MetaDB) UpdateEntry(dirID int64, partition int16, name string, mutate func(*Dentry) error) (*Dentry, error) {
	d, err := m.GetEntry(dirID, partition, name)
	if err != nil {
		return nil, err
	}
	if err := mutate(d); err != nil {
		return nil, err
	}
	if err := m.PutEntry(dirID, partition, d); err != nil {
		return nil, err
	}
	return d, nil
}

// DeleteEntry removes the dentry for name, if any.
func (m *MetaDB) DeleteEntry(dirID int64, partition int16, name string) error {
	return m.store.Delete(dentryKey(dirID, partition, name))
}

// NewFile creates a new regular-file dentry. Fails with ErrAlreadyExists
// if an entry of that name is already present.
func (m *MetaDB) NewFile(dirID int64, partition int16, name string, mode uint32, uid, gid int32) (*Dentry, error) {
	return m.create(dirID, partition, name, mode&^ModeTypeDir, uid, gid)
}

// NewDirectory creates a new directory dentry, recording zeroth as the
// server its own directory index starts on.
func (m *MetaDB) NewDirectory(dirID int64, partition int16, name string, mode uint32, uid, gid int32, zeroth int16) (*Dentry, error) {
	d, err := m.create(dirID, partition, name, mode|ModeTypeDir, uid, gid)
	if err != nil {
		return nil, err
	}
	d.Stat.ZerothServer = zeroth
	if err := m.PutEntry(dirID, partition, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (m *MetaDB) create(dirID int64, partition int16, name string, mode uint32, uid, gid int32) (*Dentry, error) {
	key := dentryKey(dirID, partition, name)
	exists, err := m.store.Exists(key)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrAlreadyExists
	}
	inode, err := m.ReserveNextInodeNo()
	if err != nil {
		return nil, err
	}
	d := &Dentry{
		Stat: FileStat{
			Inode: inode,
			Mode:  mode,
			UID:   uid,
			GID:   gid,
		},
		Name: name,
	}
	if err := m.store.Put(key, EncodeDentry(d)); err != nil {
		return nil, err
	}
	return d, nil
}

// SetFileMode replaces the permission bits of name's dentry with those of
// mode; the entry's type bit is kept as it is.
func (m *MetaDB) SetFileMode(dirID int64, partition int16, name string, mode uint32) (*Dentry, error) {
	return m.UpdateEntry(dirID, partition, name, func(d *Dentry) error {
		d.Stat.Mode = d.Stat.Mode&ModeTypeDir | mode&^ModeTypeDir
		return nil
	})
}

// PutEntryWithMode writes d after replacing the permission bits of its
// mode field with those of mode; d's type bit is kept as it is.
func (m *MetaDB) PutEntryWithMode(dirID int64, partition int16, d *Dentry, mode uint32) error {
	d.Stat.Mode = d.Stat.Mode&ModeTypeDir | mode&^ModeTypeDir
	return m.PutEntry(dirID, partition, d)
}

// GetMapping returns the raw encoded DirectoryIndex stored for dirID, if
// any.
func (m *MetaDB) GetMapping(dirID int64) ([]byte, error) {
	v, err := m.store.Get(ordstore.SystemKey(dirID))
	if errors.Is(err, ordstore.ErrNotFound) {
		return nil, ErrNotFound
	}
	return v, err
}

// InsertMapping stores the initial DirectoryIndex encoding for a newly
// created directory. Fails with ErrAlreadyExists if one is already
// present.
func (m *MetaDB) InsertMapping(dirID int64, encoded []byte) error {
	key := ordstore.SystemKey(dirID)
	exists, err := m.store.Exists(key)
	if err != nil {
		return err
	}
	if exists {
		return ErrAlreadyExists
	}
	return m.store.Put(key, encoded)
}

// UpdateMapping overwrites the stored DirectoryIndex encoding for dirID.
func (m *MetaDB) UpdateMapping(dirID int64, encoded []byte) error {
	return m.store.Put(ordstore.SystemKey(dirID), encoded)
}

// ListEntries enumerates every dentry in (dirID, partition) in hash
// order, always from the partition's first key, calling fn for each. fn
// returning false stops the scan. It takes no offset or start hash, so a
// listing cannot resume part-way through a partition.
func (m *MetaDB) ListEntries(dirID int64, partition int16, fn func(*Dentry) (bool, error)) error {
	return m.store.ScanPrefix(ordstore.PartitionPrefix(dirID, partition), func(k ordstore.Key, v []byte) (bool, error) {
		d, err := DecodeDentry(v)
		if err != nil {
			return false, err
		}
		return fn(d)
	})
}

// FetchData reads up to length bytes of embedded data starting at
// offset, for a file that stores its content inline.
func (m *MetaDB) FetchData(dirID int64, partition int16, name string, offset, length int) ([]byte, error) {
	d, err := m.GetEntry(dirID, partition, name)
	if err != nil {
		return nil, err
	}
	if d.Stat.Flags&FlagEmbedded == 0 {
		return nil, fmt.Errorf("metadb: %q has no embedded data", name)
	}
	if offset > len(d.Data) {
		return nil, nil
	}
	end := offset + length
	if end > len(d.Data) || length < 0 {
		end = len(d.Data)
	}
	return d.Data[offset:end], nil
}

// WriteData overwrites a file's embedded content, up to
// DefaultEmbeddedCap bytes.
func (m *MetaDB) WriteData(dirID int64, partition int16, name string, data []byte) (*Dentry, error) {
	if len(data) > DefaultEmbeddedCap {
		return nil, fmt.Errorf("metadb: %d bytes exceeds embedded data cap of %d", len(data), DefaultEmbeddedCap)
	}
	return m.UpdateEntry(dirID, partition, name, func(d *Dentry) error {
		d.Data = append([]byte(nil), data...)
		d.Stat.Flags |= FlagEmbedded
		d.Stat.Size = int64(len(data))
		return nil
	})
}

// ReserveNextInodeNo hands out the next inode number on this server's
// stride: it adds numServers to the counter and returns the new value,
// persisting
// the updated counter before returning so a crash never hands out the
// same inode twice.
func (m *MetaDB) ReserveNextInodeNo() (int64, error) {
	if !m.loaded.Load() {
		if err := m.loadInodeCounter(); err != nil {
			return 0, err
		}
	}
	next := m.inodeCounter.Add(int64(m.numServers))
	if err := m.persistInodeCounter(next); err != nil {
		return 0, err
	}
	return next, nil
}

func (m *MetaDB) loadInodeCounter() error {
	v, err := m.store.Get(ordstore.InodeCounterKey())
	switch {
	case errors.Is(err, ordstore.ErrNotFound):
		m.inodeCounter.Store(int64(m.serverID))
	case err != nil:
		return err
	default:
		if len(v) < 8 {
			return fmt.Errorf("metadb: corrupt inode counter record")
		}
		m.inodeCounter.Store(decodeInt64(v))
	}
	m.loaded.Store(true)
	return nil
}

func (m *MetaDB) persistInodeCounter(v int64) error {
	return m.store.Put(ordstore.InodeCounterKey(), encodeInt64(v))
}

func encodeInt64(v int64) []byte {
	b := make([]byte, 8)
	u := uint64(v)
	for i := 7; i >= 0; i-- {
		b[i] = byte(u)
		u >>= 8
	}
	return b
}

func decodeInt64(b []byte) int64 {
	var u uint64
	for i := 0; i < 8; i++ {
		u = u<<8 | uint64(b[i])
	}
	return int64(u)
}

// BulkInsert installs a pre-sorted batch of dentries directly, for the
// destination side of a split. Entries must already be keyed at the
// destination partition.
func (m *MetaDB) BulkInsert(run ordstore.SortedRun) error {
	return m.store.BulkIngest(run)
}
