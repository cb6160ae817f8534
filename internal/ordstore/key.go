// Package ordstore defines the abstract ordered key/value contract that
// the metadata layer is built on, plus two implementations: an in-memory
// store for tests and single-process demos, and a durable bbolt-backed
// store.
package ordstore

import "bytes"

// Key is the fixed 16-byte tuple every metadata record is addressed by:
//
//	[ 6 bytes dir_id | 2 bytes partition_index | 8 bytes hash ]
//
// dir_id and partition_index are stored as two's-complement signed
// integers, so the sentinel value -1 naturally sets the top bit of its
// field — that's what marks a "special" directory id (the global inode
// counter) or a "system" partition (a directory's own stored
// DirectoryIndex) without a separate flag byte. Ordinary, non-negative
// ids and partitions therefore sort correctly under plain byte
// comparison, which is what ScanPrefix relies on.
type Key [16]byte

// SpecialDirID is the dir_id sentinel used for records that aren't scoped
// to any one directory (currently just the inode counter).
const SpecialDirID int64 = -1

// SystemPartition is the partition sentinel a directory uses to store its
// own DirectoryIndex, distinct from any real partition index.
const SystemPartition int16 = -1

// NewKey packs a directory id, partition index and hash lane into a Key.
func NewKey(dirID int64, partition int16, hash uint64) Key {
	var k Key
	putInt48(k[0:6], dirID)
	putInt16(k[6:8], partition)
	putUint64(k[8:16], hash)
	return k
}

// DirID unpacks the directory id field.
func (k Key) DirID() int64 { return getInt48(k[0:6]) }

// Partition unpacks the partition index field.
func (k Key) Partition() int16 { return getInt16(k[6:8]) }

// Hash unpacks the hash lane field.
func (k Key) Hash() uint64 { return getUint64(k[8:16]) }

// IsSpecial reports whether this key belongs to the special-dir_id space
// (e.g. the inode counter), rather than to an ordinary directory.
func (k Key) IsSpecial() bool { return k.DirID() == SpecialDirID }

// IsSystemPartition reports whether this key is a directory's own system
// record (its stored DirectoryIndex) rather than a dentry.
func (k Key) IsSystemPartition() bool { return k.Partition() == SystemPartition }

// Less reports whether k sorts before other under the store's ordering.
func (k Key) Less(other Key) bool { return bytes.Compare(k[:], other[:]) < 0 }

// Bytes returns the raw 16-byte encoding, suitable as a store-native key
// (bbolt keys, map keys, etc).
func (k Key) Bytes() []byte { return k[:] }

// PartitionPrefix returns the 8-byte prefix shared by every key in a given
// (dirID, partition) partition — pass this to Store.ScanPrefix to
// enumerate a partition in hash order.
func PartitionPrefix(dirID int64, partition int16) []byte {
	b := make([]byte, 8)
	putInt48(b[0:6], dirID)
	putInt16(b[6:8], partition)
	return b
}

// DirPrefix returns the 6-byte prefix shared by every key under a given
// directory id, across all of its partitions.
func DirPrefix(dirID int64) []byte {
	b := make([]byte, 6)
	putInt48(b[0:6], dirID)
	return b
}

// SystemKey returns the key a directory's own DirectoryIndex record is
// stored under.
func SystemKey(dirID int64) Key {
	return NewKey(dirID, SystemPartition, 0)
}

// InodeCounterKey returns the key the global inode counter is stored
// under.
func InodeCounterKey() Key {
	return NewKey(SpecialDirID, SystemPartition, 0)
}

func putInt48(b []byte, v int64) {
	u := uint64(v) & 0xFFFFFFFFFFFF
	for i := 5; i >= 0; i-- {
		b[i] = byte(u)
		u >>= 8
	}
}

func getInt48(b []byte) int64 {
	var u uint64
	for i := 0; i < 6; i++ {
		u = u<<8 | uint64(b[i])
	}
	if u&(1<<47) != 0 {
		u |= 0xFFFF000000000000
	}
	return int64(u)
}

func putInt16(b []byte, v int16) {
	u := uint16(v)
	b[0] = byte(u >> 8)
	b[1] = byte(u)
}

func getInt16(b []byte) int16 {
	return int16(uint16(b[0])<<8 | uint16(b[1]))
}

func putUint64(b []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}

func getUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}
