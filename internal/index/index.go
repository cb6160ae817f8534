package index

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"sync"
)

// DefaultMaxRadix is the default radix ceiling of a directory's index:
// its bitmap has room for 2^14 partition bits, and no partition whose
// child index would fall beyond that can split.
const DefaultMaxRadix uint8 = 14

const indexMagic uint32 = 0x47494758 // "GIGX"

// DirectoryIndex is the growing bitmap that routes a file name to a
// partition, and a partition to a server. Bit i of the bitmap is set once
// partition i exists; splitting partition i creates child partition
// ChildIndex(i) and sets its bit.
type DirectoryIndex struct {
	mu       sync.RWMutex
	dirID    int64
	zeroth   int16
	maxRadix uint8
	radix    uint8
	bits     []byte // bit i lives at bits[i/8], mask 1<<(i%8)
}

// New creates a DirectoryIndex for dirID, rooted at server zeroth, with
// partition 0 already present (every directory starts as a single
// partition on its zeroth server).
func New(dirID int64, zeroth int16, maxRadix uint8) *DirectoryIndex {
	if maxRadix == 0 {
		maxRadix = DefaultMaxRadix
	}
	d := &DirectoryIndex{
		dirID:    dirID,
		zeroth:   zeroth,
		maxRadix: maxRadix,
		bits:     make([]byte, (1<<maxRadix)/8),
	}
	d.setBitLocked(0)
	return d
}

// DirID returns the directory this index belongs to.
func (d *DirectoryIndex) DirID() int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.dirID
}

// Zeroth returns the zeroth server for this directory.
func (d *DirectoryIndex) Zeroth() int16 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.zeroth
}

// Radix returns the current radix (highest level at which a partition has
// ever been created).
func (d *DirectoryIndex) Radix() uint8 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.radix
}

func (d *DirectoryIndex) bitSetLocked(i int) bool {
	return d.bits[i/8]&(1<<(uint(i)%8)) != 0
}

func (d *DirectoryIndex) setBitLocked(i int) {
	d.bits[i/8] |= 1 << (uint(i) % 8)
	lvl := levelOf(i)
	if lvl > d.radix {
		d.radix = lvl
	}
}

// IsSet reports whether partition i currently exists.
func (d *DirectoryIndex) IsSet(i int) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.bitSetLocked(i)
}

// SetBit marks partition i as present, growing the radix if needed. It is
// idempotent: setting an already-set bit is a no-op.
func (d *DirectoryIndex) SetBit(i int) error {
	if i < 0 || i >= len(d.bits)*8 {
		return fmt.Errorf("index: partition %d out of range for maxRadix %d", i, d.maxRadix)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setBitLocked(i)
	return nil
}

// levelOf returns the number of low bits needed to address partition i —
// 0 for the root, bits.Len(i) otherwise. This is the radix at which
// partition i was created: splitting it creates a child one level deeper.
func levelOf(i int) uint8 {
	if i == 0 {
		return 0
	}
	return uint8(bits.Len(uint(i)))
}

// ChildIndex returns the partition index created by splitting partition
// i: i with a single extra high bit set at its own level, the standard
// GIGA+ binary-trie addressing scheme (partition index bits, read from
// the low end, spell out the trie path taken to reach that partition).
func ChildIndex(i int) int {
	return i + (1 << levelOf(i))
}

// GetIndex implements routing rule F: compute the partition a name routes
// to at the index's current radix, then descend to the nearest ancestor
// partition that actually exists (handles names whose target partition
// hasn't been created yet because some other branch of the trie split
// first).
func (d *DirectoryIndex) GetIndex(name string) int {
	h := NameHash(name)
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.getIndexLocked(h)
}

func (d *DirectoryIndex) getIndexLocked(h uint64) int {
	idx := hashPrefix(h, d.radix)
	for idx != 0 && !d.bitSetLocked(idx) {
		idx = parentIndex(idx)
	}
	return idx
}

// parentIndex returns the partition a child was split from: clearing the
// single high bit ChildIndex would have added.
func parentIndex(i int) int {
	if i == 0 {
		return 0
	}
	highBit := bits.Len(uint(i)) - 1
	return i &^ (1 << highBit)
}

// MigrationPredicate reports whether a record whose name hashes to h
// belongs in childIndex once the parent splits at childRadix (the radix
// at which childIndex was created) — used by the split's extraction pass
// to decide which keys move.
func MigrationPredicate(h uint64, childRadix uint8, childIndex int) bool {
	return hashPrefix(h, childRadix) == childIndex
}

// ServerForIndex applies the server-mapping rule: partition i lives on
// server (i + zeroth) mod numServers.
func (d *DirectoryIndex) ServerForIndex(i int, numServers int) int16 {
	d.mu.RLock()
	z := d.zeroth
	d.mu.RUnlock()
	return int16((int(z) + i) % numServers)
}

// IsSplittable reports whether partition i exists, its split child does
// not yet exist, and creating that child would stay within maxRadix.
func (d *DirectoryIndex) IsSplittable(i int) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.bitSetLocked(i) {
		return false
	}
	child := ChildIndex(i)
	if child >= len(d.bits)*8 {
		return false
	}
	return !d.bitSetLocked(child)
}

// Update merges another index's bitmap into this one (a bitwise OR) and
// raises this index's radix to the max of the two. Merging is idempotent
// and commutative, matching the "merge, never overwrite" contract a
// client's cached index and a server's authoritative index both rely on.
func (d *DirectoryIndex) Update(other *DirectoryIndex) error {
	if other == nil {
		return nil
	}
	d.mu.Lock()
	other.mu.RLock()
	defer other.mu.RUnlock()
	defer d.mu.Unlock()
	if len(d.bits) != len(other.bits) {
		return fmt.Errorf("index: maxRadix mismatch merging directory index (have %d bytes, got %d)", len(d.bits), len(other.bits))
	}
	for i := range d.bits {
		d.bits[i] |= other.bits[i]
	}
	if other.radix > d.radix {
		d.radix = other.radix
	}
	if other.zeroth != 0 && d.zeroth == 0 {
		d.zeroth = other.zeroth
	}
	return nil
}

// Clone returns a deep copy, safe to mutate independently.
func (d *DirectoryIndex) Clone() *DirectoryIndex {
	d.mu.RLock()
	defer d.mu.RUnlock()
	cp := &DirectoryIndex{
		dirID:    d.dirID,
		zeroth:   d.zeroth,
		maxRadix: d.maxRadix,
		radix:    d.radix,
		bits:     append([]byte(nil), d.bits...),
	}
	return cp
}

// Encode serializes the index to a self-describing byte slice, used both
// to persist a directory's system record and to ship a DI over the wire
// as a redirection hint.
func (d *DirectoryIndex) Encode() []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	buf := make([]byte, 4+8+2+1+4+len(d.bits))
	binary.BigEndian.PutUint32(buf[0:4], indexMagic)
	binary.BigEndian.PutUint64(buf[4:12], uint64(d.dirID))
	binary.BigEndian.PutUint16(buf[12:14], uint16(d.zeroth))
	buf[14] = d.maxRadix
	binary.BigEndian.PutUint32(buf[15:19], uint32(len(d.bits)))
	copy(buf[19:], d.bits)
	return buf
}

// Decode parses the byte slice produced by Encode.
func Decode(b []byte) (*DirectoryIndex, error) {
	if len(b) < 19 {
		return nil, fmt.Errorf("index: truncated encoding (%d bytes)", len(b))
	}
	if binary.BigEndian.Uint32(b[0:4]) != indexMagic {
		return nil, fmt.Errorf("index: bad magic")
	}
	dirID := int64(binary.BigEndian.Uint64(b[4:12]))
	zeroth := int16(binary.BigEndian.Uint16(b[12:14]))
	maxRadix := b[14]
	n := binary.BigEndian.Uint32(b[15:19])
	if len(b) < 19+int(n) {
		return nil, fmt.Errorf("index: truncated bitmap (want %d bytes)", n)
	}
	d := &DirectoryIndex{
		dirID:    dirID,
		zeroth:   zeroth,
		maxRadix: maxRadix,
		bits:     append([]byte(nil), b[19:19+n]...),
	}
	for i := 0; i < len(d.bits)*8; i++ {
		if d.bitSetLocked(i) {
			if lvl := levelOf(i); lvl > d.radix {
				d.radix = lvl
			}
		}
	}
	return d, nil
}
