package index

import "github.com/spaolacci/murmur3"

// NameHash returns the routing hash for a file/directory name:
// MurmurHash3-128 (seed 0) of name, truncated to its first 8 bytes and
// read back as a big-endian uint64 — the "hash lane" stored in the
// bottom 8 bytes of every ordstore.Key.
func NameHash(name string) uint64 {
	h1, _ := murmur3.Sum128WithSeed([]byte(name), 0)
	return h1
}

// reverseByte reverses the bit order within a single byte.
func reverseByte(b byte) byte {
	b = (b&0xF0)>>4 | (b&0x0F)<<4
	b = (b&0xCC)>>2 | (b&0x33)<<2
	b = (b&0xAA)>>1 | (b&0x55)<<1
	return b
}

// reverseBits64 reverses the bits within each byte of h independently
// (byte order is unchanged). Routing rule F reads its radix bits from the
// low end of this permuted value: reversing within each byte spreads
// sequential hash values across the partition space instead of
// clustering them in the low partitions as plain LSBs would.
func reverseBits64(h uint64) uint64 {
	var out uint64
	for i := 0; i < 8; i++ {
		b := byte(h >> (8 * i))
		out |= uint64(reverseByte(b)) << (8 * i)
	}
	return out
}

// hashPrefix returns the low `radix` bits of h's bit-reversed form — the
// partition index a name with hash h maps to at a given radix, before
// routing rule F's descent to the nearest set ancestor.
func hashPrefix(h uint64, radix uint8) int {
	if radix == 0 {
		return 0
	}
	rh := reverseBits64(h)
	mask := uint64(1)<<radix - 1
	return int(rh & mask)
}
