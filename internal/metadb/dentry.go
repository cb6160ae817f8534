package metadb

import (
	"encoding/binary"
	"fmt"
)

// statHeaderSize is the fixed-width prefix of an encoded Dentry: all of
// FileStat's scalar fields, little-endian, padded out to a round 64
// bytes so future fields have somewhere to go without reshuffling the
// three varint-length fields that follow.
const statHeaderSize = 64

// ModeTypeDir is set in FileStat.Mode to mark a directory entry; the low
// 9 bits of Mode carry the usual rwxrwxrwx permission bits.
const ModeTypeDir uint32 = 1 << 31

// FlagEmbedded marks that DentryData holds the file's content inline
// rather than a reference to external storage.
const FlagEmbedded uint8 = 1 << 0

// DefaultEmbeddedCap is the largest payload this implementation will
// store inline in a Dentry's Data field before a caller should fall back
// to writing to external storage and recording a Path instead.
const DefaultEmbeddedCap = 64 * 1024

// FileStat is the fixed-width portion of a Dentry's value: everything a
// stat(2) call needs, plus the zeroth server a directory's children
// should resolve through.
type FileStat struct {
	Inode        int64
	Size         int64
	Mode         uint32
	Flags        uint8
	ZerothServer int16
	UID          int32
	GID          int32
	Ctime        int64
	Mtime        int64
}

// IsDir reports whether this entry is a directory.
func (s FileStat) IsDir() bool { return s.Mode&ModeTypeDir != 0 }

// Dentry is the full value stored at a metadata key: a FileStat header
// plus the entry's name, an optional external storage path, and optional
// embedded data.
type Dentry struct {
	Stat FileStat
	Name string
	Path string
	Data []byte
}

func encodeStat(s FileStat) []byte {
	b := make([]byte, statHeaderSize)
	binary.LittleEndian.PutUint64(b[0:8], uint64(s.Inode))
	binary.LittleEndian.PutUint64(b[8:16], uint64(s.Size))
	binary.LittleEndian.PutUint32(b[16:20], s.Mode)
	b[20] = s.Flags
	binary.LittleEndian.PutUint16(b[22:24], uint16(s.ZerothServer))
	binary.LittleEndian.PutUint32(b[24:28], uint32(s.UID))
	binary.LittleEndian.PutUint32(b[28:32], uint32(s.GID))
	binary.LittleEndian.PutUint64(b[32:40], uint64(s.Ctime))
	binary.LittleEndian.PutUint64(b[40:48], uint64(s.Mtime))
	// b[48:64] reserved, left zero.
	return b
}

func decodeStat(b []byte) (FileStat, error) {
	if len(b) < statHeaderSize {
		return FileStat{}, fmt.Errorf("metadb: truncated stat header (%d bytes)", len(b))
	}
	return FileStat{
		Inode:        int64(binary.LittleEndian.Uint64(b[0:8])),
		Size:         int64(binary.LittleEndian.Uint64(b[8:16])),
		Mode:         binary.LittleEndian.Uint32(b[16:20]),
		Flags:        b[20],
		ZerothServer: int16(binary.LittleEndian.Uint16(b[22:24])),
		UID:          int32(binary.LittleEndian.Uint32(b[24:28])),
		GID:          int32(binary.LittleEndian.Uint32(b[28:32])),
		Ctime:        int64(binary.LittleEndian.Uint64(b[32:40])),
		Mtime:        int64(binary.LittleEndian.Uint64(b[40:48])),
	}, nil
}

func putVarlenField(buf []byte, s []byte) []byte {
	var lenbuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenbuf[:], uint64(len(s)))
	buf = append(buf, lenbuf[:n]...)
	return append(buf, s...)
}

func readVarlenField(b []byte) (field []byte, rest []byte, err error) {
	n, nbytes := binary.Uvarint(b)
	if nbytes <= 0 {
		return nil, nil, fmt.Errorf("metadb: bad varint length prefix")
	}
	b = b[nbytes:]
	if uint64(len(b)) < n {
		return nil, nil, fmt.Errorf("metadb: truncated field (want %d bytes, have %d)", n, len(b))
	}
	return b[:n], b[n:], nil
}

// EncodeDentry serializes d into the on-disk value format: the 64-byte
// FileStat header followed by three varint-length-prefixed fields (name,
// path, data), in that order.
func EncodeDentry(d *Dentry) []byte {
	buf := make([]byte, 0, statHeaderSize+len(d.Name)+len(d.Path)+len(d.Data)+12)
	buf = append(buf, encodeStat(d.Stat)...)
	buf = putVarlenField(buf, []byte(d.Name))
	buf = putVarlenField(buf, []byte(d.Path))
	buf = putVarlenField(buf, d.Data)
	return buf
}

// DecodeDentry parses the value format EncodeDentry produces.
func DecodeDentry(b []byte) (*Dentry, error) {
	if len(b) < statHeaderSize {
		return nil, fmt.Errorf("metadb: truncated dentry (%d bytes)", len(b))
	}
	stat, err := decodeStat(b[:statHeaderSize])
	if err != nil {
		return nil, err
	}
	rest := b[statHeaderSize:]

	name, rest, err := readVarlenField(rest)
	if err != nil {
		return nil, fmt.Errorf("metadb: decoding name: %w", err)
	}
	path, rest, err := readVarlenField(rest)
	if err != nil {
		return nil, fmt.Errorf("metadb: decoding path: %w", err)
	}
	data, _, err := readVarlenField(rest)
	if err != nil {
		return nil, fmt.Errorf("metadb: decoding data: %w", err)
	}

	return &Dentry{
		Stat: stat,
		Name: string(name),
		Path: string(path),
		Data: append([]byte(nil), data...),
	}, nil
}
