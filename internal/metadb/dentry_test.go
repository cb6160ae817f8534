package metadb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeDentryRoundTrip(t *testing.T) {
	d := &Dentry{
		Stat: FileStat{
			Inode:        42,
			Size:         1234,
			Mode:         0o644,
			Flags:        FlagEmbedded,
			ZerothServer: 3,
			UID:          1000,
			GID:          1000,
			Ctime:        1690000000,
			Mtime:        1690000500,
		},
		Name: "report.txt",
		Path: "",
		Data: []byte("hello world"),
	}
	enc := EncodeDentry(d)
	got, err := DecodeDentry(enc)
	require.NoError(t, err)
	require.Equal(t, d.Stat, got.Stat)
	require.Equal(t, d.Name, got.Name)
	require.Equal(t, d.Data, got.Data)
}

func TestEncodeDecodeDentryWithExternalPath(t *testing.T) {
	d := &Dentry{
		Stat: FileStat{Inode: 7, Mode: ModeTypeDir | 0o755},
		Name: "big-blob",
		Path: "/var/giga/blobs/00/07",
	}
	enc := EncodeDentry(d)
	got, err := DecodeDentry(enc)
	require.NoError(t, err)
	require.True(t, got.Stat.IsDir())
	require.Equal(t, "/var/giga/blobs/00/07", got.Path)
	require.Empty(t, got.Data)
}

func TestDecodeDentryRejectsTruncatedInput(t *testing.T) {
	_, err := DecodeDentry(make([]byte, 10))
	require.Error(t, err)
}
