package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadConfigFileOverridesDefaults(t *testing.T) {
	path := writeTemp(t, "giga.conf", `
# comment line
file_dir /var/giga/files
FS_DIR_SPLIT_THR 4096
old_data true
`)
	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)
	require.Equal(t, "/var/giga/files", cfg.FileDir)
	require.Equal(t, 4096, cfg.DirSplitThreshold)
	require.True(t, cfg.OldData)
	// Untouched keys keep their defaults.
	require.Equal(t, DefaultMknodBufSize, cfg.BulkSize)
}

func TestLoadConfigFileRejectsUnknownKey(t *testing.T) {
	path := writeTemp(t, "giga.conf", "bogus_key 1\n")
	_, err := LoadConfigFile(path)
	require.Error(t, err)
}

func TestLoadMembershipFile(t *testing.T) {
	path := writeTemp(t, "membership", "10.0.0.1 9000\n10.0.0.2 9000\n10.0.0.3 9000\n")
	m, err := LoadMembershipFile(path)
	require.NoError(t, err)
	require.Equal(t, []string{"10.0.0.1:9000", "10.0.0.2:9000", "10.0.0.3:9000"}, m.Addrs)
}
