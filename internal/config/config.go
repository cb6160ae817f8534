// Package config parses the plain-text membership and configuration file
// formats the cluster is started with. Both are deliberately simple
// line-oriented formats (spec.md §6), kept that way rather than adopting
// a structured format like YAML or TOML: there is no nesting or typed
// schema here that a parsing library would help with, just named
// defaults overridable by "key value" lines.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Defaults, named exactly as spec.md §6 and §9.2 name them.
const (
	// DefaultMaxPartSize is the partition size, in entries, that
	// triggers a split (2^11).
	DefaultMaxPartSize = 1 << 11
	// DefaultLeaseWindowMillis is how long a granted lease is valid
	// for, in milliseconds.
	DefaultLeaseWindowMillis = 1000
	// DefaultEpsilonMillis is the clock-skew allowance added to lease
	// waits.
	DefaultEpsilonMillis = 10
	// DefaultNumRedirect is the client's redirection retry cap.
	DefaultNumRedirect = 10
	// DefaultMknodBufSize is how many buffered Mknod calls accumulate
	// per destination server before an automatic flush.
	DefaultMknodBufSize = 128
	// DefaultMaxRadix is the directory index's partition-count ceiling.
	DefaultMaxRadix = 14
	// DefaultDmapCacheSize and DefaultDentCacheSize are the client's LRU
	// cache capacities (2^15 per spec.md §6).
	DefaultDmapCacheSize = 1 << 15
	DefaultDentCacheSize = 1 << 15
)

// Config holds the tunables read from the key-value config file. Fields
// left unset by the file keep their named defaults.
type Config struct {
	FileDir  string
	DBRoot   string
	DBHome   string
	DBSplit  string
	OldData  bool
	MaxRadix uint8

	DirSplitThreshold int
	BulkSize          int
	DirBulkSize       int
	DmapCacheSize     int
	DentCacheSize     int

	LeaseWindowMillis int
	EpsilonMillis     int
	NumRedirect       int
	MknodBufSize      int
}

// Default returns a Config populated entirely with the named defaults.
func Default() Config {
	return Config{
		MaxRadix:          DefaultMaxRadix,
		DirSplitThreshold: DefaultMaxPartSize,
		BulkSize:          DefaultMknodBufSize,
		DirBulkSize:       DefaultMknodBufSize,
		DmapCacheSize:     DefaultDmapCacheSize,
		DentCacheSize:     DefaultDentCacheSize,
		LeaseWindowMillis: DefaultLeaseWindowMillis,
		EpsilonMillis:     DefaultEpsilonMillis,
		NumRedirect:       DefaultNumRedirect,
		MknodBufSize:      DefaultMknodBufSize,
	}
}

// LoadConfigFile parses a key-value config file (one "key value" pair per
// line, '#' comments, blank lines ignored) on top of Default().
func LoadConfigFile(path string) (Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return cfg, fmt.Errorf("config: %s:%d: expected \"key value\", got %q", path, lineNo, line)
		}
		key, val := fields[0], fields[1]
		if err := applyKey(&cfg, key, val); err != nil {
			return cfg, fmt.Errorf("config: %s:%d: %w", path, lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyKey(cfg *Config, key, val string) error {
	switch key {
	case "file_dir":
		cfg.FileDir = val
	case "db_root":
		cfg.DBRoot = val
	case "db_home":
		cfg.DBHome = val
	case "db_split":
		cfg.DBSplit = val
	case "old_data":
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("old_data: %w", err)
		}
		cfg.OldData = b
	case "FS_DIR_SPLIT_THR":
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("FS_DIR_SPLIT_THR: %w", err)
		}
		cfg.DirSplitThreshold = n
	case "FS_BULK_SIZE":
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("FS_BULK_SIZE: %w", err)
		}
		cfg.BulkSize = n
	case "FS_DIR_BULK_SIZE":
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("FS_DIR_BULK_SIZE: %w", err)
		}
		cfg.DirBulkSize = n
	case "FS_DMAP_CACHE_SIZE":
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("FS_DMAP_CACHE_SIZE: %w", err)
		}
		cfg.DmapCacheSize = n
	case "FS_DENT_CACHE_SIZE":
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("FS_DENT_CACHE_SIZE: %w", err)
		}
		cfg.DentCacheSize = n
	default:
		return fmt.Errorf("unrecognized key %q", key)
	}
	return nil
}

// Membership is the parsed membership file: line N (0-indexed) gives the
// "host port" address of server id N.
type Membership struct {
	Addrs []string
}

// LoadMembershipFile parses a membership file: one "host port" pair per
// line, the line number is the server id.
func LoadMembershipFile(path string) (*Membership, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var addrs []string
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("config: %s:%d: expected \"host port\", got %q", path, lineNo, line)
		}
		addrs = append(addrs, fields[0]+":"+fields[1])
		lineNo++
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return &Membership{Addrs: addrs}, nil
}
