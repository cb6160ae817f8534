package server

import (
	"fmt"
	"sync"
	"time"

	"github.com/dreamware/giga/internal/index"
	"github.com/dreamware/giga/internal/metadb"
	"github.com/dreamware/giga/internal/ordstore"
	"github.com/dreamware/giga/internal/rpc"
	"go.uber.org/zap"
)

// Server is one metadata server's in-process state: its local store, the
// dentry schema on top of it, the directory index cache, and the
// coordination primitives (lock table, lease table, split coordinator)
// spec.md §4.4 describes.
type Server struct {
	ID         int16
	NumServers int
	MaxRadix   uint8

	Store  ordstore.Store
	DB     *metadb.MetaDB
	Pool   *rpc.Pool
	Log    *zap.Logger

	locks  *LockTable
	leases *LeaseTable

	idxMu sync.RWMutex
	idx   map[int64]*index.DirectoryIndex

	Split *SplitCoordinator
}

// Config bundles the constructor parameters for New.
type Config struct {
	ID          int16
	NumServers  int
	MaxRadix    uint8
	Store       ordstore.Store
	Pool        *rpc.Pool
	Logger      *zap.Logger
	LeaseWindow time.Duration
	Epsilon     time.Duration
	SplitEvery  time.Duration
	MaxPartSize int
}

// New wires a Server from cfg, applying the same named defaults
// internal/config establishes.
func New(cfg Config) *Server {
	if cfg.MaxRadix == 0 {
		cfg.MaxRadix = index.DefaultMaxRadix
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	s := &Server{
		ID:         cfg.ID,
		NumServers: cfg.NumServers,
		MaxRadix:   cfg.MaxRadix,
		Store:      cfg.Store,
		DB:         metadb.New(cfg.Store, cfg.NumServers, cfg.ID),
		Pool:       cfg.Pool,
		Log:        cfg.Logger.With(zap.String("component", "server"), zap.Int16("server_id", cfg.ID)),
		locks:      NewLockTable(),
		leases:     NewLeaseTable(cfg.LeaseWindow, cfg.Epsilon),
		idx:        make(map[int64]*index.DirectoryIndex),
	}
	s.Split = newSplitCoordinator(s, cfg.SplitEvery, cfg.MaxPartSize)
	s.Split.Start(s.KnownDirectories)
	return s
}

// loadIndex returns dirID's DirectoryIndex, populating the in-memory
// cache from the metadb system record on first reference.
func (s *Server) loadIndex(dirID int64) (*index.DirectoryIndex, error) {
	s.idxMu.RLock()
	di, ok := s.idx[dirID]
	s.idxMu.RUnlock()
	if ok {
		return di, nil
	}

	s.idxMu.Lock()
	defer s.idxMu.Unlock()
	if di, ok := s.idx[dirID]; ok {
		return di, nil
	}
	enc, err := s.DB.GetMapping(dirID)
	if err != nil {
		return nil, fmt.Errorf("server: loading directory index for %d: %w", dirID, err)
	}
	di, err = index.Decode(enc)
	if err != nil {
		return nil, fmt.Errorf("server: decoding directory index for %d: %w", dirID, err)
	}
	s.idx[dirID] = di
	return di, nil
}

// storeIndex installs di as dirID's cached index (used when creating a
// brand new directory, or after InsertSplit merges an update).
func (s *Server) storeIndex(dirID int64, di *index.DirectoryIndex) {
	s.idxMu.Lock()
	defer s.idxMu.Unlock()
	s.idx[dirID] = di
}

// KnownDirectories returns the ids of every directory this server has
// loaded a DirectoryIndex for, the candidate set the split coordinator's
// background scan considers on each tick.
func (s *Server) KnownDirectories() []int64 {
	s.idxMu.RLock()
	defer s.idxMu.RUnlock()
	ids := make([]int64, 0, len(s.idx))
	for id := range s.idx {
		ids = append(ids, id)
	}
	return ids
}

// Close stops the split coordinator and releases the underlying store.
func (s *Server) Close() error {
	s.Split.Stop()
	return s.Store.Close()
}
