package client

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dreamware/giga/internal/index"
	"github.com/dreamware/giga/internal/rpc"
)

// LookupCacheEntry is what a client caches after resolving one path
// component, including the lease window it's valid for.
type LookupCacheEntry struct {
	Info  rpc.LookupInfo
	DirID int64
}

// Valid reports whether the cached lease is still usable as of now.
func (e LookupCacheEntry) Valid(now time.Time, epsilon time.Duration) bool {
	return now.Before(time.UnixMilli(e.Info.LeaseDueUnixMillis).Add(epsilon))
}

// LookupCache is the client's per-path-component cache, an LRU of
// (dirID, name) -> LookupCacheEntry.
type LookupCache struct {
	cache *lru.Cache[lookupKey, LookupCacheEntry]
}

type lookupKey struct {
	DirID int64
	Name  string
}

// NewLookupCache returns an LRU lookup cache with the given capacity.
func NewLookupCache(capacity int) *LookupCache {
	c, _ := lru.New[lookupKey, LookupCacheEntry](capacity)
	return &LookupCache{cache: c}
}

func (c *LookupCache) Get(dirID int64, name string) (LookupCacheEntry, bool) {
	return c.cache.Get(lookupKey{dirID, name})
}

func (c *LookupCache) Put(dirID int64, name string, e LookupCacheEntry) {
	c.cache.Add(lookupKey{dirID, name}, e)
}

func (c *LookupCache) Invalidate(dirID int64, name string) {
	c.cache.Remove(lookupKey{dirID, name})
}

// IndexCache is the client's per-directory cache of DirectoryIndex
// snapshots, merged (never overwritten) as fresher views arrive via
// redirection or an explicit ReadBitmap.
type IndexCache struct {
	cache *lru.Cache[int64, *index.DirectoryIndex]
}

// NewIndexCache returns an LRU index cache with the given capacity.
func NewIndexCache(capacity int) *IndexCache {
	c, _ := lru.New[int64, *index.DirectoryIndex](capacity)
	return &IndexCache{cache: c}
}

func (c *IndexCache) Get(dirID int64) (*index.DirectoryIndex, bool) {
	return c.cache.Get(dirID)
}

// Merge folds encoded into dirID's cached index, creating it if this is
// the first time the directory has been seen.
func (c *IndexCache) Merge(dirID int64, encoded []byte) (*index.DirectoryIndex, error) {
	incoming, err := index.Decode(encoded)
	if err != nil {
		return nil, err
	}
	if cur, ok := c.cache.Get(dirID); ok {
		if err := cur.Update(incoming); err != nil {
			return nil, err
		}
		return cur, nil
	}
	c.cache.Add(dirID, incoming)
	return incoming, nil
}
