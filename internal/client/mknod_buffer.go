package client

import (
	"context"
	"sync"

	"github.com/dreamware/giga/internal/rpc"
)

// bucketKey groups buffered file creations that share a directory,
// destination server and creation attributes, so they can be flushed
// as a single MknodBulk call.
type bucketKey struct {
	DirID    int64
	ServerID int
	Mode     uint32
	UID      int32
	GID      int32
}

// BufferedMknod batches Mknod calls per destination server, the way a
// bulk loader creating thousands of files in one directory wants to:
// rather than one round trip per file, names accumulate in per-server
// buckets and flush automatically once a bucket reaches bufSize,
// mirroring the retry/batch shape of the teacher's node registration
// loop generalized from a one-shot call to a buffered one.
type BufferedMknod struct {
	client  *Client
	bufSize int

	mu      sync.Mutex
	buckets map[bucketKey][]string
}

// NewBufferedMknod returns a BufferedMknod flushing each bucket once it
// reaches bufSize entries.
func NewBufferedMknod(c *Client, bufSize int) *BufferedMknod {
	if bufSize <= 0 {
		bufSize = 1
	}
	return &BufferedMknod{client: c, bufSize: bufSize, buckets: make(map[bucketKey][]string)}
}

// Add queues name for creation in dirID, flushing its bucket immediately
// if it has reached bufSize.
func (b *BufferedMknod) Add(ctx context.Context, dirID int64, name string, mode uint32, uid, gid int32) error {
	serverID, err := b.client.routeServer(ctx, dirID, name)
	if err != nil {
		return err
	}
	key := bucketKey{DirID: dirID, ServerID: serverID, Mode: mode, UID: uid, GID: gid}

	b.mu.Lock()
	b.buckets[key] = append(b.buckets[key], name)
	full := len(b.buckets[key]) >= b.bufSize
	var names []string
	if full {
		names = b.buckets[key]
		delete(b.buckets, key)
	}
	b.mu.Unlock()

	if full {
		return b.flushBucket(ctx, key, names)
	}
	return nil
}

// Flush sends every remaining buffered bucket, regardless of size.
func (b *BufferedMknod) Flush(ctx context.Context) error {
	b.mu.Lock()
	pending := b.buckets
	b.buckets = make(map[bucketKey][]string)
	b.mu.Unlock()

	for key, names := range pending {
		if err := b.flushBucket(ctx, key, names); err != nil {
			return err
		}
	}
	return nil
}

// flushBucket issues one MknodBulk call for the bucket, retrying on
// redirection the same way a single Mknod does: the destination server
// may have split the directory between buffering and flushing, in which
// case every name in the bucket is re-routed together.
func (b *BufferedMknod) flushBucket(ctx context.Context, key bucketKey, names []string) error {
	if len(names) == 0 {
		return nil
	}
	req := rpc.MknodBulkRequest{DirID: key.DirID, Names: names, Mode: key.Mode, UID: key.UID, GID: key.GID}
	var resp rpc.MknodBulkResponse
	// Route using the bucket's first name; a bucket is only ever
	// populated with names that shared a destination server at
	// buffering time, so it is representative of the whole batch.
	if err := b.client.callWithRedirect(ctx, key.DirID, names[0], "Mknod_Bulk", req, &resp); err != nil {
		return err
	}
	return nil
}
