package client

import "context"

// BatchClient is the pre-split bulk-load mode: before creating a large
// number of files in a directory that is known to need many partitions
// up front, Mkdir is called with Presplit set so the directory starts
// out spread across several servers instead of paying for the splits
// one at a time while under load.
type BatchClient struct {
	client   *Client
	presplit int
}

// NewBatchClient wraps c so every directory it creates is pre-split into
// presplit partitions.
func NewBatchClient(c *Client, presplit int) *BatchClient {
	return &BatchClient{client: c, presplit: presplit}
}

// MkdirPresplit creates a directory already spread across presplit
// partitions, then returns its inode so the caller can start buffering
// Mknod calls into it immediately.
func (b *BatchClient) MkdirPresplit(ctx context.Context, parentDirID int64, name string, mode uint32, uid, gid int32) (int64, error) {
	req := mkdirPresplitRequest{parentDirID: parentDirID, name: name, mode: mode, uid: uid, gid: gid, presplit: b.presplit}
	stat, err := b.client.mkdirPresplit(ctx, req)
	if err != nil {
		return 0, err
	}
	return stat.Inode, nil
}

// LoadFiles creates every name in names under dirID using the client's
// buffered mknod path, flushing any partially-filled buckets once done.
func (b *BatchClient) LoadFiles(ctx context.Context, dirID int64, names []string, mode uint32, uid, gid int32) error {
	for _, name := range names {
		if err := b.client.mknod.Add(ctx, dirID, name, mode, uid, gid); err != nil {
			return err
		}
	}
	return b.client.mknod.Flush(ctx)
}
