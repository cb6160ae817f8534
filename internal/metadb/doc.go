// Package metadb implements the per-partition dentry schema on top of
// ordstore.Store: dentry CRUD, directory-index mapping records, the
// shared inode counter, and the bulk extraction used by a directory
// split to move entries from a parent partition to a freshly created
// child partition.
package metadb
