// Package server implements one metadata server's core: the per-directory
// lock table (DirGuard, sync.Cond-based), the lease table, the split
// coordinator's background scan loop, and the RPC handler surface that
// ties them to internal/metadb and internal/index.
package server
