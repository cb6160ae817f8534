// Package index implements the GIGA+-style growing directory index: a
// bitmap of existing partitions, routing rule F (name -> partition,
// partition -> server), and the split/merge operations a server and its
// clients use to keep their views of a directory's layout converging.
package index
