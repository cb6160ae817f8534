// Package ordstore provides the ordered key/value storage abstraction
// that the directory-index and metadata-db layers are built on top of:
// point get/put/delete/exists, a prefix-ordered range scan, and
// atomic bulk installation of a pre-sorted run of entries. See Store.
package ordstore
