package metadb

import (
	"github.com/dreamware/giga/internal/index"
	"github.com/dreamware/giga/internal/ordstore"
)

// BulkExtractor implements the two-phase split extraction of §4.4:
// Extract scans the parent partition and builds an in-memory SortedRun of
// every entry that belongs in the new child partition, without mutating
// the source store; Commit then deletes the migrated keys from the
// source. Splitting this way lets the coordinator ship the run to its
// destination and only remove it from the source once the destination has
// durably accepted it.
type BulkExtractor struct {
	store       ordstore.Store
	dirID       int64
	parent      int16
	child       int16
	childRadix  uint8
	run         ordstore.SortedRun
	toDelete    []ordstore.Key
	extractDone bool
}

// NewBulkExtractor prepares an extractor that will pull the entries of
// parent belonging to child (created at childRadix) out of store.
func NewBulkExtractor(store ordstore.Store, dirID int64, parent, child int16, childRadix uint8) *BulkExtractor {
	return &BulkExtractor{
		store:      store,
		dirID:      dirID,
		parent:     parent,
		child:      child,
		childRadix: childRadix,
	}
}

// Extract scans the parent partition and collects every entry that
// belongs in the child partition into an in-memory sorted run. The
// source store is not modified.
func (e *BulkExtractor) Extract() error {
	prefix := ordstore.PartitionPrefix(e.dirID, e.parent)
	err := e.store.ScanPrefix(prefix, func(k ordstore.Key, v []byte) (bool, error) {
		h := k.Hash()
		if !index.MigrationPredicate(h, e.childRadix, int(e.child)) {
			return true, nil
		}
		e.run.Entries = append(e.run.Entries, ordstore.KV{
			Key:   ordstore.NewKey(e.dirID, e.child, h),
			Value: append([]byte(nil), v...),
		})
		e.toDelete = append(e.toDelete, k)
		return true, nil
	})
	if err != nil {
		return err
	}
	e.extractDone = true
	return nil
}

// Run returns the sorted run built by Extract, ready to ship to the
// destination server (or to BulkInsert directly, for the local fast
// path).
func (e *BulkExtractor) Run() ordstore.SortedRun {
	return e.run
}

// NumEntries reports how many entries Extract found for the child
// partition.
func (e *BulkExtractor) NumEntries() int {
	return len(e.run.Entries)
}

// Commit deletes the migrated keys from the source partition. Call this
// only after the destination has durably installed the run from Run().
func (e *BulkExtractor) Commit() error {
	for _, k := range e.toDelete {
		if err := e.store.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// LocalExtract implements the same-server fast path: when the source and
// destination partitions of a split live in the same store, there is no
// need to build a shippable SortedRun at all — entries are rewritten
// under their new key directly. It returns the number of entries moved.
func LocalExtract(store ordstore.Store, dirID int64, parent, child int16, childRadix uint8) (int, error) {
	var toInsert []ordstore.KV
	var toDelete []ordstore.Key

	prefix := ordstore.PartitionPrefix(dirID, parent)
	err := store.ScanPrefix(prefix, func(k ordstore.Key, v []byte) (bool, error) {
		h := k.Hash()
		if !index.MigrationPredicate(h, childRadix, int(child)) {
			return true, nil
		}
		toInsert = append(toInsert, ordstore.KV{
			Key:   ordstore.NewKey(dirID, child, h),
			Value: append([]byte(nil), v...),
		})
		toDelete = append(toDelete, k)
		return true, nil
	})
	if err != nil {
		return 0, err
	}

	for _, kv := range toInsert {
		if err := store.Put(kv.Key, kv.Value); err != nil {
			return 0, err
		}
	}
	for _, k := range toDelete {
		if err := store.Delete(k); err != nil {
			return len(toInsert), err
		}
	}
	return len(toInsert), nil
}
