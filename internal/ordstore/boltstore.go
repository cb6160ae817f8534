package ordstore

import (
	"bytes"

	"go.etcd.io/bbolt"
)

var bucketName = []byte("meta")

// BoltStore is a durable Store backed by a single go.etcd.io/bbolt
// database file. bbolt keeps its single bucket's keys sorted on disk, so
// ScanPrefix is a direct Cursor.Seek and BulkIngest is a single Update
// transaction — both map onto the ordering contract for free.
type BoltStore struct {
	db *bbolt.DB
}

// OpenBoltStore opens (creating if necessary) a bbolt database at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Get(key Key) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketName).Get(key[:])
		if v == nil {
			return ErrNotFound
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BoltStore) Put(key Key, value []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Put(key[:], value)
	})
}

func (s *BoltStore) Delete(key Key) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Delete(key[:])
	})
}

func (s *BoltStore) Exists(key Key) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		found = tx.Bucket(bucketName).Get(key[:]) != nil
		return nil
	})
	return found, err
}

func (s *BoltStore) ScanPrefix(prefix []byte, fn func(Key, []byte) (bool, error)) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketName).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var key Key
			copy(key[:], k)
			cont, err := fn(key, append([]byte(nil), v...))
			if err != nil {
				return err
			}
			if !cont {
				break
			}
		}
		return nil
	})
}

func (s *BoltStore) BulkIngest(run SortedRun) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		for _, kv := range run.Entries {
			if err := b.Put(kv.Key[:], kv.Value); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) Close() error { return s.db.Close() }
