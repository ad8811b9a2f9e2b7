package storage

import (
	"fmt"
	"path/filepath"
	"strings"

	bolt "go.etcd.io/bbolt"
)

var bucketMetaStore = []byte("metastore")

// BoltStore implements Store on top of a single BoltDB bucket. Keys are
// the normalized path strings themselves; Children is implemented by a
// prefix scan over bbolt's sorted keys rather than a secondary index,
// which is fine at MetaStore scale (thousands, not millions, of nodes).
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if needed) the BoltDB file under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "metastore.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketMetaStore)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func normalize(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimSuffix(path, "/")
}

func (s *BoltStore) Put(path string, value []byte) error {
	key := normalize(path)
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMetaStore).Put([]byte(key), value)
	})
}

func (s *BoltStore) Get(path string) ([]byte, bool, error) {
	key := normalize(path)
	var value []byte
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMetaStore).Get([]byte(key))
		if v == nil {
			return nil
		}
		ok = true
		value = append([]byte(nil), v...)
		return nil
	})
	return value, ok, err
}

func (s *BoltStore) Delete(path string) error {
	key := normalize(path)
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMetaStore).Delete([]byte(key))
	})
}

// Children returns the immediate child segments under path. A node can
// both hold a value and have children (ZooKeeper allows this too).
func (s *BoltStore) Children(path string) ([]string, error) {
	prefix := normalize(path)
	if prefix != "" {
		prefix += "/"
	} else {
		prefix = "/"
	}

	seen := make(map[string]bool)
	var children []string

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketMetaStore).Cursor()
		for k, _ := c.Seek([]byte(prefix)); k != nil && strings.HasPrefix(string(k), prefix); k, _ = c.Next() {
			rest := strings.TrimPrefix(string(k), prefix)
			if rest == "" {
				continue
			}
			segment := rest
			if idx := strings.Index(rest, "/"); idx >= 0 {
				segment = rest[:idx]
			}
			if !seen[segment] {
				seen[segment] = true
				children = append(children, segment)
			}
		}
		return nil
	})
	return children, err
}

func (s *BoltStore) Snapshot() (map[string][]byte, error) {
	out := make(map[string][]byte)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMetaStore).ForEach(func(k, v []byte) error {
			out[string(k)] = append([]byte(nil), v...)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) Restore(kv map[string][]byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketMetaStore); err != nil {
			return err
		}
		b, err := tx.CreateBucket(bucketMetaStore)
		if err != nil {
			return err
		}
		for k, v := range kv {
			if err := b.Put([]byte(k), v); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
