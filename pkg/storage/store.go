// Package storage is the durable key/value substrate underneath the
// embedded MetaStore (pkg/metastore): a flat, "/"-delimited path space
// with ZooKeeper-style children listing, backed by BoltDB exactly the
// way the teacher's FSM persisted cluster state to bbolt.
package storage

// Store is a hierarchical key/value store. Paths are "/"-separated,
// always absolute ("/table/table_index"). It has no notion of sessions,
// watches, or consensus — those live one layer up in pkg/metastore; this
// package only guarantees durable, ordered reads/writes of one node.
type Store interface {
	// Put creates or overwrites the value at path.
	Put(path string, value []byte) error

	// Get returns the value at path. ok is false if path has no value.
	Get(path string) (value []byte, ok bool, err error)

	// Delete removes path (and only path; children are untouched).
	Delete(path string) error

	// Children lists the immediate child path segments under path
	// (e.g. Children("/table/table_data") might return ["t1", "t2"]).
	Children(path string) ([]string, error)

	// Snapshot returns every stored path/value pair, for FSM snapshots.
	Snapshot() (map[string][]byte, error)

	// Restore replaces the entire store's contents with kv.
	Restore(kv map[string][]byte) error

	// Close releases underlying resources.
	Close() error
}
