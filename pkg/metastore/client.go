// Package metastore is the C1 MetaStore Client: the sessioned,
// ZooKeeper-like primitives every other coordinator component is built
// on (create/read/set/delete node, watch children/value, atomic
// sequence, distributed lock). The real MetaStore is an external,
// out-of-scope collaborator (spec §1); this package defines the client
// contract and ships one concrete implementation, Embedded, that runs
// the contract on top of the coordinator's own Raft group instead of a
// separate ZooKeeper ensemble — the same way the teacher repository
// used Raft+bbolt as its own source of truth rather than talking to an
// external coordination service.
package metastore

import "context"

// ChildrenWatcher is invoked with the current children list whenever it
// changes. Delivery is at-most-once per change. Embedded keeps a
// registration armed after it fires, so a callback does not re-register.
type ChildrenWatcher func(children []string)

// ValueWatcher is invoked (with no payload) whenever the value at the
// watched path changes; the callback re-fetches via Get if it cares.
type ValueWatcher func()

// OnAcquire is called once this client becomes the distributed lock
// holder. OnLost is called when the session backing that lock is lost;
// the caller must idempotently stop acting as leader.
type OnAcquire func()
type OnLost func()

// Client is the MetaStore Client contract (spec §4.1).
type Client interface {
	Create(ctx context.Context, path string, value []byte) error
	Set(ctx context.Context, path string, value []byte) error
	Get(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
	Exists(ctx context.Context, path string) (bool, error)
	Children(ctx context.Context, path string) ([]string, error)

	WatchChildren(path string, cb ChildrenWatcher) error
	WatchValue(path string, cb ValueWatcher) error

	// RegisterEphemeral creates a node bound to this client's session;
	// it disappears (best-effort) when the session is lost.
	RegisterEphemeral(ctx context.Context, path string, value []byte) error

	// DistributedLock contends for exclusive ownership of path. There
	// is exactly one holder cluster-wide at a time.
	DistributedLock(path string, onAcquire OnAcquire, onLost OnLost) error

	// SessionTerm is a strictly increasing counter bumped on every
	// reconnect/session change, used to detect silent reconnects and
	// re-arm watches (spec §4.1).
	SessionTerm() uint64

	// Increment atomically bumps the counter stored at path and
	// returns its new value — used both as a sequence generator
	// (tid, op_id) and as the catalog "notify" node.
	Increment(ctx context.Context, path string) (uint64, error)

	Close() error
}

// ErrNotFound is returned by Get when path has no value.
type ErrNotFound struct{ Path string }

func (e *ErrNotFound) Error() string { return "metastore: not found: " + e.Path }
