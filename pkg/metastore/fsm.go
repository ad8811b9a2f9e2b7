package metastore

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/cuemby/tablestore/pkg/storage"
	"github.com/hashicorp/raft"
)

// opKind is the Raft log command kind. Unlike the teacher's per-entity
// "create_node"/"update_service"/... switch, the FSM only needs to
// understand three path-addressed primitives; every higher-level
// operation (CreateTable, AddOPData, ...) is expressed by the caller as
// one or more of these against the right path.
type opKind string

const (
	opPut       opKind = "put"
	opDelete    opKind = "delete"
	opIncrement opKind = "increment"
)

// command is one Raft log entry.
type command struct {
	Kind  opKind `json:"kind"`
	Path  string `json:"path"`
	Value []byte `json:"value,omitempty"`
}

// fsm implements raft.FSM over a storage.Store. Every Apply also
// notifies the watch registry so ChildrenWatcher/ValueWatcher callbacks
// fire on every replica that has one registered — mirroring how a real
// MetaStore delivers watch events to whichever client set them up,
// independent of which node is the elected leader.
type fsm struct {
	mu      sync.Mutex
	store   storage.Store
	watches *watchRegistry
}

func newFSM(store storage.Store, watches *watchRegistry) *fsm {
	return &fsm{store: store, watches: watches}
}

// applyResult is returned from Apply via raft's ApplyFuture.Response().
type applyResult struct {
	Value uint64
	Err   error
}

func (f *fsm) Apply(log *raft.Log) interface{} {
	var cmd command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return applyResult{Err: fmt.Errorf("unmarshal command: %w", err)}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Kind {
	case opPut:
		if err := f.store.Put(cmd.Path, cmd.Value); err != nil {
			return applyResult{Err: err}
		}
		f.watches.notifyPath(cmd.Path, f.store)
		return applyResult{}

	case opDelete:
		if err := f.store.Delete(cmd.Path); err != nil {
			return applyResult{Err: err}
		}
		f.watches.notifyPath(cmd.Path, f.store)
		return applyResult{}

	case opIncrement:
		cur, ok, err := f.store.Get(cmd.Path)
		if err != nil {
			return applyResult{Err: err}
		}
		var n uint64
		if ok {
			n, err = strconv.ParseUint(string(cur), 10, 64)
			if err != nil {
				return applyResult{Err: fmt.Errorf("parse counter at %s: %w", cmd.Path, err)}
			}
		}
		n++
		if err := f.store.Put(cmd.Path, []byte(strconv.FormatUint(n, 10))); err != nil {
			return applyResult{Err: err}
		}
		f.watches.notifyPath(cmd.Path, f.store)
		return applyResult{Value: n}

	default:
		return applyResult{Err: fmt.Errorf("unknown command kind: %s", cmd.Kind)}
	}
}

func (f *fsm) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	kv, err := f.store.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot store: %w", err)
	}
	return &fsmSnapshot{kv: kv}, nil
}

func (f *fsm) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snap fsmSnapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.store.Restore(snap.kv)
}

type fsmSnapshot struct {
	kv map[string][]byte
}

func (s *fsmSnapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.kv)
}

func (s *fsmSnapshot) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &s.kv)
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

func (s *fsmSnapshot) Release() {}

// encodeUint64 is kept around for components that store
// raw counters outside the FSM (e.g. test fixtures comparing log
// indexes); the FSM itself uses the human-readable decimal form above
// so that `Get` on a counter path is directly printable.
func encodeUint64(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}
