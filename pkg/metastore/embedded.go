package metastore

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/tablestore/pkg/events"
	"github.com/cuemby/tablestore/pkg/log"
	"github.com/cuemby/tablestore/pkg/storage"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/rs/zerolog"
)

// Config configures an Embedded MetaStore node.
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string

	// ApplyTimeout bounds how long a single Create/Set/Delete/Increment
	// waits for Raft commit.
	ApplyTimeout time.Duration
}

// Embedded runs the MetaStore Client contract on top of a Raft group
// the coordinator replicas form among themselves, using the same
// tuning the teacher applied for sub-10s failover (see Bootstrap).
type Embedded struct {
	cfg    Config
	raft   *raft.Raft
	fsm    *fsm
	store  storage.Store
	watch  *watchRegistry
	broker *events.Broker
	logger zerolog.Logger

	sessionTerm uint64

	lockMu sync.Mutex
	locks  map[string]*lockState

	stopCh chan struct{}
}

type lockState struct {
	onAcquire OnAcquire
	onLost    OnLost
	held      bool
}

// NewEmbedded constructs an Embedded client. Call Bootstrap (first node)
// or Join (subsequent nodes) before using it.
func NewEmbedded(cfg Config, broker *events.Broker) (*Embedded, error) {
	if cfg.ApplyTimeout == 0 {
		cfg.ApplyTimeout = 5 * time.Second
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	watches := newWatchRegistry()

	return &Embedded{
		cfg:    cfg,
		fsm:    newFSM(store, watches),
		store:  store,
		watch:  watches,
		broker: broker,
		logger: log.WithComponent("metastore"),
		locks:  make(map[string]*lockState),
		stopCh: make(chan struct{}),
	}, nil
}

// raftConfig builds the shared Raft tuning: faster heartbeat/election
// timeouts than hashicorp/raft's WAN-oriented defaults, matching the
// teacher's <10s failover target for a LAN-deployed coordinator group.
func (e *Embedded) raftConfig() *raft.Config {
	cfg := raft.DefaultConfig()
	cfg.LocalID = raft.ServerID(e.cfg.NodeID)
	cfg.HeartbeatTimeout = 500 * time.Millisecond
	cfg.ElectionTimeout = 500 * time.Millisecond
	cfg.CommitTimeout = 50 * time.Millisecond
	cfg.LeaderLeaseTimeout = 250 * time.Millisecond
	return cfg
}

func (e *Embedded) newTransport() (*raft.NetworkTransport, error) {
	addr, err := net.ResolveTCPAddr("tcp", e.cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve bind address: %w", err)
	}
	return raft.NewTCPTransport(e.cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
}

func (e *Embedded) newRaft() (*raft.Raft, error) {
	transport, err := e.newTransport()
	if err != nil {
		return nil, err
	}

	snapshotStore, err := raft.NewFileSnapshotStore(e.cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(e.cfg.DataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("create log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(e.cfg.DataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("create stable store: %w", err)
	}

	r, err := raft.NewRaft(e.raftConfig(), e.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("create raft: %w", err)
	}
	return r, nil
}

// Bootstrap starts a brand new single-node MetaStore cluster.
func (e *Embedded) Bootstrap() error {
	r, err := e.newRaft()
	if err != nil {
		return err
	}
	e.raft = r

	cfg := raft.Configuration{Servers: []raft.Server{{
		ID:      raft.ServerID(e.cfg.NodeID),
		Address: raft.ServerAddress(e.cfg.BindAddr),
	}}}
	if err := e.raft.BootstrapCluster(cfg).Error(); err != nil {
		return fmt.Errorf("bootstrap cluster: %w", err)
	}

	go e.watchSessionTerm()
	return nil
}

// Join starts a MetaStore node that expects to be added as a voter by
// the current leader (via AddVoter) out of band.
func (e *Embedded) Join() error {
	r, err := e.newRaft()
	if err != nil {
		return err
	}
	e.raft = r
	go e.watchSessionTerm()
	return nil
}

// AddVoter adds a peer node to the MetaStore's Raft group. Only the
// current leader may call this successfully.
func (e *Embedded) AddVoter(nodeID, addr string) error {
	if e.raft.State() != raft.Leader {
		return fmt.Errorf("not the metastore leader")
	}
	return e.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(addr), 0, 10*time.Second).Error()
}

// watchSessionTerm bumps SessionTerm on every observed leadership
// change, standing in for "reconnect detected" in a real ZK session.
// Watch registrations survive a term bump (the watch registry never
// drops them), so holders have nothing to re-arm.
func (e *Embedded) watchSessionTerm() {
	for {
		select {
		case isLeader, ok := <-e.raft.LeaderCh():
			if !ok {
				return
			}
			atomic.AddUint64(&e.sessionTerm, 1)
			e.handleLeadership(isLeader)
			if e.broker != nil {
				e.broker.Publish(&events.Event{Type: events.EventSessionReset})
			}
		case <-e.stopCh:
			return
		}
	}
}

func (e *Embedded) handleLeadership(isLeader bool) {
	e.lockMu.Lock()
	defer e.lockMu.Unlock()
	for _, l := range e.locks {
		if isLeader && !l.held {
			l.held = true
			if l.onAcquire != nil {
				go l.onAcquire()
			}
		} else if !isLeader && l.held {
			l.held = false
			if l.onLost != nil {
				go l.onLost()
			}
		}
	}
}

func (e *Embedded) apply(cmd command) (applyResult, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return applyResult{}, err
	}
	if e.raft.State() != raft.Leader {
		return applyResult{}, fmt.Errorf("not the metastore leader")
	}
	future := e.raft.Apply(data, e.cfg.ApplyTimeout)
	if err := future.Error(); err != nil {
		return applyResult{}, fmt.Errorf("raft apply: %w", err)
	}
	res, _ := future.Response().(applyResult)
	if res.Err != nil {
		return applyResult{}, res.Err
	}
	return res, nil
}

func (e *Embedded) Create(ctx context.Context, path string, value []byte) error {
	if ok, err := e.Exists(ctx, path); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("metastore: already exists: %s", path)
	}
	return e.Set(ctx, path, value)
}

func (e *Embedded) Set(_ context.Context, path string, value []byte) error {
	_, err := e.apply(command{Kind: opPut, Path: path, Value: value})
	return err
}

func (e *Embedded) Get(_ context.Context, path string) ([]byte, error) {
	v, ok, err := e.store.Get(path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &ErrNotFound{Path: path}
	}
	return v, nil
}

func (e *Embedded) Delete(_ context.Context, path string) error {
	_, err := e.apply(command{Kind: opDelete, Path: path})
	return err
}

func (e *Embedded) Exists(_ context.Context, path string) (bool, error) {
	_, ok, err := e.store.Get(path)
	return ok, err
}

func (e *Embedded) Children(_ context.Context, path string) ([]string, error) {
	return e.store.Children(path)
}

func (e *Embedded) WatchChildren(path string, cb ChildrenWatcher) error {
	e.watch.addChildren(path, cb)
	return nil
}

func (e *Embedded) WatchValue(path string, cb ValueWatcher) error {
	e.watch.addValue(path, cb)
	return nil
}

// RegisterEphemeral writes path exactly like Set. Embedded has no
// per-client sessions, so the node is not removed when a client goes
// away; it stays until it is deleted.
func (e *Embedded) RegisterEphemeral(ctx context.Context, path string, value []byte) error {
	return e.Set(ctx, path, value)
}

func (e *Embedded) DistributedLock(path string, onAcquire OnAcquire, onLost OnLost) error {
	e.lockMu.Lock()
	defer e.lockMu.Unlock()
	held := e.raft != nil && e.raft.State() == raft.Leader
	e.locks[path] = &lockState{onAcquire: onAcquire, onLost: onLost, held: held}
	if held && onAcquire != nil {
		go onAcquire()
	}
	return nil
}

func (e *Embedded) SessionTerm() uint64 {
	return atomic.LoadUint64(&e.sessionTerm)
}

func (e *Embedded) Increment(_ context.Context, path string) (uint64, error) {
	res, err := e.apply(command{Kind: opIncrement, Path: path})
	if err != nil {
		return 0, err
	}
	return res.Value, nil
}

func (e *Embedded) Close() error {
	close(e.stopCh)
	if e.raft != nil {
		_ = e.raft.Shutdown().Error()
	}
	return e.store.Close()
}

// IsLeader reports whether this node currently holds overall MetaStore
// leadership (used directly by pkg/manager's Coordinator Leadership).
func (e *Embedded) IsLeader() bool {
	return e.raft != nil && e.raft.State() == raft.Leader
}

// LeaderAddr returns the bind address of the current Raft leader.
func (e *Embedded) LeaderAddr() string {
	if e.raft == nil {
		return ""
	}
	return string(e.raft.Leader())
}
