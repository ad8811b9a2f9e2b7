// Package manager is the C8 Coordinator Leadership owner: it wires
// together the MetaStore client, Tablet Registry, Table Catalog, OP
// Engine, and Failover Controller, and drives Recover/running-flag
// transitions on DistributedLock acquire/lost — generalized from the
// teacher's Manager, which wired Raft leadership directly into its own
// FSM-backed stores rather than through a separate lock abstraction.
package manager

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cuemby/tablestore/pkg/catalog"
	"github.com/cuemby/tablestore/pkg/events"
	"github.com/cuemby/tablestore/pkg/failover"
	"github.com/cuemby/tablestore/pkg/log"
	"github.com/cuemby/tablestore/pkg/metastore"
	"github.com/cuemby/tablestore/pkg/nameresolve"
	"github.com/cuemby/tablestore/pkg/op"
	"github.com/cuemby/tablestore/pkg/paths"
	"github.com/cuemby/tablestore/pkg/remotecluster"
	"github.com/cuemby/tablestore/pkg/task"
	"github.com/cuemby/tablestore/pkg/tablet"
	"github.com/cuemby/tablestore/pkg/types"
	"github.com/rs/zerolog"
)

const coordinatorLockPath = "/leader/lock"

// realEpDialer adapts task.Dialer (dial-then-call-per-endpoint) to
// tablet.Dialer's shape (dial-and-call in one step), since the tablet
// registry calls PushRealEndpointMap without first holding a client.
type realEpDialer struct{ dialer task.Dialer }

func (r realEpDialer) PushRealEndpointMap(ctx context.Context, endpoint string, m map[string]string) error {
	client, err := r.dialer.Dial(endpoint)
	if err != nil {
		return err
	}
	return client.PushRealEndpointMap(ctx, endpoint, m)
}

// Config configures the Coordinator and everything it owns.
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string

	OpEngine op.Config
	Debounce int // tablet offline debounce, seconds; 0 uses tablet.Registry's default

	// NameIndirectionEnabled starts the optional nameresolve DNS front
	// end (spec §4.2a). The in-memory Resolver itself always runs.
	NameIndirectionEnabled bool
	NameResolveDomain      string
	NameResolveAddr        string
}

// Coordinator owns every C2/C3/C5 in-memory component and transitions
// them with the MetaStore distributed lock.
type Coordinator struct {
	cfg    Config
	store  *metastore.Embedded
	broker *events.Broker
	logger zerolog.Logger

	Tablets        *tablet.Registry
	Catalog        *catalog.Catalog
	Engine         *op.Engine
	Failover       *failover.Controller
	RemoteClusters *remotecluster.Manager
	NameResolve    *nameresolve.Resolver

	nameServer *nameresolve.Server
	dialer     task.Dialer

	running int32 // atomic bool

	autoFailover int32 // atomic bool, ConfSet/ConfGet's sole key

	schedulers []Scheduler
}

// Scheduler is a background loop started once this node becomes
// leader and stopped when it loses leadership, the same way Engine's
// worker pool is gated (spec §4.9's schedulers only ever run against
// the in-memory state Recover populated). pkg/background implements
// this against the Coordinator without the Coordinator importing it
// back, keeping the dependency one-directional.
type Scheduler interface {
	Start()
	Stop()
}

// RegisterScheduler wires s into the leadership-acquire/lose lifecycle.
// Call before Start.
func (c *Coordinator) RegisterScheduler(s Scheduler) {
	c.schedulers = append(c.schedulers, s)
}

// Dialer exposes the tablet RPC dialer for background schedulers that
// need to call tablets directly (TaskStatusPoller, TableStatusAggregator).
func (c *Coordinator) Dialer() task.Dialer { return c.dialer }

// Broker exposes the event broker for background schedulers that react
// to OP completion (the TaskDeleter's remote-cleanup fanout).
func (c *Coordinator) Broker() *events.Broker { return c.broker }

// New constructs a Coordinator. Call Bootstrap or Join on the returned
// value's Store() before Start.
func New(cfg Config, dialer task.Dialer) (*Coordinator, error) {
	broker := events.NewBroker()
	broker.Start()

	store, err := metastore.NewEmbedded(metastore.Config{
		NodeID:   cfg.NodeID,
		BindAddr: cfg.BindAddr,
		DataDir:  cfg.DataDir,
	}, broker)
	if err != nil {
		return nil, fmt.Errorf("create metastore: %w", err)
	}

	c := &Coordinator{
		cfg:    cfg,
		store:  store,
		broker: broker,
		logger: log.WithComponent("coordinator"),
		dialer: dialer,
	}

	debounce := time.Duration(cfg.Debounce) * time.Second
	c.Tablets = tablet.NewRegistry(store, broker, realEpDialer{dialer}, debounce)
	c.Catalog = catalog.New(store, c.Tablets)
	c.Engine = op.New(cfg.OpEngine, store, dialer, broker)
	c.Failover = failover.New(c.Catalog, c.Engine, c)
	c.RemoteClusters = remotecluster.New(store, c.Catalog)
	c.RemoteClusters.SetEngine(c.Engine)

	domain := cfg.NameResolveDomain
	if domain == "" {
		domain = nameresolve.DefaultDomain
	}
	c.NameResolve = nameresolve.New(store, domain)
	c.Tablets.SetNameSink(c.NameResolve)
	if cfg.NameIndirectionEnabled {
		c.nameServer = nameresolve.NewServer(c.NameResolve, nameresolve.Config{
			ListenAddr: cfg.NameResolveAddr,
			Domain:     domain,
		})
	}

	c.Tablets.OnOffline(c.Failover.OnTabletOffline)
	c.Tablets.OnOnline(c.Failover.OnTabletOnline)

	c.registerComposites()

	return c, nil
}

// Store exposes the underlying MetaStore client for Bootstrap/Join.
func (c *Coordinator) Store() *metastore.Embedded { return c.store }

// Start registers the distributed lock; Recover/start-schedulers and
// stop-schedulers happen from the lock's onAcquire/onLost callbacks.
func (c *Coordinator) Start(ctx context.Context) error {
	if err := c.Tablets.Start(ctx); err != nil {
		return fmt.Errorf("start tablet registry: %w", err)
	}
	if err := c.NameResolve.Start(ctx); err != nil {
		return fmt.Errorf("start name resolver: %w", err)
	}
	if c.nameServer != nil {
		if err := c.nameServer.Start(ctx); err != nil {
			return fmt.Errorf("start name resolve DNS server: %w", err)
		}
	}
	return c.store.DistributedLock(coordinatorLockPath, func() { c.onAcquire(ctx) }, c.onLost)
}

func (c *Coordinator) onAcquire(ctx context.Context) {
	c.logger.Info().Msg("acquired coordinator leadership, recovering")
	if err := c.Recover(ctx); err != nil {
		c.logger.Error().Err(err).Msg("recovery failed")
		return
	}
	c.Engine.Start()
	for _, s := range c.schedulers {
		s.Start()
	}
	atomic.StoreInt32(&c.running, 1)
	c.logger.Info().Msg("coordinator running")
}

func (c *Coordinator) onLost() {
	atomic.StoreInt32(&c.running, 0)
	for _, s := range c.schedulers {
		s.Stop()
	}
	c.Engine.Stop()
	c.logger.Warn().Msg("lost coordinator leadership, schedulers stopped")
}

// Recover loads the catalog (with stored procedures), peers and zone
// mode, in-flight ops, and the auto_failover config; it does not reload
// any offline-tablet state. Called once on acquiring leadership (spec §4.8).
func (c *Coordinator) Recover(ctx context.Context) error {
	if err := c.Catalog.Recover(ctx); err != nil {
		return fmt.Errorf("recover catalog: %w", err)
	}
	if err := c.RemoteClusters.Recover(ctx); err != nil {
		return fmt.Errorf("recover remote clusters: %w", err)
	}
	if err := c.Engine.Recover(ctx); err != nil {
		return fmt.Errorf("recover op engine: %w", err)
	}

	raw, err := c.store.Get(ctx, paths.Config("auto_failover"))
	if err == nil && string(raw) == "true" {
		atomic.StoreInt32(&c.autoFailover, 1)
	}
	return nil
}

// IsRunning reports whether this coordinator currently holds the
// distributed lock and has completed Recover.
func (c *Coordinator) IsRunning() bool { return atomic.LoadInt32(&c.running) == 1 }

// IsLeader reports whether this node currently holds the MetaStore
// Raft leadership (metrics.Source).
func (c *Coordinator) IsLeader() bool { return c.store.IsLeader() }

// ListTablets implements metrics.Source.
func (c *Coordinator) ListTablets() []*types.Tablet { return c.Tablets.List() }

// ListTables implements metrics.Source.
func (c *Coordinator) ListTables() []*types.Table {
	tables := c.Catalog.ListTables("")
	for _, db := range c.Catalog.ListDatabases() {
		tables = append(tables, c.Catalog.ListTables(db.Name)...)
	}
	return tables
}

// ListOPs implements metrics.Source.
func (c *Coordinator) ListOPs() []*types.OPData { return c.Engine.List() }

// ReplicaClusterCount implements metrics.Source.
func (c *Coordinator) ReplicaClusterCount() int { return len(c.RemoteClusters.List()) }

// AutoFailoverEnabled implements failover.AutoFailoverSource.
func (c *Coordinator) AutoFailoverEnabled() bool { return atomic.LoadInt32(&c.autoFailover) == 1 }

// SetAutoFailover implements the ConfSet admin command's sole key.
func (c *Coordinator) SetAutoFailover(ctx context.Context, enabled bool) error {
	val := "false"
	if enabled {
		val = "true"
	}
	if err := c.store.Set(ctx, paths.Config("auto_failover"), []byte(val)); err != nil {
		return err
	}
	if enabled {
		atomic.StoreInt32(&c.autoFailover, 1)
	} else {
		atomic.StoreInt32(&c.autoFailover, 0)
	}
	return nil
}

// Close shuts down the coordinator's MetaStore session and event broker.
func (c *Coordinator) Close() error {
	c.Engine.Stop()
	if c.nameServer != nil {
		_ = c.nameServer.Stop()
	}
	c.broker.Stop()
	return c.store.Close()
}
