// Package background is the C9 Background Schedulers: the periodic
// loops that keep the coordinator's in-memory view converged with
// tablet-reported reality (task status, partition stats, offline
// cleanup, name-indirection maps) without sitting in the OP Engine's
// own per-op critical path. Every loop follows the same ticker+stopCh
// shape as the teacher's reconciler (pkg/reconciler/reconciler.go),
// just against this system's own state instead of node/container
// desired-state.
package background

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/tablestore/pkg/log"
	"github.com/cuemby/tablestore/pkg/manager"
	"github.com/rs/zerolog"
)

// Config tunes every scheduler's tick period. Zero values fall back to
// spec-reasonable defaults in New, the same defaulting shape
// op.Config.setDefaults uses.
type Config struct {
	// HeartbeatInterval is defaulted but not read by any loop: the
	// HeartbeatChecker reacts to session-reset events instead of polling.
	HeartbeatInterval time.Duration
	// TaskStatusInterval is T1: how often in-flight tasks are polled.
	TaskStatusInterval time.Duration
	// TableStatusInterval is T2: how often partition stats are pulled.
	TableStatusInterval time.Duration
	// RealEpMapInterval governs the name-indirection map pusher.
	RealEpMapInterval time.Duration
	// HeartbeatTimeout is how long a tablet may stay Offline before its
	// Doing tasks are force-failed rather than waited on forever.
	HeartbeatTimeout time.Duration
	// MakeSnapshotTime is "HH:MM" in the local clock, the once-daily
	// SnapshotCron firing time (spec §4.9's make_snapshot_time).
	MakeSnapshotTime string
	// ClusterDriftInterval governs C7's periodic CheckClusterInfo poll.
	ClusterDriftInterval time.Duration
}

func (c *Config) setDefaults() {
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 5 * time.Second
	}
	if c.TaskStatusInterval == 0 {
		c.TaskStatusInterval = 2 * time.Second
	}
	if c.TableStatusInterval == 0 {
		c.TableStatusInterval = 30 * time.Second
	}
	if c.RealEpMapInterval == 0 {
		c.RealEpMapInterval = 15 * time.Second
	}
	if c.HeartbeatTimeout == 0 {
		c.HeartbeatTimeout = 30 * time.Second
	}
	if c.MakeSnapshotTime == "" {
		c.MakeSnapshotTime = "03:00"
	}
	if c.ClusterDriftInterval == 0 {
		c.ClusterDriftInterval = time.Minute
	}
}

// Scheduler owns every C9 periodic loop against one Coordinator. It
// implements manager.Scheduler so Coordinator.RegisterScheduler can
// drive its lifecycle from leadership acquire/lost without manager
// importing this package back.
type Scheduler struct {
	cfg    Config
	coord  *manager.Coordinator
	logger zerolog.Logger

	mu     sync.Mutex
	stopCh chan struct{}
	wg     sync.WaitGroup

	opCleanup *opCleanup
}

// New builds a Scheduler against coord. Call Start/Stop indirectly via
// coord.RegisterScheduler, or directly in tests.
func New(coord *manager.Coordinator, cfg Config) *Scheduler {
	cfg.setDefaults()
	return &Scheduler{
		cfg:    cfg,
		coord:  coord,
		logger: log.WithComponent("background"),
	}
}

// Start launches every scheduler loop as its own goroutine.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return // already running
	}
	s.stopCh = make(chan struct{})
	s.opCleanup = newOpCleanup(s.coord, s.logger)

	loops := []func(context.Context){
		s.runHeartbeatChecker,
		s.runTaskStatusPoller,
		s.runTableStatusAggregator,
		s.runSnapshotCron,
		s.runRealEpMapPusher,
		s.runClusterDriftChecker,
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-s.stopCh
		cancel()
	}()
	for _, loop := range loops {
		s.wg.Add(1)
		go func(fn func(context.Context)) {
			defer s.wg.Done()
			fn(ctx)
		}(loop)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.opCleanup.run(ctx)
	}()

	s.logger.Info().Msg("background schedulers started")
}

// Stop signals every loop to exit and waits for them to drain.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	stopCh := s.stopCh
	s.stopCh = nil
	s.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)
	s.wg.Wait()
	s.logger.Info().Msg("background schedulers stopped")
}

// tick runs fn immediately, then every interval, until ctx is done.
func tick(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	fn(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}
