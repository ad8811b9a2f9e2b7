// cmd/nameserver is the coordinator binary: one process running the
// MetaStore Raft group, the in-memory C2-C9 components, the optional
// name-indirection DNS front end, and the admin RPC surface. Structured
// as a cobra command tree the way the teacher's cmd/warren is, trimmed
// to this system's two lifecycle verbs (init/join) since there is no
// container runtime, ingress, or worker role here.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/tablestore/pkg/background"
	"github.com/cuemby/tablestore/pkg/config"
	"github.com/cuemby/tablestore/pkg/log"
	"github.com/cuemby/tablestore/pkg/manager"
	"github.com/cuemby/tablestore/pkg/metrics"
	"github.com/cuemby/tablestore/pkg/op"
	"github.com/cuemby/tablestore/pkg/rpcserver"
	"github.com/cuemby/tablestore/pkg/task"
	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "nameserver",
	Short:   "Distributed sharded table-store nameserver coordinator",
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (defaults built in if omitted)")
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(joinCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Bootstrap a new coordinator cluster with this node as the first member",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(true)
	},
}

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Start this node expecting the leader to AddVoter it in",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(false)
	},
}

func run(bootstrap bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log.Init(log.Config{Level: log.Level(cfg.Log.Level), JSONOutput: cfg.Log.JSONOutput})
	metrics.SetVersion(Version)

	dialer := task.NewGRPCDialer()
	defer dialer.Close()

	coord, err := manager.New(manager.Config{
		NodeID:   cfg.Node.ID,
		BindAddr: cfg.Node.BindAddr,
		DataDir:  cfg.Node.DataDir,
		OpEngine: op.Config{
			MaxConcurrency:            cfg.OpEngine.MaxConcurrency,
			ReplicaClusterConcurrency: cfg.OpEngine.ReplicaClusterConcurrency,
			MaxOpNum:                  cfg.OpEngine.MaxOpNum,
			ExecuteTimeout:            cfg.OpEngine.ExecuteTimeout,
		},
		NameIndirectionEnabled: cfg.NameResolve.Enabled,
		NameResolveDomain:      cfg.NameResolve.Domain,
		NameResolveAddr:        cfg.NameResolve.Addr,
	}, dialer)
	if err != nil {
		return fmt.Errorf("create coordinator: %w", err)
	}
	coord.RemoteClusters.SetDialer(grpcPeerDialer{})

	sched := background.New(coord, background.Config{
		HeartbeatInterval:    cfg.Scheduler.HeartbeatInterval,
		TaskStatusInterval:   cfg.Scheduler.TaskStatusInterval,
		TableStatusInterval:  cfg.Scheduler.TableStatusInterval,
		RealEpMapInterval:    cfg.Scheduler.RealEpMapInterval,
		MakeSnapshotTime:     cfg.Scheduler.MakeSnapshotTime,
		ClusterDriftInterval: cfg.Scheduler.ClusterDriftInterval,
	})
	coord.RegisterScheduler(sched)

	if bootstrap {
		if err := coord.Store().Bootstrap(); err != nil {
			return fmt.Errorf("bootstrap metastore: %w", err)
		}
	} else {
		if err := coord.Store().Join(); err != nil {
			return fmt.Errorf("join metastore: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := coord.Start(ctx); err != nil {
		return fmt.Errorf("start coordinator: %w", err)
	}
	defer coord.Close()

	metrics.RegisterComponent("raft", true, "bootstrapped")
	metrics.RegisterComponent("metastore", true, "ready")
	metrics.RegisterComponent("rpcserver", false, "starting")

	collector := metrics.NewCollector(coord)
	collector.Start()
	defer collector.Stop()

	admin := rpcserver.NewServer(coord)
	errCh := make(chan error, 1)
	go func() {
		if err := admin.Start(cfg.Node.AdminAddr); err != nil {
			errCh <- fmt.Errorf("admin RPC server: %w", err)
		}
	}()
	metrics.RegisterComponent("rpcserver", true, "ready")

	go func() {
		http.Handle("/metrics", metrics.Handler())
		http.Handle("/health", metrics.HealthHandler())
		http.Handle("/ready", metrics.ReadyHandler())
		http.Handle("/live", metrics.LivenessHandler())
		if err := http.ListenAndServe(cfg.Metrics.ListenAddr, nil); err != nil {
			log.Logger.Error().Err(err).Msg("metrics server exited")
		}
	}()

	fmt.Printf("nameserver %s listening: admin=%s raft=%s metrics=http://%s/metrics\n",
		Version, cfg.Node.AdminAddr, cfg.Node.BindAddr, cfg.Metrics.ListenAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
		fmt.Println("\nshutting down...")
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "\n%v\n", err)
	}

	admin.Stop()
	return nil
}
