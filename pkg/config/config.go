// Package config is the nameserver's YAML configuration file, loaded
// once at process start and overridable by environment variables,
// grounded on the pack's internal/config.Configuration shape
// (LoadFromFile/LoadFromEnv/SaveToFile/Validate over a nested
// yaml-tagged struct) rather than the teacher, which has no
// standalone config package of its own and instead wires flags
// straight into manager.Config in cmd/warren/main.go.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete nameserver configuration.
type Config struct {
	Node       NodeConfig       `yaml:"node"`
	Log        LogConfig        `yaml:"log"`
	OpEngine   OpEngineConfig   `yaml:"op_engine"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	NameResolve NameResolveConfig `yaml:"name_resolve"`
	Security   SecurityConfig   `yaml:"security"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// NodeConfig identifies this process within the Raft cluster.
type NodeConfig struct {
	ID       string `yaml:"id"`
	BindAddr string `yaml:"bind_addr"`
	AdminAddr string `yaml:"admin_addr"`
	DataDir  string `yaml:"data_dir"`
}

// LogConfig configures pkg/log.
type LogConfig struct {
	Level      string `yaml:"level"`
	JSONOutput bool   `yaml:"json_output"`
}

// OpEngineConfig maps to op.Config.
type OpEngineConfig struct {
	MaxConcurrency            int           `yaml:"max_concurrency"`
	ReplicaClusterConcurrency int           `yaml:"replica_cluster_concurrency"`
	MaxOpNum                  int           `yaml:"max_op_num"`
	ExecuteTimeout            time.Duration `yaml:"execute_timeout"`
}

// SchedulerConfig maps to background.Config.
type SchedulerConfig struct {
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	TaskStatusInterval   time.Duration `yaml:"task_status_interval"`
	TableStatusInterval  time.Duration `yaml:"table_status_interval"`
	RealEpMapInterval    time.Duration `yaml:"real_ep_map_interval"`
	MakeSnapshotTime     string        `yaml:"make_snapshot_time"`
	ClusterDriftInterval time.Duration `yaml:"cluster_drift_interval"`
}

// NameResolveConfig maps to manager.Config's name-indirection fields.
type NameResolveConfig struct {
	Enabled bool   `yaml:"enabled"`
	Domain  string `yaml:"domain"`
	Addr    string `yaml:"addr"`
}

// SecurityConfig names a cert directory in pkg/security's layout. Only
// Validate reads it; neither the admin server nor any dialer is
// configured from it.
type SecurityConfig struct {
	TLSEnabled         bool   `yaml:"tls_enabled"`
	CertDir            string `yaml:"cert_dir"`
	RequireClientCert  bool   `yaml:"require_client_cert"`
}

// MetricsConfig configures the HTTP metrics/health listener.
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// Default returns a Config with sensible single-node defaults.
func Default() *Config {
	return &Config{
		Node: NodeConfig{
			ID:        "node-1",
			BindAddr:  "127.0.0.1:9000",
			AdminAddr: "127.0.0.1:9001",
			DataDir:   "/var/lib/tablestore",
		},
		Log: LogConfig{
			Level:      "info",
			JSONOutput: false,
		},
		OpEngine: OpEngineConfig{
			MaxConcurrency:            8,
			ReplicaClusterConcurrency: 2,
			MaxOpNum:                  10000,
			ExecuteTimeout:            30 * time.Second,
		},
		Scheduler: SchedulerConfig{
			HeartbeatInterval:    5 * time.Second,
			TaskStatusInterval:   2 * time.Second,
			TableStatusInterval:  30 * time.Second,
			RealEpMapInterval:    15 * time.Second,
			MakeSnapshotTime:     "03:00",
			ClusterDriftInterval: time.Minute,
		},
		NameResolve: NameResolveConfig{
			Enabled: false,
			Domain:  "tablestore",
			Addr:    "127.0.0.1:8053",
		},
		Security: SecurityConfig{
			TLSEnabled:        false,
			CertDir:           "",
			RequireClientCert: true,
		},
		Metrics: MetricsConfig{
			ListenAddr: "127.0.0.1:9090",
		},
	}
}

// Load reads path as YAML over the defaults, then applies environment
// overrides, and finally validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, err
		}
	}
	cfg.loadFromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// loadFromEnv overrides fields operators most often need to set per
// deployment without editing the shipped file: node identity and
// addresses, data dir, log level and format, the name-indirection
// toggle, and the OP engine's max_concurrency.
func (c *Config) loadFromEnv() {
	if v := os.Getenv("TABLESTORE_NODE_ID"); v != "" {
		c.Node.ID = v
	}
	if v := os.Getenv("TABLESTORE_BIND_ADDR"); v != "" {
		c.Node.BindAddr = v
	}
	if v := os.Getenv("TABLESTORE_ADMIN_ADDR"); v != "" {
		c.Node.AdminAddr = v
	}
	if v := os.Getenv("TABLESTORE_DATA_DIR"); v != "" {
		c.Node.DataDir = v
	}
	if v := os.Getenv("TABLESTORE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("TABLESTORE_LOG_JSON"); v != "" {
		c.Log.JSONOutput = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("TABLESTORE_NAME_INDIRECTION_ENABLED"); v != "" {
		c.NameResolve.Enabled = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("TABLESTORE_MAX_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.OpEngine.MaxConcurrency = n
		}
	}
}

// SaveToFile writes the config back out as YAML.
func (c *Config) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("config: create dir: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// Validate rejects configurations the rest of the system can't run
// with; everything else is left to runtime defaulting (op.Config and
// background.Config both self-default zero fields).
func (c *Config) Validate() error {
	if c.Node.ID == "" {
		return fmt.Errorf("node.id must not be empty")
	}
	if c.Node.BindAddr == "" {
		return fmt.Errorf("node.bind_addr must not be empty")
	}
	if c.Node.AdminAddr == "" {
		return fmt.Errorf("node.admin_addr must not be empty")
	}
	if c.Node.AdminAddr == c.Node.BindAddr {
		return fmt.Errorf("node.admin_addr and node.bind_addr must differ")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log.level: %s", c.Log.Level)
	}
	if c.NameResolve.Enabled && c.NameResolve.Addr == "" {
		return fmt.Errorf("name_resolve.addr must be set when name_resolve.enabled is true")
	}
	if c.Security.TLSEnabled && c.Security.CertDir == "" {
		return fmt.Errorf("security.cert_dir must be set when security.tls_enabled is true")
	}
	return nil
}
