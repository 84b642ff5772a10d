// Package config holds Synap's top-level server configuration: functional
// options over a single immutable struct, in the same shape as the
// teacher's cache configuration (options mutate a private config, defaults
// live in one place, validation happens once at startup).
//
// © 2025 Synap authors. MIT License.
package config

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/synapdb/synap/internal/persistence/wal"
)

// Role is the node's replication role (spec §4.5.1). Dynamic role change is
// out of scope; a role is fixed for the lifetime of a process.
type Role int

const (
	RolePrimary Role = iota
	RoleReplica
)

func (r Role) String() string {
	if r == RoleReplica {
		return "replica"
	}
	return "primary"
}

// Config bundles every knob that influences server behavior. Immutable once
// built by New; there is no live-reload support.
type Config struct {
	DataDir string
	NodeID  string // identifies this node to cluster peers; defaults to a random uuid

	Role         Role
	ListenAddr   string // primary's replication listener; unused on replicas
	PrimaryAddr  string // replica only: address to dial
	ReconnectMin time.Duration

	Fsync         wal.FsyncMode
	FsyncInterval time.Duration

	MaxMemoryBytes int64 // 0 disables the cap

	HeartbeatInterval time.Duration
	SnapshotInterval  time.Duration
	TTLSweepInterval  time.Duration

	ClusterEnabled     bool
	ClusterListen      string
	ClusterSeed        string // address of an existing node to MEET on startup, empty to bootstrap alone
	ElectionTimeoutMin time.Duration
	ElectionTimeoutMax time.Duration

	Registry *prometheus.Registry
	Logger   *zap.Logger
}

// Option mutates a Config under construction.
type Option func(*Config)

func defaultConfig(dataDir string) *Config {
	return &Config{
		DataDir:            dataDir,
		NodeID:             uuid.NewString(),
		Role:               RolePrimary,
		ReconnectMin:       200 * time.Millisecond,
		Fsync:              wal.FsyncPeriodic,
		FsyncInterval:      500 * time.Millisecond,
		HeartbeatInterval:  time.Second,
		SnapshotInterval:   5 * time.Minute,
		TTLSweepInterval:   time.Second,
		ElectionTimeoutMin: 150 * time.Millisecond,
		ElectionTimeoutMax: 300 * time.Millisecond,
		Logger:             zap.NewNop(),
	}
}

// WithRole sets the node's replication role. Replicas also require
// WithPrimaryAddr.
func WithRole(r Role) Option { return func(c *Config) { c.Role = r } }

// WithNodeID overrides the random default node identifier used to address
// this node in cluster gossip (spec §4.6.2's node roster key).
func WithNodeID(id string) Option {
	return func(c *Config) {
		if id != "" {
			c.NodeID = id
		}
	}
}

// WithListenAddr sets the address the primary's replication listener binds
// to (ignored for replicas, which only dial out).
func WithListenAddr(addr string) Option { return func(c *Config) { c.ListenAddr = addr } }

// WithPrimaryAddr sets the address a replica dials to reach its primary.
func WithPrimaryAddr(addr string) Option { return func(c *Config) { c.PrimaryAddr = addr } }

// WithReconnectMin sets the initial backoff interval for replica reconnects
// (spec §4.5.5); cenkalti/backoff/v4 grows it exponentially from there.
func WithReconnectMin(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.ReconnectMin = d
		}
	}
}

// WithFsync sets the WAL durability policy (spec §4.4.2).
func WithFsync(mode wal.FsyncMode) Option { return func(c *Config) { c.Fsync = mode } }

// WithFsyncInterval sets the periodic fsync cadence, used only when
// WithFsync(wal.FsyncPeriodic).
func WithFsyncInterval(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.FsyncInterval = d
		}
	}
}

// WithMaxMemoryBytes caps total estimated memory; 0 (the default) disables
// the cap and writes never fail with MemoryLimitExceeded.
func WithMaxMemoryBytes(n int64) Option { return func(c *Config) { c.MaxMemoryBytes = n } }

// WithHeartbeatInterval sets the primary's replication heartbeat cadence
// (spec §4.5.2).
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.HeartbeatInterval = d
		}
	}
}

// WithSnapshotInterval sets how often the background snapshotter runs (spec
// §4.4.3 describes snapshots as periodic but leaves the cadence to the
// deployment).
func WithSnapshotInterval(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.SnapshotInterval = d
		}
	}
}

// WithTTLSweepInterval sets the background TTL sweep cadence (spec §8
// invariant 5).
func WithTTLSweepInterval(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.TTLSweepInterval = d
		}
	}
}

// WithCluster enables the cluster subsystem (spec §4.6) and sets its own
// gossip/meet listener address, distinct from the replication listener.
func WithCluster(listenAddr string) Option {
	return func(c *Config) {
		c.ClusterEnabled = true
		c.ClusterListen = listenAddr
	}
}

// WithClusterSeed sets an existing cluster node's address to MEET on
// startup. Without it, this node bootstraps as the sole member of its own
// cluster.
func WithClusterSeed(addr string) Option { return func(c *Config) { c.ClusterSeed = addr } }

// WithElectionTimeout sets the randomized election timeout range used by
// the cluster's Raft-lite leader election (spec §4.6.4).
func WithElectionTimeout(min, max time.Duration) Option {
	return func(c *Config) {
		if min > 0 && max >= min {
			c.ElectionTimeoutMin = min
			c.ElectionTimeoutMax = max
		}
	}
}

// WithMetrics enables Prometheus metrics collection. Passing nil disables
// metrics (the default): internal/metrics.New(nil) returns a no-op sink.
func WithMetrics(reg *prometheus.Registry) Option { return func(c *Config) { c.Registry = reg } }

// WithLogger plugs an external zap.Logger; Synap never logs on the hot
// path, only on slow/rare events (snapshot rotation, replica reconnect,
// corrupt WAL record).
func WithLogger(l *zap.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}

var (
	ErrMissingDataDir    = errors.New("config: data directory is required")
	ErrMissingPrimaryAddr = errors.New("config: replica role requires WithPrimaryAddr")
)

// New builds a validated Config. dataDir is required; every other setting
// has a default matching spec.md's stated defaults where the spec states
// one, or a conservative value otherwise.
func New(dataDir string, opts ...Option) (*Config, error) {
	if dataDir == "" {
		return nil, ErrMissingDataDir
	}
	cfg := defaultConfig(dataDir)
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Role == RoleReplica && cfg.PrimaryAddr == "" {
		return nil, ErrMissingPrimaryAddr
	}
	return cfg, nil
}
