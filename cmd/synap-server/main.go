// Command synap-server boots one Synap node: it wires the typed engines,
// the write-ahead log, periodic snapshots, the command dispatcher, the
// primary/replica replication channel, the optional cluster subsystem, and
// the HTTP command adapter, then serves until signaled to stop.
//
// © 2025 Synap authors. MIT License.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/synapdb/synap/internal/cluster"
	"github.com/synapdb/synap/internal/config"
	"github.com/synapdb/synap/internal/dispatcher"
	"github.com/synapdb/synap/internal/engine/bitmap"
	"github.com/synapdb/synap/internal/engine/geo"
	"github.com/synapdb/synap/internal/engine/hash"
	"github.com/synapdb/synap/internal/engine/hll"
	"github.com/synapdb/synap/internal/engine/kv"
	"github.com/synapdb/synap/internal/engine/list"
	"github.com/synapdb/synap/internal/engine/set"
	"github.com/synapdb/synap/internal/engine/stream"
	"github.com/synapdb/synap/internal/engine/zset"
	"github.com/synapdb/synap/internal/keymanager"
	"github.com/synapdb/synap/internal/metrics"
	"github.com/synapdb/synap/internal/persistence/snapshot"
	"github.com/synapdb/synap/internal/persistence/wal"
	"github.com/synapdb/synap/internal/replication"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "synap-server:", err)
		os.Exit(1)
	}
}

func run() error {
	flags := parseFlags()

	logger, err := newLogger(flags.logLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg, err := buildConfig(flags, logger)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	node, err := newNode(cfg)
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	defer node.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	node.Run(ctx, flags.httpAddr)
	return nil
}

// flags holds the raw CLI surface; buildConfig translates it into a
// validated config.Config.
type flags struct {
	dataDir      string
	nodeID       string
	httpAddr     string
	role         string
	replListen   string
	primaryAddr  string
	reconnectMin time.Duration
	fsync        string
	fsyncEvery   time.Duration
	maxMemoryMB  int64
	snapshotEvery time.Duration
	ttlSweepEvery time.Duration
	heartbeatEvery time.Duration
	clusterEnabled bool
	clusterListen  string
	clusterSeed    string
	metricsEnabled bool
	logLevel       string
}

func parseFlags() flags {
	var f flags
	pflag.StringVar(&f.dataDir, "data-dir", "./data", "directory for WAL segments and snapshots")
	pflag.StringVar(&f.nodeID, "node-id", "", "this node's cluster identifier, random if unset")
	pflag.StringVar(&f.httpAddr, "http-addr", ":6380", "address the /api/v1/command HTTP adapter binds to")
	pflag.StringVar(&f.role, "role", "primary", "replication role: primary or replica")
	pflag.StringVar(&f.replListen, "repl-listen", ":6381", "primary's replication TCP listener address")
	pflag.StringVar(&f.primaryAddr, "primary-addr", "", "replica only: address of the primary's replication listener")
	pflag.DurationVar(&f.reconnectMin, "reconnect-min", 200*time.Millisecond, "replica initial reconnect backoff")
	pflag.StringVar(&f.fsync, "fsync", "periodic", "WAL fsync policy: always, periodic, or never")
	pflag.DurationVar(&f.fsyncEvery, "fsync-interval", 500*time.Millisecond, "fsync cadence under the periodic policy")
	pflag.Int64Var(&f.maxMemoryMB, "max-memory-mb", 0, "memory cap in MiB, 0 disables the cap")
	pflag.DurationVar(&f.snapshotEvery, "snapshot-interval", 5*time.Minute, "background snapshot cadence")
	pflag.DurationVar(&f.ttlSweepEvery, "ttl-sweep-interval", time.Second, "background TTL sweep cadence")
	pflag.DurationVar(&f.heartbeatEvery, "heartbeat-interval", time.Second, "primary's replication heartbeat cadence")
	pflag.BoolVar(&f.clusterEnabled, "cluster", false, "enable the cluster slot/migration/election subsystem")
	pflag.StringVar(&f.clusterListen, "cluster-listen", ":6382", "cluster MEET/PING/gossip listener address")
	pflag.StringVar(&f.clusterSeed, "cluster-seed", "", "address of an existing cluster node to MEET on startup")
	pflag.BoolVar(&f.metricsEnabled, "metrics", true, "expose Prometheus metrics at /metrics")
	pflag.StringVar(&f.logLevel, "log-level", "info", "zap log level: debug, info, warn, error")
	pflag.Parse()
	return f
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return cfg.Build()
}

func buildConfig(f flags, logger *zap.Logger) (*config.Config, error) {
	var fsyncMode wal.FsyncMode
	switch f.fsync {
	case "always":
		fsyncMode = wal.FsyncAlways
	case "never":
		fsyncMode = wal.FsyncNever
	default:
		fsyncMode = wal.FsyncPeriodic
	}

	role := config.RolePrimary
	if f.role == "replica" {
		role = config.RoleReplica
	}

	opts := []config.Option{
		config.WithNodeID(f.nodeID),
		config.WithRole(role),
		config.WithListenAddr(f.replListen),
		config.WithPrimaryAddr(f.primaryAddr),
		config.WithReconnectMin(f.reconnectMin),
		config.WithFsync(fsyncMode),
		config.WithFsyncInterval(f.fsyncEvery),
		config.WithMaxMemoryBytes(f.maxMemoryMB * 1024 * 1024),
		config.WithHeartbeatInterval(f.heartbeatEvery),
		config.WithSnapshotInterval(f.snapshotEvery),
		config.WithTTLSweepInterval(f.ttlSweepEvery),
		config.WithLogger(logger),
	}
	if f.clusterEnabled {
		opts = append(opts, config.WithCluster(f.clusterListen))
		if f.clusterSeed != "" {
			opts = append(opts, config.WithClusterSeed(f.clusterSeed))
		}
	}
	if f.metricsEnabled {
		opts = append(opts, config.WithMetrics(prometheus.NewRegistry()))
	}
	return config.New(f.dataDir, opts...)
}

// node bundles every running subsystem of one Synap process.
type node struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics metrics.Sink

	stores snapshot.Stores
	geo    *geo.Store
	keys   *keymanager.Manager
	disp   *dispatcher.Dispatcher

	walAppender *wal.Appender
	primary     *replication.Primary
	replica     *replication.Replica

	clusterTr       *cluster.TCPTransport
	clusterTopology *cluster.Topology
	clusterElection *cluster.Election
	clusterSeed     string

	cancelBg context.CancelFunc
	bgGroup  *errgroup.Group // supervises every background goroutine Run starts, joined by Close
}

func newNode(cfg *config.Config) (*node, error) {
	walDir := filepath.Join(cfg.DataDir, "wal")
	snapDir := filepath.Join(cfg.DataDir, "snapshots")
	if err := os.MkdirAll(snapDir, 0o755); err != nil {
		return nil, err
	}

	stores := snapshot.Stores{
		KV:     kv.New(cfg.MaxMemoryBytes),
		Hash:   hash.New(),
		List:   list.New(),
		Set:    set.New(),
		ZSet:   zset.New(),
		Bitmap: bitmap.New(),
		HLL:    hll.New(),
		Stream: stream.New(),
	}
	geoStore := geo.New(stores.ZSet)
	keys := keymanager.New(stores.KV, stores.Hash, stores.List, stores.Set, stores.ZSet, stores.Bitmap, stores.HLL, stores.Stream)

	m := metrics.New(cfg.Registry)

	appliedOffset, err := recoverState(snapDir, walDir, stores, cfg.Logger)
	if err != nil {
		return nil, err
	}

	appender, err := wal.NewAppender(wal.Options{
		Dir:           walDir,
		Fsync:         cfg.Fsync,
		FsyncInterval: cfg.FsyncInterval,
		StartOffset:   appliedOffset + 1,
	})
	if err != nil {
		return nil, err
	}

	n := &node{
		cfg: cfg, logger: cfg.Logger, metrics: m,
		stores: stores, geo: geoStore, keys: keys,
		walAppender: appender,
	}

	snapFn := func() ([]byte, uint64, error) {
		state := snapshot.Capture(stores)
		encoded, err := snapshot.EncodeState(state)
		return encoded, appender.CurrentOffset(), err
	}

	var broadcaster dispatcher.Broadcaster
	if cfg.Role == config.RolePrimary {
		buffer := replication.NewLogBuffer(0)
		n.primary = replication.NewPrimary(cfg.ListenAddr, buffer, snapFn, cfg.HeartbeatInterval, cfg.Logger, m)
		broadcaster = n.primary
	}

	n.disp = dispatcher.New(dispatcher.Engines{
		KV: stores.KV, Hash: stores.Hash, List: stores.List, Set: stores.Set,
		ZSet: stores.ZSet, Bitmap: stores.Bitmap, HLL: stores.HLL, Stream: stores.Stream,
		Geo: geoStore, Keys: keys,
	}, appender, broadcaster, m)

	if cfg.Role == config.RoleReplica {
		n.replica = replication.NewReplica(cfg.PrimaryAddr, n.disp, stores, appliedOffset, cfg.ReconnectMin, cfg.Logger, m)
	}

	if cfg.ClusterEnabled {
		n.clusterTr = cluster.NewTCPTransport(cfg.NodeID, cfg.ClusterListen, cfg.Logger)
		n.clusterTopology = cluster.NewTopology()
		n.clusterTopology.AddNode(cluster.Node{ID: cfg.NodeID, Address: cfg.ClusterListen, State: cluster.NodeOnline, Role: cluster.RolePrimary})
		n.clusterElection = cluster.NewElection(cfg.NodeID, nil, cfg.ElectionTimeoutMin, cfg.ElectionTimeoutMax, cfg.HeartbeatInterval, n.clusterTr)
		n.clusterTr.BindElection(n.clusterElection)
		n.clusterSeed = cfg.ClusterSeed
	}

	return n, nil
}

// recoverState restores the newest snapshot (if any) into stores and replays
// WAL records after its offset, returning the last offset actually applied
// to the stores (0 if none); callers append new records starting at
// offset+1 (spec §4.4.4).
func recoverState(snapDir, walDir string, stores snapshot.Stores, logger *zap.Logger) (uint64, error) {
	var fromOffset uint64
	path, err := snapshot.Newest(snapDir)
	if err != nil {
		return 0, err
	}
	if path != "" {
		offset, state, err := snapshot.ReadFile(path)
		if err != nil {
			return 0, err
		}
		snapshot.Restore(stores, state)
		fromOffset = offset
		logger.Info("restored snapshot", zap.String("path", path), zap.Uint64("wal_offset", offset))
	}

	entries, err := wal.ReadAll(walDir)
	if err != nil {
		return 0, err
	}

	// Replaying needs engines wired through a dispatcher so records apply via
	// the same command table used at write time; building a throwaway
	// dispatcher here (no WAL/replica attached) keeps recovery independent
	// of the node's live one, which is still under construction.
	replayKeys := keymanager.New(stores.KV, stores.Hash, stores.List, stores.Set, stores.ZSet, stores.Bitmap, stores.HLL, stores.Stream)
	replayDisp := dispatcher.New(dispatcher.Engines{
		KV: stores.KV, Hash: stores.Hash, List: stores.List, Set: stores.Set,
		ZSet: stores.ZSet, Bitmap: stores.Bitmap, HLL: stores.HLL, Stream: stores.Stream,
		Geo: geo.New(stores.ZSet), Keys: replayKeys,
	}, nil, nil, nil)

	var lastOffset uint64
	for _, entry := range entries {
		if entry.Offset <= fromOffset {
			continue
		}
		var payload map[string]any
		if err := cbor.Unmarshal(entry.Payload, &payload); err != nil {
			logger.Warn("skipping unreadable wal record", zap.Uint64("offset", entry.Offset), zap.Error(err))
			continue
		}
		if err := replayDisp.Apply(entry.CommandTag, payload); err != nil {
			logger.Warn("replay failed for wal record", zap.Uint64("offset", entry.Offset), zap.String("tag", entry.CommandTag), zap.Error(err))
		}
		lastOffset = entry.Offset
	}
	if lastOffset > fromOffset {
		return lastOffset, nil
	}
	return fromOffset, nil
}

// Run starts every background subsystem, serves the HTTP adapter, and
// blocks until ctx is cancelled. Every background goroutine is supervised
// by an errgroup.Group so Close can wait for all of them to actually exit
// before closing the WAL appender, instead of racing a goroutine that is
// still mid-write against the appender's shutdown.
func (n *node) Run(ctx context.Context, httpAddr string) {
	bgCtx, cancel := context.WithCancel(ctx)
	n.cancelBg = cancel
	g, gctx := errgroup.WithContext(bgCtx)
	n.bgGroup = g

	g.Go(func() error { n.runTTLSweeper(gctx); return nil })
	g.Go(func() error { n.runSnapshotter(gctx); return nil })

	if n.primary != nil {
		if err := n.primary.Listen(); err != nil {
			n.logger.Error("replication listen failed", zap.Error(err))
		} else {
			g.Go(func() error { n.primary.Serve(gctx); return nil })
		}
	}
	if n.replica != nil {
		g.Go(func() error { n.replica.Run(gctx); return nil })
	}
	if n.clusterTr != nil {
		g.Go(func() error { n.clusterTr.Serve(gctx); return nil })
		g.Go(func() error { n.clusterElection.Run(gctx); return nil })
		if n.clusterSeed != "" {
			g.Go(func() error { n.meetSeed(gctx); return nil })
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/command", n.handleCommand)
	if n.cfg.Registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(n.cfg.Registry, promhttp.HandlerOpts{}))
	}

	srv := &http.Server{Addr: httpAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	}()

	n.logger.Info("synap-server listening", zap.String("http_addr", httpAddr), zap.String("role", n.cfg.Role.String()))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		n.logger.Error("http server exited", zap.Error(err))
	}
}

// meetSeed joins an existing cluster by dialing the configured seed address,
// retrying with a fixed short backoff since the seed may not be reachable
// yet at process start (e.g. both nodes launched together).
func (n *node) meetSeed(ctx context.Context) {
	for {
		peerID, err := n.clusterTr.Meet(ctx, n.clusterSeed)
		if err == nil {
			n.clusterTr.AddPeer(peerID, n.clusterSeed)
			n.clusterTopology.AddNode(cluster.Node{ID: peerID, Address: n.clusterSeed, State: cluster.NodeOnline, Role: cluster.RoleReplica})
			n.logger.Info("joined cluster", zap.String("peer_id", peerID), zap.String("seed", n.clusterSeed))
			return
		}
		n.logger.Warn("cluster meet failed, retrying", zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (n *node) runTTLSweeper(ctx context.Context) {
	ticker := time.NewTicker(n.cfg.TTLSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n.stores.KV.Sweep(now)
			n.stores.Hash.Sweep(now)
		}
	}
}

func (n *node) runSnapshotter(ctx context.Context) {
	ticker := time.NewTicker(n.cfg.SnapshotInterval)
	defer ticker.Stop()
	snapDir := filepath.Join(n.cfg.DataDir, "snapshots")
	for {
		select {
		case <-ctx.Done():
			return
		case at := <-ticker.C:
			state := snapshot.Capture(n.stores)
			path := filepath.Join(snapDir, snapshot.FileName(at))
			if err := snapshot.WriteFile(path, n.walAppender.CurrentOffset(), state); err != nil {
				n.logger.Warn("snapshot write failed", zap.Error(err))
				continue
			}
			n.metrics.IncSnapshotTaken()
		}
	}
}

// commandRequest/commandResponse mirror the HTTP command envelope (spec
// §6.1) exactly; Dispatcher's Response carries the same success/error
// shape one level down.
type commandRequest struct {
	Command   string         `json:"command"`
	RequestID string         `json:"request_id"`
	Payload   map[string]any `json:"payload"`
}

type commandResponse struct {
	Success   bool   `json:"success"`
	RequestID string `json:"request_id"`
	Payload   any    `json:"payload"`
	Error     *string `json:"error"`
}

func (n *node) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	resp := n.disp.Dispatch(req.Command, dispatcher.Payload(req.Payload))

	out := commandResponse{Success: resp.Success, RequestID: req.RequestID, Payload: jsonSafe(resp.Result)}
	if resp.Error != nil {
		msg := resp.Error.Message
		out.Error = &msg
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(out)
}

// jsonSafe recursively rewrites engine results for the wire: []byte becomes
// a plain string rather than base64 (every typed engine treats values as
// text-or-binary-safe byte strings, and the command envelope is meant to be
// human-readable JSON, not a binary protocol).
func jsonSafe(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case [][]byte:
		out := make([]string, len(t))
		for i, b := range t {
			out[i] = string(b)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = jsonSafe(e)
		}
		return out
	case map[string][]byte:
		out := make(map[string]string, len(t))
		for k, b := range t {
			out[k] = string(b)
		}
		return out
	default:
		return v
	}
}

func (n *node) Close() error {
	if n.cancelBg != nil {
		n.cancelBg()
	}
	if n.bgGroup != nil {
		n.bgGroup.Wait()
	}
	if n.walAppender != nil {
		return n.walAppender.Close()
	}
	return nil
}
