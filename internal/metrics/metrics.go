// Package metrics is a thin abstraction over Prometheus so Synap can run
// with or without metrics collection. When a *prometheus.Registry is
// supplied, real counters/gauges are registered; otherwise a no-op sink is
// used and the hot path does not pay for metric updates.
//
// Metrics are command- and engine-scoped rather than shard-scoped (unlike
// the teacher's per-shard cache metrics) since Synap's unit of externally
// visible work is a dispatched command, not a cache shard.
//
// © 2025 Synap authors. MIT License.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Sink is the internal interface abstracting away the concrete backend
// (Prometheus vs noop). Core packages depend only on this interface so
// metrics can be disabled entirely with zero overhead.
type Sink interface {
	IncCommand(namespace, op string)
	IncCommandError(namespace, op, kind string)
	ObserveCommandLatency(namespace, op string, seconds float64)
	SetKeyCount(engine string, count int64)
	SetMemoryBytes(bytes int64)
	IncWALAppend()
	IncWALFsync()
	SetWALOffset(offset uint64)
	IncSnapshotTaken()
	SetReplicaLag(addr string, lagOps int64)
	IncReplicationReconnect()
}

type noopSink struct{}

func (noopSink) IncCommand(string, string)                      {}
func (noopSink) IncCommandError(string, string, string)          {}
func (noopSink) ObserveCommandLatency(string, string, float64)   {}
func (noopSink) SetKeyCount(string, int64)                       {}
func (noopSink) SetMemoryBytes(int64)                             {}
func (noopSink) IncWALAppend()                                    {}
func (noopSink) IncWALFsync()                                     {}
func (noopSink) SetWALOffset(uint64)                              {}
func (noopSink) IncSnapshotTaken()                                {}
func (noopSink) SetReplicaLag(string, int64)                      {}
func (noopSink) IncReplicationReconnect()                         {}

// Noop is a Sink that discards everything; the default when no registry is
// configured.
var Noop Sink = noopSink{}

type promSink struct {
	commands        *prometheus.CounterVec
	commandErrors   *prometheus.CounterVec
	commandLatency  *prometheus.HistogramVec
	keyCount        *prometheus.GaugeVec
	memoryBytes     prometheus.Gauge
	walAppends      prometheus.Counter
	walFsyncs       prometheus.Counter
	walOffset       prometheus.Gauge
	snapshotsTaken  prometheus.Counter
	replicaLag      *prometheus.GaugeVec
	replicaReconnects prometheus.Counter
}

// New builds a Prometheus-backed Sink registered against reg. Passing a nil
// registry returns Noop instead, matching the teacher's "nil disables
// metrics" convention.
func New(reg *prometheus.Registry) Sink {
	if reg == nil {
		return Noop
	}
	opLabels := []string{"namespace", "op"}
	s := &promSink{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "synap",
			Name:      "commands_total",
			Help:      "Number of dispatched commands, by namespace and op.",
		}, opLabels),
		commandErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "synap",
			Name:      "command_errors_total",
			Help:      "Number of commands that returned an error, by namespace, op, and error kind.",
		}, append(append([]string{}, opLabels...), "kind")),
		commandLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "synap",
			Name:      "command_duration_seconds",
			Help:      "Command execution latency.",
			Buckets:   prometheus.DefBuckets,
		}, opLabels),
		keyCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "synap",
			Name:      "keys",
			Help:      "Number of live keys, by engine.",
		}, []string{"engine"}),
		memoryBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "synap",
			Name:      "memory_bytes",
			Help:      "Estimated total bytes held across all engines.",
		}),
		walAppends: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "synap",
			Name:      "wal_appends_total",
			Help:      "Number of records appended to the write-ahead log.",
		}),
		walFsyncs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "synap",
			Name:      "wal_fsyncs_total",
			Help:      "Number of fsync calls issued by the WAL appender.",
		}),
		walOffset: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "synap",
			Name:      "wal_offset",
			Help:      "Most recently assigned WAL offset.",
		}),
		snapshotsTaken: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "synap",
			Name:      "snapshots_total",
			Help:      "Number of snapshots written.",
		}),
		replicaLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "synap",
			Name:      "replica_lag_ops",
			Help:      "Operations the named replica is behind the primary.",
		}, []string{"addr"}),
		replicaReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "synap",
			Name:      "replication_reconnects_total",
			Help:      "Number of replica reconnect attempts.",
		}),
	}
	reg.MustRegister(
		s.commands, s.commandErrors, s.commandLatency, s.keyCount, s.memoryBytes,
		s.walAppends, s.walFsyncs, s.walOffset, s.snapshotsTaken,
		s.replicaLag, s.replicaReconnects,
	)
	return s
}

func (s *promSink) IncCommand(namespace, op string) {
	s.commands.WithLabelValues(namespace, op).Inc()
}
func (s *promSink) IncCommandError(namespace, op, kind string) {
	s.commandErrors.WithLabelValues(namespace, op, kind).Inc()
}
func (s *promSink) ObserveCommandLatency(namespace, op string, seconds float64) {
	s.commandLatency.WithLabelValues(namespace, op).Observe(seconds)
}
func (s *promSink) SetKeyCount(engine string, count int64) {
	s.keyCount.WithLabelValues(engine).Set(float64(count))
}
func (s *promSink) SetMemoryBytes(bytes int64)  { s.memoryBytes.Set(float64(bytes)) }
func (s *promSink) IncWALAppend()               { s.walAppends.Inc() }
func (s *promSink) IncWALFsync()                { s.walFsyncs.Inc() }
func (s *promSink) SetWALOffset(offset uint64)  { s.walOffset.Set(float64(offset)) }
func (s *promSink) IncSnapshotTaken()           { s.snapshotsTaken.Inc() }
func (s *promSink) SetReplicaLag(addr string, lagOps int64) {
	s.replicaLag.WithLabelValues(addr).Set(float64(lagOps))
}
func (s *promSink) IncReplicationReconnect() { s.replicaReconnects.Inc() }
