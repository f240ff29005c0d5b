// Package metrics exposes the engine's Prometheus instrumentation:
// per-database key/byte counts, eviction counts, and snapshot state.
// Collectors are registered at startup and bundled into one small
// Metrics struct, the usual client_golang wiring pattern.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every collector the engine registers.
type Metrics struct {
	KeysCount    *prometheus.GaugeVec
	DataSize     *prometheus.GaugeVec
	KeysChanged  *prometheus.CounterVec
	Evictions    *prometheus.CounterVec
	SnapshotState prometheus.Gauge
	SnapshotRuns prometheus.Counter
	CommandsTotal *prometheus.CounterVec
}

// New constructs and registers every collector against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		KeysCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "hivecache",
			Name:      "keys_count",
			Help:      "Number of live keys in a database.",
		}, []string{"db"}),
		DataSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "hivecache",
			Name:      "data_size_bytes",
			Help:      "Accounted byte size of a database's values.",
		}, []string{"db"}),
		KeysChanged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hivecache",
			Name:      "keys_changed_total",
			Help:      "Cumulative key mutations per database.",
		}, []string{"db"}),
		Evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hivecache",
			Name:      "evictions_total",
			Help:      "Cumulative evicted keys per database and policy.",
		}, []string{"db", "policy"}),
		SnapshotState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hivecache",
			Name:      "snapshot_state",
			Help:      "Current snapshot engine state as an ordinal.",
		}),
		SnapshotRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hivecache",
			Name:      "snapshot_runs_total",
			Help:      "Cumulative completed snapshot runs.",
		}),
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hivecache",
			Name:      "commands_total",
			Help:      "Cumulative commands processed, by command name.",
		}, []string{"command"}),
	}

	reg.MustRegister(m.KeysCount, m.DataSize, m.KeysChanged, m.Evictions,
		m.SnapshotState, m.SnapshotRuns, m.CommandsTotal)
	return m
}

// ReportDatabase updates the per-database gauges from a counters.Snapshot
// read (internal/counters.Set.Read()). Accepts plain values rather than
// importing internal/counters, so this package stays a leaf dependency.
func (m *Metrics) ReportDatabase(db uint32, keysCount, dataSize int64) {
	label := strconv.FormatUint(uint64(db), 10)
	m.KeysCount.WithLabelValues(label).Set(float64(keysCount))
	m.DataSize.WithLabelValues(label).Set(float64(dataSize))
}

// RecordKeysChanged adds delta key mutations to database db's counter.
func (m *Metrics) RecordKeysChanged(db uint32, delta int64) {
	if delta <= 0 {
		return
	}
	m.KeysChanged.WithLabelValues(strconv.FormatUint(uint64(db), 10)).Add(float64(delta))
}

// RecordEviction increments the eviction counter for db under policy.
func (m *Metrics) RecordEviction(db uint32, policy string) {
	m.Evictions.WithLabelValues(strconv.FormatUint(uint64(db), 10), policy).Inc()
}

// RecordSnapshot updates the snapshot state gauge and, when the run just
// completed, bumps the completed-runs counter.
func (m *Metrics) RecordSnapshot(state int, completed bool) {
	m.SnapshotState.Set(float64(state))
	if completed {
		m.SnapshotRuns.Inc()
	}
}

// RecordCommand increments the per-command counter.
func (m *Metrics) RecordCommand(name string) {
	m.CommandsTotal.WithLabelValues(name).Inc()
}
