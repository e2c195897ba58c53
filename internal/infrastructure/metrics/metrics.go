package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "markavault"

// Metrics records backup and sync activity.
type Metrics struct {
	syncCycles       *prometheus.CounterVec
	providerOps      *prometheus.CounterVec
	artifactBytes    prometheus.Histogram
	lastSync         prometheus.Gauge
	retentionDeleted prometheus.Counter
}

// New registers the collectors on reg. Passing a fresh registry keeps tests
// independent of the default one.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		syncCycles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_cycles_total",
			Help:      "Sync cycles by direction (push, pull) and result (success, partial, failure).",
		}, []string{"direction", "result"}),
		providerOps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_operations_total",
			Help:      "Provider calls after retries, by provider, operation and result.",
		}, []string{"provider", "op", "result"}),
		artifactBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "artifact_bytes",
			Help:      "Size of produced artifacts in bytes.",
			Buckets:   prometheus.ExponentialBuckets(64*1024, 4, 10),
		}),
		lastSync: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_sync_timestamp_seconds",
			Help:      "Unix time of the last successful sync.",
		}),
		retentionDeleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_deleted_total",
			Help:      "Artifacts removed by the retention policy.",
		}),
	}
}

func (m *Metrics) SyncCycle(direction, result string) {
	m.syncCycles.WithLabelValues(direction, result).Inc()
}

func (m *Metrics) ProviderOp(provider, op, result string) {
	m.providerOps.WithLabelValues(provider, op, result).Inc()
}

func (m *Metrics) ArtifactSize(bytes int64) {
	m.artifactBytes.Observe(float64(bytes))
}

func (m *Metrics) LastSync(t time.Time) {
	m.lastSync.Set(float64(t.Unix()))
}

func (m *Metrics) RetentionDeleted(n int) {
	m.retentionDeleted.Add(float64(n))
}
