package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors holds the engine's prometheus instruments.
type Collectors struct {
	backupsTotal     *prometheus.CounterVec
	backupDuration   prometheus.Histogram
	artifactBytes    prometheus.Histogram
	restoresTotal    *prometheus.CounterVec
	retentionDeleted prometheus.Counter
}

// New registers the collectors on reg. running reports whether a backup is in flight.
func New(reg prometheus.Registerer, running func() bool) *Collectors {
	factory := promauto.With(reg)

	c := &Collectors{
		backupsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultkeep_backups_total",
			Help: "Backups that reached a terminal state, by kind and status.",
		}, []string{"kind", "status"}),
		backupDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vaultkeep_backup_duration_seconds",
			Help:    "Wall time from submission to terminal state.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
		}),
		artifactBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vaultkeep_backup_artifact_bytes",
			Help:    "Size of published backup artifacts.",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 12),
		}),
		restoresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultkeep_restores_total",
			Help: "Restore attempts by outcome.",
		}, []string{"status"}),
		retentionDeleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "vaultkeep_retention_deleted_total",
			Help: "Backups removed or expired by retention sweeps.",
		}),
	}

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "vaultkeep_backup_running",
		Help: "1 while a backup occupies the in-flight slot.",
	}, func() float64 {
		if running != nil && running() {
			return 1
		}
		return 0
	})

	return c
}

func (c *Collectors) BackupFinished(kind, status string, duration time.Duration, sizeBytes int64) {
	c.backupsTotal.WithLabelValues(kind, status).Inc()
	c.backupDuration.Observe(duration.Seconds())
	if sizeBytes > 0 {
		c.artifactBytes.Observe(float64(sizeBytes))
	}
}

func (c *Collectors) RestoreFinished(status string) {
	c.restoresTotal.WithLabelValues(status).Inc()
}

func (c *Collectors) RetentionRemoved(n int) {
	c.retentionDeleted.Add(float64(n))
}
