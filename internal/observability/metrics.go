// Package observability holds the Prometheus collectors and tracing setup shared by the
// repository and migration layers.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	cacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitsync",
		Subsystem: "repository",
		Name:      "cache_lookups_total",
		Help:      "Repository cache lookups by collection and result (hit, miss, stale).",
	}, []string{"collection", "result"})
	remoteReads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitsync",
		Subsystem: "repository",
		Name:      "remote_reads_total",
		Help:      "Reads issued against the remote store, by collection and kind (get, query).",
	}, []string{"collection", "kind"})
	remoteWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitsync",
		Subsystem: "repository",
		Name:      "remote_writes_total",
		Help:      "Writes issued against the remote store, by collection, operation and result.",
	}, []string{"collection", "operation", "result"})

	migrationRecords = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitsync",
		Subsystem: "migration",
		Name:      "records_total",
		Help:      "Local records considered by migration, by entity type and result (migrated, failed).",
	}, []string{"type", "result"})
	migrationRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitsync",
		Subsystem: "migration",
		Name:      "runs_total",
		Help:      "Migration runs by outcome.",
	}, []string{"outcome"})
	migrationCompleted = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fitsync",
		Subsystem: "migration",
		Name:      "last_completed_timestamp_seconds",
		Help:      "Unix timestamp of the most recent migration that set the completed flag.",
	})
)

func init() {
	prometheus.MustRegister(cacheLookups, remoteReads, remoteWrites, migrationRecords, migrationRuns, migrationCompleted)
}

// MetricsHandler serves the default Prometheus registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordCacheLookup counts a repository cache lookup.
func RecordCacheLookup(collection, result string) {
	cacheLookups.WithLabelValues(collection, result).Inc()
}

// RecordRemoteRead counts a remote store read.
func RecordRemoteRead(collection, kind string) {
	remoteReads.WithLabelValues(collection, kind).Inc()
}

// RecordRemoteWrite counts a remote store write and whether it failed.
func RecordRemoteWrite(collection, operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	remoteWrites.WithLabelValues(collection, operation, result).Inc()
}

// RecordMigrationRecords adds per-type migration tallies.
func RecordMigrationRecords(entityType string, migrated, failed int) {
	if migrated > 0 {
		migrationRecords.WithLabelValues(entityType, "migrated").Add(float64(migrated))
	}
	if failed > 0 {
		migrationRecords.WithLabelValues(entityType, "failed").Add(float64(failed))
	}
}

// RecordMigrationRun counts a finished migration run.
func RecordMigrationRun(outcome string) {
	migrationRuns.WithLabelValues(outcome).Inc()
}

// RecordMigrationCompleted updates the completion watermark gauge.
func RecordMigrationCompleted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	migrationCompleted.Set(float64(ts.Unix()))
}
