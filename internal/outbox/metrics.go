package outbox

import "github.com/prometheus/client_golang/prometheus"

var (
	eventsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitsync",
		Subsystem: "outbox",
		Name:      "events_total",
		Help:      "Change events settled by the dispatcher, by collection and result (published or dead_lettered).",
	}, []string{"collection", "result"})

	batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fitsync",
		Subsystem: "outbox",
		Name:      "batch_duration_seconds",
		Help:      "Time spent claiming, publishing and settling one outbox batch.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})

	dlqCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitsync",
		Subsystem: "outbox",
		Name:      "events_dlq_total",
		Help:      "Change events routed to the dead-letter table, by topic.",
	}, []string{"topic"})

	replayCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitsync",
		Subsystem: "dlq",
		Name:      "replay_actions_total",
		Help:      "Dead-letter entries handled by the replayer, by action (requeued, retry_scheduled, quarantined).",
	}, []string{"collection", "action"})

	dlqBacklogGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fitsync",
		Subsystem: "dlq",
		Name:      "queued_messages",
		Help:      "Dead-letter entries not yet requeued or quarantined.",
	})
)

func init() {
	prometheus.MustRegister(eventsCounter, batchDuration, dlqCounter, replayCounter, dlqBacklogGauge)
}
