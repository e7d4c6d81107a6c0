package changefeed

import "github.com/prometheus/client_golang/prometheus"

var (
	activeSubscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fitsync",
		Subsystem: "changefeed",
		Name:      "active_subscriptions",
		Help:      "Number of live query subscriptions.",
	})

	notificationsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitsync",
		Subsystem: "changefeed",
		Name:      "notifications_total",
		Help:      "Number of change notifications per collection.",
	}, []string{"collection"})

	deliveryErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitsync",
		Subsystem: "changefeed",
		Name:      "delivery_errors_total",
		Help:      "Number of subscription re-runs that failed per collection.",
	}, []string{"collection"})

	processedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitsync",
		Subsystem: "consumer",
		Name:      "messages_processed_total",
		Help:      "Number of Kafka messages successfully handled.",
	}, []string{"topic", "event_type"})

	handlerErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitsync",
		Subsystem: "consumer",
		Name:      "handler_errors_total",
		Help:      "Number of handler errors grouped by topic and event type.",
	}, []string{"topic", "event_type"})

	decodeErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitsync",
		Subsystem: "consumer",
		Name:      "decode_errors_total",
		Help:      "Number of decode failures per topic.",
	}, []string{"topic"})

	droppedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitsync",
		Subsystem: "consumer",
		Name:      "messages_dropped_total",
		Help:      "Number of messages committed without being handled after every retry failed.",
	}, []string{"topic", "event_type"})

	lastMessageGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "fitsync",
		Subsystem: "consumer",
		Name:      "last_message_timestamp_seconds",
		Help:      "Unix timestamp of the most recent successfully processed message per topic.",
	}, []string{"topic"})
)

func init() {
	prometheus.MustRegister(
		activeSubscriptions,
		notificationsCounter,
		deliveryErrorCounter,
		processedCounter,
		handlerErrorCounter,
		decodeErrorCounter,
		droppedCounter,
		lastMessageGauge,
	)
}
