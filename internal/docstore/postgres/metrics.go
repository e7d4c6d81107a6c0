package postgres

import "github.com/prometheus/client_golang/prometheus"

var (
	writeCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitsync",
		Subsystem: "docstore",
		Name:      "writes_total",
		Help:      "Number of committed document writes per collection.",
	}, []string{"collection"})

	txRetryCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fitsync",
		Subsystem: "docstore",
		Name:      "tx_retries_total",
		Help:      "Number of transaction attempts retried after a serialization failure or deadlock.",
	})
)

func init() {
	prometheus.MustRegister(writeCounter, txRetryCounter)
}
