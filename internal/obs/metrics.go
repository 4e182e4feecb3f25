package obs

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	authOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_operations_total",
			Help: "Total number of identity operations by outcome.",
		},
		[]string{"op", "result"},
	)

	authOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "auth_operation_duration_seconds",
			Help:    "Identity operation latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	tokensIssuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_tokens_issued_total",
			Help: "Total number of tokens issued by kind.",
		},
		[]string{"kind"},
	)
)

// Init registers the metrics with the default registry.
func Init() {
	prometheus.MustRegister(authOperationsTotal, authOperationDuration, tokensIssuedTotal)
}

// Handler exposes the metrics scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveOperation records one operation outcome and its latency.
func ObserveOperation(op, result string, started time.Time) {
	authOperationsTotal.WithLabelValues(op, result).Inc()
	authOperationDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

// TokenIssued counts a minted token by kind (access, refresh, recovery).
func TokenIssued(kind string) {
	tokensIssuedTotal.WithLabelValues(kind).Inc()
}
