package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	MediaFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_fetches_total",
			Help: "Total number of media fetch attempts by outcome (count)",
		},
		[]string{"role", "status"},
	)

	MediaFetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_fetch_duration_ms",
			Help:    "Media fetch and transform duration in milliseconds",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"role"},
	)

	MediaStoredBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "media_stored_bytes",
			Help:    "Size of blobs written to the media cache (bytes)",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		},
	)

	StatePublishesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "state_publishes_total",
			Help: "Total number of shared state scope publishes (count)",
		},
		[]string{"scope_kind", "status"},
	)

	DispatchMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_messages_total",
			Help: "Total number of push payloads handled by outcome (count)",
		},
		[]string{"status"},
	)

	DispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_duration_ms",
			Help:    "Push payload handling duration in milliseconds",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 20000},
		},
		[]string{"status"},
	)

	DispatchFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_fallbacks_total",
			Help: "Media fields published with the remote URL instead of a cached blob (count)",
		},
		[]string{"role", "required"},
	)

	ReceiptsAppendedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "receipts_appended_total",
			Help: "Total number of receipt records appended (count)",
		},
	)

	ReceiptsCorruptTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "receipts_corrupt_total",
			Help: "Corrupt receipt records seen during drains (count)",
		},
		[]string{"action"},
	)

	ReceiptQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "receipt_queue_depth",
			Help: "Records present in the receipt queue at the last snapshot (count)",
		},
	)

	ReconcileRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_runs_total",
			Help: "Total number of reconciliation runs by outcome (count)",
		},
		[]string{"status"},
	)

	ReconcileMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_messages_total",
			Help: "Message ids processed by reconciliation by outcome (count)",
		},
		[]string{"status"},
	)

	ReconcileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reconcile_duration_ms",
			Help:    "Reconciliation run duration in milliseconds",
			Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
	)

	RedrawRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redraw_requests_total",
			Help: "Redraw requests by stage (requested, coalesced, delivered, failed) (count)",
		},
		[]string{"stage"},
	)

	RemoteOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remote_operations_total",
			Help: "Operations against the remote system of record (count)",
		},
		[]string{"backend", "operation", "status"},
	)

	RemoteOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "remote_operation_duration_ms",
			Help:    "Remote system of record operation duration in milliseconds",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"backend", "operation"},
	)

	DedupCacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dedup_cache_size",
			Help: "Approximate size of the push deduplication cache (count)",
		},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"service", "topic"},
	)

	DLQMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_messages_total",
			Help: "Total number of messages sent to DLQ (count)",
		},
		[]string{"service", "topic", "reason"},
	)

	KafkaMessagesReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_read_total",
			Help: "Total number of messages read from Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_written_total",
			Help: "Total number of messages written to Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures recorded by circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked by the rate limiter (count)",
		},
		[]string{"status"},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP API requests (count)",
		},
		[]string{"method", "route", "status"},
	)
)

var (
	pipelineOnce sync.Once
	brokerOnce   sync.Once
	breakerOnce  sync.Once
	httpOnce     sync.Once
)

func RegisterPipelineMetrics() {
	pipelineOnce.Do(func() {
		prometheus.MustRegister(MediaFetchesTotal)
		prometheus.MustRegister(MediaFetchDuration)
		prometheus.MustRegister(MediaStoredBytes)
		prometheus.MustRegister(StatePublishesTotal)
		prometheus.MustRegister(DispatchMessagesTotal)
		prometheus.MustRegister(DispatchDuration)
		prometheus.MustRegister(DispatchFallbacksTotal)
		prometheus.MustRegister(ReceiptsAppendedTotal)
		prometheus.MustRegister(ReceiptsCorruptTotal)
		prometheus.MustRegister(ReceiptQueueDepth)
		prometheus.MustRegister(ReconcileRunsTotal)
		prometheus.MustRegister(ReconcileMessagesTotal)
		prometheus.MustRegister(ReconcileDuration)
		prometheus.MustRegister(RedrawRequestsTotal)
		prometheus.MustRegister(RemoteOperationsTotal)
		prometheus.MustRegister(RemoteOperationDuration)
		prometheus.MustRegister(DedupCacheSize)
	})
}

func RegisterBrokerMetrics() {
	brokerOnce.Do(func() {
		prometheus.MustRegister(RetryAttemptsTotal)
		prometheus.MustRegister(DLQMessagesTotal)
		prometheus.MustRegister(KafkaMessagesReadTotal)
		prometheus.MustRegister(KafkaMessagesWrittenTotal)
	})
}

func RegisterCircuitBreakerMetrics() {
	breakerOnce.Do(func() {
		prometheus.MustRegister(CircuitBreakerState)
		prometheus.MustRegister(CircuitBreakerRequests)
		prometheus.MustRegister(CircuitBreakerFailures)
	})
}

func RegisterHTTPMetrics() {
	httpOnce.Do(func() {
		prometheus.MustRegister(RateLimitRequestsTotal)
		prometheus.MustRegister(HTTPRequestsTotal)
	})
}

func ObserveMediaFetch(role, status string, duration time.Duration) {
	MediaFetchesTotal.WithLabelValues(role, status).Inc()
	MediaFetchDuration.WithLabelValues(role).Observe(float64(duration.Milliseconds()))
}

func ObserveDispatch(status string, duration time.Duration) {
	DispatchMessagesTotal.WithLabelValues(status).Inc()
	DispatchDuration.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

func IncStatePublish(scopeKind, status string) {
	StatePublishesTotal.WithLabelValues(scopeKind, status).Inc()
}

func IncDispatchFallback(role string, required bool) {
	label := "false"
	if required {
		label = "true"
	}
	DispatchFallbacksTotal.WithLabelValues(role, label).Inc()
}

func SetReceiptQueueDepth(depth int) {
	ReceiptQueueDepth.Set(float64(depth))
}

func ObserveReconcile(status string, committed, failed int, duration time.Duration) {
	ReconcileRunsTotal.WithLabelValues(status).Inc()
	ReconcileMessagesTotal.WithLabelValues("committed").Add(float64(committed))
	ReconcileMessagesTotal.WithLabelValues("failed").Add(float64(failed))
	ReconcileDuration.Observe(float64(duration.Milliseconds()))
}

func IncRedraw(stage string, n int) {
	RedrawRequestsTotal.WithLabelValues(stage).Add(float64(n))
}

func ObserveRemoteOperation(backend, operation, status string, duration time.Duration) {
	RemoteOperationsTotal.WithLabelValues(backend, operation, status).Inc()
	RemoteOperationDuration.WithLabelValues(backend, operation).Observe(float64(duration.Milliseconds()))
}

func SetDedupCacheSize(size int) {
	DedupCacheSize.Set(float64(size))
}

func IncKafkaMessagesRead(service, topic string) {
	KafkaMessagesReadTotal.WithLabelValues(service, topic).Inc()
}

func IncKafkaMessagesWritten(service, topic string) {
	KafkaMessagesWrittenTotal.WithLabelValues(service, topic).Inc()
}
