package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mtsession",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mtsession",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	rpcRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mtsession",
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "Invocations by query and outcome.",
		},
		[]string{"dc", "query", "outcome"},
	)
	rpcDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mtsession",
			Subsystem: "rpc",
			Name:      "request_duration_seconds",
			Help:      "Invocation duration including retries.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"dc", "query", "outcome"},
	)
	rpcRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mtsession",
			Subsystem: "rpc",
			Name:      "retries_total",
			Help:      "Retries consumed by transient failures.",
		},
		[]string{"dc", "query"},
	)
	floodWaits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mtsession",
			Subsystem: "rpc",
			Name:      "flood_wait_seconds_total",
			Help:      "Seconds slept on server flood-wait requests.",
		},
		[]string{"dc", "query"},
	)
	sessionRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mtsession",
			Subsystem: "session",
			Name:      "restarts_total",
			Help:      "Session restarts.",
		},
		[]string{"dc"},
	)
	securityRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mtsession",
			Subsystem: "session",
			Name:      "security_rejections_total",
			Help:      "Inbound packets discarded by replay or integrity checks.",
		},
		[]string{"dc"},
	)
	saltRotations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mtsession",
			Subsystem: "session",
			Name:      "salt_rotations_total",
			Help:      "Server salt replacements.",
		},
		[]string{"dc"},
	)
	acksSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mtsession",
			Subsystem: "session",
			Name:      "acks_sent_total",
			Help:      "Message ids acknowledged to the server.",
		},
		[]string{"dc"},
	)
	pendingRequests = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mtsession",
			Subsystem: "session",
			Name:      "pending_requests",
			Help:      "Requests awaiting a response.",
		},
		[]string{"dc"},
	)
	sessionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mtsession",
			Subsystem: "session",
			Name:      "state",
			Help:      "Lifecycle state (0 stopped, 1 starting, 2 running, 3 stopping).",
		},
		[]string{"dc"},
	)
	updatesDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mtsession",
			Subsystem: "updates",
			Name:      "dispatched_total",
			Help:      "Server pushes handed to the update handler.",
		},
		[]string{"type", "success"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			rpcRequests, rpcDuration, rpcRetries, floodWaits,
			sessionRestarts, securityRejections, saltRotations, acksSent,
			pendingRequests, sessionState, updatesDispatched,
		)
	})
}

func dcLabel(dc int) string { return strconv.Itoa(dc) }

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordRPC(dc int, query, outcome string, duration time.Duration) {
	RegisterMetrics()
	rpcRequests.WithLabelValues(dcLabel(dc), query, outcome).Inc()
	rpcDuration.WithLabelValues(dcLabel(dc), query, outcome).Observe(duration.Seconds())
}

func RecordRetry(dc int, query string) {
	RegisterMetrics()
	rpcRetries.WithLabelValues(dcLabel(dc), query).Inc()
}

func RecordFloodWait(dc int, query string, wait time.Duration) {
	RegisterMetrics()
	floodWaits.WithLabelValues(dcLabel(dc), query).Add(wait.Seconds())
}

func RecordRestart(dc int) {
	RegisterMetrics()
	sessionRestarts.WithLabelValues(dcLabel(dc)).Inc()
}

func RecordSecurityRejection(dc int) {
	RegisterMetrics()
	securityRejections.WithLabelValues(dcLabel(dc)).Inc()
}

func RecordSaltRotation(dc int) {
	RegisterMetrics()
	saltRotations.WithLabelValues(dcLabel(dc)).Inc()
}

func RecordAcks(dc int, n int) {
	RegisterMetrics()
	acksSent.WithLabelValues(dcLabel(dc)).Add(float64(n))
}

func SetPending(dc int, n int) {
	RegisterMetrics()
	pendingRequests.WithLabelValues(dcLabel(dc)).Set(float64(n))
}

func SetSessionState(dc int, state int) {
	RegisterMetrics()
	sessionState.WithLabelValues(dcLabel(dc)).Set(float64(state))
}

func RecordUpdate(kind string, success bool) {
	RegisterMetrics()
	updatesDispatched.WithLabelValues(kind, strconv.FormatBool(success)).Inc()
}
