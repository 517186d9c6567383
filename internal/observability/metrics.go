package observability

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	connectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wampctl",
			Subsystem: "transport",
			Name:      "connect_attempts_total",
			Help:      "Outbound connection attempts by endpoint kind.",
		},
		[]string{"endpoint"},
	)
	connectFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wampctl",
			Subsystem: "transport",
			Name:      "connect_failures_total",
			Help:      "Failed outbound connection attempts by endpoint kind.",
		},
		[]string{"endpoint"},
	)
	sessionsJoined = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wampctl",
			Subsystem: "session",
			Name:      "joined_total",
			Help:      "Sessions welcomed by the router.",
		},
		[]string{"realm"},
	)
	sessionLeaves = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wampctl",
			Subsystem: "session",
			Name:      "leave_total",
			Help:      "Goodbye handshakes by outcome.",
		},
		[]string{"outcome"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wampctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests served by the metrics endpoint.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wampctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			connectAttempts,
			connectFailures,
			sessionsJoined,
			sessionLeaves,
			httpRequests,
			httpDuration,
		)
	})
}

func RecordConnectAttempt(endpoint string) {
	RegisterMetrics()
	connectAttempts.WithLabelValues(label(endpoint)).Inc()
}

func RecordConnectFailure(endpoint string) {
	RegisterMetrics()
	connectFailures.WithLabelValues(label(endpoint)).Inc()
}

func RecordSessionJoined(realm string) {
	RegisterMetrics()
	sessionsJoined.WithLabelValues(label(realm)).Inc()
}

func RecordSessionLeave(outcome string) {
	RegisterMetrics()
	sessionLeaves.WithLabelValues(label(outcome)).Inc()
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func label(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "unknown"
	}
	return v
}
