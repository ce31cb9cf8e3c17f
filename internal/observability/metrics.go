package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "linkctl"

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	relayMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "messages_total",
			Help:      "Payloads moved between the link and the message bus.",
		},
		[]string{"node", "direction", "outcome"},
	)
	relayDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "forward_duration_seconds",
			Help:      "Time spent forwarding one payload.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "direction"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, relayMessages, relayDuration)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

// RecordRelay counts one forwarded payload. direction is "uplink" (link to
// bus) or "downlink" (bus to link); outcome is "ok", "dropped" or "error".
func RecordRelay(node, direction, outcome string, duration time.Duration) {
	RegisterMetrics()
	relayMessages.WithLabelValues(node, direction, outcome).Inc()
	if outcome == "ok" {
		relayDuration.WithLabelValues(node, direction).Observe(duration.Seconds())
	}
}
