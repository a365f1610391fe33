package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meetlink",
			Subsystem: "connection",
			Name:      "state_transitions_total",
			Help:      "Connection state transitions by target state.",
		},
		[]string{"platform", "state"},
	)
	reconnectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meetlink",
			Subsystem: "connection",
			Name:      "reconnect_attempts_total",
			Help:      "Scheduled automatic reconnect attempts.",
		},
		[]string{"platform", "attempt"},
	)
	inboundFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meetlink",
			Subsystem: "inbound",
			Name:      "frames_total",
			Help:      "Inbound frames by declared type and outcome.",
		},
		[]string{"type", "outcome"},
	)
	outboundDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meetlink",
			Subsystem: "outbound",
			Name:      "deliveries_total",
			Help:      "Outbound event delivery attempts by channel and result.",
		},
		[]string{"channel", "event_type", "success"},
	)
	apiDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "meetlink",
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Backend API request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation", "status"},
	)
	fallbackActivations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meetlink",
			Subsystem: "fallback",
			Name:      "activations_total",
			Help:      "Fallback content activations by meeting kind and cause.",
		},
		[]string{"kind", "cause"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			stateTransitions,
			reconnectAttempts,
			inboundFrames,
			outboundDeliveries,
			apiDuration,
			fallbackActivations,
		)
	})
}

// MetricsHandler exposes the default registry for the CLI metrics listener.
func MetricsHandler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}

func RecordStateTransition(platform, state string) {
	RegisterMetrics()
	stateTransitions.WithLabelValues(platform, state).Inc()
}

func RecordReconnectAttempt(platform string, attempt int) {
	RegisterMetrics()
	reconnectAttempts.WithLabelValues(platform, strconv.Itoa(attempt)).Inc()
}

func RecordInboundFrame(frameType, outcome string) {
	RegisterMetrics()
	inboundFrames.WithLabelValues(frameType, outcome).Inc()
}

func RecordDelivery(channel, eventType string, success bool) {
	RegisterMetrics()
	outboundDeliveries.WithLabelValues(channel, eventType, strconv.FormatBool(success)).Inc()
}

func RecordAPIRequest(operation string, status int, duration time.Duration) {
	RegisterMetrics()
	apiDuration.WithLabelValues(operation, strconv.Itoa(status)).Observe(duration.Seconds())
}

func RecordFallbackActivation(kind, cause string) {
	RegisterMetrics()
	fallbackActivations.WithLabelValues(kind, cause).Inc()
}
