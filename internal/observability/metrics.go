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
			Namespace: "charlink",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "charlink",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	linkState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "charlink",
			Subsystem: "link",
			Name:      "state",
			Help:      "Current link state (1 for the active state).",
		},
		[]string{"node", "state"},
	)
	linkConnectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "charlink",
			Subsystem: "link",
			Name:      "connect_attempts_total",
			Help:      "Connection attempts to the authority.",
		},
		[]string{"node", "success"},
	)
	linkDisconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "charlink",
			Subsystem: "link",
			Name:      "disconnects_total",
			Help:      "Link teardowns by cause.",
		},
		[]string{"node", "cause"},
	)
	linkFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "charlink",
			Subsystem: "link",
			Name:      "frames_total",
			Help:      "Frames moved across the link.",
		},
		[]string{"node", "direction", "opcode"},
	)
	linkOverflows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "charlink",
			Subsystem: "link",
			Name:      "outbound_overflows_total",
			Help:      "Frames dropped because the outbound queue was full.",
		},
		[]string{"node"},
	)
	authOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "charlink",
			Subsystem: "auth",
			Name:      "outcomes_total",
			Help:      "Pending-auth rendezvous outcomes.",
		},
		[]string{"node", "side", "outcome"},
	)
	authPending = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "charlink",
			Subsystem: "auth",
			Name:      "pending",
			Help:      "Pending-auth records awaiting their counterpart.",
		},
		[]string{"node"},
	)
	authExpired = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "charlink",
			Subsystem: "auth",
			Name:      "expired_total",
			Help:      "Pending-auth records removed by the sweep.",
		},
		[]string{"node"},
	)
	censusEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "charlink",
			Subsystem: "census",
			Name:      "entries",
			Help:      "Entries in the last census report.",
		},
		[]string{"node"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			linkState, linkConnectAttempts, linkDisconnects, linkFrames, linkOverflows,
			authOutcomes, authPending, authExpired,
			censusEntries,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

// RecordLinkState marks state as the active one among all.
func RecordLinkState(node, state string, all []string) {
	RegisterMetrics()
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		linkState.WithLabelValues(node, s).Set(v)
	}
}

func RecordConnectAttempt(node string, success bool) {
	RegisterMetrics()
	linkConnectAttempts.WithLabelValues(node, strconv.FormatBool(success)).Inc()
}

func RecordDisconnect(node, cause string) {
	RegisterMetrics()
	linkDisconnects.WithLabelValues(node, cause).Inc()
}

func RecordFrame(node, direction, opcode string) {
	RegisterMetrics()
	linkFrames.WithLabelValues(node, direction, opcode).Inc()
}

func RecordOutboundOverflow(node string) {
	RegisterMetrics()
	linkOverflows.WithLabelValues(node).Inc()
}

func RecordAuthOutcome(node, side, outcome string) {
	RegisterMetrics()
	authOutcomes.WithLabelValues(node, side, outcome).Inc()
}

func RecordAuthPending(node string, n int) {
	RegisterMetrics()
	authPending.WithLabelValues(node).Set(float64(n))
}

func RecordAuthExpired(node string, n int) {
	RegisterMetrics()
	authExpired.WithLabelValues(node).Add(float64(n))
}

func RecordCensus(node string, entries int) {
	RegisterMetrics()
	censusEntries.WithLabelValues(node).Set(float64(entries))
}
