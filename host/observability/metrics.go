package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	framesDecoded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cangate",
			Subsystem: "link",
			Name:      "frames_decoded_total",
			Help:      "Frames fully decoded from the serial link.",
		},
		[]string{"mode"},
	)
	framesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cangate",
			Subsystem: "link",
			Name:      "frames_dropped_total",
			Help:      "Attack-flagged frames suppressed by protection mode.",
		},
	)
	decodeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cangate",
			Subsystem: "link",
			Name:      "decode_errors_total",
			Help:      "Discarded decode attempts by kind (short, malformed, io).",
		},
		[]string{"kind"},
	)
	framesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cangate",
			Subsystem: "link",
			Name:      "frames_sent_total",
			Help:      "Frames written to the serial link by kind (once, periodic, raw).",
		},
		[]string{"kind"},
	)
	writeErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cangate",
			Subsystem: "link",
			Name:      "write_errors_total",
			Help:      "Failed writes to the serial link.",
		},
	)
	connects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cangate",
			Subsystem: "link",
			Name:      "connects_total",
			Help:      "Connect attempts by outcome.",
		},
		[]string{"success"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cangate",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cangate",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// RegisterMetrics registers all collectors with the default registry once
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			framesDecoded, framesDropped, decodeErrors,
			framesSent, writeErrors, connects,
			httpRequests, httpDuration,
		)
	})
}

// RecordFrameDecoded counts a frame decoded off the wire, by mode
func RecordFrameDecoded(mode string) {
	RegisterMetrics()
	framesDecoded.WithLabelValues(mode).Inc()
}

// RecordFrameDropped counts a frame the protection filter blocked
func RecordFrameDropped() {
	RegisterMetrics()
	framesDropped.Inc()
}

// RecordDecodeError counts a failed decode attempt (short, malformed or io)
func RecordDecodeError(kind string) {
	RegisterMetrics()
	decodeErrors.WithLabelValues(kind).Inc()
}

// RecordFrameSent counts a frame written to the gateway, by kind
func RecordFrameSent(kind string) {
	RegisterMetrics()
	framesSent.WithLabelValues(kind).Inc()
}

// RecordWriteError counts a failed port write
func RecordWriteError() {
	RegisterMetrics()
	writeErrors.Inc()
}

// RecordConnect counts a connect attempt and its outcome
func RecordConnect(success bool) {
	RegisterMetrics()
	connects.WithLabelValues(strconv.FormatBool(success)).Inc()
}

// RecordHTTPRequest counts a served request and observes its latency
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
