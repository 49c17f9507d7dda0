// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CaptureFramesTotal counts frames read from the capture source
	CaptureFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sniff_capture_frames_total",
			Help: "Total number of frames read from capture sources",
		},
		[]string{"session", "source"},
	)

	// CaptureReadErrorsTotal counts source read failures that ended a capture run
	CaptureReadErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sniff_capture_read_errors_total",
			Help: "Total number of capture source read errors",
		},
		[]string{"session"},
	)

	// DecodeMalformedTotal counts frames dropped by the decoder
	DecodeMalformedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sniff_decode_malformed_total",
			Help: "Total number of frames the decoder rejected",
		},
		[]string{"session"},
	)

	// PacketsDeliveredTotal counts decoded packets handed to the consumer
	PacketsDeliveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sniff_packets_delivered_total",
			Help: "Total number of decoded packets delivered to consumers",
		},
		[]string{"session"},
	)

	// PersistedFramesTotal counts frames appended to the session capture file
	PersistedFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sniff_persisted_frames_total",
			Help: "Total number of frames written to session capture files",
		},
		[]string{"session"},
	)

	// DecodeLatencySeconds measures per-frame decode time
	DecodeLatencySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sniff_decode_latency_seconds",
			Help:    "Latency of decoding one frame in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0000001, 2, 16), // 100ns to ~3ms
		},
	)

	// SessionRunning is 1 while a session is in its Running phase
	SessionRunning = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sniff_session_running",
			Help: "Whether the capture session is running (0=stopped, 1=running)",
		},
		[]string{"session"},
	)

	// StreamClients tracks connected websocket clients
	StreamClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sniff_stream_clients",
			Help: "Number of connected websocket stream clients",
		},
	)

	// StreamDroppedTotal counts packets not sent to a slow websocket client
	StreamDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sniff_stream_dropped_total",
			Help: "Total number of packets dropped for slow stream clients",
		},
	)
)

// DeleteSession removes every series labelled with the session id.
func DeleteSession(id string) {
	labels := prometheus.Labels{"session": id}
	CaptureFramesTotal.DeletePartialMatch(labels)
	CaptureReadErrorsTotal.Delete(labels)
	DecodeMalformedTotal.Delete(labels)
	PacketsDeliveredTotal.Delete(labels)
	PersistedFramesTotal.Delete(labels)
	SessionRunning.Delete(labels)
}
