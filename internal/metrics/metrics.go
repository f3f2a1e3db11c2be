// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesExtractedTotal counts messages extracted from device streams
	MessagesExtractedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "siphon_messages_extracted_total",
			Help: "Total number of validated messages extracted from device streams",
		},
	)

	// BytesSkippedTotal counts stream bytes discarded as garbage
	BytesSkippedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "siphon_bytes_skipped_total",
			Help: "Total number of stream bytes discarded without yielding a message",
		},
	)

	// IncompleteRetriesTotal counts calls spent waiting on an incomplete candidate
	IncompleteRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "siphon_incomplete_retries_total",
			Help: "Total number of process calls that waited for an incomplete candidate message",
		},
	)

	// RetryExhaustedTotal counts incomplete candidates discarded after the retry budget
	RetryExhaustedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "siphon_retry_exhausted_total",
			Help: "Total number of incomplete candidate messages discarded after the retry budget ran out",
		},
	)

	// BufferedBytes tracks bytes currently buffered across all extractors
	BufferedBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "siphon_buffered_bytes",
			Help: "Stream bytes currently buffered awaiting message boundaries, summed over sessions",
		},
	)

	// BufferResetsTotal counts out-of-band buffer resynchronizations
	BufferResetsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "siphon_buffer_resets_total",
			Help: "Total number of extractor buffer resets triggered by the buffer ceiling",
		},
	)

	// ActiveSessions tracks currently connected device sessions
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "siphon_active_sessions",
			Help: "Number of currently connected device sessions",
		},
	)

	// UplinkMessagesTotal counts envelopes handed to reporters
	UplinkMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "siphon_uplink_messages_total",
			Help: "Total number of envelopes handed to each reporter",
		},
		[]string{"reporter"},
	)

	// ReporterErrorsTotal counts reporter delivery errors
	ReporterErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "siphon_reporter_errors_total",
			Help: "Total number of reporter delivery errors",
		},
		[]string{"reporter"},
	)

	// DownlinkCommandsTotal counts downlink commands written to devices
	DownlinkCommandsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "siphon_downlink_commands_total",
			Help: "Total number of downlink commands written to device sockets",
		},
	)
)
