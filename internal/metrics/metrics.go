package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection metrics
	ConnectionState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gift_recorder_connection_state",
		Help: "Connection state (0=disconnected, 1=connecting, 2=awaiting_login, 3=joined, 4=active, 5=stopping, 6=closed)",
	})

	HeartbeatsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gift_recorder_heartbeats_sent_total",
		Help: "Total number of keep-alive frames sent",
	})

	// Frame processing
	FramesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gift_recorder_frames_received_total",
		Help: "Total number of frames received by message type",
	}, []string{"message_type"})

	DecodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gift_recorder_decode_errors_total",
		Help: "Total number of frames dropped because they could not be decoded",
	})

	// Event metrics
	EventsAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gift_recorder_events_accepted_total",
		Help: "Total number of gift events queued for export",
	}, []string{"kind"})

	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gift_recorder_events_dropped_total",
		Help: "Total number of gift frames dropped",
	}, []string{"reason"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gift_recorder_queue_depth",
		Help: "Number of events waiting for export",
	})

	// Export metrics
	RowsExported = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gift_recorder_rows_exported_total",
		Help: "Total number of rows written per sink",
	}, []string{"sink"})

	ExportErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gift_recorder_export_errors_total",
		Help: "Total number of failed sink writes",
	}, []string{"sink"})

	ExportSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gift_recorder_export_skipped_total",
		Help: "Total number of events not written because the sink was disabled by its breaker",
	}, []string{"sink"})

	// Recording synchronization
	RecordingSyncDelay = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gift_recorder_recording_sync_delay_seconds",
		Help: "Seconds between session start and the recording file appearing",
	})
)

// IncEventDropped increments the dropped event counter
func IncEventDropped(reason string) {
	EventsDropped.WithLabelValues(reason).Inc()
}
