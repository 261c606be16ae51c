package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	framesReceivedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "camlink_frames_received_total",
			Help: "Total inbound MQTT frames handed to the dispatcher",
		},
	)

	framesDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camlink_frames_dropped_total",
			Help: "Total inbound frames discarded before routing",
		},
		[]string{"reason"},
	)

	messagesDispatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camlink_messages_dispatched_total",
			Help: "Total decoded device messages by code",
		},
		[]string{"code"},
	)

	commandsSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camlink_commands_sent_total",
			Help: "Total commands published to devices",
		},
		[]string{"code", "result"},
	)

	devicesMarkedOfflineTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "camlink_devices_marked_offline_total",
			Help: "Total online to offline transitions made by the heartbeat sweep",
		},
	)

	heartbeatTickDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "camlink_heartbeat_tick_duration_seconds",
			Help:    "Heartbeat tick duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
	)

	heartbeatTicksSkippedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "camlink_heartbeat_ticks_skipped_total",
			Help: "Total heartbeat ticks skipped because the previous tick was still running",
		},
	)

	signalingEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camlink_signaling_events_total",
			Help: "Total WebRTC signaling events relayed from devices",
		},
		[]string{"kind"},
	)

	eventsExportedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camlink_events_exported_total",
			Help: "Total events handed to the Kafka sink by result",
		},
		[]string{"result"},
	)

	devicesOnline = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "camlink_devices_online",
			Help: "Devices currently believed online, as of the last heartbeat tick",
		},
	)
)

func init() {
	prometheus.MustRegister(
		framesReceivedTotal,
		framesDroppedTotal,
		messagesDispatchedTotal,
		commandsSentTotal,
		devicesMarkedOfflineTotal,
		heartbeatTickDurationSeconds,
		heartbeatTicksSkippedTotal,
		signalingEventsTotal,
		eventsExportedTotal,
		devicesOnline,
	)
}

func FrameReceived() {
	framesReceivedTotal.Inc()
}

// FrameDropped records a frame discarded for reason (decode, panic, queue).
func FrameDropped(reason string) {
	framesDroppedTotal.WithLabelValues(reason).Inc()
}

func MessageDispatched(code string) {
	messagesDispatchedTotal.WithLabelValues(code).Inc()
}

func CommandSent(code, result string) {
	commandsSentTotal.WithLabelValues(code, result).Inc()
}

func DeviceMarkedOffline() {
	devicesMarkedOfflineTotal.Inc()
}

func ObserveHeartbeatTick(seconds float64) {
	heartbeatTickDurationSeconds.Observe(seconds)
}

func HeartbeatTickSkipped() {
	heartbeatTicksSkippedTotal.Inc()
}

func SignalingEvent(kind string) {
	signalingEventsTotal.WithLabelValues(kind).Inc()
}

func SetDevicesOnline(n int) {
	devicesOnline.Set(float64(n))
}

// EventsExported counts n events with result (written, failed, dropped).
func EventsExported(result string, n int) {
	eventsExportedTotal.WithLabelValues(result).Add(float64(n))
}
