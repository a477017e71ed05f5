package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	chatConnectionsActive  prometheus.Gauge
	chatMessagesSentTotal  *prometheus.CounterVec
	sseClientsActive       prometheus.Gauge
	presenceUpdatesTotal   *prometheus.CounterVec
	typingEventsTotal      *prometheus.CounterVec
	notificationsTotal     *prometheus.CounterVec
	notificationsSuppressed *prometheus.CounterVec
	monitorRequestsTotal   *prometheus.CounterVec
	monitorLatencySeconds  *prometheus.HistogramVec
)

// RegisterMetrics initialises the Prometheus collectors for the realtime
// core.
func RegisterMetrics() {
	registerOnce.Do(func() {
		chatConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crm_chat_connections_active",
			Help: "Number of open chat websocket connections.",
		})

		chatMessagesSentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crm_chat_messages_sent_total",
			Help: "Total number of chat messages appended to a log.",
		}, []string{"chat_type"})

		sseClientsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crm_sse_clients_active",
			Help: "Number of connected SSE stream subscribers.",
		})

		presenceUpdatesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crm_presence_updates_total",
			Help: "Total presence writes, by resulting status.",
		}, []string{"status"})

		typingEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crm_typing_events_total",
			Help: "Total typing indicator transitions.",
		}, []string{"state"})

		notificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crm_notifications_dispatched_total",
			Help: "Total message alerts dispatched to recipients.",
		}, []string{"priority"})

		notificationsSuppressed = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crm_notifications_suppressed_total",
			Help: "Total message alerts suppressed before delivery.",
		}, []string{"reason"})

		monitorRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crm_admin_requests_total",
			Help: "Total number of admin monitor requests served.",
		}, []string{"method", "route", "status"})

		monitorLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crm_admin_latency_seconds",
			Help:    "Latency distribution for admin monitor requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		prometheus.MustRegister(
			chatConnectionsActive,
			chatMessagesSentTotal,
			sseClientsActive,
			presenceUpdatesTotal,
			typingEventsTotal,
			notificationsTotal,
			notificationsSuppressed,
			monitorRequestsTotal,
			monitorLatencySeconds,
		)
	})
}

// ChatConnectionsActive exposes the websocket connection gauge.
func ChatConnectionsActive() prometheus.Gauge {
	RegisterMetrics()
	return chatConnectionsActive
}

// ChatMessagesSent exposes the message counter.
func ChatMessagesSent() *prometheus.CounterVec {
	RegisterMetrics()
	return chatMessagesSentTotal
}

// SSEClientsActive exposes the SSE subscriber gauge.
func SSEClientsActive() prometheus.Gauge {
	RegisterMetrics()
	return sseClientsActive
}

// PresenceUpdates exposes the presence write counter.
func PresenceUpdates() *prometheus.CounterVec {
	RegisterMetrics()
	return presenceUpdatesTotal
}

// TypingEvents exposes the typing transition counter.
func TypingEvents() *prometheus.CounterVec {
	RegisterMetrics()
	return typingEventsTotal
}

// NotificationsDispatched exposes the alert dispatch counter.
func NotificationsDispatched() *prometheus.CounterVec {
	RegisterMetrics()
	return notificationsTotal
}

// NotificationsSuppressed exposes the alert suppression counter.
func NotificationsSuppressed() *prometheus.CounterVec {
	RegisterMetrics()
	return notificationsSuppressed
}

// MonitorRequests exposes the counter for admin monitor requests.
func MonitorRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return monitorRequestsTotal
}

// MonitorLatency exposes the latency histogram for admin monitor requests.
func MonitorLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return monitorLatencySeconds
}
