// Package metrics holds the Prometheus instrumentation of the messaging
// engine. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "courier"

// Stream names used as label values.
const (
	StreamUnread        = "unread"
	StreamConversations = "conversations"
	StreamMessages      = "messages"
	StreamNotifications = "notifications"
)

// Send stages used as label values for partial failures.
const (
	StageConversation = "conversation"
	StageNotification = "notification"
)

// Metrics groups every collector courier exports.
type Metrics struct {
	StreamSetups           *prometheus.CounterVec
	StreamTeardowns        *prometheus.CounterVec
	StreamsActive          *prometheus.GaugeVec
	StreamFallbacks        *prometheus.CounterVec
	StreamErrors           *prometheus.CounterVec
	MessagesSent           prometheus.Counter
	SendFailures           prometheus.Counter
	SendPartialFailures    *prometheus.CounterVec
	ReadMarks              *prometheus.CounterVec
	ConversationsCreated   prometheus.Counter
	DuplicateConversations prometheus.Counter
	NotificationsRead      prometheus.Counter
	ErrorsDropped          prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg skips
// registration, which tests use to get private collectors.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		StreamSetups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_setups_total",
			Help:      "Push subscriptions established, by stream.",
		}, []string{"stream"}),
		StreamTeardowns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_teardowns_total",
			Help:      "Push subscriptions torn down, by stream.",
		}, []string{"stream"}),
		StreamsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams_active",
			Help:      "Push subscriptions currently held, by stream.",
		}, []string{"stream"}),
		StreamFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_fallbacks_total",
			Help:      "Ordered queries rejected by the store and re-issued unordered.",
		}, []string{"stream"}),
		StreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_errors_total",
			Help:      "Terminal subscription errors, by stream.",
		}, []string{"stream"}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Messages written.",
		}),
		SendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "Sends whose message write failed.",
		}),
		SendPartialFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_partial_failures_total",
			Help:      "Sends whose message was written but a follow-up write failed.",
		}, []string{"stage"}),
		ReadMarks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "read_marks_total",
			Help:      "Read-mark writes, by result.",
		}, []string{"result"}),
		ConversationsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversations_created_total",
			Help:      "Conversations created on first contact.",
		}),
		DuplicateConversations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_conversations_total",
			Help:      "Conversations hidden because another one exists for the same pair.",
		}),
		NotificationsRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_read_total",
			Help:      "Notifications marked read.",
		}),
		ErrorsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notices_dropped_total",
			Help:      "User-visible notices dropped because no one was reading.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.StreamSetups,
			m.StreamTeardowns,
			m.StreamsActive,
			m.StreamFallbacks,
			m.StreamErrors,
			m.MessagesSent,
			m.SendFailures,
			m.SendPartialFailures,
			m.ReadMarks,
			m.ConversationsCreated,
			m.DuplicateConversations,
			m.NotificationsRead,
			m.ErrorsDropped,
		)
	}
	return m
}

func (m *Metrics) StreamUp(stream string) {
	if m == nil {
		return
	}
	m.StreamSetups.WithLabelValues(stream).Inc()
	m.StreamsActive.WithLabelValues(stream).Inc()
}

func (m *Metrics) StreamDown(stream string) {
	if m == nil {
		return
	}
	m.StreamTeardowns.WithLabelValues(stream).Inc()
	m.StreamsActive.WithLabelValues(stream).Dec()
}

func (m *Metrics) Fallback(stream string) {
	if m == nil {
		return
	}
	m.StreamFallbacks.WithLabelValues(stream).Inc()
}

func (m *Metrics) StreamError(stream string) {
	if m == nil {
		return
	}
	m.StreamErrors.WithLabelValues(stream).Inc()
}

func (m *Metrics) Sent() {
	if m == nil {
		return
	}
	m.MessagesSent.Inc()
}

func (m *Metrics) SendFailed() {
	if m == nil {
		return
	}
	m.SendFailures.Inc()
}

func (m *Metrics) PartialFailure(stage string) {
	if m == nil {
		return
	}
	m.SendPartialFailures.WithLabelValues(stage).Inc()
}

// ReadMark records one read-mark write.
func (m *Metrics) ReadMark(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ReadMarks.WithLabelValues(result).Inc()
}

func (m *Metrics) ConversationCreated() {
	if m == nil {
		return
	}
	m.ConversationsCreated.Inc()
}

func (m *Metrics) Duplicates(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.DuplicateConversations.Add(float64(n))
}

func (m *Metrics) NotificationRead() {
	if m == nil {
		return
	}
	m.NotificationsRead.Inc()
}

func (m *Metrics) NoticeDropped() {
	if m == nil {
		return
	}
	m.ErrorsDropped.Inc()
}
