// Package metrics: prometheus-метрики сервиса.
// Методы работают на nil, поэтому компоненты в тестах живут без метрик.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	wsSessions     prometheus.Gauge
	wsSessionTotal prometheus.Counter
	wsRejected     prometheus.Counter
	wsEvents       *prometheus.CounterVec
	wsDropped      prometheus.Counter
	messages       *prometheus.CounterVec
	votes          prometheus.Counter
	relays         *prometheus.CounterVec
	aiReplies      *prometheus.CounterVec
	pushes         *prometheus.CounterVec
	httpLatency    *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		wsSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ys_ws_sessions_active",
			Help: "Current number of websocket sessions.",
		}),
		wsSessionTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ys_ws_sessions_total",
			Help: "Websocket sessions accepted since start.",
		}),
		wsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ys_ws_sessions_rejected_total",
			Help: "Websocket sessions rejected by the connection limit.",
		}),
		wsEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ys_ws_events_total",
			Help: "Client events received, by type.",
		}, []string{"type"}),
		wsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ys_ws_slow_client_closed_total",
			Help: "Sessions closed because the send buffer was full.",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ys_messages_posted_total",
			Help: "Messages stored, by kind.",
		}, []string{"kind"}),
		votes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ys_poll_votes_total",
			Help: "Poll votes applied.",
		}),
		relays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ys_signaling_relays_total",
			Help: "Signaling messages by event and result (delivered, dropped).",
		}, []string{"event", "result"}),
		aiReplies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ys_ai_replies_total",
			Help: "AI responder tasks by outcome.",
		}, []string{"result"}),
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ys_push_notifications_total",
			Help: "Web push deliveries by result.",
		}, []string{"result"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ys_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status class.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"route", "method", "code"}),
	}

	reg.MustRegister(
		m.wsSessions,
		m.wsSessionTotal,
		m.wsRejected,
		m.wsEvents,
		m.wsDropped,
		m.messages,
		m.votes,
		m.relays,
		m.aiReplies,
		m.pushes,
		m.httpLatency,
	)
	return m
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.wsSessions.Inc()
	m.wsSessionTotal.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.wsSessions.Dec()
}

func (m *Metrics) SessionRejected() {
	if m == nil {
		return
	}
	m.wsRejected.Inc()
}

func (m *Metrics) ClientEvent(typ string) {
	if m == nil {
		return
	}
	m.wsEvents.WithLabelValues(typ).Inc()
}

func (m *Metrics) SlowClientClosed() {
	if m == nil {
		return
	}
	m.wsDropped.Inc()
}

func (m *Metrics) MessagePosted(kind string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(kind).Inc()
}

func (m *Metrics) VoteApplied() {
	if m == nil {
		return
	}
	m.votes.Inc()
}

func (m *Metrics) Relay(event string, delivered bool) {
	if m == nil {
		return
	}
	result := "delivered"
	if !delivered {
		result = "dropped"
	}
	m.relays.WithLabelValues(event, result).Inc()
}

func (m *Metrics) AIReply(result string) {
	if m == nil {
		return
	}
	m.aiReplies.WithLabelValues(result).Inc()
}

func (m *Metrics) Push(result string) {
	if m == nil {
		return
	}
	m.pushes.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveHTTP(route, method, code string, d time.Duration) {
	if m == nil {
		return
	}
	m.httpLatency.WithLabelValues(route, method, code).Observe(d.Seconds())
}
