package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions   prometheus.Gauge
	SessionEvents    *prometheus.CounterVec
	WSMessages       *prometheus.CounterVec
	ProviderErrors   *prometheus.CounterVec
	StateTransitions *prometheus.CounterVec
	Turns            *prometheus.CounterVec
	EmotionMismatch  prometheus.Counter
	ReplyLatency     prometheus.Histogram

	turnStages *turnStageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active consultation sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Provider errors by provider and code.",
		}, []string{"provider", "code"}),
		StateTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Turn orchestrator state transitions by target state.",
		}, []string{"state"}),
		Turns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Completed turns by outcome.",
		}, []string{"outcome"}),
		EmotionMismatch: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emotion_mismatch_total",
			Help:      "Turns where text sentiment diverged from the facial label.",
		}),
		ReplyLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reply_latency_ms",
			Help:      "Latency from transcript commit to assistant audio in milliseconds.",
			Buckets:   []float64{200, 400, 700, 1000, 1500, 2500, 4000, 8000},
		}),
		turnStages: newTurnStageWindow(256),
	}
}

func (m *Metrics) ObserveReplyLatency(d time.Duration) {
	m.ReplyLatency.Observe(float64(d.Milliseconds()))
}

// ObserveTurnStage records one stage duration in the rolling latency window.
func (m *Metrics) ObserveTurnStage(stage string, d time.Duration) {
	if m == nil || m.turnStages == nil {
		return
	}
	m.turnStages.Observe(stage, float64(d.Microseconds())/1000.0)
}

// ObserveTurnIndicator counts a loop-level event (retry, timer fire, teardown).
func (m *Metrics) ObserveTurnIndicator(name string) {
	if m == nil || m.turnStages == nil {
		return
	}
	m.turnStages.ObserveIndicator(name)
}

// TurnLatencySnapshot returns rolling per-stage latency stats for /v1/perf/latency.
func (m *Metrics) TurnLatencySnapshot() TurnStageSnapshot {
	if m == nil || m.turnStages == nil {
		return TurnStageSnapshot{}
	}
	return m.turnStages.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
