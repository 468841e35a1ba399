package airreplay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors the engine updates as it replays,
// grounded on escrow.Metrics's promauto-registered CounterVec/GaugeVec
// pattern. Attaching a Metrics via Engine.SetMetrics is optional; a nil
// metrics sink is a no-op everywhere it's consulted.
type Metrics struct {
	ReplayAttempts   *prometheus.CounterVec
	ReplayMismatch   *prometheus.CounterVec
	ReplayFalseAlarm *prometheus.CounterVec
	TraceCursor      prometheus.Gauge
}

// NewMetrics creates and registers the engine's Prometheus collectors on
// the default registry, mirroring escrow.NewMetrics.
func NewMetrics() *Metrics {
	return &Metrics{
		ReplayAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "airreplay_replay_attempts_total",
				Help: "Total number of RecordReplay/SaveRestore match attempts that missed and were retried; successful attempts are not counted.",
			},
			[]string{"key"},
		),
		ReplayMismatch: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "airreplay_replay_mismatch_total",
				Help: "Total number of RecordReplay/SaveRestore mismatches that required a retry.",
			},
			[]string{"key"},
		),
		ReplayFalseAlarm: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "airreplay_replay_false_alarm_total",
				Help: "Total number of payload mismatches resolved by the structured comparator as PROTO_COMPARE_FALSE_ALARM.",
			},
			[]string{"key"},
		),
		TraceCursor: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "airreplay_trace_cursor",
				Help: "Current replay cursor position in the trace.",
			},
		),
	}
}

// RecordMismatch records one RecordReplay/SaveRestore retry attempt for key.
func (m *Metrics) RecordMismatch(key string) {
	if m == nil {
		return
	}
	m.ReplayMismatch.WithLabelValues(key).Inc()
	m.ReplayAttempts.WithLabelValues(key).Inc()
}

// RecordFalseAlarm records a comparator false-alarm resolution for key.
func (m *Metrics) RecordFalseAlarm(key string) {
	if m == nil {
		return
	}
	m.ReplayFalseAlarm.WithLabelValues(key).Inc()
}

// SetCursor publishes the trace's current replay position.
func (m *Metrics) SetCursor(pos int) {
	if m == nil {
		return
	}
	m.TraceCursor.Set(float64(pos))
}
