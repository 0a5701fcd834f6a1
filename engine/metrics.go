package engine

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	lesson "github.com/linguapulse/lesson"
	"github.com/linguapulse/lesson/voice"
)

// Metrics holds the Prometheus metrics of the lesson engine.
type Metrics struct {
	registry *prometheus.Registry

	TurnsTotal            *prometheus.CounterVec
	StartsTotal           *prometheus.CounterVec
	AudioDeliveriesTotal  *prometheus.CounterVec
	FallbacksTotal        *prometheus.CounterVec
	ProfileUpdateFailures *prometheus.CounterVec
	TurnDuration          *prometheus.HistogramVec
}

// NewMetrics creates a Metrics instance on its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "lesson"
	}

	registry := prometheus.NewRegistry()

	turnsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Inbound voice turns by outcome",
		},
		[]string{"variant", "outcome"},
	)

	startsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "starts_total",
			Help:      "Lesson start requests by outcome",
		},
		[]string{"variant", "outcome"},
	)

	audioDeliveries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_deliveries_total",
			Help:      "Tutor utterances by delivery path",
		},
		[]string{"path"},
	)

	fallbacksTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Canned responses used in place of a failed component",
		},
		[]string{"component"},
	)

	profileUpdateFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profile_update_failures_total",
			Help:      "Profile updates at lesson end that failed",
		},
		[]string{"variant"},
	)

	turnDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Time spent handling one voice turn",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 90},
		},
		[]string{"variant"},
	)

	registry.MustRegister(
		turnsTotal,
		startsTotal,
		audioDeliveries,
		fallbacksTotal,
		profileUpdateFailures,
		turnDuration,
	)

	return &Metrics{
		registry:              registry,
		TurnsTotal:            turnsTotal,
		StartsTotal:           startsTotal,
		AudioDeliveriesTotal:  audioDeliveries,
		FallbacksTotal:        fallbacksTotal,
		ProfileUpdateFailures: profileUpdateFailures,
		TurnDuration:          turnDuration,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordTurn records a handled voice turn.
func (m *Metrics) RecordTurn(kind lesson.Kind, outcome Outcome, duration time.Duration) {
	m.TurnsTotal.WithLabelValues(string(kind), string(outcome)).Inc()
	m.TurnDuration.WithLabelValues(string(kind)).Observe(duration.Seconds())
}

// RecordStart records a start request.
func (m *Metrics) RecordStart(kind lesson.Kind, outcome Outcome) {
	m.StartsTotal.WithLabelValues(string(kind), string(outcome)).Inc()
}

// RecordDelivery records the path a tutor utterance took.
func (m *Metrics) RecordDelivery(path voice.Path) {
	m.AudioDeliveriesTotal.WithLabelValues(string(path)).Inc()
}

// RecordFallback records a canned response used by component.
func (m *Metrics) RecordFallback(component string) {
	m.FallbacksTotal.WithLabelValues(component).Inc()
}

// RecordProfileUpdateFailure records a failed end-of-lesson profile update.
func (m *Metrics) RecordProfileUpdateFailure(kind lesson.Kind) {
	m.ProfileUpdateFailures.WithLabelValues(string(kind)).Inc()
}
