package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for interview sessions and the gateway.
//
// All Record* methods are safe on a nil receiver so components can run without metrics.
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	SessionsActive   prometheus.Gauge
	SessionsTotal    *prometheus.CounterVec
	SessionDuration  prometheus.Histogram
	PhaseTransitions *prometheus.CounterVec
	InactivityEvents *prometheus.CounterVec

	// Recording upload metrics
	UploadBlocksTotal   *prometheus.CounterVec
	UploadBytesTotal    prometheus.Counter
	UploadDrainDuration prometheus.Histogram

	// Playback metrics
	PlaybackScheduledSeconds prometheus.Counter

	// Gateway metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RateLimitHits   *prometheus.CounterVec

	// Gateway storage metrics
	StagedBlocksTotal   *prometheus.CounterVec
	StagedBytesTotal    prometheus.Counter
	RecordingsFinalized *prometheus.CounterVec
	ResultsSaved        *prometheus.CounterVec
}

// New creates a Metrics instance with its own registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "interview"
	}

	registry := prometheus.NewRegistry()

	sessionsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of interview sessions currently in the interviewing phase",
		},
	)

	sessionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of interview sessions by terminal status",
		},
		[]string{"status"},
	)

	sessionDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Interview duration from start to end in seconds",
			Buckets:   []float64{30, 60, 300, 600, 900, 1200, 1800, 2700, 3600},
		},
	)

	phaseTransitions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phase_transitions_total",
			Help:      "Session phase transitions by target phase",
		},
		[]string{"phase"},
	)

	inactivityEvents := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inactivity_events_total",
			Help:      "Inactivity actions taken by the turn monitor",
		},
		[]string{"action"},
	)

	uploadBlocksTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_blocks_total",
			Help:      "Recording block upload attempts by result",
		},
		[]string{"result"},
	)

	uploadBytesTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_bytes_total",
			Help:      "Total committed recording bytes",
		},
	)

	uploadDrainDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_drain_duration_seconds",
			Help:      "Time spent waiting for the upload queue to drain",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	playbackScheduled := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_scheduled_seconds_total",
			Help:      "Total seconds of interviewer audio scheduled for playback",
		},
	)

	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of gateway API requests",
		},
		[]string{"route", "status"},
	)

	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Gateway request duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"route"},
	)

	rateLimitHits := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Total number of rate limit hits",
		},
		[]string{"limit_type"},
	)

	stagedBlocks := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_blocks_staged_total",
			Help:      "Recording blocks received by the gateway by outcome",
		},
		[]string{"outcome"},
	)

	stagedBytes := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_staged_bytes_total",
			Help:      "Total bytes of recording blocks staged by the gateway",
		},
	)

	recordingsFinalized := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_recordings_finalized_total",
			Help:      "Recording commits by outcome",
		},
		[]string{"outcome"},
	)

	resultsSaved := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_results_saved_total",
			Help:      "Persisted interview results by kind",
		},
		[]string{"kind"},
	)

	registry.MustRegister(
		sessionsActive,
		sessionsTotal,
		sessionDuration,
		phaseTransitions,
		inactivityEvents,
		uploadBlocksTotal,
		uploadBytesTotal,
		uploadDrainDuration,
		playbackScheduled,
		requestsTotal,
		requestDuration,
		rateLimitHits,
		stagedBlocks,
		stagedBytes,
		recordingsFinalized,
		resultsSaved,
	)

	return &Metrics{
		registry:                 registry,
		SessionsActive:           sessionsActive,
		SessionsTotal:            sessionsTotal,
		SessionDuration:          sessionDuration,
		PhaseTransitions:         phaseTransitions,
		InactivityEvents:         inactivityEvents,
		UploadBlocksTotal:        uploadBlocksTotal,
		UploadBytesTotal:         uploadBytesTotal,
		UploadDrainDuration:      uploadDrainDuration,
		PlaybackScheduledSeconds: playbackScheduled,
		RequestsTotal:            requestsTotal,
		RequestDuration:          requestDuration,
		RateLimitHits:            rateLimitHits,
		StagedBlocksTotal:        stagedBlocks,
		StagedBytesTotal:         stagedBytes,
		RecordingsFinalized:      recordingsFinalized,
		ResultsSaved:             resultsSaved,
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordPhase records a session entering phase.
func (m *Metrics) RecordPhase(phase string) {
	if m == nil {
		return
	}
	m.PhaseTransitions.WithLabelValues(phase).Inc()
}

// RecordSessionStart records a session entering the interviewing phase.
func (m *Metrics) RecordSessionStart() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a session leaving the interviewing phase.
func (m *Metrics) RecordSessionEnd(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
	m.SessionsTotal.WithLabelValues(status).Inc()
	m.SessionDuration.Observe(duration.Seconds())
}

// RecordInactivity records a warn or end action from the turn monitor.
func (m *Metrics) RecordInactivity(action string) {
	if m == nil {
		return
	}
	m.InactivityEvents.WithLabelValues(action).Inc()
}

// RecordBlockCommitted records a successfully uploaded recording block.
func (m *Metrics) RecordBlockCommitted(bytes int) {
	if m == nil {
		return
	}
	m.UploadBlocksTotal.WithLabelValues("committed").Inc()
	m.UploadBytesTotal.Add(float64(bytes))
}

// RecordBlockFailed records a failed upload attempt.
func (m *Metrics) RecordBlockFailed() {
	if m == nil {
		return
	}
	m.UploadBlocksTotal.WithLabelValues("failed").Inc()
}

// RecordDrain records how long a drain wait took.
func (m *Metrics) RecordDrain(d time.Duration) {
	if m == nil {
		return
	}
	m.UploadDrainDuration.Observe(d.Seconds())
}

// RecordPlayback records scheduled playback time.
func (m *Metrics) RecordPlayback(d time.Duration) {
	if m == nil || d <= 0 {
		return
	}
	m.PlaybackScheduledSeconds.Add(d.Seconds())
}

// RecordRequest records a completed gateway request.
func (m *Metrics) RecordRequest(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordRateLimitHit records a rate limit hit.
func (m *Metrics) RecordRateLimitHit(limitType string) {
	if m == nil {
		return
	}
	m.RateLimitHits.WithLabelValues(limitType).Inc()
}

// RecordBlockStaged records a block upload handled by the gateway.
func (m *Metrics) RecordBlockStaged(outcome string, bytes int) {
	if m == nil {
		return
	}
	m.StagedBlocksTotal.WithLabelValues(outcome).Inc()
	if outcome == "ok" {
		m.StagedBytesTotal.Add(float64(bytes))
	}
}

// RecordFinalize records a recording commit.
func (m *Metrics) RecordFinalize(outcome string) {
	if m == nil {
		return
	}
	m.RecordingsFinalized.WithLabelValues(outcome).Inc()
}

// RecordResultsSaved records persisted results or scores.
func (m *Metrics) RecordResultsSaved(kind string) {
	if m == nil {
		return
	}
	m.ResultsSaved.WithLabelValues(kind).Inc()
}
