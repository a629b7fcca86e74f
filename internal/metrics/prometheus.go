package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice practice client
type Metrics struct {
	// Attempt metrics
	AttemptsStarted   prometheus.Counter
	AttemptsCompleted prometheus.Counter
	AttemptsFailed    *prometheus.CounterVec
	AttemptsCancelled prometheus.Counter
	BusyRejections    prometheus.Counter
	SessionState      *prometheus.GaugeVec

	// Device metrics
	DeviceActivations   prometheus.Counter
	DeviceDeactivations prometheus.Counter

	// Recording metrics
	RecordingDuration prometheus.Histogram
	RecordingSize     prometheus.Histogram
	RecordingPeak     prometheus.Histogram

	// Evaluation metrics
	EvaluationRequests  prometheus.Counter
	EvaluationSuccesses prometheus.Counter
	EvaluationFailures  *prometheus.CounterVec
	EvaluationDuration  prometheus.Histogram
	ProgressScore       prometheus.Histogram

	// Playback metrics
	PlaybackDuration prometheus.Histogram
	Replays          prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg. A nil reg
// uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Attempt metrics
		AttemptsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_practice_attempts_started_total",
			Help: "Total number of practice attempts started",
		}),
		AttemptsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_practice_attempts_completed_total",
			Help: "Total number of attempts that reached playback and finished",
		}),
		AttemptsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_practice_attempts_failed_total",
			Help: "Total number of failed attempts by failure kind",
		}, []string{"kind"}),
		AttemptsCancelled: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_practice_attempts_cancelled_total",
			Help: "Total number of attempts abandoned by cancel",
		}),
		BusyRejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_practice_busy_rejections_total",
			Help: "Total number of start or upload requests rejected while busy",
		}),
		SessionState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "voice_practice_session_state",
			Help: "Current coordinator state (1 for the active state)",
		}, []string{"state"}),

		// Device metrics
		DeviceActivations: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_practice_device_activations_total",
			Help: "Total number of audio device activations",
		}),
		DeviceDeactivations: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_practice_device_deactivations_total",
			Help: "Total number of audio device deactivations",
		}),

		// Recording metrics
		RecordingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_practice_recording_duration_seconds",
			Help:    "Duration of captured utterances",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 250ms to ~30s
		}),
		RecordingSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_practice_recording_size_bytes",
			Help:    "Size of captured PCM data in bytes",
			Buckets: prometheus.ExponentialBuckets(16384, 2, 10), // 16KB to ~8MB
		}),
		RecordingPeak: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_practice_recording_peak_level",
			Help:    "Peak normalized RMS level of captured utterances",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11), // 0.0 to 1.0
		}),

		// Evaluation metrics
		EvaluationRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_practice_evaluation_requests_total",
			Help: "Total number of uploads sent to the evaluation service",
		}),
		EvaluationSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_practice_evaluation_successes_total",
			Help: "Total number of uploads answered with a valid response",
		}),
		EvaluationFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_practice_evaluation_failures_total",
			Help: "Total number of failed uploads by failure kind",
		}, []string{"kind"}),
		EvaluationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_practice_evaluation_duration_seconds",
			Help:    "Round-trip time of evaluation uploads",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~50s
		}),
		ProgressScore: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_practice_progress_score",
			Help:    "Progress scores returned by the evaluation service",
			Buckets: prometheus.LinearBuckets(0, 10, 11), // 0 to 100
		}),

		// Playback metrics
		PlaybackDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_practice_playback_duration_seconds",
			Help:    "Duration of played response audio",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
		}),
		Replays: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_practice_replays_total",
			Help: "Total number of replays of the last response",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_practice_http_requests_total",
			Help: "Total number of control API requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voice_practice_http_request_duration_seconds",
			Help:    "Duration of control API requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_practice_http_errors_total",
			Help: "Total number of control API errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordAttemptStarted increments the attempts started counter
func (m *Metrics) RecordAttemptStarted() {
	m.AttemptsStarted.Inc()
}

// RecordAttemptCompleted increments the attempts completed counter
func (m *Metrics) RecordAttemptCompleted() {
	m.AttemptsCompleted.Inc()
}

// RecordAttemptFailed counts a failed attempt under its failure kind
func (m *Metrics) RecordAttemptFailed(kind string) {
	m.AttemptsFailed.WithLabelValues(kind).Inc()
}

// RecordAttemptCancelled increments the cancelled counter
func (m *Metrics) RecordAttemptCancelled() {
	m.AttemptsCancelled.Inc()
}

// RecordReplay increments the replay counter
func (m *Metrics) RecordReplay() {
	m.Replays.Inc()
}

// RecordBusyRejection increments the busy rejection counter
func (m *Metrics) RecordBusyRejection() {
	m.BusyRejections.Inc()
}

// SetState marks state as the current one among all known states
func (m *Metrics) SetState(state string, all []string) {
	for _, s := range all {
		if s == state {
			m.SessionState.WithLabelValues(s).Set(1)
		} else {
			m.SessionState.WithLabelValues(s).Set(0)
		}
	}
}

// RecordDeviceActivated increments the device activations counter
func (m *Metrics) RecordDeviceActivated() {
	m.DeviceActivations.Inc()
}

// RecordDeviceDeactivated increments the device deactivations counter
func (m *Metrics) RecordDeviceDeactivated() {
	m.DeviceDeactivations.Inc()
}

// RecordRecording records a completed capture
func (m *Metrics) RecordRecording(durationSeconds float64, sizeBytes int64, peak float64) {
	m.RecordingDuration.Observe(durationSeconds)
	m.RecordingSize.Observe(float64(sizeBytes))
	m.RecordingPeak.Observe(peak)
}

// RecordEvaluationRequest increments evaluation requests counter
func (m *Metrics) RecordEvaluationRequest() {
	m.EvaluationRequests.Inc()
}

// RecordEvaluationSuccess records a successful evaluation and its score
func (m *Metrics) RecordEvaluationSuccess(durationSeconds float64, score float64) {
	m.EvaluationSuccesses.Inc()
	m.EvaluationDuration.Observe(durationSeconds)
	m.ProgressScore.Observe(score)
}

// RecordEvaluationFailure records a failed evaluation
func (m *Metrics) RecordEvaluationFailure(kind string, durationSeconds float64) {
	m.EvaluationFailures.WithLabelValues(kind).Inc()
	m.EvaluationDuration.Observe(durationSeconds)
}

// RecordPlayback records the length of played audio
func (m *Metrics) RecordPlayback(durationSeconds float64) {
	m.PlaybackDuration.Observe(durationSeconds)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
