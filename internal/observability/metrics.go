package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "translate_gateway_active_sessions",
		Help: "Number of active translation sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "translate_gateway_sessions_total",
		Help: "Total number of sessions opened",
	})

	// Segmenter metrics
	segmentsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "translate_gateway_segments_total",
		Help: "Total number of segments finalized",
	}, []string{"reason"}) // reason: punctuation, silence, length, flush

	// Chunk metrics
	chunksPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "translate_gateway_chunks_total",
		Help: "Total number of chunks published to listeners",
	}, []string{"status"}) // status: ok, skipped

	pacingWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "translate_gateway_pacing_wait_seconds",
		Help:    "Time pipelines spent waiting on the pacing throttle",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	// Engine metrics
	engineRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "translate_gateway_engine_requests_total",
		Help: "Total number of external engine requests",
	}, []string{"engine", "status"}) // engine: stt, translate, tts

	engineLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "translate_gateway_engine_latency_seconds",
		Help:    "External engine request latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	}, []string{"engine"})

	// Listener metrics
	connectedListeners = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "translate_gateway_listeners",
		Help: "Number of connected listeners per target language",
	}, []string{"target"})

	droppedListeners = promauto.NewCounter(prometheus.CounterOpts{
		Name: "translate_gateway_listeners_dropped_total",
		Help: "Listeners dropped for failed or stalled delivery",
	})

	// Glossary metrics
	glossaryMismatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "translate_gateway_glossary_mismatches_total",
		Help: "Placeholders not found intact after translation",
	})

	// Audio metrics
	audioBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "translate_gateway_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "translate_gateway_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})
)

// RecordSessionOpen records a newly opened session.
func RecordSessionOpen() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionClose records a closed session.
func RecordSessionClose() {
	activeSessions.Dec()
}

// RecordSegment records a finalized segment and the boundary that cut it.
func RecordSegment(reason string) {
	segmentsEmitted.WithLabelValues(reason).Inc()
}

// RecordChunk records a published chunk.
func RecordChunk(skipped bool) {
	status := "ok"
	if skipped {
		status = "skipped"
	}
	chunksPublished.WithLabelValues(status).Inc()
}

// RecordPacingWait records time spent in the pacing throttle.
func RecordPacingWait(seconds float64) {
	pacingWait.Observe(seconds)
}

// RecordEngineRequest records an external engine call and its latency.
func RecordEngineRequest(engine string, seconds float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	engineRequests.WithLabelValues(engine, status).Inc()
	engineLatency.WithLabelValues(engine).Observe(seconds)
}

// RecordListenerJoin records a listener registration for a target.
func RecordListenerJoin(target string) {
	connectedListeners.WithLabelValues(target).Inc()
}

// RecordListenerLeave records a listener unregistration for a target.
func RecordListenerLeave(target string) {
	connectedListeners.WithLabelValues(target).Dec()
}

// RecordListenerDropped records a listener evicted for failed delivery.
func RecordListenerDropped() {
	droppedListeners.Inc()
}

// RecordGlossaryMismatch records a placeholder mangled by translation.
func RecordGlossaryMismatch() {
	glossaryMismatches.Inc()
}

// RecordAudioBytes records audio bytes processed in a direction.
func RecordAudioBytes(direction string, n int64) {
	audioBytes.WithLabelValues(direction).Add(float64(n))
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}
