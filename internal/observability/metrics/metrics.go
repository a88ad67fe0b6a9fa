// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ai_voice_command"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Ingestion metrics
	ChunksTotal         prometheus.Counter
	ChunksRejected      *prometheus.CounterVec
	EmptyDeltas         prometheus.Counter
	ConversationsActive prometheus.Gauge
	ConversationsEnded  *prometheus.CounterVec

	// Trigger metrics
	TriggersDetected *prometheus.CounterVec

	// Capture metrics
	CapturesStarted   prometheus.Counter
	CapturesCompleted *prometheus.CounterVec
	CapturesDropped   *prometheus.CounterVec
	CaptureDuration   prometheus.Histogram

	// Command metrics
	CommandsFramed   *prometheus.CounterVec
	CommandsFiltered prometheus.Counter
	CommandsDropped  *prometheus.CounterVec

	// Refinement metrics
	RefineLatency  *prometheus.HistogramVec
	RefineOutcomes *prometheus.CounterVec

	// Admission metrics
	GateRejections     *prometheus.CounterVec
	GuardOutcomes      *prometheus.CounterVec
	ArtifactsPersisted *prometheus.CounterVec
	StoreErrors        *prometheus.CounterVec

	// Kafka metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec
	KafkaConsumed       *prometheus.CounterVec

	// Transport metrics
	HTTPRequests *prometheus.CounterVec
	HTTPLatency  *prometheus.HistogramVec
	GRPCRequests *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
// It registers with the default registry, so call it once per process.
func NewMetrics() *Metrics {
	return &Metrics{
		// Ingestion metrics
		ChunksTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_total",
			Help:      "Total number of transcript chunks processed",
		}),
		ChunksRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_rejected_total",
			Help:      "Total number of malformed chunks rejected at the boundary",
		}, []string{"source"}),
		EmptyDeltas: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "empty_deltas_total",
			Help:      "Total number of chunks that carried no unseen text",
		}),
		ConversationsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "conversations_active",
			Help:      "Number of conversations with live in-memory state",
		}),
		ConversationsEnded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversations_ended_total",
			Help:      "Total number of conversations removed from memory",
		}, []string{"reason"}),

		// Trigger metrics
		TriggersDetected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "triggers_detected_total",
			Help:      "Total number of trigger phrases detected",
		}, []string{"kind"}),

		// Capture metrics
		CapturesStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captures_started_total",
			Help:      "Total number of capture sessions entered",
		}),
		CapturesCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captures_completed_total",
			Help:      "Total number of captures completed by a stop trigger",
		}, []string{"mode"}),
		CapturesDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captures_dropped_total",
			Help:      "Total number of captures discarded without refinement",
		}, []string{"reason"}),
		CaptureDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "capture_duration_seconds",
			Help:      "Time between start and stop trigger",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),

		// Command metrics
		CommandsFramed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_framed_total",
			Help:      "Total number of command blocks framed",
		}, []string{"intent"}),
		CommandsFiltered: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_filtered_total",
			Help:      "Total number of command blocks with no plausible intent",
		}),
		CommandsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_dropped_total",
			Help:      "Total number of command buffers discarded",
		}, []string{"reason"}),

		// Refinement metrics
		RefineLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refine_latency_seconds",
			Help:      "Refinement call latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
		}, []string{"provider", "kind"}),
		RefineOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refine_outcomes_total",
			Help:      "Total number of refinement calls by outcome",
		}, []string{"provider", "kind", "outcome"}),

		// Admission metrics
		GateRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_rejections_total",
			Help:      "Total number of refinement results rejected by the gate",
		}, []string{"kind", "reason"}),
		GuardOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guard_outcomes_total",
			Help:      "Total number of idempotency guard decisions",
		}, []string{"outcome"}),
		ArtifactsPersisted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifacts_persisted_total",
			Help:      "Total number of artifacts persisted",
		}, []string{"kind"}),
		StoreErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Total number of store errors",
		}, []string{"operation"}),

		// Kafka metrics
		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),
		KafkaConsumed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_consumed_total",
			Help:      "Total number of Kafka chunk messages consumed",
		}, []string{"result"}),

		// Transport metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP API requests",
		}, []string{"method", "route", "code"}),
		HTTPLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP API request latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"route"}),
		GRPCRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_requests_total",
			Help:      "Total number of gRPC calls",
		}, []string{"method", "code"}),
	}
}

// RecordChunk records a chunk and whether its delta was empty.
func (m *Metrics) RecordChunk(emptyDelta bool) {
	m.ChunksTotal.Inc()
	if emptyDelta {
		m.EmptyDeltas.Inc()
	}
}

// RecordChunkRejected records a malformed chunk.
func (m *Metrics) RecordChunkRejected(source string) {
	m.ChunksRejected.WithLabelValues(source).Inc()
}

// RecordConversationStart records a new conversation actor.
func (m *Metrics) RecordConversationStart() {
	m.ConversationsActive.Inc()
}

// RecordConversationEnd records a conversation actor going away.
func (m *Metrics) RecordConversationEnd(reason string) {
	m.ConversationsActive.Dec()
	m.ConversationsEnded.WithLabelValues(reason).Inc()
}

// RecordTrigger records a detected trigger.
func (m *Metrics) RecordTrigger(kind string) {
	m.TriggersDetected.WithLabelValues(kind).Inc()
}

// RecordCaptureStarted records a capture session being entered.
func (m *Metrics) RecordCaptureStarted() {
	m.CapturesStarted.Inc()
}

// RecordCaptureCompleted records a completed capture.
func (m *Metrics) RecordCaptureCompleted(oneShot bool, durationSeconds float64) {
	mode := "bracketed"
	if oneShot {
		mode = "one_shot"
	}
	m.CapturesCompleted.WithLabelValues(mode).Inc()
	m.CaptureDuration.Observe(durationSeconds)
}

// RecordCaptureDropped records a capture discarded without refinement.
func (m *Metrics) RecordCaptureDropped(reason string) {
	m.CapturesDropped.WithLabelValues(reason).Inc()
}

// RecordCommandFramed records a framed command block.
func (m *Metrics) RecordCommandFramed(intent string) {
	m.CommandsFramed.WithLabelValues(intent).Inc()
}

// RecordCommandFiltered records a block with no plausible intent.
func (m *Metrics) RecordCommandFiltered() {
	m.CommandsFiltered.Inc()
}

// RecordCommandDropped records a discarded command buffer.
func (m *Metrics) RecordCommandDropped(reason string) {
	m.CommandsDropped.WithLabelValues(reason).Inc()
}

// RecordRefine records a refinement call.
func (m *Metrics) RecordRefine(provider, kind, outcome string, latencySeconds float64) {
	m.RefineLatency.WithLabelValues(provider, kind).Observe(latencySeconds)
	m.RefineOutcomes.WithLabelValues(provider, kind, outcome).Inc()
}

// RecordGateRejection records a gate rejection.
func (m *Metrics) RecordGateRejection(kind, reason string) {
	m.GateRejections.WithLabelValues(kind, reason).Inc()
}

// RecordGuardOutcome records an idempotency guard decision.
func (m *Metrics) RecordGuardOutcome(outcome string) {
	m.GuardOutcomes.WithLabelValues(outcome).Inc()
}

// RecordArtifactPersisted records a persisted artifact.
func (m *Metrics) RecordArtifactPersisted(kind string) {
	m.ArtifactsPersisted.WithLabelValues(kind).Inc()
}

// RecordStoreError records a failed store operation.
func (m *Metrics) RecordStoreError(operation string) {
	m.StoreErrors.WithLabelValues(operation).Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordKafkaConsumed records a consumed chunk message.
func (m *Metrics) RecordKafkaConsumed(result string) {
	m.KafkaConsumed.WithLabelValues(result).Inc()
}

// RecordHTTPRequest records an HTTP API request.
func (m *Metrics) RecordHTTPRequest(method, route, code string, latencySeconds float64) {
	m.HTTPRequests.WithLabelValues(method, route, code).Inc()
	m.HTTPLatency.WithLabelValues(route).Observe(latencySeconds)
}

// RecordGRPCRequest records a gRPC call.
func (m *Metrics) RecordGRPCRequest(method, code string) {
	m.GRPCRequests.WithLabelValues(method, code).Inc()
}
