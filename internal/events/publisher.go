// Package events provides Kafka publishing of artifact events and
// consumption of transcript chunks.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"ai-voice-command-service/internal/models"
	"ai-voice-command-service/internal/observability/metrics"
)

// Publisher publishes artifact events to separate Kafka topics for charts
// and automations.
type Publisher struct {
	writerCharts      *kafka.Writer
	writerAutomations *kafka.Writer
	principal         string
	topicCharts       string
	topicAutomations  string
	enabled           bool
	metrics           *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers          []string
	TopicCharts      string
	TopicAutomations string
	Principal        string
	Enabled          bool
}

// New creates a new Kafka event publisher. When Kafka is disabled the
// publisher only logs events.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics

	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{
			enabled: false,
			metrics: m,
		}
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{
			principal:        cfg.Principal,
			topicCharts:      cfg.TopicCharts,
			topicAutomations: cfg.TopicAutomations,
			enabled:          false,
			metrics:          m,
		}
	}

	transport := &kafka.Transport{
		Dial: newDialer().DialFunc,
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicCharts", cfg.TopicCharts).
		Str("topicAutomations", cfg.TopicAutomations).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writerCharts:      newWriter(cfg.Brokers, cfg.TopicCharts, transport),
		writerAutomations: newWriter(cfg.Brokers, cfg.TopicAutomations, transport),
		principal:         cfg.Principal,
		topicCharts:       cfg.TopicCharts,
		topicAutomations:  cfg.TopicAutomations,
		enabled:           true,
		metrics:           m,
	}
}

// newDialer uses longer timeouts for DNS resolution in Kubernetes.
func newDialer() *kafka.Dialer {
	return &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
}

func newWriter(brokers []string, topic string, transport *kafka.Transport) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}
}

// PublishArtifact publishes an artifact event keyed by conversation id, so
// events of one conversation land on one partition.
func (p *Publisher) PublishArtifact(ctx context.Context, eventType string, a models.Artifact) error {
	event := models.ArtifactEvent{
		EventType: eventType,
		Timestamp: time.Now().UnixMilli(),
		Artifact:  a,
	}
	switch a.Kind {
	case models.ArtifactChart:
		if a.Chart == nil {
			return fmt.Errorf("publish %s: missing chart", eventType)
		}
		event.ConversationID = a.Chart.ConversationID
		return p.publish(ctx, p.writerCharts, p.topicCharts, eventType, event.ConversationID, event)
	case models.ArtifactAutomation:
		if a.Automation == nil {
			return fmt.Errorf("publish %s: missing automation", eventType)
		}
		event.ConversationID = a.Automation.ConversationID
		return p.publish(ctx, p.writerAutomations, p.topicAutomations, eventType, event.ConversationID, event)
	default:
		return fmt.Errorf("publish %s: unknown artifact kind %q", eventType, a.Kind)
	}
}

func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close closes both Kafka writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerCharts != nil {
		if e := p.writerCharts.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing chart writer")
			err = e
		}
	}
	if p.writerAutomations != nil {
		if e := p.writerAutomations.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing automation writer")
			err = e
		}
	}
	return err
}
