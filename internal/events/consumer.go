package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"ai-voice-command-service/internal/models"
	"ai-voice-command-service/internal/observability/metrics"
	"ai-voice-command-service/internal/schema"
)

// Handler advances state for one chunk. The returned finish func, if not
// nil, is run concurrently with later chunks.
type Handler func(ctx context.Context, c models.Chunk) (finish func(context.Context), err error)

// ConsumerConfig holds Kafka consumer configuration.
type ConsumerConfig struct {
	Brokers     []string
	Topic       string
	GroupID     string
	Enabled     bool
	MaxInFlight int
}

// Consumer reads transcript chunks from Kafka in partition order.
type Consumer struct {
	reader      *kafka.Reader
	handler     Handler
	validator   *schema.Validator
	maxInFlight int
	metrics     *metrics.Metrics
}

// NewConsumer creates a chunk consumer. A disabled consumer has no reader
// and Run returns immediately.
func NewConsumer(cfg ConsumerConfig, validator *schema.Validator, handler Handler) *Consumer {
	c := &Consumer{
		handler:     handler,
		validator:   validator,
		maxInFlight: cfg.MaxInFlight,
		metrics:     metrics.DefaultMetrics,
	}
	if c.maxInFlight <= 0 {
		c.maxInFlight = 16
	}
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka chunk consumer disabled")
		return c
	}

	c.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		Dialer:         newDialer(),
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        500 * time.Millisecond,
		CommitInterval: time.Second,
	})
	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", cfg.Topic).
		Str("groupId", cfg.GroupID).
		Msg("Kafka chunk consumer initialized")
	return c
}

// Enabled reports whether the consumer reads from Kafka.
func (c *Consumer) Enabled() bool { return c.reader != nil }

// Run consumes until ctx is cancelled, then waits for running finishes.
func (c *Consumer) Run(ctx context.Context) error {
	if c.reader == nil {
		return nil
	}

	var finishes errgroup.Group
	finishes.SetLimit(c.maxInFlight)
	defer finishes.Wait()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		c.process(ctx, &finishes, msg.Value)

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Int64("offset", msg.Offset).Msg("Failed to commit chunk offset")
		}
	}
}

// process decodes and advances one message. Bad messages are logged and
// skipped so one poison message cannot stall the partition.
func (c *Consumer) process(ctx context.Context, finishes *errgroup.Group, value []byte) {
	var chunk models.Chunk
	if err := json.Unmarshal(value, &chunk); err != nil {
		c.metrics.RecordKafkaConsumed("decode_error")
		c.metrics.RecordChunkRejected("kafka")
		log.Warn().Err(err).Msg("Dropping undecodable chunk message")
		return
	}
	if err := c.validator.ValidateChunk(&chunk); err != nil {
		c.metrics.RecordKafkaConsumed("invalid")
		c.metrics.RecordChunkRejected("kafka")
		log.Warn().Err(err).Str("conversationId", chunk.ConversationID).Msg("Dropping invalid chunk message")
		return
	}

	finish, err := c.handler(ctx, chunk)
	if err != nil {
		c.metrics.RecordKafkaConsumed("error")
		log.Error().Err(err).
			Str("conversationId", chunk.ConversationID).
			Str("chunkId", chunk.ChunkID).
			Msg("Failed to process chunk")
		return
	}
	c.metrics.RecordKafkaConsumed("ok")

	if finish != nil {
		// Finishes outlive the fetch context so shutdown drains them.
		finishCtx := context.WithoutCancel(ctx)
		finishes.Go(func() error {
			finish(finishCtx)
			return nil
		})
	}
}

// Close closes the reader.
func (c *Consumer) Close() error {
	if c.reader == nil {
		return nil
	}
	return c.reader.Close()
}
