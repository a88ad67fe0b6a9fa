// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service configuration.
type Config struct {
	Service       ServiceConfig
	HTTP          HTTPConfig
	Kafka         KafkaConfig
	Store         StoreConfig
	Refine        RefineConfig
	Triggers      TriggerConfig
	Gate          GateConfig
	CaptureLimits CaptureLimitsConfig
	Conversation  ConversationConfig
	Observability ObservabilityConfig
}

// ServiceConfig holds service identity and the gRPC port.
type ServiceConfig struct {
	Principal string
	GRPCPort  string
}

// HTTPConfig holds the chunk ingestion API settings.
type HTTPConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxBodyBytes int64
}

// KafkaConfig holds Kafka settings for chunk consumption and artifact events.
type KafkaConfig struct {
	Enabled          bool
	Brokers          []string
	TopicChunks      string
	TopicCharts      string
	TopicAutomations string
	GroupID          string
	Principal        string
	MaxInFlight      int
}

// StoreConfig selects the artifact store.
type StoreConfig struct {
	Driver string // sqlite, memory
	DSN    string
}

// RefineConfig selects the refinement provider.
type RefineConfig struct {
	Provider      string // llm, mock
	Endpoint      string
	APIKey        string
	Model         string
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
}

// TriggerConfig points at an optional YAML phrase file.
type TriggerConfig struct {
	PhrasesFile string
}

// GateConfig holds refinement admission thresholds.
type GateConfig struct {
	ChartMinConfidence      float64
	AutomationMinConfidence float64
}

// CaptureLimitsConfig bounds open captures and command blocks.
type CaptureLimitsConfig struct {
	MaxDuration   time.Duration
	MaxLines      int
	MaxBlockBytes int
	MaxTextBytes  int
}

// ConversationConfig tunes the per-conversation actors.
type ConversationConfig struct {
	IdleTTL   time.Duration
	InboxSize int
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel    string
	LogFormat   string
	MetricsPort string
}

// Load reads configuration from environment variables. Invalid values
// fall back to defaults.
func Load() *Config {
	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-voice-command")

	return &Config{
		Service: ServiceConfig{
			Principal: principal,
			GRPCPort:  envOrDefault("GRPC_PORT", "50051"),
		},
		HTTP: HTTPConfig{
			Port:         envOrDefault("HTTP_PORT", "8080"),
			ReadTimeout:  envOrDefaultDuration("HTTP_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: envOrDefaultDuration("HTTP_WRITE_TIMEOUT", 60*time.Second),
			MaxBodyBytes: int64(envOrDefaultInt("HTTP_MAX_BODY_BYTES", 2<<20)),
		},
		Kafka: KafkaConfig{
			Enabled:          envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:          envOrDefaultList("KAFKA_BROKERS", []string{"localhost:9092"}),
			TopicChunks:      envOrDefault("KAFKA_TOPIC_CHUNKS", "conversation.transcript.chunk"),
			TopicCharts:      envOrDefault("KAFKA_TOPIC_CHARTS", "conversation.chart"),
			TopicAutomations: envOrDefault("KAFKA_TOPIC_AUTOMATIONS", "conversation.automation"),
			GroupID:          envOrDefault("KAFKA_GROUP_ID", "ai-voice-command-service"),
			Principal:        envOrDefault("KAFKA_PRINCIPAL", principal),
			MaxInFlight:      envOrDefaultInt("KAFKA_MAX_IN_FLIGHT", 16),
		},
		Store: StoreConfig{
			Driver: envOrDefault("STORE_DRIVER", "sqlite"),
			DSN:    envOrDefault("STORE_DSN", "file:voice-command.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"),
		},
		Refine: RefineConfig{
			Provider:      envOrDefault("REFINE_PROVIDER", "mock"),
			Endpoint:      envOrDefault("REFINE_ENDPOINT", "http://localhost:11434/v1/chat/completions"),
			APIKey:        os.Getenv("REFINE_API_KEY"),
			Model:         envOrDefault("REFINE_MODEL", "gpt-4o-mini"),
			Timeout:       envOrDefaultDuration("REFINE_TIMEOUT", 20*time.Second),
			RatePerSecond: envOrDefaultFloat("REFINE_RATE_PER_SECOND", 5),
			Burst:         envOrDefaultInt("REFINE_BURST", 5),
		},
		Triggers: TriggerConfig{
			PhrasesFile: os.Getenv("TRIGGER_PHRASES_FILE"),
		},
		Gate: GateConfig{
			ChartMinConfidence:      envOrDefaultFloat("GATE_CHART_MIN_CONFIDENCE", 0.5),
			AutomationMinConfidence: envOrDefaultFloat("GATE_AUTOMATION_MIN_CONFIDENCE", 0.4),
		},
		CaptureLimits: CaptureLimitsConfig{
			MaxDuration:   envOrDefaultDuration("CAPTURE_MAX_DURATION", 10*time.Minute),
			MaxLines:      envOrDefaultInt("CAPTURE_MAX_LINES", 200),
			MaxBlockBytes: envOrDefaultInt("COMMAND_MAX_BLOCK_BYTES", 4096),
			MaxTextBytes:  envOrDefaultInt("CHUNK_MAX_TEXT_BYTES", 1<<20),
		},
		Conversation: ConversationConfig{
			IdleTTL:   envOrDefaultDuration("CONVERSATION_IDLE_TTL", 2*time.Hour),
			InboxSize: envOrDefaultInt("CONVERSATION_INBOX_SIZE", 64),
		},
		Observability: ObservabilityConfig{
			LogLevel:    envOrDefault("LOG_LEVEL", "info"),
			LogFormat:   envOrDefault("LOG_FORMAT", "json"),
			MetricsPort: envOrDefault("METRICS_PORT", "9090"),
		},
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envOrDefaultFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
