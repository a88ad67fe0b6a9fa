// Package logging configures zerolog and hands out loggers pre-tagged with
// conversation, chunk and artifact fields.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config selects level, output format and timestamp layout.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	TimeFormat string
}

// DefaultConfig logs JSON at info level with RFC3339 timestamps.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "json",
		TimeFormat: time.RFC3339,
	}
}

// Init replaces the global logger. An unknown level falls back to info.
func Init(cfg Config) {
	zerolog.TimeFieldFormat = cfg.TimeFormat

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var out io.Writer = os.Stdout
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Caller().Logger()
}

// The With* helpers return pointers so call sites can chain
// logging.WithX(...).Info() directly.

// WithConversation tags entries with the conversation id.
func WithConversation(conversationID string) *zerolog.Logger {
	l := log.With().Str("conversationId", conversationID).Logger()
	return &l
}

// WithChunk tags entries with the conversation and chunk ids.
func WithChunk(conversationID, chunkID string) *zerolog.Logger {
	l := log.With().
		Str("conversationId", conversationID).
		Str("chunkId", chunkID).
		Logger()
	return &l
}

// WithArtifact tags entries with the owning conversation and the artifact.
func WithArtifact(conversationID, kind, artifactID string) *zerolog.Logger {
	l := log.With().
		Str("conversationId", conversationID).
		Str("artifactKind", kind).
		Str("artifactId", artifactID).
		Logger()
	return &l
}

// WithComponent tags entries with a component name.
func WithComponent(component string) *zerolog.Logger {
	l := log.With().Str("component", component).Logger()
	return &l
}
