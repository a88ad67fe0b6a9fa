// Package schema validates inbound chunks at the service boundary so that
// malformed input never reaches the conversation engine.
package schema

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"ai-voice-command-service/internal/models"
)

// ErrInvalidChunk is wrapped by every validation failure.
var ErrInvalidChunk = errors.New("invalid chunk")

// Limits bound chunk field sizes.
type Limits struct {
	MaxTextBytes int
	MaxIDBytes   int
}

// DefaultLimits returns sensible default limits.
func DefaultLimits() Limits {
	return Limits{
		MaxTextBytes: 1 << 20,
		MaxIDBytes:   256,
	}
}

// Validator checks chunks against Limits.
type Validator struct {
	limits Limits
}

// New creates a validator with the given limits.
func New(limits Limits) *Validator {
	return &Validator{limits: limits}
}

// ValidateChunk rejects chunks with missing required fields, oversized
// fields or invalid UTF-8. An empty cumulative text is allowed.
func (v *Validator) ValidateChunk(c *models.Chunk) error {
	if c == nil {
		return fmt.Errorf("%w: empty body", ErrInvalidChunk)
	}
	if err := v.id("conversationId", c.ConversationID); err != nil {
		return err
	}
	if err := v.id("chunkId", c.ChunkID); err != nil {
		return err
	}
	if strings.TrimSpace(c.Speaker) == "" {
		return fmt.Errorf("%w: speaker is required", ErrInvalidChunk)
	}
	if c.EventType != "" && c.EventType != models.ChunkEventType {
		return fmt.Errorf("%w: unexpected eventType %q", ErrInvalidChunk, c.EventType)
	}
	if len(c.CumulativeText) > v.limits.MaxTextBytes {
		return fmt.Errorf("%w: cumulativeText exceeds %d bytes", ErrInvalidChunk, v.limits.MaxTextBytes)
	}
	if !utf8.ValidString(c.CumulativeText) {
		return fmt.Errorf("%w: cumulativeText is not valid UTF-8", ErrInvalidChunk)
	}
	return nil
}

func (v *Validator) id(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidChunk, field)
	}
	if len(value) > v.limits.MaxIDBytes {
		return fmt.Errorf("%w: %s exceeds %d bytes", ErrInvalidChunk, field, v.limits.MaxIDBytes)
	}
	return nil
}
