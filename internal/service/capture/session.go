package capture

import (
	"strings"
	"time"
	"unicode"

	"ai-voice-command-service/internal/service/trigger"
)

// Limits bound how long a capture may stay open. A capture that exceeds
// either limit is discarded without flushing, like a force-stop, unless the
// delta that crosses the limit carries the stop trigger.
type Limits struct {
	MaxDuration time.Duration // Max time between start trigger and stop trigger
	MaxLines    int           // Max buffered lines; more than this drops the capture
}

// DefaultLimits returns sensible default limits.
func DefaultLimits() Limits {
	return Limits{
		MaxDuration: 10 * time.Minute,
		MaxLines:    200,
	}
}

// Line is one buffered piece of speech.
type Line struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
	ChunkID string `json:"chunkId"`
}

// Capture is a completed capture handed to refinement.
type Capture struct {
	ConversationID string
	Text           string
	Lines          []Line
	Contributors   []string
	StartedAt      time.Time
	StartChunkID   string
	EndChunkID     string
	OneShot        bool
}

// Step is the outcome of feeding one delta into a session.
type Step struct {
	Status    Status
	Completed []Capture
	// Dropped holds the reason when an over-limit capture was discarded.
	Dropped string
}

// Session is the capture state machine for one conversation.
// Not safe for concurrent use; the owning conversation serializes access.
//
// State transitions:
//
//	IDLE ──start──→ CAPTURING ──stop──→ IDLE (flush)
//	  │                 │
//	  │                 └── ForceStop / limit ──→ IDLE (discard)
//	  │
//	  └── start+stop in one delta ──→ IDLE (one-shot flush, never CAPTURING)
type Session struct {
	conversationID string
	matcher        trigger.Matcher
	limits         Limits

	state        State
	lines        []Line
	contributors []string
	startedAt    time.Time
	startChunkID string
}

// NewSession creates an idle session.
func NewSession(conversationID string, matcher trigger.Matcher, limits Limits) *Session {
	return &Session{
		conversationID: conversationID,
		matcher:        matcher,
		limits:         limits,
		state:          StateIdle,
	}
}

// State returns the current state.
func (s *Session) State() State { return s.state }

// StartedAt returns when the current capture began.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// StartChunkID returns the chunk that opened the current capture.
func (s *Session) StartChunkID() string { return s.startChunkID }

// Lines returns a copy of the buffered lines.
func (s *Session) Lines() []Line {
	return append([]Line(nil), s.lines...)
}

// Contributors returns a copy of the speakers seen while capturing.
func (s *Session) Contributors() []string {
	return append([]string(nil), s.contributors...)
}

// Begin transitions IDLE → CAPTURING with an empty buffer.
func (s *Session) Begin(speaker, chunkID string, now time.Time) error {
	if s.state == StateCapturing {
		return ErrAlreadyCapturing
	}
	s.reset()
	s.state = StateCapturing
	s.startedAt = now
	s.startChunkID = chunkID
	s.addContributor(speaker)
	return nil
}

// Append buffers text for speaker. Surrounding punctuation and whitespace
// are trimmed; empty text is ignored.
func (s *Session) Append(speaker, text, chunkID string) error {
	if s.state != StateCapturing {
		return ErrNotCapturing
	}
	text = cleanText(text)
	if text == "" {
		return nil
	}
	s.lines = append(s.lines, Line{Speaker: speaker, Text: text, ChunkID: chunkID})
	s.addContributor(speaker)
	return nil
}

// Complete transitions CAPTURING → IDLE and returns the flushed capture.
func (s *Session) Complete(chunkID string) (Capture, error) {
	if s.state != StateCapturing {
		return Capture{}, ErrNotCapturing
	}
	c := Capture{
		ConversationID: s.conversationID,
		Text:           joinLines(s.lines),
		Lines:          s.Lines(),
		Contributors:   s.Contributors(),
		StartedAt:      s.startedAt,
		StartChunkID:   s.startChunkID,
		EndChunkID:     chunkID,
	}
	s.reset()
	return c, nil
}

// ForceStop discards any capture in progress without flushing.
// Returns true if a capture was discarded.
func (s *Session) ForceStop() bool {
	wasCapturing := s.state == StateCapturing
	s.reset()
	return wasCapturing
}

// Feed advances the session with one delta of new text.
//
// An idle session looks for a start trigger. If a stop trigger follows it
// in the same delta, the text strictly between them is completed as a
// one-shot capture and the session never enters CAPTURING. Text after a
// stop trigger is scanned again, so one delta can complete a capture and
// open the next.
func (s *Session) Feed(delta, speaker, chunkID string, now time.Time) Step {
	var step Step
	norm := trigger.Normalize(delta)

	// A stop trigger in the delta ends the capture even past MaxDuration.
	if s.state == StateCapturing && s.expired(now) {
		if _, ok := s.matcher.StopAfter(norm, 0); !ok {
			s.reset()
			step.Dropped = DropMaxDuration
		}
	}

	pos := 0
	for pos < len(delta) {
		if s.state == StateIdle {
			start, ok := s.matcher.StartAfter(norm, pos)
			if !ok {
				break
			}
			if stop, ok := s.matcher.StopAfter(norm, start.End); ok {
				step.Completed = append(step.Completed, s.oneShot(delta, norm, start.End, stop.Start, speaker, chunkID, now))
				pos = stop.End
				continue
			}
			_ = s.Begin(speaker, chunkID, now)
			_ = s.Append(speaker, s.withoutStarts(delta, norm, start.End, len(delta)), chunkID)
			if len(step.Completed) == 0 {
				step.Status = StatusStarted
			}
			break
		}

		stop, ok := s.matcher.StopAfter(norm, pos)
		if !ok {
			_ = s.Append(speaker, s.withoutStarts(delta, norm, pos, len(delta)), chunkID)
			break
		}
		_ = s.Append(speaker, s.withoutStarts(delta, norm, pos, stop.Start), chunkID)
		c, _ := s.Complete(chunkID)
		step.Completed = append(step.Completed, c)
		pos = stop.End
	}

	if s.state == StateCapturing && s.limits.MaxLines > 0 && len(s.lines) > s.limits.MaxLines {
		s.reset()
		step.Dropped = DropMaxLines
		if step.Status == StatusStarted {
			step.Status = StatusIdle
		}
	}

	switch {
	case len(step.Completed) > 0:
		step.Status = StatusCompleted
	case step.Status == StatusStarted:
	case s.state == StateCapturing:
		step.Status = StatusCapturing
	default:
		step.Status = StatusIdle
	}
	return step
}

func (s *Session) oneShot(delta, norm string, from, to int, speaker, chunkID string, now time.Time) Capture {
	text := cleanText(s.withoutStarts(delta, norm, from, to))
	c := Capture{
		ConversationID: s.conversationID,
		Text:           text,
		StartedAt:      now,
		StartChunkID:   chunkID,
		EndChunkID:     chunkID,
		OneShot:        true,
	}
	if speaker != "" {
		c.Contributors = []string{speaker}
	}
	if text != "" {
		c.Lines = []Line{{Speaker: speaker, Text: text, ChunkID: chunkID}}
	}
	return c
}

// withoutStarts returns delta[from:to] with any start-trigger text removed.
func (s *Session) withoutStarts(delta, norm string, from, to int) string {
	var b strings.Builder
	window := norm[:to]
	pos := from
	for pos < to {
		m, ok := trigger.FindFrom(s.matcher.Start, window, pos)
		if !ok || m.End > to {
			break
		}
		b.WriteString(delta[pos:m.Start])
		b.WriteByte(' ')
		pos = m.End
	}
	b.WriteString(delta[pos:to])
	return b.String()
}

func (s *Session) expired(now time.Time) bool {
	return s.limits.MaxDuration > 0 && now.Sub(s.startedAt) > s.limits.MaxDuration
}

func (s *Session) addContributor(speaker string) {
	if speaker == "" {
		return
	}
	for _, c := range s.contributors {
		if c == speaker {
			return
		}
	}
	s.contributors = append(s.contributors, speaker)
}

func (s *Session) reset() {
	s.state = StateIdle
	s.lines = nil
	s.contributors = nil
	s.startedAt = time.Time{}
	s.startChunkID = ""
}

func joinLines(lines []Line) string {
	texts := make([]string, len(lines))
	for i, l := range lines {
		texts[i] = l.Text
	}
	return strings.Join(texts, "\n")
}

func cleanText(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
}
