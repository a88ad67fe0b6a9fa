// Package command frames "wake assistant ... end" voice command blocks out
// of transcript deltas and classifies them into automation intents.
package command

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"ai-voice-command-service/internal/service/trigger"
)

// DefaultMaxBlockBytes bounds how much text an unterminated block may
// accumulate before it is discarded.
const DefaultMaxBlockBytes = 4096

// Intent is one automation kind with the keywords that suggest it.
type Intent struct {
	Kind     string
	Required []string
	keywords []*regexp.Regexp
}

// Config is the compiled command grammar.
type Config struct {
	Marker        trigger.Pattern
	End           trigger.Pattern
	Intents       []Intent
	MaxBlockBytes int

	// Claimed matches the chart start trigger. A marker that begins a chart
	// start trigger before the next end marker opens no command block.
	Claimed trigger.Pattern

	fillers *regexp.Regexp
}

// NewConfig compiles the command section of the phrase configuration.
func NewConfig(c trigger.CommandConfig) (*Config, error) {
	marker, err := trigger.NewMarker(c.Wake, c.Assistant)
	if err != nil {
		return nil, fmt.Errorf("compile wake marker: %w", err)
	}
	end, err := trigger.NewToken(c.End)
	if err != nil {
		return nil, fmt.Errorf("compile end marker: %w", err)
	}

	cfg := &Config{
		Marker:        marker,
		End:           end,
		MaxBlockBytes: DefaultMaxBlockBytes,
	}

	if words := quoteAll(c.Fillers); len(words) > 0 {
		cfg.fillers, err = regexp.Compile(`\b(?:` + strings.Join(words, "|") + `)\b`)
		if err != nil {
			return nil, fmt.Errorf("compile fillers: %w", err)
		}
	}

	for _, ic := range c.Intents {
		intent := Intent{Kind: ic.Kind, Required: ic.Required}
		for _, kw := range quoteAll(ic.Keywords) {
			re, err := regexp.Compile(`\b` + kw)
			if err != nil {
				return nil, fmt.Errorf("compile keyword for %s: %w", ic.Kind, err)
			}
			intent.keywords = append(intent.keywords, re)
		}
		if len(intent.keywords) == 0 {
			return nil, errors.New("intent " + ic.Kind + " has no keywords")
		}
		cfg.Intents = append(cfg.Intents, intent)
	}
	return cfg, nil
}

// Clean normalizes a raw block for classification: lower-case, punctuation
// removed (except inside numbers such as 3:30 or 1.5), fillers removed and
// whitespace collapsed.
func (c *Config) Clean(raw string) string {
	text := stripPunctuation(trigger.Normalize(raw))
	if c.fillers != nil {
		text = c.fillers.ReplaceAllString(text, " ")
	}
	return strings.Join(strings.Fields(text), " ")
}

// Classify is the keyword pre-filter. It returns the intent whose keywords
// match the cleaned text most often; list order breaks ties. ok is false
// when no intent is plausible, in which case no refinement should be made.
func (c *Config) Classify(text string) (Intent, bool) {
	best, bestScore := Intent{}, 0
	for _, intent := range c.Intents {
		score := 0
		for _, kw := range intent.keywords {
			if kw.MatchString(text) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = intent, score
		}
	}
	return best, bestScore > 0
}

// RequiredParams maps each intent kind to its required parameter names.
func (c *Config) RequiredParams() map[string][]string {
	out := make(map[string][]string, len(c.Intents))
	for _, intent := range c.Intents {
		out[intent.Kind] = intent.Required
	}
	return out
}

// Block is a framed command between the wake marker and the end marker.
type Block struct {
	Raw          string
	Text         string
	StartChunkID string
	EndChunkID   string
}

// Framer is the per-conversation command buffer. While active it
// accumulates every delta, starting at the wake marker, until the end
// marker appears. Not safe for concurrent use.
type Framer struct {
	cfg          *Config
	raw          string
	active       bool
	startChunkID string
}

// NewFramer creates an inactive framer.
func NewFramer(cfg *Config) *Framer {
	return &Framer{cfg: cfg}
}

// Active reports whether a block is being accumulated.
func (f *Framer) Active() bool { return f.active }

// Raw returns the accumulated text and whether the framer is active.
func (f *Framer) Raw() (string, bool) { return f.raw, f.active }

// Reset discards any accumulated text. Returns true if a block was open.
func (f *Framer) Reset() bool {
	was := f.active
	f.raw = ""
	f.active = false
	f.startChunkID = ""
	return was
}

// Feed consumes one delta and returns every block it completed. dropped is
// true when an unterminated block outgrew MaxBlockBytes and was discarded.
func (f *Framer) Feed(delta, chunkID string) (blocks []Block, dropped bool) {
	if !f.active {
		if !f.open(delta, chunkID) {
			return nil, false
		}
	} else {
		f.raw += delta
	}

	for f.active {
		norm := trigger.Normalize(f.raw)
		marker, ok := f.cfg.Marker.Find(norm)
		if !ok {
			f.Reset()
			break
		}
		end, ok := trigger.FindFrom(f.cfg.End, norm, marker.End)
		if !ok {
			if f.cfg.MaxBlockBytes > 0 && len(f.raw) > f.cfg.MaxBlockBytes {
				f.Reset()
				dropped = true
			}
			break
		}

		inner := f.raw[marker.End:end.Start]
		rest := f.raw[end.End:]
		blocks = append(blocks, Block{
			Raw:          inner,
			Text:         f.cfg.Clean(inner),
			StartChunkID: f.startChunkID,
			EndChunkID:   chunkID,
		})
		f.Reset()
		f.open(rest, chunkID)
	}
	return blocks, dropped
}

func (f *Framer) open(text, chunkID string) bool {
	norm := trigger.Normalize(text)
	var m trigger.Match
	for from := 0; ; from = m.End {
		var ok bool
		m, ok = trigger.FindFrom(f.cfg.Marker, norm, from)
		if !ok {
			return false
		}
		if !f.claimed(norm, m) {
			break
		}
	}
	f.raw = text[m.Start:]
	f.active = true
	f.startChunkID = chunkID
	return true
}

// claimed reports whether the marker at m is the wake phrase of a chart
// start trigger spoken before the next end marker.
func (f *Framer) claimed(norm string, m trigger.Match) bool {
	if f.cfg.Claimed == nil {
		return false
	}
	scope := norm[m.Start:]
	if end, ok := trigger.FindFrom(f.cfg.End, norm, m.End); ok {
		scope = norm[m.Start:end.Start]
	}
	c, ok := f.cfg.Claimed.Find(scope)
	return ok && c.Start == 0
}

func stripPunctuation(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s))
	for i, r := range runes {
		if !unicode.IsPunct(r) && !unicode.IsSymbol(r) {
			b.WriteRune(r)
			continue
		}
		if i > 0 && i < len(runes)-1 && unicode.IsDigit(runes[i-1]) && unicode.IsDigit(runes[i+1]) {
			b.WriteRune(r)
			continue
		}
		b.WriteByte(' ')
	}
	return b.String()
}

func quoteAll(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.Join(strings.Fields(stripPunctuation(trigger.Normalize(w))), " ")
		if w == "" {
			continue
		}
		out = append(out, strings.ReplaceAll(regexp.QuoteMeta(w), " ", `\s+`))
	}
	return out
}
