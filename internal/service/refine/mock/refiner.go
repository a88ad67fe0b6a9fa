// Package mock provides a deterministic refiner for testing and local runs
// without language-model credentials. It extracts "label number" pairs for
// charts and day/time phrases for commands using plain heuristics.
package mock

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"ai-voice-command-service/internal/service/refine"
)

const (
	chartConfidence   = 0.6
	commandConfidence = 0.5
	maxLabelWords     = 3
)

var stopWords = map[string]bool{
	"is": true, "was": true, "were": true, "are": true, "at": true, "of": true,
	"had": true, "has": true, "have": true, "with": true, "and": true, "the": true,
	"a": true, "an": true, "for": true, "in": true, "to": true, "about": true,
	"around": true, "roughly": true, "then": true, "so": true, "we": true,
}

var (
	dayPattern  = regexp.MustCompile(`\b(today|tonight|tomorrow|next week|monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
	timePattern = regexp.MustCompile(`\b\d{1,2}(?::\d{2})?\s?(?:am|pm)\b|\bnoon\b|\bmidnight\b`)
)

// Refiner implements refine.Refiner with heuristic responses.
type Refiner struct {
	mu    sync.Mutex
	calls int
}

// New creates a new mock refiner.
func New() *Refiner {
	return &Refiner{}
}

// Name identifies the provider.
func (r *Refiner) Name() string { return "mock" }

// Calls returns how many refinement calls were made.
func (r *Refiner) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// RefineChart extracts label/value pairs from the captured text.
func (r *Refiner) RefineChart(ctx context.Context, text string, contributors []string) (*refine.ChartProposal, error) {
	r.count()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lower := strings.ToLower(text)
	labels, values := extractPairs(lower)
	if len(labels) < 2 {
		return nil, refine.ErrNoResult
	}

	p := &refine.ChartProposal{
		ChartType:  chartTypeFor(lower),
		Title:      "Chart: " + strings.Join(labels, ", "),
		Labels:     labels,
		Values:     values,
		Units:      unitsFor(lower),
		Confidence: refine.Float(chartConfidence),
	}
	if len(contributors) > 0 {
		p.Description = "Captured from " + strings.Join(contributors, ", ")
	}
	return p, nil
}

// RefineCommand fills "summary" with the block and "when" with any
// day/time phrases found in it.
func (r *Refiner) RefineCommand(ctx context.Context, block, intentKind string) (*refine.CommandProposal, error) {
	r.count()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	block = strings.TrimSpace(block)
	if block == "" {
		return nil, refine.ErrNoResult
	}

	params := map[string]string{"summary": block}
	var when []string
	when = append(when, dayPattern.FindAllString(block, -1)...)
	when = append(when, timePattern.FindAllString(block, -1)...)
	if len(when) > 0 {
		params["when"] = strings.Join(when, " ")
	}

	return &refine.CommandProposal{
		Intent:     intentKind,
		Parameters: params,
		Confidence: refine.Float(commandConfidence),
	}, nil
}

func (r *Refiner) count() {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
}

func extractPairs(text string) ([]string, []float64) {
	words := strings.FieldsFunc(text, func(c rune) bool {
		return unicode.IsSpace(c) || c == ',' || c == ';' || c == ':' || c == '\n'
	})

	var (
		labels  []string
		values  []float64
		pending []string
	)
	for _, w := range words {
		if v, ok := parseNumber(w); ok {
			if label := labelFrom(pending); label != "" {
				labels = append(labels, label)
				values = append(values, v)
			}
			pending = pending[:0]
			continue
		}
		w = strings.TrimFunc(w, unicode.IsPunct)
		if w != "" {
			pending = append(pending, w)
		}
	}
	return labels, values
}

func labelFrom(words []string) string {
	var kept []string
	for i := len(words) - 1; i >= 0 && len(kept) < maxLabelWords; i-- {
		if stopWords[words[i]] {
			if len(kept) > 0 {
				break
			}
			continue
		}
		kept = append([]string{words[i]}, kept...)
	}
	return strings.Join(kept, " ")
}

func parseNumber(word string) (float64, bool) {
	w := strings.TrimRight(word, ".!?")
	w = strings.TrimLeft(w, "$€£")
	w = strings.TrimRight(w, "%")
	multiplier := 1.0
	switch {
	case strings.HasSuffix(w, "k"):
		multiplier, w = 1e3, strings.TrimSuffix(w, "k")
	case strings.HasSuffix(w, "m"):
		multiplier, w = 1e6, strings.TrimSuffix(w, "m")
	}
	if w == "" || !unicode.IsDigit(rune(w[len(w)-1])) {
		return 0, false
	}
	v, err := strconv.ParseFloat(w, 64)
	if err != nil {
		return 0, false
	}
	return v * multiplier, true
}

func chartTypeFor(text string) string {
	switch {
	case strings.Contains(text, "pie"):
		return "pie"
	case strings.Contains(text, "timeline"):
		return "timeline"
	case strings.Contains(text, "radial") || strings.Contains(text, "radar"):
		return "radial"
	case strings.Contains(text, "line") || strings.Contains(text, "trend") || strings.Contains(text, "over time"):
		return "line"
	default:
		return "bar"
	}
}

func unitsFor(text string) string {
	switch {
	case strings.Contains(text, "%") || strings.Contains(text, "percent"):
		return "%"
	case strings.Contains(text, "$") || strings.Contains(text, "dollar"):
		return "USD"
	default:
		return ""
	}
}
