// Package llm provides a refiner backed by an OpenAI-compatible chat
// completion endpoint that answers in JSON.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"ai-voice-command-service/internal/service/refine"
)

const chartPrompt = `You turn meeting speech into chart data. Reply with one JSON object:
{"chartType": "bar|line|pie|timeline|radial", "title": string, "description": string,
 "labels": [string], "values": [number], "units": string, "confidence": number between 0 and 1}
Use matching lengths for labels and values. If the speech holds no chartable data reply {"noResult": true}.`

const commandPrompt = `You extract parameters for a voice command of kind %q. Reply with one JSON object:
{"intent": %q, "parameters": {string: string}, "confidence": number between 0 and 1}
Use "when" for dates/times, "summary" for a one-line description, "participants" for people.
If the command is not actionable reply {"noResult": true}.`

// Config holds provider configuration.
type Config struct {
	Endpoint      string
	APIKey        string
	Model         string
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
}

// Refiner implements refine.Refiner over HTTP.
type Refiner struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
}

// New creates a new LLM refiner. A non-positive rate disables limiting.
func New(cfg Config) *Refiner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Refiner{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, cfg.Burst),
	}
}

// Name identifies the provider.
func (r *Refiner) Name() string { return "llm" }

type chartReply struct {
	NoResult    bool     `json:"noResult"`
	ChartType   string   `json:"chartType"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Labels      []string `json:"labels"`
	Values      []any    `json:"values"`
	Units       string   `json:"units"`
	Confidence  *float64 `json:"confidence"`
}

type commandReply struct {
	NoResult   bool           `json:"noResult"`
	Intent     string         `json:"intent"`
	Parameters map[string]any `json:"parameters"`
	Confidence *float64       `json:"confidence"`
}

// RefineChart asks the model for a chart proposal.
func (r *Refiner) RefineChart(ctx context.Context, text string, contributors []string) (*refine.ChartProposal, error) {
	user := text
	if len(contributors) > 0 {
		user = "Speakers: " + strings.Join(contributors, ", ") + "\n\n" + text
	}

	var reply chartReply
	if err := r.complete(ctx, chartPrompt, user, &reply); err != nil {
		return nil, err
	}
	if reply.NoResult {
		return nil, refine.ErrNoResult
	}

	values := make([]float64, len(reply.Values))
	for i, v := range reply.Values {
		values[i] = toFloat(v)
	}
	return &refine.ChartProposal{
		ChartType:   reply.ChartType,
		Title:       reply.Title,
		Description: reply.Description,
		Labels:      reply.Labels,
		Values:      values,
		Units:       reply.Units,
		Confidence:  reply.Confidence,
	}, nil
}

// RefineCommand asks the model for command parameters.
func (r *Refiner) RefineCommand(ctx context.Context, block, intentKind string) (*refine.CommandProposal, error) {
	var reply commandReply
	if err := r.complete(ctx, fmt.Sprintf(commandPrompt, intentKind, intentKind), block, &reply); err != nil {
		return nil, err
	}
	if reply.NoResult {
		return nil, refine.ErrNoResult
	}

	params := make(map[string]string, len(reply.Parameters))
	for k, v := range reply.Parameters {
		switch val := v.(type) {
		case nil:
		case string:
			params[k] = val
		default:
			b, _ := json.Marshal(val)
			params[k] = string(b)
		}
	}
	return &refine.CommandProposal{
		Intent:     reply.Intent,
		Parameters: params,
		Confidence: reply.Confidence,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model,omitempty"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (r *Refiner) complete(ctx context.Context, system, user string, out any) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(chatRequest{
		Model: r.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", refine.ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)
	}

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", refine.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", refine.ErrUnavailable, err)
	}
	log.Debug().
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("Refinement response received")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", refine.ErrUnavailable, resp.StatusCode)
	}

	var chat chatResponse
	if err := json.Unmarshal(payload, &chat); err != nil {
		return fmt.Errorf("decode completion: %w", err)
	}
	if len(chat.Choices) == 0 {
		return refine.ErrNoResult
	}
	content := strings.TrimSpace(chat.Choices[0].Message.Content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.Trim(content, "`\n ")
	if content == "" {
		return refine.ErrNoResult
	}
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return fmt.Errorf("decode refinement json: %w", err)
	}
	return nil
}

// toFloat converts loosely-typed JSON numbers ("12%", "$3.5") to float64.
// Anything unparseable becomes NaN so the gate rejects it.
func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case string:
		s := strings.TrimSpace(n)
		s = strings.TrimLeft(s, "$€£")
		s = strings.TrimRight(s, "%")
		s = strings.ReplaceAll(s, ",", "")
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return math.NaN()
}
