// Package refine defines the interface for refinement providers: the
// external language-model step that turns captured speech into structure.
package refine

import (
	"context"
	"errors"
)

// ErrNoResult is the sentinel a provider returns when the text holds no
// meaningful structure. It is a clean no-op, not a failure.
var ErrNoResult = errors.New("refine: no meaningful structure found")

// ErrUnavailable wraps transport or provider failures.
var ErrUnavailable = errors.New("refine: provider unavailable")

// ChartProposal is the unvalidated chart structure returned by a provider.
type ChartProposal struct {
	ChartType   string    `json:"chartType"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Labels      []string  `json:"labels"`
	Values      []float64 `json:"values"`
	Units       string    `json:"units,omitempty"`
	Confidence  *float64  `json:"confidence,omitempty"`
}

// CommandProposal is the unvalidated automation structure returned by a provider.
type CommandProposal struct {
	Intent     string            `json:"intent"`
	Parameters map[string]string `json:"parameters"`
	Confidence *float64          `json:"confidence,omitempty"`
}

// Refiner defines the interface for refinement providers (LLM, mock, ...).
type Refiner interface {
	// RefineChart structures captured text into a chart proposal.
	RefineChart(ctx context.Context, text string, contributors []string) (*ChartProposal, error)

	// RefineCommand extracts parameters for a framed command of the given intent.
	RefineCommand(ctx context.Context, block, intentKind string) (*CommandProposal, error)

	// Name identifies the provider in logs and metrics.
	Name() string
}

// Float returns a pointer to v, for building proposals.
func Float(v float64) *float64 {
	return &v
}
