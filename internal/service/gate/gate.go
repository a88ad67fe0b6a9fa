// Package gate validates refinement proposals before they may become
// artifacts.
package gate

import (
	"fmt"
	"math"
	"strings"

	"ai-voice-command-service/internal/models"
	"ai-voice-command-service/internal/service/refine"
)

// Rejection reasons, used as metric labels.
const (
	ReasonMissing         = "missing"
	ReasonChartType       = "chart_type"
	ReasonTitle           = "title"
	ReasonLength          = "length"
	ReasonLabel           = "label"
	ReasonNonFinite       = "non_finite"
	ReasonConfidence      = "low_confidence"
	ReasonIntent          = "intent_mismatch"
	ReasonParameters      = "missing_parameters"
	ReasonConfidenceRange = "confidence_range"
)

// RejectError reports why a proposal was not admitted.
type RejectError struct {
	Reason string
	Detail string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("gate: rejected (%s): %s", e.Reason, e.Detail)
}

func reject(reason, format string, args ...any) error {
	return &RejectError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Policy holds the admission thresholds.
type Policy struct {
	ChartMinConfidence      float64
	AutomationMinConfidence float64
	// RequiredParams lists, per intent kind, parameters that must be non-empty.
	RequiredParams map[string][]string
}

// DefaultPolicy returns the default admission thresholds.
func DefaultPolicy() Policy {
	return Policy{
		ChartMinConfidence:      0.5,
		AutomationMinConfidence: 0.4,
	}
}

// AdmitChart validates a chart proposal and returns the admitted spec.
func (p Policy) AdmitChart(prop *refine.ChartProposal) (models.VisualSpec, error) {
	if prop == nil {
		return models.VisualSpec{}, reject(ReasonMissing, "no proposal")
	}

	chartType := models.ChartType(strings.ToLower(strings.TrimSpace(prop.ChartType)))
	if !validChartType(chartType) {
		return models.VisualSpec{}, reject(ReasonChartType, "unsupported chart type %q", prop.ChartType)
	}

	title := strings.TrimSpace(prop.Title)
	if title == "" {
		return models.VisualSpec{}, reject(ReasonTitle, "empty title")
	}

	if len(prop.Labels) != len(prop.Values) {
		return models.VisualSpec{}, reject(ReasonLength, "%d labels vs %d values", len(prop.Labels), len(prop.Values))
	}
	if len(prop.Labels) < 2 {
		return models.VisualSpec{}, reject(ReasonLength, "need at least 2 data points, got %d", len(prop.Labels))
	}

	labels := make([]string, len(prop.Labels))
	for i, l := range prop.Labels {
		labels[i] = strings.TrimSpace(l)
		if labels[i] == "" {
			return models.VisualSpec{}, reject(ReasonLabel, "empty label at %d", i)
		}
	}
	values := make([]float64, len(prop.Values))
	for i, v := range prop.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return models.VisualSpec{}, reject(ReasonNonFinite, "value %d is not finite", i)
		}
		values[i] = v
	}

	if err := checkConfidence(prop.Confidence, p.ChartMinConfidence); err != nil {
		return models.VisualSpec{}, err
	}

	return models.VisualSpec{
		ChartType:   chartType,
		Title:       title,
		Description: strings.TrimSpace(prop.Description),
		Labels:      labels,
		Values:      values,
		Units:       strings.TrimSpace(prop.Units),
		Confidence:  prop.Confidence,
	}, nil
}

// AdmitCommand validates a command proposal for the classified intent kind.
// Empty parameter values are dropped from the result.
func (p Policy) AdmitCommand(kind string, prop *refine.CommandProposal) (map[string]string, error) {
	if prop == nil {
		return nil, reject(ReasonMissing, "no proposal")
	}
	if prop.Intent != "" && prop.Intent != kind {
		return nil, reject(ReasonIntent, "classified %q, refined %q", kind, prop.Intent)
	}

	params := make(map[string]string, len(prop.Parameters))
	for k, v := range prop.Parameters {
		if v = strings.TrimSpace(v); v != "" {
			params[k] = v
		}
	}
	if len(params) == 0 {
		return nil, reject(ReasonParameters, "no parameters")
	}
	var missing []string
	for _, name := range p.RequiredParams[kind] {
		if _, ok := params[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, reject(ReasonParameters, "missing %s", strings.Join(missing, ", "))
	}

	if err := checkConfidence(prop.Confidence, p.AutomationMinConfidence); err != nil {
		return nil, err
	}
	return params, nil
}

// checkConfidence admits a missing confidence and enforces the floor otherwise.
func checkConfidence(c *float64, floor float64) error {
	if c == nil {
		return nil
	}
	if math.IsNaN(*c) || *c < 0 || *c > 1 {
		return reject(ReasonConfidenceRange, "confidence %v outside [0,1]", *c)
	}
	if *c < floor {
		return reject(ReasonConfidence, "confidence %.2f below %.2f", *c, floor)
	}
	return nil
}

func validChartType(t models.ChartType) bool {
	for _, ct := range models.ChartTypes {
		if ct == t {
			return true
		}
	}
	return false
}
