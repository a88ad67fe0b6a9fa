package models

import (
	"errors"
	"fmt"
	"time"
)

// ChartType enumerates the chart kinds a capture can be refined into.
type ChartType string

const (
	ChartBar      ChartType = "bar"
	ChartLine     ChartType = "line"
	ChartPie      ChartType = "pie"
	ChartTimeline ChartType = "timeline"
	ChartRadial   ChartType = "radial"
)

// ChartTypes lists every supported chart type.
var ChartTypes = []ChartType{ChartBar, ChartLine, ChartPie, ChartTimeline, ChartRadial}

// VisualSpec is a refinement result that passed the gate.
// len(Labels) == len(Values) >= 2 and every value is finite.
type VisualSpec struct {
	ChartType   ChartType `json:"chartType"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Labels      []string  `json:"labels"`
	Values      []float64 `json:"values"`
	Units       string    `json:"units,omitempty"`
	Confidence  *float64  `json:"confidence,omitempty"`
}

// ChartArtifact is the persisted form of an admitted chart capture.
type ChartArtifact struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversationId"`
	SourceChunkID  string     `json:"sourceChunkId"`
	StartChunkID   string     `json:"startChunkId,omitempty"`
	Contributors   []string   `json:"contributors"`
	CapturedText   string     `json:"capturedText"`
	Spec           VisualSpec `json:"spec"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// AutomationStatus is the lifecycle status of an automation record.
type AutomationStatus string

const (
	StatusPending   AutomationStatus = "pending"
	StatusApproved  AutomationStatus = "approved"
	StatusRejected  AutomationStatus = "rejected"
	StatusTriggered AutomationStatus = "triggered"
	StatusFailed    AutomationStatus = "failed"
	StatusCompleted AutomationStatus = "completed"
	StatusDismissed AutomationStatus = "dismissed"
)

// ErrInvalidTransition is returned when a status change is not allowed.
var ErrInvalidTransition = errors.New("invalid automation status transition")

var statusTransitions = map[AutomationStatus][]AutomationStatus{
	StatusPending:   {StatusApproved, StatusRejected, StatusDismissed},
	StatusApproved:  {StatusTriggered, StatusDismissed},
	StatusTriggered: {StatusCompleted, StatusFailed},
}

// ParseAutomationStatus validates a status string.
func ParseAutomationStatus(s string) (AutomationStatus, error) {
	switch st := AutomationStatus(s); st {
	case StatusPending, StatusApproved, StatusRejected, StatusTriggered,
		StatusFailed, StatusCompleted, StatusDismissed:
		return st, nil
	default:
		return "", fmt.Errorf("unknown automation status %q", s)
	}
}

// IsTerminalNegative reports whether the status frees the
// (conversation, intent) slot for a new automation.
func (s AutomationStatus) IsTerminalNegative() bool {
	return s == StatusRejected || s == StatusFailed || s == StatusDismissed
}

// CanTransition reports whether a record may move from s to next.
func (s AutomationStatus) CanTransition(next AutomationStatus) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// AutomationRecord is a scheduling (or other) automation derived from a
// framed voice command. At most one record per (ConversationID, IntentKind)
// may have a status that is not terminal-negative.
type AutomationRecord struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversationId"`
	IntentKind     string            `json:"intentKind"`
	Parameters     map[string]string `json:"parameters"`
	Status         AutomationStatus  `json:"status"`
	Confidence     *float64          `json:"confidence,omitempty"`
	TriggerText    string            `json:"triggerText"`
	SourceChunkID  string            `json:"sourceChunkId"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

// ArtifactKind discriminates the Artifact union.
type ArtifactKind string

const (
	ArtifactChart      ArtifactKind = "chart"
	ArtifactAutomation ArtifactKind = "automation"
)

// Artifact is what the engine hands to the persistence collaborator.
// Exactly one of Chart or Automation is set, matching Kind.
type Artifact struct {
	Kind       ArtifactKind      `json:"kind"`
	Chart      *ChartArtifact    `json:"chart,omitempty"`
	Automation *AutomationRecord `json:"automation,omitempty"`
}

// ID returns the id of the wrapped artifact.
func (a Artifact) ID() string {
	switch {
	case a.Chart != nil:
		return a.Chart.ID
	case a.Automation != nil:
		return a.Automation.ID
	default:
		return ""
	}
}

// ArtifactEvent is published whenever an artifact is created or changes.
type ArtifactEvent struct {
	EventType      string   `json:"eventType"`
	ConversationID string   `json:"conversationId"`
	Timestamp      int64    `json:"timestamp"`
	Artifact       Artifact `json:"artifact"`
}

// Artifact event types.
const (
	EventChartCreated      = "conversation.chart.created"
	EventAutomationCreated = "conversation.automation.created"
	EventAutomationUpdated = "conversation.automation.updated"
)
