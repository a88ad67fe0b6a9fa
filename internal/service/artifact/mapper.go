// Package artifact maps admitted refinement results into the artifact
// shapes handed to the store.
package artifact

import (
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"ai-voice-command-service/internal/models"
	"ai-voice-command-service/internal/service/capture"
)

// Mapper builds artifacts. It holds no business logic beyond field
// mapping and defaulting.
type Mapper struct {
	newID func() string
	now   func() time.Time
}

// NewMapper creates a mapper using random UUIDs and the wall clock.
func NewMapper() *Mapper {
	return &Mapper{newID: uuid.NewString, now: time.Now}
}

// NewMapperWith creates a mapper with injected id and clock sources.
func NewMapperWith(newID func() string, now func() time.Time) *Mapper {
	return &Mapper{newID: newID, now: now}
}

// Chart maps a completed capture and its admitted spec.
func (m *Mapper) Chart(c capture.Capture, spec models.VisualSpec) models.Artifact {
	contributors := slices.Clone(c.Contributors)
	if contributors == nil {
		contributors = []string{}
	}
	spec.Labels = slices.Clone(spec.Labels)
	spec.Values = slices.Clone(spec.Values)

	return models.Artifact{
		Kind: models.ArtifactChart,
		Chart: &models.ChartArtifact{
			ID:             m.newID(),
			ConversationID: c.ConversationID,
			SourceChunkID:  c.EndChunkID,
			StartChunkID:   c.StartChunkID,
			Contributors:   contributors,
			CapturedText:   c.Text,
			Spec:           spec,
			CreatedAt:      m.now().UTC(),
		},
	}
}

// Automation maps an admitted command into a pending automation record.
func (m *Mapper) Automation(conversationID, intentKind string, params map[string]string, confidence *float64, triggerText, sourceChunkID string) *models.AutomationRecord {
	now := m.now().UTC()
	p := maps.Clone(params)
	if p == nil {
		p = map[string]string{}
	}
	return &models.AutomationRecord{
		ID:             m.newID(),
		ConversationID: conversationID,
		IntentKind:     intentKind,
		Parameters:     p,
		Status:         models.StatusPending,
		Confidence:     confidence,
		TriggerText:    triggerText,
		SourceChunkID:  sourceChunkID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}
