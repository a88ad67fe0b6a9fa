package store

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"ai-voice-command-service/internal/models"
)

// Memory is an in-process Store for tests and single-node runs.
type Memory struct {
	mu          sync.RWMutex
	artifacts   map[string][]models.Artifact // by conversation, creation order
	automations map[string]*models.AutomationRecord
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		artifacts:   make(map[string][]models.Artifact),
		automations: make(map[string]*models.AutomationRecord),
	}
}

func (m *Memory) PersistArtifact(ctx context.Context, a models.Artifact) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	switch a.Kind {
	case models.ArtifactChart:
		if a.Chart == nil {
			return fmt.Errorf("persist chart: missing payload")
		}
		c := *a.Chart
		m.artifacts[c.ConversationID] = append(m.artifacts[c.ConversationID], models.Artifact{Kind: a.Kind, Chart: &c})
	case models.ArtifactAutomation:
		if a.Automation == nil {
			return fmt.Errorf("persist automation: missing payload")
		}
		rec := cloneRecord(a.Automation)
		if !rec.Status.IsTerminalNegative() && m.openLocked(rec.ConversationID, rec.IntentKind) != nil {
			return ErrOpenAutomationExists
		}
		m.automations[rec.ID] = rec
		m.artifacts[rec.ConversationID] = append(m.artifacts[rec.ConversationID], models.Artifact{Kind: a.Kind, Automation: rec})
	default:
		return fmt.Errorf("persist artifact: unknown kind %q", a.Kind)
	}
	return nil
}

func (m *Memory) QueryOpenAutomation(ctx context.Context, conversationID, intentKind string) (*models.AutomationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if rec := m.openLocked(conversationID, intentKind); rec != nil {
		return cloneRecord(rec), nil
	}
	return nil, nil
}

func (m *Memory) openLocked(conversationID, intentKind string) *models.AutomationRecord {
	for _, rec := range m.automations {
		if rec.ConversationID == conversationID && rec.IntentKind == intentKind && !rec.Status.IsTerminalNegative() {
			return rec
		}
	}
	return nil
}

func (m *Memory) ListArtifacts(ctx context.Context, conversationID string) ([]models.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored := m.artifacts[conversationID]
	out := make([]models.Artifact, len(stored))
	for i, a := range stored {
		out[i] = models.Artifact{Kind: a.Kind}
		if a.Chart != nil {
			c := *a.Chart
			out[i].Chart = &c
		}
		if a.Automation != nil {
			out[i].Automation = cloneRecord(a.Automation)
		}
	}
	return out, nil
}

func (m *Memory) GetAutomation(ctx context.Context, id string) (*models.AutomationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.automations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (m *Memory) UpdateAutomationStatus(ctx context.Context, id string, status models.AutomationStatus, now time.Time) (*models.AutomationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.automations[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !rec.Status.CanTransition(status) {
		return nil, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, rec.Status, status)
	}
	rec.Status = status
	rec.UpdatedAt = now
	return cloneRecord(rec), nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

func cloneRecord(rec *models.AutomationRecord) *models.AutomationRecord {
	c := *rec
	c.Parameters = maps.Clone(rec.Parameters)
	return &c
}

var _ Store = (*Memory)(nil)
