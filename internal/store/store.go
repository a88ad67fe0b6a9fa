// Package store persists artifacts and answers the open-automation query
// used by the idempotency guard.
package store

import (
	"context"
	"errors"
	"time"

	"ai-voice-command-service/internal/models"
)

var (
	// ErrNotFound is returned when an artifact id is unknown.
	ErrNotFound = errors.New("store: not found")

	// ErrOpenAutomationExists is returned when persisting an automation
	// while another non-terminal record holds the same (conversation, intent).
	ErrOpenAutomationExists = errors.New("store: open automation already exists")
)

// Store is the persistence collaborator of the conversation engine.
type Store interface {
	// PersistArtifact stores a chart or automation record.
	PersistArtifact(ctx context.Context, a models.Artifact) error

	// QueryOpenAutomation returns the record for (conversationID, intentKind)
	// whose status is not terminal-negative, or nil when there is none.
	QueryOpenAutomation(ctx context.Context, conversationID, intentKind string) (*models.AutomationRecord, error)

	// ListArtifacts returns a conversation's artifacts in creation order.
	ListArtifacts(ctx context.Context, conversationID string) ([]models.Artifact, error)

	// GetAutomation returns an automation record by id.
	GetAutomation(ctx context.Context, id string) (*models.AutomationRecord, error)

	// UpdateAutomationStatus moves a record to a new status if the
	// transition is allowed.
	UpdateAutomationStatus(ctx context.Context, id string, status models.AutomationStatus, now time.Time) (*models.AutomationRecord, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}
