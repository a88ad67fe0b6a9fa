package conversation

import (
	"context"

	"ai-voice-command-service/internal/models"
	"ai-voice-command-service/internal/observability/logging"
)

// Artifacts lists a conversation's persisted artifacts.
func (e *Engine) Artifacts(ctx context.Context, conversationID string) ([]models.Artifact, error) {
	return e.store.ListArtifacts(ctx, conversationID)
}

// UpdateAutomation moves an automation record to status and announces the
// change. Terminal-negative statuses free the (conversation, intent) slot
// for a new command.
func (e *Engine) UpdateAutomation(ctx context.Context, id string, status models.AutomationStatus) (*models.AutomationRecord, error) {
	rec, err := e.store.UpdateAutomationStatus(ctx, id, status, e.now().UTC())
	if err != nil {
		return nil, err
	}
	logging.WithArtifact(rec.ConversationID, string(models.ArtifactAutomation), rec.ID).Info().
		Str("status", string(rec.Status)).
		Msg("Automation status updated")
	e.publish(ctx, models.EventAutomationUpdated, models.Artifact{Kind: models.ArtifactAutomation, Automation: rec})
	return rec, nil
}
