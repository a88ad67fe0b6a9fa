package conversation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ai-voice-command-service/internal/models"
	"ai-voice-command-service/internal/observability/logging"
	"ai-voice-command-service/internal/service/capture"
	"ai-voice-command-service/internal/service/gate"
	"ai-voice-command-service/internal/service/guard"
	"ai-voice-command-service/internal/service/refine"
	"ai-voice-command-service/internal/store"
)

// Finish refines, admits and persists everything a step completed. It
// runs outside the conversation's serialized region. Failures are logged
// per conversation and never returned: the spoken stop or end marker has
// already ended the capture.
func (e *Engine) Finish(ctx context.Context, step *Step) Result {
	res := Result{Status: step.Status}
	for _, c := range step.Captures {
		if a, ok := e.finishCapture(ctx, c); ok {
			res.Artifacts = append(res.Artifacts, a)
		}
	}
	for _, cmd := range step.Commands {
		if a, ok := e.finishCommand(ctx, step.ConversationID, cmd); ok {
			res.Artifacts = append(res.Artifacts, a)
		}
	}
	return res
}

func (e *Engine) finishCapture(ctx context.Context, c capture.Capture) (models.Artifact, bool) {
	log := logging.WithChunk(c.ConversationID, c.EndChunkID)

	if strings.TrimSpace(c.Text) == "" {
		e.metrics.RecordCaptureDropped("empty")
		log.Info().Msg("Capture completed with no content, skipping refinement")
		return models.Artifact{}, false
	}

	rctx, cancel := e.refineContext(ctx)
	start := time.Now()
	prop, err := e.refiner.RefineChart(rctx, c.Text, c.Contributors)
	cancel()
	e.recordRefine("chart", err, start)

	switch {
	case errors.Is(err, refine.ErrNoResult):
		log.Info().Msg("Refinement found no chartable data")
		return models.Artifact{}, false
	case err != nil:
		log.Warn().Err(err).Msg("Chart refinement failed, capture dropped")
		return models.Artifact{}, false
	}

	spec, err := e.policy.AdmitChart(prop)
	if err != nil {
		e.recordRejection("chart", err, log)
		return models.Artifact{}, false
	}

	a := e.mapper.Chart(c, spec)
	if err := e.store.PersistArtifact(ctx, a); err != nil {
		e.metrics.RecordStoreError("persist_chart")
		log.Error().Err(err).Msg("Failed to persist chart")
		return models.Artifact{}, false
	}
	e.metrics.RecordArtifactPersisted(string(models.ArtifactChart))
	logging.WithArtifact(c.ConversationID, string(a.Kind), a.ID()).Info().
		Str("chartType", string(spec.ChartType)).
		Int("points", len(spec.Labels)).
		Msg("Chart artifact created")

	e.publish(ctx, models.EventChartCreated, a)
	return a, true
}

func (e *Engine) finishCommand(ctx context.Context, conversationID string, cmd Command) (models.Artifact, bool) {
	log := logging.WithChunk(conversationID, cmd.Block.EndChunkID)
	kind := cmd.Intent.Kind

	res, err := e.guard.Run(ctx, guard.Key{ConversationID: conversationID, IntentKind: kind}, func(ctx context.Context) (*models.AutomationRecord, error) {
		rctx, cancel := e.refineContext(ctx)
		start := time.Now()
		prop, err := e.refiner.RefineCommand(rctx, cmd.Block.Text, kind)
		cancel()
		e.recordRefine("automation", err, start)

		if errors.Is(err, refine.ErrNoResult) {
			log.Info().Str("intent", kind).Msg("Refinement found no actionable command")
			return nil, nil
		}
		if err != nil {
			return nil, err
		}

		params, err := e.policy.AdmitCommand(kind, prop)
		if err != nil {
			e.recordRejection("automation", err, log)
			return nil, nil
		}

		rec := e.mapper.Automation(conversationID, kind, params, prop.Confidence, cmd.Block.Text, cmd.Block.EndChunkID)
		if err := e.store.PersistArtifact(ctx, models.Artifact{Kind: models.ArtifactAutomation, Automation: rec}); err != nil {
			if !errors.Is(err, store.ErrOpenAutomationExists) {
				e.metrics.RecordStoreError("persist_automation")
			}
			return nil, err
		}
		return rec, nil
	})

	if res.Outcome == guard.OutcomeInFlight {
		e.metrics.RecordGuardOutcome(res.Outcome.String())
		log.Info().Str("intent", kind).Msg("Automation of this kind already in flight, ignoring duplicate")
		return models.Artifact{}, false
	}
	if err != nil {
		e.metrics.RecordGuardOutcome("error")
		log.Warn().Err(err).Str("intent", kind).Msg("Automation command dropped")
		return models.Artifact{}, false
	}
	e.metrics.RecordGuardOutcome(res.Outcome.String())

	switch res.Outcome {
	case guard.OutcomeExisting:
		log.Info().
			Str("intent", kind).
			Str("automationId", res.Record.ID).
			Str("status", string(res.Record.Status)).
			Msg("Open automation exists, returning it unchanged")
		return models.Artifact{Kind: models.ArtifactAutomation, Automation: res.Record}, true

	case guard.OutcomeCreated:
		a := models.Artifact{Kind: models.ArtifactAutomation, Automation: res.Record}
		e.metrics.RecordArtifactPersisted(string(models.ArtifactAutomation))
		logging.WithArtifact(conversationID, string(a.Kind), a.ID()).Info().
			Str("intent", kind).
			Msg("Automation record created")
		e.publish(ctx, models.EventAutomationCreated, a)
		return a, true
	}
	return models.Artifact{}, false
}

func (e *Engine) refineContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.refineTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.refineTimeout)
}

func (e *Engine) recordRefine(kind string, err error, start time.Time) {
	outcome := "ok"
	switch {
	case errors.Is(err, refine.ErrNoResult):
		outcome = "no_result"
	case errors.Is(err, refine.ErrUnavailable):
		outcome = "unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		outcome = "timeout"
	case err != nil:
		outcome = "error"
	}
	e.metrics.RecordRefine(e.refiner.Name(), kind, outcome, time.Since(start).Seconds())
}

func (e *Engine) recordRejection(kind string, err error, log *zerolog.Logger) {
	reason := "unknown"
	var rej *gate.RejectError
	if errors.As(err, &rej) {
		reason = rej.Reason
	}
	e.metrics.RecordGateRejection(kind, reason)
	log.Warn().Err(err).Str("kind", kind).Msg("Refinement result rejected by gate")
}

// publish announces an artifact. Publish failures are logged; the artifact
// is already durable.
func (e *Engine) publish(ctx context.Context, eventType string, a models.Artifact) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.PublishArtifact(ctx, eventType, a); err != nil {
		logging.WithArtifact(conversationOf(a), string(a.Kind), a.ID()).Error().
			Err(err).
			Str("eventType", eventType).
			Msg("Failed to publish artifact event")
	}
}

func conversationOf(a models.Artifact) string {
	switch {
	case a.Chart != nil:
		return a.Chart.ConversationID
	case a.Automation != nil:
		return a.Automation.ConversationID
	default:
		return ""
	}
}
