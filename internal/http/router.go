// Package http exposes chunk ingestion and artifact queries over a chi router.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ai-voice-command-service/internal/models"
	"ai-voice-command-service/internal/observability"
	"ai-voice-command-service/internal/observability/logging"
	"ai-voice-command-service/internal/observability/metrics"
	"ai-voice-command-service/internal/schema"
	"ai-voice-command-service/internal/service/conversation"
	"ai-voice-command-service/internal/store"
)

// Engine is the conversation surface the router drives.
type Engine interface {
	OnChunk(ctx context.Context, c models.Chunk) (conversation.Result, error)
	ForceStop(ctx context.Context, conversationID string) (bool, error)
	Session(ctx context.Context, conversationID string) (conversation.SessionInfo, bool, error)
	Artifacts(ctx context.Context, conversationID string) ([]models.Artifact, error)
	UpdateAutomation(ctx context.Context, id string, status models.AutomationStatus) (*models.AutomationRecord, error)
}

// Deps are the router's collaborators.
type Deps struct {
	Engine       Engine
	Validator    *schema.Validator
	Metrics      *metrics.Metrics
	Ready        observability.ReadyFunc
	MaxBodyBytes int64
}

type handler struct {
	engine       Engine
	validator    *schema.Validator
	metrics      *metrics.Metrics
	maxBodyBytes int64
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(d Deps) http.Handler {
	h := &handler{
		engine:       d.Engine,
		validator:    d.Validator,
		metrics:      d.Metrics,
		maxBodyBytes: d.MaxBodyBytes,
	}
	if h.validator == nil {
		h.validator = schema.New(schema.DefaultLimits())
	}
	if h.metrics == nil {
		h.metrics = metrics.DefaultMetrics
	}
	if h.maxBodyBytes <= 0 {
		h.maxBodyBytes = 2 << 20
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(observability.HTTPMetrics(h.metrics))

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, r *http.Request) {
		if d.Ready != nil {
			if err := d.Ready(r.Context()); err != nil {
				writeError(w, http.StatusServiceUnavailable, err.Error())
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	r.Route("/v1/conversations/{conversationID}", func(r chi.Router) {
		r.Post("/chunks", h.postChunk)
		r.Post("/end", h.endConversation)
		r.Get("/artifacts", h.listArtifacts)
		r.Get("/session", h.getSession)
	})
	r.Patch("/v1/automations/{automationID}", h.patchAutomation)

	return r
}

func (h *handler) postChunk(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")

	var c models.Chunk
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBodyBytes)).Decode(&c); err != nil {
		h.metrics.RecordChunkRejected("http")
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if c.ConversationID == "" {
		c.ConversationID = id
	}
	if c.ConversationID != id {
		h.metrics.RecordChunkRejected("http")
		writeError(w, http.StatusBadRequest, "conversationId does not match path")
		return
	}
	if err := h.validator.ValidateChunk(&c); err != nil {
		h.metrics.RecordChunkRejected("http")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.engine.OnChunk(r.Context(), c)
	if err != nil {
		h.engineError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) endConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")
	discarded, err := h.engine.ForceStop(r.Context(), id)
	if err != nil {
		h.engineError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversationId": id,
		"discarded":      discarded,
	})
}

func (h *handler) listArtifacts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")
	artifacts, err := h.engine.Artifacts(r.Context(), id)
	if err != nil {
		h.engineError(w, id, err)
		return
	}
	if artifacts == nil {
		artifacts = []models.Artifact{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversationId": id,
		"artifacts":      artifacts,
	})
}

func (h *handler) getSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")
	info, ok, err := h.engine.Session(r.Context(), id)
	if err != nil {
		h.engineError(w, id, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no live session for conversation")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type statusUpdate struct {
	Status string `json:"status"`
}

func (h *handler) patchAutomation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "automationID")

	var body statusUpdate
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBodyBytes)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	status, err := models.ParseAutomationStatus(body.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := h.engine.UpdateAutomation(r.Context(), id, status)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "automation not found")
	case errors.Is(err, models.ErrInvalidTransition), errors.Is(err, store.ErrOpenAutomationExists):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		h.engineError(w, "", err)
	default:
		writeJSON(w, http.StatusOK, rec)
	}
}

func (h *handler) engineError(w http.ResponseWriter, conversationID string, err error) {
	if errors.Is(err, conversation.ErrClosed) {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
		return
	}
	logging.WithConversation(conversationID).Error().Err(err).Msg("HTTP request failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
