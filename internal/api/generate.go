package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/nanostyle/internal/apperr"
	"github.com/ashureev/nanostyle/internal/identity"
	"github.com/ashureev/nanostyle/internal/provider/synthesis"
)

// RegisterGenerationRoutes registers synthesis and generation routes.
// limit, when non-nil, wraps the generate endpoint.
func (h *Handler) RegisterGenerationRoutes(r chi.Router, limit func(http.Handler) http.Handler) {
	r.Post("/api/synthesize", h.Synthesize)
	r.Post("/api/openai/test", h.TestSynthesis)
	r.Group(func(r chi.Router) {
		if limit != nil {
			r.Use(limit)
		}
		r.Post("/api/generate", h.Generate)
	})
}

type sessionRequest struct {
	SessionID string `json:"sessionId"`
}

func (h *Handler) readSessionRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	var body sessionRequest
	if err := decode(w, r, &body); err != nil {
		Error(w, r, err)
		return "", false
	}
	if body.SessionID == "" {
		Error(w, r, apperr.Newf(apperr.CodeValidation, "sessionId is required."))
		return "", false
	}
	return body.SessionID, true
}

// Synthesize returns the generation prompt for a completed session.
func (h *Handler) Synthesize(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.readSessionRequest(w, r)
	if !ok {
		return
	}
	res, err := h.pipeline.Synthesize(r.Context(), pipelineRequest(r, sessionID))
	if err != nil {
		Error(w, r, err)
		return
	}
	Success(w, r, map[string]any{"outputText": res.Prompt, "model": res.Model})
}

// Generate synthesizes a prompt and generates the image for a session.
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.readSessionRequest(w, r)
	if !ok {
		return
	}
	image, err := h.pipeline.Generate(r.Context(), pipelineRequest(r, sessionID))
	if err != nil {
		Error(w, r, err)
		return
	}
	Success(w, r, map[string]any{"image": image})
}

type textRequest struct {
	Text string `json:"text"`
}

// TestSynthesis turns free text into a prompt without a session.
func (h *Handler) TestSynthesis(w http.ResponseWriter, r *http.Request) {
	var body textRequest
	if err := decode(w, r, &body); err != nil {
		Error(w, r, err)
		return
	}
	if strings.TrimSpace(body.Text) == "" {
		Error(w, r, apperr.Newf(apperr.CodeValidation, "Text is required."))
		return
	}
	res, err := h.synthesizer.SynthesizeText(r.Context(), synthesis.TextInput{
		Text:      body.Text,
		RequestID: identity.RequestIDFromContext(r.Context()),
	})
	if err != nil {
		Error(w, r, err)
		return
	}
	Success(w, r, map[string]any{"outputText": res.Prompt, "model": res.Model})
}
