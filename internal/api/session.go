package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/nanostyle/internal/apperr"
	"github.com/ashureev/nanostyle/internal/domain"
	"github.com/ashureev/nanostyle/internal/identity"
	"github.com/ashureev/nanostyle/internal/session"
)

// RegisterSessionRoutes registers template and refinement routes.
func (h *Handler) RegisterSessionRoutes(r chi.Router) {
	r.Get("/api/templates", h.Templates)
	r.Post("/api/session/start", h.Start)
	r.Post("/api/session/answer", h.Answer)
	r.Post("/api/session/reset", h.Reset)
}

// Templates lists the template catalog.
func (h *Handler) Templates(w http.ResponseWriter, r *http.Request) {
	Success(w, r, map[string]any{"templates": h.catalog.All()})
}

type startRequest struct {
	TemplateID string `json:"templateId"`
	Initial    string `json:"initial"`
}

// Start begins a refinement session and binds it to the caller's cookie.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	var body startRequest
	if err := decode(w, r, &body); err != nil {
		Error(w, r, err)
		return
	}
	if body.TemplateID == "" || body.Initial == "" {
		Error(w, r, apperr.Newf(apperr.CodeValidation, "templateId and initial are required."))
		return
	}
	if !h.signer.Enabled() {
		Error(w, r, apperr.Wrap(apperr.CodeInternal, errors.New("session secret not configured")))
		return
	}

	s, err := h.sessions.Start(r.Context(), body.TemplateID, body.Initial)
	if err != nil {
		Error(w, r, err)
		return
	}
	h.signer.SetCookie(w, s.SessionID)

	Success(w, r, map[string]any{
		"sessionId":     s.SessionID,
		"questionIndex": s.QuestionIndex,
		"questionText":  session.QuestionText(s.QuestionIndex),
	})
}

type answerRequest struct {
	SessionID             string `json:"sessionId"`
	Answer                string `json:"answer"`
	EditFromQuestionIndex *int   `json:"editFromQuestionIndex,omitempty"`
}

// Answer records an answer to the current question.
func (h *Handler) Answer(w http.ResponseWriter, r *http.Request) {
	var body answerRequest
	if err := decode(w, r, &body); err != nil {
		Error(w, r, err)
		return
	}
	if body.SessionID == "" || body.Answer == "" {
		Error(w, r, apperr.Newf(apperr.CodeValidation, "sessionId and answer are required."))
		return
	}
	if err := checkIdentity(r, body.SessionID); err != nil {
		Error(w, r, err)
		return
	}

	var editFrom *domain.QuestionIndex
	if body.EditFromQuestionIndex != nil {
		q := domain.QuestionIndex(*body.EditFromQuestionIndex)
		editFrom = &q
	}

	res, err := h.sessions.Answer(r.Context(), body.SessionID, body.Answer, editFrom)
	if err != nil {
		Error(w, r, err)
		return
	}
	if res.Done {
		Success(w, r, map[string]any{"done": true})
		return
	}
	Success(w, r, map[string]any{
		"done":          false,
		"questionIndex": res.QuestionIndex,
		"questionText":  res.QuestionText,
	})
}

type resetRequest struct {
	SessionID string `json:"sessionId,omitempty"`
}

// Reset deletes the session and clears the cookie. An empty body resets the
// cookie's session.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	var body resetRequest
	if err := decode(w, r, &body); err != nil && !errors.Is(err, errEmptyBody) {
		Error(w, r, err)
		return
	}
	body.SessionID = strings.TrimSpace(body.SessionID)

	if body.SessionID != "" {
		if err := checkIdentity(r, body.SessionID); err != nil {
			Error(w, r, err)
			return
		}
	}
	target := body.SessionID
	if target == "" {
		target = identity.SessionIDFromContext(r.Context())
	}
	if target != "" {
		if err := h.sessions.Reset(r.Context(), target); err != nil {
			Error(w, r, err)
			return
		}
		if h.progress != nil {
			h.progress.CloseSession(target)
		}
	}

	h.signer.ClearCookie(w)
	Success(w, r, map[string]any{"reset": true})
}
