// Package api provides HTTP handlers for the NanoStyle API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/ashureev/nanostyle/internal/apperr"
	"github.com/ashureev/nanostyle/internal/catalog"
	"github.com/ashureev/nanostyle/internal/domain"
	"github.com/ashureev/nanostyle/internal/generation"
	"github.com/ashureev/nanostyle/internal/identity"
	"github.com/ashureev/nanostyle/internal/provider/synthesis"
	"github.com/ashureev/nanostyle/internal/session"
	"github.com/ashureev/nanostyle/internal/telemetry"
)

const maxBodyBytes = 1 << 20

var errEmptyBody = apperr.Newf(apperr.CodeValidation, "Request body is required.")

// Pipeline runs synthesis and generation for a session.
type Pipeline interface {
	Synthesize(ctx context.Context, req generation.Request) (synthesis.Result, error)
	Generate(ctx context.Context, req generation.Request) (domain.ImageReference, error)
}

// Pinger reports backing store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler provides the API endpoints.
type Handler struct {
	sessions    *session.Service
	catalog     catalog.Catalog
	pipeline    Pipeline
	synthesizer synthesis.Synthesizer
	signer      *identity.Signer
	progress    *telemetry.ProgressHub
	db          Pinger

	origins        []string
	originPatterns []string
}

// Deps are the collaborators of a Handler.
type Deps struct {
	Sessions    *session.Service
	Catalog     catalog.Catalog
	Pipeline    Pipeline
	Synthesizer synthesis.Synthesizer
	Signer      *identity.Signer
	Progress    *telemetry.ProgressHub
	DB          Pinger
	// AllowedOrigins are the cross-origin callers allowed by CORS and the
	// progress socket handshake.
	AllowedOrigins []string
}

// NewHandler creates a new Handler.
func NewHandler(d Deps) *Handler {
	return &Handler{
		sessions:    d.Sessions,
		catalog:     d.Catalog,
		pipeline:    d.Pipeline,
		synthesizer: d.Synthesizer,
		signer:      d.Signer,
		progress:    d.Progress,
		db:          d.DB,

		origins:        d.AllowedOrigins,
		originPatterns: originHosts(d.AllowedOrigins),
	}
}

// originHosts turns origins like "https://app.example" into the host
// patterns the WebSocket handshake matches against.
func originHosts(origins []string) []string {
	var hosts []string
	for _, o := range origins {
		if o == "*" {
			hosts = append(hosts, o)
			continue
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			hosts = append(hosts, u.Host)
		}
	}
	return hosts
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to encode response", "error", err)
	}
}

// Success writes the {"ok":true,"requestId":...} envelope merged with data.
func Success(w http.ResponseWriter, r *http.Request, data map[string]any) {
	body := make(map[string]any, len(data)+2)
	for k, v := range data {
		body[k] = v
	}
	body["ok"] = true
	body["requestId"] = identity.RequestIDFromContext(r.Context())
	JSON(w, http.StatusOK, body)
}

type errorBody struct {
	Code      apperr.Code `json:"code"`
	Message   string      `json:"message"`
	Retryable bool        `json:"retryable"`
}

type errorEnvelope struct {
	OK        bool      `json:"ok"`
	RequestID string    `json:"requestId"`
	Error     errorBody `json:"error"`
}

// Error writes the failure envelope for err. Untyped errors are reported as
// INTERNAL_ERROR and logged.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	e := apperr.From(err)
	requestID := identity.RequestIDFromContext(r.Context())
	if e.Code == apperr.CodeInternal {
		slog.Error("Request failed", "error", err, "request_id", requestID, "path", r.URL.Path)
	} else {
		slog.Info("Request rejected", "code", string(e.Code), "error", err, "request_id", requestID, "path", r.URL.Path)
	}
	JSON(w, e.Status, errorEnvelope{
		RequestID: requestID,
		Error:     errorBody{Code: e.Code, Message: e.Message, Retryable: e.Retryable},
	})
}

// RateLimited serves the RATE_LIMITED envelope.
func RateLimited(w http.ResponseWriter, r *http.Request) {
	Error(w, r, apperr.New(apperr.CodeRateLimited))
}

// decode reads a JSON body into v. Any malformed body is VALIDATION_ERROR.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return apperr.Wrap(apperr.CodeValidation, err)
	}
	return nil
}

// checkIdentity rejects a body session id that differs from the cookie's.
func checkIdentity(r *http.Request, bodySessionID string) error {
	if cookieID := identity.SessionIDFromContext(r.Context()); cookieID != "" && cookieID != bodySessionID {
		return apperr.New(apperr.CodeSessionNotFound)
	}
	return nil
}

func pipelineRequest(r *http.Request, sessionID string) generation.Request {
	return generation.Request{
		SessionID:              sessionID,
		AuthenticatedSessionID: identity.SessionIDFromContext(r.Context()),
		RequestID:              identity.RequestIDFromContext(r.Context()),
	}
}
