// Package generation sequences a finished session through prompt synthesis,
// image generation and async completion polling.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/nanostyle/internal/apperr"
	"github.com/ashureev/nanostyle/internal/domain"
	"github.com/ashureev/nanostyle/internal/provider/imagegen"
	"github.com/ashureev/nanostyle/internal/provider/synthesis"
	"github.com/ashureev/nanostyle/internal/telemetry"
)

// MaxPollAttempts bounds status checks for one async job.
const MaxPollAttempts = 10

// Sessions is the part of the session service the orchestrator needs.
type Sessions interface {
	Get(ctx context.Context, sessionID string) (*domain.Session, error)
	MarkGenerating(ctx context.Context, sessionID string) (*domain.Session, error)
	MarkResultReady(ctx context.Context, sessionID string, image domain.ImageReference) (*domain.Session, error)
	RestoreStatus(ctx context.Context, sessionID string, status domain.Status) (*domain.Session, error)
	CompleteAnswers(session *domain.Session) ([domain.QuestionCount]string, bool)
}

// Request identifies the session to work on.
type Request struct {
	SessionID string
	// AuthenticatedSessionID is the id bound to the caller's cookie, if any.
	AuthenticatedSessionID string
	RequestID              string
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Orchestrator runs the generation pipeline.
type Orchestrator struct {
	sessions    Sessions
	synthesizer synthesis.Synthesizer
	images      imagegen.Generator
	sink        telemetry.Sink
	logger      *slog.Logger
	timeout     time.Duration
	sleep       SleepFunc
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSink sets the telemetry sink.
func WithSink(sink telemetry.Sink) Option {
	return func(o *Orchestrator) { o.sink = sink }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithTimeout bounds a whole Generate call. Zero means no bound beyond ctx.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

// WithSleep replaces the poll wait.
func WithSleep(sleep SleepFunc) Option {
	return func(o *Orchestrator) { o.sleep = sleep }
}

// New builds an orchestrator.
func New(sessions Sessions, synthesizer synthesis.Synthesizer, images imagegen.Generator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		sessions:    sessions,
		synthesizer: synthesizer,
		images:      images,
		sink:        telemetry.Nop{},
		logger:      slog.Default(),
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Synthesize validates the session and returns its synthesized prompt
// without generating an image.
func (o *Orchestrator) Synthesize(ctx context.Context, req Request) (synthesis.Result, error) {
	_, res, err := o.synthesize(ctx, req)
	return res, err
}

func (o *Orchestrator) synthesize(ctx context.Context, req Request) (*domain.Session, synthesis.Result, error) {
	if req.AuthenticatedSessionID != "" && req.AuthenticatedSessionID != req.SessionID {
		return nil, synthesis.Result{}, apperr.New(apperr.CodeSessionNotFound)
	}

	session, err := o.sessions.Get(ctx, req.SessionID)
	if err != nil {
		return nil, synthesis.Result{}, err
	}
	answers, ok := o.sessions.CompleteAnswers(session)
	if !ok {
		return nil, synthesis.Result{}, apperr.Newf(apperr.CodeValidation, "Refinement is incomplete.")
	}

	o.emit(ctx, telemetry.EventSynthesisRequested, req, nil)
	started := time.Now()
	res, err := o.synthesizer.Synthesize(ctx, synthesis.Input{
		TemplateID:   session.TemplateID,
		InitialInput: session.InitialInput,
		Answers:      answers,
		RequestID:    req.RequestID,
		SessionID:    req.SessionID,
	})
	if err != nil {
		return nil, synthesis.Result{}, err
	}
	o.emit(ctx, telemetry.EventSynthesisSucceeded, req, map[string]any{
		"latencyMs": time.Since(started).Milliseconds(),
		"model":     res.Model,
	})
	return session, res, nil
}

// Generate runs the full pipeline and returns the generated image. A failure
// after the session was marked generating restores its previous status.
func (o *Orchestrator) Generate(ctx context.Context, req Request) (domain.ImageReference, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	image, err := o.generate(ctx, req)
	if err != nil {
		err = o.classify(ctx, err)
		o.emit(ctx, telemetry.EventImageFailed, req, map[string]any{
			"errorCode": string(apperr.CodeOf(err)),
		})
		return domain.ImageReference{}, err
	}
	return image, nil
}

func (o *Orchestrator) generate(ctx context.Context, req Request) (domain.ImageReference, error) {
	session, res, err := o.synthesize(ctx, req)
	if err != nil {
		return domain.ImageReference{}, err
	}

	prior := session.Status
	if _, err := o.sessions.MarkGenerating(ctx, req.SessionID); err != nil {
		return domain.ImageReference{}, err
	}
	o.emit(ctx, telemetry.EventGenerationRequested, req, nil)

	started := time.Now()
	image, err := o.produce(ctx, req, res.Prompt)
	if err != nil {
		o.rollback(ctx, req, prior, err)
		return domain.ImageReference{}, err
	}

	if _, err := o.sessions.MarkResultReady(ctx, req.SessionID, image); err != nil {
		o.rollback(ctx, req, prior, err)
		return domain.ImageReference{}, err
	}
	o.emit(ctx, telemetry.EventImageSucceeded, req, map[string]any{
		"latencyMs": time.Since(started).Milliseconds(),
		"imageType": string(image.Kind),
	})
	return image, nil
}

// produce submits the prompt and, for accepted jobs, polls until done.
func (o *Orchestrator) produce(ctx context.Context, req Request, prompt string) (domain.ImageReference, error) {
	gen, err := o.images.Generate(ctx, imagegen.GenerateInput{
		Prompt:    prompt,
		RequestID: req.RequestID,
		SessionID: req.SessionID,
	})
	if err != nil {
		return domain.ImageReference{}, err
	}
	if gen.Kind == imagegen.GenerationCompleted {
		return gen.Image, nil
	}
	return o.poll(ctx, req, gen.JobID, gen.PollAfter)
}

func (o *Orchestrator) poll(ctx context.Context, req Request, jobID string, wait time.Duration) (domain.ImageReference, error) {
	for attempt := 1; attempt <= MaxPollAttempts; attempt++ {
		if err := o.sleep(ctx, wait); err != nil {
			return domain.ImageReference{}, apperr.Wrap(apperr.CodeProviderTimeout, fmt.Errorf("waiting on job %s: %w", jobID, err))
		}

		st, err := o.images.Status(ctx, imagegen.StatusInput{
			JobID:     jobID,
			RequestID: req.RequestID,
			SessionID: req.SessionID,
		})
		if err != nil {
			return domain.ImageReference{}, err
		}

		switch st.State {
		case imagegen.JobCompleted:
			return st.Image, nil
		case imagegen.JobFailed:
			code := st.Code
			if code == "" {
				code = apperr.CodeNanoBanana
			}
			return domain.ImageReference{}, apperr.Wrap(code, fmt.Errorf("job %s failed", jobID)).WithRetryable(st.Retryable)
		}
		wait = st.PollAfter
		o.logger.Debug("image job pending",
			"request_id", req.RequestID,
			"session_id", req.SessionID,
			"job_id", jobID,
			"attempt", attempt)
	}
	return domain.ImageReference{}, apperr.Wrap(apperr.CodeProviderTimeout, fmt.Errorf("job %s still pending after %d checks", jobID, MaxPollAttempts))
}

// rollback restores the status the session had before generation started.
// It runs detached from ctx so a timed-out request still gets restored.
func (o *Orchestrator) rollback(ctx context.Context, req Request, prior domain.Status, cause error) {
	restoreCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := o.sessions.RestoreStatus(restoreCtx, req.SessionID, prior); err != nil {
		o.logger.Error("failed to restore session status",
			"request_id", req.RequestID,
			"session_id", req.SessionID,
			"status", string(prior),
			"cause", cause,
			"error", err)
	}
}

// classify turns untyped failures into typed ones. A caller deadline that
// surfaced as a bare context error becomes PROVIDER_TIMEOUT.
func (o *Orchestrator) classify(ctx context.Context, err error) error {
	if _, ok := apperr.As(err); ok {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperr.Wrap(apperr.CodeProviderTimeout, err)
	}
	return apperr.From(err)
}

func (o *Orchestrator) emit(ctx context.Context, name telemetry.EventName, req Request, props map[string]any) {
	o.sink.Funnel(ctx, telemetry.NewEvent(name, req.SessionID, req.RequestID, props))
}
