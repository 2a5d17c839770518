// Package session implements the three-question refinement state machine.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/ashureev/nanostyle/internal/apperr"
	"github.com/ashureev/nanostyle/internal/catalog"
	"github.com/ashureev/nanostyle/internal/domain"
	"github.com/ashureev/nanostyle/internal/identity"
	"github.com/ashureev/nanostyle/internal/store"
	"github.com/ashureev/nanostyle/internal/telemetry"
)

// SparseAnswerMinLength is the trimmed length below which an answer is sparse.
const SparseAnswerMinLength = 8

// AnswerResult is the outcome of Answer.
type AnswerResult struct {
	Session *domain.Session
	// Done is true once question 3 has been committed.
	Done bool
	// QuestionIndex and QuestionText describe the question to show next.
	// Both are zero when Done.
	QuestionIndex domain.QuestionIndex
	QuestionText  string
	// SparseRetry is true when the answer was rejected as too short and the
	// same question is asked again.
	SparseRetry bool
}

// Service owns session lifecycle and refinement progression.
type Service struct {
	store   store.Store
	catalog catalog.Catalog
	sink    telemetry.Sink
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string

	// locks serializes mutations per session id.
	locks sync.Map
	// sweepMu is held shared by every per-session mutation and exclusively
	// by the expiry sweep, so a sweep never interleaves with a load-save.
	sweepMu sync.RWMutex
}

// Option configures a Service.
type Option func(*Service)

// WithSink routes funnel events to sink.
func WithSink(sink telemetry.Sink) Option {
	return func(s *Service) { s.sink = sink }
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides session id generation.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// NewService creates a session service.
func NewService(st store.Store, cat catalog.Catalog, opts ...Option) *Service {
	s := &Service{
		store:   st,
		catalog: cat,
		sink:    telemetry.Nop{},
		logger:  slog.Default(),
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) lock(sessionID string) func() {
	s.sweepMu.RLock()
	v, _ := s.locks.LoadOrStore(sessionID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return func() {
		mu.Unlock()
		s.sweepMu.RUnlock()
	}
}

// Start creates a session at question 1.
func (s *Service) Start(ctx context.Context, templateID, initialInput string) (*domain.Session, error) {
	if _, ok := s.catalog.FindByID(templateID); !ok {
		return nil, apperr.Newf(apperr.CodeValidation, "Unknown templateId.")
	}
	initial := strings.TrimSpace(initialInput)
	if initial == "" {
		return nil, apperr.Newf(apperr.CodeValidation, "Initial input is required.")
	}

	now := s.now()
	session := &domain.Session{
		SessionID:     s.newID(),
		TemplateID:    templateID,
		InitialInput:  initial,
		Answers:       []domain.Answer{},
		QuestionIndex: 1,
		Status:        domain.StatusRefinementQ1,
		CreatedAt:     now,
		LastUpdatedAt: now,
	}
	if err := s.store.Create(ctx, session); err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, fmt.Errorf("create session: %w", err))
	}

	s.logger.Info("session started", "session_id", session.SessionID, "template_id", templateID)
	s.emit(ctx, telemetry.EventSessionStarted, session.SessionID, map[string]any{"templateId": templateID})
	return session, nil
}

// Get loads a session or fails with SESSION_NOT_FOUND.
func (s *Service) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, apperr.New(apperr.CodeSessionNotFound)
	}
	session, err := s.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.Wrap(apperr.CodeSessionNotFound, err)
		}
		return nil, apperr.Wrap(apperr.CodeInternal, fmt.Errorf("load session %s: %w", sessionID, err))
	}
	return session, nil
}

// Answer records an answer to the current question. editFrom, when set,
// first rewinds the dialogue to that question and drops later answers.
//
// A sparse answer is bounced once per question; the second sparse answer
// commits the question's default answer instead.
func (s *Service) Answer(ctx context.Context, sessionID, rawAnswer string, editFrom *domain.QuestionIndex) (AnswerResult, error) {
	if editFrom != nil && !editFrom.Valid() {
		return AnswerResult{}, apperr.Newf(apperr.CodeValidation, "editFromQuestionIndex must be 1, 2 or 3.")
	}

	unlock := s.lock(sessionID)
	defer unlock()

	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return AnswerResult{}, err
	}

	now := s.now()
	if editFrom != nil {
		session.TruncateAnswersFrom(*editFrom)
		session.QuestionIndex = *editFrom
		session.Status = domain.QuestionStatus(*editFrom)
		session.LastUpdatedAt = now
	}

	q := session.QuestionIndex
	trimmed := strings.TrimSpace(rawAnswer)
	sparse := utf8.RuneCountInString(trimmed) < SparseAnswerMinLength
	retryUsed := session.RetryGranted(q)

	if sparse && !retryUsed {
		session.GrantRetry(q)
		session.LastUpdatedAt = now
		if err := s.save(ctx, session); err != nil {
			return AnswerResult{}, err
		}
		s.logger.Debug("sparse answer, asking again", "session_id", sessionID, "question_index", int(q))
		return AnswerResult{
			Session:       session,
			QuestionIndex: q,
			QuestionText:  QuestionText(q),
			SparseRetry:   true,
		}, nil
	}

	answer := trimmed
	if sparse {
		answer = DefaultAnswer(q)
	}
	session.PutAnswer(domain.Answer{
		QuestionIndex:   q,
		Answer:          answer,
		SparseRetryUsed: retryUsed,
		AnsweredAt:      now,
	})

	last := q == domain.QuestionCount
	if !last {
		session.QuestionIndex = q + 1
	}
	session.Status = session.DialogueStatus()
	session.LastUpdatedAt = now

	if err := s.save(ctx, session); err != nil {
		return AnswerResult{}, err
	}

	if last {
		s.emit(ctx, telemetry.EventRefinementCompleted, sessionID, map[string]any{"questionsCount": domain.QuestionCount})
		return AnswerResult{Session: session, Done: true}, nil
	}

	s.emit(ctx, telemetry.EventRefinementAnswered, sessionID, map[string]any{"questionIndex": int(q)})
	return AnswerResult{
		Session:       session,
		QuestionIndex: session.QuestionIndex,
		QuestionText:  QuestionText(session.QuestionIndex),
	}, nil
}

// MarkGenerating sets the generating overlay.
func (s *Service) MarkGenerating(ctx context.Context, sessionID string) (*domain.Session, error) {
	return s.update(ctx, sessionID, func(session *domain.Session) {
		session.Status = domain.StatusGenerating
	})
}

// MarkResultReady records the generated image and the result_ready overlay.
func (s *Service) MarkResultReady(ctx context.Context, sessionID string, image domain.ImageReference) (*domain.Session, error) {
	if err := image.Validate(); err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, fmt.Errorf("mark result ready: %w", err))
	}
	return s.update(ctx, sessionID, func(session *domain.Session) {
		session.Status = domain.StatusResultReady
		session.LastImage = &image
	})
}

// RestoreStatus puts back a status captured before a failed generation.
func (s *Service) RestoreStatus(ctx context.Context, sessionID string, status domain.Status) (*domain.Session, error) {
	return s.update(ctx, sessionID, func(session *domain.Session) {
		session.Status = status
	})
}

// CompleteAnswers returns the answers ordered by question index when all
// three questions are answered.
func (s *Service) CompleteAnswers(session *domain.Session) ([domain.QuestionCount]string, bool) {
	var out [domain.QuestionCount]string
	for q := domain.QuestionIndex(1); q <= domain.QuestionCount; q++ {
		a, ok := session.AnswerFor(q)
		if !ok {
			return [domain.QuestionCount]string{}, false
		}
		out[q-1] = a.Answer
	}
	return out, true
}

// Reset deletes a session. Resetting an unknown session succeeds.
func (s *Service) Reset(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	unlock := s.lock(sessionID)
	defer unlock()

	if err := s.store.Delete(ctx, sessionID); err != nil {
		return apperr.Wrap(apperr.CodeInternal, fmt.Errorf("delete session %s: %w", sessionID, err))
	}
	s.locks.Delete(sessionID)
	s.logger.Info("session reset", "session_id", sessionID)
	return nil
}

func (s *Service) update(ctx context.Context, sessionID string, mutate func(*domain.Session)) (*domain.Session, error) {
	unlock := s.lock(sessionID)
	defer unlock()

	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	mutate(session)
	session.LastUpdatedAt = s.now()
	if err := s.save(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *Service) save(ctx context.Context, session *domain.Session) error {
	if err := s.store.Upsert(ctx, session); err != nil {
		return apperr.Wrap(apperr.CodeInternal, fmt.Errorf("save session %s: %w", session.SessionID, err))
	}
	return nil
}

func (s *Service) emit(ctx context.Context, name telemetry.EventName, sessionID string, props map[string]any) {
	s.sink.Funnel(ctx, telemetry.NewEvent(name, sessionID, identity.RequestIDFromContext(ctx), props))
}
