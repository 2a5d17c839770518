package domain

import (
	"slices"
	"time"
)

// QuestionIndex identifies one of the three refinement questions.
type QuestionIndex int

// QuestionCount is the fixed number of refinement questions per session.
const QuestionCount = 3

// Valid reports whether the index is in 1..3.
func (q QuestionIndex) Valid() bool {
	return q >= 1 && q <= QuestionCount
}

// Status is the refinement/generation state of a session.
type Status string

const (
	StatusRefinementQ1    Status = "refinement_q1"
	StatusRefinementQ2    Status = "refinement_q2"
	StatusRefinementQ3    Status = "refinement_q3"
	StatusReadyToGenerate Status = "ready_to_generate"
	StatusGenerating      Status = "generating"
	StatusResultReady     Status = "result_ready"
)

// QuestionStatus returns the refinement status for the question awaiting an answer.
func QuestionStatus(q QuestionIndex) Status {
	switch {
	case q <= 1:
		return StatusRefinementQ1
	case q == 2:
		return StatusRefinementQ2
	default:
		return StatusRefinementQ3
	}
}

// Answer is a committed answer to one refinement question.
type Answer struct {
	QuestionIndex   QuestionIndex `json:"questionIndex"`
	Answer          string        `json:"answer"`
	SparseRetryUsed bool          `json:"sparseRetryUsed"`
	AnsweredAt      time.Time     `json:"answeredAt"`
}

// Session is one user's run through the refinement dialogue.
type Session struct {
	SessionID     string          `json:"sessionId"`
	TemplateID    string          `json:"templateId"`
	InitialInput  string          `json:"initialInput"`
	Answers       []Answer        `json:"answers"`
	QuestionIndex QuestionIndex   `json:"questionIndex"`
	Status        Status          `json:"status"`
	CreatedAt     time.Time       `json:"createdAt"`
	LastUpdatedAt time.Time       `json:"lastUpdatedAt"`
	LastImage     *ImageReference `json:"lastImage,omitempty"`

	// RetriesGranted holds the question indices whose one-time sparse
	// answer retry has already been handed out.
	RetriesGranted []QuestionIndex `json:"retriesGranted,omitempty"`
}

// Clone returns a deep copy so stores never share slices with callers.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Answers = slices.Clone(s.Answers)
	c.RetriesGranted = slices.Clone(s.RetriesGranted)
	if s.LastImage != nil {
		img := *s.LastImage
		c.LastImage = &img
	}
	return &c
}

// RetryGranted reports whether the sparse retry for q was already used.
func (s *Session) RetryGranted(q QuestionIndex) bool {
	return slices.Contains(s.RetriesGranted, q)
}

// GrantRetry records the sparse retry for q.
func (s *Session) GrantRetry(q QuestionIndex) {
	if s.RetryGranted(q) {
		return
	}
	s.RetriesGranted = append(s.RetriesGranted, q)
	slices.Sort(s.RetriesGranted)
}

// AnswerFor returns the committed answer for q, if any.
func (s *Session) AnswerFor(q QuestionIndex) (Answer, bool) {
	for _, a := range s.Answers {
		if a.QuestionIndex == q {
			return a, true
		}
	}
	return Answer{}, false
}

// PutAnswer commits a, replacing any prior answer for the same question, and
// keeps Answers sorted by question index.
func (s *Session) PutAnswer(a Answer) {
	s.Answers = slices.DeleteFunc(s.Answers, func(e Answer) bool {
		return e.QuestionIndex == a.QuestionIndex
	})
	s.Answers = append(s.Answers, a)
	slices.SortFunc(s.Answers, func(x, y Answer) int {
		return int(x.QuestionIndex) - int(y.QuestionIndex)
	})
}

// TruncateAnswersFrom drops every answer whose index is >= q.
func (s *Session) TruncateAnswersFrom(q QuestionIndex) {
	s.Answers = slices.DeleteFunc(s.Answers, func(e Answer) bool {
		return e.QuestionIndex >= q
	})
}

// IsComplete reports whether exactly questions 1..3 are answered.
func (s *Session) IsComplete() bool {
	if len(s.Answers) != QuestionCount {
		return false
	}
	for q := QuestionIndex(1); q <= QuestionCount; q++ {
		if _, ok := s.AnswerFor(q); !ok {
			return false
		}
	}
	return true
}

// DialogueStatus derives the status from the dialogue fields alone, ignoring
// the generation overlays.
func (s *Session) DialogueStatus() Status {
	if s.IsComplete() {
		return StatusReadyToGenerate
	}
	return QuestionStatus(s.QuestionIndex)
}

// IdleFor returns how long the session has gone without an update.
func (s *Session) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.LastUpdatedAt)
}
