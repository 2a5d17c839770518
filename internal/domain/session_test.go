package domain

import (
	"testing"
	"time"
)

func TestPutAnswerReplacesAndSorts(t *testing.T) {
	s := &Session{}
	s.PutAnswer(Answer{QuestionIndex: 3, Answer: "c"})
	s.PutAnswer(Answer{QuestionIndex: 1, Answer: "a"})
	s.PutAnswer(Answer{QuestionIndex: 2, Answer: "b"})
	s.PutAnswer(Answer{QuestionIndex: 1, Answer: "a2"})

	if len(s.Answers) != 3 {
		t.Fatalf("expected 3 answers, got %d", len(s.Answers))
	}
	for i, want := range []string{"a2", "b", "c"} {
		if s.Answers[i].QuestionIndex != QuestionIndex(i+1) {
			t.Errorf("answers[%d] has index %d", i, s.Answers[i].QuestionIndex)
		}
		if s.Answers[i].Answer != want {
			t.Errorf("answers[%d] = %q, want %q", i, s.Answers[i].Answer, want)
		}
	}
	if !s.IsComplete() {
		t.Error("expected session to be complete")
	}
	if s.DialogueStatus() != StatusReadyToGenerate {
		t.Errorf("expected ready_to_generate, got %s", s.DialogueStatus())
	}
}

func TestTruncateAnswersFrom(t *testing.T) {
	s := &Session{QuestionIndex: 3}
	for q := QuestionIndex(1); q <= 3; q++ {
		s.PutAnswer(Answer{QuestionIndex: q, Answer: "answer"})
	}
	s.TruncateAnswersFrom(2)
	if len(s.Answers) != 1 || s.Answers[0].QuestionIndex != 1 {
		t.Fatalf("unexpected answers after truncate: %+v", s.Answers)
	}
	s.QuestionIndex = 2
	if s.DialogueStatus() != StatusRefinementQ2 {
		t.Errorf("expected refinement_q2, got %s", s.DialogueStatus())
	}
}

func TestRetryGrants(t *testing.T) {
	s := &Session{}
	if s.RetryGranted(2) {
		t.Fatal("no retry should be granted initially")
	}
	s.GrantRetry(2)
	s.GrantRetry(2)
	if !s.RetryGranted(2) || len(s.RetriesGranted) != 1 {
		t.Errorf("expected a single grant for question 2, got %v", s.RetriesGranted)
	}
}

func TestCloneIsDeep(t *testing.T) {
	img := NewBase64Image("AAAA", "")
	s := &Session{
		SessionID:      "s1",
		Answers:        []Answer{{QuestionIndex: 1, Answer: "a"}},
		RetriesGranted: []QuestionIndex{1},
		LastImage:      &img,
	}
	c := s.Clone()
	c.Answers[0].Answer = "changed"
	c.RetriesGranted[0] = 3
	c.LastImage.Data = "BBBB"

	if s.Answers[0].Answer != "a" || s.RetriesGranted[0] != 1 || s.LastImage.Data != "AAAA" {
		t.Error("clone shares memory with the original")
	}
	if (*Session)(nil).Clone() != nil {
		t.Error("nil clone should be nil")
	}
}

func TestIdleFor(t *testing.T) {
	now := time.Now()
	s := &Session{LastUpdatedAt: now.Add(-time.Minute)}
	if got := s.IdleFor(now); got != time.Minute {
		t.Errorf("IdleFor = %v, want 1m", got)
	}
}

func TestImageReferenceValidate(t *testing.T) {
	cases := []struct {
		name  string
		img   ImageReference
		valid bool
	}{
		{"url", NewURLImage("https://x/y.png", ""), true},
		{"base64 default mime", NewBase64Image("AAAA", ""), true},
		{"empty url", NewURLImage("", "image/png"), false},
		{"both variants", ImageReference{Kind: ImageKindURL, URL: "u", Data: "d"}, false},
		{"unknown kind", ImageReference{Kind: "file"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.img.Validate()
			if tc.valid && err != nil {
				t.Errorf("expected valid, got %v", err)
			}
			if !tc.valid && err == nil {
				t.Error("expected validation error")
			}
		})
	}

	if NewBase64Image("AAAA", "").MimeType != DefaultImageMimeType {
		t.Error("expected default mime type")
	}
}
