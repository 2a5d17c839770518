package synthesis

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/nanostyle/internal/apperr"
	"github.com/ashureev/nanostyle/internal/session"
	"github.com/ashureev/nanostyle/internal/telemetry"
)

type capturedRequest struct {
	Auth         string
	Prompt       promptRef
	Instructions string
	Text         string
}

// fakeOpenAI answers /responses with the handlers in order, repeating the
// last one once they run out.
func fakeOpenAI(t *testing.T, handlers ...http.HandlerFunc) (*httptest.Server, func() []capturedRequest, *int32) {
	t.Helper()
	var calls int32
	var mu sync.Mutex
	var captured []capturedRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/responses" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		n := atomic.AddInt32(&calls, 1)

		raw, _ := io.ReadAll(r.Body)
		var body responsesRequest
		_ = json.Unmarshal(raw, &body)
		c := capturedRequest{Auth: r.Header.Get("Authorization"), Prompt: body.Prompt, Instructions: body.Instructions}
		if len(body.Input) > 0 && len(body.Input[0].Content) > 0 {
			c.Text = body.Input[0].Content[0].Text
		}
		mu.Lock()
		captured = append(captured, c)
		mu.Unlock()

		idx := int(n) - 1
		if idx >= len(handlers) {
			idx = len(handlers) - 1
		}
		handlers[idx](w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedRequest(nil), captured...)
	}, &calls
}

func jsonReply(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func newClient(srv *httptest.Server, rec telemetry.Sink, mutate func(*Config)) *Client {
	cfg := Config{
		APIKey:   "sk-test",
		BaseURL:  srv.URL,
		PromptID: "pmpt_1",
		Timeout:  2 * time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg, rec)
}

var dialogue = Input{
	TemplateID:   "general-cinematic",
	InitialInput: "a ceramic mug",
	Answers:      [3]string{"hero shot on oak desk", "", "warm, calm"},
	RequestID:    "req_1",
	SessionID:    "s1",
}

func TestFallbackWithoutAPIKey(t *testing.T) {
	rec := &telemetry.Recorder{}
	c := New(Config{}, rec)

	res, err := c.Synthesize(context.Background(), dialogue)
	require.NoError(t, err)
	assert.Equal(t, FallbackModel, res.Model)

	want := "cinematic photograph, Template: general-cinematic, Initial: a ceramic mug, " +
		"A1: hero shot on oak desk, A2: " + session.DefaultAnswer(2) + ", A3: warm, calm, " +
		"realistic texture, balanced composition, high detail"
	assert.Equal(t, want, res.Prompt)

	calls := rec.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, telemetry.CallSuccess, calls[0].Status)
	assert.Equal(t, "synthesize_prompt", calls[0].Operation)
}

func TestTruncatesToCap(t *testing.T) {
	srv, captured, _ := fakeOpenAI(t, jsonReply(http.StatusOK, `{"output_text":"this prompt is intentionally long"}`))
	c := newClient(srv, nil, func(cfg *Config) { cfg.PromptMaxChars = 12 })

	res, err := c.Synthesize(context.Background(), dialogue)
	require.NoError(t, err)
	assert.Equal(t, "this prompt ...", res.Prompt)
	assert.Equal(t, "prompt:pmpt_1:v1", res.Model)

	require.Len(t, captured(), 1)
	req := captured()[0]
	assert.Equal(t, "Bearer sk-test", req.Auth)
	assert.Equal(t, promptRef{ID: "pmpt_1", Version: "1"}, req.Prompt)
	assert.Empty(t, req.Instructions)
	assert.Contains(t, req.Text, "A2: "+session.DefaultAnswer(2))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 12))
	assert.Equal(t, "exactly-12ch", Truncate("exactly-12ch", 12))
	assert.Equal(t, "ééé...", Truncate("éééé", 3))
	assert.Equal(t, "unbounded", Truncate("unbounded", 0))
}

func TestReadsNestedOutputContent(t *testing.T) {
	srv, _, _ := fakeOpenAI(t, jsonReply(http.StatusOK,
		`{"output":[{"type":"reasoning"},{"content":[{"type":"output_text","text":"  golden hour mug  "}]}]}`))
	c := newClient(srv, nil, nil)

	res, err := c.Synthesize(context.Background(), dialogue)
	require.NoError(t, err)
	assert.Equal(t, "golden hour mug", res.Prompt)
}

func TestRetriesOnceWithStricterInstruction(t *testing.T) {
	rec := &telemetry.Recorder{}
	srv, captured, calls := fakeOpenAI(t,
		jsonReply(http.StatusInternalServerError, `{"error":"boom"}`),
		jsonReply(http.StatusOK, `{"output_text":"final prompt"}`),
	)
	c := newClient(srv, rec, nil)

	res, err := c.Synthesize(context.Background(), dialogue)
	require.NoError(t, err)
	assert.Equal(t, "final prompt", res.Prompt)
	assert.Equal(t, int32(2), atomic.LoadInt32(calls))
	assert.Empty(t, captured()[0].Instructions)
	assert.Equal(t, strictInstruction, captured()[1].Instructions)

	pc := rec.Calls()
	require.Len(t, pc, 2)
	assert.Equal(t, telemetry.CallError, pc[0].Status)
	assert.Equal(t, "OPENAI_ERROR", pc[0].ErrorCode)
	assert.Equal(t, 1, pc[0].Attempt)
	assert.Equal(t, telemetry.CallSuccess, pc[1].Status)
	assert.Equal(t, 2, pc[1].Attempt)
}

func TestEmptyOutputTwiceIsParseError(t *testing.T) {
	srv, _, calls := fakeOpenAI(t, jsonReply(http.StatusOK, `{"output":[]}`))
	c := newClient(srv, nil, nil)

	_, err := c.Synthesize(context.Background(), dialogue)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeSynthesisParse, apperr.CodeOf(err))
	assert.Equal(t, int32(2), atomic.LoadInt32(calls))

	e, _ := apperr.As(err)
	assert.True(t, e.Retryable)
}

func TestProviderErrorTwiceIsOpenAIError(t *testing.T) {
	srv, _, calls := fakeOpenAI(t, jsonReply(http.StatusBadGateway, `{}`))
	c := newClient(srv, nil, nil)

	_, err := c.Synthesize(context.Background(), dialogue)
	assert.Equal(t, apperr.CodeOpenAI, apperr.CodeOf(err))
	assert.Equal(t, int32(2), atomic.LoadInt32(calls))
}

func TestAttemptTimeout(t *testing.T) {
	rec := &telemetry.Recorder{}
	srv, _, calls := fakeOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	c := newClient(srv, rec, func(cfg *Config) { cfg.Timeout = 50 * time.Millisecond })

	_, err := c.Synthesize(context.Background(), dialogue)
	assert.Equal(t, apperr.CodeProviderTimeout, apperr.CodeOf(err))
	assert.Equal(t, int32(2), atomic.LoadInt32(calls))
	for _, call := range rec.Calls() {
		assert.Equal(t, telemetry.CallTimeout, call.Status)
	}
}

func TestMissingPromptID(t *testing.T) {
	srv, _, calls := fakeOpenAI(t, jsonReply(http.StatusOK, `{"output_text":"x"}`))
	c := newClient(srv, nil, func(cfg *Config) { cfg.PromptID = "" })

	_, err := c.Synthesize(context.Background(), dialogue)
	assert.Equal(t, apperr.CodeOpenAI, apperr.CodeOf(err))
	assert.Equal(t, int32(0), atomic.LoadInt32(calls))
}

func TestSynthesizeText(t *testing.T) {
	rec := &telemetry.Recorder{}
	srv, captured, _ := fakeOpenAI(t, jsonReply(http.StatusOK, `{"output_text":"neon street portrait"}`))
	c := newClient(srv, rec, nil)

	_, err := c.SynthesizeText(context.Background(), TextInput{Text: "   "})
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))

	res, err := c.SynthesizeText(context.Background(), TextInput{Text: " a rainy street ", RequestID: "req_2"})
	require.NoError(t, err)
	assert.Equal(t, "neon street portrait", res.Prompt)
	assert.Equal(t, "a rainy street", captured()[0].Text)
	assert.Equal(t, "synthesize_text", rec.Calls()[0].Operation)
}
