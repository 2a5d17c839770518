package imagegen

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/nanostyle/internal/apperr"
	"github.com/ashureev/nanostyle/internal/domain"
	"github.com/ashureev/nanostyle/internal/telemetry"
)

// fakeNanoBanana serves /generate with the handlers in order, repeating the
// last one once they run out. Job status requests go to status.
func fakeNanoBanana(t *testing.T, status http.HandlerFunc, handlers ...http.HandlerFunc) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /generate", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer nb-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body struct {
			Prompt string `json:"prompt"`
		}
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &body); err != nil || body.Prompt == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		n := int(atomic.AddInt32(&calls, 1)) - 1
		if n >= len(handlers) {
			n = len(handlers) - 1
		}
		handlers[n](w, r)
	})
	if status != nil {
		mux.HandleFunc("GET /jobs/{id}", status)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &calls
}

func reply(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func newClient(srv *httptest.Server, sink telemetry.Sink, mutate func(*Config)) *Client {
	cfg := Config{
		BaseURL:      srv.URL + "/",
		APIKey:       "nb-key",
		Timeout:      time.Second,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 5 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg, sink)
}

var mugInput = GenerateInput{Prompt: "cinematic mug", RequestID: "req_1", SessionID: "s1"}

func TestGenerateNormalizesSyncImages(t *testing.T) {
	tests := []struct {
		name string
		body string
		want domain.ImageReference
	}{
		{"imageUrl", `{"imageUrl":"https://cdn/x.png","mimeType":"image/png"}`, domain.NewURLImage("https://cdn/x.png", "image/png")},
		{"url", `{"url":"https://cdn/y.webp"}`, domain.NewURLImage("https://cdn/y.webp", "")},
		{"imageBase64", `{"imageBase64":"aGk=","mimeType":"image/jpeg"}`, domain.NewBase64Image("aGk=", "image/jpeg")},
		{"base64 default mime", `{"base64":"aGk="}`, domain.NewBase64Image("aGk=", "image/png")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := fakeNanoBanana(t, nil, reply(http.StatusOK, tt.body))
			gen, err := newClient(srv, nil, nil).Generate(context.Background(), mugInput)
			require.NoError(t, err)
			assert.Equal(t, GenerationCompleted, gen.Kind)
			assert.Equal(t, tt.want, gen.Image)
			assert.NoError(t, gen.Image.Validate())
		})
	}
}

func TestGenerateAcceptedJob(t *testing.T) {
	srv, _ := fakeNanoBanana(t, nil, reply(http.StatusAccepted, `{"jobId":"job-1","pollAfterMs":150}`))
	gen, err := newClient(srv, nil, nil).Generate(context.Background(), mugInput)
	require.NoError(t, err)
	assert.Equal(t, GenerationAccepted, gen.Kind)
	assert.Equal(t, "job-1", gen.JobID)
	assert.Equal(t, 150*time.Millisecond, gen.PollAfter)

	srv, _ = fakeNanoBanana(t, nil, reply(http.StatusOK, `{"jobId":"job-2"}`))
	gen, err = newClient(srv, nil, nil).Generate(context.Background(), mugInput)
	require.NoError(t, err)
	assert.Equal(t, DefaultPollAfter, gen.PollAfter)
}

func TestGenerateIgnoresMistypedFields(t *testing.T) {
	srv, _ := fakeNanoBanana(t, nil, reply(http.StatusOK, `{"imageUrl":"https://cdn/x.png","requestId":42,"mimeType":false}`))
	gen, err := newClient(srv, nil, nil).Generate(context.Background(), mugInput)
	require.NoError(t, err)
	assert.Equal(t, GenerationCompleted, gen.Kind)
	assert.Equal(t, domain.NewURLImage("https://cdn/x.png", ""), gen.Image)
	assert.Empty(t, gen.ProviderRequestID)

	srv, _ = fakeNanoBanana(t, nil, reply(http.StatusAccepted, `{"jobId":"job-1","pollAfterMs":"1500"}`))
	gen, err = newClient(srv, nil, nil).Generate(context.Background(), mugInput)
	require.NoError(t, err)
	assert.Equal(t, GenerationAccepted, gen.Kind)
	assert.Equal(t, "job-1", gen.JobID)
	assert.Equal(t, DefaultPollAfter, gen.PollAfter)

	srv, _ = fakeNanoBanana(t, nil, reply(http.StatusOK, `{"jobId":"   ","imageUrl":7}`))
	_, err = newClient(srv, nil, nil).Generate(context.Background(), mugInput)
	assert.Equal(t, apperr.CodeNanoBanana, apperr.CodeOf(err))
}

func TestGenerateClampsPollAfter(t *testing.T) {
	srv, _ := fakeNanoBanana(t, nil, reply(http.StatusAccepted, `{"jobId":"job-1","pollAfterMs":1e300}`))
	gen, err := newClient(srv, nil, nil).Generate(context.Background(), mugInput)
	require.NoError(t, err)
	assert.Equal(t, MaxPollAfter, gen.PollAfter)
}

func TestGenerateRejectsNonObjectPayload(t *testing.T) {
	srv, _ := fakeNanoBanana(t, nil, reply(http.StatusOK, `["https://cdn/x.png"]`))
	_, err := newClient(srv, nil, nil).Generate(context.Background(), mugInput)
	assert.Equal(t, apperr.CodeNanoBanana, apperr.CodeOf(err))
}

func TestGenerateUnrecognizedPayload(t *testing.T) {
	srv, calls := fakeNanoBanana(t, nil, reply(http.StatusOK, `{"status":"ok"}`))
	_, err := newClient(srv, nil, nil).Generate(context.Background(), mugInput)
	assert.Equal(t, apperr.CodeNanoBanana, apperr.CodeOf(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestGenerateRetriesServerErrors(t *testing.T) {
	rec := &telemetry.Recorder{}
	srv, calls := fakeNanoBanana(t, nil,
		reply(http.StatusServiceUnavailable, `{}`),
		reply(http.StatusOK, `{"imageUrl":"https://cdn/z.png"}`),
	)
	gen, err := newClient(srv, rec, nil).Generate(context.Background(), mugInput)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/z.png", gen.Image.URL)
	assert.Equal(t, int32(2), atomic.LoadInt32(calls))

	pc := rec.Calls()
	require.Len(t, pc, 2)
	assert.Equal(t, telemetry.ProviderNanoBanana, pc[0].Provider)
	assert.Equal(t, "generate", pc[0].Operation)
	assert.Equal(t, 1, pc[0].Attempt)
	assert.Equal(t, telemetry.CallError, pc[0].Status)
	assert.Equal(t, "NANOBANANA_ERROR", pc[0].ErrorCode)
	assert.Equal(t, 2, pc[1].Attempt)
	assert.Equal(t, telemetry.CallSuccess, pc[1].Status)
	assert.Equal(t, "s1", pc[1].SessionID)
}

func TestGenerateExhaustsAttempts(t *testing.T) {
	srv, calls := fakeNanoBanana(t, nil, reply(http.StatusBadGateway, `{}`))
	_, err := newClient(srv, nil, func(c *Config) { c.Attempts = 3 }).Generate(context.Background(), mugInput)
	assert.Equal(t, apperr.CodeNanoBanana, apperr.CodeOf(err))
	assert.Equal(t, int32(3), atomic.LoadInt32(calls))
}

func TestGenerateDoesNotRetryClientErrors(t *testing.T) {
	srv, calls := fakeNanoBanana(t, nil, reply(http.StatusUnprocessableEntity, `{}`))
	_, err := newClient(srv, nil, nil).Generate(context.Background(), mugInput)
	assert.Equal(t, apperr.CodeNanoBanana, apperr.CodeOf(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestGenerateAttemptTimeout(t *testing.T) {
	rec := &telemetry.Recorder{}
	srv, calls := fakeNanoBanana(t, nil, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	_, err := newClient(srv, rec, func(c *Config) { c.Timeout = 50 * time.Millisecond }).Generate(context.Background(), mugInput)
	assert.Equal(t, apperr.CodeProviderTimeout, apperr.CodeOf(err))
	assert.Equal(t, int32(2), atomic.LoadInt32(calls))

	pc := rec.Calls()
	require.Len(t, pc, 2)
	for _, call := range pc {
		assert.Equal(t, telemetry.CallTimeout, call.Status)
		assert.Equal(t, "PROVIDER_TIMEOUT", call.ErrorCode)
	}
}

func TestNotConfigured(t *testing.T) {
	c := New(Config{BaseURL: "http://nanobanana.invalid"}, nil)
	assert.False(t, c.Configured())

	_, err := c.Generate(context.Background(), mugInput)
	assert.Equal(t, apperr.CodeNanoBanana, apperr.CodeOf(err))
	_, err = c.Status(context.Background(), StatusInput{JobID: "job-1"})
	assert.Equal(t, apperr.CodeNanoBanana, apperr.CodeOf(err))
}

func TestStatus(t *testing.T) {
	tests := []struct {
		name string
		body string
		want JobStatus
	}{
		{"queued", `{"status":"queued"}`, JobStatus{State: JobPending, PollAfter: DefaultPollAfter}},
		{"processing", `{"status":"processing","pollAfterMs":10}`, JobStatus{State: JobPending, PollAfter: 10 * time.Millisecond}},
		{"completed", `{"status":"done","imageUrl":"https://cdn/j.png"}`, JobStatus{State: JobCompleted, Image: domain.NewURLImage("https://cdn/j.png", "")}},
		{"failed", `{"status":"failed"}`, JobStatus{State: JobFailed, Retryable: true, Code: apperr.CodeNanoBanana}},
		{"mistyped status with image", `{"status":3,"imageUrl":"https://cdn/k.png"}`, JobStatus{State: JobCompleted, Image: domain.NewURLImage("https://cdn/k.png", "")}},
		{"mistyped poll delay", `{"status":"pending","pollAfterMs":null}`, JobStatus{State: JobPending, PollAfter: DefaultPollAfter}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			paths := make(chan string, 1)
			srv, _ := fakeNanoBanana(t, func(w http.ResponseWriter, r *http.Request) {
				paths <- r.URL.EscapedPath()
				reply(http.StatusOK, tt.body)(w, r)
			})
			st, err := newClient(srv, nil, nil).Status(context.Background(), StatusInput{JobID: "job 1"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, st)
			assert.Equal(t, "/jobs/job%201", <-paths)
		})
	}
}

func TestStatusDoesNotRetry(t *testing.T) {
	var calls int32
	srv, _ := fakeNanoBanana(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	})
	_, err := newClient(srv, nil, nil).Status(context.Background(), StatusInput{JobID: "job-1"})
	assert.Equal(t, apperr.CodeNanoBanana, apperr.CodeOf(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
