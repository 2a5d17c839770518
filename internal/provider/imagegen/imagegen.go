// Package imagegen is the NanoBanana image-generation adapter.
package imagegen

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/ashureev/nanostyle/internal/apperr"
	"github.com/ashureev/nanostyle/internal/domain"
	"github.com/ashureev/nanostyle/internal/telemetry"
)

const (
	DefaultTimeout      = 25 * time.Second
	DefaultAttempts     = 2
	DefaultRetryWaitMin = 250 * time.Millisecond
	DefaultRetryWaitMax = 2 * time.Second
	DefaultPollAfter    = 2 * time.Second
	// MaxPollAfter caps the wait a provider may ask for between checks.
	MaxPollAfter = 60 * time.Second

	opGenerate = "generate"
	opStatus   = "job_status"

	maxResponseBytes = 32 << 20
)

// Config is the immutable adapter configuration.
type Config struct {
	BaseURL string
	APIKey  string
	// Timeout bounds each attempt.
	Timeout time.Duration
	// Attempts is the total number of generate attempts, including the first.
	Attempts     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

func (c Config) withDefaults() Config {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	c.APIKey = strings.TrimSpace(c.APIKey)
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Attempts <= 0 {
		c.Attempts = DefaultAttempts
	}
	if c.RetryWaitMin <= 0 {
		c.RetryWaitMin = DefaultRetryWaitMin
	}
	if c.RetryWaitMax < c.RetryWaitMin {
		c.RetryWaitMax = max(DefaultRetryWaitMax, c.RetryWaitMin)
	}
	return c
}

// GenerateInput is a generation request.
type GenerateInput struct {
	Prompt    string
	RequestID string
	SessionID string
}

// StatusInput identifies an async job.
type StatusInput struct {
	JobID     string
	RequestID string
	SessionID string
}

// GenerationKind distinguishes synchronous results from accepted jobs.
type GenerationKind int

const (
	GenerationCompleted GenerationKind = iota
	GenerationAccepted
)

// Generation is the normalized result of a generate call.
type Generation struct {
	Kind GenerationKind
	// Image is set when Kind is GenerationCompleted.
	Image domain.ImageReference
	// ProviderRequestID is the provider's own id for a sync result, if any.
	ProviderRequestID string
	// JobID and PollAfter are set when Kind is GenerationAccepted.
	JobID     string
	PollAfter time.Duration
}

// JobState is the normalized state of an async job.
type JobState string

const (
	JobPending   JobState = "pending"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// JobStatus is the normalized result of a status check.
type JobStatus struct {
	State     JobState
	PollAfter time.Duration
	Image     domain.ImageReference
	Retryable bool
	Code      apperr.Code
}

// Generator submits prompts and checks async jobs.
type Generator interface {
	Generate(ctx context.Context, in GenerateInput) (Generation, error)
	Status(ctx context.Context, in StatusInput) (JobStatus, error)
}

// Client implements Generator over HTTP.
type Client struct {
	cfg      Config
	generate *retryablehttp.Client
	status   *retryablehttp.Client
	sink     telemetry.Sink
	logger   *slog.Logger
}

// New builds a client. sink may be nil.
func New(cfg Config, sink telemetry.Sink) *Client {
	cfg = cfg.withDefaults()
	if sink == nil {
		sink = telemetry.Nop{}
	}
	c := &Client{
		cfg:    cfg,
		sink:   sink,
		logger: slog.Default().With("provider", string(telemetry.ProviderNanoBanana)),
	}
	c.generate = c.newHTTPClient(cfg.Attempts - 1)
	c.status = c.newHTTPClient(0)
	return c
}

func (c *Client) newHTTPClient(retryMax int) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = retryMax
	client.HTTPClient.Timeout = c.cfg.Timeout
	client.RetryWaitMin = c.cfg.RetryWaitMin
	client.RetryWaitMax = c.cfg.RetryWaitMax
	client.Logger = nil
	client.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if t := trackerFrom(req.Context()); t != nil {
			t.begin(attempt + 1)
		}
	}
	client.CheckRetry = c.checkRetry
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return client
}

// Configured reports whether both base URL and API key are set.
func (c *Client) Configured() bool {
	return c.cfg.BaseURL != "" && c.cfg.APIKey != ""
}

// Generate submits a prompt, retrying transport failures, timeouts, 429 and
// 5xx responses within the attempt budget.
func (c *Client) Generate(ctx context.Context, in GenerateInput) (Generation, error) {
	if !c.Configured() {
		return Generation{}, apperr.Wrap(apperr.CodeNanoBanana, errors.New("nanobanana endpoint not configured"))
	}

	body, err := sonic.Marshal(map[string]string{"prompt": in.Prompt})
	if err != nil {
		return Generation{}, apperr.Wrap(apperr.CodeInternal, fmt.Errorf("encode generate request: %w", err))
	}

	t := &tracker{op: opGenerate, requestID: in.RequestID, sessionID: in.SessionID}
	payload, err := c.do(ctx, c.generate, t, http.MethodPost, c.cfg.BaseURL+"/generate", body)
	if err != nil {
		return Generation{}, err
	}

	gen, err := normalizeGenerate(payload)
	if err != nil {
		c.logger.Warn("unrecognized generate response",
			"request_id", in.RequestID,
			"session_id", in.SessionID)
		return Generation{}, err
	}
	return gen, nil
}

// Status checks an async job once.
func (c *Client) Status(ctx context.Context, in StatusInput) (JobStatus, error) {
	if !c.Configured() {
		return JobStatus{}, apperr.Wrap(apperr.CodeNanoBanana, errors.New("nanobanana endpoint not configured"))
	}

	t := &tracker{op: opStatus, requestID: in.RequestID, sessionID: in.SessionID}
	payload, err := c.do(ctx, c.status, t, http.MethodGet, c.cfg.BaseURL+"/jobs/"+url.PathEscape(in.JobID), nil)
	if err != nil {
		return JobStatus{}, err
	}
	return normalizeStatus(payload), nil
}

func (c *Client) do(ctx context.Context, client *retryablehttp.Client, t *tracker, method, endpoint string, body []byte) (responsePayload, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := retryablehttp.NewRequestWithContext(withTracker(ctx, t), method, endpoint, reader)
	if err != nil {
		return responsePayload{}, apperr.Wrap(apperr.CodeNanoBanana, fmt.Errorf("build %s request: %w", t.op, err))
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return responsePayload{}, classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return responsePayload{}, apperr.Wrap(apperr.CodeNanoBanana, fmt.Errorf("%s status %d", t.op, resp.StatusCode))
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return responsePayload{}, classifyTransport(ctx, err)
	}
	payload, err := decodePayload(raw)
	if err != nil {
		return responsePayload{}, apperr.Wrap(apperr.CodeNanoBanana, fmt.Errorf("decode %s response: %w", t.op, err))
	}
	return payload, nil
}

// checkRetry records the finished attempt and defers the retry decision to
// the default policy.
func (c *Client) checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if t := trackerFrom(ctx); t != nil {
		var outcome error
		switch {
		case err != nil:
			outcome = classifyTransport(ctx, err)
		case resp.StatusCode < 200 || resp.StatusCode > 299:
			outcome = apperr.Wrap(apperr.CodeNanoBanana, fmt.Errorf("status %d", resp.StatusCode))
		}
		c.sink.ProviderCall(ctx, t.finish(outcome))
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// classifyTransport maps a transport failure to PROVIDER_TIMEOUT when the
// attempt or the caller ran out of time, else NANOBANANA_ERROR.
func classifyTransport(ctx context.Context, err error) *apperr.Error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return apperr.Wrap(apperr.CodeProviderTimeout, err)
	}
	return apperr.Wrap(apperr.CodeNanoBanana, err)
}

// responsePayload holds the recognized fields of a provider reply. Fields
// of an unexpected JSON type are treated as absent.
type responsePayload struct {
	Status      string
	ImageURL    string
	URL         string
	ImageBase64 string
	Base64      string
	MimeType    string
	JobID       string
	RequestID   string
	PollAfterMs *float64
}

func decodePayload(raw []byte) (responsePayload, error) {
	var fields map[string]any
	if err := sonic.Unmarshal(raw, &fields); err != nil {
		return responsePayload{}, err
	}
	p := responsePayload{
		Status:      asString(fields["status"]),
		ImageURL:    asString(fields["imageUrl"]),
		URL:         asString(fields["url"]),
		ImageBase64: asString(fields["imageBase64"]),
		Base64:      asString(fields["base64"]),
		MimeType:    asString(fields["mimeType"]),
		JobID:       asString(fields["jobId"]),
		RequestID:   asString(fields["requestId"]),
	}
	if ms, ok := asNumber(fields["pollAfterMs"]); ok {
		p.PollAfterMs = &ms
	}
	return p, nil
}

// asString returns v when it is a non-blank string.
func asString(v any) string {
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return ""
	}
	return s
}

// asNumber returns v when it is a finite number.
func asNumber(v any) (float64, bool) {
	f, ok := v.(float64)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func (p responsePayload) image() (domain.ImageReference, bool) {
	if u := firstNonBlank(p.ImageURL, p.URL); u != "" {
		return domain.NewURLImage(u, strings.TrimSpace(p.MimeType)), true
	}
	if data := firstNonBlank(p.ImageBase64, p.Base64); data != "" {
		return domain.NewBase64Image(data, strings.TrimSpace(p.MimeType)), true
	}
	return domain.ImageReference{}, false
}

func (p responsePayload) pollAfter() time.Duration {
	if p.PollAfterMs == nil || *p.PollAfterMs < 0 {
		return DefaultPollAfter
	}
	if *p.PollAfterMs >= float64(MaxPollAfter/time.Millisecond) {
		return MaxPollAfter
	}
	return time.Duration(*p.PollAfterMs * float64(time.Millisecond))
}

func normalizeGenerate(p responsePayload) (Generation, error) {
	if img, ok := p.image(); ok {
		return Generation{
			Kind:              GenerationCompleted,
			Image:             img,
			ProviderRequestID: strings.TrimSpace(p.RequestID),
		}, nil
	}
	if jobID := strings.TrimSpace(p.JobID); jobID != "" {
		return Generation{Kind: GenerationAccepted, JobID: jobID, PollAfter: p.pollAfter()}, nil
	}
	return Generation{}, apperr.Wrap(apperr.CodeNanoBanana, errors.New("generate response has neither image nor job id"))
}

func normalizeStatus(p responsePayload) JobStatus {
	switch strings.TrimSpace(p.Status) {
	case "pending", "queued", "processing":
		return JobStatus{State: JobPending, PollAfter: p.pollAfter()}
	}
	if img, ok := p.image(); ok {
		return JobStatus{State: JobCompleted, Image: img}
	}
	return JobStatus{State: JobFailed, Retryable: true, Code: apperr.CodeNanoBanana}
}
