// Package synthesis turns a finished refinement dialogue into a single
// image-generation prompt using the OpenAI Responses API.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"

	"github.com/ashureev/nanostyle/internal/apperr"
	"github.com/ashureev/nanostyle/internal/domain"
	"github.com/ashureev/nanostyle/internal/session"
	"github.com/ashureev/nanostyle/internal/telemetry"
)

const (
	DefaultBaseURL        = "https://api.openai.com/v1"
	DefaultPromptVersion  = "1"
	DefaultTimeout        = 20 * time.Second
	DefaultPromptMaxChars = 1200
	FallbackModel         = "fallback"

	// attempts is the first call plus one stricter retry.
	attempts = 2

	opSynthesizePrompt = "synthesize_prompt"
	opSynthesizeText   = "synthesize_text"

	strictInstruction = "Return exactly one final image-generation prompt as plain text. " +
		"No alternatives, no lists, no headings, no commentary."
)

// Config is the immutable adapter configuration.
type Config struct {
	APIKey         string
	BaseURL        string
	PromptID       string
	PromptVersion  string
	Timeout        time.Duration
	PromptMaxChars int
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.PromptVersion == "" {
		c.PromptVersion = DefaultPromptVersion
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.PromptMaxChars <= 0 {
		c.PromptMaxChars = DefaultPromptMaxChars
	}
	return c
}

// Input is a completed dialogue.
type Input struct {
	TemplateID   string
	InitialInput string
	Answers      [domain.QuestionCount]string
	RequestID    string
	SessionID    string
}

// TextInput is free text to turn into a prompt.
type TextInput struct {
	Text      string
	RequestID string
}

// Result is a synthesized prompt and the model that produced it.
type Result struct {
	Prompt string
	Model  string
}

// Synthesizer produces generation-ready prompts.
type Synthesizer interface {
	Synthesize(ctx context.Context, in Input) (Result, error)
	SynthesizeText(ctx context.Context, in TextInput) (Result, error)
}

// Client implements Synthesizer. Without an API key it uses a deterministic
// local template and never fails.
type Client struct {
	cfg    Config
	http   *resty.Client
	sink   telemetry.Sink
	logger *slog.Logger
}

// New builds a client. sink may be nil.
func New(cfg Config, sink telemetry.Sink) *Client {
	cfg = cfg.withDefaults()
	if sink == nil {
		sink = telemetry.Nop{}
	}

	rc := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetAuthToken(cfg.APIKey).
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal)

	return &Client{
		cfg:    cfg,
		http:   rc,
		sink:   sink,
		logger: slog.Default().With("provider", string(telemetry.ProviderOpenAI)),
	}
}

// Model returns the model label reported for provider-backed results.
func (c *Client) Model() string {
	if c.cfg.APIKey == "" {
		return FallbackModel
	}
	return fmt.Sprintf("prompt:%s:v%s", c.cfg.PromptID, c.cfg.PromptVersion)
}

// Synthesize builds the dialogue summary and asks the provider for a prompt.
func (c *Client) Synthesize(ctx context.Context, in Input) (Result, error) {
	return c.run(ctx, opSynthesizePrompt, summarize(in), in.RequestID, in.SessionID)
}

// SynthesizeText asks the provider for a prompt from free text.
func (c *Client) SynthesizeText(ctx context.Context, in TextInput) (Result, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return Result{}, apperr.Newf(apperr.CodeValidation, "Text is required.")
	}
	return c.run(ctx, opSynthesizeText, text, in.RequestID, "")
}

// summarize renders the dialogue, substituting defaults for blank answers.
func summarize(in Input) string {
	lines := []string{
		"Template: " + in.TemplateID,
		"Initial: " + in.InitialInput,
	}
	for i, a := range in.Answers {
		a = strings.TrimSpace(a)
		if a == "" {
			a = session.DefaultAnswer(domain.QuestionIndex(i + 1))
		}
		lines = append(lines, fmt.Sprintf("A%d: %s", i+1, a))
	}
	return strings.Join(lines, "\n")
}

// Fallback is the local prompt used when no API key is configured.
func Fallback(summary string) string {
	return "cinematic photograph, " + strings.ReplaceAll(summary, "\n", ", ") +
		", realistic texture, balanced composition, high detail"
}

// Truncate caps s at maxChars characters, appending "..." when cut.
func Truncate(s string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxChars]) + "..."
}

func (c *Client) run(ctx context.Context, op, summary, requestID, sessionID string) (Result, error) {
	if c.cfg.APIKey == "" {
		start := time.Now()
		prompt := Truncate(Fallback(summary), c.cfg.PromptMaxChars)
		c.record(ctx, op, requestID, sessionID, 1, time.Since(start), nil)
		return Result{Prompt: prompt, Model: FallbackModel}, nil
	}
	if c.cfg.PromptID == "" {
		err := apperr.Wrap(apperr.CodeOpenAI, errors.New("openai prompt id not configured")).WithRetryable(false)
		c.record(ctx, op, requestID, sessionID, 1, 0, err)
		return Result{}, err
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		start := time.Now()
		text, err := c.request(ctx, summary, attempt > 1)
		c.record(ctx, op, requestID, sessionID, attempt, time.Since(start), err)
		if err == nil {
			return Result{Prompt: Truncate(text, c.cfg.PromptMaxChars), Model: c.Model()}, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		c.logger.Warn("synthesis attempt failed",
			"operation", op,
			"request_id", requestID,
			"attempt", attempt,
			"error", err)
	}
	return Result{}, lastErr
}

type promptRef struct {
	ID      string `json:"id"`
	Version string `json:"version"`
}

type inputContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type inputMessage struct {
	Role    string         `json:"role"`
	Content []inputContent `json:"content"`
}

type responsesRequest struct {
	Prompt       promptRef      `json:"prompt"`
	Instructions string         `json:"instructions,omitempty"`
	Input        []inputMessage `json:"input"`
}

type responsesPayload struct {
	OutputText string `json:"output_text"`
	Output     []struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
}

// outputText returns the first text found in the payload.
func (p responsesPayload) outputText() string {
	if p.OutputText != "" {
		return p.OutputText
	}
	for _, item := range p.Output {
		for _, chunk := range item.Content {
			if chunk.Text != "" {
				return chunk.Text
			}
		}
	}
	return ""
}

// request performs one attempt under its own timeout.
func (c *Client) request(ctx context.Context, summary string, strict bool) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body := responsesRequest{
		Prompt: promptRef{ID: c.cfg.PromptID, Version: c.cfg.PromptVersion},
		Input: []inputMessage{{
			Role:    "user",
			Content: []inputContent{{Type: "input_text", Text: summary}},
		}},
	}
	if strict {
		body.Instructions = strictInstruction
	}

	resp, err := c.http.R().
		SetContext(attemptCtx).
		SetBody(body).
		Post("/responses")
	if err != nil {
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return "", apperr.Wrap(apperr.CodeProviderTimeout, err)
		}
		return "", apperr.Wrap(apperr.CodeOpenAI, err)
	}
	if resp.IsError() {
		return "", apperr.Wrap(apperr.CodeOpenAI, fmt.Errorf("openai responses status %d", resp.StatusCode()))
	}

	var payload responsesPayload
	if err := sonic.Unmarshal(resp.Body(), &payload); err != nil {
		return "", apperr.Wrap(apperr.CodeSynthesisParse, fmt.Errorf("decode responses payload: %w", err))
	}
	text := strings.TrimSpace(payload.outputText())
	if text == "" {
		return "", apperr.Wrap(apperr.CodeSynthesisParse, errors.New("responses payload has no output text"))
	}
	return text, nil
}

func (c *Client) record(ctx context.Context, op, requestID, sessionID string, attempt int, latency time.Duration, err error) {
	call := telemetry.ProviderCall{
		Provider:  telemetry.ProviderOpenAI,
		Operation: op,
		RequestID: requestID,
		SessionID: sessionID,
		Latency:   latency,
		Status:    telemetry.CallSuccess,
		Attempt:   attempt,
		At:        time.Now().UTC(),
	}
	if err != nil {
		code := apperr.CodeOf(err)
		call.ErrorCode = string(code)
		call.Status = telemetry.CallError
		if code == apperr.CodeProviderTimeout {
			call.Status = telemetry.CallTimeout
		}
	}
	c.sink.ProviderCall(ctx, call)
}
