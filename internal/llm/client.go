// ABOUTME: Chat-completion client shared by all tenant workers, built on go-openai
// ABOUTME: Owns one lazily (re)opened connection pool and degrades every failure into a Result

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/2389/botfactory/internal/conversation"
	"github.com/2389/botfactory/internal/metrics"
)

const (
	// DefaultBaseURL is the OpenAI-compatible endpoint root; requests go to
	// {BaseURL}/chat/completions.
	DefaultBaseURL = "https://api.onlysq.ru/ai/openai/v1"

	DefaultModel       = "gpt-4o-mini"
	DefaultTemperature = float32(0.7)

	// RequestTimeout bounds every completion call.
	RequestTimeout = 30 * time.Second
)

// Config configures a Client.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature *float32 // nil means DefaultTemperature; 0 is honoured

	// Timeout overrides RequestTimeout. Zero means RequestTimeout; only
	// tests set it.
	Timeout time.Duration
}

type poolState int

const (
	poolUninitialized poolState = iota
	poolOpen
	poolClosed
)

// Client calls the completion gateway. It is safe for concurrent use.
type Client struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	state poolState
	pool  *http.Transport
	api   *openai.Client
}

// New creates a Client. No connections are made until the first call.
func New(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Temperature == nil {
		t := DefaultTemperature
		cfg.Temperature = &t
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = RequestTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:     cfg,
		logger:  logger.With("component", "llm"),
		metrics: m,
	}
}

// CallOption adjusts a single Complete call.
type CallOption func(*callOptions)

type callOptions struct {
	model       string
	temperature float32
}

// WithModel selects a model other than the configured default.
func WithModel(model string) CallOption {
	return func(o *callOptions) {
		if model != "" {
			o.model = model
		}
	}
}

// WithTemperature sets the sampling temperature, clamped to [0, 1].
func WithTemperature(t float32) CallOption {
	return func(o *callOptions) {
		o.temperature = min(max(t, 0), 1)
	}
}

// Complete sends history, preceded by profile as a system instruction when
// profile is non-empty, and returns the outcome. It never panics or returns
// an error; failures are logged and described by the Result.
func (c *Client) Complete(ctx context.Context, history []conversation.Turn, profile string, opts ...CallOption) Result {
	o := callOptions{model: c.cfg.Model, temperature: min(max(*c.cfg.Temperature, 0), 1)}
	for _, opt := range opts {
		opt(&o)
	}

	req := openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    buildMessages(history, profile),
		Temperature: wireTemperature(o.temperature),
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	res := c.send(ctx, req)
	c.metrics.GatewayCall(res.Outcome.String(), time.Since(start))

	if !res.OK() {
		c.logger.Error("gateway call failed",
			"outcome", res.Outcome.String(),
			"model", o.model,
			"cause", res.Cause(),
			"elapsed", time.Since(start).Round(time.Millisecond),
		)
	}
	return res
}

// wireTemperature keeps a zero temperature on the wire: go-openai omits a
// zero Temperature field, which lets the server substitute its own default.
func wireTemperature(t float32) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return t
}

func (c *Client) send(ctx context.Context, req openai.ChatCompletionRequest) Result {
	api := c.ensureOpen()

	resp, err := api.CreateChatCompletion(ctx, req)
	if err != nil {
		return classify(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return Result{Outcome: OutcomeMalformed, Err: errors.New("response has no choices")}
	}
	return success(resp.Choices[0].Message.Content)
}

// buildMessages prepends the system instruction to the caller's history.
func buildMessages(history []conversation.Turn, profile string) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	if profile != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: profile,
		})
	}
	for _, t := range history {
		role := openai.ChatMessageRoleUser
		if t.Role == conversation.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: t.Content})
	}
	return msgs
}

// classify maps a go-openai error onto an Outcome.
func classify(ctx context.Context, err error) Result {
	var (
		apiErr    *openai.APIError
		reqErr    *openai.RequestError
		netErr    net.Error
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return Result{Outcome: OutcomeTimeout, Err: err}
	case errors.As(err, &apiErr):
		return Result{Outcome: OutcomeHTTPError, StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message, Err: err}
	case errors.As(err, &reqErr):
		return Result{Outcome: OutcomeHTTPError, StatusCode: reqErr.HTTPStatusCode, Body: reqErr.Error(), Err: err}
	case errors.As(err, &netErr) && netErr.Timeout():
		return Result{Outcome: OutcomeTimeout, Err: err}
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		return Result{Outcome: OutcomeMalformed, Err: err}
	default:
		return Result{Outcome: OutcomeTransportError, Err: err}
	}
}

// ensureOpen returns the API client, creating the pool if it has never been
// opened or was closed.
func (c *Client) ensureOpen() *openai.Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == poolOpen {
		return c.api
	}

	pool := http.DefaultTransport.(*http.Transport).Clone()
	pool.MaxIdleConnsPerHost = 32

	oc := openai.DefaultConfig(c.cfg.APIKey)
	oc.BaseURL = c.cfg.BaseURL
	oc.HTTPClient = &http.Client{Transport: pool}

	reopened := c.state == poolClosed
	c.pool = pool
	c.api = openai.NewClientWithConfig(oc)
	c.state = poolOpen

	c.logger.Debug("connection pool opened", "base_url", c.cfg.BaseURL, "reopened", reopened)
	return c.api
}

// Close releases the connection pool. Calls made afterwards reopen it.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != poolOpen {
		return
	}
	c.pool.CloseIdleConnections()
	c.pool = nil
	c.api = nil
	c.state = poolClosed
	c.logger.Debug("connection pool closed")
}
