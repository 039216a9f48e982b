package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/devicelab-dev/uiagent/pkg/config"
	"github.com/devicelab-dev/uiagent/pkg/core"
	"github.com/devicelab-dev/uiagent/pkg/metrics"
	"github.com/devicelab-dev/uiagent/pkg/tracing"
)

// ChatRequest is the OpenAI chat completion request body.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// ChatMessage is one message; Content is either a string or a list of parts.
type ChatMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

// ContentPart is a multimodal content item.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL carries a data: URL for an inline image.
type ImageURL struct {
	URL string `json:"url"`
}

// ChatResponse is the subset of the completion response that is read.
type ChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type apiError struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// ChatClient implements Oracle over an OpenAI-compatible /chat/completions endpoint.
type ChatClient struct {
	name       string
	endpoint   config.Endpoint
	system     string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
	metrics    *metrics.Metrics
}

// ChatOption configures a ChatClient
type ChatOption func(*ChatClient)

// WithHTTPClient replaces the default http.Client
func WithHTTPClient(hc *http.Client) ChatOption {
	return func(c *ChatClient) { c.httpClient = hc }
}

// WithLimiter shares a request rate limiter between clients
func WithLimiter(l *rate.Limiter) ChatOption {
	return func(c *ChatClient) { c.limiter = l }
}

// WithMaxRetries sets how many times a retryable failure is retried
func WithMaxRetries(n int) ChatOption {
	return func(c *ChatClient) { c.maxRetries = n }
}

// WithMetrics records request latency
func WithMetrics(m *metrics.Metrics) ChatOption {
	return func(c *ChatClient) { c.metrics = m }
}

// NewChatClient creates a client named name ("action", "verdict") that
// sends system as the first message of every request.
func NewChatClient(name string, ep config.Endpoint, system string, timeout time.Duration, opts ...ChatOption) *ChatClient {
	c := &ChatClient{
		name:       name,
		endpoint:   ep,
		system:     system,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the client name used in logs and metrics
func (c *ChatClient) Name() string {
	return c.name
}

// Complete sends turns and returns the first choice's content.
func (c *ChatClient) Complete(ctx context.Context, turns []Turn) (out string, err error) {
	ctx, span := tracing.Start(ctx, tracing.SpanOracle,
		attribute.String(tracing.AttrOracle, c.name),
		attribute.String(tracing.AttrModel, c.endpoint.Model),
		attribute.Int(tracing.AttrTurnCount, len(turns)),
	)
	start := time.Now()
	defer func() {
		c.metrics.OracleObserved(c.name, time.Since(start), err)
		tracing.End(span, err)
	}()

	body, err := json.Marshal(c.buildRequest(turns))
	if err != nil {
		return "", core.ErrOracleFailed.WithCause(fmt.Errorf("marshal request: %w", err))
	}

	attempt := 0
	op := func() error {
		attempt++
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}
		content, err := c.do(ctx, body)
		if err != nil {
			return err
		}
		out = content
		return nil
	}

	var b backoff.BackOff = backoff.NewExponentialBackOff()
	b = backoff.WithMaxRetries(b, uint64(max(c.maxRetries, 0)))
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		span.SetAttributes(attribute.Int(tracing.AttrAttempt, attempt))
		var ee *core.ExecutionError
		if errors.As(err, &ee) {
			return "", err
		}
		return "", core.ErrOracleFailed.WithCause(err).WithDetails(map[string]interface{}{"oracle": c.name})
	}
	return out, nil
}

func (c *ChatClient) do(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return "", backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.endpoint.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.endpoint.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", backoff.Permanent(ctx.Err())
		}
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := fmt.Errorf("%s API error [%d]: %s", c.name, resp.StatusCode, errorMessage(respBody))
		if retryable(resp.StatusCode) {
			return "", apiErr
		}
		return "", backoff.Permanent(apiErr)
	}

	var result ChatResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", backoff.Permanent(fmt.Errorf("unmarshal response: %w", err))
	}
	if len(result.Choices) == 0 {
		return "", backoff.Permanent(core.ErrOracleEmpty.WithDetails(map[string]interface{}{"oracle": c.name}))
	}
	return result.Choices[0].Message.Content, nil
}

func (c *ChatClient) buildRequest(turns []Turn) ChatRequest {
	msgs := make([]ChatMessage, 0, len(turns)+1)
	if c.system != "" {
		msgs = append(msgs, ChatMessage{Role: string(RoleSystem), Content: c.system})
	}
	for _, m := range mergeTurns(turns) {
		msgs = append(msgs, ChatMessage{Role: string(m.Role), Content: contentParts(m.Parts)})
	}
	return ChatRequest{
		Model:       c.endpoint.Model,
		Messages:    msgs,
		Temperature: c.endpoint.Temperature,
		MaxTokens:   c.endpoint.MaxTokens,
	}
}

// mergeTurns joins consecutive turns of the same role into one message.
func mergeTurns(turns []Turn) []Turn {
	var out []Turn
	for _, t := range turns {
		if n := len(out); n > 0 && out[n-1].Role == t.Role {
			out[n-1].Parts = append(out[n-1].Parts, t.Parts...)
			continue
		}
		out = append(out, Turn{Role: t.Role, Parts: append([]Part(nil), t.Parts...)})
	}
	return out
}

func contentParts(parts []Part) []ContentPart {
	out := make([]ContentPart, 0, len(parts))
	for _, p := range parts {
		switch p.Kind {
		case PartImage:
			out = append(out, ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: p.DataURL()}})
		default:
			out = append(out, ContentPart{Type: "text", Text: p.Text})
		}
	}
	return out
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func errorMessage(body []byte) string {
	var e apiError
	if err := json.Unmarshal(body, &e); err == nil && e.Error != nil {
		return e.Error.Message
	}
	if len(body) > 512 {
		body = body[:512]
	}
	return string(body)
}
