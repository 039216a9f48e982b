package oracle

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"go.opentelemetry.io/otel/attribute"

	"github.com/devicelab-dev/uiagent/pkg/config"
	"github.com/devicelab-dev/uiagent/pkg/core"
	"github.com/devicelab-dev/uiagent/pkg/metrics"
	"github.com/devicelab-dev/uiagent/pkg/tracing"
)

// Advisor reviews a single screenshot for visual issues.
type Advisor interface {
	Analyze(ctx context.Context, img core.Image) ([]core.Issue, error)
}

// AdvisorFunc adapts a function to Advisor
type AdvisorFunc func(ctx context.Context, img core.Image) ([]core.Issue, error)

// Analyze calls f
func (f AdvisorFunc) Analyze(ctx context.Context, img core.Image) ([]core.Issue, error) {
	return f(ctx, img)
}

type geminiRequest struct {
	Contents         []geminiContent  `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type generationConfig struct {
	Temperature      float64                `json:"temperature"`
	ThinkingConfig   thinkingConfig         `json:"thinkingConfig"`
	ResponseMimeType string                 `json:"responseMimeType"`
	ResponseSchema   map[string]interface{} `json:"responseSchema"`
}

type thinkingConfig struct {
	ThinkingBudget int `json:"thinkingBudget"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

type issueReport struct {
	Issues []core.Issue `json:"issues"`
}

var issueSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"issues": map[string]interface{}{
			"type": "array",
			"items": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"summary":             map[string]interface{}{"type": "string"},
					"details":             map[string]interface{}{"type": "string"},
					"confidenceZeroToTen": map[string]interface{}{"type": "number"},
				},
				"required":         []string{"summary", "details", "confidenceZeroToTen"},
				"propertyOrdering": []string{"summary", "details", "confidenceZeroToTen"},
			},
		},
	},
}

// AdvisoryClient asks a generateContent endpoint for text overflow issues.
type AdvisoryClient struct {
	endpoint   config.Endpoint
	httpClient *http.Client
	metrics    *metrics.Metrics
}

// NewAdvisoryClient creates an advisory client. ep.URL is the API base,
// e.g. https://generativelanguage.googleapis.com/v1beta.
func NewAdvisoryClient(ep config.Endpoint, timeout time.Duration, m *metrics.Metrics) *AdvisoryClient {
	return &AdvisoryClient{
		endpoint:   ep,
		httpClient: &http.Client{Timeout: timeout},
		metrics:    m,
	}
}

// Analyze returns the issues found on img. Transport failures are
// returned; an unparseable answer yields no issues.
func (c *AdvisoryClient) Analyze(ctx context.Context, img core.Image) (issues []core.Issue, err error) {
	ctx, span := tracing.Start(ctx, tracing.SpanAdvisory, attribute.String(tracing.AttrModel, c.endpoint.Model))
	start := time.Now()
	defer func() {
		span.SetAttributes(attribute.Int(tracing.AttrIssues, len(issues)))
		c.metrics.OracleObserved("advisory", time.Since(start), err)
		tracing.End(span, err)
	}()

	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{
			Role: "user",
			Parts: []geminiPart{
				{Text: AdvisoryPrompt},
				{InlineData: &inlineData{MimeType: img.ContentType, Data: base64.StdEncoding.EncodeToString(img.Data)}},
			},
		}},
		GenerationConfig: generationConfig{
			Temperature:      0,
			ThinkingConfig:   thinkingConfig{ThinkingBudget: 8192},
			ResponseMimeType: "application/json",
			ResponseSchema:   issueSchema,
		},
	})
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		strings.TrimSuffix(c.endpoint.URL, "/"), c.endpoint.Model, url.QueryEscape(c.endpoint.APIKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, core.ErrOracleFailed.WithCause(err).WithDetails(map[string]interface{}{"oracle": "advisory"})
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.ErrOracleFailed.WithCause(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, core.ErrOracleFailed.WithCause(fmt.Errorf("advisory API error [%d]: %s", resp.StatusCode, errorMessage(respBody)))
	}

	var gr geminiResponse
	if err := json.Unmarshal(respBody, &gr); err != nil || len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return []core.Issue{}, nil
	}
	return ParseIssues(gr.Candidates[0].Content.Parts[0].Text), nil
}

// ParseIssues decodes an issue report, repairing malformed JSON once. It
// never returns nil.
func ParseIssues(text string) []core.Issue {
	var report issueReport
	if err := json.Unmarshal([]byte(text), &report); err != nil {
		fixed, repairErr := jsonrepair.JSONRepair(text)
		if repairErr != nil {
			return []core.Issue{}
		}
		report = issueReport{}
		if err := json.Unmarshal([]byte(fixed), &report); err != nil {
			return []core.Issue{}
		}
	}
	if report.Issues == nil {
		return []core.Issue{}
	}
	return report.Issues
}
