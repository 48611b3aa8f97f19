package gemini

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/panelsim/panelsim/internal/llm/driver"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Client implements the Gemini generateContent API via direct HTTP.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// NewClient returns a client with defaults applied.
func NewClient(baseURL, apiKey string) *Client {
	base := strings.TrimSpace(baseURL)
	if base == "" {
		base = defaultBaseURL
	}
	return &Client{
		BaseURL: base,
		APIKey:  strings.TrimSpace(apiKey),
	}
}

// Name returns the driver identifier.
func (c *Client) Name() string {
	return "gemini"
}

// Complete sends a generateContent request.
func (c *Client) Complete(ctx context.Context, req *driver.Request) (*driver.Response, error) {
	if c == nil {
		return nil, fmt.Errorf("gemini client not configured")
	}
	if c.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	body, err := buildPayload(req)
	if err != nil {
		return nil, err
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	endpoint := "/models/" + url.PathEscape(req.Model) + ":generateContent"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.BaseURL, "/")+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.APIKey)

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	started := time.Now()
	trace := driver.TraceEntry{Driver: c.Name(), Endpoint: endpoint, Model: req.Model, RequestBody: body}

	resp, err := client.Do(httpReq)
	if err != nil {
		trace.Error = err.Error()
		trace.DurationMs = time.Since(started).Milliseconds()
		driver.Trace(trace)
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup

	respBody, err := io.ReadAll(resp.Body)
	trace.StatusCode = resp.StatusCode
	trace.DurationMs = time.Since(started).Milliseconds()
	if err != nil {
		trace.Error = err.Error()
		driver.Trace(trace)
		return nil, fmt.Errorf("read response: %w", err)
	}
	if gjson.ValidBytes(respBody) {
		trace.Response = respBody
	}
	driver.Trace(trace)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, providerError(resp.StatusCode, respBody)
	}
	return parseResponse(respBody)
}

// buildPayload renders a generateContent body. Assistant turns use the
// "model" role.
func buildPayload(req *driver.Request) ([]byte, error) {
	payload := []byte(`{}`)
	var err error

	if system := strings.TrimSpace(req.System); system != "" {
		if payload, err = sjson.SetBytes(payload, "systemInstruction.parts.0.text", system); err != nil {
			return nil, fmt.Errorf("encode system instruction: %w", err)
		}
	}

	for i, msg := range req.Messages {
		role := "user"
		if msg.Role == driver.RoleAssistant {
			role = "model"
		}
		prefix := fmt.Sprintf("contents.%d", i)
		if payload, err = sjson.SetBytes(payload, prefix+".role", role); err != nil {
			return nil, fmt.Errorf("encode message role: %w", err)
		}
		if payload, err = sjson.SetBytes(payload, prefix+".parts.0.text", msg.Text); err != nil {
			return nil, fmt.Errorf("encode message text: %w", err)
		}
	}

	if req.Temperature != nil {
		if payload, err = sjson.SetBytes(payload, "generationConfig.temperature", *req.Temperature); err != nil {
			return nil, fmt.Errorf("encode temperature: %w", err)
		}
	}
	if req.MaxTokens != nil {
		if payload, err = sjson.SetBytes(payload, "generationConfig.maxOutputTokens", *req.MaxTokens); err != nil {
			return nil, fmt.Errorf("encode max tokens: %w", err)
		}
	}
	return payload, nil
}

func parseResponse(body []byte) (*driver.Response, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("decode response: invalid json")
	}
	root := gjson.ParseBytes(body)

	candidate := root.Get("candidates.0")
	if !candidate.Exists() {
		if reason := root.Get("promptFeedback.blockReason").String(); reason != "" {
			return nil, fmt.Errorf("prompt blocked: %s", reason)
		}
		return nil, fmt.Errorf("empty response candidates")
	}

	var text strings.Builder
	candidate.Get("content.parts").ForEach(func(_, part gjson.Result) bool {
		text.WriteString(part.Get("text").String())
		return true
	})

	resp := &driver.Response{
		Text:         strings.TrimSpace(text.String()),
		FinishReason: candidate.Get("finishReason").String(),
	}
	if usage := root.Get("usageMetadata"); usage.Exists() {
		resp.Usage = &driver.Usage{
			PromptTokens:     int(usage.Get("promptTokenCount").Int()),
			CompletionTokens: int(usage.Get("candidatesTokenCount").Int()),
			TotalTokens:      int(usage.Get("totalTokenCount").Int()),
		}
	}
	return resp, nil
}

func providerError(statusCode int, body []byte) *driver.ProviderError {
	perr := &driver.ProviderError{
		Provider:    "gemini",
		StatusCode:  statusCode,
		Message:     strings.TrimSpace(string(body)),
		RawResponse: body,
	}
	if gjson.ValidBytes(body) {
		if msg := gjson.GetBytes(body, "error.message").String(); msg != "" {
			perr.Message = msg
		}
		perr.Status = gjson.GetBytes(body, "error.status").String()
	}
	return perr
}
