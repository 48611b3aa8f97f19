package gemini

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/panelsim/panelsim/internal/llm/driver"
	"github.com/panelsim/panelsim/internal/quota"
)

func TestCompleteBuildsGenerateContentRequest(t *testing.T) {
	var captured []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-2.0-flash:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		captured, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"candidates": [{"content": {"role": "model", "parts": [{"text": "I usually "}, {"text": "cook at home."}]}, "finishReason": "STOP"}],
			"usageMetadata": {"promptTokenCount": 120, "candidatesTokenCount": 8, "totalTokenCount": 128}
		}`))
	}))
	defer server.Close()

	temp := 0.9
	client := NewClient(server.URL, "test-key")
	resp, err := client.Complete(context.Background(), &driver.Request{
		Model:  "gemini-2.0-flash",
		System: "You are a 34 year old engineer in Tokyo.",
		Messages: []driver.Message{
			{Role: driver.RoleUser, Text: "Hello"},
			{Role: driver.RoleAssistant, Text: "Hi there"},
			{Role: driver.RoleUser, Text: "What do you eat for dinner?"},
		},
		Temperature: &temp,
	})
	require.NoError(t, err)
	require.Equal(t, "I usually cook at home.", resp.Text)
	require.Equal(t, "STOP", resp.FinishReason)
	require.NotNil(t, resp.Usage)
	require.Equal(t, 128, resp.Usage.TotalTokens)

	body := gjson.ParseBytes(captured)
	assert.Equal(t, "You are a 34 year old engineer in Tokyo.", body.Get("systemInstruction.parts.0.text").String())
	assert.Equal(t, "model", body.Get("contents.1.role").String())
	assert.Equal(t, "What do you eat for dinner?", body.Get("contents.2.parts.0.text").String())
	assert.Equal(t, 0.9, body.Get("generationConfig.temperature").Float())
	assert.False(t, body.Get("generationConfig.maxOutputTokens").Exists())
}

func TestCompleteMapsQuotaErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"Quota exceeded for metric","status":"RESOURCE_EXHAUSTED"}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	_, err := client.Complete(context.Background(), &driver.Request{
		Model:    "gemini-2.0-flash",
		Messages: []driver.Message{{Role: driver.RoleUser, Text: "hi"}},
	})
	require.Error(t, err)

	var perr *driver.ProviderError
	require.True(t, errors.As(err, &perr))
	require.Equal(t, "RESOURCE_EXHAUSTED", perr.Status)
	require.Equal(t, "Quota exceeded for metric", perr.Message)
	require.True(t, quota.IsExhausted(err))
}

func TestCompleteReportsOtherFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`upstream exploded`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	_, err := client.Complete(context.Background(), &driver.Request{
		Model:    "gemini-2.0-flash",
		Messages: []driver.Message{{Role: driver.RoleUser, Text: "hi"}},
	})
	require.Error(t, err)
	require.False(t, quota.IsExhausted(err))
	require.Contains(t, err.Error(), "upstream exploded")
}

func TestCompleteRequiresKeyAndModel(t *testing.T) {
	_, err := NewClient("", "").Complete(context.Background(), &driver.Request{Model: "m"})
	require.EqualError(t, err, "api key is required")

	_, err = NewClient("", "k").Complete(context.Background(), &driver.Request{})
	require.EqualError(t, err, "model is required")
}

func TestParseResponseBlockedPrompt(t *testing.T) {
	_, err := parseResponse([]byte(`{"promptFeedback":{"blockReason":"SAFETY"}}`))
	require.EqualError(t, err, "prompt blocked: SAFETY")
}
