package driver

import (
	"context"
	"strings"
)

// Driver is a text-generation backend.
type Driver interface {
	// Complete sends a request and returns the generated text.
	Complete(ctx context.Context, req *Request) (*Response, error)
	// Name returns the driver identifier (e.g., "gemini").
	Name() string
}

// Role values used in Message.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one conversation turn.
type Message struct {
	Role string `json:"role"`
	Text string `json:"content"`
}

// Usage contains token usage statistics.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Request is a provider-agnostic generation request.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	Temperature *float64
	MaxTokens   *int
}

// Response is a provider-agnostic generation response.
type Response struct {
	Text         string
	FinishReason string
	Usage        *Usage
}

// Validate checks the fields every driver needs.
func (r *Request) Validate() error {
	if r == nil {
		return errRequired("request")
	}
	if strings.TrimSpace(r.Model) == "" {
		return errRequired("model")
	}
	if len(r.Messages) == 0 {
		return errRequired("messages")
	}
	return nil
}

type errRequired string

func (e errRequired) Error() string { return string(e) + " is required" }
