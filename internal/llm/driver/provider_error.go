package driver

import (
	"fmt"
	"net/http"
	"strings"
)

// ProviderError is returned when a provider responds with a non-2xx status.
//
// RawResponse holds the provider response body and must never include API keys.
type ProviderError struct {
	Provider    string
	StatusCode  int
	Status      string // provider status, e.g. RESOURCE_EXHAUSTED
	Message     string
	RawResponse []byte
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "provider error"
	}
	msg := e.Message
	if e.Status != "" {
		msg = e.Status + ": " + msg
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s request failed: status %d: %s", e.Provider, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s request failed: %s", e.Provider, msg)
}

// QuotaExhausted reports whether the provider rejected the call for quota
// or rate reasons.
func (e *ProviderError) QuotaExhausted() bool {
	if e == nil {
		return false
	}
	return e.StatusCode == http.StatusTooManyRequests ||
		strings.EqualFold(e.Status, "RESOURCE_EXHAUSTED")
}
