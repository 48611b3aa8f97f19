package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/panelsim/panelsim/internal/llm/driver"
	"github.com/panelsim/panelsim/internal/respondent"
)

// ErrNoProfile is returned when a narrative is requested for a respondent
// without a life log.
var ErrNoProfile = errors.New("respondent has no profile life log")

// Admitter paces outbound calls.
type Admitter interface {
	Admit(ctx context.Context) error
}

// Turn is one prior exchange of an interview.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Asker puts questions to respondents through a generation driver.
type Asker struct {
	Driver      driver.Driver
	Model       string
	Quota       Admitter
	Temperature *float64
}

// Ask admits the call against the quota, then answers question in the voice
// of r. history holds earlier turns, oldest first.
func (a *Asker) Ask(ctx context.Context, r respondent.Respondent, question string, history []Turn, profile *respondent.Profile) (string, error) {
	if err := a.admit(ctx); err != nil {
		return "", err
	}
	return a.Answer(ctx, r, question, history, profile)
}

// Answer performs the call without quota admission. Callers that already
// admitted the request (such as the batch dispatcher) use it directly.
func (a *Asker) Answer(ctx context.Context, r respondent.Respondent, question string, history []Turn, profile *respondent.Profile) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", errors.New("question is required")
	}
	system, err := SystemPrompt(r, profile)
	if err != nil {
		return "", err
	}

	messages := make([]driver.Message, 0, len(history)+1)
	for _, turn := range history {
		role := driver.RoleAssistant
		if turn.Role == driver.RoleUser {
			role = driver.RoleUser
		}
		messages = append(messages, driver.Message{Role: role, Text: turn.Content})
	}
	messages = append(messages, driver.Message{Role: driver.RoleUser, Text: question})

	return a.complete(ctx, &driver.Request{System: system, Messages: messages})
}

// Narrate turns a respondent's life log into a first-person introduction.
func (a *Asker) Narrate(ctx context.Context, r respondent.Respondent, profile *respondent.Profile) (string, error) {
	if profile == nil || len(profile.Lifelog) == 0 {
		return "", ErrNoProfile
	}
	prompt, err := NarrativePrompt(r, profile)
	if err != nil {
		return "", err
	}
	if err := a.admit(ctx); err != nil {
		return "", err
	}
	return a.complete(ctx, &driver.Request{
		Messages: []driver.Message{{Role: driver.RoleUser, Text: prompt}},
	})
}

func (a *Asker) admit(ctx context.Context) error {
	if a.Quota == nil {
		return nil
	}
	return a.Quota.Admit(ctx)
}

func (a *Asker) complete(ctx context.Context, req *driver.Request) (string, error) {
	if a == nil || a.Driver == nil {
		return "", errors.New("no generation driver configured")
	}
	req.Model = a.Model
	req.Temperature = a.Temperature

	resp, err := a.Driver.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	if resp == nil || strings.TrimSpace(resp.Text) == "" {
		return "", fmt.Errorf("%s returned an empty answer", a.Driver.Name())
	}
	return resp.Text, nil
}
