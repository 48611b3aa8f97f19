// Package survey ties the respondent roster, the quota tracker and the
// generation boundary into the operations the CLI and HTTP server expose.
package survey

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/panelsim/panelsim/internal/dispatch"
	"github.com/panelsim/panelsim/internal/llm"
	"github.com/panelsim/panelsim/internal/quota"
	"github.com/panelsim/panelsim/internal/respondent"
)

var (
	// ErrEmptyQuestion is returned when a bulk question or interview message is blank.
	ErrEmptyQuestion = errors.New("question is required")
	// ErrNoRespondents is returned when a filter matches nobody.
	ErrNoRespondents = errors.New("no respondents match the filter")
	// ErrUnknownRespondent is returned for an id missing from the roster.
	ErrUnknownRespondent = errors.New("respondent not found")
)

// Usage reports quota consumption.
type Usage interface {
	Status() quota.Status
}

// Service runs interviews and bulk questions against the roster.
type Service struct {
	Roster      *respondent.Roster
	Quota       Usage
	Dispatcher  *dispatch.Dispatcher
	Asker       *llm.Asker
	Concurrency int
}

// StartBulk asks question of every respondent matching filter and returns
// the stream of their answers.
func (s *Service) StartBulk(ctx context.Context, question string, filter respondent.Filter) (*dispatch.Stream, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	if s.Roster == nil || s.Dispatcher == nil || s.Asker == nil {
		return nil, errors.New("survey service is not configured")
	}

	members := s.Roster.List(filter)
	if len(members) == 0 {
		return nil, ErrNoRespondents
	}

	tasks := make([]dispatch.Task, 0, len(members))
	for _, r := range members {
		tasks = append(tasks, dispatch.Task{RespondentID: r.ID, Prompt: question, Respondent: r})
	}

	return s.Dispatcher.Dispatch(ctx, tasks, s.concurrency(), func(ctx context.Context, task dispatch.Task) (string, error) {
		return s.Asker.Answer(ctx, task.Respondent, task.Prompt, nil, task.Respondent.Profile)
	})
}

// Interview continues a one-to-one conversation with a respondent.
func (s *Service) Interview(ctx context.Context, id, message string, history []llm.Turn) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", ErrEmptyQuestion
	}
	r, err := s.lookup(id)
	if err != nil {
		return "", err
	}
	return s.Asker.Ask(ctx, r, message, history, r.Profile)
}

// Enhance produces a first-person introduction from the respondent's
// profile life log.
func (s *Service) Enhance(ctx context.Context, id string) (string, error) {
	r, err := s.lookup(id)
	if err != nil {
		return "", err
	}
	return s.Asker.Narrate(ctx, r, r.Profile)
}

// Usage returns the current quota status.
func (s *Service) Usage() quota.Status {
	if s.Quota == nil {
		return quota.Status{}
	}
	return s.Quota.Status()
}

func (s *Service) lookup(id string) (respondent.Respondent, error) {
	if s.Roster == nil || s.Asker == nil {
		return respondent.Respondent{}, errors.New("survey service is not configured")
	}
	r, ok := s.Roster.Get(strings.TrimSpace(id))
	if !ok {
		return respondent.Respondent{}, fmt.Errorf("%w: %s", ErrUnknownRespondent, id)
	}
	return r, nil
}

func (s *Service) concurrency() int {
	if s.Concurrency < 1 {
		return 1
	}
	return s.Concurrency
}
