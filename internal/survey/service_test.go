package survey

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panelsim/panelsim/internal/dispatch"
	"github.com/panelsim/panelsim/internal/llm"
	"github.com/panelsim/panelsim/internal/llm/driver"
	"github.com/panelsim/panelsim/internal/quota"
	"github.com/panelsim/panelsim/internal/respondent"
)

// scriptedDriver answers with the respondent's prefecture, or fails for
// prompts mentioning a prefecture listed in failures.
type scriptedDriver struct {
	mu       sync.Mutex
	calls    int
	failures map[string]error
}

func (d *scriptedDriver) Name() string { return "scripted" }

func (d *scriptedDriver) Complete(ctx context.Context, req *driver.Request) (*driver.Response, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	for pref, err := range d.failures {
		if strings.Contains(req.System, pref) {
			return nil, err
		}
	}
	last := req.Messages[len(req.Messages)-1].Text
	return &driver.Response{Text: "answer to " + last}, nil
}

func newService(t *testing.T, drv driver.Driver) (*Service, *quota.Tracker) {
	t.Helper()
	roster, err := respondent.NewRoster([]respondent.Respondent{
		{ID: "tokyo-001", Prefecture: "Tokyo", Region: "Kanto", Age: 34, Gender: "female"},
		{ID: "osaka-001", Prefecture: "Osaka", Region: "Kinki", Age: 58, Gender: "male",
			Profile: &respondent.Profile{Lifelog: []respondent.LifeEvent{{Year: 1990, Age: 24, Event: "Opened a shop"}}}},
		{ID: "kobe-001", Prefecture: "Hyogo", Region: "Kinki", Age: 41, Gender: "female"},
	})
	require.NoError(t, err)

	tracker := quota.NewTracker(quota.Limits{RPM: 60, RPD: 100})
	return &Service{
		Roster:      roster,
		Quota:       tracker,
		Dispatcher:  dispatch.New(tracker),
		Asker:       &llm.Asker{Driver: drv, Model: "test-model"},
		Concurrency: 3,
	}, tracker
}

func TestStartBulkStreamsEveryMatch(t *testing.T) {
	drv := &scriptedDriver{failures: map[string]error{
		"Hyogo": &driver.ProviderError{Provider: "gemini", StatusCode: 429, Status: "RESOURCE_EXHAUSTED"},
	}}
	svc, tracker := newService(t, drv)

	stream, err := svc.StartBulk(context.Background(), "  Favourite snack?  ", respondent.Filter{Region: "Kinki"})
	require.NoError(t, err)
	assert.Equal(t, 2, stream.Plan.Total)
	assert.Equal(t, "Favourite snack?", stream.Plan.Prompt)

	outcomes, err := dispatch.Collect(context.Background(), stream)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	byID := map[string]dispatch.Outcome{}
	for _, o := range outcomes {
		byID[o.RespondentID] = o
	}
	assert.Equal(t, "answer to Favourite snack?", byID["osaka-001"].Answer)
	assert.Equal(t, dispatch.FailureQuotaExhausted, byID["kobe-001"].Failure)
	assert.Equal(t, 2, tracker.Status().RequestsToday)
	assert.Equal(t, 2, outcomes[1].CompletedIndex)
}

func TestStartBulkSetupErrors(t *testing.T) {
	svc, _ := newService(t, &scriptedDriver{})

	_, err := svc.StartBulk(context.Background(), " ", respondent.Filter{})
	assert.ErrorIs(t, err, ErrEmptyQuestion)

	_, err = svc.StartBulk(context.Background(), "hi", respondent.Filter{Prefecture: "Okinawa"})
	assert.ErrorIs(t, err, ErrNoRespondents)
}

func TestInterviewAdmitsThroughQuota(t *testing.T) {
	drv := &scriptedDriver{}
	svc, tracker := newService(t, drv)
	svc.Asker.Quota = tracker

	answer, err := svc.Interview(context.Background(), "tokyo-001", "How was work?", []llm.Turn{
		{Role: "user", Content: "Hello"},
		{Role: "assistant", Content: "Hi there"},
	})
	require.NoError(t, err)
	assert.Equal(t, "answer to How was work?", answer)
	assert.Equal(t, 1, svc.Usage().RequestsToday)

	_, err = svc.Interview(context.Background(), "nobody", "hi", nil)
	assert.ErrorIs(t, err, ErrUnknownRespondent)

	_, err = svc.Interview(context.Background(), "tokyo-001", "", nil)
	assert.ErrorIs(t, err, ErrEmptyQuestion)
}

func TestEnhanceRequiresLifelog(t *testing.T) {
	drv := &scriptedDriver{}
	svc, _ := newService(t, drv)

	_, err := svc.Enhance(context.Background(), "tokyo-001")
	assert.True(t, errors.Is(err, llm.ErrNoProfile))

	text, err := svc.Enhance(context.Background(), "osaka-001")
	require.NoError(t, err)
	assert.NotEmpty(t, text)
	assert.Equal(t, 1, drv.calls)
}
