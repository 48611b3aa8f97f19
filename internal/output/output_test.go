package output

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/panelsim/panelsim/internal/archive"
	"github.com/panelsim/panelsim/internal/dispatch"
	"github.com/panelsim/panelsim/internal/quota"
	"github.com/panelsim/panelsim/internal/respondent"
)

func TestParseFormat(t *testing.T) {
	format, err := ParseFormat("table")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	format, err = ParseFormat("JSON")
	require.NoError(t, err)
	require.Equal(t, FormatJSON, format)

	format, err = ParseFormat("md")
	require.NoError(t, err)
	require.Equal(t, FormatMarkdown, format)

	format, err = ParseFormat("")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	_, err = ParseFormat("csv")
	require.Error(t, err)
}

func sampleRecords() []archive.OutcomeRecord {
	return []archive.OutcomeRecord{
		{BatchID: "b1", CompletedIndex: 1, RespondentID: "p-2", DisplayName: "Osaka, 41, female", Prefecture: "Osaka", Answer: "I would buy it."},
		{BatchID: "b1", CompletedIndex: 2, RespondentID: "p-1", DisplayName: "Tokyo, 30, male", Prefecture: "Tokyo",
			Answer: dispatch.QuotaExhaustedAnswer, Failure: string(dispatch.FailureQuotaExhausted)},
	}
}

func TestAnswersTable(t *testing.T) {
	rendered, err := Answers(FormatTable, sampleRecords())
	require.NoError(t, err)
	require.Contains(t, rendered, "Osaka, 41, female")
	require.Contains(t, rendered, "quota exhausted")
	require.Contains(t, rendered, "1/2 ANSWERED")
}

func TestAnswersJSON(t *testing.T) {
	rendered, err := Answers(FormatJSON, sampleRecords())
	require.NoError(t, err)
	require.Contains(t, rendered, `"persona_id": "p-2"`)
	require.Contains(t, rendered, `"failure": "quota_exhausted"`)
}

func TestAnswersMarkdown(t *testing.T) {
	rendered, err := Answers(FormatMarkdown, sampleRecords())
	require.NoError(t, err)
	require.Contains(t, rendered, "| # |")
}

func TestBatch(t *testing.T) {
	batch := archive.BatchRecord{ID: "b1", Question: "Coffee or tea?", Total: 2, Completed: 2, Requested: 5, Effective: 2,
		StartedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC).UnixMilli()}

	rendered, err := Batch(FormatTable, batch, sampleRecords())
	require.NoError(t, err)
	require.Contains(t, rendered, "Batch b1")
	require.Contains(t, rendered, "Q: Coffee or tea?")
	require.Contains(t, rendered, "2026-01-02T03:04:05Z")

	rendered, err = Batch(FormatJSON, batch, sampleRecords())
	require.NoError(t, err)
	require.Contains(t, rendered, `"question": "Coffee or tea?"`)
	require.Contains(t, rendered, `"outcomes"`)
}

func TestRespondentsAndPrefectures(t *testing.T) {
	items := []respondent.Respondent{
		{ID: "p-1", Prefecture: "Tokyo", Region: "Kanto", Age: 30, Gender: "male", Occupation: "engineer"},
		{ID: "p-2", Prefecture: "Osaka", Region: "Kinki", Age: 41, Gender: "female", Occupation: "nurse", Profile: &respondent.Profile{}},
	}
	rendered, err := Respondents(FormatTable, items)
	require.NoError(t, err)
	require.Contains(t, rendered, "engineer")
	require.Contains(t, rendered, "TOTAL")

	roster, err := respondent.NewRoster(items)
	require.NoError(t, err)
	rendered, err = Prefectures(FormatTable, roster.Prefectures())
	require.NoError(t, err)
	require.Contains(t, rendered, "Kanto")
	require.Contains(t, rendered, "Osaka")
}

func TestUsage(t *testing.T) {
	status := quota.Status{RequestsToday: 3, RequestsRemainingToday: 1497, RPMCurrent: 3, RPMLimit: 15, RPDLimit: 1500, QuotaPctUsed: 0.2}

	rendered, err := Usage(FormatTable, status)
	require.NoError(t, err)
	require.Contains(t, rendered, "1497")
	require.Contains(t, rendered, "0.2%")

	rendered, err = Usage(FormatJSON, status)
	require.NoError(t, err)
	require.Contains(t, rendered, `"rpm_limit": 15`)
}

func TestProgressLine(t *testing.T) {
	o := dispatch.Outcome{
		RespondentID:   "p-1",
		Task:           dispatch.Task{Respondent: respondent.Respondent{Prefecture: "Tokyo", Age: 30, Gender: "male"}},
		Answer:         "Tea,\n  always.",
		CompletedIndex: 1,
		Total:          3,
	}
	require.Equal(t, "[1/3] p-1 (Tokyo, 30, male) Tea, always.", ProgressLine(o))

	o.Failure = dispatch.FailureOther
	o.Diagnostic = "upstream 500"
	require.Equal(t, "[1/3] p-1 (Tokyo, 30, male) failed: upstream 500", ProgressLine(o))
}

func TestProperties(t *testing.T) {
	props := []Property{{Key: "name", Value: "panelsim"}, {Key: "version", Value: "1.0.0"}}

	rendered, err := Properties(FormatTable, props)
	require.NoError(t, err)
	require.Contains(t, rendered, "panelsim")
	require.Contains(t, rendered, "1.0.0")

	rendered, err = Properties(FormatJSON, props)
	require.NoError(t, err)
	require.Contains(t, rendered, `"version": "1.0.0"`)
}
