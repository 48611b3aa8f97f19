package output

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/panelsim/panelsim/internal/archive"
	"github.com/panelsim/panelsim/internal/dispatch"
	"github.com/panelsim/panelsim/internal/quota"
	"github.com/panelsim/panelsim/internal/respondent"
)

const answerWidth = 60

// Answers renders the outcomes of one batch, in the order given.
func Answers(format Format, records []archive.OutcomeRecord) (string, error) {
	return render(format, records, func(t table.Writer) {
		t.AppendHeader(table.Row{"#", "Respondent", "Prefecture", "Status", "Answer"})
		t.SetColumnConfigs([]table.ColumnConfig{
			{Name: "Answer", WidthMax: answerWidth, WidthMaxEnforcer: text.WrapSoft},
		})

		failed := 0
		for _, rec := range records {
			if rec.Failure != "" {
				failed++
			}
			t.AppendRow(table.Row{
				rec.CompletedIndex,
				rec.DisplayName,
				rec.Prefecture,
				statusLabel(rec.Failure),
				answerText(rec),
			})
		}
		t.AppendFooter(table.Row{"", "", "", fmt.Sprintf("%d/%d answered", len(records)-failed, len(records)), ""})
	})
}

// Batch renders an archived batch header followed by its outcomes.
func Batch(format Format, batch archive.BatchRecord, records []archive.OutcomeRecord) (string, error) {
	if format == FormatJSON {
		return render(format, struct {
			Batch    archive.BatchRecord     `json:"batch"`
			Outcomes []archive.OutcomeRecord `json:"outcomes"`
		}{batch, records}, nil)
	}
	header := fmt.Sprintf("Batch %s  started %s  %d/%d completed  concurrency %d/%d\nQ: %s\n",
		batch.ID, batch.Started().Format(time.RFC3339), batch.Completed, batch.Total,
		batch.Effective, batch.Requested, batch.Question)
	body, err := Answers(format, records)
	if err != nil {
		return "", err
	}
	return header + body, nil
}

// Batches lists archived batches, newest first.
func Batches(format Format, batches []archive.BatchRecord) (string, error) {
	return render(format, batches, func(t table.Writer) {
		t.AppendHeader(table.Row{"ID", "Started", "Completed", "Question"})
		t.SetColumnConfigs([]table.ColumnConfig{
			{Name: "Question", WidthMax: answerWidth, WidthMaxEnforcer: text.Trim},
		})
		for _, b := range batches {
			t.AppendRow(table.Row{
				b.ID,
				b.Started().Format(time.RFC3339),
				fmt.Sprintf("%d/%d", b.Completed, b.Total),
				b.Question,
			})
		}
	})
}

// Respondents lists roster members.
func Respondents(format Format, items []respondent.Respondent) (string, error) {
	return render(format, items, func(t table.Writer) {
		t.AppendHeader(table.Row{"ID", "Prefecture", "Region", "Age", "Gender", "Occupation", "Profile"})
		for _, r := range items {
			profile := ""
			if r.Profile != nil {
				profile = "yes"
			}
			t.AppendRow(table.Row{r.ID, r.Prefecture, r.Region, r.Age, r.Gender, r.Occupation, profile})
		}
		t.AppendFooter(table.Row{"", "", "", "", "", "Total", len(items)})
	})
}

// Prefectures renders respondent counts per region and prefecture.
func Prefectures(format Format, summary respondent.PrefectureSummary) (string, error) {
	return render(format, summary, func(t table.Writer) {
		t.AppendHeader(table.Row{"Region", "Prefecture", "Respondents"})
		regions := make([]string, 0, len(summary.Regions))
		for region := range summary.Regions {
			regions = append(regions, region)
		}
		sort.Strings(regions)
		for _, region := range regions {
			for _, pref := range summary.Regions[region] {
				t.AppendRow(table.Row{region, pref, summary.Prefectures[pref]})
			}
		}
		t.SetColumnConfigs([]table.ColumnConfig{{Number: 1, AutoMerge: true}})
	})
}

// Usage renders a quota status snapshot.
func Usage(format Format, status quota.Status) (string, error) {
	return render(format, status, func(t table.Writer) {
		t.AppendHeader(table.Row{"Window", "Used", "Limit", "Remaining"})
		t.AppendRow(table.Row{"minute", status.RPMCurrent, status.RPMLimit, max(0, status.RPMLimit-status.RPMCurrent)})
		t.AppendRow(table.Row{"day", status.RequestsToday, status.RPDLimit, status.RequestsRemainingToday})
		t.AppendFooter(table.Row{"", "", "daily used", fmt.Sprintf("%.1f%%", status.QuotaPctUsed)})
	})
}

// ProgressLine is the one-line live summary printed as an outcome arrives.
func ProgressLine(o dispatch.Outcome) string {
	answer := o.Answer
	if o.Failed() {
		answer = statusLabel(string(o.Failure))
		if o.Diagnostic != "" {
			answer += ": " + o.Diagnostic
		}
	}
	return fmt.Sprintf("[%d/%d] %s (%s, %d, %s) %s",
		o.CompletedIndex, o.Total, o.RespondentID,
		o.Task.Respondent.Prefecture, o.Task.Respondent.Age, o.Task.Respondent.Gender,
		oneLine(answer))
}

func statusLabel(failure string) string {
	switch dispatch.Failure(failure) {
	case dispatch.FailureNone:
		return "answered"
	case dispatch.FailureQuotaExhausted:
		return "quota exhausted"
	default:
		return "failed"
	}
}

func answerText(rec archive.OutcomeRecord) string {
	if rec.Failure == string(dispatch.FailureOther) && rec.Diagnostic != "" {
		return rec.Answer + " (" + rec.Diagnostic + ")"
	}
	return rec.Answer
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
