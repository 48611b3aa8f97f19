package dispatch

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/panelsim/panelsim/internal/quota"
	"github.com/panelsim/panelsim/internal/respondent"
)

// Failure classifies why a task produced no answer.
type Failure string

const (
	FailureNone           Failure = ""
	FailureQuotaExhausted Failure = "quota_exhausted"
	FailureOther          Failure = "other"
)

// QuotaExhaustedAnswer replaces the answer of a task rejected by the upstream
// service for quota reasons.
const QuotaExhaustedAnswer = "(No answer: the generation service quota is exhausted)"

// MaxDiagnosticRunes bounds the error excerpt carried by FailureOther.
const MaxDiagnosticRunes = 80

// Task is one independent request of a batch.
type Task struct {
	RespondentID string
	Prompt       string
	Respondent   respondent.Respondent
}

// Outcome is the result of one task, emitted in completion order.
type Outcome struct {
	Task           Task
	RespondentID   string
	Answer         string
	Failure        Failure
	Diagnostic     string
	CompletedIndex int
	Total          int
	Usage          quota.Status
	Duration       time.Duration
}

// Failed reports whether the task produced no real answer.
func (o Outcome) Failed() bool {
	return o.Failure != FailureNone
}

// classify turns a call error into a failure kind, placeholder answer and
// diagnostic excerpt.
func classify(err error) (Failure, string, string) {
	if quota.IsExhausted(err) {
		return FailureQuotaExhausted, QuotaExhaustedAnswer, ""
	}
	diagnostic := truncateRunes(err.Error(), MaxDiagnosticRunes)
	return FailureOther, fmt.Sprintf("(Error: %s)", diagnostic), diagnostic
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
