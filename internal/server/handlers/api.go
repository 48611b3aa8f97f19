package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/panelsim/panelsim/internal/archive"
	"github.com/panelsim/panelsim/internal/dispatch"
	apperrors "github.com/panelsim/panelsim/internal/errors"
	"github.com/panelsim/panelsim/internal/llm"
	"github.com/panelsim/panelsim/internal/llm/driver"
	"github.com/panelsim/panelsim/internal/quota"
	"github.com/panelsim/panelsim/internal/respondent"
	"github.com/panelsim/panelsim/internal/stats"
	"github.com/panelsim/panelsim/internal/survey"
)

// Surveyor runs questions against respondents.
type Surveyor interface {
	StartBulk(ctx context.Context, question string, filter respondent.Filter) (*dispatch.Stream, error)
	Interview(ctx context.Context, id, message string, history []llm.Turn) (string, error)
	Enhance(ctx context.Context, id string) (string, error)
	Usage() quota.Status
}

// Directory looks respondents up.
type Directory interface {
	List(f respondent.Filter) []respondent.Respondent
	Get(id string) (respondent.Respondent, bool)
	Prefectures() respondent.PrefectureSummary
}

// BatchArchive reads archived bulk runs.
type BatchArchive interface {
	Batch(ctx context.Context, id string) (*archive.BatchRecord, error)
	Outcomes(ctx context.Context, batchID string) ([]archive.OutcomeRecord, error)
	RecentBatches(ctx context.Context, limit int) ([]archive.BatchRecord, error)
}

// API serves the survey endpoints. Archive and Stats are optional.
type API struct {
	Survey    Surveyor
	Directory Directory
	Archive   BatchArchive
	Stats     stats.Recorder
	Heartbeat time.Duration
}

// Usage returns the quota status verbatim.
func (a *API) Usage(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Survey.Usage())
}

// StatsTotals returns outcome totals.
func (a *API) StatsTotals(w http.ResponseWriter, r *http.Request) {
	if a.Stats == nil {
		respondWithError(w, r, apperrors.NewServiceUnavailableError("outcome stats are disabled"))
		return
	}
	totals, err := a.Stats.Totals(r.Context())
	if err != nil {
		respondWithError(w, r, apperrors.WrapExternalService(r.Context(), err, "stats backend unavailable"))
		return
	}
	writeJSON(w, http.StatusOK, totals)
}

type respondentList struct {
	Respondents []respondent.Respondent `json:"respondents"`
	Total       int                     `json:"total"`
}

// ListRespondents lists respondents, optionally filtered by prefecture and
// region query parameters.
func (a *API) ListRespondents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items := a.Directory.List(respondent.Filter{
		Prefecture: strings.TrimSpace(q.Get("prefecture")),
		Region:     strings.TrimSpace(q.Get("region")),
	})
	if items == nil {
		items = []respondent.Respondent{}
	}
	writeJSON(w, http.StatusOK, respondentList{Respondents: items, Total: len(items)})
}

// GetRespondent returns one respondent.
func (a *API) GetRespondent(w http.ResponseWriter, r *http.Request) {
	item, ok := a.respondent(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// GetProfile returns a respondent's enrichment profile.
func (a *API) GetProfile(w http.ResponseWriter, r *http.Request) {
	item, ok := a.respondent(w, r)
	if !ok {
		return
	}
	if item.Profile == nil {
		respondWithError(w, r, apperrors.NewNotFoundError("respondent has no profile"))
		return
	}
	writeJSON(w, http.StatusOK, item.Profile)
}

// Prefectures returns respondent counts per prefecture and the region index.
func (a *API) Prefectures(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Directory.Prefectures())
}

type interviewRequest struct {
	Message string     `json:"message"`
	History []llm.Turn `json:"history"`
}

type interviewResponse struct {
	Answer    string `json:"answer"`
	PersonaID string `json:"persona_id"`
}

// Interview answers one message in an ongoing conversation.
func (a *API) Interview(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req interviewRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "invalid interview request body"))
		return
	}

	answer, err := a.Survey.Interview(r.Context(), id, req.Message, req.History)
	if err != nil {
		respondWithError(w, r, surveyError(r.Context(), err))
		return
	}
	writeJSON(w, http.StatusOK, interviewResponse{Answer: answer, PersonaID: id})
}

type enhanceResponse struct {
	ID        string              `json:"id"`
	Profile   *respondent.Profile `json:"profile"`
	Narrative string              `json:"narrative"`
}

// EnhanceProfile generates a first-person narrative from the profile.
func (a *API) EnhanceProfile(w http.ResponseWriter, r *http.Request) {
	item, ok := a.respondent(w, r)
	if !ok {
		return
	}
	narrative, err := a.Survey.Enhance(r.Context(), item.ID)
	if err != nil {
		respondWithError(w, r, surveyError(r.Context(), err))
		return
	}
	writeJSON(w, http.StatusOK, enhanceResponse{ID: item.ID, Profile: item.Profile, Narrative: narrative})
}

type batchResponse struct {
	Batch    *archive.BatchRecord    `json:"batch"`
	Outcomes []archive.OutcomeRecord `json:"outcomes"`
}

// GetBatch replays an archived bulk run.
func (a *API) GetBatch(w http.ResponseWriter, r *http.Request) {
	if a.Archive == nil {
		respondWithError(w, r, apperrors.NewServiceUnavailableError("answer archive is disabled"))
		return
	}
	id := chi.URLParam(r, "id")
	batch, err := a.Archive.Batch(r.Context(), id)
	if errors.Is(err, archive.ErrNotFound) {
		respondWithError(w, r, apperrors.WrapNotFound(r.Context(), err, "batch not found"))
		return
	}
	if err != nil {
		respondWithError(w, r, apperrors.WrapDatabaseError(r.Context(), err, "failed to load batch"))
		return
	}
	outcomes, err := a.Archive.Outcomes(r.Context(), id)
	if err != nil {
		respondWithError(w, r, apperrors.WrapDatabaseError(r.Context(), err, "failed to load outcomes"))
		return
	}
	if outcomes == nil {
		outcomes = []archive.OutcomeRecord{}
	}
	writeJSON(w, http.StatusOK, batchResponse{Batch: batch, Outcomes: outcomes})
}

// ListBatches lists recent bulk runs.
func (a *API) ListBatches(w http.ResponseWriter, r *http.Request) {
	if a.Archive == nil {
		respondWithError(w, r, apperrors.NewServiceUnavailableError("answer archive is disabled"))
		return
	}
	batches, err := a.Archive.RecentBatches(r.Context(), 20)
	if err != nil {
		respondWithError(w, r, apperrors.WrapDatabaseError(r.Context(), err, "failed to list batches"))
		return
	}
	if batches == nil {
		batches = []archive.BatchRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"batches": batches})
}

func (a *API) respondent(w http.ResponseWriter, r *http.Request) (respondent.Respondent, bool) {
	id := chi.URLParam(r, "id")
	item, ok := a.Directory.Get(id)
	if !ok {
		respondWithError(w, r, apperrors.NewNotFoundError("respondent not found"))
		return respondent.Respondent{}, false
	}
	return item, true
}

// surveyError maps survey failures onto API error codes. Quota exhaustion
// is 429; upstream provider failures are 502.
func surveyError(ctx context.Context, err error) error {
	var provider *driver.ProviderError
	switch {
	case errors.Is(err, survey.ErrEmptyQuestion):
		return apperrors.WrapInvalidInput(ctx, err, "a question is required")
	case errors.Is(err, survey.ErrNoRespondents):
		return apperrors.WrapInvalidInput(ctx, err, "no respondents match the filter")
	case errors.Is(err, survey.ErrUnknownRespondent):
		return apperrors.WrapNotFound(ctx, err, "respondent not found")
	case errors.Is(err, llm.ErrNoProfile):
		return apperrors.WrapInvalidInput(ctx, err, "respondent has no life log to narrate")
	case quota.IsExhausted(err):
		return apperrors.WrapRateLimited(ctx, err, "The generation service quota is exhausted. Please wait and try again.")
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.WrapTimeout(ctx, err, "the generation service timed out")
	case errors.As(err, &provider):
		return apperrors.WrapExternalService(ctx, err, "the generation service returned an error")
	default:
		return apperrors.WrapInternal(ctx, err, "failed to generate an answer")
	}
}
