package archive

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
)

const (
	tableBatches  = "batches"
	tableOutcomes = "outcomes"
)

// BatchRecord is an archived bulk run.
type BatchRecord struct {
	ID        string `db:"id" json:"id"`
	Question  string `db:"question" json:"question"`
	Total     int    `db:"total" json:"total"`
	Requested int    `db:"requested" json:"requested"`
	Effective int    `db:"effective" json:"effective"`
	Completed int    `db:"completed" json:"completed"`
	StartedAt int64  `db:"started_at" json:"started_at"`
}

// Started returns the batch start time.
func (b BatchRecord) Started() time.Time {
	return time.UnixMilli(b.StartedAt).UTC()
}

// OutcomeRecord is one archived outcome.
type OutcomeRecord struct {
	BatchID        string `db:"batch_id" json:"batch_id"`
	CompletedIndex int    `db:"completed_index" json:"completed"`
	RespondentID   string `db:"respondent_id" json:"persona_id"`
	DisplayName    string `db:"display_name" json:"persona_name"`
	Prefecture     string `db:"prefecture" json:"prefecture"`
	Answer         string `db:"answer" json:"answer"`
	Failure        string `db:"failure" json:"failure,omitempty"`
	Diagnostic     string `db:"diagnostic" json:"diagnostic,omitempty"`
	DurationMS     int64  `db:"duration_ms" json:"duration_ms"`
	RecordedAt     int64  `db:"recorded_at" json:"recorded_at"`
}

// SaveBatch stores a new batch.
func (a *Archive) SaveBatch(ctx context.Context, rec BatchRecord) error {
	if err := a.ready(); err != nil {
		return err
	}
	if strings.TrimSpace(rec.ID) == "" {
		return errors.New("batch id is required")
	}
	_, err := a.qb.Insert(tableBatches).Rows(rec).Prepared(true).Executor().ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("store batch: %w", err)
	}
	return nil
}

// SaveOutcome stores one outcome and advances the batch's completed count.
func (a *Archive) SaveOutcome(ctx context.Context, rec OutcomeRecord) error {
	if err := a.ready(); err != nil {
		return err
	}
	if strings.TrimSpace(rec.BatchID) == "" {
		return errors.New("batch id is required")
	}

	tx, err := a.qb.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin outcome tx: %w", err)
	}
	return tx.Wrap(func() error {
		if _, err := tx.Insert(tableOutcomes).Rows(rec).Prepared(true).Executor().ExecContext(ctx); err != nil {
			return fmt.Errorf("store outcome: %w", err)
		}
		_, err := tx.Update(tableBatches).
			Set(goqu.Record{"completed": rec.CompletedIndex}).
			Where(goqu.C("id").Eq(rec.BatchID), goqu.C("completed").Lt(rec.CompletedIndex)).
			Prepared(true).Executor().ExecContext(ctx)
		if err != nil {
			return fmt.Errorf("advance batch: %w", err)
		}
		return nil
	})
}

// Batch returns one batch by id.
func (a *Archive) Batch(ctx context.Context, id string) (*BatchRecord, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	var rec BatchRecord
	found, err := a.qb.From(tableBatches).
		Where(goqu.C("id").Eq(strings.TrimSpace(id))).
		Prepared(true).ScanStructContext(ctx, &rec)
	if err != nil {
		return nil, fmt.Errorf("fetch batch: %w", err)
	}
	if !found {
		return nil, ErrNotFound
	}
	return &rec, nil
}

// Outcomes returns a batch's outcomes in completion order.
func (a *Archive) Outcomes(ctx context.Context, batchID string) ([]OutcomeRecord, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	var recs []OutcomeRecord
	err := a.qb.From(tableOutcomes).
		Where(goqu.C("batch_id").Eq(strings.TrimSpace(batchID))).
		Order(goqu.I("completed_index").Asc()).
		Prepared(true).ScanStructsContext(ctx, &recs)
	if err != nil {
		return nil, fmt.Errorf("fetch outcomes: %w", err)
	}
	return recs, nil
}

// RecentBatches lists the newest batches first.
func (a *Archive) RecentBatches(ctx context.Context, limit int) ([]BatchRecord, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 20
	}
	var recs []BatchRecord
	err := a.qb.From(tableBatches).
		Order(goqu.I("started_at").Desc()).
		Limit(uint(limit)).
		Prepared(true).ScanStructsContext(ctx, &recs)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	return recs, nil
}
