package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/zulandar/empatia/internal/logging"
	"github.com/zulandar/empatia/internal/models"
	"github.com/zulandar/empatia/internal/pipeline"
)

// Ledger records finished dates and runs. It implements pipeline.Observer;
// write errors are logged and never fail the pipeline.
type Ledger struct {
	db  *gorm.DB
	log zerolog.Logger
}

var _ pipeline.Observer = (*Ledger)(nil)

// NewLedger returns a Ledger writing to db.
func NewLedger(db *gorm.DB, log zerolog.Logger) *Ledger {
	return &Ledger{db: db, log: logging.Component(log, "ledger")}
}

func (l *Ledger) DateFinished(ctx context.Context, runID, pipelineID string, res pipeline.DateResult) {
	if err := RecordDate(l.db.WithContext(ctx), runID, pipelineID, res); err != nil {
		l.log.Warn().Err(err).Str(logging.FieldDate, res.Date.String()).Msg("date not recorded")
	}
}

func (l *Ledger) RunFinished(ctx context.Context, report *pipeline.RunReport) {
	if err := RecordRun(l.db.WithContext(ctx), report); err != nil {
		l.log.Warn().Err(err).Str(logging.FieldRunID, report.RunID).Msg("run not recorded")
	}
}

// RecordDate upserts the DateRun of (pipelineID, date). A date processed
// again overwrites the previous attempt and bumps Attempts.
func RecordDate(db *gorm.DB, runID, pipelineID string, res pipeline.DateResult) error {
	products, err := marshalJSON(res.Products)
	if err != nil {
		return fmt.Errorf("db: marshal products for %s: %w", res.Date, err)
	}
	row := models.DateRun{
		PipelineID: pipelineID,
		Date:       res.Date.String(),
		RunID:      runID,
		Outcome:    string(res.Outcome),
		Orbits:     res.Orbits,
		Rejected:   res.Rejected,
		Produced:   res.Produced,
		Failures:   res.Failures,
		Products:   products,
		Attempts:   1,
		StartedAt:  res.Started,
		DurationMs: res.Duration.Milliseconds(),
	}
	if res.Err != nil {
		row.Error = res.Err.Error()
	}

	updates := clause.AssignmentColumns([]string{
		"run_id", "outcome", "orbits", "rejected", "produced", "failures",
		"products", "error", "started_at", "duration_ms", "updated_at",
	})
	updates = append(updates, clause.Assignment{Column: clause.Column{Name: "attempts"}, Value: gorm.Expr("attempts + 1")})

	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "pipeline_id"}, {Name: "date"}},
		DoUpdates: updates,
	}).Create(&row)
	if result.Error != nil {
		return fmt.Errorf("db: record %s %s: %w", pipelineID, res.Date, result.Error)
	}
	return nil
}

// RecordRun inserts the PipelineRun row of a finished run.
func RecordRun(db *gorm.DB, r *pipeline.RunReport) error {
	pending := make([]string, 0, len(r.Checkpoint.UncompletedDates))
	for _, d := range r.Checkpoint.UncompletedDates {
		pending = append(pending, d.String())
	}
	uncompleted, err := marshalJSON(pending)
	if err != nil {
		return fmt.Errorf("db: marshal uncompleted dates: %w", err)
	}
	run := models.PipelineRun{
		ID:              r.RunID,
		PipelineID:      r.PipelineID,
		StartedAt:       r.Started,
		FinishedAt:      r.Finished,
		Dates:           len(r.Dates),
		Succeeded:       r.Count(pipeline.Succeeded),
		Skipped:         r.Count(pipeline.Skipped),
		PartiallyFailed: r.Count(pipeline.PartiallyFailed),
		Failed:          r.Count(pipeline.Failed),
		Uncompleted:     uncompleted,
		CheckpointSaved: r.Saved,
	}
	if err := db.Create(&run).Error; err != nil {
		return fmt.Errorf("db: record run %s: %w", r.RunID, err)
	}
	return nil
}

// RecentRuns returns the latest runs, newest first. An empty pipelineID
// matches every pipeline.
func RecentRuns(db *gorm.DB, pipelineID string, limit int) ([]models.PipelineRun, error) {
	q := db.Order("started_at DESC").Limit(limit)
	if pipelineID != "" {
		q = q.Where("pipeline_id = ?", pipelineID)
	}
	var runs []models.PipelineRun
	if err := q.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("db: list runs: %w", err)
	}
	return runs, nil
}

// RunsSince returns the runs recorded at or after since, oldest first.
func RunsSince(db *gorm.DB, since time.Time) ([]models.PipelineRun, error) {
	var runs []models.PipelineRun
	err := db.Where("created_at >= ?", since).Order("created_at ASC").Order("id ASC").Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("db: list runs since %s: %w", since.Format(time.RFC3339), err)
	}
	return runs, nil
}

// DateRuns returns the recorded dates of a pipeline, newest first, optionally
// restricted to one outcome.
func DateRuns(db *gorm.DB, pipelineID, outcome string, limit int) ([]models.DateRun, error) {
	q := db.Where("pipeline_id = ?", pipelineID).Order("date DESC").Limit(limit)
	if outcome != "" {
		q = q.Where("outcome = ?", outcome)
	}
	var rows []models.DateRun
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("db: list dates of %s: %w", pipelineID, err)
	}
	return rows, nil
}

// marshalJSON marshals a value to a JSON string, returning empty string for nil.
func marshalJSON(v interface{}) (string, error) {
	if v == nil {
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
