// Package models holds the GORM models of the run ledger.
package models

import "time"

// PipelineRun is one invocation of a pipeline.
type PipelineRun struct {
	ID              string    `gorm:"primaryKey;size:36"`
	PipelineID      string    `gorm:"size:32;not null;index"`
	StartedAt       time.Time `gorm:"index"`
	FinishedAt      time.Time
	Dates           int
	Succeeded       int
	Skipped         int
	PartiallyFailed int
	Failed          int
	Uncompleted     string `gorm:"type:text"` // JSON list of YYYY-MM-DD
	CheckpointSaved bool
	CreatedAt       time.Time
}

// DateRun is the latest attempt at one date of one pipeline. Attempts counts
// how many runs have processed the date.
type DateRun struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	PipelineID string `gorm:"size:32;not null;uniqueIndex:idx_pipeline_date"`
	Date       string `gorm:"size:10;not null;uniqueIndex:idx_pipeline_date"`
	RunID      string `gorm:"size:36;index"`
	Outcome    string `gorm:"size:16;index"`
	Orbits     int
	Rejected   int
	Produced   int
	Failures   int
	Products   string `gorm:"type:text"` // JSON list of paths
	Error      string `gorm:"type:text"`
	Attempts   int    `gorm:"default:1"`
	StartedAt  time.Time
	DurationMs int64
	UpdatedAt  time.Time
}
