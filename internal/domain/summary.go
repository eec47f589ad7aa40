package domain

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the terminal state of one entity-type load run.
type RunStatus string

const (
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// RunSummary carries the per-entity counters for one pipeline pass. It is
// logged, persisted to the load_run table, and drives the error-threshold
// decision.
//
// Ok counts rows that passed de-identification. A row can still be rejected
// at the transform stage afterwards, so a run may have Ok and Rejected both
// counting the same row; Mapped is the count that actually reached the bulk
// file.
type RunSummary struct {
	ID         uuid.UUID
	Entity     EntityType
	SourceFile string
	Read       int
	Ok         int
	Rejected   int
	Mapped     int
	Loaded     int
	Status     RunStatus
	FatalError string
	StartedAt  time.Time
	FinishedAt time.Time
}

// NewRunSummary starts a summary for one entity-type run.
func NewRunSummary(entity EntityType, sourceFile string) *RunSummary {
	return &RunSummary{
		ID:         uuid.New(),
		Entity:     entity,
		SourceFile: sourceFile,
		StartedAt:  time.Now().UTC(),
	}
}

// Finish stamps the terminal status. A non-nil err marks the run failed and
// records the error text for operators.
func (s *RunSummary) Finish(err error) {
	s.FinishedAt = time.Now().UTC()
	if err != nil {
		s.Status = RunStatusFailed
		s.FatalError = err.Error()
		return
	}
	s.Status = RunStatusCompleted
}
