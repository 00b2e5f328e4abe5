package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LoadMode is the strategy selected for a table.
type LoadMode string

const (
	LoadModeFull        LoadMode = "full"
	LoadModeIncremental LoadMode = "incremental"
)

// SyncOutcome is the terminal state of one table in a run.
type SyncOutcome string

const (
	// SyncOutcomeLoaded means rows were transferred (and merged, for incremental tables).
	SyncOutcomeLoaded SyncOutcome = "loaded"
	// SyncOutcomeUpToDate means the incremental check found nothing newer than the watermark.
	SyncOutcomeUpToDate SyncOutcome = "up_to_date"
	SyncOutcomeFailed   SyncOutcome = "failed"
	// SyncOutcomeCanceled means the run was canceled before the table was attempted.
	SyncOutcomeCanceled SyncOutcome = "canceled"
)

// TableResult reports what happened to one table.
type TableResult struct {
	Table             string        `json:"table"`
	Mode              LoadMode      `json:"mode"`
	Outcome           SyncOutcome   `json:"outcome"`
	RowsCopied        int64         `json:"rows_copied"`
	PreviousWatermark *time.Time    `json:"previous_watermark,omitempty"`
	NewWatermark      *time.Time    `json:"new_watermark,omitempty"`
	Warnings          []string      `json:"warnings,omitempty"`
	Err               error         `json:"-"`
	Duration          time.Duration `json:"duration"`
}

// Succeeded reports whether the table finished without error.
func (r *TableResult) Succeeded() bool {
	return r.Outcome == SyncOutcomeLoaded || r.Outcome == SyncOutcomeUpToDate
}

// RunSummary aggregates the per-table results of one run.
type RunSummary struct {
	RunID      uuid.UUID      `json:"run_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Results    []*TableResult `json:"results"`
}

// Failed returns the number of tables that did not succeed, canceled ones included.
func (s *RunSummary) Failed() int {
	n := 0
	for _, r := range s.Results {
		if !r.Succeeded() {
			n++
		}
	}
	return n
}

// Err joins the per-table errors, or returns nil if every table succeeded.
func (s *RunSummary) Err() error {
	var errs []error
	for _, r := range s.Results {
		if r.Succeeded() {
			continue
		}
		if r.Err != nil {
			errs = append(errs, r.Err)
		} else {
			errs = append(errs, fmt.Errorf("table %s: %s", r.Table, r.Outcome))
		}
	}
	return errors.Join(errs...)
}

// RowsCopied sums rows transferred across all tables.
func (s *RunSummary) RowsCopied() int64 {
	var total int64
	for _, r := range s.Results {
		total += r.RowsCopied
	}
	return total
}
