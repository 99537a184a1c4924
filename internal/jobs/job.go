// Package jobs runs analyses as cancellable, progress-reporting background
// jobs, with at most one active job per project.
package jobs

import (
	"time"

	"github.com/Lezhik/SpringTwin/internal/apperr"
	"github.com/Lezhik/SpringTwin/internal/extractor"
	"github.com/Lezhik/SpringTwin/internal/graph"
)

// State is the lifecycle state of a job.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Stats summarizes what a run did.
type Stats struct {
	UnitsDiscovered int                 `json:"units_discovered"`
	UnitsExtracted  int                 `json:"units_extracted"`
	UnitsSkipped    int                 `json:"units_skipped"`
	Warnings        []extractor.Warning `json:"warnings,omitempty"`
	Version         int64               `json:"version,omitempty"`
	Changed         bool                `json:"changed"`
	Diff            *graph.DiffSummary  `json:"diff,omitempty"`
}

// Job is one analysis run. Values returned by the Coordinator are copies.
type Job struct {
	ID         string         `json:"id"`
	ProjectID  string         `json:"project_id"`
	Root       string         `json:"root"`
	State      State          `json:"state"`
	Progress   int            `json:"progress"`
	CreatedAt  time.Time      `json:"created_at"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Error      *apperr.Detail `json:"error,omitempty"`
	Stats      Stats          `json:"stats"`
}

func (j *Job) clone() *Job {
	cp := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		cp.FinishedAt = &t
	}
	if j.Error != nil {
		d := *j.Error
		cp.Error = &d
	}
	if j.Stats.Diff != nil {
		d := *j.Stats.Diff
		cp.Stats.Diff = &d
	}
	cp.Stats.Warnings = append([]extractor.Warning(nil), j.Stats.Warnings...)
	return &cp
}

// Duration is the running time of a finished job, or zero.
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil || j.FinishedAt == nil {
		return 0
	}
	return j.FinishedAt.Sub(*j.StartedAt)
}
