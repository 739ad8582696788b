// internal/process/run.go
package process

import (
	"time"

	"github.com/tendant/simple-production/internal/document"
	"github.com/tendant/simple-production/internal/ledger"
	"github.com/tendant/simple-production/internal/pipeline"
)

// RunStatus represents the lifecycle state of a pipeline run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

func (s RunStatus) Done() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// ExitCode maps a run status to a process exit code: 0 for completed, 1
// for anything else.
func ExitCode(s RunStatus) int {
	if s == RunStatusCompleted {
		return 0
	}
	return 1
}

// Run captures what the registry tracks for one pipeline run.
type Run struct {
	ID         string
	JobID      string
	Pipeline   string
	Status     RunStatus
	Cause      pipeline.Cause
	Tier       pipeline.Tier
	Summary    ledger.Summary
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

func NewRun(id, jobID, pipelineName string) *Run {
	return &Run{
		ID:       id,
		JobID:    jobID,
		Pipeline: pipelineName,
		Status:   RunStatusPending,
	}
}

func MarkRunning(r *Run) {
	r.Status = RunStatusRunning
	r.StartedAt = time.Now()
}

// MarkFinished records the orchestrator's outcome. An infrastructure error
// fails the run even when no cause was reported.
func MarkFinished(r *Run, res pipeline.Result, err error) {
	r.FinishedAt = time.Now()
	r.Cause = res.Cause
	r.Tier = res.FallbackTier
	r.Summary = res.Summary
	switch {
	case err != nil:
		r.Status = RunStatusFailed
		r.Error = err.Error()
	case res.Status == document.StatusCompleted:
		r.Status = RunStatusCompleted
	default:
		r.Status = RunStatusFailed
		r.Error = string(res.Cause)
	}
}

// RunView is the read-only status returned to callers.
type RunView struct {
	RunID        string         `json:"run_id"`
	JobID        string         `json:"job_id"`
	Pipeline     string         `json:"pipeline"`
	Status       RunStatus      `json:"status"`
	Cause        pipeline.Cause `json:"cause,omitempty"`
	FallbackTier pipeline.Tier  `json:"fallback_tier,omitempty"`
	Summary      ledger.Summary `json:"summary"`
	Error        string         `json:"error,omitempty"`
	StartedAt    time.Time      `json:"started_at,omitempty"`
	FinishedAt   time.Time      `json:"finished_at,omitempty"`
}

func (r *Run) view() RunView {
	return RunView{
		RunID:        r.ID,
		JobID:        r.JobID,
		Pipeline:     r.Pipeline,
		Status:       r.Status,
		Cause:        r.Cause,
		FallbackTier: r.Tier,
		Summary:      r.Summary,
		Error:        r.Error,
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
	}
}
