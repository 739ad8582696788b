// pkg/schema/events.go
package schema

// StartRun asks an orchestrator to drive one job document through a pipeline.
type StartRun struct {
	JobID      string `json:"job_id"`
	Pipeline   string `json:"pipeline,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	HappenedAt int64  `json:"happened_at"`
}

type ProcessingStage string

const (
	StageStarted        ProcessingStage = "started"
	StagePhaseStarted   ProcessingStage = "phase_started"
	StagePhaseCompleted ProcessingStage = "phase_completed"
	StageCompleted      ProcessingStage = "completed"
	StageFailed         ProcessingStage = "failed"
)

type FailureType string

const (
	FailureTypeWorkerError       FailureType = "worker_error"
	FailureTypeTimeout           FailureType = "timeout"
	FailureTypeMalformedResult   FailureType = "malformed_result"
	FailureTypeCriticalPhase     FailureType = "critical_phase_failure"
	FailureTypeAllTiersExhausted FailureType = "all_tiers_exhausted"
	FailureTypeCanceled          FailureType = "canceled"
)

type PhaseSummary struct {
	Name       string `json:"name"`
	DurationMs int64  `json:"duration_ms"`
	Tasks      int    `json:"tasks"`
	Failures   int    `json:"failures"`
}

type RunLifecycleEvent struct {
	RunID        string          `json:"run_id"`
	JobID        string          `json:"job_id"`
	Pipeline     string          `json:"pipeline"`
	Stage        ProcessingStage `json:"stage"`
	Phase        string          `json:"phase,omitempty"`
	PhaseIndex   int             `json:"phase_index,omitempty"`
	Failures     int             `json:"failures,omitempty"`
	ProcessingMs int64           `json:"processing_ms,omitempty"`
	Error        string          `json:"error,omitempty"`
	FailureType  FailureType     `json:"failure_type,omitempty"`
	HappenedAt   int64           `json:"happened_at"`
}

type RunDone struct {
	RunID            string         `json:"run_id"`
	JobID            string         `json:"job_id"`
	Pipeline         string         `json:"pipeline"`
	Status           string         `json:"status"`
	FallbackTier     string         `json:"fallback_tier,omitempty"`
	TotalTasks       int            `json:"total_tasks"`
	TotalFailed      int            `json:"total_failed"`
	ProcessingTimeMs int64          `json:"processing_time_ms"`
	Phases           []PhaseSummary `json:"phases,omitempty"`
	FailedPhase      string         `json:"failed_phase,omitempty"`
	FailedTask       string         `json:"failed_task,omitempty"`
	Error            string         `json:"error,omitempty"`
	FailureType      FailureType    `json:"failure_type,omitempty"`
	HappenedAt       int64          `json:"happened_at"`
}
