package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/simple-production/internal/document"
	"github.com/tendant/simple-production/internal/ledger"
	"github.com/tendant/simple-production/internal/task"
	"github.com/tendant/simple-production/pkg/schema"
)

// Publisher receives run events. *bus.Client satisfies it.
type Publisher interface {
	PublishJSON(subject string, v any) error
}

// Cause names why a run failed.
type Cause string

const (
	CauseNone                 Cause = ""
	CauseCriticalPhaseFailure Cause = "CriticalPhaseFailure"
	CauseAllTiersExhausted    Cause = "AllTiersExhausted"
	CauseCanceled             Cause = "Canceled"
)

func (c Cause) failureType() schema.FailureType {
	switch c {
	case CauseCriticalPhaseFailure:
		return schema.FailureTypeCriticalPhase
	case CauseAllTiersExhausted:
		return schema.FailureTypeAllTiersExhausted
	case CauseCanceled:
		return schema.FailureTypeCanceled
	}
	return ""
}

// Result is the outcome of one run.
type Result struct {
	RunID        string
	JobID        string
	Pipeline     string
	Status       document.Status
	Cause        Cause
	FallbackTier Tier
	Ledger       *ledger.Ledger
	Summary      ledger.Summary
}

// OrchestratorConfig wires an Orchestrator.
type OrchestratorConfig struct {
	Store  document.Store
	Runner *Runner
	// Events is optional; nil disables event publishing.
	Events Publisher
	// EventSubject receives RunDone; lifecycle events go to
	// EventSubject + ".lifecycle".
	EventSubject string
	Logger       *slog.Logger
}

// Orchestrator drives a job document through a pipeline definition,
// checkpointing the document after every phase.
type Orchestrator struct {
	store        document.Store
	runner       *Runner
	events       Publisher
	eventSubject string
	logger       *slog.Logger
}

func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, errors.New("orchestrator: store is required")
	}
	if cfg.Runner == nil {
		return nil, errors.New("orchestrator: runner is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Orchestrator{
		store:        cfg.Store,
		runner:       cfg.Runner,
		events:       cfg.Events,
		eventSubject: cfg.EventSubject,
		logger:       cfg.Logger,
	}, nil
}

// Run executes def against the job document under a fresh run ID.
func (o *Orchestrator) Run(ctx context.Context, jobID string, def Definition) (Result, error) {
	return o.RunWithID(ctx, uuid.NewString(), jobID, def)
}

// RunWithID executes def against the job document. Task failures, critical
// halts and exhausted fallbacks are reported through Result; the error is
// reserved for infrastructure problems such as a failed load or checkpoint.
func (o *Orchestrator) RunWithID(ctx context.Context, runID, jobID string, def Definition) (Result, error) {
	if err := def.Validate(); err != nil {
		return Result{}, fmt.Errorf("invalid pipeline: %w", err)
	}
	start := time.Now()
	logger := o.logger.With("job_id", jobID, "run_id", runID, "pipeline", def.Name)

	res := Result{RunID: runID, JobID: jobID, Pipeline: def.Name, Ledger: ledger.New()}

	doc, err := o.store.Load(ctx, jobID)
	if err != nil {
		return res, fmt.Errorf("load job %s: %w", jobID, err)
	}
	if doc.Status.IsTerminal() {
		logger.Info("re-running terminal job", "previous_status", doc.Status)
	}

	runIDMut, err := document.SetMetadataJSON(document.MetaRunID, runID)
	if err != nil {
		return res, err
	}
	doc = doc.WithStatus(document.StatusProcessing).Apply(runIDMut)
	if err := o.store.Save(ctx, doc); err != nil {
		return res, fmt.Errorf("save job %s: %w", jobID, err)
	}
	o.lifecycle(logger, schema.RunLifecycleEvent{RunID: runID, JobID: jobID, Pipeline: def.Name, Stage: schema.StageStarted})
	logger.Info("run started", "phases", len(def.Phases))

	for i, phase := range def.Phases {
		if ctx.Err() != nil {
			res.Cause = CauseCanceled
			return o.finish(ctx, logger, doc, res, def.Name, phase.Name, "", start)
		}

		o.lifecycle(logger, schema.RunLifecycleEvent{
			RunID: runID, JobID: jobID, Pipeline: def.Name,
			Stage: schema.StagePhaseStarted, Phase: phase.Name, PhaseIndex: i,
		})
		out := o.runner.RunPhase(ctx, runID, doc, phase)
		res.Ledger.Append(out.Ledger)
		doc = out.Document
		if phase.Fallback {
			res.FallbackTier = out.Tier
		}

		switch {
		case ctx.Err() != nil:
			res.Cause = CauseCanceled
			return o.finish(ctx, logger, doc, res, def.Name, phase.Name, "", start)
		case out.Exhausted:
			res.Cause = CauseAllTiersExhausted
			return o.finish(ctx, logger, doc, res, def.Name, phase.Name, string(task.Compile), start)
		case phase.Critical && len(out.Failed) > 0:
			res.Cause = CauseCriticalPhaseFailure
			return o.finish(ctx, logger, doc, res, def.Name, phase.Name, string(out.Failed[0]), start)
		}

		doc, err = o.checkpoint(ctx, doc, res.Ledger, res.Ledger.Summary())
		if err != nil {
			return o.abort(logger, doc, res, err)
		}
		o.lifecycle(logger, schema.RunLifecycleEvent{
			RunID: runID, JobID: jobID, Pipeline: def.Name,
			Stage: schema.StagePhaseCompleted, Phase: phase.Name, PhaseIndex: i, Failures: len(out.Failed),
		})
	}

	return o.finish(ctx, logger, doc, res, def.Name, "", "", start)
}

// finish persists the terminal document and publishes the done event.
// A run with no cause completes; any cause fails it.
func (o *Orchestrator) finish(ctx context.Context, logger *slog.Logger, doc document.Document, res Result, pipeline, failedPhase, failedTask string, start time.Time) (Result, error) {
	res.Summary = res.Ledger.Summary()
	res.Status = document.StatusCompleted
	if res.Cause != CauseNone {
		res.Status = document.StatusFailed
		res.Summary.MarkFailure(failedPhase, failedTask)
	}

	// The terminal write must land even when the run was canceled.
	saveCtx := context.WithoutCancel(ctx)
	doc, err := o.checkpoint(saveCtx, doc.WithStatus(res.Status), res.Ledger, res.Summary)
	if err != nil {
		return o.abort(logger, doc, res, err)
	}

	elapsed := time.Since(start)
	done := schema.RunDone{
		RunID:            res.RunID,
		JobID:            res.JobID,
		Pipeline:         pipeline,
		Status:           string(res.Status),
		FallbackTier:     string(res.FallbackTier),
		TotalTasks:       res.Summary.TaskCount,
		TotalFailed:      res.Summary.FailureCount,
		ProcessingTimeMs: elapsed.Milliseconds(),
		Phases:           res.Summary.PhaseSummaries(),
		HappenedAt:       time.Now().Unix(),
	}
	stage := schema.StageCompleted
	if res.Status == document.StatusFailed {
		stage = schema.StageFailed
		done.FailedPhase = res.Summary.FailedPhase
		done.FailedTask = res.Summary.FailedTask
		done.FailureType = res.Cause.failureType()
		done.Error = string(res.Cause)
		logger.Error("run failed", "cause", res.Cause, "failed_phase", failedPhase, "failed_task", failedTask, "duration_ms", elapsed.Milliseconds())
	} else {
		logger.Info("run completed", "tasks", res.Summary.TaskCount, "failures", res.Summary.FailureCount, "fallback_tier", res.FallbackTier, "duration_ms", elapsed.Milliseconds())
	}

	o.lifecycle(logger, schema.RunLifecycleEvent{
		RunID: res.RunID, JobID: res.JobID, Pipeline: pipeline, Stage: stage,
		Phase: failedPhase, Failures: res.Summary.FailureCount, ProcessingMs: elapsed.Milliseconds(),
		Error: done.Error, FailureType: done.FailureType,
	})
	o.publish(logger, o.eventSubject, done)
	return res, nil
}

// abort handles a failed checkpoint: the run cannot be trusted to have
// persisted, so it is reported as an error after a best-effort failed write.
func (o *Orchestrator) abort(logger *slog.Logger, doc document.Document, res Result, cause error) (Result, error) {
	logger.Error("checkpoint failed", "err", cause)
	res.Status = document.StatusFailed
	res.Summary = res.Ledger.Summary()
	saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.store.Save(saveCtx, doc.WithStatus(document.StatusFailed)); err != nil {
		logger.Error("mark job failed", "err", err)
	}
	return res, fmt.Errorf("checkpoint job %s: %w", res.JobID, cause)
}

func (o *Orchestrator) checkpoint(ctx context.Context, doc document.Document, l *ledger.Ledger, summary ledger.Summary) (document.Document, error) {
	records, err := document.SetMetadataJSON(document.MetaExecutionLedger, l.Records())
	if err != nil {
		return doc, err
	}
	sum, err := document.SetMetadataJSON(document.MetaLedgerSummary, summary)
	if err != nil {
		return doc, err
	}
	doc = doc.Apply(records, sum)
	if err := o.store.Save(ctx, doc); err != nil {
		return doc, err
	}
	return doc, nil
}

func (o *Orchestrator) lifecycle(logger *slog.Logger, evt schema.RunLifecycleEvent) {
	if o.eventSubject == "" {
		return
	}
	evt.HappenedAt = time.Now().Unix()
	o.publish(logger, o.eventSubject+".lifecycle", evt)
}

func (o *Orchestrator) publish(logger *slog.Logger, subject string, v any) {
	if o.events == nil || subject == "" {
		return
	}
	if err := o.events.PublishJSON(subject, v); err != nil {
		logger.Warn("publish event failed", "subject", subject, "err", err)
	}
}
