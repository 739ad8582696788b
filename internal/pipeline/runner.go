// Package pipeline executes pipeline definitions against job documents:
// phase by phase, with per-task failure isolation, a fallback chain for
// compilation, and checkpointing after every phase.
package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tendant/simple-production/internal/document"
	"github.com/tendant/simple-production/internal/ledger"
	"github.com/tendant/simple-production/internal/task"
)

const defaultTaskTimeout = 5 * time.Minute

// RunnerConfig tunes a Runner.
type RunnerConfig struct {
	// MaxParallel bounds concurrent workers in a parallel phase. Zero or
	// less means unbounded.
	MaxParallel int
	// TaskTimeout applies when a phase sets no timeout of its own.
	TaskTimeout time.Duration
	Logger      *slog.Logger
}

// Runner executes one phase at a time.
type Runner struct {
	invoker     *task.Invoker
	escalator   *Escalator
	maxParallel int
	timeout     time.Duration
	logger      *slog.Logger
}

func NewRunner(invoker *task.Invoker, escalator *Escalator, cfg RunnerConfig) *Runner {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = defaultTaskTimeout
	}
	if escalator == nil {
		escalator = NewEscalator(invoker, cfg.Logger)
	}
	return &Runner{
		invoker:     invoker,
		escalator:   escalator,
		maxParallel: cfg.MaxParallel,
		timeout:     cfg.TaskTimeout,
		logger:      cfg.Logger,
	}
}

// PhaseOutcome is the result of one phase.
type PhaseOutcome struct {
	Document document.Document
	// Ledger holds this phase's task records and its phase entry.
	Ledger *ledger.Ledger
	// Failed lists failed tasks in declared order.
	Failed []task.ID
	// Tier is the winning compilation tier; set only for fallback phases.
	Tier Tier
	// Exhausted is set when every compilation tier failed.
	Exhausted bool
}

// MergeErrorEntry is one merge-level failure kept in metadata.mergeErrors.
type MergeErrorEntry struct {
	RunID string `json:"run_id"`
	Phase string `json:"phase"`
	Task  string `json:"task"`
	Error string `json:"error"`
}

type attempt struct {
	record     ledger.Record
	mutations  []document.Mutation
	mergeError *MergeErrorEntry
	tier       Tier
	exhausted  bool
}

// RunPhase runs every task of phase against doc and returns the document
// with the successful tasks' mutations applied in declared order. A task
// failure never aborts its siblings.
func (r *Runner) RunPhase(ctx context.Context, runID string, doc document.Document, phase Phase) PhaseOutcome {
	start := time.Now()
	sub := ledger.New()
	logger := r.logger.With("job_id", doc.ID, "run_id", runID, "phase", phase.Name)
	logger.Info("phase started", "tasks", len(phase.Tasks), "mode", phase.Mode)

	timeout := phase.Timeout
	if timeout <= 0 {
		timeout = r.timeout
	}

	var attempts []attempt
	next := doc
	if phase.Mode == ModeParallel && len(phase.Tasks) > 1 {
		attempts = r.runParallel(ctx, runID, doc, phase, timeout, sub)
		for _, a := range attempts {
			next = next.Apply(a.mutations...)
		}
	} else {
		attempts = make([]attempt, 0, len(phase.Tasks))
		for _, id := range phase.Tasks {
			a := r.attempt(ctx, runID, next, phase, id, timeout)
			sub.Record(a.record)
			next = next.Apply(a.mutations...)
			attempts = append(attempts, a)
		}
	}

	out := PhaseOutcome{}
	var mergeErrors []MergeErrorEntry
	for i, a := range attempts {
		if a.record.Failed() {
			out.Failed = append(out.Failed, phase.Tasks[i])
		}
		if a.mergeError != nil {
			mergeErrors = append(mergeErrors, *a.mergeError)
		}
		if phase.Fallback && phase.Tasks[i] == task.Compile {
			out.Tier = a.tier
			out.Exhausted = a.exhausted
		}
	}
	if len(mergeErrors) > 0 {
		next = appendMergeErrors(next, mergeErrors, logger)
	}

	entry := sub.RecordPhase(phase.Name, time.Since(start))
	out.Document = next
	out.Ledger = sub
	logger.Info("phase finished", "duration_ms", entry.Duration.Milliseconds(), "failures", entry.Failures)
	return out
}

// runParallel dispatches every task against the same snapshot. Records are
// written as tasks resolve; attempts come back in declared order.
func (r *Runner) runParallel(ctx context.Context, runID string, snapshot document.Document, phase Phase, timeout time.Duration, sub *ledger.Ledger) []attempt {
	attempts := make([]attempt, len(phase.Tasks))
	var g errgroup.Group
	if r.maxParallel > 0 {
		g.SetLimit(r.maxParallel)
	}
	for i, id := range phase.Tasks {
		g.Go(func() error {
			a := r.attempt(ctx, runID, snapshot, phase, id, timeout)
			sub.Record(a.record)
			attempts[i] = a
			return nil
		})
	}
	_ = g.Wait()
	return attempts
}

// attempt builds the payload, invokes the worker (or the fallback chain)
// and derives mutations from the result. Every failure is folded into the
// returned record.
func (r *Runner) attempt(ctx context.Context, runID string, doc document.Document, phase Phase, id task.ID, timeout time.Duration) attempt {
	rec := ledger.Record{TaskID: string(id), Phase: phase.Name}
	a := attempt{}

	payload, err := task.BuildPayload(id, doc)
	if err != nil {
		rec.Status = ledger.StatusFailed
		rec.FailureKind = string(task.KindPayloadError)
		rec.Error = err.Error()
		r.logger.Warn("payload not built", "job_id", doc.ID, "task", id, "err", err)
		if phase.Fallback && id == task.Compile {
			rec.Tier = string(TierNone)
			a.tier = TierNone
			a.exhausted = true
			a.mutations = r.exhaustedMutations(nil, err.Error())
		}
		a.record = rec
		return a
	}

	call := task.Call{JobID: doc.ID, RunID: runID, Payload: payload}
	var out task.Outcome
	if phase.Fallback && id == task.Compile {
		esc := r.escalator.Escalate(ctx, call, timeout)
		out = esc.Outcome
		a.tier = esc.Tier
		rec.Tier = string(esc.Tier)
		if !out.OK() {
			a.exhausted = true
			a.mutations = r.exhaustedMutations(esc.Attempts, out.Failure.Message)
		} else {
			a.mutations = append(a.mutations, r.tierMutations(esc.Tier, esc.Attempts)...)
		}
	} else {
		out = r.invoker.Invoke(ctx, id, call, timeout)
	}
	rec.Duration = out.Duration

	if !out.OK() {
		rec.Status = ledger.StatusFailed
		if out.Failure.Crashed {
			rec.Status = ledger.StatusCrashed
		}
		rec.FailureKind = string(out.Failure.Kind)
		rec.Error = out.Failure.Message
		a.record = rec
		return a
	}

	muts, err := task.Merge(id, out.Result, doc)
	if err != nil {
		rec.Status = ledger.StatusFailed
		rec.FailureKind = string(task.KindMergeRejected)
		rec.Error = err.Error()
		a.mergeError = &MergeErrorEntry{RunID: runID, Phase: phase.Name, Task: string(id), Error: err.Error()}
		if phase.Fallback && id == task.Compile {
			// The winning tier produced nothing usable.
			rec.Tier = string(TierNone)
			a.tier = TierNone
			a.exhausted = true
			a.mutations = r.exhaustedMutations(nil, err.Error())
		}
		a.record = rec
		return a
	}

	rec.Status = ledger.StatusSuccess
	rec.Result = out.Result
	a.record = rec
	muts = append(muts, a.mutations...)
	a.mutations = append(muts, document.SetMetadata(document.TaskMetaKey(string(id)), out.Result))
	return a
}

func (r *Runner) tierMutations(tier Tier, attempts []Attempt) []document.Mutation {
	var muts []document.Mutation
	if m, err := document.SetMetadataJSON(document.MetaFallbackTier, tier); err == nil {
		muts = append(muts, m)
	}
	if attempts == nil {
		attempts = []Attempt{}
	}
	if m, err := document.SetMetadataJSON(document.MetaFallbackAttempts, attempts); err == nil {
		muts = append(muts, m)
	}
	return muts
}

// exhaustedMutations records the failure and drops any artifact left by an
// earlier run.
func (r *Runner) exhaustedMutations(attempts []Attempt, message string) []document.Mutation {
	return append(r.tierMutations(TierNone, attempts),
		task.CompilationError(message),
		document.ClearContent(document.SlotCompiledOutput),
	)
}

func appendMergeErrors(doc document.Document, entries []MergeErrorEntry, logger *slog.Logger) document.Document {
	var existing []MergeErrorEntry
	if raw, ok := doc.Meta(document.MetaMergeErrors); ok {
		if err := json.Unmarshal(raw, &existing); err != nil {
			logger.Warn("discarding unreadable merge errors", "err", err)
			existing = nil
		}
	}
	m, err := document.SetMetadataJSON(document.MetaMergeErrors, append(existing, entries...))
	if err != nil {
		logger.Error("record merge errors", "err", err)
		return doc
	}
	return doc.Apply(m)
}
