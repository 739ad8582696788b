package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/tendant/simple-production/internal/task"
)

// Tier is one rank of the compilation fallback chain.
type Tier string

const (
	TierPrimary   Tier = "Primary"
	TierSecondary Tier = "Secondary"
	TierMinimal   Tier = "Minimal"
	// TierNone is recorded when every tier failed.
	TierNone Tier = "None"
)

// TierWorker binds a compile worker to its tier.
type TierWorker struct {
	Tier   Tier
	Worker task.Worker
}

// Attempt is one tier invocation, kept on the document for inspection.
type Attempt struct {
	Tier        Tier   `json:"tier"`
	Worker      string `json:"worker"`
	Succeeded   bool   `json:"succeeded"`
	FailureKind string `json:"failure_kind,omitempty"`
	Error       string `json:"error,omitempty"`
	DurationMs  int64  `json:"duration_ms"`
}

// Escalation is the outcome of the whole chain. Outcome carries the winning
// tier's result, or an AllTiersExhausted failure.
type Escalation struct {
	Tier     Tier
	Outcome  task.Outcome
	Attempts []Attempt
}

// Escalator tries compile tiers strictly in order, each only after the
// previous one has failed, and stops at the first success.
type Escalator struct {
	invoker *task.Invoker
	tiers   []TierWorker
	logger  *slog.Logger
}

func NewEscalator(invoker *task.Invoker, logger *slog.Logger, tiers ...TierWorker) *Escalator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Escalator{invoker: invoker, tiers: tiers, logger: logger}
}

// Tiers returns the configured chain. With no tiers configured the
// invoker's registered compile worker serves as the only Primary tier.
func (e *Escalator) Tiers() []TierWorker {
	if len(e.tiers) > 0 {
		return e.tiers
	}
	if w, ok := e.invoker.Worker(task.Compile); ok {
		return []TierWorker{{Tier: TierPrimary, Worker: w}}
	}
	return nil
}

func (e *Escalator) Escalate(ctx context.Context, call task.Call, timeout time.Duration) Escalation {
	start := time.Now()
	logger := e.logger.With("job_id", call.JobID, "run_id", call.RunID)

	var (
		attempts []Attempt
		reasons  []string
	)
	for _, tw := range e.Tiers() {
		if ctx.Err() != nil {
			break
		}
		out := e.invoker.InvokeWorker(ctx, tw.Worker, task.Compile, call, timeout)
		a := Attempt{
			Tier:       tw.Tier,
			Worker:     out.Worker,
			Succeeded:  out.OK(),
			DurationMs: out.Duration.Milliseconds(),
		}
		if out.OK() {
			attempts = append(attempts, a)
			logger.Info("compilation tier succeeded", "tier", tw.Tier, "worker", out.Worker)
			out.Duration = time.Since(start)
			return Escalation{Tier: tw.Tier, Outcome: out, Attempts: attempts}
		}
		a.FailureKind = string(out.Failure.Kind)
		a.Error = out.Failure.Message
		attempts = append(attempts, a)
		reasons = append(reasons, string(tw.Tier)+": "+out.Failure.Message)
		logger.Warn("compilation tier failed, escalating", "tier", tw.Tier, "kind", out.Failure.Kind, "err", out.Failure.Message)
	}

	msg := "no compilation tiers configured"
	if len(reasons) > 0 {
		msg = strings.Join(reasons, "; ")
	}
	logger.Error("all compilation tiers exhausted", "attempts", len(attempts))
	return Escalation{
		Tier: TierNone,
		Outcome: task.Outcome{
			TaskID:   task.Compile,
			Failure:  &task.Failure{Kind: task.KindAllTiersExhausted, Message: msg},
			Duration: time.Since(start),
		},
		Attempts: attempts,
	}
}
