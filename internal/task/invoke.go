package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tendant/simple-production/pkg/schema"
)

// FailureKind classifies why a task contributed no mutation.
type FailureKind string

const (
	KindWorkerError       FailureKind = "WorkerError"
	KindTimeout           FailureKind = "Timeout"
	KindMalformedResult   FailureKind = "MalformedResult"
	KindPayloadError      FailureKind = "PayloadError"
	KindMergeRejected     FailureKind = "MergeRejected"
	KindAllTiersExhausted FailureKind = "AllTiersExhausted"
)

// FailureType maps the kind onto the failure type published in events.
func (k FailureKind) FailureType() schema.FailureType {
	switch k {
	case KindTimeout:
		return schema.FailureTypeTimeout
	case KindMalformedResult, KindMergeRejected, KindPayloadError:
		return schema.FailureTypeMalformedResult
	case KindAllTiersExhausted:
		return schema.FailureTypeAllTiersExhausted
	default:
		return schema.FailureTypeWorkerError
	}
}

// Failure is a task failure carried as a value. It never propagates as a
// panic or error past the invoker.
type Failure struct {
	Kind    FailureKind
	Message string
	// Crashed is set when the worker panicked rather than returning.
	Crashed bool
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// Outcome is the result of one invocation: either Result or Failure is set.
type Outcome struct {
	TaskID   ID
	Worker   string
	Result   json.RawMessage
	Failure  *Failure
	Duration time.Duration
}

func (o Outcome) OK() bool { return o.Failure == nil }

// Call carries the per-invocation request fields.
type Call struct {
	JobID   string
	RunID   string
	Payload json.RawMessage
}

// Invoker dispatches tasks to workers, enforces timeouts and turns every
// worker-side problem into a Failure.
type Invoker struct {
	workers Registry
	logger  *slog.Logger
}

func NewInvoker(workers Registry, logger *slog.Logger) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}
	reg := make(Registry, len(workers))
	for id, w := range workers {
		reg[id] = w
	}
	return &Invoker{workers: reg, logger: logger}
}

// Worker returns the registered worker for id.
func (inv *Invoker) Worker(id ID) (Worker, bool) {
	w, ok := inv.workers[id]
	return w, ok
}

// Invoke runs the task on its registered worker.
func (inv *Invoker) Invoke(ctx context.Context, id ID, call Call, timeout time.Duration) Outcome {
	w, ok := inv.workers[id]
	if !ok || w == nil {
		return Outcome{
			TaskID:  id,
			Failure: &Failure{Kind: KindWorkerError, Message: "no worker registered"},
		}
	}
	return inv.InvokeWorker(ctx, w, id, call, timeout)
}

type reply struct {
	resp     schema.TaskResponse
	err      error
	panicked any
}

// InvokeWorker runs the task on an explicit worker. A timeout of zero means
// no deadline beyond ctx. The worker runs on its own goroutine; at the
// deadline the invoker stops waiting whether or not the worker returns.
func (inv *Invoker) InvokeWorker(ctx context.Context, w Worker, id ID, call Call, timeout time.Duration) Outcome {
	start := time.Now()
	out := Outcome{TaskID: id, Worker: w.Name()}

	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	req := schema.TaskRequest{
		TaskID:  string(id),
		JobID:   call.JobID,
		RunID:   call.RunID,
		Payload: call.Payload,
	}

	ch := make(chan reply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- reply{panicked: r}
			}
		}()
		resp, err := w.Do(callCtx, req)
		ch <- reply{resp: resp, err: err}
	}()

	select {
	case <-callCtx.Done():
		out.Failure = contextFailure(callCtx.Err())
	case r := <-ch:
		out.Result, out.Failure = classify(id, r, callCtx.Err())
	}
	out.Duration = time.Since(start)

	logger := inv.logger.With("task", id, "worker", out.Worker, "duration_ms", out.Duration.Milliseconds())
	if out.Failure != nil {
		logger.Warn("task failed", "kind", out.Failure.Kind, "crashed", out.Failure.Crashed, "err", out.Failure.Message)
	} else {
		logger.Debug("task succeeded")
	}
	return out
}

func contextFailure(err error) *Failure {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Failure{Kind: KindTimeout, Message: "no response before deadline"}
	}
	return &Failure{Kind: KindWorkerError, Message: fmt.Sprintf("call abandoned: %v", err)}
}

func classify(id ID, r reply, ctxErr error) (json.RawMessage, *Failure) {
	if r.panicked != nil {
		return nil, &Failure{Kind: KindWorkerError, Message: fmt.Sprintf("worker panicked: %v", r.panicked), Crashed: true}
	}
	if r.err != nil {
		if errors.Is(r.err, context.DeadlineExceeded) || errors.Is(ctxErr, context.DeadlineExceeded) {
			return nil, &Failure{Kind: KindTimeout, Message: r.err.Error()}
		}
		return nil, &Failure{Kind: KindWorkerError, Message: r.err.Error()}
	}

	switch r.resp.Status {
	case schema.TaskStatusOK:
	case schema.TaskStatusError:
		msg := r.resp.Message
		if msg == "" {
			msg = "worker reported failure"
		}
		return nil, &Failure{Kind: KindWorkerError, Message: msg}
	default:
		return nil, &Failure{Kind: KindMalformedResult, Message: fmt.Sprintf("unknown response status %q", r.resp.Status)}
	}

	if err := Validate(id, r.resp.Result); err != nil {
		return nil, &Failure{Kind: KindMalformedResult, Message: err.Error()}
	}
	return r.resp.Result, nil
}
