package process

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/tendant/simple-production/internal/document"
	"github.com/tendant/simple-production/internal/pipeline"
)

type fakeExecutor struct {
	result pipeline.Result
	err    error
	block  bool
}

func (f *fakeExecutor) RunWithID(ctx context.Context, runID, jobID string, def pipeline.Definition) (pipeline.Result, error) {
	if f.block {
		<-ctx.Done()
		return pipeline.Result{RunID: runID, JobID: jobID, Status: document.StatusFailed, Cause: pipeline.CauseCanceled}, nil
	}
	res := f.result
	res.RunID, res.JobID = runID, jobID
	return res, f.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestStartRunCompletes(t *testing.T) {
	exec := &fakeExecutor{result: pipeline.Result{Status: document.StatusCompleted, FallbackTier: pipeline.TierPrimary}}
	reg := NewRegistry(exec, quietLogger())

	runID, err := reg.StartRun(context.Background(), "job-1", pipeline.DefaultDefinition())
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	view, err := reg.Wait(waitCtx(t), runID)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if view.Status != RunStatusCompleted || view.JobID != "job-1" || view.FallbackTier != pipeline.TierPrimary {
		t.Fatalf("unexpected view %+v", view)
	}
	if ExitCode(view.Status) != 0 {
		t.Fatalf("exit code = %d", ExitCode(view.Status))
	}
	if view.FinishedAt.Before(view.StartedAt) {
		t.Fatal("finished before started")
	}
}

func TestStartRunFailures(t *testing.T) {
	tests := []struct {
		name  string
		exec  *fakeExecutor
		cause pipeline.Cause
	}{
		{"critical", &fakeExecutor{result: pipeline.Result{Status: document.StatusFailed, Cause: pipeline.CauseCriticalPhaseFailure}}, pipeline.CauseCriticalPhaseFailure},
		{"infrastructure", &fakeExecutor{err: errors.New("checkpoint job-1: connection reset")}, pipeline.CauseNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry(tt.exec, quietLogger())
			runID, err := reg.StartRun(context.Background(), "job-1", pipeline.DefaultDefinition())
			if err != nil {
				t.Fatalf("StartRun: %v", err)
			}
			view, err := reg.Wait(waitCtx(t), runID)
			if err != nil {
				t.Fatalf("Wait: %v", err)
			}
			if view.Status != RunStatusFailed || view.Cause != tt.cause || view.Error == "" {
				t.Fatalf("unexpected view %+v", view)
			}
			if ExitCode(view.Status) != 1 {
				t.Fatalf("exit code = %d", ExitCode(view.Status))
			}
		})
	}
}

func TestStartRunRejectsInvalidInput(t *testing.T) {
	reg := NewRegistry(&fakeExecutor{}, quietLogger())
	if _, err := reg.StartRun(context.Background(), "", pipeline.DefaultDefinition()); err == nil {
		t.Fatal("expected error for empty job id")
	}
	if _, err := reg.StartRun(context.Background(), "job-1", pipeline.Definition{Name: "empty"}); err == nil {
		t.Fatal("expected error for invalid definition")
	}
}

func TestUnknownRun(t *testing.T) {
	reg := NewRegistry(&fakeExecutor{}, quietLogger())
	if _, err := reg.GetRunStatus("nope"); !errors.Is(err, ErrUnknownRun) {
		t.Fatalf("GetRunStatus err = %v", err)
	}
	if _, err := reg.Wait(context.Background(), "nope"); !errors.Is(err, ErrUnknownRun) {
		t.Fatalf("Wait err = %v", err)
	}
	if err := reg.Cancel("nope"); !errors.Is(err, ErrUnknownRun) {
		t.Fatalf("Cancel err = %v", err)
	}
}

func TestCancelAndShutdown(t *testing.T) {
	reg := NewRegistry(&fakeExecutor{block: true}, quietLogger())
	first, err := reg.StartRun(context.Background(), "job-1", pipeline.DefaultDefinition())
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	second, err := reg.StartRun(context.Background(), "job-2", pipeline.DefaultDefinition())
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	if err := reg.Cancel(first); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	view, err := reg.Wait(waitCtx(t), first)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if view.Status != RunStatusFailed || view.Cause != pipeline.CauseCanceled {
		t.Fatalf("unexpected view %+v", view)
	}

	if err := reg.Shutdown(waitCtx(t)); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if view, _ := reg.GetRunStatus(second); view.Status != RunStatusFailed {
		t.Fatalf("second run status = %s", view.Status)
	}
	if reg.Active() != 0 {
		t.Fatalf("active runs = %d", reg.Active())
	}
	if _, err := reg.StartRun(context.Background(), "job-3", pipeline.DefaultDefinition()); err == nil {
		t.Fatal("expected error after shutdown")
	}
}

func TestMarkFinishedPrefersInfrastructureError(t *testing.T) {
	run := NewRun("r", "j", "episode")
	MarkRunning(run)
	MarkFinished(run, pipeline.Result{Status: document.StatusCompleted}, errors.New("save failed"))
	if run.Status != RunStatusFailed || run.Error != "save failed" {
		t.Fatalf("unexpected run %+v", run)
	}
}

func TestStartRunRejectsBusyJob(t *testing.T) {
	reg := NewRegistry(&fakeExecutor{block: true}, quietLogger())
	first, err := reg.StartRun(context.Background(), "job-1", pipeline.DefaultDefinition())
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if _, err := reg.StartRun(context.Background(), "job-1", pipeline.DefaultDefinition()); !errors.Is(err, ErrJobBusy) {
		t.Fatalf("second StartRun err = %v, want ErrJobBusy", err)
	}
	if reg.Active() != 1 {
		t.Fatalf("active runs = %d", reg.Active())
	}
	other, err := reg.StartRun(context.Background(), "job-2", pipeline.DefaultDefinition())
	if err != nil {
		t.Fatalf("StartRun for another job: %v", err)
	}

	if err := reg.Cancel(first); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if _, err := reg.Wait(waitCtx(t), first); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	again, err := reg.StartRun(context.Background(), "job-1", pipeline.DefaultDefinition())
	if err != nil {
		t.Fatalf("StartRun after the first run finished: %v", err)
	}
	if again == first {
		t.Fatal("run id reused")
	}
	if err := reg.Cancel(other); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if err := reg.Shutdown(waitCtx(t)); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestFinishedRunsAreEvicted(t *testing.T) {
	tests := []struct {
		name    string
		opts    []Option
		advance time.Duration
	}{
		{"retention", []Option{WithRetention(time.Minute)}, 2 * time.Minute},
		{"size cap", []Option{WithMaxFinished(1)}, time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
			exec := &fakeExecutor{result: pipeline.Result{Status: document.StatusCompleted}}
			reg := NewRegistry(exec, quietLogger(), append(tt.opts, withClock(clock.Now))...)

			var ids []string
			for _, job := range []string{"job-1", "job-2", "job-3"} {
				runID, err := reg.StartRun(context.Background(), job, pipeline.DefaultDefinition())
				if err != nil {
					t.Fatalf("StartRun(%s): %v", job, err)
				}
				if _, err := reg.Wait(waitCtx(t), runID); err != nil {
					t.Fatalf("Wait: %v", err)
				}
				ids = append(ids, runID)
				clock.Advance(tt.advance)
			}

			if _, err := reg.GetRunStatus(ids[0]); !errors.Is(err, ErrUnknownRun) {
				t.Fatalf("oldest run still tracked: err = %v", err)
			}
			if view, err := reg.GetRunStatus(ids[2]); err != nil || view.Status != RunStatusCompleted {
				t.Fatalf("latest run = %+v, %v", view, err)
			}
		})
	}
}
