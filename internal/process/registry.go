package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/simple-production/internal/pipeline"
)

var (
	ErrUnknownRun = errors.New("unknown run")
	ErrJobBusy    = errors.New("job already has an active run")
)

const (
	DefaultRetention   = time.Hour
	DefaultMaxFinished = 1000
)

// Executor runs one pipeline under a caller-chosen run ID.
// *pipeline.Orchestrator satisfies it.
type Executor interface {
	RunWithID(ctx context.Context, runID, jobID string, def pipeline.Definition) (pipeline.Result, error)
}

type entry struct {
	run    *Run
	done   chan struct{}
	cancel context.CancelFunc
}

// Registry launches runs asynchronously and answers status queries.
type Registry struct {
	exec   Executor
	logger *slog.Logger

	base       context.Context
	cancelBase context.CancelFunc

	retention   time.Duration
	maxFinished int
	now         func() time.Time

	mu     sync.Mutex
	runs   map[string]*entry
	active map[string]string // job id -> run id
	wg     sync.WaitGroup
}

type Option func(*Registry)

// WithRetention sets how long finished runs stay queryable.
func WithRetention(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.retention = d
		}
	}
}

// WithMaxFinished caps the number of finished runs kept; the oldest go first.
func WithMaxFinished(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.maxFinished = n
		}
	}
}

func withClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func NewRegistry(exec Executor, logger *slog.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	base, cancel := context.WithCancel(context.Background())
	r := &Registry{
		exec:        exec,
		logger:      logger,
		base:        base,
		cancelBase:  cancel,
		retention:   DefaultRetention,
		maxFinished: DefaultMaxFinished,
		now:         time.Now,
		runs:        make(map[string]*entry),
		active:      make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// StartRun validates def and launches the run in the background. The run
// outlives ctx; use Cancel or Shutdown to stop it. A job has at most one
// active run; a second request returns ErrJobBusy until the first finishes.
func (r *Registry) StartRun(ctx context.Context, jobID string, def pipeline.Definition) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if jobID == "" {
		return "", errors.New("job id is required")
	}
	if err := def.Validate(); err != nil {
		return "", fmt.Errorf("invalid pipeline: %w", err)
	}
	if r.base.Err() != nil {
		return "", errors.New("registry is shut down")
	}

	runID := uuid.NewString()
	runCtx, cancel := context.WithCancel(r.base)
	e := &entry{run: NewRun(runID, jobID, def.Name), done: make(chan struct{}), cancel: cancel}

	r.mu.Lock()
	if current, busy := r.active[jobID]; busy {
		r.mu.Unlock()
		cancel()
		return "", fmt.Errorf("%w: job %s run %s", ErrJobBusy, jobID, current)
	}
	r.evictLocked()
	r.runs[runID] = e
	r.active[jobID] = runID
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		defer close(e.done)

		r.mu.Lock()
		MarkRunning(e.run)
		r.mu.Unlock()

		res, err := r.exec.RunWithID(runCtx, runID, jobID, def)

		r.mu.Lock()
		MarkFinished(e.run, res, err)
		e.run.FinishedAt = r.now()
		status := e.run.Status
		delete(r.active, jobID)
		r.mu.Unlock()

		logger := r.logger.With("run_id", runID, "job_id", jobID)
		if err != nil {
			logger.Error("run aborted", "err", err)
			return
		}
		logger.Info("run finished", "status", status, "cause", res.Cause)
	}()
	return runID, nil
}

// GetRunStatus returns a snapshot of the run.
func (r *Registry) GetRunStatus(runID string) (RunView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.runs[runID]
	if !ok {
		return RunView{}, fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}
	return e.run.view(), nil
}

// Wait blocks until the run finishes or ctx is done.
func (r *Registry) Wait(ctx context.Context, runID string) (RunView, error) {
	r.mu.Lock()
	e, ok := r.runs[runID]
	r.mu.Unlock()
	if !ok {
		return RunView{}, fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}
	select {
	case <-e.done:
		return r.GetRunStatus(runID)
	case <-ctx.Done():
		return RunView{}, ctx.Err()
	}
}

// Cancel stops a running run. The orchestrator records it as failed.
func (r *Registry) Cancel(runID string) error {
	r.mu.Lock()
	e, ok := r.runs[runID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}
	e.cancel()
	return nil
}

// Active counts runs that have not finished.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.runs {
		if !e.run.Status.Done() {
			n++
		}
	}
	return n
}

// evictLocked drops finished runs past the retention period, then the oldest
// finished runs beyond maxFinished. Callers hold r.mu.
func (r *Registry) evictLocked() {
	cutoff := r.now().Add(-r.retention)
	var finished []*entry
	for id, e := range r.runs {
		if !e.run.Status.Done() {
			continue
		}
		if e.run.FinishedAt.Before(cutoff) {
			delete(r.runs, id)
			continue
		}
		finished = append(finished, e)
	}
	if len(finished) <= r.maxFinished {
		return
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].run.FinishedAt.Before(finished[j].run.FinishedAt)
	})
	for _, e := range finished[:len(finished)-r.maxFinished] {
		delete(r.runs, e.run.ID)
	}
}

// Shutdown cancels every run and waits for them to record their outcome.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.cancelBase()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
