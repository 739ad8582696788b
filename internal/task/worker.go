package task

import (
	"context"

	"github.com/tendant/simple-production/pkg/schema"
)

// Worker performs one task. Implementations are stateless per call and
// must not assume any ordering relative to other workers in a phase.
type Worker interface {
	Do(ctx context.Context, req schema.TaskRequest) (schema.TaskResponse, error)

	// Name returns the worker name for logging
	Name() string
}

// WorkerFunc adapts a function to the Worker interface.
type WorkerFunc struct {
	WorkerName string
	Fn         func(ctx context.Context, req schema.TaskRequest) (schema.TaskResponse, error)
}

func (w WorkerFunc) Do(ctx context.Context, req schema.TaskRequest) (schema.TaskResponse, error) {
	return w.Fn(ctx, req)
}

func (w WorkerFunc) Name() string {
	if w.WorkerName == "" {
		return "func"
	}
	return w.WorkerName
}

// Registry maps each task to the worker that performs it.
type Registry map[ID]Worker
