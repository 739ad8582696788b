package workers

import (
	"context"
	"fmt"

	"github.com/tendant/simple-production/pkg/schema"
)

// Requester sends a JSON request and decodes the reply. *bus.Client
// satisfies it.
type Requester interface {
	RequestJSON(ctx context.Context, subject string, req, resp any) error
}

// Remote forwards tasks to a worker process over NATS request/reply on
// <prefix>.<task_id>.
type Remote struct {
	bus    Requester
	prefix string
}

func NewRemote(bus Requester, prefix string) *Remote {
	return &Remote{bus: bus, prefix: prefix}
}

func (r *Remote) Name() string { return "nats:" + r.prefix }

// Subject returns the request subject for a task.
func (r *Remote) Subject(taskID string) string {
	return fmt.Sprintf("%s.%s", r.prefix, taskID)
}

func (r *Remote) Do(ctx context.Context, req schema.TaskRequest) (schema.TaskResponse, error) {
	var resp schema.TaskResponse
	if err := r.bus.RequestJSON(ctx, r.Subject(req.TaskID), req, &resp); err != nil {
		return schema.TaskResponse{}, err
	}
	return resp, nil
}
