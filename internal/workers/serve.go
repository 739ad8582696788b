package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/tendant/simple-production/internal/task"
	"github.com/tendant/simple-production/pkg/schema"
)

// Server is the serving side of the bus. *bus.Client satisfies it.
type Server interface {
	ServeJSON(subject, queue string, handler func(ctx context.Context, data []byte) any) (*nats.Subscription, error)
}

// Serve exposes local workers over NATS so remote orchestrators can reach
// them with Remote. It returns the subscriptions it created.
func Serve(srv Server, prefix, queue string, reg task.Registry, logger *slog.Logger) ([]*nats.Subscription, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var subs []*nats.Subscription
	for _, id := range task.All() {
		w, ok := reg[id]
		if !ok {
			continue
		}
		subject := fmt.Sprintf("%s.%s", prefix, id)
		sub, err := srv.ServeJSON(subject, queue, Handler(id, w, logger))
		if err != nil {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			return nil, fmt.Errorf("serve %s: %w", subject, err)
		}
		logger.Info("serving task worker", "task", id, "worker", w.Name(), "subject", subject)
		subs = append(subs, sub)
	}
	return subs, nil
}

// Handler adapts a worker to a request handler. Every failure becomes an
// error response; the caller never sees a transport-level timeout for a
// worker that returned.
func Handler(id task.ID, w task.Worker, logger *slog.Logger) func(ctx context.Context, data []byte) any {
	return func(ctx context.Context, data []byte) (reply any) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("served task panicked", "task", id, "panic", r)
				reply = schema.Failed(fmt.Sprintf("worker panicked: %v", r))
			}
		}()
		var req schema.TaskRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return schema.Failed(fmt.Sprintf("decode request: %v", err))
		}
		if req.TaskID != string(id) {
			return schema.Failed(fmt.Sprintf("request for %s sent to %s", req.TaskID, id))
		}
		resp, err := w.Do(ctx, req)
		if err != nil {
			logger.Warn("served task failed", "task", id, "job_id", req.JobID, "err", err)
			return schema.Failed(err.Error())
		}
		return resp
	}
}
