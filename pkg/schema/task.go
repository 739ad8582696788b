// pkg/schema/task.go
package schema

import "encoding/json"

const (
	TaskStatusOK    = "ok"
	TaskStatusError = "error"
)

// TaskRequest is what a task worker receives, locally or over NATS.
type TaskRequest struct {
	TaskID  string          `json:"task_id"`
	JobID   string          `json:"job_id"`
	RunID   string          `json:"run_id,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// TaskResponse is either {"status":"ok","result":...} or
// {"status":"error","message":...}.
type TaskResponse struct {
	Status  string          `json:"status"`
	Result  json.RawMessage `json:"result,omitempty"`
	Message string          `json:"message,omitempty"`
}

func OK(result any) (TaskResponse, error) {
	b, err := json.Marshal(result)
	if err != nil {
		return TaskResponse{}, err
	}
	return TaskResponse{Status: TaskStatusOK, Result: b}, nil
}

func Failed(message string) TaskResponse {
	return TaskResponse{Status: TaskStatusError, Message: message}
}
