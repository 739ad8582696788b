package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/tendant/simple-production/internal/document"
	"github.com/tendant/simple-production/internal/task"
	"github.com/tendant/simple-production/pkg/schema"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// callLog records worker invocations across goroutines.
type callLog struct {
	mu       sync.Mutex
	calls    []string
	requests map[string]schema.TaskRequest
}

func (c *callLog) add(name string, req schema.TaskRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, name)
	if c.requests == nil {
		c.requests = map[string]schema.TaskRequest{}
	}
	c.requests[name] = req
}

func (c *callLog) names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *callLog) request(name string) (schema.TaskRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.requests[name]
	return r, ok
}

func okWorker(log *callLog, name string, result any) task.Worker {
	return task.WorkerFunc{WorkerName: name, Fn: func(_ context.Context, req schema.TaskRequest) (schema.TaskResponse, error) {
		if log != nil {
			log.add(name, req)
		}
		return schema.OK(result)
	}}
}

func failWorker(log *callLog, name, msg string) task.Worker {
	return task.WorkerFunc{WorkerName: name, Fn: func(_ context.Context, req schema.TaskRequest) (schema.TaskResponse, error) {
		if log != nil {
			log.add(name, req)
		}
		return schema.Failed(msg), nil
	}}
}

func slowWorker(log *callLog, name string, delay time.Duration, result any) task.Worker {
	return task.WorkerFunc{WorkerName: name, Fn: func(ctx context.Context, req schema.TaskRequest) (schema.TaskResponse, error) {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return schema.TaskResponse{}, ctx.Err()
		}
		if log != nil {
			log.add(name, req)
		}
		return schema.OK(result)
	}}
}

var (
	scriptResult = task.ScriptResult{Title: "Tides", Text: "The moon pulls the sea."}
	scenesResult = task.ScenesResult{Scenes: []task.Scene{
		{Index: 1, Description: "shore", Narration: "Waves arrive.", DurationSec: 4},
		{Index: 0, Description: "moon", Narration: "The moon rises.", DurationSec: 3},
	}}
	audioResult    = task.AudioResult{URI: "file:///work/job/voice.wav", DurationSec: 7}
	imagesResult   = task.ImagesResult{Images: []task.ImageRef{{SceneIndex: 0, URI: "file:///work/job/0.png"}, {SceneIndex: 1, URI: "file:///work/job/1.png"}}}
	thumbsResult   = task.ThumbnailsResult{Thumbnails: []task.Thumbnail{{Name: "small", URI: "file:///work/job/small.jpg", Width: 320, Height: 180}}}
	primaryResult  = task.CompileResult{URI: "file:///work/job/out.mp4", Format: "mp4", Width: 1920, Height: 1080}
	degradedResult = task.CompileResult{URI: "file:///work/job/out-low.mp4", Format: "mp4", Width: 854, Height: 480}
	minimalResult  = task.CompileResult{URI: "file:///work/job/frame.jpg", Format: "jpg"}
	distResult     = task.DistributionResult{ContentID: "c-1", Variant: "video"}
)

func standardWorkers(log *callLog) task.Registry {
	return task.Registry{
		task.WriteScript:       okWorker(log, "script", scriptResult),
		task.PlanScenes:        okWorker(log, "scenes", scenesResult),
		task.SynthesizeVoice:   okWorker(log, "voice", audioResult),
		task.RenderImages:      okWorker(log, "images", imagesResult),
		task.GenerateThumbnail: okWorker(log, "thumbnail", thumbsResult),
		task.Compile:           okWorker(log, "compile", primaryResult),
		task.Distribute:        okWorker(log, "distribute", distResult),
	}
}

func briefDoc(t *testing.T, id string) document.Document {
	t.Helper()
	b, err := json.Marshal(task.Brief{Topic: "tides", Voice: "alloy", ContentID: "c-1"})
	if err != nil {
		t.Fatalf("marshal brief: %v", err)
	}
	return document.New(id).Apply(document.SetContent(document.SlotBrief, b))
}

func newRunner(reg task.Registry, tiers ...TierWorker) *Runner {
	inv := task.NewInvoker(reg, quietLogger())
	esc := NewEscalator(inv, quietLogger(), tiers...)
	return NewRunner(inv, esc, RunnerConfig{TaskTimeout: time.Second, Logger: quietLogger()})
}

func decodeMeta(t *testing.T, doc document.Document, key string, v any) {
	t.Helper()
	raw, ok := doc.Meta(key)
	if !ok {
		t.Fatalf("metadata %s missing", key)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("decode metadata %s: %v", key, err)
	}
}

func decodeJSON(raw json.RawMessage, v any) error {
	return json.Unmarshal(raw, v)
}

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
	events   []any
}

func (p *recordingPublisher) PublishJSON(subject string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	p.events = append(p.events, v)
	return nil
}

func (p *recordingPublisher) done() (schema.RunDone, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.events) - 1; i >= 0; i-- {
		if d, ok := p.events[i].(schema.RunDone); ok {
			return d, true
		}
	}
	return schema.RunDone{}, false
}

func (p *recordingPublisher) stages() []schema.ProcessingStage {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []schema.ProcessingStage
	for _, e := range p.events {
		if l, ok := e.(schema.RunLifecycleEvent); ok {
			out = append(out, l.Stage)
		}
	}
	return out
}
