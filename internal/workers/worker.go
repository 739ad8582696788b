// Package workers holds the concrete task workers: local media workers
// for compilation, thumbnails and distribution, and a NATS-backed remote
// worker for everything served by other processes.
package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tendant/simple-production/internal/task"
	"github.com/tendant/simple-production/pkg/schema"
)

// handle decodes the payload, runs fn and wraps its result. Errors become
// error responses so the same worker can be served over NATS unchanged.
func handle[P any, R any](ctx context.Context, req schema.TaskRequest, fn func(context.Context, P) (R, error)) (schema.TaskResponse, error) {
	var p P
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return schema.Failed(fmt.Sprintf("decode payload: %v", err)), nil
	}
	r, err := fn(ctx, p)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return schema.TaskResponse{}, err
		}
		return schema.Failed(err.Error()), nil
	}
	return schema.OK(r)
}

// LocalPath resolves a file:// URI or a bare path. Other schemes are not
// readable by local workers.
func LocalPath(uri string) (string, error) {
	if uri == "" {
		return "", errors.New("empty uri")
	}
	if !strings.Contains(uri, "://") {
		return filepath.Clean(uri), nil
	}
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("parse uri %q: %w", uri, err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("uri %q: scheme %s is not local", uri, u.Scheme)
	}
	return filepath.Clean(u.Path), nil
}

// FileURI is the inverse of LocalPath.
func FileURI(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
}

// runDir is where a worker writes artifacts for one run.
func runDir(workDir string, req schema.TaskRequest) (string, error) {
	jobID := safeName(req.JobID, "job")
	runID := safeName(req.RunID, "adhoc")
	dir := filepath.Join(workDir, jobID, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	return dir, nil
}

func safeName(s, fallback string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
	if s == "" || strings.Trim(s, "_") == "" {
		return fallback
	}
	return s
}

func sortedRefs(images []task.ImageRef) []task.ImageRef {
	sorted := append([]task.ImageRef(nil), images...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].SceneIndex < sorted[j].SceneIndex })
	return sorted
}

// imagePaths resolves image refs in scene order.
func imagePaths(images []task.ImageRef) ([]string, error) {
	sorted := sortedRefs(images)
	paths := make([]string, 0, len(sorted))
	for _, ref := range sorted {
		p, err := LocalPath(ref.URI)
		if err != nil {
			return nil, fmt.Errorf("scene %d: %w", ref.SceneIndex, err)
		}
		paths = append(paths, p)
	}
	return paths, nil
}
