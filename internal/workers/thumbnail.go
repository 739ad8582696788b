package workers

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"

	"github.com/tendant/simple-production/internal/img"
	"github.com/tendant/simple-production/internal/task"
	"github.com/tendant/simple-production/pkg/schema"
)

// Thumbnailer renders cover thumbnails from the first scene image.
type Thumbnailer struct {
	specs   []img.ThumbnailSpec
	workDir string
	logger  *slog.Logger
}

func NewThumbnailer(specs []img.ThumbnailSpec, workDir string, logger *slog.Logger) *Thumbnailer {
	if len(specs) == 0 {
		specs = img.DefaultSpecs
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Thumbnailer{specs: specs, workDir: workDir, logger: logger}
}

func (t *Thumbnailer) Name() string { return "imaging-thumbnailer" }

func (t *Thumbnailer) Do(ctx context.Context, req schema.TaskRequest) (schema.TaskResponse, error) {
	return handle(ctx, req, func(_ context.Context, p task.ThumbnailPayload) (task.ThumbnailsResult, error) {
		paths, err := imagePaths(p.Images)
		if err != nil {
			return task.ThumbnailsResult{}, err
		}
		if len(paths) == 0 {
			return task.ThumbnailsResult{}, errors.New("no images")
		}
		dir, err := runDir(t.workDir, req)
		if err != nil {
			return task.ThumbnailsResult{}, err
		}

		outs, err := img.GenerateThumbnails(paths[0], filepath.Join(dir, "cover.jpg"), t.specs)
		if err != nil {
			return task.ThumbnailsResult{}, err
		}

		res := task.ThumbnailsResult{Thumbnails: make([]task.Thumbnail, 0, len(outs))}
		for _, o := range outs {
			res.Thumbnails = append(res.Thumbnails, task.Thumbnail{Name: o.Name, URI: FileURI(o.Path), Width: o.Width, Height: o.Height})
		}
		t.logger.Info("thumbnails generated", "job_id", req.JobID, "run_id", req.RunID, "count", len(outs))
		return res, nil
	})
}
