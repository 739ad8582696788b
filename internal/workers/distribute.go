package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	simplecontent "github.com/tendant/simple-content/pkg/simplecontent"

	"github.com/tendant/simple-production/internal/task"
	"github.com/tendant/simple-production/internal/upload"
	"github.com/tendant/simple-production/pkg/schema"
)

// Uploader stores an artifact as derived content. *upload.Client satisfies it.
type Uploader interface {
	UploadDerived(ctx context.Context, parentID uuid.UUID, path string, opts upload.UploadOptions) (*simplecontent.Content, error)
}

// Distributor publishes the compiled output to simple-content as derived
// content of the brief's source content.
type Distributor struct {
	uploader Uploader
	logger   *slog.Logger
}

func NewDistributor(u Uploader, logger *slog.Logger) *Distributor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Distributor{uploader: u, logger: logger}
}

func (d *Distributor) Name() string { return "simple-content" }

func (d *Distributor) Do(ctx context.Context, req schema.TaskRequest) (schema.TaskResponse, error) {
	return handle(ctx, req, func(ctx context.Context, p task.DistributePayload) (task.DistributionResult, error) {
		if p.ContentID == "" {
			return task.DistributionResult{}, errors.New("brief has no content_id")
		}
		parentID, err := uuid.Parse(p.ContentID)
		if err != nil {
			return task.DistributionResult{}, fmt.Errorf("content_id: %w", err)
		}
		path, err := LocalPath(p.Output.URI)
		if err != nil {
			return task.DistributionResult{}, err
		}

		variant := upload.VideoVariant(p.Output.Format, p.Output.Height)
		derived, err := d.uploader.UploadDerived(ctx, parentID, path, upload.UploadOptions{
			DerivationType: "production",
			Variant:        variant,
			Tags:           []string{"production", p.Output.Format},
			Metadata: map[string]interface{}{
				"title":        p.Title,
				"job_id":       req.JobID,
				"run_id":       req.RunID,
				"width":        p.Output.Width,
				"height":       p.Output.Height,
				"duration_sec": p.Output.DurationSec,
			},
		})
		if err != nil {
			return task.DistributionResult{}, err
		}

		d.logger.Info("compiled output distributed", "job_id", req.JobID, "run_id", req.RunID, "content_id", derived.ID, "variant", variant)
		return task.DistributionResult{ContentID: derived.ID.String(), Variant: variant}, nil
	})
}
