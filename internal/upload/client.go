// internal/upload/client.go
package upload

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	simplecontent "github.com/tendant/simple-content/pkg/simplecontent"
)

// ContentService is the part of simplecontent.Service the uploader uses.
type ContentService interface {
	GetContent(ctx context.Context, id uuid.UUID) (*simplecontent.Content, error)
	UploadDerivedContent(ctx context.Context, req simplecontent.UploadDerivedContentRequest) (*simplecontent.Content, error)
}

// Client stores compiled artifacts as derived content of a job's source
// content in simple-content.
type Client struct {
	svc     ContentService
	backend string
}

// NewClient wraps a simple-content service with the configured default storage backend.
func NewClient(svc ContentService, defaultBackend string) *Client {
	return &Client{svc: svc, backend: defaultBackend}
}

// UploadOptions customises derived content persistence.
type UploadOptions struct {
	FileName       string
	DerivationType string
	Variant        string
	Tags           []string
	Metadata       map[string]interface{}
}

// UploadDerived uploads the file at path as derived content of parentID.
func (c *Client) UploadDerived(ctx context.Context, parentID uuid.UUID, path string, opts UploadOptions) (*simplecontent.Content, error) {
	parent, err := c.svc.GetContent(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("get parent content: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat artifact: %w", err)
	}

	fileName := opts.FileName
	if fileName == "" {
		fileName = filepath.Base(path)
	}
	mimeType, err := detectMime(path)
	if err != nil {
		return nil, err
	}

	metadata := map[string]interface{}{"mime_type": mimeType}
	for k, v := range opts.Metadata {
		metadata[k] = v
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	defer file.Close()

	derived, err := c.svc.UploadDerivedContent(ctx, simplecontent.UploadDerivedContentRequest{
		ParentID:           parent.ID,
		OwnerID:            parent.OwnerID,
		TenantID:           parent.TenantID,
		DerivationType:     opts.DerivationType,
		Variant:            opts.Variant,
		StorageBackendName: c.backend,
		Reader:             file,
		FileName:           fileName,
		FileSize:           info.Size(),
		Tags:               opts.Tags,
		Metadata:           metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("upload derived content: %w", err)
	}
	return derived, nil
}

func detectMime(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open for mime detect: %w", err)
	}
	defer file.Close()

	buf := make([]byte, 512)
	n, err := file.Read(buf)
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read for mime detect: %w", err)
	}
	return http.DetectContentType(buf[:n]), nil
}

// VideoVariant names a compiled output by its frame height, e.g. video_720p.
// Outputs without a known size are "video_still" when format is an image.
func VideoVariant(format string, height int) string {
	switch {
	case format == "jpg" || format == "jpeg" || format == "png":
		return "video_still"
	case height > 0:
		return fmt.Sprintf("video_%dp", height)
	default:
		return "video"
	}
}
