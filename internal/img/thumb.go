// internal/img/thumb.go
package img

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
)

type ThumbnailSpec struct {
	Name   string
	Width  int
	Height int
}

type ThumbnailOutput struct {
	Name         string
	Path         string
	Width        int
	Height       int
	SourceWidth  int
	SourceHeight int
}

// DefaultSpecs are used when THUMBNAIL_SIZES is unset.
var DefaultSpecs = []ThumbnailSpec{
	{Name: "small", Width: 320, Height: 180},
	{Name: "large", Width: 1280, Height: 720},
}

// ParseSpecs reads "name:WxH,name:WxH".
func ParseSpecs(s string) ([]ThumbnailSpec, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("no thumbnail sizes")
	}
	var specs []ThumbnailSpec
	seen := map[string]bool{}
	for _, part := range strings.Split(s, ",") {
		name, dims, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok || name == "" {
			return nil, fmt.Errorf("thumbnail size %q: want name:WxH", part)
		}
		ws, hs, ok := strings.Cut(dims, "x")
		if !ok {
			return nil, fmt.Errorf("thumbnail size %q: want name:WxH", part)
		}
		w, err := strconv.Atoi(ws)
		if err != nil || w <= 0 {
			return nil, fmt.Errorf("thumbnail size %q: bad width", part)
		}
		h, err := strconv.Atoi(hs)
		if err != nil || h <= 0 {
			return nil, fmt.Errorf("thumbnail size %q: bad height", part)
		}
		if seen[name] {
			return nil, fmt.Errorf("thumbnail size %q: duplicate name", name)
		}
		seen[name] = true
		specs = append(specs, ThumbnailSpec{Name: name, Width: w, Height: h})
	}
	return specs, nil
}

// GenerateThumbnails writes one thumbnail per spec next to baseDstPath,
// named <base>_<spec><ext>. Sources smaller than a box are not upscaled.
func GenerateThumbnails(srcPath, baseDstPath string, specs []ThumbnailSpec) ([]ThumbnailOutput, error) {
	src, err := imaging.Open(srcPath, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	srcBounds := src.Bounds()
	ext := filepath.Ext(baseDstPath)
	stem := strings.TrimSuffix(baseDstPath, ext)

	results := make([]ThumbnailOutput, 0, len(specs))
	for _, spec := range specs {
		thumb := imaging.Fit(src, spec.Width, spec.Height, imaging.Lanczos)
		dstPath := fmt.Sprintf("%s_%s%s", stem, spec.Name, ext)

		if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir for %s: %w", spec.Name, err)
		}
		if err := imaging.Save(thumb, dstPath); err != nil {
			return nil, fmt.Errorf("save %s: %w", spec.Name, err)
		}

		b := thumb.Bounds()
		results = append(results, ThumbnailOutput{
			Name:         spec.Name,
			Path:         dstPath,
			Width:        b.Dx(),
			Height:       b.Dy(),
			SourceWidth:  srcBounds.Dx(),
			SourceHeight: srcBounds.Dy(),
		})
	}
	return results, nil
}
