package img

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
)

// RepresentativeFrame renders a single still of exactly w x h from the first
// readable source, starting at the middle of the list. The source is scaled
// to fit and letterboxed on black, so nothing is cropped.
func RepresentativeFrame(srcPaths []string, dstPath string, w, h int) (string, error) {
	if len(srcPaths) == 0 {
		return "", errors.New("no source images")
	}
	if w <= 0 || h <= 0 {
		return "", fmt.Errorf("invalid frame size %dx%d", w, h)
	}

	var (
		src     image.Image
		used    string
		openErr error
	)
	mid := len(srcPaths) / 2
	for i := range srcPaths {
		p := srcPaths[(mid+i)%len(srcPaths)]
		img, err := imaging.Open(p, imaging.AutoOrientation(true))
		if err != nil {
			openErr = err
			continue
		}
		src, used = img, p
		break
	}
	if src == nil {
		return "", fmt.Errorf("open: %w", openErr)
	}

	fitted := imaging.Fit(src, w, h, imaging.Lanczos)
	canvas := imaging.New(w, h, color.Black)
	frame := imaging.PasteCenter(canvas, fitted)

	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return "", fmt.Errorf("mkdir: %w", err)
	}
	if err := imaging.Save(frame, dstPath, imaging.JPEGQuality(90)); err != nil {
		return "", fmt.Errorf("save: %w", err)
	}
	return used, nil
}
