package img

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
)

func TestGenerateThumbnailsFitsBox(t *testing.T) {
	tmp := t.TempDir()
	srcPath := filepath.Join(tmp, "source.png")
	createTestImage(t, srcPath, 400, 200)

	specs := []ThumbnailSpec{{Name: "box", Width: 100, Height: 100}}
	outs, err := GenerateThumbnails(srcPath, filepath.Join(tmp, "nested", "thumb.png"), specs)
	if err != nil {
		t.Fatalf("GenerateThumbnails returned error: %v", err)
	}

	if outs[0].Width != 100 || outs[0].Height != 50 {
		t.Fatalf("unexpected thumbnail size: got %dx%d, want 100x50", outs[0].Width, outs[0].Height)
	}
	if outs[0].SourceWidth != 400 || outs[0].SourceHeight != 200 {
		t.Fatalf("unexpected source size: %+v", outs[0])
	}
	if _, err := os.Stat(outs[0].Path); err != nil {
		t.Fatalf("thumbnail file not created: %v", err)
	}
}

func TestGenerateThumbnailsMissingSource(t *testing.T) {
	tmp := t.TempDir()
	_, err := GenerateThumbnails(filepath.Join(tmp, "missing.png"), filepath.Join(tmp, "thumb.png"), DefaultSpecs)
	if err == nil {
		t.Fatalf("expected error for missing source image")
	}
	if !strings.Contains(err.Error(), "open") {
		t.Fatalf("unexpected error message: %v", err)
	}
}

func TestGenerateThumbnailsNamesEachSpec(t *testing.T) {
	tmp := t.TempDir()
	srcPath := filepath.Join(tmp, "scene.png")
	createTestImage(t, srcPath, 1920, 1080)

	outs, err := GenerateThumbnails(srcPath, filepath.Join(tmp, "out", "cover.jpg"), DefaultSpecs)
	if err != nil {
		t.Fatalf("GenerateThumbnails: %v", err)
	}
	if len(outs) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(outs))
	}
	if outs[0].Path != filepath.Join(tmp, "out", "cover_small.jpg") || outs[0].Width != 320 || outs[0].Height != 180 {
		t.Fatalf("unexpected small output %+v", outs[0])
	}
	if outs[1].SourceWidth != 1920 {
		t.Fatalf("source size not recorded: %+v", outs[1])
	}
}

func TestParseSpecs(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"small:320x180", 1, false},
		{"small:320x180, large:1280x720", 2, false},
		{"", 0, true},
		{"small", 0, true},
		{"small:320", 0, true},
		{"small:0x10", 0, true},
		{"a:1x1,a:2x2", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			specs, err := ParseSpecs(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.in)
				}
				return
			}
			if err != nil || len(specs) != tt.want {
				t.Fatalf("ParseSpecs(%q) = %v, %v", tt.in, specs, err)
			}
		})
	}
}

func TestRepresentativeFrame(t *testing.T) {
	tmp := t.TempDir()
	paths := []string{
		filepath.Join(tmp, "0.png"),
		filepath.Join(tmp, "1.png"),
		filepath.Join(tmp, "2.png"),
	}
	createTestImage(t, paths[0], 300, 300)
	createTestImage(t, paths[2], 300, 300)

	dst := filepath.Join(tmp, "frame", "frame.jpg")
	used, err := RepresentativeFrame(paths, dst, 640, 360)
	if err != nil {
		t.Fatalf("RepresentativeFrame: %v", err)
	}
	// 1.png is missing, so the next image after the middle is used.
	if used != paths[2] {
		t.Fatalf("used %s", used)
	}

	frame, err := imaging.Open(dst)
	if err != nil {
		t.Fatalf("open frame: %v", err)
	}
	if b := frame.Bounds(); b.Dx() != 640 || b.Dy() != 360 {
		t.Fatalf("frame size %dx%d", b.Dx(), b.Dy())
	}
}

func TestRepresentativeFrameNoReadableSource(t *testing.T) {
	tmp := t.TempDir()
	if _, err := RepresentativeFrame([]string{filepath.Join(tmp, "x.png")}, filepath.Join(tmp, "f.jpg"), 10, 10); err == nil {
		t.Fatal("expected error")
	}
	if _, err := RepresentativeFrame(nil, filepath.Join(tmp, "f.jpg"), 10, 10); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func createTestImage(t *testing.T, path string, w, h int) {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("create dir: %v", err)
	}

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create file: %v", err)
	}
	t.Cleanup(func() { _ = os.Remove(path) })

	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		t.Fatalf("encode png: %v", err)
	}

	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}
}
