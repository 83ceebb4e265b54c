package thumbnail

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
)

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 0, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return buf.Bytes()
}

func TestGenerateSkipsSmallImage(t *testing.T) {
	res, err := Generate(encodeJPEG(t, 100, 50))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Generated {
		t.Fatalf("expected no thumbnail for an image already within the box")
	}
	if res.Width != 100 || res.Height != 50 {
		t.Fatalf("dimensions = %dx%d, want 100x50", res.Width, res.Height)
	}
}

func TestGenerateScalesLargeImage(t *testing.T) {
	res, err := Generate(encodeJPEG(t, 2000, 1000))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !res.Generated || len(res.JPEG) == 0 {
		t.Fatalf("expected a generated thumbnail")
	}
	out, _, err := image.Decode(bytes.NewReader(res.JPEG))
	if err != nil {
		t.Fatalf("decode thumbnail: %v", err)
	}
	b := out.Bounds()
	if b.Dx() > MaxWidth || b.Dy() > MaxHeight {
		t.Fatalf("thumbnail %dx%d exceeds box %dx%d", b.Dx(), b.Dy(), MaxWidth, MaxHeight)
	}
	if b.Dx() != MaxWidth {
		t.Fatalf("expected width-bound scaling at 2:1 aspect, got %dx%d", b.Dx(), b.Dy())
	}
}

func TestScaledBoxPreservesAspect(t *testing.T) {
	w, h := scaledBox(4000, 2000, 500, 500)
	if w != 500 || h != 250 {
		t.Fatalf("scaledBox = %d,%d want 500,250", w, h)
	}
	w, h = scaledBox(2000, 4000, 500, 500)
	if h != 500 || w != 250 {
		t.Fatalf("scaledBox = %d,%d want 250,500", w, h)
	}
}
