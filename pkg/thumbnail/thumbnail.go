// Package thumbnail generates bounded-box preview images for the
// recognized image MIME types of §4.5.1 step 7. Grounded on the
// teacher's pkg/images/images.go (image decode + EXIF-aware
// rotate/flip), trimmed to the scope the spec actually needs: decode,
// compute a scaled box, encode JPEG. Uses golang.org/x/image/draw for
// the scaling step, the teacher's own direct dependency, in place of
// images.go's bespoke nearest-neighbor resize (images.go predates
// x/image/draw's high-quality scalers being vendored into this repo).
package thumbnail

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"

	_ "image/gif"
	_ "image/png"

	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// MaxWidth and MaxHeight bound the generated thumbnail per §4.5.1 step
// 7: 500×500, aspect-ratio preserved.
const (
	MaxWidth  = 500
	MaxHeight = 500
)

// Result is a generated thumbnail plus the source image's natural
// dimensions, always recorded even when no thumbnail file is written.
type Result struct {
	Width, Height           int // source dimensions
	ThumbWidth, ThumbHeight int // generated thumbnail dimensions, 0 if not Generated
	JPEG                    []byte
	Generated               bool // false if the source already fit the box
}

// Generate decodes src and, if it exceeds the 500x500 box, produces a
// scaled JPEG copy. If the source already fits, Generated is false and
// only the dimensions are populated — §4.5.1 step 7's "if source fits,
// no thumbnail file is written and only width/height are recorded."
func Generate(src []byte) (Result, error) {
	img, _, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return Result{}, fmt.Errorf("thumbnail: decode: %w", err)
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	res := Result{Width: w, Height: h}

	if w <= MaxWidth && h <= MaxHeight {
		return res, nil
	}

	tw, th := scaledBox(w, h, MaxWidth, MaxHeight)
	dst := image.NewRGBA(image.Rect(0, 0, tw, th))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 85}); err != nil {
		return Result{}, fmt.Errorf("thumbnail: encode: %w", err)
	}
	res.JPEG = buf.Bytes()
	res.ThumbWidth, res.ThumbHeight = tw, th
	res.Generated = true
	return res, nil
}

// scaledBox returns the largest (w,h) that fits within (maxW,maxH)
// while preserving the aspect ratio of (srcW,srcH).
func scaledBox(srcW, srcH, maxW, maxH int) (int, int) {
	if srcW <= 0 || srcH <= 0 {
		return maxW, maxH
	}
	ratio := float64(srcW) / float64(srcH)
	w, h := maxW, int(float64(maxW)/ratio)
	if h > maxH {
		h = maxH
		w = int(float64(maxH) * ratio)
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}
