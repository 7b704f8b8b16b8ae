package tracking

import (
	"context"
	"image"

	"github.com/nfnt/resize"
)

// Detector locates candidate subject regions in a frame, in frame pixels
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]image.Rectangle, error)
}

// NoopDetector never finds anything, which yields a centered crop
type NoopDetector struct{}

// Detect implements Detector
func (NoopDetector) Detect(context.Context, image.Image) ([]image.Rectangle, error) {
	return nil, nil
}

// FuncDetector adapts a function to Detector
type FuncDetector func(ctx context.Context, img image.Image) ([]image.Rectangle, error)

// Detect implements Detector
func (f FuncDetector) Detect(ctx context.Context, img image.Image) ([]image.Rectangle, error) {
	return f(ctx, img)
}

// Largest returns the region with the greatest area. Ties keep the first.
func Largest(regions []image.Rectangle) (image.Rectangle, bool) {
	var best image.Rectangle
	found := false
	bestArea := -1
	for _, r := range regions {
		r = r.Canon()
		if r.Empty() {
			continue
		}
		if area := r.Dx() * r.Dy(); area > bestArea {
			best, bestArea, found = r, area, true
		}
	}
	return best, found
}

// Downscale wraps a detector so it sees frames no wider than maxWidth.
// Returned regions are mapped back to the original frame size.
func Downscale(inner Detector, maxWidth int) Detector {
	if maxWidth <= 0 {
		return inner
	}
	return FuncDetector(func(ctx context.Context, img image.Image) ([]image.Rectangle, error) {
		b := img.Bounds()
		if b.Dx() <= maxWidth {
			return inner.Detect(ctx, img)
		}

		small := resize.Resize(uint(maxWidth), 0, img, resize.Bilinear)
		regions, err := inner.Detect(ctx, small)
		if err != nil {
			return nil, err
		}

		sb := small.Bounds()
		sx := float64(b.Dx()) / float64(sb.Dx())
		sy := float64(b.Dy()) / float64(sb.Dy())
		out := make([]image.Rectangle, len(regions))
		for i, r := range regions {
			out[i] = image.Rect(
				b.Min.X+int(float64(r.Min.X-sb.Min.X)*sx),
				b.Min.Y+int(float64(r.Min.Y-sb.Min.Y)*sy),
				b.Min.X+int(float64(r.Max.X-sb.Min.X)*sx),
				b.Min.Y+int(float64(r.Max.Y-sb.Min.Y)*sy),
			)
		}
		return out, nil
	})
}
