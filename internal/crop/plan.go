package crop

import (
	"image"
	"math"
	"sort"

	"github.com/keagan/reelcutter/internal/tracking"
)

// DefaultWindow is the moving average length in samples
const DefaultWindow = 5

// Function maps a segment timestamp to a horizontal crop window. It holds
// its own copy of the smoothed trajectory and is safe to share.
type Function struct {
	times   []float64
	centers []float64
	width   int
	frameW  int
	frameH  int
}

// Plan builds the crop function for one segment. cropWidth is
// round(frameH*aspect), never wider than the frame.
func Plan(trajectory []tracking.Sample, frameW, frameH int, aspect float64, window int) Function {
	width := int(math.Round(float64(frameH) * aspect))
	width = min(max(width, 1), frameW)

	f := Function{width: width, frameW: frameW, frameH: frameH}
	if len(trajectory) == 0 {
		return f
	}

	f.times = make([]float64, len(trajectory))
	raw := make([]float64, len(trajectory))
	for i, s := range trajectory {
		f.times[i] = s.T
		raw[i] = s.CenterX
	}
	f.centers = Smooth(raw, window)
	return f
}

// Smooth applies a centered moving average of window samples with the
// output the same length as the input. Samples past either end count as
// zero, so the sum is always divided by the full window.
func Smooth(values []float64, window int) []float64 {
	if window < 1 {
		window = 1
	}
	before := (window - 1) / 2
	after := window - 1 - before

	out := make([]float64, len(values))
	for i := range values {
		lo := max(i-before, 0)
		hi := min(i+after, len(values)-1)
		var sum float64
		for _, v := range values[lo : hi+1] {
			sum += v
		}
		out[i] = sum / float64(window)
	}
	return out
}

// Width returns the constant crop width
func (f Function) Width() int { return f.width }

// At returns the left edge and width of the crop at t
func (f Function) At(t float64) (x0, width int) {
	maxX := f.frameW - f.width
	if len(f.centers) == 0 {
		return maxX / 2, f.width
	}

	x := int(math.Round(f.center(t) - float64(f.width)/2))
	return min(max(x, 0), maxX), f.width
}

// Rect returns the full-height crop rectangle at t
func (f Function) Rect(t float64) image.Rectangle {
	x0, w := f.At(t)
	return image.Rect(x0, 0, x0+w, f.frameH)
}

func (f Function) center(t float64) float64 {
	n := len(f.times)
	if t <= f.times[0] {
		return f.centers[0]
	}
	if t >= f.times[n-1] {
		return f.centers[n-1]
	}

	// first sample strictly after t; t lies in [times[i-1], times[i])
	i := sort.Search(n, func(i int) bool { return f.times[i] > t })
	t0, t1 := f.times[i-1], f.times[i]
	c0, c1 := f.centers[i-1], f.centers[i]
	if t1 == t0 {
		return c1
	}
	return c0 + (c1-c0)*(t-t0)/(t1-t0)
}
