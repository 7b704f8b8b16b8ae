package media

import (
	"context"
	"image"

	"github.com/keagan/reelcutter/internal/clips"
)

// FrameSeeker decodes a single frame at an absolute source time
type FrameSeeker interface {
	FrameAt(ctx context.Context, t float64) (image.Image, error)
}

// SegmentFrames presents one segment of a source with its own clock
// starting at zero.
type SegmentFrames struct {
	src FrameSeeker
	seg clips.Segment
}

// NewSegmentFrames wraps src so FrameAt(0) is the frame at seg.Start
func NewSegmentFrames(src FrameSeeker, seg clips.Segment) *SegmentFrames {
	return &SegmentFrames{src: src, seg: seg}
}

// FrameAt returns the frame t seconds into the segment
func (f *SegmentFrames) FrameAt(ctx context.Context, t float64) (image.Image, error) {
	return f.src.FrameAt(ctx, f.seg.Start+t)
}

// Duration returns the segment length in seconds
func (f *SegmentFrames) Duration() float64 {
	return f.seg.Duration()
}
