package media

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/keagan/reelcutter/internal/clips"
	"github.com/keagan/reelcutter/internal/ffmpeg"
	"github.com/keagan/reelcutter/pkg/util"
	"github.com/rs/zerolog"
)

// OutputFPS is the fixed frame rate of every reel
const OutputFPS = 24

// FrameFunc produces the output frame for presentation time t (seconds from
// the segment start). Returning io.EOF ends the reel early.
type FrameFunc func(ctx context.Context, t float64) (*image.RGBA, error)

// SinkOptions configures how reels are encoded
type SinkOptions struct {
	OutputDir  string
	Container  string
	FPS        float64
	VideoCodec string
	AudioCodec string
	CRF        int
	Preset     string
}

// Sink encodes composited frames plus the segment soundtrack into one file
// per segment.
type Sink struct {
	logger zerolog.Logger
	exec   *ffmpeg.Executor
	opts   SinkOptions
}

// NewSink creates a sink writing into opts.OutputDir
func NewSink(logger zerolog.Logger, exec *ffmpeg.Executor, opts SinkOptions) (*Sink, error) {
	if opts.Container == "" {
		opts.Container = "mp4"
	}
	if opts.FPS <= 0 {
		opts.FPS = OutputFPS
	}
	if err := util.EnsureDir(opts.OutputDir); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &Sink{
		logger: logger.With().Str("component", "media-sink").Logger(),
		exec:   exec,
		opts:   opts,
	}, nil
}

// OutputPath returns where the reel for the 1-based index will be written
func (s *Sink) OutputPath(index int, seg clips.Segment) string {
	return filepath.Join(s.opts.OutputDir, clips.ReelName(index, seg, s.opts.Container))
}

// FrameCount returns how many frames a reel of duration seconds holds
func FrameCount(duration, fps float64) int {
	if duration <= 0 || fps <= 0 {
		return 0
	}
	return int(math.Ceil(duration*fps - 1e-9))
}

// WriteReel pulls every frame of seg from frames and encodes it together with
// the matching audio range of src. A failed reel leaves no partial file.
func (s *Sink) WriteReel(ctx context.Context, index int, seg clips.Segment, src *Source, width, height int, frames FrameFunc) (string, error) {
	output := s.OutputPath(index, seg)

	enc, err := s.exec.NewEncoder(ctx, ffmpeg.EncodeOptions{
		Output:      output,
		Width:       width,
		Height:      height,
		FPS:         s.opts.FPS,
		VideoCodec:  s.opts.VideoCodec,
		AudioCodec:  s.opts.AudioCodec,
		CRF:         s.opts.CRF,
		Preset:      s.opts.Preset,
		AudioSource: src.Path(),
		AudioRange:  ffmpeg.Range{Start: seg.Start, Duration: seg.Duration()},
	})
	if err != nil {
		return "", err
	}

	total := FrameCount(seg.Duration(), s.opts.FPS)
	for i := 0; i < total; i++ {
		t := float64(i) / s.opts.FPS
		frame, err := frames(ctx, t)
		if errors.Is(err, io.EOF) {
			s.logger.Debug().Int("frame", i).Int("expected", total).Msg("frame source ended early")
			break
		}
		if err == nil {
			err = enc.WriteFrame(frame)
		}
		if err != nil {
			enc.Abort()
			_ = os.Remove(output)
			return "", fmt.Errorf("frame %d at %.3fs: %w", i, t, err)
		}
	}

	if err := enc.Close(); err != nil {
		_ = os.Remove(output)
		return "", err
	}

	s.logger.Info().
		Int("index", index).
		Str("output", output).
		Int("frames", enc.Frames()).
		Msg("reel written")
	return output, nil
}
