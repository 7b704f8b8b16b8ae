package media

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"

	"github.com/keagan/reelcutter/internal/clips"
	"github.com/keagan/reelcutter/internal/ffmpeg"
	"github.com/keagan/reelcutter/pkg/util"
	"github.com/rs/zerolog"
)

var (
	// ErrSourceNotFound is returned when the input path does not exist
	ErrSourceNotFound = errors.New("source media not found")
	// ErrNoAudio is returned when the input has no audio track
	ErrNoAudio = errors.New("source media has no audio track")
	// ErrUnreadable is returned when the input cannot be probed as video
	ErrUnreadable = errors.New("source media cannot be opened")
	// ErrClosed is returned by reads after Close
	ErrClosed = errors.New("source media is closed")
)

// Source is a read-only handle on one input video. It is opened once per run
// and shared by every segment.
type Source struct {
	logger  zerolog.Logger
	exec    *ffmpeg.Executor
	info    *ffmpeg.VideoInfo
	tempDir string
	closed  bool
}

// Open probes path and verifies it is a video with an audio track
func Open(ctx context.Context, logger zerolog.Logger, exec *ffmpeg.Executor, path, tempDir string) (*Source, error) {
	if !util.FileExists(path) {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, path)
	}

	info, err := exec.ProbeVideo(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", ErrUnreadable, err)
	}
	if !info.HasAudio {
		return nil, fmt.Errorf("%w: %s", ErrNoAudio, path)
	}

	logger = logger.With().Str("component", "media-source").Str("path", path).Logger()
	logger.Info().
		Float64("duration", info.Seconds()).
		Int("width", info.Width).
		Int("height", info.Height).
		Float64("fps", info.FPS).
		Msg("opened source")

	return &Source{
		logger:  logger,
		exec:    exec,
		info:    info,
		tempDir: tempDir,
	}, nil
}

// Path returns the input file path
func (s *Source) Path() string { return s.info.FilePath }

// Duration returns the source length in seconds
func (s *Source) Duration() float64 { return s.info.Seconds() }

// Width returns the source frame width in pixels
func (s *Source) Width() int { return s.info.Width }

// Height returns the source frame height in pixels
func (s *Source) Height() int { return s.info.Height }

// Info returns the probed metadata
func (s *Source) Info() ffmpeg.VideoInfo { return *s.info }

// FrameAt decodes the frame at t seconds of the source
func (s *Source) FrameAt(ctx context.Context, t float64) (image.Image, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if t < 0 || t >= s.Duration() {
		return nil, fmt.Errorf("%w: %.3fs outside [0, %.3f)", ffmpeg.ErrNoFrame, t, s.Duration())
	}
	return s.exec.FrameAt(ctx, s.Path(), t, s.Width(), s.Height())
}

// Samples decodes the whole soundtrack to mono samples. sampleRate 0 keeps
// the source rate. The intermediate WAV is removed before returning.
func (s *Source) Samples(ctx context.Context, sampleRate int) (*Audio, error) {
	if s.closed {
		return nil, ErrClosed
	}
	wavPath, err := util.TempPath(s.tempDir, "reelcutter-analysis-", ".wav")
	if err != nil {
		return nil, fmt.Errorf("reserve temp audio: %w", err)
	}
	defer util.CleanupFiles(wavPath)

	if err := s.exec.ExtractAudio(ctx, s.Path(), wavPath, ffmpeg.Range{}, ffmpeg.AnalysisFormat(sampleRate), nil); err != nil {
		return nil, err
	}

	f, err := os.Open(wavPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	audio, err := DecodeWAV(f)
	if err != nil {
		return nil, fmt.Errorf("decode analysis audio: %w", err)
	}

	s.logger.Debug().
		Int("samples", len(audio.Samples)).
		Int("sample_rate", audio.SampleRate).
		Msg("decoded soundtrack")
	return audio, nil
}

// ExtractSegmentAudio writes the segment's audio to a new temp WAV. The
// caller owns the returned file and must remove it.
func (s *Source) ExtractSegmentAudio(ctx context.Context, seg clips.Segment) (string, error) {
	if s.closed {
		return "", ErrClosed
	}
	wavPath, err := util.TempPath(s.tempDir, "reelcutter-segment-", ".wav")
	if err != nil {
		return "", fmt.Errorf("reserve temp audio: %w", err)
	}

	rng := ffmpeg.Range{Start: seg.Start, Duration: seg.Duration()}
	if err := s.exec.ExtractAudio(ctx, s.Path(), wavPath, rng, ffmpeg.TranscriptionFormat(), nil); err != nil {
		util.CleanupFiles(wavPath)
		return "", err
	}
	return wavPath, nil
}

// WithSegmentAudio extracts the segment audio, runs fn on it and always
// removes the file afterwards.
func (s *Source) WithSegmentAudio(ctx context.Context, seg clips.Segment, fn func(path string) error) error {
	path, err := s.ExtractSegmentAudio(ctx, seg)
	if err != nil {
		return err
	}
	defer util.CleanupFiles(path)
	return fn(path)
}

// NewSegmentReader decodes seg sequentially at fps, full frame size
func (s *Source) NewSegmentReader(ctx context.Context, seg clips.Segment, fps float64) (*ffmpeg.FrameReader, error) {
	if s.closed {
		return nil, ErrClosed
	}
	rng := ffmpeg.Range{Start: seg.Start, Duration: seg.Duration()}
	return s.exec.NewFrameReader(ctx, s.Path(), rng, fps, s.Width(), s.Height())
}

// Close releases the handle. Safe to call more than once.
func (s *Source) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Debug().Msg("closed source")
	return nil
}
