package tracking

import (
	"context"
	"errors"
	"image"

	"github.com/rs/zerolog"
)

// DefaultInterval is the sampling cadence in seconds
const DefaultInterval = 0.5

// Sample is the subject center at one sampling tick
type Sample struct {
	T       float64
	CenterX float64
}

// FrameSource yields the frame shown at t seconds
type FrameSource interface {
	FrameAt(ctx context.Context, t float64) (image.Image, error)
}

// Tracker samples frames at a fixed cadence and follows the largest subject
type Tracker struct {
	logger   zerolog.Logger
	detector Detector
}

// NewTracker creates a tracker. A nil detector never detects.
func NewTracker(logger zerolog.Logger, detector Detector) *Tracker {
	if detector == nil {
		detector = NoopDetector{}
	}
	return &Tracker{
		logger:   logger.With().Str("component", "tracker").Logger(),
		detector: detector,
	}
}

// Track returns one sample per tick t = k*interval with t < duration. The
// first frame that cannot be fetched ends sampling; if none could be fetched
// the trajectory is empty.
func (tr *Tracker) Track(ctx context.Context, frames FrameSource, duration, interval float64) ([]Sample, error) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	var (
		samples []Sample
		state   State
		hits    int
	)
	for k := 0; ; k++ {
		t := float64(k) * interval
		if t >= duration {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		frame, err := frames.FrameAt(ctx, t)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			tr.logger.Debug().Err(err).Float64("t", t).Msg("no frame, stopping sampling")
			break
		}

		det := tr.detect(ctx, frame, t)
		if det.Found {
			hits++
		}
		state = Next(state, det)

		b := frame.Bounds()
		fallback := float64(b.Min.X) + float64(b.Dx())/2
		samples = append(samples, Sample{T: t, CenterX: state.CenterOr(fallback)})
	}

	tr.logger.Debug().
		Int("samples", len(samples)).
		Int("detections", hits).
		Str("phase", state.Phase.String()).
		Msg("tracking complete")

	return samples, nil
}

func (tr *Tracker) detect(ctx context.Context, frame image.Image, t float64) Detection {
	regions, err := tr.detector.Detect(ctx, frame)
	if err != nil {
		tr.logger.Warn().Err(err).Float64("t", t).Msg("detector failed, treating as miss")
		return Detection{}
	}
	best, ok := Largest(regions)
	if !ok {
		return Detection{}
	}
	return Detection{Found: true, CenterX: float64(best.Min.X+best.Max.X) / 2}
}
