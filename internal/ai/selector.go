package ai

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/keagan/reelcutter/internal/clips"
	"github.com/keagan/reelcutter/internal/config"
	"github.com/keagan/reelcutter/internal/ffmpeg"
	"github.com/keagan/reelcutter/internal/media"
	"github.com/rs/zerolog"
)

// EnergySelector finds highlight segments from soundtrack loudness
type EnergySelector struct {
	logger     zerolog.Logger
	ffmpeg     *ffmpeg.Executor
	profiler   EnergyProfiler
	sampleRate int
	tempDir    string
}

// NewEnergySelector creates a selector backed by the local energy profiler
func NewEnergySelector(logger zerolog.Logger, exec *ffmpeg.Executor, cfg config.EnergyConfig, tempDir string) *EnergySelector {
	return &EnergySelector{
		logger:     logger.With().Str("component", "energy-selector").Logger(),
		ffmpeg:     exec,
		profiler:   NewEnergyProfiler(cfg),
		sampleRate: cfg.SampleRate,
		tempDir:    tempDir,
	}
}

// SelectSegments decodes the soundtrack of mediaPath and ranks its windows
func (d *EnergySelector) SelectSegments(ctx context.Context, mediaPath string) ([]clips.Segment, error) {
	d.logger.Info().Str("video", filepath.Base(mediaPath)).Msg("starting energy analysis")

	src, err := media.Open(ctx, d.logger, d.ffmpeg, mediaPath, d.tempDir)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	return d.SelectFromSource(ctx, src)
}

// SelectFromSource ranks windows of an already opened source
func (d *EnergySelector) SelectFromSource(ctx context.Context, src *media.Source) ([]clips.Segment, error) {
	audio, err := src.Samples(ctx, d.sampleRate)
	if err != nil {
		return nil, fmt.Errorf("load soundtrack: %w", err)
	}

	segments := d.profiler.ScoreSegments(audio.Samples, audio.SampleRate, src.Duration())

	for i, seg := range segments {
		d.logger.Debug().
			Int("rank", i+1).
			Float64("start", seg.Start).
			Float64("end", seg.End).
			Float64("score", seg.Score).
			Msg("ranked window")
	}
	d.logger.Info().
		Float64("duration", src.Duration()).
		Int("segments", len(segments)).
		Msg("energy analysis complete")

	return segments, nil
}
