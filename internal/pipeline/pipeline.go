package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/keagan/reelcutter/internal/ai"
	"github.com/keagan/reelcutter/internal/captions"
	"github.com/keagan/reelcutter/internal/clips"
	"github.com/keagan/reelcutter/internal/compositor"
	"github.com/keagan/reelcutter/internal/config"
	"github.com/keagan/reelcutter/internal/crop"
	"github.com/keagan/reelcutter/internal/ffmpeg"
	"github.com/keagan/reelcutter/internal/media"
	"github.com/keagan/reelcutter/internal/retry"
	"github.com/keagan/reelcutter/internal/tracking"
	"github.com/keagan/reelcutter/pkg/util"
	"github.com/rs/zerolog"
)

// sourceSelector selects from an already opened source, avoiding a second probe
type sourceSelector interface {
	SelectFromSource(ctx context.Context, src *media.Source) ([]clips.Segment, error)
}

// Pipeline turns one input video into a set of vertical highlight reels.
// Segments are processed one at a time; a Pipeline must not run concurrently.
type Pipeline struct {
	logger      zerolog.Logger
	cfg         *config.Config
	ffmpeg      *ffmpeg.Executor
	selector    clips.Selector
	transcriber ai.Transcriber
	tracker     *tracking.Tracker
	compositor  *compositor.Compositor
	closers     []io.Closer
}

// New creates a pipeline. Collaborators missing from deps are built from cfg.
func New(ctx context.Context, logger zerolog.Logger, cfg *config.Config, deps Deps) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	p := &Pipeline{
		logger: logger.With().Str("component", "pipeline").Logger(),
		cfg:    cfg,
		ffmpeg: deps.FFmpeg,
	}

	if p.ffmpeg == nil {
		exec, err := ffmpeg.New(logger, ffmpeg.Options{
			FFmpegPath:  cfg.FFmpeg.BinaryPath,
			FFprobePath: cfg.FFmpeg.ProbePath,
			Threads:     cfg.FFmpeg.Threads,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize ffmpeg: %w", err)
		}
		p.ffmpeg = exec
	}

	style, err := compositor.StyleFromConfig(cfg.Captions)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	comp, err := compositor.New(style)
	if err != nil {
		return nil, err
	}
	p.compositor = comp
	p.closers = append(p.closers, comp)

	if err := p.buildCollaborators(ctx, logger, deps); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func (p *Pipeline) buildCollaborators(ctx context.Context, logger zerolog.Logger, deps Deps) error {
	cfg := p.cfg
	p.selector = deps.Selector
	p.transcriber = deps.Transcriber

	var gemini *ai.GeminiClient
	geminiClient := func() (*ai.GeminiClient, error) {
		if gemini != nil {
			return gemini, nil
		}
		var err error
		gemini, err = ai.NewGeminiClient(ctx, logger, cfg.Gemini, retry.FromConfig(cfg.Retry))
		return gemini, err
	}

	if p.selector == nil {
		switch cfg.Selection.Mode {
		case config.SelectorGemini:
			client, err := geminiClient()
			if err != nil {
				return fmt.Errorf("%w: %w", ErrValidation, err)
			}
			p.selector = ai.NewGeminiSelector(client, cfg.Gemini.SelectorModel)
		default:
			p.selector = ai.NewEnergySelector(logger, p.ffmpeg, cfg.Energy, cfg.TempDir)
		}
	}

	if p.transcriber == nil {
		if !cfg.Captions.Enabled {
			p.transcriber = ai.NoopTranscriber{}
		} else if client, err := geminiClient(); err != nil {
			if !errors.Is(err, ai.ErrMissingAPIKey) {
				return err
			}
			p.logger.Warn().Err(err).Msg("no transcriber available, reels will have no captions")
			p.transcriber = ai.NoopTranscriber{}
		} else {
			p.transcriber = ai.NewGeminiTranscriber(client, cfg.Gemini.TranscriberModel)
		}
	}

	detector := deps.Detector
	if detector == nil && cfg.Tracking.Detector == config.DetectorONNX {
		face, err := ai.NewFaceDetector(logger, ai.FaceDetectorConfig{
			ModelPath:      cfg.Tracking.ModelPath,
			RuntimePath:    cfg.Tracking.RuntimePath,
			ScoreThreshold: cfg.Tracking.ScoreThreshold,
			IOUThreshold:   cfg.Tracking.IOUThreshold,
		})
		if err != nil {
			return fmt.Errorf("%w: %w", ErrValidation, err)
		}
		p.closers = append(p.closers, face)
		detector = tracking.Downscale(face, cfg.Tracking.DetectWidth)
	}
	if detector == nil {
		p.logger.Warn().Str("detector", cfg.Tracking.Detector).Msg("no subject detector configured, reels use a centered crop")
	}
	p.tracker = tracking.NewTracker(logger, detector)
	return nil
}

// Close releases models and fonts held by the pipeline
func (p *Pipeline) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.closers = nil
	return errors.Join(errs...)
}

// Run processes input end to end. Validation failures and collaborator
// failures abort the run; a segment that fails to track or render is
// skipped and recorded in Result.Skipped.
func (p *Pipeline) Run(ctx context.Context, input string, opts Options) (*Result, error) {
	result := &Result{Input: input, StartedAt: time.Now()}
	defer func() { result.FinishedAt = time.Now() }()

	p.logger.Info().Str("input", input).Str("selector", p.cfg.Selection.Mode).Msg("starting pipeline")

	src, err := media.Open(ctx, p.logger, p.ffmpeg, input, p.cfg.TempDir)
	if err != nil {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		return result, wrap(ErrValidation, 0, StageOpen, err)
	}
	defer src.Close()
	result.Duration = src.Duration()

	candidates, err := p.selectSegments(ctx, src)
	if err != nil {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		return result, wrap(ErrCollaborator, 0, StageSelect, err)
	}
	if len(candidates) == 0 {
		return result, wrap(ErrValidation, 0, StageSelect, ErrNoSegments)
	}
	result.Candidates = clips.Copy(candidates)

	outputDir := opts.OutputDir
	if outputDir == "" {
		outputDir = p.cfg.OutputDir
	}
	sink, err := media.NewSink(p.logger, p.ffmpeg, media.SinkOptions{
		OutputDir:  outputDir,
		Container:  p.cfg.Render.Container,
		FPS:        p.cfg.Render.FPS,
		VideoCodec: p.cfg.Render.VideoCodec,
		AudioCodec: p.cfg.Render.AudioCodec,
		CRF:        p.cfg.Render.CRF,
		Preset:     p.cfg.Render.Preset,
	})
	if err != nil {
		return result, wrap(ErrValidation, 0, StageOpen, err)
	}

	cooldown := util.Seconds(p.cfg.Pipeline.SegmentCooldown)
	for i, seg := range candidates {
		index := i + 1
		if i > 0 && cooldown > 0 {
			p.logger.Info().Dur("cooldown", cooldown).Msg("waiting before next segment")
			if err := retry.Sleep(ctx, cooldown); err != nil {
				return result, err
			}
		}

		reel, err := p.processSegment(ctx, src, sink, index, seg)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			if Fatal(err) {
				return result, err
			}
			var se *StageError
			if !errors.As(err, &se) {
				se = &StageError{Segment: index, Stage: StageRender, Err: err}
			}
			p.logger.Warn().Err(err).Int("segment", index).Str("stage", string(se.Stage)).Msg("segment skipped")
			result.Skipped = append(result.Skipped, se)
			continue
		}

		result.Reels = append(result.Reels, reel)
		if opts.OnReel != nil {
			opts.OnReel(reel)
		}
	}

	p.logger.Info().
		Int("candidates", len(candidates)).
		Int("reels", len(result.Reels)).
		Int("skipped", len(result.Skipped)).
		Msg("pipeline complete")

	return result, nil
}

// Analyze probes input and returns the segments a run would render, without
// rendering anything.
func (p *Pipeline) Analyze(ctx context.Context, input string) (*Analysis, error) {
	src, err := media.Open(ctx, p.logger, p.ffmpeg, input, p.cfg.TempDir)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, wrap(ErrValidation, 0, StageOpen, err)
	}
	defer src.Close()

	volume, err := p.ffmpeg.AnalyzeVolume(ctx, input)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.logger.Warn().Err(err).Msg("volume analysis failed")
	}

	candidates, err := p.selectSegments(ctx, src)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, wrap(ErrCollaborator, 0, StageSelect, err)
	}

	segments := make([]clips.Segment, 0, len(candidates))
	for _, seg := range candidates {
		segments = append(segments, seg.ClampTo(src.Duration()))
	}
	return &Analysis{Info: src.Info(), Volume: volume, Segments: segments}, nil
}

func (p *Pipeline) selectSegments(ctx context.Context, src *media.Source) ([]clips.Segment, error) {
	if s, ok := p.selector.(sourceSelector); ok {
		return s.SelectFromSource(ctx, src)
	}
	return p.selector.SelectSegments(ctx, src.Path())
}

func (p *Pipeline) processSegment(ctx context.Context, src *media.Source, sink *media.Sink, index int, seg clips.Segment) (Reel, error) {
	seg = seg.ClampTo(src.Duration())
	if err := seg.Validate(src.Duration()); err != nil {
		return Reel{}, wrap(ErrValidation, index, StageValidate, err)
	}

	logger := p.logger.With().Int("segment", index).Float64("start", seg.Start).Float64("end", seg.End).Logger()
	logger.Info().Str("reason", seg.Reason).Msg("processing segment")

	samples, err := p.tracker.Track(ctx, media.NewSegmentFrames(src, seg), seg.Duration(), p.cfg.Tracking.SampleInterval)
	if err != nil {
		return Reel{}, wrap(ErrRender, index, StageTrack, err)
	}
	plan := crop.Plan(samples, src.Width(), src.Height(), p.cfg.Crop.AspectRatio(), p.cfg.Crop.SmoothingWindow)

	timeline, err := p.transcribe(ctx, src, index, seg)
	if err != nil {
		return Reel{}, err
	}

	reader, err := src.NewSegmentReader(ctx, seg, p.cfg.Render.FPS)
	if err != nil {
		return Reel{}, wrap(ErrRender, index, StageRender, err)
	}
	defer reader.Close()

	path, err := sink.WriteReel(ctx, index, seg, src, plan.Width(), src.Height(),
		func(ctx context.Context, t float64) (*image.RGBA, error) {
			frame, err := reader.Next()
			if err != nil {
				return nil, err
			}
			return p.compositor.Render(frame, t, plan, timeline), nil
		})
	if err != nil {
		return Reel{}, wrap(ErrRender, index, StageRender, err)
	}

	reel := Reel{
		Index:   index,
		Segment: seg,
		Path:    path,
		Groups:  timeline.Groups(),
		Samples: len(samples),
	}

	if p.cfg.Captions.WriteSRT && timeline.Len() > 0 {
		srtPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".srt"
		if err := writeSRT(srtPath, timeline); err != nil {
			logger.Warn().Err(err).Msg("failed to write caption side-car")
		} else {
			reel.SRTPath = srtPath
		}
	}

	logger.Info().
		Str("output", path).
		Int("track_samples", len(samples)).
		Int("caption_groups", timeline.Len()).
		Msg("segment complete")
	return reel, nil
}

// transcribe extracts the segment audio to a scoped temp file and builds the
// caption timeline from the transcriber's tokens
func (p *Pipeline) transcribe(ctx context.Context, src *media.Source, index int, seg clips.Segment) (captions.Timeline, error) {
	opts := captions.OptionsFromConfig(p.cfg.Captions)
	if !p.cfg.Captions.Enabled {
		return captions.Build(nil, opts), nil
	}
	if _, ok := p.transcriber.(ai.NoopTranscriber); ok {
		return captions.Build(nil, opts), nil
	}

	var (
		tokens      []captions.Token
		transcribed bool
	)
	err := src.WithSegmentAudio(ctx, seg, func(path string) error {
		transcribed = true
		var err error
		tokens, err = p.transcriber.Transcribe(ctx, path)
		if err != nil {
			return err
		}
		return captions.ValidateOrder(tokens)
	})
	if err != nil {
		if !transcribed {
			return captions.Timeline{}, wrap(ErrRender, index, StageTranscribe, err)
		}
		return captions.Timeline{}, wrap(ErrCollaborator, index, StageTranscribe, err)
	}

	return captions.Build(tokens, opts), nil
}

func writeSRT(path string, timeline captions.Timeline) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := timeline.WriteSRT(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
