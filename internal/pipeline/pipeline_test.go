package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/keagan/reelcutter/internal/ai"
	"github.com/keagan/reelcutter/internal/captions"
	"github.com/keagan/reelcutter/internal/clips"
	"github.com/keagan/reelcutter/internal/config"
	"github.com/keagan/reelcutter/internal/ffmpeg"
	"github.com/keagan/reelcutter/internal/media"
	"github.com/keagan/reelcutter/internal/tracking"
	"github.com/rs/zerolog"
)

type fakeSelector struct {
	segments []clips.Segment
	err      error
}

func (f fakeSelector) SelectSegments(context.Context, string) ([]clips.Segment, error) {
	return clips.Copy(f.segments), f.err
}

type fakeTranscriber struct {
	tokens []captions.Token
	err    error
	calls  int
}

func (f *fakeTranscriber) Transcribe(_ context.Context, audioPath string) ([]captions.Token, error) {
	f.calls++
	if _, err := os.Stat(audioPath); err != nil {
		return nil, fmt.Errorf("audio not extracted: %w", err)
	}
	return f.tokens, f.err
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.TempDir = t.TempDir()
	cfg.OutputDir = t.TempDir()
	cfg.Render.Preset = "ultrafast"
	cfg.Render.FPS = 10
	return cfg
}

func TestStageErrorFormatting(t *testing.T) {
	tests := []struct {
		name string
		err  *StageError
		want string
	}{
		{"whole input", &StageError{Stage: StageOpen, Err: errors.New("boom")}, "open: boom"},
		{"segment", &StageError{Segment: 2, Stage: StageRender, Err: errors.New("boom")}, "segment 2: render: boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWrapAndFatal(t *testing.T) {
	cause := errors.New("cause")
	tests := []struct {
		name      string
		err       error
		marker    error
		wantFatal bool
	}{
		{"whole input validation", wrap(ErrValidation, 0, StageOpen, cause), ErrValidation, true},
		{"segment validation", wrap(ErrValidation, 3, StageValidate, cause), ErrValidation, false},
		{"collaborator", wrap(ErrCollaborator, 1, StageTranscribe, cause), ErrCollaborator, true},
		{"render", wrap(ErrRender, 1, StageRender, cause), ErrRender, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.marker) {
				t.Errorf("error %v does not match marker %v", tt.err, tt.marker)
			}
			if !errors.Is(tt.err, cause) {
				t.Errorf("error %v lost its cause", tt.err)
			}
			if got := Fatal(tt.err); got != tt.wantFatal {
				t.Errorf("Fatal() = %v, want %v", got, tt.wantFatal)
			}
		})
	}
}

func TestWrapDoesNotDoubleMark(t *testing.T) {
	inner := fmt.Errorf("%w: bad", ErrValidation)
	err := wrap(ErrValidation, 0, StageSelect, inner)
	want := "select: validation error: bad"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestRunMissingInput(t *testing.T) {
	cfg := testConfig(t)
	p, err := New(context.Background(), zerolog.Nop(), cfg, Deps{
		FFmpeg:      &ffmpeg.Executor{},
		Selector:    fakeSelector{},
		Transcriber: ai.NoopTranscriber{},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer p.Close()

	_, err = p.Run(context.Background(), filepath.Join(t.TempDir(), "missing.mp4"), Options{})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("Run() error = %v, want ErrValidation", err)
	}
	if !errors.Is(err, media.ErrSourceNotFound) {
		t.Errorf("Run() error = %v, want ErrSourceNotFound cause", err)
	}
	if !Fatal(err) {
		t.Error("missing input should be fatal")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Selection.Mode = "random"
	_, err := New(context.Background(), zerolog.Nop(), cfg, Deps{FFmpeg: &ffmpeg.Executor{}})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("New() error = %v, want ErrValidation", err)
	}
}

func TestNewWithoutAPIKeyFallsBackToNoCaptions(t *testing.T) {
	cfg := testConfig(t)
	cfg.Gemini.APIKeyEnv = "REELCUTTER_TEST_MISSING_KEY"
	t.Setenv(cfg.Gemini.APIKeyEnv, "")

	p, err := New(context.Background(), zerolog.Nop(), cfg, Deps{
		FFmpeg:   &ffmpeg.Executor{},
		Selector: fakeSelector{},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer p.Close()
	if _, ok := p.transcriber.(ai.NoopTranscriber); !ok {
		t.Errorf("transcriber = %T, want NoopTranscriber", p.transcriber)
	}
}

func TestNewWarnsWithoutDetector(t *testing.T) {
	cfg := testConfig(t)
	cfg.Tracking.Detector = config.DetectorNone
	cfg.Gemini.APIKeyEnv = "REELCUTTER_TEST_MISSING_KEY"
	t.Setenv(cfg.Gemini.APIKeyEnv, "")

	var buf bytes.Buffer
	p, err := New(context.Background(), zerolog.New(&buf), cfg, Deps{
		FFmpeg:   &ffmpeg.Executor{},
		Selector: fakeSelector{},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer p.Close()
	if !strings.Contains(buf.String(), "centered crop") {
		t.Errorf("missing detector warning in %q", buf.String())
	}
}

func TestNewGeminiSelectorNeedsKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.Selection.Mode = config.SelectorGemini
	cfg.Gemini.APIKeyEnv = "REELCUTTER_TEST_MISSING_KEY"
	t.Setenv(cfg.Gemini.APIKeyEnv, "")

	_, err := New(context.Background(), zerolog.Nop(), cfg, Deps{FFmpeg: &ffmpeg.Executor{}})
	if !errors.Is(err, ai.ErrMissingAPIKey) {
		t.Errorf("New() error = %v, want ErrMissingAPIKey", err)
	}
}

func skipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not found in PATH - install with: brew install ffmpeg")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not found in PATH - install with: brew install ffmpeg")
	}
}

func generateVideo(t *testing.T, seconds int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.mp4")
	cmd := exec.Command("ffmpeg", "-y",
		"-f", "lavfi", "-i", fmt.Sprintf("sine=frequency=440:duration=%d", seconds),
		"-f", "lavfi", "-i", fmt.Sprintf("testsrc=duration=%d:size=320x180:rate=10", seconds),
		"-pix_fmt", "yuv420p", "-shortest", path)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Skipf("could not generate test video: %v: %s", err, out)
	}
	return path
}

func newExecutor(t *testing.T) *ffmpeg.Executor {
	t.Helper()
	exec, err := ffmpeg.New(zerolog.Nop(), ffmpeg.Options{})
	if err != nil {
		t.Fatal(err)
	}
	return exec
}

func TestRunRendersReelsAndSkipsInvalidSegment(t *testing.T) {
	skipIfNoFFmpeg(t)
	input := generateVideo(t, 4)
	cfg := testConfig(t)
	cfg.Captions.WriteSRT = true

	transcriber := &fakeTranscriber{tokens: []captions.Token{
		{Start: 0.1, End: 0.4, Text: "hello"},
		{Start: 0.5, End: 0.9, Text: "there"},
	}}
	p, err := New(context.Background(), zerolog.Nop(), cfg, Deps{
		FFmpeg: newExecutor(t),
		Selector: fakeSelector{segments: []clips.Segment{
			{Start: 0, End: 1.5, Reason: "Opening line"},
			{Start: 3, End: 2, Reason: "Backwards"},
			{Start: 2, End: 10, Reason: "Past the end"},
		}},
		Transcriber: transcriber,
		Detector: tracking.FuncDetector(func(context.Context, image.Image) ([]image.Rectangle, error) {
			return nil, nil
		}),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer p.Close()

	var seen []int
	result, err := p.Run(context.Background(), input, Options{OnReel: func(r Reel) { seen = append(seen, r.Index) }})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(result.Candidates) != 3 {
		t.Errorf("candidates = %d, want 3", len(result.Candidates))
	}
	if len(result.Reels) != 2 {
		t.Fatalf("reels = %d, want 2", len(result.Reels))
	}
	if len(result.Skipped) != 1 || result.Skipped[0].Segment != 2 || result.Skipped[0].Stage != StageValidate {
		t.Errorf("skipped = %v, want segment 2 at validate", result.Skipped)
	}
	if len(seen) != 2 || seen[0] != 1 || seen[1] != 3 {
		t.Errorf("OnReel indices = %v, want [1 3]", seen)
	}

	first := result.Reels[0]
	if want := filepath.Join(cfg.OutputDir, "reel_1_Dynamic_Openingline.mp4"); first.Path != want {
		t.Errorf("path = %q, want %q", first.Path, want)
	}
	if _, err := os.Stat(first.Path); err != nil {
		t.Errorf("reel not written: %v", err)
	}
	if first.SRTPath == "" {
		t.Error("expected a caption side-car")
	} else if _, err := os.Stat(first.SRTPath); err != nil {
		t.Errorf("side-car not written: %v", err)
	}
	if len(first.Groups) != 1 || len(first.Groups[0].Tokens) != 2 {
		t.Errorf("groups = %+v, want one group of two tokens", first.Groups)
	}

	// the segment past the end is clamped to the source duration
	if last := result.Reels[1]; last.Segment.End > result.Duration+1e-9 {
		t.Errorf("segment end %v exceeds duration %v", last.Segment.End, result.Duration)
	}
	if transcriber.calls != 2 {
		t.Errorf("transcriber calls = %d, want 2", transcriber.calls)
	}
}

func TestRunAbortsOnTranscriberFailure(t *testing.T) {
	skipIfNoFFmpeg(t)
	input := generateVideo(t, 3)
	cfg := testConfig(t)

	p, err := New(context.Background(), zerolog.Nop(), cfg, Deps{
		FFmpeg: newExecutor(t),
		Selector: fakeSelector{segments: []clips.Segment{
			{Start: 0, End: 1, Reason: "a"},
			{Start: 1, End: 2, Reason: "b"},
		}},
		Transcriber: &fakeTranscriber{err: errors.New("quota exceeded")},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer p.Close()

	result, err := p.Run(context.Background(), input, Options{})
	if !errors.Is(err, ErrCollaborator) {
		t.Fatalf("Run() error = %v, want ErrCollaborator", err)
	}
	if len(result.Reels) != 0 {
		t.Errorf("reels = %d, want none after abort", len(result.Reels))
	}
	var se *StageError
	if !errors.As(err, &se) || se.Segment != 1 || se.Stage != StageTranscribe {
		t.Errorf("error = %v, want segment 1 at transcribe", err)
	}
}

func TestRunNoCandidates(t *testing.T) {
	skipIfNoFFmpeg(t)
	input := generateVideo(t, 2)
	p, err := New(context.Background(), zerolog.Nop(), testConfig(t), Deps{
		FFmpeg:      newExecutor(t),
		Selector:    fakeSelector{},
		Transcriber: ai.NoopTranscriber{},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer p.Close()

	_, err = p.Run(context.Background(), input, Options{})
	if !errors.Is(err, ErrNoSegments) || !errors.Is(err, ErrValidation) {
		t.Errorf("Run() error = %v, want ErrNoSegments", err)
	}
}

func TestRunSelectorFailure(t *testing.T) {
	skipIfNoFFmpeg(t)
	input := generateVideo(t, 2)
	p, err := New(context.Background(), zerolog.Nop(), testConfig(t), Deps{
		FFmpeg:      newExecutor(t),
		Selector:    fakeSelector{err: errors.New("remote down")},
		Transcriber: ai.NoopTranscriber{},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer p.Close()

	_, err = p.Run(context.Background(), input, Options{})
	if !errors.Is(err, ErrCollaborator) {
		t.Errorf("Run() error = %v, want ErrCollaborator", err)
	}
}
