package pipeline

import (
	"time"

	"github.com/keagan/reelcutter/internal/ai"
	"github.com/keagan/reelcutter/internal/captions"
	"github.com/keagan/reelcutter/internal/clips"
	"github.com/keagan/reelcutter/internal/ffmpeg"
	"github.com/keagan/reelcutter/internal/tracking"
)

// Deps are the collaborators a pipeline runs with. Nil fields are built
// from configuration.
type Deps struct {
	FFmpeg      *ffmpeg.Executor
	Selector    clips.Selector
	Transcriber ai.Transcriber
	Detector    tracking.Detector
}

// Options configures a single run
type Options struct {
	// OutputDir overrides the configured output directory.
	OutputDir string
	// OnReel is called after each reel is written.
	OnReel func(Reel)
}

// Reel is one rendered output
type Reel struct {
	Index   int
	Segment clips.Segment
	Path    string
	SRTPath string
	Groups  []captions.Group
	Samples int
}

// Result summarizes a run over one input
type Result struct {
	Input      string
	Duration   float64
	Candidates []clips.Segment
	Reels      []Reel
	// Skipped holds the per-segment failures that did not abort the run.
	Skipped    []*StageError
	StartedAt  time.Time
	FinishedAt time.Time
}

// Analysis describes an input and the segments selected from it
type Analysis struct {
	Info     ffmpeg.VideoInfo
	Volume   *ffmpeg.VolumeStats
	Segments []clips.Segment
}
