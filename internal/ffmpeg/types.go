package ffmpeg

import (
	"time"

	"github.com/keagan/reelcutter/pkg/util"
)

// VideoInfo contains metadata about a video file
type VideoInfo struct {
	FilePath        string
	Duration        time.Duration
	Width           int
	Height          int
	FPS             float64
	Bitrate         int64
	VideoCodec      string
	HasAudio        bool
	AudioCodec      string
	AudioBitrate    int64
	AudioSampleRate int
	AudioChannels   int
}

// Seconds returns the container duration in seconds
func (v *VideoInfo) Seconds() float64 {
	return v.Duration.Seconds()
}

// Progress represents ffmpeg progress data
type Progress struct {
	Frame   int
	FPS     float64
	Bitrate string
	Time    string
	Speed   string
}

// RunOptions configures ffmpeg execution
type RunOptions struct {
	Args            []string
	ProgressHandler func(*Progress)
	LogHandler      func(line string)
}

// ProgressFunc is a callback for progress updates during ffmpeg operations.
// Called periodically with progress information as the operation executes.
type ProgressFunc func(*Progress)

// Default encoding settings
const (
	DefaultCRF        = 23
	DefaultPreset     = "medium"
	DefaultVideoCodec = "libx264"
	DefaultAudioCodec = "aac"
)

// Range selects a slice of the input in seconds. A zero Duration means
// "until the end of the input".
type Range struct {
	Start    float64
	Duration float64
}

// args renders the range as input seeking options
func (r Range) args() []string {
	var args []string
	if r.Start > 0 {
		args = append(args, "-ss", util.FormatDuration(util.Seconds(r.Start)))
	}
	if r.Duration > 0 {
		args = append(args, "-t", util.FormatDuration(util.Seconds(r.Duration)))
	}
	return args
}
