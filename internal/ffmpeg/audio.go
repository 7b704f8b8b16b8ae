package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// AudioFormat defines audio extraction format options
type AudioFormat struct {
	Codec string
	// SampleRate of the output; 0 keeps the source rate.
	SampleRate int
	Channels   int
	Bitrate    string
}

// AnalysisFormat is mono 16-bit PCM, the layout the WAV decoder expects
func AnalysisFormat(sampleRate int) AudioFormat {
	return AudioFormat{
		Codec:      "pcm_s16le",
		SampleRate: sampleRate,
		Channels:   1,
	}
}

// TranscriptionFormat returns a compact mono WAV suited to speech models
func TranscriptionFormat() AudioFormat {
	return AudioFormat{
		Codec:      "pcm_s16le",
		SampleRate: 16000,
		Channels:   1,
	}
}

// ExtractAudio writes the audio of input within rng to output
func (e *Executor) ExtractAudio(ctx context.Context, input, output string, rng Range, format AudioFormat, progressFunc ProgressFunc) error {
	if input == "" || output == "" {
		return fmt.Errorf("input and output paths are required")
	}

	e.logger.Info().
		Str("input", input).
		Str("output", output).
		Float64("start", rng.Start).
		Float64("duration", rng.Duration).
		Str("codec", format.Codec).
		Int("sample_rate", format.SampleRate).
		Msg("extracting audio")

	args := rng.args()
	args = append(args,
		"-i", input,
		"-vn", // no video
		"-acodec", format.Codec,
	)
	if format.SampleRate > 0 {
		args = append(args, "-ar", strconv.Itoa(format.SampleRate))
	}
	if format.Channels > 0 {
		args = append(args, "-ac", strconv.Itoa(format.Channels))
	}
	if format.Bitrate != "" {
		args = append(args, "-b:a", format.Bitrate)
	}

	args = append(args, output)

	opts := RunOptions{
		Args:            args,
		ProgressHandler: progressFunc,
		LogHandler: func(line string) {
			e.logger.Debug().Str("ffmpeg", line).Msg("audio extraction")
		},
	}

	if err := e.Run(ctx, opts); err != nil {
		return fmt.Errorf("audio extraction failed: %w", err)
	}
	return nil
}

// VolumeStats holds volume analysis results
type VolumeStats struct {
	MeanVolume float64
	MaxVolume  float64
}

// AnalyzeVolume calculates volume statistics for audio/video file
func (e *Executor) AnalyzeVolume(ctx context.Context, input string) (*VolumeStats, error) {
	e.logger.Info().Str("input", input).Msg("analyzing volume")

	var stderrBuf bytes.Buffer
	var mu sync.Mutex

	opts := RunOptions{
		Args: []string{
			"-i", input,
			"-af", "volumedetect",
			"-vn",
			"-f", "null",
			"-",
		},
		LogHandler: func(line string) {
			mu.Lock()
			stderrBuf.WriteString(line + "\n")
			mu.Unlock()
		},
	}

	err := e.Run(ctx, opts)

	mu.Lock()
	output := stderrBuf.String()
	mu.Unlock()

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("volume analysis failed: %w", err)
	}

	if output == "" {
		return nil, fmt.Errorf("volume analysis produced no output")
	}

	return parseVolumeOutput(output), nil
}

// parseVolumeOutput extracts volume stats from ffmpeg output
func parseVolumeOutput(output string) *VolumeStats {
	stats := &VolumeStats{}

	for _, line := range strings.Split(output, "\n") {
		if v, ok := volumeField(line, "mean_volume:"); ok {
			stats.MeanVolume = v
		} else if v, ok := volumeField(line, "max_volume:"); ok {
			stats.MaxVolume = v
		}
	}

	return stats
}

func volumeField(line, key string) (float64, bool) {
	_, rest, ok := strings.Cut(line, key)
	if !ok {
		return 0, false
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	return v, err == nil
}
