package ai

import (
	"math"
	"sort"

	"github.com/keagan/reelcutter/internal/clips"
	"github.com/keagan/reelcutter/internal/config"
)

// EnergyProfiler ranks fixed-length windows of a soundtrack by loudness
type EnergyProfiler struct {
	Window      float64
	Step        float64
	TopK        int
	FrameLength int
	HopLength   int
	Reason      string
}

// NewEnergyProfiler builds a profiler from configuration
func NewEnergyProfiler(cfg config.EnergyConfig) EnergyProfiler {
	return EnergyProfiler{
		Window:      cfg.WindowSeconds,
		Step:        cfg.StepSeconds,
		TopK:        cfg.TopK,
		FrameLength: cfg.FrameLength,
		HopLength:   cfg.HopLength,
		Reason:      cfg.Reason,
	}
}

// ScoreSegments returns the TopK loudest windows, loudest first. A source no
// longer than one window yields no segments.
func (p EnergyProfiler) ScoreSegments(samples []float64, sampleRate int, duration float64) []clips.Segment {
	if sampleRate <= 0 || p.Window <= 0 || p.Step <= 0 || p.TopK <= 0 || duration <= p.Window {
		return nil
	}

	rms := RMS(samples, p.FrameLength, p.HopLength)
	hopSeconds := float64(p.HopLength) / float64(sampleRate)

	var windows []clips.Segment
	// k*Step rather than accumulation keeps window starts exact
	for k := 0; ; k++ {
		start := float64(k) * p.Step
		end := start + p.Window
		if end >= duration {
			break
		}

		first, last := frameSpan(start, end, hopSeconds, len(rms))
		if first >= last {
			continue
		}

		var sum float64
		for _, v := range rms[first:last] {
			sum += v
		}
		windows = append(windows, clips.Segment{
			Start:  start,
			End:    end,
			Score:  sum / float64(last-first),
			Reason: p.Reason,
		})
	}

	// Overlapping windows are kept as is; neighbours may both rank.
	sort.SliceStable(windows, func(i, j int) bool {
		return windows[i].Score > windows[j].Score
	})
	if len(windows) > p.TopK {
		windows = windows[:p.TopK]
	}
	return windows
}

// frameSpan returns the half-open index range of frames whose centers fall
// in [start, end). Frame i is centered at i*hopSeconds.
func frameSpan(start, end, hopSeconds float64, n int) (int, int) {
	first := int(math.Ceil(start/hopSeconds - 1e-9))
	last := int(math.Ceil(end/hopSeconds - 1e-9))
	if first > n {
		first = n
	}
	if last > n {
		last = n
	}
	return first, last
}

// RMS computes root-mean-square energy over centered frames. The signal is
// zero padded by frameLength/2 on both sides so frame i is centered on
// sample i*hopLength.
func RMS(samples []float64, frameLength, hopLength int) []float64 {
	if len(samples) == 0 || frameLength <= 0 || hopLength <= 0 {
		return nil
	}

	// prefix sums of squares make each frame O(1)
	squares := make([]float64, len(samples)+1)
	for i, v := range samples {
		squares[i+1] = squares[i] + v*v
	}

	pad := frameLength / 2
	out := make([]float64, 1+len(samples)/hopLength)
	for i := range out {
		lo := i*hopLength - pad
		hi := lo + frameLength
		sum := squares[min(max(hi, 0), len(samples))] - squares[min(max(lo, 0), len(samples))]
		out[i] = math.Sqrt(max(sum, 0) / float64(frameLength))
	}
	return out
}
