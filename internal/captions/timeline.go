package captions

import (
	"errors"
	"fmt"

	"github.com/keagan/reelcutter/internal/config"
)

// ErrTokenOrder is returned when tokens are not sorted by start time
var ErrTokenOrder = errors.New("tokens not in start order")

// Token is one transcribed word with its spoken time range in seconds
type Token struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"word"`
}

// Group is a run of tokens displayed together
type Group struct {
	Start  float64
	End    float64
	Tokens []Token
}

// Options controls how tokens are grouped and how long groups stay on screen
type Options struct {
	GroupSize int
	// BridgeGap is the largest silence a group is stretched across.
	BridgeGap   float64
	TrailingPad float64
	LastLinger  float64
	// ActiveBuffer extends every group's end during lookup.
	ActiveBuffer float64
}

// DefaultOptions returns the standard karaoke timing
func DefaultOptions() Options {
	return Options{
		GroupSize:    4,
		BridgeGap:    3.0,
		TrailingPad:  0.5,
		LastLinger:   1.5,
		ActiveBuffer: 0.5,
	}
}

// OptionsFromConfig maps caption configuration to timeline options
func OptionsFromConfig(cfg config.CaptionConfig) Options {
	return Options{
		GroupSize:    cfg.GroupSize,
		BridgeGap:    cfg.BridgeGap,
		TrailingPad:  cfg.TrailingPad,
		LastLinger:   cfg.LastLinger,
		ActiveBuffer: cfg.ActiveBuffer,
	}
}

// Timeline is the immutable group list of one segment
type Timeline struct {
	groups []Group
	buffer float64
}

// ValidateOrder checks tokens have non-decreasing start times
func ValidateOrder(tokens []Token) error {
	for i := 1; i < len(tokens); i++ {
		if tokens[i].Start < tokens[i-1].Start {
			return fmt.Errorf("%w: token %d (%q at %.3fs) starts before token %d (%.3fs)",
				ErrTokenOrder, i, tokens[i].Text, tokens[i].Start, i-1, tokens[i-1].Start)
		}
	}
	return nil
}

// Build partitions tokens into groups of opts.GroupSize and times them.
// Tokens are used in the order given.
func Build(tokens []Token, opts Options) Timeline {
	size := opts.GroupSize
	if size <= 0 {
		size = 1
	}

	var chunks [][]Token
	for i := 0; i < len(tokens); i += size {
		chunk := make([]Token, min(size, len(tokens)-i))
		copy(chunk, tokens[i:])
		chunks = append(chunks, chunk)
	}

	groups := make([]Group, 0, len(chunks))
	for i, chunk := range chunks {
		start := chunk[0].Start
		currentEnd := chunk[len(chunk)-1].End

		var end float64
		if i+1 < len(chunks) {
			nextStart := chunks[i+1][0].Start
			if nextStart > currentEnd && nextStart-currentEnd < opts.BridgeGap {
				end = nextStart
			} else {
				end = currentEnd + opts.TrailingPad
			}
		} else {
			end = currentEnd + opts.LastLinger
		}

		groups = append(groups, Group{Start: start, End: end, Tokens: chunk})
	}

	return Timeline{groups: groups, buffer: opts.ActiveBuffer}
}

// Active returns the first group with start <= t <= end + buffer
func (tl Timeline) Active(t float64) (Group, bool) {
	for _, g := range tl.groups {
		if g.Start <= t && t <= g.End+tl.buffer {
			return g, true
		}
	}
	return Group{}, false
}

// Groups returns a copy of the group list
func (tl Timeline) Groups() []Group {
	out := make([]Group, len(tl.groups))
	for i, g := range tl.groups {
		g.Tokens = append([]Token(nil), g.Tokens...)
		out[i] = g
	}
	return out
}

// Len returns the number of groups
func (tl Timeline) Len() int { return len(tl.groups) }

// Text joins the group's token texts with spaces
func (g Group) Text() string {
	var n int
	for _, tok := range g.Tokens {
		n += len(tok.Text) + 1
	}
	buf := make([]byte, 0, n)
	for i, tok := range g.Tokens {
		if i > 0 {
			buf = append(buf, ' ')
		}
		buf = append(buf, tok.Text...)
	}
	return string(buf)
}
