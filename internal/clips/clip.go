package clips

import (
	"context"
	"fmt"
	"unicode"
)

// slugMaxRunes bounds the reason fragment embedded in output file names
const slugMaxRunes = 15

// Segment is a candidate highlight range in source seconds.
// Segments are values: stages copy them, never mutate them in place.
type Segment struct {
	Start  float64
	End    float64
	Score  float64
	Reason string
}

// Selector proposes highlight segments for a media file
type Selector interface {
	SelectSegments(ctx context.Context, mediaPath string) ([]Segment, error)
}

// Duration returns the segment length in seconds
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// Validate checks 0 <= start < end <= sourceDuration
func (s Segment) Validate(sourceDuration float64) error {
	if s.Start < 0 {
		return fmt.Errorf("segment start %.3f is negative", s.Start)
	}
	if s.End <= s.Start {
		return fmt.Errorf("segment end %.3f must be after start %.3f", s.End, s.Start)
	}
	if sourceDuration > 0 && s.End > sourceDuration {
		return fmt.Errorf("segment end %.3f exceeds source duration %.3f", s.End, sourceDuration)
	}
	return nil
}

// ClampTo returns a copy whose end does not exceed sourceDuration
func (s Segment) ClampTo(sourceDuration float64) Segment {
	if sourceDuration > 0 && s.End > sourceDuration {
		s.End = sourceDuration
	}
	return s
}

// Slug returns the reason with every non alphanumeric rune removed,
// truncated to 15 runes.
func (s Segment) Slug() string {
	out := make([]rune, 0, slugMaxRunes)
	for _, r := range s.Reason {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			continue
		}
		out = append(out, r)
		if len(out) == slugMaxRunes {
			break
		}
	}
	return string(out)
}

// ReelName builds the deterministic output file name for the segment at
// the given 1-based index.
func ReelName(index int, seg Segment, ext string) string {
	return fmt.Sprintf("reel_%d_Dynamic_%s.%s", index, seg.Slug(), ext)
}

// Copy returns an independent copy of segs
func Copy(segs []Segment) []Segment {
	if segs == nil {
		return nil
	}
	out := make([]Segment, len(segs))
	copy(out, segs)
	return out
}
