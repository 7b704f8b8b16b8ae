package compositor

import (
	"image"

	"github.com/keagan/reelcutter/internal/captions"
	"golang.org/x/image/font"
)

// Placement positions one token of the caption run
type Placement struct {
	Token captions.Token
	X     int
	Width int
	// Visible is false until the token has been spoken.
	Visible   bool
	Highlight bool
}

// Layout is the caption geometry for one frame
type Layout struct {
	Baseline int
	Width    int
	Backdrop image.Rectangle
	Tokens   []Placement
}

// Layout measures the group and places it centered near the bottom of a
// frameW x frameH frame. Positions do not depend on t; only visibility and
// highlighting do.
func (c *Compositor) Layout(g captions.Group, t float64, frameW, frameH int) Layout {
	l := Layout{
		Baseline: int(float64(frameH) * c.style.BaselineRatio),
		Tokens:   make([]Placement, len(g.Tokens)),
	}

	for i, tok := range g.Tokens {
		w := font.MeasureString(c.face, tok.Text).Ceil()
		l.Tokens[i] = Placement{
			Token:     tok,
			Width:     w,
			Visible:   t >= tok.Start,
			Highlight: tok.Start <= t && t <= tok.End,
		}
		l.Width += w
	}
	if n := len(g.Tokens); n > 1 {
		l.Width += c.style.Spacing * (n - 1)
	}

	x := (frameW - l.Width) / 2
	for i := range l.Tokens {
		l.Tokens[i].X = x
		x += l.Tokens[i].Width + c.style.Spacing
	}

	start := (frameW - l.Width) / 2
	ascent := c.face.Metrics().Ascent.Ceil()
	pad := c.style.Padding
	l.Backdrop = image.Rect(start-pad, l.Baseline-ascent-pad, start+l.Width+pad, l.Baseline+pad)
	return l
}
