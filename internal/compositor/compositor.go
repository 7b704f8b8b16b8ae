package compositor

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strconv"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/keagan/reelcutter/internal/captions"
	"github.com/keagan/reelcutter/internal/config"
)

// Cropper yields the crop window at a segment timestamp
type Cropper interface {
	At(t float64) (x0, width int)
}

// CaptionLookup yields the caption group shown at a segment timestamp
type CaptionLookup interface {
	Active(t float64) (captions.Group, bool)
}

// Style controls caption appearance
type Style struct {
	FontSize      float64
	Spacing       int
	Padding       int
	BaselineRatio float64
	BackdropAlpha float64
	Text          color.Color
	Highlight     color.Color
}

// Compositor crops source frames and draws karaoke captions over them.
// It keeps a font face and is not safe for concurrent use.
type Compositor struct {
	style Style
	face  font.Face
}

// New creates a compositor using the bundled Go Bold font
func New(style Style) (*Compositor, error) {
	f, err := opentype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse caption font: %w", err)
	}
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    style.FontSize,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("create caption face: %w", err)
	}
	if style.Text == nil {
		style.Text = color.White
	}
	if style.Highlight == nil {
		style.Highlight = style.Text
	}
	return &Compositor{style: style, face: face}, nil
}

// StyleFromConfig maps caption configuration to a Style
func StyleFromConfig(cfg config.CaptionConfig) (Style, error) {
	text, err := ParseHexColor(cfg.TextColor)
	if err != nil {
		return Style{}, fmt.Errorf("captions.text_color: %w", err)
	}
	highlight, err := ParseHexColor(cfg.HighlightColor)
	if err != nil {
		return Style{}, fmt.Errorf("captions.highlight_color: %w", err)
	}
	return Style{
		FontSize:      cfg.FontSize,
		Spacing:       cfg.Spacing,
		Padding:       cfg.Padding,
		BaselineRatio: cfg.BaselineRatio,
		BackdropAlpha: cfg.BackdropAlpha,
		Text:          text,
		Highlight:     highlight,
	}, nil
}

// Close releases the font face
func (c *Compositor) Close() error {
	return c.face.Close()
}

// Render crops src at t and overlays the caption group active at t, if any.
// The result is width x src height where width comes from crop.
func (c *Compositor) Render(src image.Image, t float64, crop Cropper, lookup CaptionLookup) *image.RGBA {
	sb := src.Bounds()
	x0, w := crop.At(t)

	frame := image.NewRGBA(image.Rect(0, 0, w, sb.Dy()))
	draw.Draw(frame, frame.Bounds(), src, image.Pt(sb.Min.X+x0, sb.Min.Y), draw.Src)

	if lookup == nil {
		return frame
	}
	group, ok := lookup.Active(t)
	if !ok || len(group.Tokens) == 0 {
		return frame
	}

	layout := c.Layout(group, t, w, sb.Dy())
	c.drawBackdrop(frame, layout.Backdrop)
	for _, p := range layout.Tokens {
		if !p.Visible {
			continue
		}
		col := c.style.Text
		if p.Highlight {
			col = c.style.Highlight
		}
		d := font.Drawer{
			Dst:  frame,
			Src:  image.NewUniform(col),
			Face: c.face,
			Dot:  fixed.P(p.X, layout.Baseline),
		}
		d.DrawString(p.Token.Text)
	}
	return frame
}

func (c *Compositor) drawBackdrop(frame *image.RGBA, r image.Rectangle) {
	r = r.Intersect(frame.Bounds())
	if r.Empty() || c.style.BackdropAlpha <= 0 {
		return
	}
	a := uint8(c.style.BackdropAlpha*255 + 0.5)
	draw.Draw(frame, r, image.NewUniform(color.NRGBA{A: a}), image.Point{}, draw.Over)
}

// ParseHexColor parses #RRGGBB or #RRGGBBAA
func ParseHexColor(s string) (color.NRGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) != 6 && len(hex) != 8 {
		return color.NRGBA{}, fmt.Errorf("invalid colour %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid colour %q: %w", s, err)
	}
	if len(hex) == 6 {
		v = v<<8 | 0xff
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}
