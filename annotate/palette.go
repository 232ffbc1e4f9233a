// Package annotate draws detection results onto frames and prepares selected
// regions for cropping and OCR.
package annotate

import (
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
)

// Palette is a list of stroke colors, one per class.
type Palette []color.RGBA

// NewPalette spreads n saturated colors evenly around the hue wheel, so
// neighboring class indexes stay visually distinct.
func NewPalette(n int) Palette {
	if n < 1 {
		n = 1
	}
	p := make(Palette, n)
	for i := 0; i < n; i++ {
		c := colorful.Hsv(float64(i)*360.0/float64(n), 0.85, 0.95)
		r, g, b := c.RGB255()
		p[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return p
}

// ColorFor returns the color for a class index, wrapping past the end.
func (p Palette) ColorFor(i int) color.RGBA {
	if len(p) == 0 {
		return color.RGBA{R: 255, A: 255}
	}
	if i < 0 {
		i = -i
	}
	return p[i%len(p)]
}
