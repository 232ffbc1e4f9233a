// Package selection implements the two-layer rubber-band rectangle a stream
// client draws over its video frames. The primary layer shows the rectangle
// being dragged and is wiped on every move; the overlay keeps every committed
// rectangle. A Board is not safe for concurrent use; each stream session owns
// one.
package selection

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strconv"
)

// PointerKind is one of the four pointer transitions a board reacts to.
type PointerKind int

const (
	Down PointerKind = iota
	Move
	Up
	Out
)

func (k PointerKind) String() string {
	switch k {
	case Down:
		return "down"
	case Move:
		return "move"
	case Up:
		return "up"
	case Out:
		return "out"
	default:
		return fmt.Sprintf("pointer(%d)", int(k))
	}
}

// ParsePointerKind maps the wire names used in stream messages back to kinds.
func ParsePointerKind(s string) (PointerKind, error) {
	switch s {
	case "down":
		return Down, nil
	case "move":
		return Move, nil
	case "up":
		return Up, nil
	case "out":
		return Out, nil
	default:
		return 0, fmt.Errorf("unknown pointer kind %q", s)
	}
}

// Rect is an axis-aligned rectangle in board pixels. W and H are never
// negative; a zero-area rect marks a plain click.
type Rect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Update reports what one pointer event changed. Active is the rectangle
// currently being dragged, Committed the rectangle fixed by a release; both
// are nil when the event changed nothing.
type Update struct {
	Dragging  bool
	Active    *Rect
	Committed *Rect
}

// Board holds the drag state and the two drawing layers.
type Board struct {
	width  int
	height int
	stroke color.RGBA

	primary *image.RGBA
	overlay *image.RGBA

	down      bool
	startX    int
	startY    int
	prev      Rect
	committed *Rect
}

// NewBoard builds a board of the given size with a stroke color in
// "#RRGGBB" or "#RRGGBBAA" form.
func NewBoard(width, height int, strokeHex string) (*Board, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("board size %dx%d must be positive", width, height)
	}
	stroke, err := parseHexColor(strokeHex)
	if err != nil {
		return nil, fmt.Errorf("stroke color: %w", err)
	}
	b := &Board{width: width, height: height, stroke: stroke}
	b.allocLayers()
	return b, nil
}

func (b *Board) allocLayers() {
	b.primary = image.NewRGBA(image.Rect(0, 0, b.width, b.height))
	b.overlay = image.NewRGBA(image.Rect(0, 0, b.width, b.height))
}

// Size returns the board dimensions.
func (b *Board) Size() (width, height int) {
	return b.width, b.height
}

// Primary is the layer holding the in-progress rectangle.
func (b *Board) Primary() *image.RGBA { return b.primary }

// Overlay is the layer accumulating committed rectangles.
func (b *Board) Overlay() *image.RGBA { return b.overlay }

// Committed returns the most recently committed rectangle, or nil.
func (b *Board) Committed() *Rect {
	if b.committed == nil {
		return nil
	}
	r := *b.committed
	return &r
}

// Pointer feeds one pointer transition through the state machine.
//
// A press records the anchor; every move while pressed redraws the primary
// layer with the rectangle spanning anchor and cursor; a release strokes that
// rectangle onto the overlay and commits it; leaving the board cancels the
// press without committing. Moves without a press are ignored. Coordinates
// are clamped to the board.
func (b *Board) Pointer(kind PointerKind, x, y int) Update {
	x = clamp(x, 0, b.width-1)
	y = clamp(y, 0, b.height-1)
	switch kind {
	case Down:
		b.down = true
		b.startX = x
		b.startY = y
		// a press with no move commits a click at the anchor
		b.prev = Rect{X: x, Y: y}
		return Update{Dragging: true}
	case Move:
		if !b.down {
			return Update{}
		}
		r := normRect(b.startX, b.startY, x, y)
		clearLayer(b.primary)
		strokeRect(b.primary, r, b.stroke)
		b.prev = r
		active := r
		return Update{Dragging: true, Active: &active}
	case Up:
		if !b.down {
			return Update{}
		}
		b.down = false
		strokeRect(b.overlay, b.prev, b.stroke)
		committed := b.prev
		b.committed = &committed
		out := committed
		return Update{Committed: &out}
	case Out:
		b.down = false
		return Update{}
	default:
		return Update{}
	}
}

// SetRegion commits a rectangle directly, bypassing the pointer machine. The
// rect is clamped to the board before stroking.
func (b *Board) SetRegion(r Rect) Rect {
	if r.W < 0 {
		r.X, r.W = r.X+r.W, -r.W
	}
	if r.H < 0 {
		r.Y, r.H = r.Y+r.H, -r.H
	}
	x0 := clamp(r.X, 0, b.width-1)
	y0 := clamp(r.Y, 0, b.height-1)
	x1 := clamp(r.X+r.W, 0, b.width-1)
	y1 := clamp(r.Y+r.H, 0, b.height-1)
	clamped := Rect{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
	strokeRect(b.overlay, clamped, b.stroke)
	b.committed = &clamped
	return clamped
}

// ClearRegion drops the committed rectangle and wipes the overlay.
func (b *Board) ClearRegion() {
	b.committed = nil
	clearLayer(b.overlay)
}

// Reset wipes both layers and all drag state.
func (b *Board) Reset() {
	b.down = false
	b.startX = 0
	b.startY = 0
	b.prev = Rect{}
	b.committed = nil
	clearLayer(b.primary)
	clearLayer(b.overlay)
}

// Resize reallocates the layers for a new frame size and resets the board.
// A no-op when the size already matches.
func (b *Board) Resize(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("board size %dx%d must be positive", width, height)
	}
	if width == b.width && height == b.height {
		return nil
	}
	b.width = width
	b.height = height
	b.allocLayers()
	b.Reset()
	return nil
}

// PrimaryPNG encodes the primary layer as base64 PNG.
func (b *Board) PrimaryPNG() (string, error) {
	return encodePNG(b.primary)
}

// OverlayPNG encodes the overlay layer as base64 PNG.
func (b *Board) OverlayPNG() (string, error) {
	return encodePNG(b.overlay)
}

func encodePNG(img *image.RGBA) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// normRect builds the bounding rect of two corners, whichever way the drag
// went.
func normRect(x0, y0, x1, y1 int) Rect {
	if x1 < x0 {
		x0, x1 = x1, x0
	}
	if y1 < y0 {
		y0, y1 = y1, y0
	}
	return Rect{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clearLayer(img *image.RGBA) {
	for i := range img.Pix {
		img.Pix[i] = 0
	}
}

// strokeRect draws a one-pixel border. Coordinates are inclusive, so a
// zero-area rect paints a single pixel.
func strokeRect(img *image.RGBA, r Rect, c color.RGBA) {
	for x := r.X; x <= r.X+r.W; x++ {
		img.SetRGBA(x, r.Y, c)
		img.SetRGBA(x, r.Y+r.H, c)
	}
	for y := r.Y; y <= r.Y+r.H; y++ {
		img.SetRGBA(r.X, y, c)
		img.SetRGBA(r.X+r.W, y, c)
	}
}

// parseHexColor parses "#RRGGBB" or "#RRGGBBAA"; the alpha defaults to
// opaque.
func parseHexColor(hex string) (color.RGBA, error) {
	if len(hex) == 0 {
		return color.RGBA{}, fmt.Errorf("empty color string")
	}
	if hex[0] == '#' {
		hex = hex[1:]
	}
	var r, g, b, a uint8 = 0, 0, 0, 255
	switch len(hex) {
	case 6:
		val, err := strconv.ParseUint(hex, 16, 32)
		if err != nil {
			return color.RGBA{}, err
		}
		r = uint8(val >> 16)
		g = uint8(val >> 8)
		b = uint8(val)
	case 8:
		val, err := strconv.ParseUint(hex, 16, 64)
		if err != nil {
			return color.RGBA{}, err
		}
		r = uint8(val >> 24)
		g = uint8(val >> 16)
		b = uint8(val >> 8)
		a = uint8(val)
	default:
		return color.RGBA{}, fmt.Errorf("color %q must have 6 or 8 hex digits", hex)
	}
	return color.RGBA{R: r, G: g, B: b, A: a}, nil
}
