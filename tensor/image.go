package tensor

import (
	"fmt"
	"image"
)

// FromImageGray converts an image to a [height, width, 1] Float32 tensor of
// luma values in 0..255, using the Rec. 601 weights.
func (e *Engine) FromImageGray(img image.Image) (*Tensor, error) {
	if img == nil {
		return nil, fmt.Errorf("FromImageGray: nil image")
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("FromImageGray: empty image %dx%d", w, h)
	}
	t := e.alloc([]int{h, w, 1}, Float32)
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			t.f32[i] = 0.299*float32(r>>8) + 0.587*float32(g>>8) + 0.114*float32(bl>>8)
			i++
		}
	}
	return t, nil
}

// FromImageGray converts an image on the default engine.
func FromImageGray(img image.Image) (*Tensor, error) {
	return Default().FromImageGray(img)
}
