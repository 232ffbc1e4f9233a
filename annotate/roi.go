package annotate

import (
	"fmt"
	"image"

	"github.com/anthonynsimon/bild/adjust"
	"github.com/anthonynsimon/bild/effect"
	"github.com/disintegration/imaging"
)

// CropROI cuts a region out of an image. The region must intersect the image;
// it is trimmed to the bounds before cropping.
func CropROI(img image.Image, r image.Rectangle) (image.Image, error) {
	clipped := r.Intersect(img.Bounds())
	if clipped.Empty() {
		return nil, fmt.Errorf("region %v lies outside image %v", r, img.Bounds())
	}
	return imaging.Crop(img, clipped), nil
}

// Thumbnail scales the image down so its longest edge is maxEdge, keeping the
// aspect ratio. Images already small enough come back unchanged.
func Thumbnail(img image.Image, maxEdge int) image.Image {
	b := img.Bounds()
	if maxEdge <= 0 || (b.Dx() <= maxEdge && b.Dy() <= maxEdge) {
		return img
	}
	if b.Dx() >= b.Dy() {
		return imaging.Resize(img, maxEdge, 0, imaging.Lanczos)
	}
	return imaging.Resize(img, 0, maxEdge, imaging.Lanczos)
}

// PrepOCR flattens a region to high-contrast grayscale so the OCR pass sees
// clean glyph edges.
func PrepOCR(img image.Image) image.Image {
	g := effect.Grayscale(img)
	c := adjust.Contrast(g, 0.3)
	return effect.Sharpen(c)
}
