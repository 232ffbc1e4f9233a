package annotate

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// ReadRegionText runs OCR over one region of a frame. The region is cropped,
// prepared with PrepOCR and handed to Tesseract. An empty language falls back
// to Tesseract's default.
func ReadRegionText(img image.Image, r image.Rectangle, lang string) (string, error) {
	crop, err := CropROI(img, r)
	if err != nil {
		return "", err
	}
	prep := PrepOCR(crop)

	var buf bytes.Buffer
	if err := png.Encode(&buf, prep); err != nil {
		return "", fmt.Errorf("encode region: %w", err)
	}

	client := gosseract.NewClient()
	defer client.Close()
	if lang != "" {
		if err := client.SetLanguage(lang); err != nil {
			return "", fmt.Errorf("set language: %w", err)
		}
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("OCR failed: %w", err)
	}
	return strings.TrimSpace(text), nil
}
