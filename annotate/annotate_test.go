package annotate

import (
	"image"
	"image/color"
	"testing"

	iface "DetStreamServer/interface"

	"gocv.io/x/gocv"
)

func TestPalette(t *testing.T) {
	p := NewPalette(8)
	if len(p) != 8 {
		t.Fatalf("palette has %d colors, want 8", len(p))
	}
	seen := map[color.RGBA]bool{}
	for i := 0; i < 8; i++ {
		c := p.ColorFor(i)
		if seen[c] {
			t.Errorf("color %d repeats %v", i, c)
		}
		seen[c] = true
	}
	if p.ColorFor(8) != p.ColorFor(0) {
		t.Error("ColorFor should wrap past the palette end")
	}
	if p.ColorFor(-3) != p.ColorFor(3) {
		t.Error("negative index should map to a valid color")
	}

	empty := Palette{}
	if c := empty.ColorFor(0); c.A == 0 {
		t.Error("empty palette should still return an opaque fallback")
	}
}

func TestCropROI(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 60))
	img.SetRGBA(50, 30, color.RGBA{R: 255, A: 255})

	tests := []struct {
		name    string
		r       image.Rectangle
		wantW   int
		wantH   int
		wantErr bool
	}{
		{"inside", image.Rect(40, 20, 60, 40), 20, 20, false},
		{"overhanging", image.Rect(90, 50, 200, 200), 10, 10, false},
		{"outside", image.Rect(200, 200, 300, 300), 0, 0, true},
		{"empty", image.Rect(10, 10, 10, 10), 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CropROI(img, tt.r)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CropROI(%v) error = %v, wantErr %v", tt.r, err, tt.wantErr)
			}
			if err != nil {
				return
			}
			b := got.Bounds()
			if b.Dx() != tt.wantW || b.Dy() != tt.wantH {
				t.Errorf("crop size %dx%d, want %dx%d", b.Dx(), b.Dy(), tt.wantW, tt.wantH)
			}
		})
	}
}

func TestThumbnail(t *testing.T) {
	wide := image.NewRGBA(image.Rect(0, 0, 400, 100))
	small := Thumbnail(wide, 200)
	if b := small.Bounds(); b.Dx() != 200 || b.Dy() != 50 {
		t.Errorf("thumbnail %dx%d, want 200x50", b.Dx(), b.Dy())
	}

	tall := image.NewRGBA(image.Rect(0, 0, 100, 400))
	small = Thumbnail(tall, 200)
	if b := small.Bounds(); b.Dx() != 50 || b.Dy() != 200 {
		t.Errorf("thumbnail %dx%d, want 50x200", b.Dx(), b.Dy())
	}

	tiny := image.NewRGBA(image.Rect(0, 0, 30, 20))
	if got := Thumbnail(tiny, 200); got != tiny {
		t.Error("image under the limit should come back unchanged")
	}
}

func TestPrepOCRKeepsSize(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 80, 24))
	out := PrepOCR(img)
	if b := out.Bounds(); b.Dx() != 80 || b.Dy() != 24 {
		t.Errorf("prepared size %dx%d, want 80x24", b.Dx(), b.Dy())
	}
}

func TestDrawDetections(t *testing.T) {
	mat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 120, 160, gocv.MatTypeCV8UC3)
	defer mat.Close()

	results := map[string][]iface.Result{
		"person": {{
			Conf: 0.9,
			Box: iface.Box{
				LT: iface.Position{X: 20, Y: 20},
				RT: iface.Position{X: 100, Y: 20},
				RB: iface.Position{X: 100, Y: 100},
				LB: iface.Position{X: 20, Y: 100},
			},
			Center: iface.Position{X: 60, Y: 60},
		}},
	}
	DrawDetections(&mat, results, NewPalette(4))

	// the stroked frame is no longer all black
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(mat, &gray, gocv.ColorBGRToGray)
	if gocv.CountNonZero(gray) == 0 {
		t.Error("DrawDetections left the frame untouched")
	}
}
