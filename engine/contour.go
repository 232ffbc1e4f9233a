package engine

import (
	"fmt"
	"sort"

	"DetStreamServer/tensor"

	"gocv.io/x/gocv"
)

// Sobel kernels laid out [h, w, in, out] for Conv2D.
var sobelX = []float32{-1, 0, 1, -2, 0, 2, -1, 0, 1}
var sobelY = []float32{-1, -2, -1, 0, 0, 0, 1, 2, 1}

// edgeGain scales the mean gradient magnitude into the edge threshold.
const edgeGain = 2.5

// minRegionArea drops components smaller than this many working-resolution
// pixels.
const minRegionArea = 16

// contourBackend finds high-gradient regions without a trained model. The
// Sobel pipeline runs on the tensor engine, connected edge components become
// boxes of class 0, and each box is scored by how much of its perimeter the
// component covers.
type contourBackend struct {
	eng       *tensor.Engine
	loaded    bool
	conf      float32
	iou       float32
	inputSize int
}

func newContourBackend() *contourBackend {
	return &contourBackend{inputSize: 416}
}

func (b *contourBackend) Exts() []string { return nil }

func (b *contourBackend) SetInputSize(size int) { b.inputSize = size }

func (b *contourBackend) SetBlobName(inputName, outputName string) {}

func (b *contourBackend) Init(_ string, conf, iou float32, _ bool) error {
	b.eng = tensor.NewEngine()
	b.conf = conf
	b.iou = iou
	b.loaded = true
	return nil
}

func (b *contourBackend) Close() {
	b.eng = nil
	b.loaded = false
}

func (b *contourBackend) Run(img gocv.Mat) (boxes []float32, scores []float32, classes []int32, err error) {
	if !b.loaded {
		return nil, nil, nil, fmt.Errorf("contour: backend not initialized")
	}
	if img.Empty() {
		return nil, nil, nil, fmt.Errorf("contour: empty image")
	}
	src, err := img.ToImage()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("contour: %w", err)
	}

	scale := 1
	mag, err := b.eng.Tidy(func() (*tensor.Tensor, error) {
		g, err := b.eng.FromImageGray(src)
		if err != nil {
			return nil, err
		}
		sh := g.Shape()
		x, err := tensor.Reshape(g, 1, sh[0], sh[1], 1)
		if err != nil {
			return nil, err
		}
		// halve the working resolution until it fits the input size
		for x.Shape()[1] > b.inputSize || x.Shape()[2] > b.inputSize {
			x, err = tensor.MaxPool2D(x, 2, 2, "same")
			if err != nil {
				return nil, err
			}
			scale *= 2
		}
		kx, err := b.eng.New(sobelX, 3, 3, 1, 1)
		if err != nil {
			return nil, err
		}
		ky, err := b.eng.New(sobelY, 3, 3, 1, 1)
		if err != nil {
			return nil, err
		}
		gx, err := tensor.Conv2D(x, kx, 1, "same")
		if err != nil {
			return nil, err
		}
		gy, err := tensor.Conv2D(x, ky, 1, "same")
		if err != nil {
			return nil, err
		}
		ax, err := tensor.Abs(gx)
		if err != nil {
			return nil, err
		}
		ay, err := tensor.Abs(gy)
		if err != nil {
			return nil, err
		}
		return tensor.Add(ax, ay)
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("contour: %w", err)
	}
	defer mag.Dispose()

	thresh, err := b.edgeThreshold(mag)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("contour: %w", err)
	}
	vals, err := mag.Float32s()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("contour: %w", err)
	}

	sh := mag.Shape()
	h, w := sh[1], sh[2]
	regions := findEdgeRegions(vals, w, h, thresh)
	regions = suppressOverlaps(regions, b.iou)

	srcW := float32(img.Cols())
	srcH := float32(img.Rows())
	for _, r := range regions {
		if r.score < b.conf {
			continue
		}
		left := float32(r.minX * scale)
		top := float32(r.minY * scale)
		right := float32((r.maxX + 1) * scale)
		bottom := float32((r.maxY + 1) * scale)
		if right > srcW {
			right = srcW
		}
		if bottom > srcH {
			bottom = srcH
		}
		boxes = append(boxes, left, top, right, bottom)
		scores = append(scores, r.score)
		classes = append(classes, 0)
	}
	return boxes, scores, classes, nil
}

// edgeThreshold puts the binarization cut at a multiple of the mean gradient
// magnitude.
func (b *contourBackend) edgeThreshold(mag *tensor.Tensor) (float32, error) {
	m, err := b.eng.Tidy(func() (*tensor.Tensor, error) {
		flat, err := tensor.Reshape(mag, -1)
		if err != nil {
			return nil, err
		}
		return tensor.Mean(flat, 0)
	})
	if err != nil {
		return 0, err
	}
	defer m.Dispose()
	mean, err := m.Item()
	if err != nil {
		return 0, err
	}
	return float32(mean) * edgeGain, nil
}

type edgeRegion struct {
	minX, minY int
	maxX, maxY int
	count      int
	score      float32
}

// findEdgeRegions groups edge pixels into 8-connected components and keeps
// their bounding boxes. The flood fill is iterative; recursion would blow the
// stack on long contours.
func findEdgeRegions(vals []float32, w, h int, thresh float32) []edgeRegion {
	edges := make([]bool, len(vals))
	for i, v := range vals {
		edges[i] = v >= thresh
	}
	visited := make([]bool, len(vals))
	var regions []edgeRegion
	var stack []int
	for start := range edges {
		if !edges[start] || visited[start] {
			continue
		}
		r := edgeRegion{minX: w, minY: h, maxX: -1, maxY: -1}
		stack = append(stack[:0], start)
		visited[start] = true
		for len(stack) > 0 {
			p := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			px, py := p%w, p/w
			if px < r.minX {
				r.minX = px
			}
			if px > r.maxX {
				r.maxX = px
			}
			if py < r.minY {
				r.minY = py
			}
			if py > r.maxY {
				r.maxY = py
			}
			r.count++
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := px+dx, py+dy
					if nx < 0 || ny < 0 || nx >= w || ny >= h {
						continue
					}
					n := ny*w + nx
					if edges[n] && !visited[n] {
						visited[n] = true
						stack = append(stack, n)
					}
				}
			}
		}
		bw := r.maxX - r.minX + 1
		bh := r.maxY - r.minY + 1
		if bw*bh < minRegionArea {
			continue
		}
		perimeter := 2 * (bw + bh)
		r.score = float32(r.count) / float32(perimeter)
		if r.score > 1 {
			r.score = 1
		}
		regions = append(regions, r)
	}
	return regions
}

// suppressOverlaps keeps the best-scoring region of any pair overlapping past
// the IoU threshold.
func suppressOverlaps(regions []edgeRegion, iou float32) []edgeRegion {
	if iou <= 0 || len(regions) < 2 {
		return regions
	}
	sort.Slice(regions, func(i, j int) bool { return regions[i].score > regions[j].score })
	var kept []edgeRegion
	for _, r := range regions {
		drop := false
		for _, k := range kept {
			if regionIoU(r, k) > iou {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, r)
		}
	}
	return kept
}

func regionIoU(a, b edgeRegion) float32 {
	ix := minInt(a.maxX, b.maxX) - maxInt(a.minX, b.minX) + 1
	iy := minInt(a.maxY, b.maxY) - maxInt(a.minY, b.minY) + 1
	if ix <= 0 || iy <= 0 {
		return 0
	}
	inter := ix * iy
	areaA := (a.maxX - a.minX + 1) * (a.maxY - a.minY + 1)
	areaB := (b.maxX - b.minX + 1) * (b.maxY - b.minY + 1)
	return float32(inter) / float32(areaA+areaB-inter)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
