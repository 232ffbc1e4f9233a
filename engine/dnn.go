package engine

import (
	"fmt"
	"image"
	"path/filepath"
	"strings"

	"gocv.io/x/gocv"
)

// dnnBackend runs detection through OpenCV's DNN module. Darknet weights load
// together with the sibling .cfg file; ONNX graphs load directly. Output rows
// follow the YOLO layout [cx, cy, w, h, obj, class scores...]; darknet
// emits them normalized to the frame, ONNX in input-square pixels.
type dnnBackend struct {
	net        gocv.Net
	loaded     bool
	darknet    bool
	conf       float32
	iou        float32
	inputSize  int
	inputName  string
	outputName string
	outNames   []string
}

func newDNNBackend() *dnnBackend {
	return &dnnBackend{inputSize: 416}
}

func (b *dnnBackend) Exts() []string { return []string{".onnx", ".weights"} }

func (b *dnnBackend) SetInputSize(size int) { b.inputSize = size }

func (b *dnnBackend) SetBlobName(inputName, outputName string) {
	b.inputName = inputName
	b.outputName = outputName
}

func (b *dnnBackend) Init(modelPath string, conf, iou float32, useGPU bool) error {
	var net gocv.Net
	switch filepath.Ext(modelPath) {
	case ".onnx":
		net = gocv.ReadNetFromONNX(modelPath)
	case ".weights":
		cfg := strings.TrimSuffix(modelPath, ".weights") + ".cfg"
		net = gocv.ReadNet(modelPath, cfg)
		b.darknet = true
	default:
		return fmt.Errorf("dnn: unsupported model file %s", modelPath)
	}
	if net.Empty() {
		return fmt.Errorf("dnn: failed to load %s", modelPath)
	}
	if useGPU {
		if err := net.SetPreferableBackend(gocv.NetBackendCUDA); err != nil {
			_ = net.Close()
			return fmt.Errorf("dnn: CUDA backend: %w", err)
		}
		if err := net.SetPreferableTarget(gocv.NetTargetCUDA); err != nil {
			_ = net.Close()
			return fmt.Errorf("dnn: CUDA target: %w", err)
		}
	}
	b.net = net
	b.conf = conf
	b.iou = iou
	b.outNames = outputLayerNames(&b.net)
	b.loaded = true
	return nil
}

func (b *dnnBackend) Close() {
	if b.loaded {
		_ = b.net.Close()
		b.loaded = false
	}
}

// outputLayerNames resolves the unconnected output layers; darknet YOLO nets
// have one per detection head. Layer ids are 1-based.
func outputLayerNames(net *gocv.Net) []string {
	names := net.GetLayerNames()
	var out []string
	for _, id := range net.GetUnconnectedOutLayers() {
		if id >= 1 && id <= len(names) {
			out = append(out, names[id-1])
		}
	}
	return out
}

func (b *dnnBackend) Run(img gocv.Mat) (boxes []float32, scores []float32, classes []int32, err error) {
	if !b.loaded {
		return nil, nil, nil, fmt.Errorf("dnn: model not loaded")
	}
	if img.Empty() {
		return nil, nil, nil, fmt.Errorf("dnn: empty image")
	}
	sz := b.inputSize
	blob := gocv.BlobFromImage(img, 1.0/255.0, image.Pt(sz, sz), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()
	b.net.SetInput(blob, b.inputName)

	outNames := b.outNames
	if b.outputName != "" {
		outNames = []string{b.outputName}
	}
	var outs []gocv.Mat
	if len(outNames) > 0 {
		outs = b.net.ForwardLayers(outNames)
	} else {
		outs = []gocv.Mat{b.net.Forward("")}
	}
	defer func() {
		for i := range outs {
			_ = outs[i].Close()
		}
	}()

	width := float32(img.Cols())
	height := float32(img.Rows())
	var rects []image.Rectangle
	var confs []float32
	var classIdx []int32
	for i := range outs {
		out := outs[i]
		if dims := out.Size(); len(dims) == 3 {
			// [1, rows, cols] from ONNX exports
			out = out.Reshape(1, dims[1])
			defer out.Close()
		}
		rows := out.Rows()
		cols := out.Cols()
		if cols < 6 {
			continue
		}
		for r := 0; r < rows; r++ {
			obj := out.GetFloatAt(r, 4)
			best := float32(0)
			bestIdx := 0
			for c := 5; c < cols; c++ {
				if s := out.GetFloatAt(r, c); s > best {
					best = s
					bestIdx = c - 5
				}
			}
			score := best
			if !b.darknet {
				score = obj * best
			}
			if score < b.conf {
				continue
			}
			cx := out.GetFloatAt(r, 0)
			cy := out.GetFloatAt(r, 1)
			w := out.GetFloatAt(r, 2)
			h := out.GetFloatAt(r, 3)
			if b.darknet {
				cx *= width
				cy *= height
				w *= width
				h *= height
			} else {
				cx *= width / float32(sz)
				cy *= height / float32(sz)
				w *= width / float32(sz)
				h *= height / float32(sz)
			}
			rects = append(rects, image.Rect(
				int(cx-w/2), int(cy-h/2),
				int(cx+w/2), int(cy+h/2),
			))
			confs = append(confs, score)
			classIdx = append(classIdx, int32(bestIdx))
		}
	}
	if len(rects) == 0 {
		return nil, nil, nil, nil
	}

	keep := gocv.NMSBoxes(rects, confs, b.conf, b.iou)
	boxes = make([]float32, 0, len(keep)*4)
	scores = make([]float32, 0, len(keep))
	classes = make([]int32, 0, len(keep))
	for _, k := range keep {
		r := clampRect(rects[k], int(width), int(height))
		boxes = append(boxes,
			float32(r.Min.X), float32(r.Min.Y),
			float32(r.Max.X), float32(r.Max.Y),
		)
		scores = append(scores, confs[k])
		classes = append(classes, classIdx[k])
	}
	return boxes, scores, classes, nil
}

func clampRect(r image.Rectangle, w, h int) image.Rectangle {
	return r.Intersect(image.Rect(0, 0, w, h))
}
