package engine

import (
	"fmt"
	"os"
	"strings"

	"gocv.io/x/gocv"
)

const UNREGISTERED = 0x0001
const REGISTERED = 0x0002
const IDLE = 0x0003
const BUSY = 0x0004
const ERROR = 0x0005
const SingleThread = 0x1001
const MultiThread = 0x1002

// Backend names accepted by LoadEngine and Detector.NewWithBackend.
const DNNBackend = "dnn"
const ContourBackend = "contour"

// backend is the inference implementation behind a Detector. Run returns flat
// LTRB boxes in source-image pixels, one score and one class index per box.
type backend interface {
	Init(modelPath string, conf, iou float32, useGPU bool) error
	Run(img gocv.Mat) (boxes []float32, scores []float32, classes []int32, err error)
	Close()
	SetInputSize(size int)
	SetBlobName(inputName, outputName string)
	// Exts lists the model extensions the backend loads. Empty means the
	// backend needs no model file.
	Exts() []string
}

var useBackend = DNNBackend

// LoadEngine selects the inference backend new detectors are built on. An
// empty name keeps the default.
func LoadEngine(name string) error {
	switch name {
	case "":
		return nil
	case DNNBackend, ContourBackend:
		useBackend = name
		return nil
	default:
		return fmt.Errorf("unsupported inference backend: %s", name)
	}
}

func newBackend(name string) backend {
	switch name {
	case ContourBackend:
		return newContourBackend()
	case DNNBackend:
		return newDNNBackend()
	default:
		return nil
	}
}

// ReadLinesReadFile reads one class name per line, tolerating Windows CRLF
// endings and skipping blank lines.
func ReadLinesReadFile(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	raw := strings.Split(string(b), "\n")
	var lines []string
	for _, l := range raw {
		l = strings.TrimRight(l, "\r")
		if l != "" {
			lines = append(lines, l)
		}
	}
	return lines, nil
}
