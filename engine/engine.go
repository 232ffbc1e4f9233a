package engine

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	iface "DetStreamServer/interface"

	"gocv.io/x/gocv"
)

// Detector wraps one inference backend behind the engine state machine. It is
// not safe for concurrent use; a worker owns its detector.
type Detector struct {
	ModelPath    string
	Names        []string
	Conf         float32
	Iou          float32
	UseGPU       bool
	State        int
	ErrorMessage string
	backendName  string
	backend      backend
}

// New builds the detector on the backend selected by LoadEngine.
func (d *Detector) New() bool {
	return d.NewWithBackend(useBackend)
}

// NewWithBackend builds the detector on a named backend, overriding the
// package default.
func (d *Detector) NewWithBackend(name string) bool {
	if name == "" {
		name = useBackend
	}
	d.backend = newBackend(name)
	if d.backend == nil {
		d.State = ERROR
		d.ErrorMessage = fmt.Sprintf("unsupported inference backend: %s", name)
		return false
	}
	d.backendName = name
	d.State = REGISTERED
	return true
}

// BackendName reports which backend the detector was built on.
func (d *Detector) BackendName() string {
	return d.backendName
}

func (d *Detector) CheckConfig() iface.EngineConfig {
	retConfig := iface.EngineConfig{}
	retConfig.ModelPath = d.ModelPath
	retConfig.Conf = d.Conf
	retConfig.Iou = d.Iou
	retConfig.UseGPU = d.UseGPU
	retConfig.Names = iface.NamesConf{
		IsFile: false,
		Data:   d.Names,
	}
	return retConfig
}

func (d *Detector) LoadModel(modelPath string, names iface.NamesConf, conf float32, iou float32, useGPU bool) (bool, error) {
	if d.backend == nil {
		return false, fmt.Errorf("detector not registered")
	}
	if names.IsFile {
		parsed, err := ReadLinesReadFile(names.Data.(string))
		if err != nil {
			return false, fmt.Errorf("read names file: %w", err)
		}
		d.Names = parsed
	} else {
		rv := reflect.ValueOf(names.Data)
		if rv.Kind() != reflect.Slice {
			return false, fmt.Errorf("names must be a slice or a file path")
		}
		n := rv.Len()
		d.Names = make([]string, n)
		for i := 0; i < n; i++ {
			d.Names[i] = rv.Index(i).Interface().(string)
		}
	}
	if err := checkModelExt(d.backendName, modelPath, d.backend.Exts()); err != nil {
		return false, err
	}
	d.ModelPath = modelPath
	d.Conf = conf
	d.Iou = iou
	d.UseGPU = useGPU
	if err := d.backend.Init(modelPath, conf, iou, useGPU); err != nil {
		d.State = ERROR
		d.ErrorMessage = err.Error()
		return false, err
	}
	d.State = IDLE
	d.ErrorMessage = ""
	return true, nil
}

func checkModelExt(backendName, modelPath string, exts []string) error {
	if len(exts) == 0 {
		return nil
	}
	for _, ext := range exts {
		if strings.HasSuffix(modelPath, ext) {
			return nil
		}
	}
	return fmt.Errorf("%s.LoadModel only supports %s", backendName, strings.Join(exts, "/"))
}

func (d *Detector) Destroy() {
	if d.backend != nil {
		d.backend.Close()
	}
	d.ModelPath = ""
	d.Names = nil
	d.Conf = 0
	d.Iou = 0
	d.UseGPU = false
	d.backend = nil
	d.backendName = ""
	d.ErrorMessage = ""
	d.State = UNREGISTERED
}

// Detect runs one frame through the backend and groups the boxes by class
// name. The elapsed forward time comes back in InferMs even on failure.
func (d *Detector) Detect(img gocv.Mat) iface.RetData {
	switch d.State {
	case UNREGISTERED:
		return iface.RetData{Success: false, Data: "Detector not registered"}
	case REGISTERED:
		return iface.RetData{Success: false, Data: "Model not loaded"}
	case BUSY:
		return iface.RetData{Success: false, Data: "Detector is busy"}
	case ERROR:
		return iface.RetData{Success: false, Data: d.ErrorMessage}
	}
	d.State = BUSY
	start := time.Now()
	boxes, scores, classes, err := d.backend.Run(img)
	inferMs := float64(time.Since(start).Microseconds()) / 1000.0
	if err != nil {
		d.State = IDLE
		return iface.RetData{Success: false, Data: err.Error(), InferMs: inferMs}
	}
	resultDict := make(map[string][]iface.Result)
	for item := range d.Names {
		resultDict[d.Names[item]] = []iface.Result{}
	}
	for i := 0; i < len(classes); i++ {
		classIdx := int(classes[i])
		if classIdx < 0 || classIdx >= len(d.Names) {
			continue
		}
		conf := scores[i]
		box := iface.Box{
			LT: iface.Position{X: boxes[i*4], Y: boxes[i*4+1]},
			RT: iface.Position{X: boxes[i*4+2], Y: boxes[i*4+1]},
			RB: iface.Position{X: boxes[i*4+2], Y: boxes[i*4+3]},
			LB: iface.Position{X: boxes[i*4], Y: boxes[i*4+3]},
		}
		center := iface.Position{
			X: (box.LT.X + box.RB.X) / 2,
			Y: (box.LT.Y + box.RB.Y) / 2,
		}
		res := iface.Result{
			Conf:   conf,
			Box:    box,
			Center: center,
		}
		className := d.Names[classIdx]
		resultDict[className] = append(resultDict[className], res)
	}
	d.State = IDLE
	return iface.RetData{Success: true, Data: resultDict, InferMs: inferMs}
}

func (d *Detector) SetInputSize(size int) {
	if d.backend != nil && size > 0 {
		d.backend.SetInputSize(size)
	}
}

func (d *Detector) SetBlobName(inputName, outputName string) {
	if d.backend != nil {
		d.backend.SetBlobName(inputName, outputName)
	}
}
