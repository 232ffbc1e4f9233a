package iface

import "gocv.io/x/gocv"

// NamesConf carries class names either inline as []string or as the path to a
// one-name-per-line file.
type NamesConf struct {
	IsFile bool
	Data   any
}

type RetData struct {
	Success bool
	Data    any
	InferMs float64
}

type EngineConfig struct {
	UseGPU    bool
	ModelPath string
	Names     NamesConf
	Conf      float32
	Iou       float32
}

type Position struct {
	X, Y float32
}

type Box struct {
	LT Position
	RT Position
	RB Position
	LB Position
}

type Result struct {
	Conf   float32
	Box    Box
	Center Position
}

// Backend is the contract every inference backend satisfies. Detect never
// panics on bad input; failures come back as RetData with Success false.
type Backend interface {
	LoadModel(modelPath string, names NamesConf, conf float32, iou float32, useGPU bool) (bool, error)
	Detect(image gocv.Mat) RetData
	Destroy()
	CheckConfig() EngineConfig
	SetInputSize(size int)
	SetBlobName(inputName, outputName string)
}
