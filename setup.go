package main

import (
	"fmt"
	"os"

	"DetStreamServer/discovery"

	"gopkg.in/yaml.v3"
)

type configStruct struct {
	HTTPPort         int    `yaml:"HTTPPort"`
	RPCPort          int    `yaml:"RPCPort"`
	MonitorPort      int    `yaml:"MonitorPort"`
	WorkersNum       int    `yaml:"workersNum"`
	InstanceClass    string `yaml:"instanceClass"`
	UseRegServer     bool   `yaml:"UseRegServer"`
	RegServerPort    int    `yaml:"RegServerPort"`
	RegServerHost    string `yaml:"RegServerHost"`
	InferenceBackend string `yaml:"InferenceBackend"`
	ModelsDir        string `yaml:"modelsDir"`
	HistoryDB        string `yaml:"historyDB"`
	HistoryDays      int    `yaml:"historyDays"`
	JanitorSpec      string `yaml:"janitorSpec"`
	SelectionStroke  string `yaml:"selectionStroke"`
}

func defaultConfig() configStruct {
	return configStruct{
		HTTPPort:         8080,
		RPCPort:          50051,
		MonitorPort:      50053,
		WorkersNum:       1,
		InstanceClass:    "Cpu",
		UseRegServer:     false,
		RegServerPort:    8000,
		RegServerHost:    "127.0.0.1",
		InferenceBackend: "dnn",
		ModelsDir:        "models",
		HistoryDB:        "data/history.db",
		HistoryDays:      7,
		JanitorSpec:      "@hourly",
		SelectionStroke:  "#1e90ff",
	}
}

// loadConfig reads config.yaml. On first run the file does not exist yet; a
// default one is written so the operator has something to edit.
func loadConfig(path string) (configStruct, error) {
	configData, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		config := defaultConfig()
		data, merr := yaml.Marshal(config)
		if merr != nil {
			return config, merr
		}
		if werr := os.WriteFile(path, data, 0644); werr != nil {
			return config, fmt.Errorf("write default config: %w", werr)
		}
		fmt.Printf("First run: wrote default config to %s\n", path)
		return config, nil
	}
	if err != nil {
		return configStruct{}, fmt.Errorf("read config file: %w", err)
	}
	config := defaultConfig()
	if err := yaml.Unmarshal(configData, &config); err != nil {
		return configStruct{}, fmt.Errorf("parse config file: %w", err)
	}
	return config, nil
}

func instanceClassFromName(name string) int {
	switch name {
	case "Dml":
		return discovery.DmlInstance
	case "Cuda":
		return discovery.CudaInstance
	case "Rocm":
		return discovery.RocmInstance
	case "Cpu":
		return discovery.CpuInstance
	default:
		fmt.Println("Invalid instanceClass in config, defaulting to Cpu")
		return discovery.CpuInstance
	}
}
