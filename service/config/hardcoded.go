package config

import (
	"github.com/khaledhikmat/vs-classifier/model"
)

type hardcodedService struct {
}

func NewHardCoded() IService {
	return &hardcodedService{}
}

func (svc *hardcodedService) GetModeMaxShutdownTime() int {
	// For now, we are using a hardcoded value.
	// In the future, this should be read from a configuration file or environment variable.
	return 5
}

func (svc *hardcodedService) GetLogsFolder() string {
	return "./logs"
}

func (svc *hardcodedService) GetDevice() model.Device {
	// Platform default video input
	return model.Device{
		ID:         "default",
		Name:       "default",
		Index:      0,
		FramerType: model.FramerTypeDevice,
		Rotation:   model.RotationNone,
		FPS:        30,
		Width:      640,
		Height:     480,
	}
}

func (svc *hardcodedService) GetFramerMaxReadErrors() int {
	return 100
}

func (svc *hardcodedService) GetMainLoopQueueSize() int {
	return 16
}

func (svc *hardcodedService) GetSessionStatsPeriodicTimeout() int {
	return 30
}

func (svc *hardcodedService) GetClassifierParameters() ClassifierParameters {
	return ClassifierParameters{
		Kind:                ClassifierKindFake,
		ModelPath:           "./models/classifier.onnx",
		ConfigPath:          "",
		LabelsPath:          "",
		Labels:              []string{"bird", "cat", "dog"},
		InputWidth:          224,
		InputHeight:         224,
		Scale:               1.0 / 255.0,
		Mean:                [3]float64{0, 0, 0},
		SwapRB:              true,
		Softmax:             true,
		TopK:                3,
		ConfidenceThreshold: 0,
		Latency:             0,
		Logging:             false,
	}
}

func (svc *hardcodedService) GetTracingExporter() string {
	return TracingExporterNone
}
