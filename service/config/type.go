package config

import "github.com/khaledhikmat/vs-classifier/model"

const (
	ClassifierKindFake = "fake"
	ClassifierKindDNN  = "dnn"
)

const (
	TracingExporterNone   = "none"
	TracingExporterStdout = "stdout"
)

type ClassifierParameters struct {
	Kind                string
	ModelPath           string
	ConfigPath          string
	LabelsPath          string
	Labels              []string // Used when LabelsPath is empty
	InputWidth          int
	InputHeight         int
	Scale               float64
	Mean                [3]float64
	SwapRB              bool
	Softmax             bool
	TopK                int
	ConfidenceThreshold float32
	Latency             int // Simulated latency in milliseconds (fake only)
	Logging             bool
}

type IService interface {
	GetModeMaxShutdownTime() int
	GetLogsFolder() string
	GetDevice() model.Device
	GetFramerMaxReadErrors() int
	GetMainLoopQueueSize() int
	GetSessionStatsPeriodicTimeout() int
	GetClassifierParameters() ClassifierParameters
	GetTracingExporter() string
}
