package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/khaledhikmat/vs-classifier/model"
	"github.com/khaledhikmat/vs-classifier/service/lgr"
)

const envPrefix = "VSC_"

// envService reads VSC_* variables and falls back to the hardcoded values.
// Variables are read on every call so a .env loaded after construction still applies.
type envService struct {
	defaults IService
}

func NewEnv() IService {
	return &envService{
		defaults: NewHardCoded(),
	}
}

func (svc *envService) GetModeMaxShutdownTime() int {
	return envInt("MODE_MAX_SHUTDOWN_TIME", svc.defaults.GetModeMaxShutdownTime())
}

func (svc *envService) GetLogsFolder() string {
	return envString("LOGS_FOLDER", svc.defaults.GetLogsFolder())
}

func (svc *envService) GetDevice() model.Device {
	device := svc.defaults.GetDevice()
	device.ID = envString("DEVICE_ID", device.ID)
	device.Name = envString("DEVICE_NAME", device.Name)
	device.Index = envInt("DEVICE_INDEX", device.Index)
	device.URL = envString("DEVICE_URL", device.URL)
	device.FramerType = envString("FRAMER_TYPE", device.FramerType)
	device.FPS = envInt("DEVICE_FPS", device.FPS)
	device.Width = envInt("DEVICE_WIDTH", device.Width)
	device.Height = envInt("DEVICE_HEIGHT", device.Height)

	if v, ok := lookup("DEVICE_ROTATION"); ok {
		rotation, err := model.ParseRotation(v)
		if err != nil {
			warnInvalid("DEVICE_ROTATION", v, err)
		} else {
			device.Rotation = rotation
		}
	}

	return device
}

func (svc *envService) GetFramerMaxReadErrors() int {
	return envInt("FRAMER_MAX_READ_ERRORS", svc.defaults.GetFramerMaxReadErrors())
}

func (svc *envService) GetMainLoopQueueSize() int {
	return envInt("MAIN_LOOP_QUEUE_SIZE", svc.defaults.GetMainLoopQueueSize())
}

func (svc *envService) GetSessionStatsPeriodicTimeout() int {
	return envInt("SESSION_STATS_PERIODIC_TIMEOUT", svc.defaults.GetSessionStatsPeriodicTimeout())
}

func (svc *envService) GetClassifierParameters() ClassifierParameters {
	params := svc.defaults.GetClassifierParameters()
	params.Kind = envString("CLASSIFIER_KIND", params.Kind)
	params.ModelPath = envString("CLASSIFIER_MODEL_PATH", params.ModelPath)
	params.ConfigPath = envString("CLASSIFIER_CONFIG_PATH", params.ConfigPath)
	params.LabelsPath = envString("CLASSIFIER_LABELS_PATH", params.LabelsPath)
	params.InputWidth = envInt("CLASSIFIER_INPUT_WIDTH", params.InputWidth)
	params.InputHeight = envInt("CLASSIFIER_INPUT_HEIGHT", params.InputHeight)
	params.Scale = envFloat("CLASSIFIER_SCALE", params.Scale)
	params.SwapRB = envBool("CLASSIFIER_SWAP_RB", params.SwapRB)
	params.Softmax = envBool("CLASSIFIER_SOFTMAX", params.Softmax)
	params.TopK = envInt("CLASSIFIER_TOP_K", params.TopK)
	params.ConfidenceThreshold = float32(envFloat("CLASSIFIER_CONFIDENCE_THRESHOLD", float64(params.ConfidenceThreshold)))
	params.Latency = envInt("CLASSIFIER_LATENCY", params.Latency)
	params.Logging = envBool("CLASSIFIER_LOGGING", params.Logging)

	if v, ok := lookup("CLASSIFIER_LABELS"); ok {
		params.Labels = splitList(v)
	}

	if v, ok := lookup("CLASSIFIER_MEAN"); ok {
		parts := splitList(v)
		if len(parts) != 3 {
			warnInvalid("CLASSIFIER_MEAN", v, nil)
		} else {
			var mean [3]float64
			valid := true
			for i, p := range parts {
				f, err := strconv.ParseFloat(p, 64)
				if err != nil {
					warnInvalid("CLASSIFIER_MEAN", v, err)
					valid = false
					break
				}
				mean[i] = f
			}
			if valid {
				params.Mean = mean
			}
		}
	}

	return params
}

func (svc *envService) GetTracingExporter() string {
	return envString("TRACING_EXPORTER", svc.defaults.GetTracingExporter())
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func envString(key, def string) string {
	if v, ok := lookup(key); ok {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v, ok := lookup(key)
	if !ok {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		warnInvalid(key, v, err)
		return def
	}
	return i
}

func envFloat(key string, def float64) float64 {
	v, ok := lookup(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		warnInvalid(key, v, err)
		return def
	}
	return f
}

func envBool(key string, def bool) bool {
	v, ok := lookup(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		warnInvalid(key, v, err)
		return def
	}
	return b
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func warnInvalid(key, value string, err error) {
	lgr.Logger.Warn(
		"ignoring invalid config value",
		slog.String("key", envPrefix+key),
		slog.String("value", value),
		slog.Any("error", err),
	)
}
