package mode

import (
	"context"
	"os"

	"github.com/khaledhikmat/vs-classifier/model"
	"github.com/khaledhikmat/vs-classifier/pipeline"
	"github.com/khaledhikmat/vs-classifier/service/config"
)

// demoConfig runs the pipeline without hardware or a model file.
type demoConfig struct {
	config.IService
}

func (c demoConfig) GetDevice() model.Device {
	device := c.IService.GetDevice()
	device.FramerType = model.FramerTypeRandom
	device.URL = ""
	return device
}

func (c demoConfig) GetClassifierParameters() config.ClassifierParameters {
	params := c.IService.GetClassifierParameters()
	params.Kind = config.ClassifierKindFake
	return params
}

func demoServices(svcs pipeline.ServicesFactory) pipeline.ServicesFactory {
	svcs.CfgSvc = demoConfig{svcs.CfgSvc}
	return svcs
}

// Demo feeds random frames to the fake classifier regardless of configuration.
func Demo(canxCtx context.Context, svcs pipeline.ServicesFactory) error {
	return session(canxCtx, "demo", demoServices(svcs), os.Stdout)
}
