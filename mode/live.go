package mode

import (
	"context"
	"os"

	"github.com/khaledhikmat/vs-classifier/pipeline"
)

// Live classifies frames from the configured capture device.
func Live(canxCtx context.Context, svcs pipeline.ServicesFactory) error {
	return session(canxCtx, "live", svcs, os.Stdout)
}
