package pipeline

import (
	"time"

	"github.com/khaledhikmat/vs-classifier/model"
	"github.com/khaledhikmat/vs-classifier/service/config"
	"github.com/khaledhikmat/vs-classifier/service/data"
	"gocv.io/x/gocv"
)

// Sends on the stats/error streams give up after this long so a stalled
// consumer cannot wedge a pipeline stage.
const streamSendTimeout = 2 * time.Second

type ServicesFactory struct {
	CfgSvc  config.IService
	DataSvc data.IService
}

// FrameData is one captured image. Whoever receives it owns Mat and must close it.
type FrameData struct {
	Mat       gocv.Mat
	Rotation  model.Rotation
	Sequence  int
	Timestamp time.Time
}

// FrameHandler receives frames serially from the capture goroutine and must return promptly.
type FrameHandler func(frame FrameData)

func rotateFlag(r model.Rotation) (gocv.RotateFlag, bool) {
	switch r {
	case model.Rotation90Clockwise:
		return gocv.Rotate90Clockwise, true
	case model.Rotation180:
		return gocv.Rotate180Clockwise, true
	case model.Rotation90CounterClockwise:
		return gocv.Rotate90CounterClockwise, true
	default:
		return 0, false
	}
}

// orient returns a new Mat with the rotation applied. src is left untouched.
func orient(src gocv.Mat, r model.Rotation) gocv.Mat {
	flag, ok := rotateFlag(r)
	if !ok {
		return src.Clone()
	}

	dst := gocv.NewMat()
	gocv.Rotate(src, &dst, flag)
	return dst
}

func emit(stream chan interface{}, v interface{}) {
	if stream == nil {
		return
	}

	select {
	case stream <- v:
	case <-time.After(streamSendTimeout):
	}
}
