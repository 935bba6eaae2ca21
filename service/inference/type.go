package inference

import (
	"context"
	"errors"

	"github.com/khaledhikmat/vs-classifier/model"
	"gocv.io/x/gocv"
)

var ErrEmptyImage = errors.New("empty image")

// IService classifies one image. Classify may block for the duration of the
// inference; callers that must not block run it on their own goroutine.
type IService interface {
	Classify(ctx context.Context, img gocv.Mat) ([]model.Candidate, error)
	Close() error
}
