package inference

import (
	"context"
	"time"

	"github.com/khaledhikmat/vs-classifier/model"
	"github.com/khaledhikmat/vs-classifier/service/config"
	"gocv.io/x/gocv"
)

var defaultFakeLabels = []string{"bird", "cat", "dog"}

// fakeService scores each label from the image's channel means, so the same
// image always yields the same candidates.
type fakeService struct {
	labels    []string
	topK      int
	threshold float32
	latency   time.Duration
}

func NewFake(params config.ClassifierParameters) IService {
	labels := params.Labels
	if len(labels) == 0 {
		labels = defaultFakeLabels
	}

	return &fakeService{
		labels:    labels,
		topK:      params.TopK,
		threshold: params.ConfidenceThreshold,
		latency:   time.Duration(params.Latency) * time.Millisecond,
	}
}

func (svc *fakeService) Classify(ctx context.Context, img gocv.Mat) ([]model.Candidate, error) {
	if img.Empty() {
		return nil, ErrEmptyImage
	}

	if svc.latency > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(svc.latency):
		}
	}

	mean := img.Mean()
	channels := []float64{mean.Val1, mean.Val2, mean.Val3}

	scores := make([]float32, len(svc.labels))
	for i := range scores {
		scores[i] = float32(channels[i%len(channels)] / 255.0 * 4)
	}

	return rank(svc.labels, softmax(scores), svc.topK, svc.threshold), nil
}

func (svc *fakeService) Close() error {
	return nil
}
