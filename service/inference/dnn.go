package inference

import (
	"context"
	"image"
	"log/slog"
	"os"
	"sync"

	"github.com/khaledhikmat/vs-classifier/model"
	"github.com/khaledhikmat/vs-classifier/service/config"
	"github.com/khaledhikmat/vs-classifier/service/lgr"
	"gocv.io/x/gocv"
	"golang.org/x/xerrors"
)

// dnnService runs an image classification network through OpenCV's DNN module.
type dnnService struct {
	// WARNING: net is not thread-safe!!!
	mu     sync.Mutex
	net    gocv.Net
	labels []string
	params config.ClassifierParameters
}

// NewDNN loads the model once. It fails when the model or labels cannot be read.
func NewDNN(params config.ClassifierParameters) (IService, error) {
	if _, err := os.Stat(params.ModelPath); err != nil {
		return nil, xerrors.Errorf("classifier model %s: %w", params.ModelPath, err)
	}

	labels := params.Labels
	if params.LabelsPath != "" {
		var err error
		labels, err = loadLabels(params.LabelsPath)
		if err != nil {
			return nil, err
		}
	}

	net := gocv.ReadNet(params.ModelPath, params.ConfigPath)
	if net.Empty() {
		return nil, xerrors.Errorf("error reading classifier model %s", params.ModelPath)
	}

	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		return nil, xerrors.Errorf("error setting backend: %w", err)
	}

	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		return nil, xerrors.Errorf("error setting target: %w", err)
	}

	lgr.Logger.Info(
		"classifier model loaded",
		slog.String("model", params.ModelPath),
		slog.Int("labels", len(labels)),
		slog.String("openCV", gocv.Version()),
	)

	return &dnnService{
		net:    net,
		labels: labels,
		params: params,
	}, nil
}

func (svc *dnnService) Classify(ctx context.Context, img gocv.Mat) ([]model.Candidate, error) {
	if img.Empty() {
		return nil, ErrEmptyImage
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mean := gocv.NewScalar(svc.params.Mean[0], svc.params.Mean[1], svc.params.Mean[2], 0)
	size := image.Pt(svc.params.InputWidth, svc.params.InputHeight)
	blob := gocv.BlobFromImage(img, svc.params.Scale, size, mean, svc.params.SwapRB, false)
	defer blob.Close()

	svc.mu.Lock()
	svc.net.SetInput(blob, "")
	prob := svc.net.Forward("")
	svc.mu.Unlock()
	defer prob.Close()

	if prob.Empty() {
		return nil, xerrors.New("classifier produced no output")
	}

	data, err := prob.DataPtrFloat32()
	if err != nil {
		return nil, xerrors.Errorf("read classifier output: %w", err)
	}

	// prob owns data; copy before it is closed
	scores := make([]float32, len(data))
	copy(scores, data)

	if svc.params.Softmax {
		scores = softmax(scores)
	}

	return rank(svc.labels, scores, svc.params.TopK, svc.params.ConfidenceThreshold), nil
}

func (svc *dnnService) Close() error {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return svc.net.Close()
}
