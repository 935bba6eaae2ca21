package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/khaledhikmat/vs-classifier/model"
	"github.com/khaledhikmat/vs-classifier/service/inference"
	"github.com/khaledhikmat/vs-classifier/service/lgr"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"gocv.io/x/gocv"
	"golang.org/x/xerrors"
)

var ErrEmptyFrame = errors.New("empty frame")

// Observer is called on the main loop after every published observation set.
type Observer func(requestID string, set model.ObservationSet)

type GateOption func(*Gate)

func WithTracer(tracer trace.Tracer) GateOption {
	return func(g *Gate) {
		g.tracer = tracer
	}
}

func WithErrorStream(errorStream chan interface{}) GateOption {
	return func(g *Gate) {
		g.errorStream = errorStream
	}
}

func WithDevice(name string) GateOption {
	return func(g *Gate) {
		g.device = name
	}
}

// Gate admits at most one frame at a time into the classifier. Frames that
// arrive while a classification is outstanding are dropped, never queued.
type Gate struct {
	name        string
	device      string
	canxCtx     context.Context
	loop        *MainLoop
	tracer      trace.Tracer
	errorStream chan interface{}

	busy atomic.Bool

	// idle is open while a request is in flight and closed when it completes
	idleMu sync.Mutex
	idle   chan struct{}

	classifierMu sync.RWMutex
	classifier   inference.IService

	// latest is replaced only by jobs running on loop
	latestMu  sync.RWMutex
	latest    model.ObservationSet
	observers []Observer

	frames    atomic.Int64
	accepted  atomic.Int64
	dropped   atomic.Int64
	failed    atomic.Int64
	published atomic.Int64
	procTime  atomic.Int64 // nanoseconds spent in the classifier
	completed atomic.Int64
}

// NewGate builds an idle gate with no classifier. Classifications see the values
// of canxCtx but not its cancellation: a submitted request always runs to
// completion. Results are published through loop.
func NewGate(canxCtx context.Context, loop *MainLoop, opts ...GateOption) *Gate {
	g := &Gate{
		name:    "gate",
		canxCtx: context.WithoutCancel(canxCtx),
		loop:    loop,
		tracer:  noop.NewTracerProvider().Tracer("github.com/khaledhikmat/vs-classifier/pipeline"),
		latest:  model.ObservationSet{},
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

func (g *Gate) SetClassifier(classifier inference.IService) {
	g.classifierMu.Lock()
	defer g.classifierMu.Unlock()
	g.classifier = classifier
}

func (g *Gate) Classifier() inference.IService {
	g.classifierMu.RLock()
	defer g.classifierMu.RUnlock()
	return g.classifier
}

func (g *Gate) Busy() bool {
	return g.busy.Load()
}

// Observations returns a copy of the latest published set.
func (g *Gate) Observations() model.ObservationSet {
	g.latestMu.RLock()
	defer g.latestMu.RUnlock()
	return g.latest.Clone()
}

func (g *Gate) Observe(fn Observer) {
	g.latestMu.Lock()
	defer g.latestMu.Unlock()
	g.observers = append(g.observers, fn)
}

// OnFrame is the capture handler. It takes ownership of frame.Mat and never
// blocks on classification.
func (g *Gate) OnFrame(frame FrameData) {
	g.frames.Add(1)

	classifier := g.Classifier()
	if classifier == nil || !g.admit() {
		g.dropped.Add(1)
		frame.Mat.Close()
		return
	}

	g.accepted.Add(1)
	requestID := uuid.NewString()

	if frame.Mat.Empty() {
		frame.Mat.Close()
		g.onClassificationComplete(requestID, nil, ErrEmptyFrame)
		return
	}

	img := orient(frame.Mat, frame.Rotation)
	frame.Mat.Close()

	lgr.Logger.Debug(
		"frame submitted for classification",
		slog.String("requestID", requestID),
		slog.Int("sequence", frame.Sequence),
		slog.String("rotation", frame.Rotation.String()),
	)

	go func() {
		defer img.Close()
		candidates, err := g.classify(classifier, requestID, frame.Sequence, img)
		g.onClassificationComplete(requestID, candidates, err)
	}()
}

func (g *Gate) classify(classifier inference.IService, requestID string, sequence int, img gocv.Mat) (candidates []model.Candidate, err error) {
	ctx, span := g.tracer.Start(g.canxCtx, "classify", trace.WithAttributes(
		attribute.String("request.id", requestID),
		attribute.Int("frame.sequence", sequence),
		attribute.String("device", g.device),
	))
	defer span.End()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			candidates = nil
			err = xerrors.Errorf("classifier panic: %v", r)
		}

		g.procTime.Add(int64(time.Since(start)))
		g.completed.Add(1)

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Int("candidates", len(candidates)))
	}()

	return classifier.Classify(ctx, img)
}

func (g *Gate) admit() bool {
	g.idleMu.Lock()
	defer g.idleMu.Unlock()

	if !g.busy.CompareAndSwap(false, true) {
		return false
	}
	g.idle = make(chan struct{})
	return true
}

func (g *Gate) release() {
	g.idleMu.Lock()
	defer g.idleMu.Unlock()

	g.busy.Store(false)
	if g.idle != nil {
		close(g.idle)
		g.idle = nil
	}
}

// onClassificationComplete always clears the busy flag, whatever the outcome.
func (g *Gate) onClassificationComplete(requestID string, candidates []model.Candidate, err error) {
	defer g.release()

	if err != nil {
		g.failed.Add(1)
		lgr.Logger.Debug(
			"classification failed, keeping previous observations",
			slog.String("requestID", requestID),
			slog.Any("error", err),
		)

		// Never hold the gate waiting on a slow error consumer
		select {
		case g.errorStream <- model.GenError(g.name, err, map[string]interface{}{"requestID": requestID}, "classification failed"):
		default:
		}
		return
	}

	if len(candidates) == 0 {
		g.failed.Add(1)
		return
	}

	set := model.NewObservationSet(candidates)
	if !g.loop.Post(func() { g.publish(requestID, set) }) {
		lgr.Logger.Debug(
			"main loop stopped, observations discarded",
			slog.String("requestID", requestID),
		)
	}
}

// publish runs on the main loop.
func (g *Gate) publish(requestID string, set model.ObservationSet) {
	g.latestMu.Lock()
	g.latest = set
	observers := make([]Observer, len(g.observers))
	copy(observers, g.observers)
	g.latestMu.Unlock()

	g.published.Add(1)

	for _, fn := range observers {
		fn(requestID, set.Clone())
	}
}

// Wait blocks until no classification is outstanding.
func (g *Gate) Wait(ctx context.Context) error {
	for {
		g.idleMu.Lock()
		idle := g.idle
		g.idleMu.Unlock()

		if idle == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-idle:
		}
	}
}

func (g *Gate) Stats() model.GateStats {
	inFlight := 0
	if g.busy.Load() {
		inFlight = 1
	}

	var avgProcTime float64
	if completed := g.completed.Load(); completed > 0 {
		avgProcTime = time.Duration(g.procTime.Load()).Seconds() / float64(completed)
	}

	return model.GateStats{
		Name:        g.name,
		Device:      g.device,
		Frames:      g.frames.Load(),
		Accepted:    g.accepted.Load(),
		Dropped:     g.dropped.Load(),
		Failed:      g.failed.Load(),
		Published:   g.published.Load(),
		InFlight:    inFlight,
		AvgProcTime: avgProcTime,
	}
}
