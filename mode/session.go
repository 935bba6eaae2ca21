package mode

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/khaledhikmat/vs-classifier/model"
	"github.com/khaledhikmat/vs-classifier/pipeline"
	"github.com/khaledhikmat/vs-classifier/service/data"
	"github.com/khaledhikmat/vs-classifier/service/inference"
	"github.com/khaledhikmat/vs-classifier/service/lgr"
	"go.opentelemetry.io/otel"
	"golang.org/x/xerrors"
)

const (
	tracerName       = "github.com/khaledhikmat/vs-classifier"
	streamBufferSize = 16
)

type loadResult struct {
	classifier inference.IService
	err        error
}

// session runs one capture-classify-present pipeline until canxCtx is done.
func session(canxCtx context.Context, modeName string, svcs pipeline.ServicesFactory, out io.Writer) error {
	cfgSvc := svcs.CfgSvc
	dataSvc := svcs.DataSvc
	device := cfgSvc.GetDevice()
	params := cfgSvc.GetClassifierParameters()

	sessionID := uuid.NewString()
	startTime := time.Now()

	lgr.Logger.Info(
		"session starting....",
		slog.String("sessionID", sessionID),
		slog.String("mode", modeName),
		slog.String("device", device.Name),
		slog.String("framerType", device.FramerType),
		slog.String("rotation", device.Rotation.String()),
		slog.String("classifier", params.Kind),
	)

	errorStream := make(chan interface{}, streamBufferSize)
	statsStream := make(chan interface{}, streamBufferSize)

	// The main loop outlives canxCtx so an in-flight classification can still publish during shutdown
	loopCtx, loopCanxFn := context.WithCancel(context.Background())
	defer loopCanxFn()

	loop := pipeline.NewMainLoop(cfgSvc.GetMainLoopQueueSize())
	go loop.Run(loopCtx)

	gate := pipeline.NewGate(canxCtx, loop,
		pipeline.WithDevice(device.Name),
		pipeline.WithErrorStream(errorStream),
		pipeline.WithTracer(otel.Tracer(tracerName)),
	)

	presenter := pipeline.NewPresenter(out)
	gate.Observe(presenter.Observer())

	if params.Logging {
		gate.Observe(func(requestID string, set model.ObservationSet) {
			err := dataSvc.NewObservations(model.ObservationsEntry{
				SessionID:    sessionID,
				RequestID:    requestID,
				Device:       device.Name,
				Observations: set,
			})
			if err != nil {
				lgr.Logger.Error(
					"failed to store observations",
					slog.String("requestID", requestID),
					slog.Any("error", err),
				)
			}
		})
	}

	framer := pipeline.NewFramer(svcs, device, gate.OnFrame, errorStream, statsStream)
	framer.Start(canxCtx)

	// Frames are dropped until the classifier is ready
	loaded := make(chan loadResult, 1)
	go func() {
		classifier, err := inference.New(params)
		loaded <- loadResult{classifier: classifier, err: err}
	}()

	var statsTick <-chan time.Time
	if period := cfgSvc.GetSessionStatsPeriodicTimeout(); period > 0 {
		ticker := time.NewTicker(time.Duration(period) * time.Second)
		defer ticker.Stop()
		statsTick = ticker.C
	}

	procSessionStats := func() {
		procStats(dataSvc, gate.Stats())
		procStats(dataSvc, presenter.Stats())
		procStats(dataSvc, model.SessionStats{
			ID:     sessionID,
			Mode:   modeName,
			Device: device.Name,
			Uptime: int64(time.Since(startTime).Seconds()),
		})
	}

	// Wait for cancellation, classifier load, stats or errors
	for {
		select {
		case <-canxCtx.Done():
			lgr.Logger.Info(
				"session context cancelled",
				slog.String("sessionID", sessionID),
			)
			goto resume

		case r := <-loaded:
			if r.err != nil {
				procError(dataSvc, model.GenError("session",
					xerrors.Errorf("load classifier: %w", r.err),
					map[string]interface{}{"kind": params.Kind, "model": params.ModelPath},
					"classifier unavailable, frames will be dropped"))
				continue
			}
			gate.SetClassifier(r.classifier)
			lgr.Logger.Info(
				"classifier ready",
				slog.String("sessionID", sessionID),
				slog.String("kind", params.Kind),
			)

		case <-statsTick:
			procSessionStats()

		case s := <-statsStream:
			procStats(dataSvc, s)

		case e := <-errorStream:
			procError(dataSvc, e)
		}
	}

resume:
	shutdownPeriod := time.Duration(cfgSvc.GetModeMaxShutdownTime()) * time.Second

	lgr.Logger.Info(
		"session is waiting for the pipeline to stop",
		slog.String("sessionID", sessionID),
	)

	framer.Stop()
	framer.Wait()

	// An in-flight classification is never cancelled; give it the shutdown period to finish
	waitCtx, waitCanxFn := context.WithTimeout(context.Background(), shutdownPeriod)
	err := gate.Wait(waitCtx)
	waitCanxFn()

	if err != nil {
		// Still in use; closing it now would pull the model out from under the request
		lgr.Logger.Warn(
			"classification still in flight at shutdown, classifier left open",
			slog.String("sessionID", sessionID),
			slog.Any("error", err),
		)
	} else if classifier := gate.Classifier(); classifier != nil {
		closeClassifier(classifier)
	}

	drain(dataSvc, statsStream, errorStream)
	procSessionStats()

	timer := time.NewTimer(shutdownPeriod)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			lgr.Logger.Info(
				"session shutdown waiting period expired. Exiting now",
				slog.String("sessionID", sessionID),
				slog.Duration("period", shutdownPeriod),
			)

			loopCanxFn()
			<-loop.Stopped()
			return nil

		case r := <-loaded:
			// Loaded after cancellation; never handed to the gate
			if r.err == nil {
				closeClassifier(r.classifier)
			}

		case s := <-statsStream:
			procStats(dataSvc, s)

		case e := <-errorStream:
			procError(dataSvc, e)
		}
	}
}

// drain journals whatever is already buffered on the streams without blocking.
func drain(dataSvc data.IService, statsStream, errorStream chan interface{}) {
	for {
		select {
		case s := <-statsStream:
			procStats(dataSvc, s)
		case e := <-errorStream:
			procError(dataSvc, e)
		default:
			return
		}
	}
}

func closeClassifier(classifier inference.IService) {
	if err := classifier.Close(); err != nil {
		lgr.Logger.Error(
			"failed to close classifier",
			slog.Any("error", err),
		)
	}
}
