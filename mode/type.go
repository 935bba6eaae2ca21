package mode

import (
	"context"
	"log/slog"

	"github.com/khaledhikmat/vs-classifier/model"
	"github.com/khaledhikmat/vs-classifier/pipeline"
	"github.com/khaledhikmat/vs-classifier/service/data"
	"github.com/khaledhikmat/vs-classifier/service/lgr"
)

type Processor func(canxCtx context.Context, svcs pipeline.ServicesFactory) error

func procStats(datasvc data.IService, stats interface{}) {
	var err error
	switch stats := stats.(type) {
	case model.FramerStats:
		err = datasvc.NewFramerStats(stats)
	case model.GateStats:
		err = datasvc.NewGateStats(stats)
	case model.PresenterStats:
		err = datasvc.NewPresenterStats(stats)
	case model.SessionStats:
		err = datasvc.NewSessionStats(stats)
	default:
		lgr.Logger.Error(
			"unknown stats type",
			slog.Any("stats", stats),
		)
		return
	}

	if err != nil {
		lgr.Logger.Error(
			"failed to store stats",
			slog.Any("stats", stats),
			slog.Any("error", err),
		)
	}
}

func procError(datasvc data.IService, err interface{}) {
	errTemp := datasvc.NewError(err)
	if errTemp != nil {
		lgr.Logger.Error(
			"failed to store error",
			slog.Any("error", errTemp),
		)
	}
}
