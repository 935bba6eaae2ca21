package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/vs-classifier/mode"
	"github.com/khaledhikmat/vs-classifier/pipeline"
	"github.com/khaledhikmat/vs-classifier/service/config"
	"github.com/khaledhikmat/vs-classifier/service/data"
	"github.com/khaledhikmat/vs-classifier/service/lgr"
	"github.com/khaledhikmat/vs-classifier/service/tracing"
)

const (
	// WARNING: this has to be bigger than the mode processor shutdown time
	waitOnShutdown = 8 * time.Second
)

var modeProcessors = map[string]mode.Processor{
	"live": mode.Live,
	"demo": mode.Demo,
}

func main() {
	rootCtx := context.Background()
	canxCtx, canxFn := context.WithCancel(rootCtx)

	// Hook up a signal handler to cancel the context
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		lgr.Logger.Info(
			"received kill signal",
			slog.Any("signal", sig),
		)
		canxFn()
	}()

	// Load env vars if we are in DEV mode
	if os.Getenv("RUN_TIME_ENV") == "dev" || os.Getenv("RUN_TIME_ENV") == "" {
		lgr.Logger.Info("loading env vars from .env file")
		err := godotenv.Load()
		if err != nil {
			lgr.Logger.Warn("no .env file loaded", slog.Any("error", xerrors.Errorf("load .env: %w", err)))
		}
	}

	lgr.Configure(os.Getenv("RUN_TIME_ENV"), os.Getenv("LOG_LEVEL"))

	modeType := "live"
	args := os.Args[1:]
	if len(args) > 0 {
		modeType = args[0]
	}

	modeProc, ok := modeProcessors[modeType]
	if !ok {
		lgr.Logger.Error("invalid mode", slog.String("mode", modeType))
		os.Exit(2)
	}

	// Config service
	cfgSvc := config.NewEnv()
	// Data service
	dataSvc := data.NewJournal(cfgSvc)
	defer dataSvc.Close()

	// Tracing is optional: a bad exporter setting only loses the spans
	shutdownTracing, err := tracing.Configure(cfgSvc)
	if err != nil {
		lgr.Logger.Warn("tracing disabled", slog.Any("error", err))
		shutdownTracing = func(context.Context) error { return nil }
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			lgr.Logger.Error("error flushing traces", slog.Any("error", err))
		}
	}()

	svcs := pipeline.ServicesFactory{
		CfgSvc:  cfgSvc,
		DataSvc: dataSvc,
	}

	// Create mode processor result
	modeProcResult := make(chan error, 1)

	// Start the mode processor
	go func() {
		modeProcResult <- modeProc(canxCtx, svcs)
	}()

	// Wait for cancellation or mode proc
	select {
	case <-canxCtx.Done():
		lgr.Logger.Info(
			"classifier context cancelled",
		)

	case err := <-modeProcResult:
		if err != nil {
			lgr.Logger.Info(
				"classifier mode processor exited",
				slog.Any("error", err),
			)
		}
		// Cancel the context if not already cancelled
		canxFn()
		return
	}

	lgr.Logger.Info(
		"classifier is waiting for the mode processor to exit",
	)

	// Never wait longer than `waitOnShutdown` for the mode processor to drain
	timer := time.NewTimer(waitOnShutdown)
	defer timer.Stop()

	select {
	case <-timer.C:
		lgr.Logger.Info(
			"classifier shutdown waiting period expired. Exiting now",
			slog.Duration("period", waitOnShutdown),
		)

	case err := <-modeProcResult:
		if err != nil {
			lgr.Logger.Info(
				"classifier mode processor exited",
				slog.Any("error", err),
			)
		}
	}
}
