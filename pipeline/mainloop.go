package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/khaledhikmat/vs-classifier/service/lgr"
)

var ErrLoopStopped = errors.New("main loop stopped")

// MainLoop runs posted functions one at a time on the goroutine that calls Run.
// Every change the presenter can see is made from here.
type MainLoop struct {
	jobs     chan func()
	stopped  chan struct{}
	stopOnce sync.Once

	discarded atomic.Int64
}

func NewMainLoop(size int) *MainLoop {
	if size <= 0 {
		size = 1
	}

	return &MainLoop{
		jobs:    make(chan func(), size),
		stopped: make(chan struct{}),
	}
}

// Run executes jobs in order until ctx is done. Jobs still queued at that point are discarded.
func (l *MainLoop) Run(ctx context.Context) {
	defer l.stop()

	for {
		if ctx.Err() != nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		case fn := <-l.jobs:
			fn()
		}
	}
}

func (l *MainLoop) stop() {
	l.stopOnce.Do(func() { close(l.stopped) })

	discarded := 0
	for {
		select {
		case <-l.jobs:
			discarded++
		default:
			l.discarded.Add(int64(discarded))
			if discarded > 0 {
				lgr.Logger.Debug(
					"main loop stopped, queued jobs discarded",
					slog.Int("jobs", discarded),
				)
			}
			return
		}
	}
}

// Discarded counts jobs that were queued but never ran because the loop stopped.
func (l *MainLoop) Discarded() int64 {
	return l.discarded.Load()
}

// Post enqueues fn. It blocks while the queue is full and reports false once the
// loop has stopped. True means fn was queued: a job queued while the loop is
// stopping is discarded rather than run, and shows up in Discarded.
func (l *MainLoop) Post(fn func()) bool {
	select {
	case <-l.stopped:
		return false
	default:
	}

	select {
	case l.jobs <- fn:
		return true
	case <-l.stopped:
		return false
	}
}

// Sync returns once every job posted before it has run.
func (l *MainLoop) Sync(ctx context.Context) error {
	done := make(chan struct{})
	if !l.Post(func() { close(done) }) {
		return ErrLoopStopped
	}

	select {
	case <-done:
		return nil
	case <-l.stopped:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *MainLoop) Stopped() <-chan struct{} {
	return l.stopped
}
