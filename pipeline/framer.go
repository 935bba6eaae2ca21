package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/khaledhikmat/vs-classifier/model"
	"github.com/khaledhikmat/vs-classifier/service/lgr"
	"gocv.io/x/gocv"
)

var ErrDeviceUnavailable = errors.New("capture device unavailable")

type frameSource interface {
	Read(m *gocv.Mat) bool
	Close() error
}

type sourceOpener func(device model.Device) (frameSource, error)

// Framer is the capture source. It delivers frames serially from a single
// background goroutine between Start and Stop.
type Framer struct {
	name        string
	device      model.Device
	maxErrors   int
	handler     FrameHandler
	open        sourceOpener
	errorStream chan interface{}
	statsStream chan interface{}

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewFramer(svcs ServicesFactory, device model.Device, handler FrameHandler, errorStream chan interface{}, statsStream chan interface{}) *Framer {
	f := &Framer{
		name:        "deviceFramer",
		device:      device,
		maxErrors:   svcs.CfgSvc.GetFramerMaxReadErrors(),
		handler:     handler,
		open:        openDevice,
		errorStream: errorStream,
		statsStream: statsStream,
	}

	if device.FramerType == model.FramerTypeRandom {
		f.name = "randomFramer"
		f.open = openRandom
	}

	return f
}

// Start begins frame delivery and returns immediately. It is a no-op while running.
func (f *Framer) Start(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	prev := f.done
	done := make(chan struct{})
	f.cancel = cancel
	f.done = done

	go f.run(runCtx, prev, done)
}

// Stop halts delivery and returns immediately. It is a no-op when stopped.
func (f *Framer) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cancel == nil {
		return
	}

	f.cancel()
	f.cancel = nil
}

func (f *Framer) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancel != nil
}

// Wait blocks until the most recently started capture goroutine has exited.
func (f *Framer) Wait() {
	f.mu.Lock()
	done := f.done
	f.mu.Unlock()

	if done != nil {
		<-done
	}
}

func (f *Framer) run(canxCtx context.Context, prev <-chan struct{}, done chan struct{}) {
	defer f.finish(done)

	// A restart must not open the device while the previous loop still holds it
	if prev != nil {
		select {
		case <-prev:
		case <-canxCtx.Done():
			return
		}
	}

	src, err := f.open(f.device)
	if err != nil {
		lgr.Logger.Warn(
			"capture device unavailable, no frames will be delivered",
			slog.String("framer", f.name),
			slog.String("device", f.device.Name),
			slog.Any("error", err),
		)
		emit(f.errorStream, model.GenError(f.name,
			err,
			map[string]interface{}{"device": f.device.Name},
			"error opening capture device"))
		return
	}
	defer src.Close()

	var startTime = time.Now()
	var frames = 0
	var errors = 0
	var consecutiveErrors = 0

	defer func() {
		uptime := time.Since(startTime)
		fps := 0
		if uptime >= time.Second {
			fps = int(float64(frames) / uptime.Seconds())
		}
		emit(f.statsStream, model.FramerStats{
			Name:   f.name,
			Device: f.device.Name,
			Frames: frames,
			Errors: errors,
			Uptime: int64(uptime.Seconds()),
			FPS:    fps,
		})
	}()

	// Capture frames and hand them to the handler until cancelled
	for {
		select {
		case <-canxCtx.Done():
			lgr.Logger.Info(
				"framer context cancelled",
				slog.String("framer", f.name),
			)
			return

		default:
			img := gocv.NewMat()
			if ok := src.Read(&img); !ok || img.Empty() {
				errors++
				consecutiveErrors++
				img.Close() // Crucial to close the image to avoid memory leaks

				if f.maxErrors > 0 && consecutiveErrors >= f.maxErrors {
					emit(f.errorStream, model.GenError(f.name,
						ErrDeviceUnavailable,
						map[string]interface{}{"device": f.device.Name, "errors": consecutiveErrors},
						"too many consecutive read errors"))
					return
				}
				continue
			}

			consecutiveErrors = 0
			frames++

			// The handler owns img from here on
			f.handler(FrameData{
				Mat:       img,
				Rotation:  f.device.Rotation,
				Sequence:  frames,
				Timestamp: time.Now(),
			})
		}
	}
}

func (f *Framer) finish(done chan struct{}) {
	f.mu.Lock()
	// The loop may end on its own (device error); allow a later Start
	if f.done == done && f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
	f.mu.Unlock()

	close(done)
}

func openDevice(device model.Device) (frameSource, error) {
	var target interface{} = device.Index
	if device.URL != "" {
		target = device.URL
	}

	webcam, err := gocv.OpenVideoCapture(target)
	if err != nil {
		return nil, err
	}

	if !webcam.IsOpened() {
		webcam.Close()
		return nil, ErrDeviceUnavailable
	}

	if device.Width > 0 && device.Height > 0 {
		webcam.Set(gocv.VideoCaptureFrameWidth, float64(device.Width))
		webcam.Set(gocv.VideoCaptureFrameHeight, float64(device.Height))
	}
	if device.FPS > 0 {
		webcam.Set(gocv.VideoCaptureFPS, float64(device.FPS))
	}

	return webcam, nil
}

// randomSource produces solid-colour frames at the device frame rate.
type randomSource struct {
	rows     int
	cols     int
	interval time.Duration
	rnd      *rand.Rand
	last     time.Time
}

func openRandom(device model.Device) (frameSource, error) {
	rows, cols := device.Height, device.Width
	if rows <= 0 || cols <= 0 {
		rows, cols = 480, 640
	}

	var interval time.Duration
	if device.FPS > 0 {
		interval = time.Second / time.Duration(device.FPS)
	}

	return &randomSource{
		rows:     rows,
		cols:     cols,
		interval: interval,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

func (s *randomSource) Read(m *gocv.Mat) bool {
	if wait := s.interval - time.Since(s.last); wait > 0 {
		time.Sleep(wait)
	}
	s.last = time.Now()

	img := gocv.NewMatWithSize(s.rows, s.cols, gocv.MatTypeCV8UC3) // 3 channels (BGR)
	defer img.Close()

	img.SetTo(gocv.NewScalar(s.rnd.Float64()*255, s.rnd.Float64()*255, s.rnd.Float64()*255, 0))
	img.CopyTo(m)
	return true
}

func (s *randomSource) Close() error {
	return nil
}
