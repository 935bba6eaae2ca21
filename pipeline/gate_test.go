package pipeline

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/khaledhikmat/vs-classifier/model"
	"gocv.io/x/gocv"
)

// stubClassifier records how it is called and how many calls overlap.
type stubClassifier struct {
	mu         sync.Mutex
	candidates []model.Candidate
	err        error
	panicMsg   string
	release    chan struct{}
	delay      time.Duration
	lastRows   int
	lastCols   int

	calls       atomic.Int32
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (s *stubClassifier) set(candidates []model.Candidate, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates = candidates
	s.err = err
}

func (s *stubClassifier) Classify(_ context.Context, img gocv.Mat) ([]model.Candidate, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		cur := s.maxInFlight.Load()
		if n <= cur || s.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	s.calls.Add(1)

	s.mu.Lock()
	release, delay, panicMsg := s.release, s.delay, s.panicMsg
	candidates, err := s.candidates, s.err
	s.lastRows, s.lastCols = img.Rows(), img.Cols()
	s.mu.Unlock()

	if release != nil {
		<-release
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	if panicMsg != "" {
		panic(panicMsg)
	}

	return candidates, err
}

func (s *stubClassifier) Close() error {
	return nil
}

func newTestGate(t *testing.T, opts ...GateOption) (*Gate, *MainLoop) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	loop := NewMainLoop(8)
	go loop.Run(ctx)

	return NewGate(ctx, loop, opts...), loop
}

func newTestFrame(rows, cols int, rotation model.Rotation) FrameData {
	img := gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV8UC3)
	return FrameData{
		Mat:       img,
		Rotation:  rotation,
		Timestamp: time.Now(),
	}
}

// settle waits for the outstanding request and for its publication.
func settle(t *testing.T, g *Gate, loop *MainLoop) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := g.Wait(ctx); err != nil {
		t.Fatalf("gate did not become idle: %v", err)
	}
	if err := loop.Sync(ctx); err != nil {
		t.Fatalf("main loop sync: %v", err)
	}
}

func equalSets(a, b model.ObservationSet) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || w != v {
			return false
		}
	}
	return true
}

func TestGate_DropsWithoutClassifier(t *testing.T) {
	g, loop := newTestGate(t)

	g.OnFrame(newTestFrame(4, 4, model.RotationNone))
	settle(t, g, loop)

	if g.Busy() {
		t.Error("gate should stay idle without a classifier")
	}
	stats := g.Stats()
	if stats.Accepted != 0 || stats.Dropped != 1 {
		t.Errorf("stats = %+v, want 0 accepted 1 dropped", stats)
	}
	if len(g.Observations()) != 0 {
		t.Errorf("Observations() = %v, want empty", g.Observations())
	}
}

func TestGate_PublishesObservations(t *testing.T) {
	g, loop := newTestGate(t)
	stub := &stubClassifier{}
	stub.set([]model.Candidate{{Label: "cat", Confidence: 0.95}, {Label: "dog", Confidence: 0.3}}, nil)
	g.SetClassifier(stub)

	g.OnFrame(newTestFrame(4, 4, model.RotationNone))
	settle(t, g, loop)

	want := model.ObservationSet{"cat": 0.95, "dog": 0.3}
	if got := g.Observations(); !equalSets(got, want) {
		t.Fatalf("Observations() = %v, want %v", got, want)
	}

	rows := Present(g.Observations())
	wantRows := []struct {
		label   string
		percent string
		opacity float64
	}{
		{"cat", "95%", 0.975},
		{"dog", "30%", 0.65},
	}
	if len(rows) != len(wantRows) {
		t.Fatalf("Present() = %+v", rows)
	}
	for i, w := range wantRows {
		if rows[i].Label != w.label || rows[i].Percent != w.percent {
			t.Errorf("row %d = %+v, want %s %s", i, rows[i], w.label, w.percent)
		}
		if math.Abs(rows[i].Opacity-w.opacity) > 1e-6 {
			t.Errorf("row %d opacity = %v, want %v", i, rows[i].Opacity, w.opacity)
		}
	}

	if stats := g.Stats(); stats.Published != 1 || stats.Accepted != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestGate_DuplicateLabelsLastWins(t *testing.T) {
	g, loop := newTestGate(t)
	stub := &stubClassifier{}
	stub.set([]model.Candidate{{Label: "cat", Confidence: 0.2}, {Label: "cat", Confidence: 0.7}}, nil)
	g.SetClassifier(stub)

	g.OnFrame(newTestFrame(4, 4, model.RotationNone))
	settle(t, g, loop)

	if got := g.Observations(); !equalSets(got, model.ObservationSet{"cat": 0.7}) {
		t.Errorf("Observations() = %v", got)
	}
}

func TestGate_DropsWhileBusy(t *testing.T) {
	g, loop := newTestGate(t)
	release := make(chan struct{})
	stub := &stubClassifier{release: release}
	stub.set([]model.Candidate{{Label: "cat", Confidence: 0.5}}, nil)
	g.SetClassifier(stub)

	g.OnFrame(newTestFrame(4, 4, model.RotationNone))
	if !g.Busy() {
		t.Fatal("gate should be busy after accepting a frame")
	}

	for i := 0; i < 10; i++ {
		g.OnFrame(newTestFrame(4, 4, model.RotationNone))
	}

	// Dropped frames never reach the classifier or the observations
	if got := len(g.Observations()); got != 0 {
		t.Errorf("observations changed while busy: %d", got)
	}

	close(release)
	settle(t, g, loop)

	if calls := stub.calls.Load(); calls != 1 {
		t.Errorf("classifier calls = %d, want 1", calls)
	}
	stats := g.Stats()
	if stats.Accepted != 1 || stats.Dropped != 10 {
		t.Errorf("stats = %+v, want 1 accepted 10 dropped", stats)
	}

	// Idle again: the next frame is accepted
	g.OnFrame(newTestFrame(4, 4, model.RotationNone))
	settle(t, g, loop)

	if calls := stub.calls.Load(); calls != 2 {
		t.Errorf("classifier calls = %d, want 2", calls)
	}
}

func TestGate_FailuresKeepPreviousObservations(t *testing.T) {
	previous := []model.Candidate{{Label: "cat", Confidence: 0.9}}

	tests := []struct {
		name  string
		setup func(stub *stubClassifier)
		frame func() FrameData
	}{
		{
			name: "classifier error",
			setup: func(stub *stubClassifier) {
				stub.set(nil, errors.New("inference failed"))
			},
			frame: func() FrameData { return newTestFrame(4, 4, model.RotationNone) },
		},
		{
			name: "empty result",
			setup: func(stub *stubClassifier) {
				stub.set([]model.Candidate{}, nil)
			},
			frame: func() FrameData { return newTestFrame(4, 4, model.RotationNone) },
		},
		{
			name: "classifier panic",
			setup: func(stub *stubClassifier) {
				stub.mu.Lock()
				stub.panicMsg = "corrupt tensor"
				stub.mu.Unlock()
			},
			frame: func() FrameData { return newTestFrame(4, 4, model.RotationNone) },
		},
		{
			name:  "malformed frame",
			setup: func(stub *stubClassifier) {},
			frame: func() FrameData { return FrameData{Mat: gocv.NewMat(), Timestamp: time.Now()} },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, loop := newTestGate(t)
			stub := &stubClassifier{}
			stub.set(previous, nil)
			g.SetClassifier(stub)

			g.OnFrame(newTestFrame(4, 4, model.RotationNone))
			settle(t, g, loop)

			tt.setup(stub)
			g.OnFrame(tt.frame())
			settle(t, g, loop)

			if g.Busy() {
				t.Error("busy flag not cleared after failure")
			}
			if got := g.Observations(); !equalSets(got, model.ObservationSet{"cat": 0.9}) {
				t.Errorf("Observations() = %v, want previous set", got)
			}
			stats := g.Stats()
			if stats.Failed != 1 || stats.Published != 1 || stats.Accepted != 2 {
				t.Errorf("stats = %+v", stats)
			}
		})
	}
}

func TestGate_ErrorStream(t *testing.T) {
	errorStream := make(chan interface{}, 1)
	g, loop := newTestGate(t, WithErrorStream(errorStream), WithDevice("front"))
	stub := &stubClassifier{}
	stub.set(nil, errors.New("inference failed"))
	g.SetClassifier(stub)

	g.OnFrame(newTestFrame(4, 4, model.RotationNone))
	settle(t, g, loop)

	select {
	case e := <-errorStream:
		custom, ok := e.(model.CustomError)
		if !ok {
			t.Fatalf("error stream value = %T, want model.CustomError", e)
		}
		if custom.Processor != "gate" || custom.Inner == nil {
			t.Errorf("unexpected error %+v", custom)
		}
	default:
		t.Fatal("no error reported")
	}
}

func TestGate_NeverMoreThanOneInFlight(t *testing.T) {
	g, loop := newTestGate(t)
	stub := &stubClassifier{delay: time.Millisecond}
	stub.set([]model.Candidate{{Label: "cat", Confidence: 0.5}}, nil)
	g.SetClassifier(stub)

	const (
		producers = 8
		perWorker = 100
	)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				g.OnFrame(newTestFrame(2, 2, model.RotationNone))
			}
		}()
	}
	wg.Wait()
	settle(t, g, loop)

	if peak := stub.maxInFlight.Load(); peak != 1 {
		t.Errorf("max concurrent classifications = %d, want 1", peak)
	}

	stats := g.Stats()
	if stats.Frames != producers*perWorker {
		t.Errorf("frames = %d, want %d", stats.Frames, producers*perWorker)
	}
	if stats.Accepted+stats.Dropped != stats.Frames {
		t.Errorf("accepted %d + dropped %d != frames %d", stats.Accepted, stats.Dropped, stats.Frames)
	}
	if int64(stub.calls.Load()) != stats.Accepted {
		t.Errorf("classifier calls %d != accepted %d", stub.calls.Load(), stats.Accepted)
	}
}

func TestGate_AppliesRotation(t *testing.T) {
	tests := []struct {
		name     string
		rotation model.Rotation
		wantRows int
		wantCols int
	}{
		{"none", model.RotationNone, 4, 6},
		{"clockwise", model.Rotation90Clockwise, 6, 4},
		{"half turn", model.Rotation180, 4, 6},
		{"counter clockwise", model.Rotation90CounterClockwise, 6, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, loop := newTestGate(t)
			stub := &stubClassifier{}
			stub.set([]model.Candidate{{Label: "cat", Confidence: 0.5}}, nil)
			g.SetClassifier(stub)

			g.OnFrame(newTestFrame(4, 6, tt.rotation))
			settle(t, g, loop)

			stub.mu.Lock()
			rows, cols := stub.lastRows, stub.lastCols
			stub.mu.Unlock()
			if rows != tt.wantRows || cols != tt.wantCols {
				t.Errorf("classifier saw %dx%d, want %dx%d", rows, cols, tt.wantRows, tt.wantCols)
			}
		})
	}
}

func TestGate_ObserversRunAfterReplace(t *testing.T) {
	g, loop := newTestGate(t)
	stub := &stubClassifier{}
	stub.set([]model.Candidate{{Label: "dog", Confidence: 0.4}}, nil)
	g.SetClassifier(stub)

	var (
		mu       sync.Mutex
		seen     []model.ObservationSet
		requests []string
	)
	g.Observe(func(requestID string, set model.ObservationSet) {
		// The replacement is already visible when observers run
		if !equalSets(g.Observations(), set) {
			t.Errorf("observer ran before replacement: %v vs %v", g.Observations(), set)
		}
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, set)
		requests = append(requests, requestID)
	})

	g.OnFrame(newTestFrame(4, 4, model.RotationNone))
	settle(t, g, loop)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 {
		t.Fatalf("observer called %d times, want 1", len(seen))
	}
	if requests[0] == "" {
		t.Error("observer got an empty request id")
	}
	if !equalSets(seen[0], model.ObservationSet{"dog": 0.4}) {
		t.Errorf("observer set = %v", seen[0])
	}
}

func TestGate_CompletesAfterMainLoopStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	loop := NewMainLoop(1)
	loopDone := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(loopDone)
	}()

	g := NewGate(context.Background(), loop)
	release := make(chan struct{})
	stub := &stubClassifier{release: release}
	stub.set([]model.Candidate{{Label: "cat", Confidence: 0.5}}, nil)
	g.SetClassifier(stub)

	g.OnFrame(newTestFrame(4, 4, model.RotationNone))

	cancel()
	<-loopDone
	close(release)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	if err := g.Wait(waitCtx); err != nil {
		t.Fatalf("in-flight request did not complete: %v", err)
	}
	if len(g.Observations()) != 0 {
		t.Error("observations published after the main loop stopped")
	}
}
