package capture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/video-system/go-frame-recorder/pkg/input"
	"github.com/video-system/go-frame-recorder/pkg/output"
)

// fakeBackend yields BGR frames of a size that can change mid-stream.
type fakeBackend struct {
	mu       sync.Mutex
	opened   bool
	width    int
	height   int
	fps      float64
	frames   float64 // 0 for a live source
	pos      float64
	failNext int
	eofAfter float64 // close once pos reaches it, 0 never
	delay    time.Duration
	reads    int
	released int

	readAfterRelease bool
}

func newFakeBackend(w, h int) *fakeBackend {
	return &fakeBackend{opened: true, width: w, height: h, fps: 30}
}

func (b *fakeBackend) Open(input.Device) error { b.opened = true; return nil }
func (b *fakeBackend) IsOpened() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opened
}
func (b *fakeBackend) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opened = false
	b.released++
}

func (b *fakeBackend) Read() (*input.Frame, error) {
	b.mu.Lock()
	delay := b.delay
	b.mu.Unlock()
	time.Sleep(delay)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.reads++
	if b.released > 0 {
		b.readAfterRelease = true
	}
	if !b.opened {
		return nil, input.ErrReadFailure
	}
	if b.eofAfter > 0 && b.pos >= b.eofAfter {
		b.opened = false
		return nil, input.ErrReadFailure
	}
	if b.failNext > 0 {
		b.failNext--
		return nil, input.ErrReadFailure
	}
	b.pos++
	return &input.Frame{
		Data:     make([]byte, b.width*b.height*3),
		Width:    b.width,
		Height:   b.height,
		Format:   input.FormatBGR24,
		Sequence: int64(b.pos),
	}, nil
}

func (b *fakeBackend) Get(p input.Property) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch p {
	case input.PropFPS:
		return b.fps
	case input.PropFrameCount:
		return b.frames
	case input.PropPosition:
		return b.pos
	case input.PropFrameWidth:
		return float64(b.width)
	case input.PropFrameHeight:
		return float64(b.height)
	}
	return 0
}

func (b *fakeBackend) Set(p input.Property, v float64) error {
	if p != input.PropPosition {
		return input.ErrUnsupportedProperty
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pos = v
	if b.released == 0 {
		b.opened = true
	}
	return nil
}

func (b *fakeBackend) readCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reads
}

func (b *fakeBackend) resize(w, h int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.width, b.height = w, h
}

func (b *fakeBackend) fail(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failNext = n
}

// fakeSink records what it was opened with and every written frame.
type fakeSink struct {
	mu     sync.Mutex
	path   string
	width  int
	height int
	fps    float64
	frames []*input.Frame
	closed int
}

func (s *fakeSink) Name() string { return "fake" }
func (s *fakeSink) Path() string { return s.path }
func (s *fakeSink) Open(path string, w, h int, fps float64) error {
	s.path, s.width, s.height, s.fps = path, w, h, fps
	return nil
}
func (s *fakeSink) Write(f *input.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.Width != s.width || f.Height != s.height {
		return errors.New("size mismatch")
	}
	s.frames = append(s.frames, f)
	return nil
}
func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}
func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Capture.ReadBackoff = time.Millisecond
	return cfg
}

func openFake(t *testing.T, b *fakeBackend, sink *fakeSink) *Session {
	t.Helper()
	opts := Options{}
	if sink != nil {
		opts.OpenSink = func(req output.Request, _ output.Options) (output.Sink, error) {
			if err := sink.Open(req.Path, req.Width, req.Height, req.FPS); err != nil {
				return nil, err
			}
			if req.First != nil {
				if err := sink.Write(req.First); err != nil {
					return nil, err
				}
			}
			return sink, nil
		}
	}
	s := OpenWithBackend(context.Background(), testConfig(), input.Device{Path: "fake0"}, b, opts)
	t.Cleanup(func() { s.Close() })
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPacerFileInterval(t *testing.T) {
	p := NewPacer(true, 30, 30)
	p.SetSpeed(2.0)
	if got := p.Interval(); got != 16*time.Millisecond {
		t.Errorf("interval = %v, want 16ms", got)
	}
	p.SetSpeed(1.0)
	if got := p.Interval(); got != 33*time.Millisecond {
		t.Errorf("interval = %v, want 33ms", got)
	}
}

func TestPacerSpeedClamp(t *testing.T) {
	p := NewPacer(true, 30, 30)
	if got := p.SetSpeed(0); got != MinSpeed {
		t.Errorf("SetSpeed(0) = %v, want %v", got, MinSpeed)
	}
	if got := p.SetSpeed(8); got != 8 {
		t.Errorf("SetSpeed(8) = %v", got)
	}
}

func TestPacerLiveCap(t *testing.T) {
	p := NewPacer(false, 60, 30)
	now := time.Now()
	if !p.Admit(now) {
		t.Fatal("first frame should be admitted")
	}
	if p.Admit(now.Add(10 * time.Millisecond)) {
		t.Error("frame inside the display cap should be dropped")
	}
	if !p.Admit(now.Add(40 * time.Millisecond)) {
		t.Error("frame after the display cap should be admitted")
	}
	if p.Delay(time.Millisecond) != 0 {
		t.Error("live sources have no post-delivery delay")
	}
}

func TestPacerStates(t *testing.T) {
	p := NewPacer(true, 30, 30)
	if !p.Pause() || p.State() != StatePaused {
		t.Fatal("pause from running")
	}
	if p.Admit(time.Now()) {
		t.Error("paused pacer admitted a frame")
	}
	if !p.Resume() || p.State() != StateRunning {
		t.Fatal("resume from paused")
	}
	if !p.Stop() || p.Stop() {
		t.Error("stop should change state exactly once")
	}
	if p.Resume() || p.State() != StateStopped {
		t.Error("stopped is terminal")
	}
}

func TestSessionCloseIdempotent(t *testing.T) {
	b := newFakeBackend(8, 4)
	s := openFake(t, b, nil)

	waitFor(t, "first frame", func() bool { return s.LastFrame() != nil })
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if b.released != 1 {
		t.Errorf("released %d times, want 1", b.released)
	}
	if s.IsOpened() {
		t.Error("session still reports open")
	}
	select {
	case <-s.Done():
	default:
		t.Error("loop still running after Close")
	}
	if _, err := s.StartRecording("x.avi"); !errors.Is(err, ErrClosed) {
		t.Errorf("StartRecording after close = %v", err)
	}
}

func TestStartRecordingNeedsFrame(t *testing.T) {
	b := newFakeBackend(8, 4)
	b.failNext = 1 << 30
	s := openFake(t, b, &fakeSink{})

	if _, err := s.StartRecording("x.avi"); !errors.Is(err, ErrNoFrame) {
		t.Errorf("err = %v, want ErrNoFrame", err)
	}
	if s.IsRecording() {
		t.Error("IsRecording true without a sink")
	}
}

func TestRecordingResizesMismatchedFrames(t *testing.T) {
	b := newFakeBackend(8, 4)
	sink := &fakeSink{}
	s := openFake(t, b, sink)

	waitFor(t, "first frame", func() bool { return s.LastFrame() != nil })
	st, err := s.StartRecording("rec.avi")
	if err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if st.Width != 8 || st.Height != 4 {
		t.Errorf("recording size %dx%d", st.Width, st.Height)
	}
	if !s.IsRecording() {
		t.Fatal("not recording")
	}

	b.resize(16, 8)
	waitFor(t, "resized frames", func() bool { return sink.count() > 5 })

	if err := s.StopRecording(); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}
	if s.IsRecording() {
		t.Error("still recording after stop")
	}
	if err := s.StopRecording(); err != nil {
		t.Errorf("second StopRecording: %v", err)
	}
	if sink.closed != 1 {
		t.Errorf("sink closed %d times", sink.closed)
	}
	for i, f := range sink.frames {
		if f.Width != 8 || f.Height != 4 {
			t.Fatalf("frame %d is %dx%d", i, f.Width, f.Height)
		}
	}
}

func TestRecordingFPSClamp(t *testing.T) {
	b := newFakeBackend(8, 4)
	b.fps = 240
	b.failNext = 1 << 30
	s := openFake(t, b, nil)
	if got := s.RecordingFPS(); got != 60 {
		t.Errorf("RecordingFPS = %v, want 60", got)
	}

	b2 := newFakeBackend(8, 4)
	b2.fps = 0
	b2.failNext = 1 << 30
	s2 := openFake(t, b2, nil)
	if got := s2.RecordingFPS(); got != 30 {
		t.Errorf("RecordingFPS = %v, want default 30", got)
	}
}

func TestReadFailuresDoNotEndSession(t *testing.T) {
	b := newFakeBackend(8, 4)
	b.fail(20)
	s := openFake(t, b, nil)

	waitFor(t, "recovery", func() bool { return s.Position() > 0 })
	if s.Status().ReadErrors != 20 {
		t.Errorf("read errors = %d, want 20", s.Status().ReadErrors)
	}

	var sawError bool
	for len(s.Events()) > 0 {
		if ev := <-s.Events(); ev.Type == EventReadError {
			sawError = true
		}
	}
	if !sawError {
		t.Error("no read error event")
	}
}

func TestDisplayKeepsLatest(t *testing.T) {
	b := newFakeBackend(8, 4)
	s := openFake(t, b, nil)

	waitFor(t, "display overflow", func() bool { return s.Status().DisplayDropped > 0 })
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	f, err := s.NextFrame(ctx)
	if err != nil {
		t.Fatalf("NextFrame: %v", err)
	}
	if f.Sequence < 2 {
		t.Errorf("display served a stale frame %d", f.Sequence)
	}
}

func TestStopRewindsFile(t *testing.T) {
	b := newFakeBackend(8, 4)
	b.frames = 1000
	sink := &fakeSink{}
	s := openFake(t, b, sink)
	if !s.IsFile() {
		t.Fatal("source with a frame count should be a file")
	}

	waitFor(t, "frames", func() bool { return s.Position() > 2 })
	if _, err := s.StartRecording("rec.avi"); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	s.Stop()

	if s.IsRecording() {
		t.Error("Stop left recording active")
	}
	if s.Position() != 0 {
		t.Errorf("position = %d after stop", s.Position())
	}
	if got := b.Get(input.PropPosition); got != 0 {
		t.Errorf("backend position = %v after stop", got)
	}
	if s.State() != StateStopped {
		t.Errorf("state = %v", s.State())
	}
	if _, err := s.StartRecording("rec.avi"); !errors.Is(err, ErrStopped) {
		t.Errorf("StartRecording after stop = %v", err)
	}
}

func TestFileProgressEvents(t *testing.T) {
	b := newFakeBackend(8, 4)
	b.frames = 50
	s := openFake(t, b, nil)
	s.SetSpeed(10)

	select {
	case ev := <-s.Events():
		if ev.Type != EventProgress || ev.Total != 50 || ev.Current < 1 {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no progress event")
	}
}

func TestTogglePixelSwap(t *testing.T) {
	b := newFakeBackend(2, 2)
	s := openFake(t, b, nil)
	if !s.TogglePixelSwap() || s.TogglePixelSwap() {
		t.Error("toggle should alternate")
	}
}

func TestStatusJSONFields(t *testing.T) {
	b := newFakeBackend(8, 4)
	s := openFake(t, b, nil)
	waitFor(t, "first frame", func() bool { return s.LastFrame() != nil })

	st := s.Status()
	if st.SessionID == "" || st.SessionID != s.ID() {
		t.Errorf("session id = %q", st.SessionID)
	}
	if st.Width != 8 || st.Height != 4 || st.State != "running" {
		t.Errorf("status = %+v", st)
	}
	if st.Recording != nil {
		t.Error("recording status without a recording")
	}
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("VCAP_TEST_ENCODER", "container")
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
backend: pipeline
capture:
  display_fps: 25
record:
  encoder: ${VCAP_TEST_ENCODER}
  max_fps: 50
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Backend != "pipeline" || cfg.Record.Encoder != "container" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Capture.DisplayFPS != 25 || cfg.Record.MaxFPS != 50 {
		t.Errorf("explicit values lost: %+v", cfg)
	}
	if cfg.Capture.DisplayBuffer != 2 || cfg.Record.MinFPS != 5 || cfg.Capture.ReadBackoff != 10*time.Millisecond {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestLoadConfigRejectsBadEncoder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("record:\n  encoder: magic\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected validation error")
	}
}

func TestEndOfStreamIdlesSession(t *testing.T) {
	b := newFakeBackend(8, 4)
	b.frames = 5
	b.eofAfter = 5
	s := openFake(t, b, nil)
	s.SetSpeed(10)

	deadline := time.After(3 * time.Second)
	for ended := false; !ended; {
		select {
		case ev := <-s.Events():
			if ev.Type == EventEndOfStream {
				ended = true
				if ev.Current != 5 || ev.Total != 5 {
					t.Errorf("end event = %+v", ev)
				}
			}
		case <-deadline:
			t.Fatal("no end of stream event")
		}
	}

	if s.IsOpened() {
		t.Error("session reports open after its source ended")
	}
	before := b.readCount()
	time.Sleep(200 * time.Millisecond)
	if n := b.readCount() - before; n > 10 {
		t.Errorf("%d reads in 200ms after end of stream", n)
	}
	if errs := s.Status().ReadErrors; errs != 0 {
		t.Errorf("end of stream counted as %d read errors", errs)
	}
	for len(s.Events()) > 0 {
		if ev := <-s.Events(); ev.Type == EventEndOfStream {
			t.Error("end of stream reported twice")
		}
	}
	select {
	case <-s.Done():
		t.Error("end of stream must not end the loop")
	default:
	}
}

func TestCloseStopsLoopBeforeRelease(t *testing.T) {
	b := newFakeBackend(8, 4)
	b.delay = 20 * time.Millisecond
	s := openFake(t, b, nil)

	waitFor(t, "frames", func() bool { return s.Position() > 2 })
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(60 * time.Millisecond)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.readAfterRelease {
		t.Error("backend read after it was released")
	}
}

func TestStartRecordingRacingStop(t *testing.T) {
	for i := 0; i < 50; i++ {
		b := newFakeBackend(4, 2)
		s := openFake(t, b, &fakeSink{})
		waitFor(t, "first frame", func() bool { return s.LastFrame() != nil })

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.StartRecording("race.avi")
		}()
		go func() {
			defer wg.Done()
			s.Stop()
		}()
		wg.Wait()

		if s.IsRecording() {
			t.Fatalf("iteration %d: recording left open after Stop", i)
		}
		s.Close()
	}
}
