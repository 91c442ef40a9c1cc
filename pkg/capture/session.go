package capture

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/video-system/go-frame-recorder/pkg/input"
	"github.com/video-system/go-frame-recorder/pkg/output"
)

// eventBuffer bounds undelivered events; further events are dropped
const eventBuffer = 64

// SinkOpener opens a recording sink, normally output.Open
type SinkOpener func(req output.Request, opts output.Options) (output.Sink, error)

// Options carries collaborators of a session
type Options struct {
	Logger   *slog.Logger
	OpenSink SinkOpener
}

// Session owns one opened backend and the goroutine reading from it.
// Frames flow one way: backend, normalizer, recording, then display.
type Session struct {
	id      string
	cfg     *Config
	dev     input.Device
	backend input.Backend
	logger  *slog.Logger

	pacer       *Pacer
	isFile      bool
	totalFrames int64
	declaredFPS float64

	position  atomic.Int64
	fpsBits   atomic.Uint64
	lastAt    atomic.Int64 // unix nanos of the previous frame
	lastFrame atomic.Pointer[input.Frame]
	swap      atomic.Bool

	readErrors atomic.Uint64
	ended      atomic.Bool
	display    *input.Mailbox
	events     chan Event
	wake       chan struct{}

	tickMu   sync.Mutex // held for one read-to-deliver pass
	recMu    sync.Mutex
	rec      atomic.Pointer[Recording]
	openSink SinkOpener

	cancel    context.CancelFunc
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
}

// Open creates the backend named by cfg.Backend, opens dev with it and
// starts the acquisition loop.
func Open(ctx context.Context, cfg *Config, dev input.Device, opts Options) (*Session, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	backend, err := input.New(cfg.Backend)
	if err != nil {
		return nil, err
	}
	if err := backend.Open(dev); err != nil {
		return nil, err
	}
	if !backend.IsOpened() {
		backend.Release()
		return nil, fmt.Errorf("%w: %s", input.ErrDeviceUnavailable, dev.Path)
	}
	return OpenWithBackend(ctx, cfg, dev, backend, opts), nil
}

// OpenWithBackend starts a session on an already opened backend. The
// session takes ownership of backend and releases it on Close.
func OpenWithBackend(ctx context.Context, cfg *Config, dev input.Device, backend input.Backend, opts Options) *Session {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.OpenSink == nil {
		opts.OpenSink = output.Open
	}

	total := int64(backend.Get(input.PropFrameCount))
	declared := backend.Get(input.PropFPS)
	isFile := total > 0 || isRegularFile(dev.Path)

	s := &Session{
		id:          uuid.New().String(),
		cfg:         cfg,
		dev:         dev,
		backend:     backend,
		pacer:       NewPacer(isFile, declared, cfg.Capture.DisplayFPS),
		isFile:      isFile,
		totalFrames: total,
		declaredFPS: declared,
		display:     input.NewMailbox(cfg.Capture.DisplayBuffer),
		events:      make(chan Event, eventBuffer),
		wake:        make(chan struct{}, 1),
		openSink:    opts.OpenSink,
		done:        make(chan struct{}),
	}
	s.logger = opts.Logger.With("session", s.id)

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.run(loopCtx)

	s.logger.Info("capture: session opened",
		"source", dev.Path,
		"backend", cfg.Backend,
		"file", isFile,
		"frames", total,
		"fps", declared,
	)
	return s
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

// IsOpened reports whether the session is open and its backend still running
func (s *Session) IsOpened() bool {
	return !s.closed.Load() && s.backend.IsOpened()
}

// IsFile reports whether the source is a file with a known frame count
func (s *Session) IsFile() bool {
	return s.isFile
}

// NextFrame waits for the next display frame
func (s *Session) NextFrame(ctx context.Context) (*input.Frame, error) {
	select {
	case f := <-s.display.C():
		return f, nil
	case <-s.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Events delivers progress and read-error events. Events are dropped when
// the consumer falls behind. The channel is never closed; use Done.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Done is closed when the acquisition loop has exited
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Position returns the number of frames read since open or the last stop
func (s *Session) Position() int64 {
	return s.position.Load()
}

// FPS returns the measured frame rate (exponential moving average)
func (s *Session) FPS() float64 {
	return math.Float64frombits(s.fpsBits.Load())
}

// LastFrame returns the most recent normalized frame, nil before the first
func (s *Session) LastFrame() *input.Frame {
	return s.lastFrame.Load()
}

// State returns the playback state
func (s *Session) State() State {
	return s.pacer.State()
}

// Pause halts display delivery. Reading continues so the rate estimate,
// backend liveness and any recording stay current.
func (s *Session) Pause() {
	if s.pacer.Pause() {
		s.logger.Info("capture: paused")
	}
}

// Resume continues after Pause
func (s *Session) Resume() {
	if s.pacer.Resume() {
		s.signal()
		s.logger.Info("capture: resumed")
	}
}

// Stop ends playback: recording is stopped, a file source is rewound to
// frame zero and the loop idles until Close.
func (s *Session) Stop() {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	if !s.pacer.Stop() {
		return
	}
	if err := s.StopRecording(); err != nil {
		s.logger.Warn("capture: recording closed with error", "error", err)
	}
	if s.isFile {
		if err := s.backend.Set(input.PropPosition, 0); err != nil {
			s.logger.Warn("capture: rewind failed", "error", err)
		}
		s.position.Store(0)
		s.emit(Event{Type: EventProgress, Current: 0, Total: s.totalFrames})
	}
	s.display.Drain()
	s.signal()
	s.logger.Info("capture: stopped")
}

// SetSpeed sets the file playback multiplier and returns the applied value
func (s *Session) SetSpeed(speed float64) float64 {
	applied := s.pacer.SetSpeed(speed)
	s.logger.Debug("capture: speed changed", "speed", applied, "interval", s.pacer.Interval())
	return applied
}

// Speed returns the playback multiplier
func (s *Session) Speed() float64 {
	return s.pacer.Speed()
}

// TogglePixelSwap flips the display-only red/blue swap and returns the new setting
func (s *Session) TogglePixelSwap() bool {
	for {
		old := s.swap.Load()
		if s.swap.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

// Status returns a snapshot of the session
func (s *Session) Status() Status {
	st := Status{
		SessionID:      s.id,
		Source:         s.dev.Path,
		Backend:        s.cfg.Backend,
		State:          s.pacer.State().String(),
		Opened:         s.IsOpened(),
		IsFile:         s.isFile,
		CurrentFrame:   s.position.Load(),
		TotalFrames:    s.totalFrames,
		FPS:            s.FPS(),
		DeclaredFPS:    s.declaredFPS,
		Speed:          s.pacer.Speed(),
		ReadErrors:     s.readErrors.Load(),
		DisplayDropped: s.display.Dropped(),
		PixelSwap:      s.swap.Load(),
	}
	if s.closed.Load() {
		st.State = "closed"
	}
	if f := s.lastFrame.Load(); f != nil {
		st.Width, st.Height = f.Width, f.Height
	}
	if rec := s.rec.Load(); rec != nil {
		rs := rec.status()
		st.Recording = &rs
	}
	return st
}

// Close stops recording, stops the loop within the configured stop timeout
// and releases the backend. Safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		err = s.StopRecording()

		s.cancel()
		timer := time.NewTimer(s.cfg.Capture.StopTimeout)
		select {
		case <-s.done:
		case <-timer.C:
			s.logger.Warn("capture: loop did not stop in time", "timeout", s.cfg.Capture.StopTimeout)
		}
		timer.Stop()

		s.backend.Release()
		s.display.Drain()
		s.logger.Info("capture: session closed", "frames", s.position.Load())
	})
	return err
}

func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
	}
}

func (s *Session) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func isRegularFile(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}
