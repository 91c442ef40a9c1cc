package gstreamer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/video-system/go-frame-recorder/internal/fallback"
	"github.com/video-system/go-frame-recorder/pkg/input"
)

// Name is the registry name of the pipeline backend
const Name = "pipeline"

const (
	// MailboxCapacity bounds frames buffered between the appsink and Read
	MailboxCapacity = 2
	// ReadTimeout bounds how long Read waits for a frame
	ReadTimeout = 500 * time.Millisecond
	// StartTimeout bounds the wait for PLAYING
	StartTimeout = 5 * time.Second
)

func init() {
	input.Register(Name, func() input.Backend { return NewBackend() })
}

// Backend captures frames from a GStreamer pipeline ending in an appsink
type Backend struct {
	Logger *slog.Logger
	// Launches replaces the launch strings derived from the device when set
	Launches []Candidate

	mu        sync.Mutex
	pipeline  *gst.Pipeline
	candidate Candidate
	dev       input.Device
	isFile    bool
	cancel    context.CancelFunc
	pumpDone  chan struct{}

	mailbox  *input.Mailbox
	caps     atomic.Pointer[VideoCaps] // written from the streaming thread
	opened   atomic.Bool
	seq      atomic.Int64
	position atomic.Int64
	errors   atomic.Uint64
}

// NewBackend creates an unopened pipeline backend
func NewBackend() *Backend {
	return &Backend{
		Logger:  slog.Default(),
		mailbox: input.NewMailbox(MailboxCapacity),
	}
}

// Open builds the first launch string that parses and reaches PLAYING
func (b *Backend) Open(dev input.Device) error {
	if b.opened.Load() {
		b.Release()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.dev = dev
	b.isFile = isRegularFile(dev.Path)
	b.caps.Store(nil)
	candidates := b.Launches
	if len(candidates) == 0 {
		candidates = Candidates(dev.Path, b.isFile)
	}

	pipeline, err := fallback.First(candidates, func(c Candidate) (*gst.Pipeline, error) {
		p, err := b.tryCandidate(c)
		if err != nil {
			b.Logger.Debug("gstreamer: candidate rejected", "source", dev.Path, "candidate", c.Name, "error", err)
			return nil, err
		}
		b.candidate = c
		return p, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", input.ErrDeviceUnavailable, dev.Path, err)
	}

	b.pipeline = pipeline
	b.position.Store(0)
	b.opened.Store(true)

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.pumpDone = make(chan struct{})
	go b.pumpEvents(ctx, pipeline, b.pumpDone)

	b.Logger.Info("gstreamer: source opened", "source", dev.Path, "candidate", b.candidate.Name)
	return nil
}

func (b *Backend) tryCandidate(c Candidate) (*gst.Pipeline, error) {
	pipeline, err := buildPipeline(c.Launch)
	if err != nil {
		return nil, err
	}

	elem, err := pipeline.GetElementByName(SinkName)
	if err != nil || elem == nil {
		stopPipeline(pipeline, b.Logger)
		return nil, errNoAppSink
	}
	sink := app.SinkFromElement(elem)
	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: b.onNewSample,
	})

	if err := startPipeline(pipeline, StartTimeout); err != nil {
		stopPipeline(pipeline, b.Logger)
		return nil, err
	}
	b.storePadCaps(elem)
	return pipeline, nil
}

// storePadCaps records caps negotiated on the appsink pad so size, rate
// and frame count are known before the first sample. Live sources may
// negotiate later; onNewSample fills them in then.
func (b *Backend) storePadCaps(elem *gst.Element) {
	pad := elem.GetStaticPad("sink")
	if pad == nil {
		return
	}
	current := pad.GetCurrentCaps()
	if current == nil {
		return
	}
	caps, err := ParseCaps(current.String())
	if err != nil {
		b.Logger.Debug("gstreamer: caps not negotiated at start", "error", err)
		return
	}
	b.caps.CompareAndSwap(nil, &caps)
}

// onNewSample copies the sample out of GStreamer's buffer and publishes it.
// A bad sample is skipped rather than ending the stream.
func (b *Backend) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}

	sampleCaps := sample.GetCaps()
	if sampleCaps == nil {
		return gst.FlowOK
	}
	caps, err := ParseCaps(sampleCaps.String())
	if err != nil {
		b.Logger.Warn("gstreamer: sample without usable caps", "error", err)
		return gst.FlowOK
	}
	format, ok := caps.PixelFormat()
	if !ok {
		b.Logger.Warn("gstreamer: unsupported sample format", "format", caps.Format)
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data, err := packFrame(mapInfo.Bytes(), format, caps.Width, caps.Height)
	buffer.Unmap()
	if err != nil {
		b.Logger.Warn("gstreamer: dropping malformed buffer", "error", err)
		return gst.FlowOK
	}

	b.caps.Store(&caps)

	b.mailbox.Publish(&input.Frame{
		Data:      data,
		Width:     caps.Width,
		Height:    caps.Height,
		Format:    format,
		Timestamp: time.Now().UnixNano(),
		Sequence:  b.seq.Add(1),
	})
	return gst.FlowOK
}

// pumpEvents polls the bus until ctx ends. An error or end of stream marks
// the backend closed.
func (b *Backend) pumpEvents(ctx context.Context, pipeline *gst.Pipeline, done chan struct{}) {
	defer close(done)
	bus := pipeline.GetPipelineBus()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg := bus.TimedPop(busPollInterval)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageError:
			gerr := msg.ParseError()
			category := Classify(gerr.Error(), gerr.DebugString())
			b.errors.Add(1)
			b.opened.Store(false)
			b.Logger.Error("gstreamer: pipeline error",
				"source", b.dev.Path,
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
				"category", category.String(),
			)
		case gst.MessageEOS:
			// A file stays seekable; Set reopens it
			b.opened.Store(false)
			b.Logger.Info("gstreamer: end of stream", "source", b.dev.Path)
		case gst.MessageWarning:
			b.Logger.Warn("gstreamer: pipeline warning", "source", b.dev.Path, "message", msg.ParseWarning().Error())
		}
	}
}

// IsOpened is false after Release or once the pipeline reported an error
func (b *Backend) IsOpened() bool {
	return b.opened.Load()
}

// Read waits up to ReadTimeout for the next frame. Frames queued before an
// end of stream are still delivered.
func (b *Backend) Read() (*input.Frame, error) {
	timeout := ReadTimeout
	if !b.opened.Load() {
		timeout = 0
	}
	f, ok := b.mailbox.Take(timeout)
	if !ok && timeout == 0 {
		return nil, fmt.Errorf("%w: pipeline not running", input.ErrReadFailure)
	}
	if !ok {
		return nil, fmt.Errorf("%w: no frame within %s", input.ErrReadFailure, ReadTimeout)
	}
	b.position.Add(1)
	return f, nil
}

// Get returns negotiated caps and position, 0 until the first sample
func (b *Backend) Get(p input.Property) float64 {
	caps := b.currentCaps()

	switch p {
	case input.PropFrameWidth:
		return float64(caps.Width)
	case input.PropFrameHeight:
		return float64(caps.Height)
	case input.PropFPS:
		return caps.Framerate
	case input.PropFrameCount:
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.frameCountLocked(caps.Framerate)
	case input.PropPosition:
		return float64(b.position.Load())
	default:
		return 0
	}
}

func (b *Backend) currentCaps() VideoCaps {
	if c := b.caps.Load(); c != nil {
		return *c
	}
	return VideoCaps{}
}

func (b *Backend) frameCountLocked(fps float64) float64 {
	if !b.isFile || b.pipeline == nil || fps <= 0 {
		return 0
	}
	ok, dur := b.pipeline.QueryDuration(gst.FormatTime)
	if !ok || dur <= 0 {
		return 0
	}
	return float64(int64(time.Duration(dur).Seconds()*fps + 0.5))
}

// Set seeks file sources via PropPosition
func (b *Backend) Set(p input.Property, v float64) error {
	if p != input.PropPosition {
		return fmt.Errorf("%w: %s", input.ErrUnsupportedProperty, p)
	}

	fps := b.currentCaps().Framerate

	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.isFile || b.pipeline == nil || fps <= 0 {
		return fmt.Errorf("%w: seeking a live source", input.ErrUnsupportedProperty)
	}
	if v < 0 {
		v = 0
	}
	target := time.Duration(v / fps * float64(time.Second))
	if !b.pipeline.SeekSimple(int64(target), gst.FormatTime, gst.SeekFlagFlush|gst.SeekFlagKeyUnit) {
		return fmt.Errorf("seek to frame %.0f failed", v)
	}
	b.mailbox.Drain()
	b.position.Store(int64(v))
	b.opened.Store(true)
	return nil
}

// Release stops the pipeline and the event pump. Safe to call repeatedly.
func (b *Backend) Release() {
	b.opened.Store(false)

	b.mu.Lock()
	pipeline, cancel, done := b.pipeline, b.cancel, b.pumpDone
	b.pipeline, b.cancel, b.pumpDone = nil, nil, nil
	b.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			b.Logger.Warn("gstreamer: event pump did not stop")
		}
	}
	if pipeline != nil {
		stopPipeline(pipeline, b.Logger)
		b.Logger.Debug("gstreamer: pipeline released", "source", b.dev.Path, "bus_errors", b.Errors())
	}
	b.mailbox.Drain()
}

// Errors reports how many bus errors were seen
func (b *Backend) Errors() uint64 {
	return b.errors.Load()
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
