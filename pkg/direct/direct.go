// Package direct implements a capture backend that decodes devices and files
// through an ffmpeg child process emitting raw frames on stdout.
package direct

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/video-system/go-frame-recorder/internal/fallback"
	"github.com/video-system/go-frame-recorder/internal/ffmpeg"
	"github.com/video-system/go-frame-recorder/pkg/input"
)

// Name is the registry name of this backend
const Name = "direct"

// DefaultOpenTimeout bounds probing and the validating first read.
const DefaultOpenTimeout = 5 * time.Second

func init() {
	input.Register(Name, func() input.Backend { return New() })
}

// Backend reads frames from an ffmpeg decoder process
type Backend struct {
	OpenTimeout time.Duration
	Logger      *slog.Logger

	mu         sync.Mutex
	ff         *ffmpeg.FFmpeg
	dev        input.Device
	hint       Hint
	proc       *ffmpeg.Process
	width      int
	height     int
	fps        float64
	frameCount int64
	isFile     bool
	pending    *input.Frame

	seq      atomic.Int64
	position atomic.Int64
	opened   atomic.Bool
}

// New creates an unopened backend
func New() *Backend {
	return &Backend{OpenTimeout: DefaultOpenTimeout, Logger: slog.Default()}
}

// Open tries every hint for dev in order. A hint is accepted only after a
// frame has been read from it.
func (b *Backend) Open(dev input.Device) error {
	if b.opened.Load() {
		b.Release()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ff == nil {
		ff, err := ffmpeg.New()
		if err != nil {
			return fmt.Errorf("%w: %s: %w", input.ErrDeviceUnavailable, dev.Path, err)
		}
		b.ff = ff
	}
	if !b.ff.CanProbe() {
		return fmt.Errorf("%w: %s: %w", input.ErrDeviceUnavailable, dev.Path, ffmpeg.ErrProbeUnavailable)
	}

	b.dev = dev
	b.isFile = isRegularFile(dev.Path)

	hints := []Hint{FileHint}
	if !b.isFile {
		hints = orderHints(PlatformHints(runtime.GOOS), dev.Backend)
	}

	_, err := fallback.First(hints, func(h Hint) (struct{}, error) {
		err := b.openHint(h, 0)
		if err != nil {
			b.Logger.Debug("direct: hint rejected", "source", dev.Path, "hint", h.Name, "error", err)
		}
		return struct{}{}, err
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", input.ErrDeviceUnavailable, dev.Path, err)
	}

	b.position.Store(0)
	b.opened.Store(true)
	b.Logger.Info("direct: source opened",
		"source", dev.Path,
		"hint", b.hint.Name,
		"size", fmt.Sprintf("%dx%d", b.width, b.height),
		"fps", b.fps,
		"frames", b.frameCount,
	)
	return nil
}

// openHint probes, starts the decoder and performs the validating read.
// Caller holds b.mu.
func (b *Backend) openHint(h Hint, seek float64) error {
	src := sourceArg(h, b.dev.Path)

	ctx, cancel := context.WithTimeout(context.Background(), b.openTimeout())
	info, err := b.ff.GetVideoInfo(ctx, src, probeArgs(h)...)
	cancel()
	if err != nil {
		return fmt.Errorf("probe: %w", err)
	}

	proc, err := b.ff.StartDecoder(context.Background(), ffmpeg.DecoderConfig{
		Input:        src,
		InputFormat:  h.InputFormat,
		InputOptions: h.InputOptions,
		Framerate:    h.Framerate,
		Seek:         seek,
		PixelFormat:  string(h.PixelFormat),
	})
	if err != nil {
		return err
	}

	first, err := readWithTimeout(proc, h.PixelFormat, info.Width, info.Height, b.openTimeout())
	if err != nil {
		proc.Close(0)
		return fmt.Errorf("validating read: %w", err)
	}
	first.Sequence = b.seq.Add(1)

	b.hint = h
	b.proc = proc
	b.width, b.height = info.Width, info.Height
	b.fps = info.Framerate
	b.frameCount = info.FrameCount
	b.pending = first
	return nil
}

func (b *Backend) openTimeout() time.Duration {
	if b.OpenTimeout > 0 {
		return b.OpenTimeout
	}
	return DefaultOpenTimeout
}

// IsOpened reports whether the decoder is running
func (b *Backend) IsOpened() bool {
	return b.opened.Load()
}

// Read returns the next frame. The frame consumed by the validating read
// during Open is returned first.
func (b *Backend) Read() (*input.Frame, error) {
	b.mu.Lock()
	if !b.opened.Load() || b.proc == nil {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: backend not open", input.ErrReadFailure)
	}
	if f := b.pending; f != nil {
		b.pending = nil
		b.mu.Unlock()
		b.position.Add(1)
		return f, nil
	}
	proc, format, w, h := b.proc, b.hint.PixelFormat, b.width, b.height
	source := b.dev.Path
	b.mu.Unlock()

	f, err := readFrame(proc, format, w, h)
	if err != nil {
		// A closed stdout means the decoder is done: end of file, or a
		// live device that went away. Files reopen through Set.
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			b.opened.Store(false)
			b.Logger.Info("direct: end of stream", "source", source, "frames", b.position.Load())
			return nil, fmt.Errorf("%w: end of stream", input.ErrReadFailure)
		}
		if proc.Exited() {
			b.opened.Store(false)
		}
		return nil, fmt.Errorf("%w: %w", input.ErrReadFailure, err)
	}
	f.Sequence = b.seq.Add(1)
	b.position.Add(1)
	return f, nil
}

// Get returns a backend property, 0 when unknown
func (b *Backend) Get(p input.Property) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch p {
	case input.PropFrameWidth:
		return float64(b.width)
	case input.PropFrameHeight:
		return float64(b.height)
	case input.PropFPS:
		return b.fps
	case input.PropFrameCount:
		if !b.isFile {
			return 0
		}
		return float64(b.frameCount)
	case input.PropPosition:
		return float64(b.position.Load())
	default:
		return 0
	}
}

// Set seeks file sources via PropPosition, reopening a file that reached
// its end. Other properties are read-only.
func (b *Backend) Set(p input.Property, v float64) error {
	if p != input.PropPosition {
		return fmt.Errorf("%w: %s", input.ErrUnsupportedProperty, p)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.isFile || b.proc == nil {
		return fmt.Errorf("%w: seeking a live source", input.ErrUnsupportedProperty)
	}
	if v < 0 {
		v = 0
	}

	old := b.proc
	b.proc = nil
	b.pending = nil
	old.Close(0)

	var seek float64
	if b.fps > 0 {
		seek = v / b.fps
	}
	if err := b.openHint(b.hint, seek); err != nil {
		b.opened.Store(false)
		return fmt.Errorf("seek to frame %.0f: %w", v, err)
	}
	b.position.Store(int64(v))
	b.opened.Store(true)
	return nil
}

// Release stops the decoder. Safe to call repeatedly.
func (b *Backend) Release() {
	b.opened.Store(false)

	b.mu.Lock()
	proc := b.proc
	b.proc = nil
	b.pending = nil
	b.mu.Unlock()

	if proc != nil {
		proc.Close(0)
		b.Logger.Debug("direct: decoder released", "source", b.dev.Path)
	}
}

func readFrame(proc *ffmpeg.Process, format input.PixelFormat, w, h int) (*input.Frame, error) {
	buf := make([]byte, format.FrameSize(w, h))
	if len(buf) == 0 {
		return nil, fmt.Errorf("unknown frame geometry %dx%d %s", w, h, format)
	}
	if err := proc.ReadFull(buf); err != nil {
		return nil, err
	}
	return &input.Frame{
		Data:      buf,
		Width:     w,
		Height:    h,
		Format:    format,
		Timestamp: time.Now().UnixNano(),
	}, nil
}

func readWithTimeout(proc *ffmpeg.Process, format input.PixelFormat, w, h int, timeout time.Duration) (*input.Frame, error) {
	type result struct {
		f   *input.Frame
		err error
	}
	ch := make(chan result, 1)
	go func() {
		f, err := readFrame(proc, format, w, h)
		ch <- result{f, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		if r.err != nil && proc.Stderr() != "" {
			return nil, fmt.Errorf("%w: %s", r.err, proc.Stderr())
		}
		return r.f, r.err
	case <-timer.C:
		proc.Close(0)
		<-ch
		return nil, fmt.Errorf("no frame within %s", timeout)
	}
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
