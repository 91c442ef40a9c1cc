package output

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/video-system/go-frame-recorder/internal/ffmpeg"
	"github.com/video-system/go-frame-recorder/pkg/input"
)

// DefaultCloseTimeout bounds how long Close waits for the encoder to exit.
const DefaultCloseTimeout = 5 * time.Second

// DefaultStartupGrace is how long a new encoder must stay alive before the
// sink is trusted. ffmpeg rejects bad arguments and codecs by exiting.
const DefaultStartupGrace = 500 * time.Millisecond

// pipeCodec is the encoder the pipe sink drives
const pipeCodec = "libx264"

// PipeSink streams raw BGR frames into an external ffmpeg process that
// encodes H.264 into an mp4 file.
type PipeSink struct {
	ff           *ffmpeg.FFmpeg
	closeTimeout time.Duration
	startupGrace time.Duration
	preset       string
	logger       *slog.Logger

	mu     sync.Mutex
	proc   *ffmpeg.Process
	path   string
	width  int
	height int
	frames int64
	err    error
	closed bool
}

// NewPipeSink creates a PipeSink. A nil ff locates ffmpeg on Open.
func NewPipeSink(ff *ffmpeg.FFmpeg, opts Options) *PipeSink {
	opts = opts.withDefaults()
	return &PipeSink{
		ff:           ff,
		closeTimeout: opts.CloseTimeout,
		startupGrace: opts.StartupGrace,
		preset:       opts.Preset,
		logger:       opts.Logger,
	}
}

func (s *PipeSink) Name() string { return "ffmpeg-pipe" }

// Path returns the file being written
func (s *PipeSink) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// Open checks that ffmpeg is available with libx264 and starts the encoder
// process. Paths without an mp4 family extension get ".mp4" appended.
func (s *PipeSink) Open(path string, width, height int, fps float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.proc != nil {
		return fmt.Errorf("%w: pipe sink already open", ErrRecordingInit)
	}
	if width <= 0 || height <= 0 || fps <= 0 {
		return fmt.Errorf("%w: invalid geometry %dx%d@%.2f", ErrRecordingInit, width, height, fps)
	}
	if s.ff == nil {
		ff, err := ffmpeg.New()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrRecordingInit, err)
		}
		s.ff = ff
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.closeTimeout)
	ok, err := s.ff.HasEncoder(ctx, pipeCodec)
	cancel()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRecordingInit, err)
	}
	if !ok {
		return fmt.Errorf("%w: ffmpeg at %s has no %s encoder", ErrRecordingInit, s.ff.Path(), pipeCodec)
	}
	if !pipeExtension(path) {
		path += ".mp4"
	}

	proc, err := s.ff.StartEncoder(context.Background(), ffmpeg.EncoderConfig{
		PixelFormat: string(input.FormatBGR24),
		Width:       width,
		Height:      height,
		Framerate:   fps,
		Codec:       pipeCodec,
		Preset:      s.preset,
		OutputPath:  path,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRecordingInit, err)
	}

	s.proc = proc
	s.path = path
	s.width, s.height = width, height
	s.logger.Debug("output: ffmpeg encoder started", "path", path, "size", fmt.Sprintf("%dx%d", width, height), "fps", fps)
	return nil
}

// Confirm waits out the startup grace period and fails when the encoder
// exited within it.
func (s *PipeSink) Confirm() error {
	s.mu.Lock()
	proc, grace := s.proc, s.startupGrace
	s.mu.Unlock()
	if proc == nil {
		return fmt.Errorf("%w: pipe sink not open", ErrRecordingInit)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-proc.Done():
		return fmt.Errorf("%w: encoder exited during startup: %s", ErrEncoderProcess, proc.Stderr())
	case <-timer.C:
		return nil
	}
}

// Write pipes one frame to the encoder
func (s *PipeSink) Write(frame *input.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.proc == nil || s.closed {
		return fmt.Errorf("%w: pipe sink not open", ErrEncoderProcess)
	}
	if frame.Format != input.FormatBGR24 || frame.Width != s.width || frame.Height != s.height {
		return fmt.Errorf("pipe sink: frame %dx%d %s does not match %dx%d bgr24",
			frame.Width, frame.Height, frame.Format, s.width, s.height)
	}
	if s.proc.Exited() {
		return fmt.Errorf("%w: encoder exited: %s", ErrEncoderProcess, s.proc.Stderr())
	}
	if _, err := s.proc.Write(frame.Data); err != nil {
		return fmt.Errorf("%w: %w", ErrEncoderProcess, err)
	}
	s.frames++
	return nil
}

// Close flushes stdin, waits for the encoder within the close timeout and
// kills it when the wait runs out. Safe on a never-opened sink and on
// repeated calls.
func (s *PipeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.proc == nil || s.closed {
		return s.err
	}
	s.closed = true

	if err := s.proc.Close(s.closeTimeout); err != nil {
		s.err = fmt.Errorf("%w: %w", ErrEncoderProcess, err)
		s.logger.Warn("output: ffmpeg encoder failed", "path", s.path, "frames", s.frames, "error", err)
		return s.err
	}
	s.logger.Debug("output: ffmpeg encoder finished", "path", s.path, "frames", s.frames)
	return nil
}

func pipeExtension(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp4", ".mov", ".m4v":
		return true
	}
	return false
}
