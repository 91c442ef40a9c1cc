package encode

import (
	"bytes"
	"errors"
	"fmt"
	"image/jpeg"
	"math"
	"path/filepath"
	"strings"
	"sync"

	"github.com/icza/mjpeg"

	"github.com/video-system/go-frame-recorder/pkg/convert"
	"github.com/video-system/go-frame-recorder/pkg/input"
)

// MJPEGQuality is the JPEG quality used for each AVI frame.
const MJPEGQuality = 85

func init() {
	Register("MJPG", "mjpeg-avi", 10, func() Writer { return NewMJPEGWriter() })
}

// MJPEGWriter writes Motion-JPEG into an AVI container without any native
// dependency. It only produces .avi files.
type MJPEGWriter struct {
	mu     sync.Mutex
	avi    mjpeg.AviWriter
	cfg    Config
	buf    bytes.Buffer
	frames int
}

// NewMJPEGWriter creates an unopened writer
func NewMJPEGWriter() *MJPEGWriter {
	return &MJPEGWriter{}
}

func (w *MJPEGWriter) Name() string  { return "mjpeg-avi" }
func (w *MJPEGWriter) Codec() string { return "MJPG" }

// Open creates the AVI file
func (w *MJPEGWriter) Open(cfg Config) error {
	if !strings.EqualFold(filepath.Ext(cfg.Path), ".avi") {
		return fmt.Errorf("mjpeg writer: container %q not supported", filepath.Ext(cfg.Path))
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("mjpeg writer: invalid size %dx%d", cfg.Width, cfg.Height)
	}
	fps := int32(math.Round(cfg.FPS))
	if fps < 1 {
		fps = 1
	}

	avi, err := mjpeg.New(cfg.Path, int32(cfg.Width), int32(cfg.Height), fps)
	if err != nil {
		return fmt.Errorf("mjpeg writer: create %s: %w", cfg.Path, err)
	}

	w.mu.Lock()
	w.avi = avi
	w.cfg = cfg
	w.mu.Unlock()
	return nil
}

// WriteFrame encodes a BGR frame as JPEG and appends it
func (w *MJPEGWriter) WriteFrame(frame *input.Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.avi == nil {
		return errors.New("mjpeg writer: not open")
	}
	if frame.Format != input.FormatBGR24 {
		return fmt.Errorf("mjpeg writer: %w: %q", convert.ErrUnsupportedPixelLayout, frame.Format)
	}
	if frame.Width != w.cfg.Width || frame.Height != w.cfg.Height {
		return fmt.Errorf("mjpeg writer: frame %dx%d does not match %dx%d",
			frame.Width, frame.Height, w.cfg.Width, w.cfg.Height)
	}

	w.buf.Reset()
	if err := jpeg.Encode(&w.buf, convert.ToImage(frame), &jpeg.Options{Quality: MJPEGQuality}); err != nil {
		return fmt.Errorf("mjpeg writer: encode: %w", err)
	}
	if err := w.avi.AddFrame(w.buf.Bytes()); err != nil {
		return fmt.Errorf("mjpeg writer: add frame: %w", err)
	}
	w.frames++
	return nil
}

// Close finalizes the AVI index. Safe to call more than once.
func (w *MJPEGWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.avi == nil {
		return nil
	}
	err := w.avi.Close()
	w.avi = nil
	return err
}

// Frames returns the number of frames written
func (w *MJPEGWriter) Frames() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frames
}
