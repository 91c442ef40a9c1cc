package gstreamer

import (
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/video-system/go-frame-recorder/pkg/encode"
	"github.com/video-system/go-frame-recorder/pkg/input"
)

// EncoderPriority ranks GStreamer writers above the pure-Go fallbacks
const EncoderPriority = 100

// finishTimeout bounds the wait for EOS when a recording is closed
const finishTimeout = 5 * time.Second

const srcName = "recsrc"

// encoderChains maps a codec fourcc to its encoder and parser elements
var encoderChains = map[string]string{
	"AVC1": "x264enc tune=zerolatency speed-preset=veryfast ! h264parse",
	"MP4V": "avenc_mpeg4 ! mpeg4videoparse",
	"XVID": "avenc_mpeg4 ! mpeg4videoparse",
	"MJPG": "jpegenc quality=85",
}

// muxers maps a container extension to its muxer element
var muxers = map[string]string{
	".mp4": "mp4mux",
	".m4v": "mp4mux",
	".mov": "qtmux",
	".mkv": "matroskamux",
	".avi": "avimux",
}

func init() {
	for codec := range encoderChains {
		codec := codec
		encode.Register(codec, "gst-"+strings.ToLower(codec), EncoderPriority, func() encode.Writer {
			return NewWriter(codec)
		})
	}
}

// Writer records frames through appsrc ! videoconvert ! encoder ! muxer ! filesink
type Writer struct {
	Logger *slog.Logger

	codec string

	mu       sync.Mutex
	pipeline *gst.Pipeline
	src      *app.Source
	cfg      encode.Config
}

// NewWriter creates an unopened writer for a codec fourcc
func NewWriter(codec string) *Writer {
	return &Writer{Logger: slog.Default(), codec: strings.ToUpper(codec)}
}

func (w *Writer) Name() string  { return "gst-" + strings.ToLower(w.codec) }
func (w *Writer) Codec() string { return w.codec }

// WriterLaunch builds the recording launch string for cfg
func WriterLaunch(codec string, cfg encode.Config) (string, error) {
	chain, ok := encoderChains[strings.ToUpper(codec)]
	if !ok {
		return "", fmt.Errorf("gstreamer: no encoder for codec %s", codec)
	}
	mux, ok := muxers[strings.ToLower(filepath.Ext(cfg.Path))]
	if !ok {
		return "", fmt.Errorf("gstreamer: no muxer for %q", filepath.Ext(cfg.Path))
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.FPS <= 0 {
		return "", fmt.Errorf("gstreamer: invalid geometry %dx%d@%.2f", cfg.Width, cfg.Height, cfg.FPS)
	}

	caps := fmt.Sprintf("video/x-raw,format=BGR,width=%d,height=%d,framerate=%d/1000",
		cfg.Width, cfg.Height, int(math.Round(cfg.FPS*1000)))

	return fmt.Sprintf(`appsrc name=%s is-live=true do-timestamp=true format=time caps="%s" ! videoconvert ! %s ! %s ! filesink location=%s`,
		srcName, caps, chain, mux, quote(cfg.Path)), nil
}

// Open builds and starts the recording pipeline
func (w *Writer) Open(cfg encode.Config) error {
	launch, err := WriterLaunch(w.codec, cfg)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pipeline != nil {
		return fmt.Errorf("gstreamer: writer already open")
	}

	pipeline, err := buildPipeline(launch)
	if err != nil {
		return err
	}
	elem, err := pipeline.GetElementByName(srcName)
	if err != nil || elem == nil {
		stopPipeline(pipeline, w.Logger)
		return fmt.Errorf("gstreamer: recording pipeline has no appsrc")
	}
	if err := startPipeline(pipeline, StartTimeout); err != nil {
		stopPipeline(pipeline, w.Logger)
		return err
	}

	w.pipeline = pipeline
	w.src = app.SrcFromElement(elem)
	w.cfg = cfg
	w.Logger.Debug("gstreamer: recording pipeline started", "path", cfg.Path, "codec", w.codec)
	return nil
}

// WriteFrame pushes one BGR frame into the pipeline
func (w *Writer) WriteFrame(frame *input.Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.src == nil {
		return fmt.Errorf("gstreamer: writer not open")
	}
	if frame.Format != input.FormatBGR24 || frame.Width != w.cfg.Width || frame.Height != w.cfg.Height {
		return fmt.Errorf("gstreamer: frame %dx%d %s does not match %dx%d bgr24",
			frame.Width, frame.Height, frame.Format, w.cfg.Width, w.cfg.Height)
	}

	data := make([]byte, len(frame.Data))
	copy(data, frame.Data)
	if ret := w.src.PushBuffer(gst.NewBufferFromBytes(data)); ret != gst.FlowOK {
		return fmt.Errorf("gstreamer: push buffer: %v", ret)
	}
	return w.pollError()
}

// pollError surfaces an error already posted on the bus. Caller holds w.mu.
func (w *Writer) pollError() error {
	msg := w.pipeline.GetPipelineBus().TimedPop(0)
	if msg != nil && msg.Type() == gst.MessageError {
		return fmt.Errorf("gstreamer: %s", msg.ParseError().Error())
	}
	return nil
}

// Close sends end-of-stream, waits for the muxer to finalize the file and
// tears the pipeline down. Safe to call more than once.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pipeline == nil {
		return nil
	}
	pipeline, src := w.pipeline, w.src
	w.pipeline, w.src = nil, nil
	defer stopPipeline(pipeline, w.Logger)

	src.EndStream()

	bus := pipeline.GetPipelineBus()
	deadline := time.Now().Add(finishTimeout)
	for time.Now().Before(deadline) {
		msg := bus.TimedPop(busPollInterval)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageEOS:
			return nil
		case gst.MessageError:
			return fmt.Errorf("gstreamer: finalize %s: %s", w.cfg.Path, msg.ParseError().Error())
		}
	}
	return fmt.Errorf("gstreamer: finalize %s: no EOS within %s", w.cfg.Path, finishTimeout)
}
